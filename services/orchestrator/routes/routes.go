// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/halcyonworks/harborchat/services/orchestrator/handlers"
	"github.com/halcyonworks/harborchat/services/orchestrator/services"
)

// SetupRoutes wires the HTTP surface onto the router.
func SetupRoutes(
	router *gin.Engine,
	client *weaviate.Client,
	chatHandler handlers.ChatHandler,
	embedder *services.EmbeddingClient,
	uploadDir string,
) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/chat", chatHandler.HandleChat)
		v1.POST("/chat/stream", chatHandler.HandleChatStream)
		v1.GET("/tools/time", handlers.CurrentTimeHandler())

		conversations := v1.Group("/conversations")
		{
			conversations.POST("", handlers.CreateConversationHandler(client))
			conversations.GET("", handlers.ListConversationsHandler(client))
			conversations.GET("/:conversationId", handlers.GetConversationHandler(client))
			conversations.DELETE("/:conversationId", handlers.DeleteConversationHandler(client))
			conversations.PUT("/:conversationId/settings", handlers.UpdateSettingsHandler(client))
			conversations.GET("/:conversationId/messages", handlers.ListMessagesHandler(client))
			conversations.POST("/:conversationId/documents", handlers.UploadDocumentHandler(client, embedder, uploadDir))
			conversations.GET("/:conversationId/documents", handlers.ListDocumentsHandler(client))
		}
	}
}
