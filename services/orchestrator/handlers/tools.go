// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// dateTimePhrases trigger current-time injection into the system prompt.
// Matching is lowercase substring; local models reliably hallucinate dates
// unless the real one is handed to them.
var dateTimePhrases = []string{
	"current date",
	"current time",
	"today's date",
	"todays date",
	"what day is it",
	"what time is it",
	"what is the date",
	"what is the time",
	"date today",
	"time right now",
}

// wantsCurrentDateTime reports whether the message asks for the current
// date or time.
func wantsCurrentDateTime(message string) bool {
	lowered := strings.ToLower(message)
	for _, phrase := range dateTimePhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

// currentDateTimeLine formats the system-prompt line carrying the real
// current time.
func currentDateTimeLine(now time.Time) string {
	return fmt.Sprintf("The current date and time is %s.",
		now.Format("Monday, January 2, 2006 at 3:04 PM MST"))
}

// CurrentTimeHandler returns the server's current time.
//
// # Description
//
// GET /v1/tools/time. Returns the wall-clock time in RFC 3339 along with
// the zone name, for clients that want to render or verify the time the
// backend injects into prompts.
func CurrentTimeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now()
		zone, offset := now.Zone()
		c.JSON(http.StatusOK, gin.H{
			"time":       now.Format(time.RFC3339),
			"unix_ms":    now.UnixMilli(),
			"zone":       zone,
			"utc_offset": offset,
		})
	}
}
