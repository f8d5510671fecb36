// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWantsCurrentDateTime(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"What time is it?", true},
		{"what is the current date in Tokyo", true},
		{"Tell me today's date please", true},
		{"WHAT DAY IS IT", true},
		{"explain goroutines", false},
		{"the dates in this dataset are wrong", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, wantsCurrentDateTime(tt.message))
		})
	}
}

func TestCurrentDateTimeLine(t *testing.T) {
	now := time.Date(2025, time.March, 14, 15, 4, 0, 0, time.UTC)

	line := currentDateTimeLine(now)

	assert.Contains(t, line, "Friday, March 14, 2025")
	assert.Contains(t, line, "3:04 PM")
}

func TestCurrentTimeHandler(t *testing.T) {
	router := gin.New()
	router.GET("/v1/tools/time", CurrentTimeHandler())

	req, _ := http.NewRequest("GET", "/v1/tools/time", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	timeStr, ok := resp["time"].(string)
	require.True(t, ok, "time field should be a string")
	_, err := time.Parse(time.RFC3339, timeStr)
	assert.NoError(t, err, "time should be RFC 3339")
	assert.Contains(t, resp, "unix_ms")
	assert.Contains(t, resp, "zone")
}
