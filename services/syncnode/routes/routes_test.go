// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func routeSet(router *gin.Engine) map[string]bool {
	set := make(map[string]bool)
	for _, route := range router.Routes() {
		set[route.Method+" "+route.Path] = true
	}
	return set
}

func TestSetupRoutes(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Dependencies{
		MetricsHandler: http.NotFoundHandler(),
		NodeID:         "node-self",
		Backend:        "arch",
	})

	registered := routeSet(router)
	for _, want := range []string{
		"GET /health",
		"GET /get",
		"GET /ws/announce",
		"GET /metrics",
		"POST /v1/records",
		"GET /v1/records/search",
		"GET /v1/sync/status",
		"POST /v1/sync/force",
		"DELETE /v1/sync/cache",
		"POST /v1/sync/health/reset",
		"POST /v1/registry/backup",
	} {
		assert.True(t, registered[want], "missing route %s", want)
	}
}

func TestSetupRoutes_MetricsOptional(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Dependencies{NodeID: "node-self", Backend: "arch"})

	assert.False(t, routeSet(router)["GET /metrics"])
}

// The unconfigured backup endpoint must answer 503, not panic.
func TestSetupRoutes_BackupUnconfigured(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Dependencies{NodeID: "node-self", Backend: "arch"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/registry/backup", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
