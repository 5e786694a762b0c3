// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/archipelago/services/syncnode/engine"
)

// HealthCheck answers liveness probes.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "syncnode"})
}

// SyncStatus handles GET /v1/sync/status: the operator view of the
// engine, its health classification, and its memory pressure.
func SyncStatus(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, eng.Status())
	}
}

// ForceSync handles POST /v1/sync/force: runs one cycle immediately,
// outside the timer's schedule.
func ForceSync(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := eng.ForceSync(c.Request.Context())
		if err != nil {
			switch {
			case errors.Is(err, engine.ErrNotRunning):
				c.JSON(http.StatusConflict, gin.H{"error": "sync engine is not running"})
			case errors.Is(err, engine.ErrCycleInProgress):
				c.JSON(http.StatusConflict, gin.H{"error": "a sync cycle is already in progress"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"discovered": stats.Discovered,
			"synced":     stats.Synced,
			"errors":     stats.Errors,
			"durationMs": stats.Duration.Milliseconds(),
		})
	}
}

// ClearCache handles DELETE /v1/sync/cache: drops the processed cache.
// Cleared identifiers are re-verified against the durable index before
// any re-indexing, so this is always safe.
func ClearCache(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		cleared := eng.ClearCache()
		c.JSON(http.StatusOK, gin.H{"cleared": cleared})
	}
}

// ResetHealth handles POST /v1/sync/health/reset: zeroes the cumulative
// health counters. Explicit operator action only.
func ResetHealth(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		eng.ResetHealth()
		c.JSON(http.StatusOK, gin.H{"status": "reset"})
	}
}
