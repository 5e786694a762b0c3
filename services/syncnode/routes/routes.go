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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/archipelago/services/syncnode/backup"
	"github.com/AleutianAI/archipelago/services/syncnode/discovery"
	"github.com/AleutianAI/archipelago/services/syncnode/engine"
	"github.com/AleutianAI/archipelago/services/syncnode/handlers"
	"github.com/AleutianAI/archipelago/services/syncnode/storage"
)

// Dependencies carries everything the route handlers close over.
type Dependencies struct {
	Engine  *engine.Engine
	Indexer *engine.Indexer
	Store   *storage.RegistryStore
	Hub     *discovery.Hub

	// Uploader may be nil; the backup endpoint then answers 503.
	Uploader *backup.Uploader

	// MetricsHandler serves GET /metrics. Nil disables the route.
	MetricsHandler http.Handler

	NodeID  string
	Backend string
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HealthCheck)

	// Peer-facing wire surface. Unversioned on purpose: every node in the
	// network polls GET /get and dials /ws/announce regardless of release.
	router.GET("/get", handlers.HandleWireGet(deps.Store))
	router.GET(discovery.AnnouncePath, handlers.HandleAnnounceWS(deps.Hub))

	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/records", handlers.PublishRecord(deps.Store, deps.Hub, deps.Backend, deps.NodeID))
		v1.GET("/records/search", handlers.SearchRecords(deps.Indexer))

		sync := v1.Group("/sync")
		{
			sync.GET("/status", handlers.SyncStatus(deps.Engine))
			sync.POST("/force", handlers.ForceSync(deps.Engine))
			sync.DELETE("/cache", handlers.ClearCache(deps.Engine))
			sync.POST("/health/reset", handlers.ResetHealth(deps.Engine))
		}

		registry := v1.Group("/registry")
		{
			registry.POST("/backup", handlers.HandleRegistryBackup(deps.Store, deps.Uploader, deps.NodeID))
		}
	}
}
