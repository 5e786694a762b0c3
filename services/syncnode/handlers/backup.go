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
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/archipelago/services/syncnode/backup"
	"github.com/AleutianAI/archipelago/services/syncnode/storage"
)

// HandleRegistryBackup handles POST /v1/registry/backup: streams a full
// snapshot of the registry store into the configured GCS bucket.
//
// Without a configured bucket the endpoint answers 503; backups are an
// opt-in deployment feature.
func HandleRegistryBackup(store *storage.RegistryStore, uploader *backup.Uploader, nodeID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if uploader == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backup is not configured"})
			return
		}

		objectName := fmt.Sprintf("registry/%s/%s.badger.bak",
			nodeID, time.Now().UTC().Format("2006-01-02T15-04-05Z"))

		start := time.Now()
		err := uploader.Upload(c.Request.Context(), objectName, func(w io.Writer) error {
			_, backupErr := store.Backup(c.Request.Context(), w)
			return backupErr
		})
		if err != nil {
			slog.Error("Registry backup failed", "object", objectName, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "backup failed"})
			return
		}

		slog.Info("Registry backup uploaded",
			"bucket", uploader.Bucket(),
			"object", objectName,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		c.JSON(http.StatusOK, gin.H{
			"bucket": uploader.Bucket(),
			"object": objectName,
		})
	}
}
