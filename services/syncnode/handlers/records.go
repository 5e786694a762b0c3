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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
	"github.com/AleutianAI/archipelago/services/syncnode/discovery"
	"github.com/AleutianAI/archipelago/services/syncnode/engine"
	"github.com/AleutianAI/archipelago/services/syncnode/storage"
)

// defaultSearchLimit applies when a search request carries no limit.
const defaultSearchLimit = 10

// PublishRecord handles POST /v1/records, the path by which this node's
// own records enter its store and become discoverable.
//
// # Description
//
// Validates the envelope (same rules the sync path enforces on foreign
// records), stores the payload under its soul, registers the soul in
// the per-type registry index peers poll, and pushes an announce frame
// to connected gossip subscribers. Publishing different content under
// an existing soul is a 409: souls never change.
func PublishRecord(store *storage.RegistryStore, hub *discovery.Hub, backend, nodeID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.PublishRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.EnsureDefaults()

		if raw, err := json.Marshal(req.Payload); err != nil || len(raw) > datatypes.MaxPayloadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload exceeds size limit"})
			return
		}

		verdict := engine.ValidateRecord(req.Payload)
		if !verdict.Valid {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record envelope: " + verdict.Reason})
			return
		}

		if err := store.PutRecord(c.Request.Context(), req.Soul, req.Payload); err != nil {
			if errors.Is(err, storage.ErrImmutableConflict) {
				c.JSON(http.StatusConflict, gin.H{"error": "soul already assigned to different content"})
				return
			}
			slog.Error("Record store failed", "soul", req.Soul, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store record"})
			return
		}

		entry := datatypes.RegistryIndexEntry{
			Soul:      req.Soul,
			NodeID:    nodeID,
			Timestamp: time.Now().UnixMilli(),
		}
		if err := store.AppendIndexEntry(req.RecordType, entry); err != nil {
			slog.Error("Registry registration failed", "soul", req.Soul, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register record"})
			return
		}

		announced := false
		if hub != nil {
			hub.Broadcast(datatypes.AnnounceFrame{
				Action:     datatypes.AnnounceActionRecord,
				Soul:       req.Soul,
				RecordType: req.RecordType,
				NodeID:     nodeID,
				Encrypted:  req.Encrypted,
				Payload:    req.Payload,
			})
			announced = true
		}

		slog.Info("Record published",
			"soul", req.Soul, "record_type", req.RecordType, "encrypted", req.Encrypted)

		c.JSON(http.StatusCreated, datatypes.PublishResponse{
			Soul:       req.Soul,
			DID:        datatypes.DID(backend, req.Soul),
			RecordType: req.RecordType,
			Announced:  announced,
		})
	}
}

// SearchRecords handles GET /v1/records/search?q=&type=&limit=, the
// passthrough to the durable index's search contract.
func SearchRecords(indexer *engine.Indexer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SearchRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters: " + err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Limit == 0 {
			req.Limit = defaultSearchLimit
		}

		hits, err := indexer.Search(c.Request.Context(), req.Query, req.RecordType, req.Limit)
		if err != nil {
			slog.Error("Search failed", "query", req.Query, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
			return
		}

		c.JSON(http.StatusOK, datatypes.SearchResponse{Count: len(hits), Results: hits})
	}
}
