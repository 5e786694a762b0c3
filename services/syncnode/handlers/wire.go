// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the HTTP handlers of the sync node: the
// peer wire contract, the publish and search paths, and the operator
// sync surface.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/archipelago/pkg/validation"
	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
	"github.com/AleutianAI/archipelago/services/syncnode/storage"
)

// HandleWireGet serves GET /get?soul=<identifier>, the producing side of
// the peer wire contract.
//
// # Description
//
// Answers with the {success, data} envelope peers poll: data is either a
// registry index document or a record payload, depending on the soul.
// An unknown soul is a 404 with {success:false, error:"not found"}, the
// shape pollers classify as "peer has nothing here".
func HandleWireGet(store *storage.RegistryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		soul := c.Query("soul")
		if soul == "" {
			c.JSON(http.StatusBadRequest, datatypes.WireResponse{
				Success: false, Error: "soul parameter is required",
			})
			return
		}
		if err := validation.ValidateSoul(soul); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.WireResponse{
				Success: false, Error: "invalid soul",
			})
			return
		}

		raw, err := store.Get(c.Request.Context(), soul)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				c.JSON(http.StatusNotFound, datatypes.WireResponse{
					Success: false, Error: "not found",
				})
				return
			}
			slog.Error("Wire lookup failed", "soul", soul, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.WireResponse{
				Success: false, Error: "store lookup failed",
			})
			return
		}

		c.JSON(http.StatusOK, datatypes.WireResponse{Success: true, Data: raw})
	}
}
