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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/archipelago/services/syncnode/discovery"
)

var announceUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Peers dial from their own hosts; origin checks do not apply
		// to node-to-node streams.
		return true
	},
}

// HandleAnnounceWS upgrades GET /ws/announce and hands the connection to
// the gossip hub, which streams this node's publications until the peer
// disconnects.
func HandleAnnounceWS(hub *discovery.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := announceUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Announce upgrade failed", "error", err, "remote", c.ClientIP())
			return
		}
		hub.Serve(conn)
	}
}
