// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command syncnode starts an Archipelago sync node.
//
// This is the main entry point for the containerized node. It reads
// configuration from environment variables and runs the server.
//
// # Environment Variables
//
//   - SYNCNODE_PORT: HTTP server port (default: 12220)
//   - SYNCNODE_NODE_ID: node identity, lowercase DNS-label style (required)
//   - RECORD_BACKEND: storage backend tag for identifiers (default: arch)
//   - RECORD_TYPES: comma-separated record-type catalog (default: post,comment,profile)
//   - SYNC_INTERVAL_SECONDS: period between sync cycles (default: 300)
//   - CACHE_MAX_AGE_MINUTES: processed cache eviction age (default: 60)
//   - SYNC_FETCH_WORKERS: record fetch pool size (default: 8)
//   - SYNC_INDEX_FANOUT: concurrent registry index fetches (default: 4)
//   - SYNCNODE_PEERS_FILE: YAML peer registry path (optional)
//   - SYNCNODE_STORE_PATH: registry store directory (default: ./data/registry)
//   - WEAVIATE_SERVICE_URL: durable search index URL (required)
//   - WEAVIATE_CLASS: index class name (default: PublishedRecord)
//   - OTEL_TRACES_EXPORTER / OTEL_METRICS_EXPORTER / OTEL_EXPORTER_OTLP_ENDPOINT:
//     telemetry exporter selection (defaults: none / prometheus / localhost:4317)
//   - INFLUX_URL, INFLUX_TOKEN, INFLUX_ORG, INFLUX_BUCKET: cycle history
//     recording (optional)
//   - GCS_BACKUP_BUCKET, GOOGLE_APPLICATION_CREDENTIALS: registry backups
//     to GCS (optional)
//
// # Usage
//
//	# Build
//	go build -o syncnode ./cmd/syncnode
//
//	# Run
//	SYNCNODE_NODE_ID=node-local WEAVIATE_SERVICE_URL=http://localhost:8080 ./syncnode
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/archipelago/services/syncnode"
)

func main() {
	setupLogging()

	cfg := syncnode.Config{
		Port:         getEnvInt("SYNCNODE_PORT", 12220),
		NodeID:       getEnvString("SYNCNODE_NODE_ID", "node-local"),
		Backend:      getEnvString("RECORD_BACKEND", "arch"),
		RecordTypes:  getEnvList("RECORD_TYPES"),
		SyncInterval: time.Duration(getEnvInt("SYNC_INTERVAL_SECONDS", 0)) * time.Second,
		CacheMaxAge:  time.Duration(getEnvInt("CACHE_MAX_AGE_MINUTES", 0)) * time.Minute,
		FetchWorkers: getEnvInt("SYNC_FETCH_WORKERS", 0),
		IndexFanOut:  getEnvInt("SYNC_INDEX_FANOUT", 0),
		PeersFile:    os.Getenv("SYNCNODE_PEERS_FILE"),
		StorePath:    os.Getenv("SYNCNODE_STORE_PATH"),

		WeaviateURL:   os.Getenv("WEAVIATE_SERVICE_URL"),
		WeaviateClass: os.Getenv("WEAVIATE_CLASS"),

		InfluxURL:    os.Getenv("INFLUX_URL"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    os.Getenv("INFLUX_ORG"),
		InfluxBucket: os.Getenv("INFLUX_BUCKET"),

		BackupBucket:      os.Getenv("GCS_BACKUP_BUCKET"),
		BackupCredentials: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
	}

	slog.Info("Starting sync node",
		"node_id", cfg.NodeID,
		"backend", cfg.Backend,
		"weaviate_url", cfg.WeaviateURL,
		"peers_file", cfg.PeersFile,
	)

	svc, err := syncnode.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create sync node: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Sync node error: %v", err)
	}
}

// setupLogging installs the default slog handler: human-readable text on
// a terminal, JSON when output is captured by a log collector.
// LOG_FORMAT=json forces JSON regardless of the terminal check.
func setupLogging() {
	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") != "json" && isatty.IsTerminal(os.Stdout.Fd()) {
		handler = slog.NewTextHandler(os.Stdout, nil)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}
	slog.SetDefault(slog.New(handler))
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable, dropping
// empty entries. Returns nil when unset.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
