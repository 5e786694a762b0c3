// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history records per-cycle sync statistics into InfluxDB, one
// point per completed cycle, for long-horizon dashboards that outlive
// the Prometheus scrape window.
package history

import (
	"context"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/AleutianAI/archipelago/services/syncnode/engine"
)

// measurement is the InfluxDB measurement name for cycle points.
const measurement = "sync_cycle"

// Config holds the InfluxDB connection settings for the recorder.
type Config struct {
	// URL is the InfluxDB base URL, e.g. "http://influxdb:8086".
	URL string

	// Token authenticates writes.
	Token string

	// Org is the InfluxDB organization. Default: "archipelago".
	Org string

	// Bucket receives the cycle points. Default: "sync-history".
	Bucket string

	// NodeID and Backend tag every point.
	NodeID  string
	Backend string
}

// Recorder writes one point per completed sync cycle.
//
// # Description
//
// Attaches to the engine as a cycle observer. A write failure is logged
// and dropped; history is best-effort and must never count against a
// cycle or slow it beyond the blocking write itself.
type Recorder struct {
	client  influxdb2.Client
	write   api.WriteAPIBlocking
	nodeID  string
	backend string
}

// NewRecorder connects a Recorder to InfluxDB.
func NewRecorder(cfg Config) *Recorder {
	if cfg.Org == "" {
		cfg.Org = "archipelago"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "sync-history"
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Recorder{
		client:  client,
		write:   client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		nodeID:  cfg.NodeID,
		backend: cfg.Backend,
	}
}

// ObserveCycle writes one cycle's statistics as a point.
func (r *Recorder) ObserveCycle(ctx context.Context, stats engine.CycleStats) {
	point := influxdb2.NewPoint(
		measurement,
		map[string]string{
			"node":    r.nodeID,
			"backend": r.backend,
		},
		map[string]interface{}{
			"discovered":  stats.Discovered,
			"synced":      stats.Synced,
			"errors":      stats.Errors,
			"duration_ms": stats.Duration.Milliseconds(),
		},
		time.Now(),
	)

	if err := r.write.WritePoint(ctx, point); err != nil {
		slog.Warn("Cycle history write failed", "error", err)
	}
}

// Close flushes and closes the InfluxDB client.
func (r *Recorder) Close() {
	r.client.Close()
}

var _ engine.CycleObserver = (*Recorder)(nil)
