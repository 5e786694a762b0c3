// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/archipelago/services/syncnode/engine"
)

// Metrics contains the pre-defined instruments for the sync node.
//
// Description:
//
//	Counters and histograms covering the discovery cycle, all under the
//	"sync_" prefix. Metrics attaches to the engine as a cycle observer,
//	so every completed cycle lands in the export pipeline.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// SyncCyclesTotal counts completed sync cycles.
	SyncCyclesTotal metric.Int64Counter

	// RecordsDiscoveredTotal counts records surviving the dedupe merge.
	RecordsDiscoveredTotal metric.Int64Counter

	// RecordsSyncedTotal counts documents newly written to the index.
	RecordsSyncedTotal metric.Int64Counter

	// SyncErrorsTotal counts per-unit failures across cycles.
	SyncErrorsTotal metric.Int64Counter

	// SyncCycleDuration records cycle wall time in seconds.
	SyncCycleDuration metric.Float64Histogram

	// ProcessedCacheSize observes the processed-identifier cache size.
	ProcessedCacheSize metric.Int64ObservableGauge
}

// NewMetrics creates a Metrics instance with all instruments registered.
//
// Inputs:
//
//	meter - The OTel meter to register instruments with.
//	cacheSize - Callback observed for the processed-cache gauge. Nil
//	            disables the gauge.
//
// Outputs:
//
//	*Metrics - Instruments ready for use.
//	error - Non-nil if instrument registration fails.
func NewMetrics(meter metric.Meter, cacheSize func() int64) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.SyncCyclesTotal, err = meter.Int64Counter(
		"sync_cycles_total",
		metric.WithDescription("Completed sync cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sync_cycles_total: %w", err)
	}

	m.RecordsDiscoveredTotal, err = meter.Int64Counter(
		"sync_records_discovered_total",
		metric.WithDescription("Records discovered after the dedupe merge"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sync_records_discovered_total: %w", err)
	}

	m.RecordsSyncedTotal, err = meter.Int64Counter(
		"sync_records_synced_total",
		metric.WithDescription("Documents newly written to the search index"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sync_records_synced_total: %w", err)
	}

	m.SyncErrorsTotal, err = meter.Int64Counter(
		"sync_errors_total",
		metric.WithDescription("Per-unit failures during sync cycles"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create sync_errors_total: %w", err)
	}

	m.SyncCycleDuration, err = meter.Float64Histogram(
		"sync_cycle_duration_seconds",
		metric.WithDescription("Sync cycle wall time in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("create sync_cycle_duration: %w", err)
	}

	if cacheSize != nil {
		m.ProcessedCacheSize, err = meter.Int64ObservableGauge(
			"sync_processed_cache_size",
			metric.WithDescription("Identifiers in the processed-record cache"),
			metric.WithUnit("{identifier}"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(cacheSize())
				return nil
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("create sync_processed_cache_size: %w", err)
		}
	}

	return m, nil
}

// ObserveCycle feeds one completed cycle into the instruments.
// Implements the engine's cycle observer contract.
func (m *Metrics) ObserveCycle(ctx context.Context, stats engine.CycleStats) {
	m.SyncCyclesTotal.Add(ctx, 1)
	m.RecordsDiscoveredTotal.Add(ctx, int64(stats.Discovered))
	m.RecordsSyncedTotal.Add(ctx, int64(stats.Synced))
	m.SyncErrorsTotal.Add(ctx, int64(stats.Errors))
	m.SyncCycleDuration.Record(ctx, stats.Duration.Seconds())
}

var _ engine.CycleObserver = (*Metrics)(nil)
