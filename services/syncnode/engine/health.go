// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"sync"
	"time"

	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
)

const (
	// ewmaSmoothingFactor weights the newest cycle duration in the
	// moving average: avg = avg*(1-f) + duration*f.
	ewmaSmoothingFactor = 0.3

	// healthyMinSuccessRate is the exclusive success-rate floor, percent.
	healthyMinSuccessRate = 90.0

	// healthyMaxErrors is the exclusive cumulative error ceiling.
	healthyMaxErrors = 10

	// healthyMaxStaleness is how recently a cycle must have completed.
	healthyMaxStaleness = 120 * time.Second
)

// HealthMonitor aggregates rolling metrics over synchronization cycles and
// classifies overall engine health.
//
// # Description
//
// A state-machine-free counter aggregator. Every completed cycle reports its
// discovered/synced/error counts and duration; the monitor accumulates the
// counters, stamps the completion time, and folds the duration into an
// exponentially weighted moving average. Counters persist until Reset() is
// called by an operator.
//
// # Thread Safety
//
// Safe for concurrent use.
type HealthMonitor struct {
	clock Clock

	mu              sync.Mutex
	totalDiscovered int64
	totalSynced     int64
	totalErrors     int64
	syncCycles      int64
	lastSyncTime    time.Time
	averageSyncTime float64
}

// NewHealthMonitor creates a monitor with zeroed counters.
func NewHealthMonitor(clock Clock) *HealthMonitor {
	return &HealthMonitor{clock: clock}
}

// RecordSyncCycle folds one completed cycle into the metrics.
//
// # Description
//
// Accumulates the three counters, increments the cycle count, sets the last
// sync time to now, and updates the duration average. The first observation
// sets the average directly; later observations apply the smoothing factor:
//
//	average = average*0.7 + durationMs*0.3
//
// # Inputs
//
//   - discovered: Records that entered processing this cycle (post-merge).
//   - synced: Records newly written to the durable index.
//   - errors: Validation, translation, and index failures this cycle.
//   - durationMs: Wall-clock cycle duration in milliseconds.
func (h *HealthMonitor) RecordSyncCycle(discovered, synced, errors int, durationMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalDiscovered += int64(discovered)
	h.totalSynced += int64(synced)
	h.totalErrors += int64(errors)
	h.syncCycles++
	h.lastSyncTime = h.clock.Now()

	if h.syncCycles == 1 {
		h.averageSyncTime = durationMs
	} else {
		h.averageSyncTime = h.averageSyncTime*(1-ewmaSmoothingFactor) + durationMs*ewmaSmoothingFactor
	}
}

// Status returns the metrics plus the derived classification.
//
// # Description
//
// The success rate is totalSynced/totalDiscovered as a percentage, defined
// as 100 when nothing has been discovered yet. The engine is healthy when
// the rate is above 90%, fewer than 10 cumulative errors have occurred, and
// the last cycle completed within the staleness window.
func (h *HealthMonitor) Status() datatypes.HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	successRate := 100.0
	if h.totalDiscovered > 0 {
		successRate = float64(h.totalSynced) / float64(h.totalDiscovered) * 100
	}

	var lastSyncMs int64
	if !h.lastSyncTime.IsZero() {
		lastSyncMs = h.lastSyncTime.UnixMilli()
	}

	sinceLast := h.clock.Now().Sub(h.lastSyncTime)
	healthy := successRate > healthyMinSuccessRate &&
		h.totalErrors < healthyMaxErrors &&
		!h.lastSyncTime.IsZero() &&
		sinceLast < healthyMaxStaleness

	return datatypes.HealthStatus{
		HealthMetrics: datatypes.HealthMetrics{
			TotalDiscovered: h.totalDiscovered,
			TotalSynced:     h.totalSynced,
			TotalErrors:     h.totalErrors,
			SyncCycles:      h.syncCycles,
			LastSyncTime:    lastSyncMs,
			AverageSyncTime: h.averageSyncTime,
		},
		SuccessRate: successRate,
		IsHealthy:   healthy,
	}
}

// Reset zeroes all counters and clears the last sync time.
// Only invoked by explicit operator action.
func (h *HealthMonitor) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalDiscovered = 0
	h.totalSynced = 0
	h.totalErrors = 0
	h.syncCycles = 0
	h.lastSyncTime = time.Time{}
	h.averageSyncTime = 0
}
