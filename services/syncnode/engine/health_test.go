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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestMonitor() (*HealthMonitor, *ManualClock) {
	clock := NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewHealthMonitor(clock), clock
}

// =============================================================================
// Moving Average Tests
// =============================================================================

func TestHealthMonitor_FirstObservationSetsAverageDirectly(t *testing.T) {
	monitor, _ := newTestMonitor()

	monitor.RecordSyncCycle(5, 5, 0, 100)

	status := monitor.Status()
	assert.Equal(t, 100.0, status.AverageSyncTime)
	assert.Equal(t, int64(1), status.SyncCycles)
}

func TestHealthMonitor_MovingAverage(t *testing.T) {
	monitor, _ := newTestMonitor()

	monitor.RecordSyncCycle(5, 5, 0, 100)
	monitor.RecordSyncCycle(5, 5, 0, 200)

	// 100*0.7 + 200*0.3 = 130
	status := monitor.Status()
	assert.InDelta(t, 130.0, status.AverageSyncTime, 0.0001)
}

func TestHealthMonitor_AccumulatesCounters(t *testing.T) {
	monitor, _ := newTestMonitor()

	monitor.RecordSyncCycle(10, 8, 2, 50)
	monitor.RecordSyncCycle(4, 4, 0, 50)

	status := monitor.Status()
	assert.Equal(t, int64(14), status.TotalDiscovered)
	assert.Equal(t, int64(12), status.TotalSynced)
	assert.Equal(t, int64(2), status.TotalErrors)
	assert.Equal(t, int64(2), status.SyncCycles)
}

// =============================================================================
// Classification Tests
// =============================================================================

func TestHealthMonitor_SuccessRateDefinedWithoutDiscoveries(t *testing.T) {
	monitor, _ := newTestMonitor()

	monitor.RecordSyncCycle(0, 0, 0, 10)

	status := monitor.Status()
	assert.Equal(t, 100.0, status.SuccessRate)
	assert.True(t, status.IsHealthy)
}

func TestHealthMonitor_HealthyAfterCleanCycle(t *testing.T) {
	monitor, _ := newTestMonitor()

	monitor.RecordSyncCycle(20, 20, 0, 80)

	status := monitor.Status()
	assert.Equal(t, 100.0, status.SuccessRate)
	assert.True(t, status.IsHealthy)
}

func TestHealthMonitor_UnhealthyAtErrorCeiling(t *testing.T) {
	monitor, _ := newTestMonitor()

	monitor.RecordSyncCycle(100, 100, 9, 80)
	assert.True(t, monitor.Status().IsHealthy, "9 errors should still be healthy")

	monitor.RecordSyncCycle(100, 100, 1, 80)
	assert.False(t, monitor.Status().IsHealthy, "10 errors should be unhealthy")
}

func TestHealthMonitor_UnhealthyAtSuccessRateFloor(t *testing.T) {
	monitor, _ := newTestMonitor()

	// 90/100 = exactly 90%, which does not clear the >90 bar.
	monitor.RecordSyncCycle(100, 90, 0, 80)

	status := monitor.Status()
	assert.Equal(t, 90.0, status.SuccessRate)
	assert.False(t, status.IsHealthy)
}

func TestHealthMonitor_UnhealthyWhenStale(t *testing.T) {
	monitor, clock := newTestMonitor()

	monitor.RecordSyncCycle(5, 5, 0, 80)
	assert.True(t, monitor.Status().IsHealthy)

	clock.Advance(119 * time.Second)
	assert.True(t, monitor.Status().IsHealthy, "within the staleness window")

	clock.Advance(2 * time.Second)
	assert.False(t, monitor.Status().IsHealthy, "121s since last cycle")
}

func TestHealthMonitor_UnhealthyBeforeFirstCycle(t *testing.T) {
	monitor, _ := newTestMonitor()

	status := monitor.Status()
	assert.Equal(t, 100.0, status.SuccessRate)
	assert.False(t, status.IsHealthy, "no cycle has ever completed")
	assert.Equal(t, int64(0), status.LastSyncTime)
}

// =============================================================================
// Reset Tests
// =============================================================================

func TestHealthMonitor_ResetZeroesEverything(t *testing.T) {
	monitor, _ := newTestMonitor()

	monitor.RecordSyncCycle(10, 5, 3, 100)
	monitor.Reset()

	status := monitor.Status()
	assert.Equal(t, int64(0), status.TotalDiscovered)
	assert.Equal(t, int64(0), status.TotalSynced)
	assert.Equal(t, int64(0), status.TotalErrors)
	assert.Equal(t, int64(0), status.SyncCycles)
	assert.Equal(t, int64(0), status.LastSyncTime)
	assert.Equal(t, 0.0, status.AverageSyncTime)
}

func TestHealthMonitor_FirstCycleAfterResetSetsAverageDirectly(t *testing.T) {
	monitor, _ := newTestMonitor()

	monitor.RecordSyncCycle(5, 5, 0, 400)
	monitor.Reset()
	monitor.RecordSyncCycle(5, 5, 0, 60)

	assert.Equal(t, 60.0, monitor.Status().AverageSyncTime)
}
