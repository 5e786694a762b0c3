// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// HealthMetrics holds the cumulative counters maintained across sync cycles.
// Counters only reset through an explicit operator action.
type HealthMetrics struct {
	TotalDiscovered int64 `json:"totalDiscovered"`
	TotalSynced     int64 `json:"totalSynced"`
	TotalErrors     int64 `json:"totalErrors"`
	SyncCycles      int64 `json:"syncCycles"`

	// LastSyncTime is the completion time of the most recent cycle,
	// Unix milliseconds. Zero before the first cycle.
	LastSyncTime int64 `json:"lastSyncTime"`

	// AverageSyncTime is the exponentially weighted moving average of
	// cycle durations in milliseconds.
	AverageSyncTime float64 `json:"averageSyncTime"`
}

// HealthStatus is HealthMetrics plus the derived classification.
type HealthStatus struct {
	HealthMetrics

	// SuccessRate is synced/discovered as a percentage. Defined as 100
	// when nothing has been discovered.
	SuccessRate float64 `json:"successRate"`

	// IsHealthy is true when the success rate is above 90%, fewer than 10
	// cumulative errors have occurred, and a cycle completed within the
	// last two minutes.
	IsHealthy bool `json:"isHealthy"`
}

// MemoryUsage is a point-in-time snapshot of process memory pressure,
// reported on the status endpoint.
type MemoryUsage struct {
	HeapAllocBytes uint64 `json:"heapAllocBytes"`
	HeapObjects    uint64 `json:"heapObjects"`
	NumGoroutine   int    `json:"numGoroutine"`
}

// SyncStatusResponse is returned by GET /v1/sync/status.
type SyncStatusResponse struct {
	Running         bool         `json:"running"`
	SyncIntervalMs  int64        `json:"syncIntervalMs"`
	ProcessedCount  int          `json:"processedCount"`
	Health          HealthStatus `json:"health"`
	MemoryUsage     MemoryUsage  `json:"memoryUsage"`
	CacheAgeMinutes float64      `json:"cacheAgeMinutes"`
}
