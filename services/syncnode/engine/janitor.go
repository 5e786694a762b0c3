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
	"log/slog"
	"sync"
	"time"
)

// DefaultCacheMaxAge bounds how long the ProcessedSet may grow before it is
// dropped wholesale.
const DefaultCacheMaxAge = 1 * time.Hour

// CacheJanitor evicts the ProcessedSet after a configurable age.
//
// # Description
//
// The only eviction policy is wholesale: when the set's age reaches the
// configured maximum, the entire cache is dropped at once. There is no
// per-entry TTL and no LRU. This trades precision for simplicity, relying
// on the indexer's existence check to absorb the re-verification cost of
// cleared entries.
//
// # Thread Safety
//
// Safe for concurrent use.
type CacheJanitor struct {
	clock  Clock
	maxAge time.Duration

	mu            sync.Mutex
	lastClearTime time.Time
}

// NewCacheJanitor creates a janitor with the given max age.
// A zero or negative maxAge falls back to DefaultCacheMaxAge. The age
// window starts at construction time.
func NewCacheJanitor(clock Clock, maxAge time.Duration) *CacheJanitor {
	if maxAge <= 0 {
		maxAge = DefaultCacheMaxAge
	}
	return &CacheJanitor{
		clock:         clock,
		maxAge:        maxAge,
		lastClearTime: clock.Now(),
	}
}

// MaybeEvict clears the set if the age window has elapsed.
//
// # Description
//
// Called at the top of every sync cycle. Returns true when the set was
// dropped, which also restarts the age window.
func (j *CacheJanitor) MaybeEvict(set *ProcessedSet) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.clock.Now()
	if now.Sub(j.lastClearTime) < j.maxAge {
		return false
	}

	evicted := set.Len()
	set.Clear()
	j.lastClearTime = now

	slog.Info("Processed-record cache evicted",
		"entries_dropped", evicted,
		"max_age", j.maxAge.String(),
	)
	return true
}

// CacheAge returns how long the current cache epoch has been accumulating.
func (j *CacheJanitor) CacheAge() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.clock.Now().Sub(j.lastClearTime)
}

// ResetWindow restarts the age window without touching the set.
// Used when an operator clears the cache explicitly.
func (j *CacheJanitor) ResetWindow() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastClearTime = j.clock.Now()
}
