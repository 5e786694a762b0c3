// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine implements the record synchronization engine of an
// Archipelago node: it discovers records published by peer nodes,
// deduplicates them, normalizes their wire representation, and idempotently
// materializes them into the local search index, while tracking its own
// health and bounding its memory footprint.
package engine

import (
	"sync"
	"time"
)

// Clock supplies the current time to the engine's components.
//
// # Description
//
// The cache janitor, health monitor, and cycle timing all read time through
// this interface so tests can simulate elapsed time deterministically
// instead of sleeping.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// systemClock reads the real system time.
type systemClock struct{}

// SystemClock returns the Clock used in production.
func SystemClock() Clock {
	return systemClock{}
}

// Now returns time.Now().
func (systemClock) Now() time.Time {
	return time.Now()
}

// ManualClock is a Clock whose time only moves when told to.
//
// # Description
//
// Used in tests to step through cache max-age boundaries and health
// staleness windows without real waiting.
//
// # Example
//
//	clock := NewManualClock(time.Unix(1_700_000_000, 0))
//	clock.Advance(2 * time.Hour)
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a ManualClock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's current frozen time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
