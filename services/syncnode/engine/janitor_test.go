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
)

// TestCacheJanitor_NoEvictionBeforeMaxAge verifies the set survives while
// the window has not elapsed.
func TestCacheJanitor_NoEvictionBeforeMaxAge(t *testing.T) {
	clock := NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	janitor := NewCacheJanitor(clock, 1*time.Hour)
	set := NewProcessedSet()
	set.Add("did:arch:a")

	clock.Advance(59 * time.Minute)

	if janitor.MaybeEvict(set) {
		t.Error("evicted before max age elapsed")
	}
	if set.Len() != 1 {
		t.Errorf("set should be untouched, len=%d", set.Len())
	}
}

// TestCacheJanitor_EvictsAtMaxAge verifies wholesale eviction at the
// boundary and that the window restarts.
func TestCacheJanitor_EvictsAtMaxAge(t *testing.T) {
	clock := NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	janitor := NewCacheJanitor(clock, 1*time.Hour)
	set := NewProcessedSet()
	set.Add("did:arch:a")
	set.Add("did:arch:b")

	clock.Advance(1 * time.Hour)

	if !janitor.MaybeEvict(set) {
		t.Fatal("expected eviction exactly at max age")
	}
	if set.Len() != 0 {
		t.Errorf("set should be empty after eviction, len=%d", set.Len())
	}

	// Window restarted: an immediate second check must not evict.
	set.Add("did:arch:c")
	if janitor.MaybeEvict(set) {
		t.Error("window did not restart after eviction")
	}
	if set.Len() != 1 {
		t.Errorf("set should keep the new entry, len=%d", set.Len())
	}
}

// TestCacheJanitor_DefaultMaxAge verifies the fallback configuration.
func TestCacheJanitor_DefaultMaxAge(t *testing.T) {
	clock := NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	janitor := NewCacheJanitor(clock, 0)
	set := NewProcessedSet()

	clock.Advance(59 * time.Minute)
	if janitor.MaybeEvict(set) {
		t.Error("default max age should be one hour")
	}

	clock.Advance(1 * time.Minute)
	if !janitor.MaybeEvict(set) {
		t.Error("expected eviction after one hour with default config")
	}
}

// TestCacheJanitor_CacheAge verifies the reported epoch age.
func TestCacheJanitor_CacheAge(t *testing.T) {
	clock := NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	janitor := NewCacheJanitor(clock, 1*time.Hour)

	clock.Advance(25 * time.Minute)

	if got := janitor.CacheAge(); got != 25*time.Minute {
		t.Errorf("CacheAge() = %v, want 25m", got)
	}
}

// TestCacheJanitor_ResetWindow verifies an operator cache clear restarts
// the eviction window without touching the set.
func TestCacheJanitor_ResetWindow(t *testing.T) {
	clock := NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	janitor := NewCacheJanitor(clock, 1*time.Hour)
	set := NewProcessedSet()
	set.Add("did:arch:a")

	clock.Advance(55 * time.Minute)
	janitor.ResetWindow()
	clock.Advance(10 * time.Minute)

	if janitor.MaybeEvict(set) {
		t.Error("window should count from the reset, not construction")
	}
	if set.Len() != 1 {
		t.Error("ResetWindow must not clear the set")
	}
}
