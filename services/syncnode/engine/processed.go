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

import "sync"

// ProcessedSet tracks identifiers already handled in the current memory
// epoch.
//
// # Description
//
// A conservative in-memory cache, not a source of truth: absence never
// implies a record is missing from the durable index, and the set may be
// cleared at any time without correctness loss. An identifier is added only
// after a confirmed durable state (a successful index write or a confirmed
// pre-existing document), so clearing only costs re-verification.
//
// # Thread Safety
//
// Safe for concurrent use.
type ProcessedSet struct {
	mu    sync.RWMutex
	souls map[string]struct{}
}

// NewProcessedSet creates an empty ProcessedSet.
func NewProcessedSet() *ProcessedSet {
	return &ProcessedSet{souls: make(map[string]struct{})}
}

// Add marks an identifier as processed.
func (p *ProcessedSet) Add(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.souls[id] = struct{}{}
}

// Has reports whether an identifier was already processed this epoch.
func (p *ProcessedSet) Has(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.souls[id]
	return ok
}

// Len returns the number of tracked identifiers.
func (p *ProcessedSet) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.souls)
}

// Clear drops the entire set, starting a new memory epoch.
func (p *ProcessedSet) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.souls = make(map[string]struct{})
}
