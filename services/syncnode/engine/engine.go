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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
)

// DefaultSyncInterval is the period between scheduled sync cycles.
const DefaultSyncInterval = 5 * time.Minute

var (
	// ErrNotRunning is returned by ForceSync when the engine is stopped.
	ErrNotRunning = errors.New("sync engine is not running")

	// ErrCycleInProgress is returned when a cycle is requested while
	// another cycle still holds the busy guard.
	ErrCycleInProgress = errors.New("sync cycle already in progress")
)

// DiscoverySource is the secondary discovery collaborator. Collect
// drains the records that arrived since the last call; the gossip
// subscriber is the production implementation, and it is the only path
// that carries encrypted records.
type DiscoverySource interface {
	Collect(ctx context.Context) []datatypes.DiscoveredRecord
}

// CycleObserver receives the statistics of each completed sync cycle.
// Metrics and cycle-history sinks attach through this.
type CycleObserver interface {
	ObserveCycle(ctx context.Context, stats CycleStats)
}

// CycleStats summarizes one sync cycle.
type CycleStats struct {
	// Discovered is the record count after the dedupe merge.
	Discovered int

	// Synced is the count of documents newly written to the durable
	// index this cycle. Already-present documents are not counted.
	Synced int

	// Errors is the per-unit failure count: failed fetches, validation
	// rejections, and index write failures.
	Errors int

	// Duration is the wall time of the cycle.
	Duration time.Duration
}

// Config holds the engine tunables.
type Config struct {
	// Backend is the storage backend tag of this node.
	Backend string

	// NodeID identifies this node in registry entries and provenance.
	NodeID string

	// SyncInterval is the period between scheduled cycles.
	// Zero means DefaultSyncInterval.
	SyncInterval time.Duration
}

// Dependencies carries the collaborators an Engine composes.
// Poller, Indexer, Translator, Processed, Janitor, and Health are
// required; the rest are optional.
type Dependencies struct {
	Poller     *Poller
	Indexer    *Indexer
	Translator *Translator
	Processed  *ProcessedSet
	Janitor    *CacheJanitor
	Health     *HealthMonitor

	// Migrator backfills the registry once. Nil disables migration.
	Migrator *Migrator

	// Discovery is the secondary record source. Nil means poll-only.
	Discovery DiscoverySource

	// Observer receives completed-cycle statistics. Nil means none.
	Observer CycleObserver

	// Clock overrides time for tests. Nil means system time.
	Clock Clock
}

// Engine drives the synchronization lifecycle of a node.
//
// # Description
//
// Start runs the registry migration once, executes one synchronous
// cycle, transitions to running, and arms a periodic timer. Stop
// cancels the timer; an in-flight cycle completes on its own. ForceSync
// runs one cycle immediately, independent of the timer.
//
// Scheduled and forced cycles share a busy guard; when a cycle is still
// executing as the next one is due, the new cycle is skipped rather
// than overlapped, so the processed cache and health counters are only
// ever mutated by one cycle at a time.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
type Engine struct {
	cfg  Config
	deps Dependencies

	clock Clock
	done  chan struct{}

	mu       sync.Mutex
	running  bool
	starting bool
	migrated bool

	busy atomic.Bool
}

// New creates an Engine with defaults applied.
func New(cfg Config, deps Dependencies) (*Engine, error) {
	switch {
	case deps.Poller == nil:
		return nil, fmt.Errorf("engine requires a poller")
	case deps.Indexer == nil:
		return nil, fmt.Errorf("engine requires an indexer")
	case deps.Translator == nil:
		return nil, fmt.Errorf("engine requires a translator")
	case deps.Processed == nil:
		return nil, fmt.Errorf("engine requires a processed set")
	case deps.Janitor == nil:
		return nil, fmt.Errorf("engine requires a cache janitor")
	case deps.Health == nil:
		return nil, fmt.Errorf("engine requires a health monitor")
	}

	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock()
	}

	return &Engine{
		cfg:   cfg,
		deps:  deps,
		clock: clock,
		done:  make(chan struct{}),
	}, nil
}

// Start brings the engine up.
//
// # Description
//
// Runs the registry migration (first successful run only), executes one
// synchronous sync cycle, transitions to running, and arms the periodic
// timer. A migration failure aborts the start and leaves the engine
// stopped. Calling Start on a running engine is a no-op with a warning.
//
// The context governs the scheduling loop: cancelling it stops the
// engine as if Stop had been called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		slog.Warn("Sync engine start ignored, already running")
		return nil
	}
	if e.starting {
		e.mu.Unlock()
		slog.Warn("Sync engine start ignored, startup in progress")
		return nil
	}
	e.starting = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.starting = false
		e.mu.Unlock()
	}()

	if err := e.runMigration(ctx); err != nil {
		return fmt.Errorf("registry migration: %w", err)
	}

	// First cycle runs before the engine reports running, so a status
	// probe right after Start reflects a completed cycle.
	if _, err := e.runCycleGuarded(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
		return err
	}

	e.mu.Lock()
	e.running = true
	e.done = make(chan struct{}) // reset for restart
	e.mu.Unlock()

	slog.Info("Sync engine started",
		"node_id", e.cfg.NodeID,
		"backend", e.cfg.Backend,
		"interval", e.cfg.SyncInterval.String(),
	)

	go e.runLoop(ctx)
	return nil
}

// Stop cancels the scheduling timer.
//
// # Description
//
// Transitions the engine to stopped. An in-flight cycle is not
// interrupted; it completes and still updates the processed cache and
// health counters. Calling Stop on a stopped engine is a no-op with a
// warning.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		slog.Warn("Sync engine stop ignored, not running")
		return
	}

	slog.Info("Sync engine stopping")
	close(e.done)
	e.running = false
}

// ForceSync runs one cycle immediately, independent of the timer.
//
// # Outputs
//
//   - CycleStats: The completed cycle's statistics.
//   - error: ErrNotRunning when stopped, ErrCycleInProgress when a
//     cycle already holds the busy guard.
func (e *Engine) ForceSync(ctx context.Context) (CycleStats, error) {
	if !e.Running() {
		return CycleStats{}, ErrNotRunning
	}
	return e.runCycleGuarded(ctx)
}

// Running reports whether the engine is started.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Status reports the operator-facing view of the engine.
func (e *Engine) Status() datatypes.SyncStatusResponse {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return datatypes.SyncStatusResponse{
		Running:        e.Running(),
		SyncIntervalMs: e.cfg.SyncInterval.Milliseconds(),
		ProcessedCount: e.deps.Processed.Len(),
		Health:         e.deps.Health.Status(),
		MemoryUsage: datatypes.MemoryUsage{
			HeapAllocBytes: memStats.HeapAlloc,
			HeapObjects:    memStats.HeapObjects,
			NumGoroutine:   runtime.NumGoroutine(),
		},
		CacheAgeMinutes: e.deps.Janitor.CacheAge().Minutes(),
	}
}

// ClearCache drops the processed cache and restarts the janitor's
// eviction window. Returns the number of entries dropped. Safe at any
// time; cleared identifiers are re-verified against the durable index
// before any re-indexing.
func (e *Engine) ClearCache() int {
	count := e.deps.Processed.Len()
	e.deps.Processed.Clear()
	e.deps.Janitor.ResetWindow()
	slog.Info("Processed cache cleared by operator", "entries", count)
	return count
}

// ResetHealth zeroes the health counters. Operator action only.
func (e *Engine) ResetHealth() {
	e.deps.Health.Reset()
	slog.Info("Health counters reset by operator")
}

// =============================================================================
// Internal Methods
// =============================================================================

// runMigration executes the registry backfill if it has not succeeded
// yet in this process.
func (e *Engine) runMigration(ctx context.Context) error {
	if e.deps.Migrator == nil {
		return nil
	}

	e.mu.Lock()
	alreadyMigrated := e.migrated
	e.mu.Unlock()
	if alreadyMigrated {
		return nil
	}

	result, err := e.deps.Migrator.Run(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.migrated = true
	e.mu.Unlock()

	slog.Info("Registry migration finished",
		"migrated", result.Migrated, "skipped", result.Skipped)
	return nil
}

// runLoop drives scheduled cycles until stopped.
func (e *Engine) runLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sync engine stopped (context cancelled)")
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
			return
		case <-e.done:
			slog.Info("Sync engine stopped (stop requested)")
			return
		case <-ticker.C:
			if _, err := e.runCycleGuarded(ctx); errors.Is(err, ErrCycleInProgress) {
				slog.Warn("Previous sync cycle still running, skipping scheduled cycle")
			}
		}
	}
}

// runCycleGuarded runs one cycle under the busy guard.
func (e *Engine) runCycleGuarded(ctx context.Context) (CycleStats, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return CycleStats{}, ErrCycleInProgress
	}
	defer e.busy.Store(false)

	return e.runCycle(ctx), nil
}

// runCycle executes one full synchronization cycle.
//
// Order: janitor check, discovery (poller plus fallback), dedupe merge,
// then validate/translate/index per record with per-record error
// isolation, and finally the health update.
func (e *Engine) runCycle(ctx context.Context) CycleStats {
	start := e.clock.Now()

	e.deps.Janitor.MaybeEvict(e.deps.Processed)

	pollResult := e.deps.Poller.Poll(ctx)
	records := pollResult.Records
	errCount := pollResult.Errors

	if e.deps.Discovery != nil {
		records = append(records, e.deps.Discovery.Collect(ctx)...)
	}

	deduped := DedupeBySoul(records)
	discovered := len(deduped)

	synced := 0
	for _, rec := range deduped {
		verdict := ValidateRecord(rec.Payload)
		if !verdict.Valid {
			errCount++
			slog.Warn("Discarding invalid record",
				"soul", rec.Soul, "reason", verdict.Reason, "source", rec.SourceNodeID)
			continue
		}

		doc := e.deps.Translator.Translate(rec)
		outcome, err := e.deps.Indexer.Index(ctx, doc)
		if err != nil {
			errCount++
			slog.Warn("Index write failed", "soul", rec.Soul, "error", err)
			continue
		}

		switch outcome {
		case OutcomeIndexed:
			synced++
		case OutcomeAlreadyPresent:
			slog.Debug("Record already durable", "soul", rec.Soul)
		}
	}

	duration := e.clock.Now().Sub(start)
	durationMs := duration.Seconds() * 1000
	e.deps.Health.RecordSyncCycle(discovered, synced, errCount, durationMs)

	stats := CycleStats{
		Discovered: discovered,
		Synced:     synced,
		Errors:     errCount,
		Duration:   duration,
	}
	if e.deps.Observer != nil {
		e.deps.Observer.ObserveCycle(ctx, stats)
	}

	if discovered > 0 || errCount > 0 {
		slog.Info("Sync cycle completed",
			"discovered", discovered,
			"synced", synced,
			"errors", errCount,
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		slog.Debug("Sync cycle completed (nothing discovered)")
	}

	return stats
}
