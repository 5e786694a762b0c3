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
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
)

// defaultMigrationBatch is the page size used while scanning the
// durable index.
const defaultMigrationBatch = 100

// ScanFunc pages through the durable index and returns the documents
// belonging to this node's backend, as flat property maps. A short page
// (fewer than limit entries) ends the scan.
type ScanFunc func(ctx context.Context, offset, limit int) ([]map[string]interface{}, error)

// RegistryWriter is the write side of the local discoverability
// registry, the index documents peers poll from this node.
type RegistryWriter interface {
	// HasIndexEntry reports whether a soul is already registered under
	// a record type.
	HasIndexEntry(recordType, soul string) (bool, error)

	// AppendIndexEntry registers a soul under a record type.
	AppendIndexEntry(recordType string, entry datatypes.RegistryIndexEntry) error
}

// MigrationResult reports one migration run.
type MigrationResult struct {
	// Migrated counts records newly registered into the registry.
	Migrated int

	// Skipped counts records dropped for a missing envelope field, a
	// malformed identifier, or a registration failure.
	Skipped int
}

// Migrator backfills the discoverability registry from records that are
// already durable but were published before the registry existed.
//
// # Description
//
// Run scans the durable index for this backend's documents and, for each
// one missing a registry entry, validates the minimal envelope (record
// type, creator public key, correctly-prefixed identifier with a
// non-empty soul) and registers the soul under its record type. Every
// per-record problem is a counted skip with a warning; only a scan
// failure aborts the run, since without a complete scan the backfill
// cannot be trusted.
//
// The scheduler runs this once per process lifetime, re-attempting on a
// later start only if no run has succeeded yet.
type Migrator struct {
	scan     ScanFunc
	registry RegistryWriter
	clock    Clock

	backend string
	nodeID  string
	batch   int
}

// NewMigrator creates a Migrator. A nil clock means system time.
func NewMigrator(scan ScanFunc, registry RegistryWriter, backend, nodeID string, clock Clock) *Migrator {
	if clock == nil {
		clock = SystemClock()
	}
	return &Migrator{
		scan:     scan,
		registry: registry,
		clock:    clock,
		backend:  backend,
		nodeID:   nodeID,
		batch:    defaultMigrationBatch,
	}
}

// Run executes one migration pass over the durable index.
func (m *Migrator) Run(ctx context.Context) (MigrationResult, error) {
	var result MigrationResult

	for offset := 0; ; offset += m.batch {
		page, err := m.scan(ctx, offset, m.batch)
		if err != nil {
			return result, fmt.Errorf("scanning durable index at offset %d: %w", offset, err)
		}

		for _, doc := range page {
			m.migrateDocument(doc, &result)
		}

		if len(page) < m.batch {
			break
		}
	}

	slog.Info("Registry migration complete",
		"migrated", result.Migrated, "skipped", result.Skipped)
	return result, nil
}

// migrateDocument registers one durable document, or counts a skip.
func (m *Migrator) migrateDocument(doc map[string]interface{}, result *MigrationResult) {
	did := getString(doc, "did")
	soul, ok := datatypes.SoulFromDID(did, m.backend)
	if !ok {
		slog.Warn("Migration skipping document with malformed identifier", "did", did)
		result.Skipped++
		return
	}

	recordType := getString(doc, "recordType")
	if recordType == "" {
		slog.Warn("Migration skipping document without record type", "did", did)
		result.Skipped++
		return
	}
	if getString(doc, "creatorPublicKey") == "" {
		slog.Warn("Migration skipping document without creator public key", "did", did)
		result.Skipped++
		return
	}

	registered, err := m.registry.HasIndexEntry(recordType, soul)
	if err != nil {
		slog.Warn("Migration registry lookup failed", "did", did, "error", err)
		result.Skipped++
		return
	}
	if registered {
		return // already discoverable, not a migration candidate
	}

	entry := datatypes.RegistryIndexEntry{
		Soul:      soul,
		NodeID:    m.nodeID,
		Timestamp: m.clock.Now().UnixMilli(),
	}
	if err := m.registry.AppendIndexEntry(recordType, entry); err != nil {
		slog.Warn("Migration registration failed", "did", did, "error", err)
		result.Skipped++
		return
	}

	result.Migrated++
	slog.Debug("Migrated record into registry", "soul", soul, "record_type", recordType)
}

// NewWeaviateScanner builds a ScanFunc over a Weaviate class, filtered
// to documents tagged with the given storage backend.
func NewWeaviateScanner(client *weaviate.Client, className, backend string) ScanFunc {
	return func(ctx context.Context, offset, limit int) ([]map[string]interface{}, error) {
		whereFilter := filters.Where().
			WithPath([]string{"storageBackend"}).
			WithOperator(filters.Equal).
			WithValueString(backend)

		fields := []graphql.Field{
			{Name: "did"},
			{Name: "soul"},
			{Name: "recordType"},
			{Name: "creatorPublicKey"},
		}

		result, err := client.GraphQL().Get().
			WithClassName(className).
			WithFields(fields...).
			WithWhere(whereFilter).
			WithLimit(limit).
			WithOffset(offset).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying backend documents: %w", err)
		}
		if len(result.Errors) > 0 {
			return nil, fmt.Errorf("query error: %s", result.Errors[0].Message)
		}

		data, ok := result.Data["Get"].(map[string]interface{})
		if !ok {
			return nil, nil
		}
		objects, ok := data[className].([]interface{})
		if !ok {
			return nil, nil
		}

		docs := make([]map[string]interface{}, 0, len(objects))
		for _, obj := range objects {
			if m, ok := obj.(map[string]interface{}); ok {
				docs = append(docs, m)
			}
		}
		return docs, nil
	}
}
