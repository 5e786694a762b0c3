// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/archipelago/pkg/validation"
	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
)

var (
	// ErrNotFound is returned when no document is stored under a soul.
	ErrNotFound = errors.New("soul not found in node store")

	// ErrImmutableConflict is returned when a publish attempts to store
	// different content under a soul that is already assigned. Souls never
	// change; republishing identical content is a no-op, not a conflict.
	ErrImmutableConflict = errors.New("soul already assigned to different content")
)

// RegistryStore is the node's local publishing store.
//
// # Description
//
// Holds the documents this node serves to peers over the wire API: its
// own published record payloads, keyed by soul, and the per-type registry
// index documents under the well-known "registry:index:<type>" souls.
// Both live in the same keyspace so the wire handler answers any soul
// with one lookup.
//
// Synced foreign records never enter this store; they are materialized
// into the search index only.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type RegistryStore struct {
	db *DB
}

// NewRegistryStore wraps an open store database.
func NewRegistryStore(db *DB) *RegistryStore {
	return &RegistryStore{db: db}
}

// Get returns the raw JSON document stored under a soul: a record payload
// or a registry index, depending on the soul requested.
// Returns ErrNotFound when nothing is stored under the soul.
func (s *RegistryStore) Get(ctx context.Context, soul string) (json.RawMessage, error) {
	if err := validation.ValidateSoul(soul); err != nil {
		return nil, fmt.Errorf("invalid soul: %w", err)
	}

	var raw []byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(soul))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// PutRecord stores a published record payload under its soul.
//
// # Description
//
// Records are immutable, content-addressed artifacts: once a soul is
// assigned, its content never changes. Storing identical content again
// is an idempotent no-op; storing different content under an existing
// soul fails with ErrImmutableConflict.
func (s *RegistryStore) PutRecord(ctx context.Context, soul string, payload map[string]interface{}) error {
	if err := validation.ValidateSoul(soul); err != nil {
		return fmt.Errorf("invalid soul: %w", err)
	}
	if strings.HasPrefix(soul, datatypes.RegistryIndexPrefix) {
		return fmt.Errorf("soul %q collides with the registry index namespace", soul)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding record payload: %w", err)
	}

	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(soul))
		if err == nil {
			existing, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if bytes.Equal(existing, data) {
				return nil // identical republish
			}
			return ErrImmutableConflict
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set([]byte(soul), data)
	})
}

// IndexFor returns the registry index document for a record type.
// A type nothing has been registered under yields an empty index.
func (s *RegistryStore) IndexFor(ctx context.Context, recordType string) (datatypes.RegistryIndex, error) {
	if err := validation.ValidateRecordType(recordType); err != nil {
		return nil, fmt.Errorf("invalid record type: %w", err)
	}

	raw, err := s.Get(ctx, datatypes.RegistryIndexSoul(recordType))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return datatypes.RegistryIndex{}, nil
		}
		return nil, err
	}

	var index datatypes.RegistryIndex
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("decoding registry index for %s: %w", recordType, err)
	}
	return index, nil
}

// HasIndexEntry reports whether a soul is registered under a record type.
func (s *RegistryStore) HasIndexEntry(recordType, soul string) (bool, error) {
	index, err := s.IndexFor(context.Background(), recordType)
	if err != nil {
		return false, err
	}
	_, ok := index[soul]
	return ok, nil
}

// AppendIndexEntry registers a soul under a record type.
//
// The index document is read-modify-written in one transaction, so
// concurrent publishes of different souls both land. Re-registering a
// soul overwrites its entry; the index is append-only in the sense that
// entries are never removed.
func (s *RegistryStore) AppendIndexEntry(recordType string, entry datatypes.RegistryIndexEntry) error {
	if err := validation.ValidateRecordType(recordType); err != nil {
		return fmt.Errorf("invalid record type: %w", err)
	}
	if err := validation.ValidateSoul(entry.Soul); err != nil {
		return fmt.Errorf("invalid soul: %w", err)
	}

	key := []byte(datatypes.RegistryIndexSoul(recordType))
	return s.db.WithTxn(context.Background(), func(txn *badger.Txn) error {
		index := datatypes.RegistryIndex{}

		item, err := txn.Get(key)
		if err == nil {
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(raw, &index); err != nil {
				return fmt.Errorf("decoding registry index for %s: %w", recordType, err)
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		index[entry.Soul] = entry

		data, err := json.Marshal(index)
		if err != nil {
			return fmt.Errorf("encoding registry index for %s: %w", recordType, err)
		}
		return txn.Set(key, data)
	})
}

// Backup streams a full snapshot of the store to w and returns the
// version watermark of the snapshot. The stream is badger's native
// backup format, restorable with badger.DB.Load.
func (s *RegistryStore) Backup(_ context.Context, w io.Writer) (uint64, error) {
	since, err := s.db.DB.Backup(w, 0)
	if err != nil {
		return 0, fmt.Errorf("streaming store backup: %w", err)
	}
	return since, nil
}
