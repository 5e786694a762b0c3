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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
)

func newStoreForTest(t *testing.T) *RegistryStore {
	t.Helper()

	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewRegistryStore(db)
}

func TestRegistryStore_Records(t *testing.T) {
	ctx := context.Background()
	store := newStoreForTest(t)

	payload := map[string]interface{}{
		"recordType": "post",
		"creator":    map[string]interface{}{"publicKey": "pk-1"},
		"body":       "hello from eastport",
	}

	t.Run("round trip", func(t *testing.T) {
		require.NoError(t, store.PutRecord(ctx, "soul-1", payload))

		raw, err := store.Get(ctx, "soul-1")
		require.NoError(t, err)

		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "hello from eastport", got["body"])
	})

	t.Run("unknown soul", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("identical republish is a no-op", func(t *testing.T) {
		assert.NoError(t, store.PutRecord(ctx, "soul-1", payload))
	})

	t.Run("conflicting republish is rejected", func(t *testing.T) {
		changed := map[string]interface{}{
			"recordType": "post",
			"creator":    map[string]interface{}{"publicKey": "pk-1"},
			"body":       "rewritten history",
		}
		err := store.PutRecord(ctx, "soul-1", changed)
		assert.ErrorIs(t, err, ErrImmutableConflict)

		// The original content survives.
		raw, err := store.Get(ctx, "soul-1")
		require.NoError(t, err)
		var got map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "hello from eastport", got["body"])
	})

	t.Run("registry namespace is reserved", func(t *testing.T) {
		err := store.PutRecord(ctx, "registry:index:post", payload)
		assert.Error(t, err)
	})

	t.Run("malformed soul is rejected", func(t *testing.T) {
		assert.Error(t, store.PutRecord(ctx, "_internal", payload))
		_, err := store.Get(ctx, "")
		assert.Error(t, err)
	})
}

func TestRegistryStore_Index(t *testing.T) {
	ctx := context.Background()
	store := newStoreForTest(t)

	entry := func(soul string) datatypes.RegistryIndexEntry {
		return datatypes.RegistryIndexEntry{Soul: soul, NodeID: "node-self", Timestamp: 1_700_000_000_000}
	}

	t.Run("empty index for unknown type", func(t *testing.T) {
		index, err := store.IndexFor(ctx, "post")
		require.NoError(t, err)
		assert.Empty(t, index)

		ok, err := store.HasIndexEntry("post", "a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("append and read back", func(t *testing.T) {
		require.NoError(t, store.AppendIndexEntry("post", entry("a")))
		require.NoError(t, store.AppendIndexEntry("post", entry("b")))

		index, err := store.IndexFor(ctx, "post")
		require.NoError(t, err)
		require.Len(t, index, 2)
		assert.Equal(t, "node-self", index["a"].NodeID)

		ok, err := store.HasIndexEntry("post", "b")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("served through the wire soul", func(t *testing.T) {
		raw, err := store.Get(ctx, datatypes.RegistryIndexSoul("post"))
		require.NoError(t, err)

		var index datatypes.RegistryIndex
		require.NoError(t, json.Unmarshal(raw, &index))
		assert.Len(t, index, 2)
	})

	t.Run("types keep separate indexes", func(t *testing.T) {
		require.NoError(t, store.AppendIndexEntry("comment", entry("c")))

		index, err := store.IndexFor(ctx, "comment")
		require.NoError(t, err)
		assert.Len(t, index, 1)

		index, err = store.IndexFor(ctx, "post")
		require.NoError(t, err)
		assert.Len(t, index, 2)
	})
}

func TestRegistryStore_Backup(t *testing.T) {
	ctx := context.Background()
	store := newStoreForTest(t)

	require.NoError(t, store.PutRecord(ctx, "soul-1", map[string]interface{}{"body": "snapshot me"}))
	require.NoError(t, store.AppendIndexEntry("post", datatypes.RegistryIndexEntry{
		Soul: "soul-1", NodeID: "node-self", Timestamp: 1,
	}))

	var buf bytes.Buffer
	_, err := store.Backup(ctx, &buf)
	require.NoError(t, err)
	assert.Greater(t, buf.Len(), 0, "snapshot stream should carry the stored keys")
}
