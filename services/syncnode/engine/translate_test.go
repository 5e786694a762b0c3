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
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
)

func newTestTranslator() (*Translator, *ManualClock) {
	clock := NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewTranslator("arch", "node-self", clock), clock
}

func TestTranslator_SetsIdentifierAndBackend(t *testing.T) {
	tr, _ := newTestTranslator()

	doc := tr.Translate(datatypes.DiscoveredRecord{
		Soul: "9f2c",
		Payload: map[string]interface{}{
			"recordType": "post",
			"body":       "hello",
		},
		SourceNodeID: "node-1",
	})

	assert.Equal(t, "did:arch:9f2c", doc["id"])
	assert.Equal(t, "did:arch:9f2c", doc["did"])
	assert.Equal(t, "9f2c", doc["soul"])
	assert.Equal(t, "arch", doc["storageBackend"])
	assert.Equal(t, "hello", doc["body"])
}

func TestTranslator_DoesNotAliasPayload(t *testing.T) {
	tr, _ := newTestTranslator()

	payload := map[string]interface{}{
		"recordType": "post",
		"creator":    map[string]interface{}{"publicKey": "pk-1"},
		"tags":       []interface{}{"x", "y"},
	}
	doc := tr.Translate(datatypes.DiscoveredRecord{Soul: "s1", Payload: payload})

	// Mutating the source payload must not leak into the document.
	payload["creator"].(map[string]interface{})["publicKey"] = "tampered"
	payload["tags"].([]interface{})[0] = "tampered"

	creator, ok := doc["creator"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "pk-1", creator["publicKey"])

	tags, ok := doc["tags"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, "x", tags[0])

	// And the original payload must not grow document fields.
	assert.NotContains(t, payload, "did")
	assert.NotContains(t, payload, "storageBackend")
}

func TestTranslator_ProvenanceOnlyForEncrypted(t *testing.T) {
	tr, clock := newTestTranslator()

	public := tr.Translate(datatypes.DiscoveredRecord{
		Soul:         "s1",
		Payload:      map[string]interface{}{"recordType": "post"},
		SourceNodeID: "node-1",
		WasEncrypted: false,
	})
	assert.NotContains(t, public, "syncedFrom")
	assert.NotContains(t, public, "syncedAt")

	encrypted := tr.Translate(datatypes.DiscoveredRecord{
		Soul:         "s2",
		Payload:      map[string]interface{}{"recordType": "post"},
		SourceNodeID: "node-1",
		WasEncrypted: true,
	})
	assert.Equal(t, "node-1", encrypted["syncedFrom"])
	assert.Equal(t, clock.Now().UnixMilli(), encrypted["syncedAt"])
}

func TestTranslator_RestoresStringifiedLists(t *testing.T) {
	tr, _ := newTestTranslator()

	doc := tr.Translate(datatypes.DiscoveredRecord{
		Soul: "s1",
		Payload: map[string]interface{}{
			"recordType":  "post",
			"tags":        `["go","sync"]`,
			"attachments": `[]`,
			"links":       []interface{}{"already-a-list"},
		},
	})

	tags, ok := doc["tags"].([]interface{})
	require.True(t, ok, "tags should be restored to a list")
	assert.Equal(t, []interface{}{"go", "sync"}, tags)

	attachments, ok := doc["attachments"].([]interface{})
	require.True(t, ok, "attachments should be restored to a list")
	assert.Empty(t, attachments)

	links, ok := doc["links"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, "already-a-list", links[0])
}

func TestTranslator_LeavesUnparseableListFieldsAlone(t *testing.T) {
	tr, _ := newTestTranslator()

	doc := tr.Translate(datatypes.DiscoveredRecord{
		Soul: "s1",
		Payload: map[string]interface{}{
			"recordType": "post",
			"tags":       "plain text, not an array",
			"links":      "[broken json",
		},
	})

	assert.Equal(t, "plain text, not an array", doc["tags"])
	assert.Equal(t, "[broken json", doc["links"])
}

func TestTranslator_EmptyPayload(t *testing.T) {
	tr, _ := newTestTranslator()

	doc := tr.Translate(datatypes.DiscoveredRecord{Soul: "s1"})

	assert.Equal(t, "did:arch:s1", doc["did"])
	assert.Equal(t, "arch", doc["storageBackend"])
}
