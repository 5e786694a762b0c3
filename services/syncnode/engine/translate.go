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
	"encoding/json"
	"strings"

	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
)

// restoredListFields are the envelope fields whose list values degrade to
// JSON-array strings on the peer wire and must be restored before indexing.
// Skipping the restore causes a type mismatch at the search index.
var restoredListFields = []string{"tags", "attachments", "links"}

// Translator converts a peer-supplied record payload into the canonical,
// index-ready representation.
//
// # Description
//
// Translation never aliases the caller's data: the payload is structurally
// cloned over its known shape (maps, lists, scalars), then stamped with the
// derived identifier, the storage backend tag, and, for records that
// arrived encrypted, provenance metadata naming the source node and the
// synchronization time.
type Translator struct {
	backend string
	nodeID  string
	clock   Clock
}

// NewTranslator creates a Translator for this node's backend.
func NewTranslator(backend, nodeID string, clock Clock) *Translator {
	return &Translator{
		backend: backend,
		nodeID:  nodeID,
		clock:   clock,
	}
}

// Translate produces the canonical document for a discovered record.
//
// # Description
//
// The returned map is independent of rec.Payload. Both canonical identifier
// fields ("id" and "did") are set to the derived DID. When the source
// marked the record encrypted, "syncedFrom" and "syncedAt" record where and
// when this copy was obtained; public records carry no provenance because
// the registry entry already names their publisher.
func (t *Translator) Translate(rec datatypes.DiscoveredRecord) map[string]interface{} {
	doc, _ := cloneValue(rec.Payload).(map[string]interface{})
	if doc == nil {
		doc = map[string]interface{}{}
	}

	did := datatypes.DID(t.backend, rec.Soul)
	doc["id"] = did
	doc["did"] = did
	doc["soul"] = rec.Soul
	doc["storageBackend"] = t.backend

	if rec.WasEncrypted {
		doc["syncedFrom"] = rec.SourceNodeID
		doc["syncedAt"] = t.clock.Now().UnixMilli()
	}

	restoreListFields(doc)
	return doc
}

// cloneValue structurally copies a decoded JSON value.
// Maps and lists are rebuilt; scalars are returned as-is.
func cloneValue(val interface{}) interface{} {
	switch v := val.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, inner := range v {
			out[key] = cloneValue(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, inner := range v {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// restoreListFields decodes JSON-array strings back into real lists for the
// known list-typed fields. Values that are already lists, or strings that
// do not parse as arrays, are left alone.
func restoreListFields(doc map[string]interface{}) {
	for _, field := range restoredListFields {
		raw, ok := doc[field].(string)
		if !ok {
			continue
		}
		trimmed := strings.TrimSpace(raw)
		if !strings.HasPrefix(trimmed, "[") {
			continue
		}
		var list []interface{}
		if err := json.Unmarshal([]byte(trimmed), &list); err != nil {
			continue
		}
		doc[field] = list
	}
}
