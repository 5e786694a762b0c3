// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the sync node service.
//
// This file contains the record envelope, registry index types, and the
// wire shapes exchanged with peer nodes. Request/response types for the
// operator API live in requests.go.
package datatypes

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RegistryIndexPrefix is the well-known soul prefix under which every node
// publishes its per-type discovery registry, e.g. "registry:index:post".
const RegistryIndexPrefix = "registry:index:"

// DefaultRecordTypes is the record-type catalog polled from peers when the
// deployment does not override it.
var DefaultRecordTypes = []string{"post", "comment", "profile"}

// PayloadKeyRecordType is the envelope key carrying the record-type tag.
const PayloadKeyRecordType = "recordType"

// PayloadKeyCreator is the envelope key carrying the creator block.
// The block must contain a non-empty "publicKey" entry.
const PayloadKeyCreator = "creator"

// DiscoveredRecord is the transient value produced while polling peers or
// draining the gossip fallback. It lives for one sync cycle only.
type DiscoveredRecord struct {
	// Soul is the content-addressed identifier assigned at publish time.
	Soul string `json:"soul"`

	// Payload is the record envelope as received from the source node.
	Payload map[string]interface{} `json:"payload"`

	// SourceNodeID identifies the node the record was discovered from.
	SourceNodeID string `json:"sourceNodeId"`

	// WasEncrypted marks records that arrived through the encrypted
	// gossip path. The registry poller only carries public records.
	WasEncrypted bool `json:"wasEncrypted"`
}

// Peer is a remote node reachable over the wire API.
type Peer struct {
	NodeID string `json:"nodeId"`
	URL    string `json:"url"`
}

// RegistryIndexEntry is one entry of a per-type registry index document,
// keyed by soul. Append-only from the publisher's perspective.
type RegistryIndexEntry struct {
	Soul      string `json:"soul"`
	NodeID    string `json:"nodeId"`
	Timestamp int64  `json:"timestamp"`
}

// RegistryIndex maps soul -> entry for one record type.
// Keys beginning with "_" are internal metadata and are skipped by pollers.
type RegistryIndex map[string]RegistryIndexEntry

// WireResponse is the envelope returned by GET /get?soul=<id> on every node.
// Data holds either a registry index document or a record payload.
type WireResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// AnnounceFrame is one gossip message pushed to /ws/announce subscribers
// when a record is published. Encrypted records travel only on this path,
// with the payload carried inline (ciphertext fields included).
type AnnounceFrame struct {
	Action     string                 `json:"action"`
	Soul       string                 `json:"soul"`
	RecordType string                 `json:"recordType"`
	NodeID     string                 `json:"nodeId"`
	Encrypted  bool                   `json:"encrypted"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// AnnounceActionRecord is the Action value for record publication frames.
const AnnounceActionRecord = "record_announced"

// RegistryIndexSoul returns the well-known soul of the registry index
// document for a record type.
func RegistryIndexSoul(recordType string) string {
	return RegistryIndexPrefix + recordType
}

// DID derives the canonical identifier for a soul stored under the given
// backend, e.g. DID("arch", "9f2c") == "did:arch:9f2c". The identifier is a
// pure function of its inputs and is never assigned independently.
func DID(backend, soul string) string {
	return fmt.Sprintf("did:%s:%s", backend, soul)
}

// DIDPrefix returns the identifier prefix for a backend, "did:arch:".
func DIDPrefix(backend string) string {
	return "did:" + backend + ":"
}

// SoulFromDID extracts the soul from an identifier if it belongs to the
// given backend. Returns the soul and true, or "" and false when the
// identifier has a different backend or a malformed shape.
func SoulFromDID(did, backend string) (string, bool) {
	prefix := DIDPrefix(backend)
	if !strings.HasPrefix(did, prefix) {
		return "", false
	}
	soul := strings.TrimPrefix(did, prefix)
	if soul == "" {
		return "", false
	}
	return soul, true
}

// RecordTypeOf reads the record-type tag from a payload envelope.
// Returns "" when the tag is absent or not a string.
func RecordTypeOf(payload map[string]interface{}) string {
	t, _ := payload[PayloadKeyRecordType].(string)
	return t
}

// CreatorPublicKeyOf reads creator.publicKey from a payload envelope.
// Returns "" when the creator block or the key is absent.
func CreatorPublicKeyOf(payload map[string]interface{}) string {
	creator, ok := payload[PayloadKeyCreator].(map[string]interface{})
	if !ok {
		return ""
	}
	key, _ := creator["publicKey"].(string)
	return key
}
