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
	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
)

// RejectReason enumerates why a discovered payload failed validation.
// Every rejection carries exactly one reason so failures are countable
// and testable, never a free-form shape mismatch.
type RejectReason string

const (
	// ReasonMissingPayload: the discovered record carried no payload at all.
	ReasonMissingPayload RejectReason = "missing payload"

	// ReasonMissingRecordType: the envelope has no record-type tag.
	ReasonMissingRecordType RejectReason = "missing record type"

	// ReasonMissingCreator: the envelope has no creator block.
	ReasonMissingCreator RejectReason = "missing creator"

	// ReasonMissingPublicKey: the creator block has an empty public key.
	ReasonMissingPublicKey RejectReason = "missing creator public key"
)

// ValidationResult is the tagged outcome of a structural record check.
type ValidationResult struct {
	Valid  bool
	Reason RejectReason
}

// ValidateRecord checks that a payload carries the minimal record envelope:
// a record-type tag and a creator block with a non-empty public key.
//
// # Description
//
// This is a structural check only. Signature verification and content
// policy are separate concerns handled outside the sync engine; a payload
// that passes here is well-formed, not necessarily authentic. Invalid
// payloads never reach translation or the indexer.
func ValidateRecord(payload map[string]interface{}) ValidationResult {
	if len(payload) == 0 {
		return ValidationResult{Reason: ReasonMissingPayload}
	}

	if datatypes.RecordTypeOf(payload) == "" {
		return ValidationResult{Reason: ReasonMissingRecordType}
	}

	creator, ok := payload[datatypes.PayloadKeyCreator].(map[string]interface{})
	if !ok || creator == nil {
		return ValidationResult{Reason: ReasonMissingCreator}
	}

	if key, _ := creator["publicKey"].(string); key == "" {
		return ValidationResult{Reason: ReasonMissingPublicKey}
	}

	return ValidationResult{Valid: true}
}
