// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for identifiers that arrive from peer nodes
// or operator input and are used in storage keys, HTTP requests to peers, and
// search-index queries. Using these validators prevents key injection and
// malformed identifiers from reaching the durable stores.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// soulPattern matches valid record souls.
// Souls are content-addressed identifiers assigned at publish time.
// Allows: letters, digits, dots, underscores, colons (registry:index:post),
// and hyphens. Max length: 128 characters.
var soulPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,127}$`)

// nodeIDPattern matches valid node identifiers.
// Node IDs are lowercase DNS-label style names, e.g. "node-eastport-01".
var nodeIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]{0,62}$`)

// recordTypePattern matches entries of the record-type catalog, e.g. "post".
var recordTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_\-]{0,31}$`)

// ValidateSoul validates a record soul before it is used as a storage key
// or placed into a peer request URL.
//
// Valid souls:
//   - 1-128 characters
//   - Letters, digits, dots, underscores, colons, hyphens
//   - Must not start with an underscore (reserved for internal metadata keys)
//
// Returns an error if the soul is invalid.
//
// Example:
//
//	if err := validation.ValidateSoul(soul); err != nil {
//	    return fmt.Errorf("invalid soul: %w", err)
//	}
//	// Safe to use as a store key or query parameter
func ValidateSoul(soul string) error {
	if soul == "" {
		return fmt.Errorf("soul cannot be empty")
	}

	if strings.HasPrefix(soul, "_") {
		return fmt.Errorf("soul %q uses a reserved internal prefix", soul)
	}

	if !soulPattern.MatchString(soul) {
		return fmt.Errorf("invalid soul format: %q (must be 1-128 alphanumeric chars, dots, underscores, colons, or hyphens)", soul)
	}

	return nil
}

// ValidateNodeID validates a node identifier.
// Node IDs appear in registry index entries and provenance metadata.
func ValidateNodeID(nodeID string) error {
	if nodeID == "" {
		return fmt.Errorf("node id cannot be empty")
	}

	if !nodeIDPattern.MatchString(nodeID) {
		return fmt.Errorf("invalid node id: %q (must be 1-63 lowercase alphanumeric chars or hyphens)", nodeID)
	}

	return nil
}

// ValidateRecordType validates a record-type tag against the allowed shape.
// The catalog itself is configured per deployment; this only checks the form.
func ValidateRecordType(recordType string) error {
	if recordType == "" {
		return fmt.Errorf("record type cannot be empty")
	}

	if !recordTypePattern.MatchString(recordType) {
		return fmt.Errorf("invalid record type: %q (must be 1-32 lowercase alphanumeric chars, underscores, or hyphens)", recordType)
	}

	return nil
}

// ValidateRecordTypes validates a record-type catalog.
// Returns an error listing all invalid entries if any fail validation.
func ValidateRecordTypes(types []string) error {
	var invalid []string
	for _, t := range types {
		if err := ValidateRecordType(t); err != nil {
			invalid = append(invalid, t)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid record types: %v", invalid)
	}
	return nil
}

// SanitizeRecordType normalizes and validates a record-type tag.
// Returns the lowercase tag if valid, or an error if invalid.
//
// Use this when accepting a type from an HTTP query or config file:
//
//	safeType, err := validation.SanitizeRecordType(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeType is lowercase and validated
func SanitizeRecordType(recordType string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(recordType))
	if err := ValidateRecordType(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
