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

	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
)

func rec(soul, source string) datatypes.DiscoveredRecord {
	return datatypes.DiscoveredRecord{
		Soul:         soul,
		Payload:      map[string]interface{}{"recordType": "post"},
		SourceNodeID: source,
	}
}

func TestDedupeBySoul_FirstSeenWins(t *testing.T) {
	records := []datatypes.DiscoveredRecord{
		rec("a", "node-1"),
		rec("b", "node-1"),
		rec("a", "node-2"),
		rec("c", "node-2"),
		rec("b", "node-3"),
	}

	out := DedupeBySoul(records)

	if len(out) != 3 {
		t.Fatalf("expected 3 records, got %d", len(out))
	}
	if out[0].Soul != "a" || out[1].Soul != "b" || out[2].Soul != "c" {
		t.Errorf("unexpected order: %s, %s, %s", out[0].Soul, out[1].Soul, out[2].Soul)
	}
	if out[0].SourceNodeID != "node-1" {
		t.Errorf("duplicate of %q should keep the first source, got %q", "a", out[0].SourceNodeID)
	}
}

func TestDedupeBySoul_SkipsEmptySouls(t *testing.T) {
	records := []datatypes.DiscoveredRecord{
		rec("", "node-1"),
		rec("a", "node-1"),
		rec("", "node-2"),
	}

	out := DedupeBySoul(records)

	if len(out) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out))
	}
	if out[0].Soul != "a" {
		t.Errorf("expected soul %q, got %q", "a", out[0].Soul)
	}
}

func TestDedupeBySoul_EmptyInput(t *testing.T) {
	if out := DedupeBySoul(nil); out != nil {
		t.Errorf("nil input should return nil, got %v", out)
	}
	if out := DedupeBySoul([]datatypes.DiscoveredRecord{}); out != nil {
		t.Errorf("empty input should return nil, got %v", out)
	}
}

func TestDedupeBySoul_InputNotModified(t *testing.T) {
	records := []datatypes.DiscoveredRecord{
		rec("a", "node-1"),
		rec("a", "node-2"),
	}

	_ = DedupeBySoul(records)

	if len(records) != 2 {
		t.Fatalf("input length changed to %d", len(records))
	}
	if records[1].SourceNodeID != "node-2" {
		t.Errorf("input slice was modified")
	}
}
