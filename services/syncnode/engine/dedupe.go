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

import "github.com/AleutianAI/archipelago/services/syncnode/datatypes"

// DedupeBySoul collapses a merged discovery list to at most one record per
// soul, keeping the first occurrence in source order.
//
// # Description
//
// Discovery sources overlap: the registry poller and the gossip fallback can
// both surface the same soul in one cycle, and two peers can list the same
// record. The first occurrence wins so that source ordering (poller before
// fallback, peers in configured order) decides which copy proceeds to
// validation. The input is not modified.
func DedupeBySoul(records []datatypes.DiscoveredRecord) []datatypes.DiscoveredRecord {
	if len(records) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(records))
	out := make([]datatypes.DiscoveredRecord, 0, len(records))
	for _, rec := range records {
		if rec.Soul == "" {
			continue
		}
		if _, dup := seen[rec.Soul]; dup {
			continue
		}
		seen[rec.Soul] = struct{}{}
		out = append(out, rec)
	}
	return out
}
