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
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
)

// =============================================================================
// Store Function Types
// =============================================================================

// ExistsFunc reports whether a document with the given object ID is present
// in the durable index.
type ExistsFunc func(ctx context.Context, objectID string) (bool, error)

// CreateFunc writes a canonical document into the durable index under the
// given object ID.
type CreateFunc func(ctx context.Context, objectID string, doc map[string]interface{}) error

// SearchFunc runs a query against the durable index and returns matching
// documents.
type SearchFunc func(ctx context.Context, query, recordType string, limit int) ([]datatypes.SearchHit, error)

// IndexOutcome reports what an Index call did.
type IndexOutcome int

const (
	// OutcomeIndexed: the document was newly written.
	OutcomeIndexed IndexOutcome = iota

	// OutcomeAlreadyPresent: a document with this identifier already
	// existed; the call was a no-op, not an error.
	OutcomeAlreadyPresent
)

// Indexer is the idempotent write path into the durable search index.
//
// # Description
//
// Index writes a translated record if and only if no document with the same
// identifier exists. The identifier is added to the ProcessedSet only after
// a confirmed durable state: a successful write, or a confirmed pre-existing
// document. Store failures are surfaced to the caller and leave the
// ProcessedSet untouched, so the record stays eligible for retry on a later
// cycle.
//
// Existence checks for the same object ID are collapsed through a
// singleflight group; during concurrent polling two peers can surface the
// same soul, and one round trip answers both.
type Indexer struct {
	exists    ExistsFunc
	create    CreateFunc
	search    SearchFunc
	processed *ProcessedSet

	flight singleflight.Group
}

// NewIndexer assembles an Indexer from store functions.
// search may be nil when the deployment exposes no search surface.
func NewIndexer(exists ExistsFunc, create CreateFunc, search SearchFunc, processed *ProcessedSet) *Indexer {
	return &Indexer{
		exists:    exists,
		create:    create,
		search:    search,
		processed: processed,
	}
}

// NewWeaviateIndexer builds an Indexer over a Weaviate class.
// The class schema is provisioned outside this service.
func NewWeaviateIndexer(client *weaviate.Client, className string, processed *ProcessedSet) *Indexer {
	return NewIndexer(
		newWeaviateExistsFunc(client, className),
		newWeaviateCreateFunc(client, className),
		newWeaviateSearchFunc(client, className),
		processed,
	)
}

// DocumentID derives the deterministic Weaviate object ID for an
// identifier. The same DID always maps to the same object, which is what
// makes the existence check an idempotence guarantee.
func DocumentID(did string) string {
	hash := sha256.Sum256([]byte(did))
	docUUID, _ := uuid.FromBytes(hash[:16])
	return docUUID.String()
}

// Exists reports whether a document for the identifier is durably indexed.
// Concurrent calls for one identifier share a single store round trip.
func (ix *Indexer) Exists(ctx context.Context, did string) (bool, error) {
	objectID := DocumentID(did)
	v, err, _ := ix.flight.Do(objectID, func() (interface{}, error) {
		return ix.exists(ctx, objectID)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// MarkProcessed records a confirmed durable identifier in the ProcessedSet.
// Used by the poller when an existence check already answered "present".
func (ix *Indexer) MarkProcessed(did string) {
	ix.processed.Add(did)
}

// Index idempotently writes a canonical document.
//
// # Description
//
// The document must carry its identifier in the "did" field (set by the
// translator). If a document with the derived object ID exists, the call
// reports OutcomeAlreadyPresent and marks the identifier processed. On a
// successful write it reports OutcomeIndexed and marks the identifier
// processed. On any store failure nothing is marked.
//
// # Outputs
//
//   - IndexOutcome: What happened; meaningful only when error is nil.
//   - error: Non-nil when the existence check or the write failed.
func (ix *Indexer) Index(ctx context.Context, doc map[string]interface{}) (IndexOutcome, error) {
	did, _ := doc["did"].(string)
	if did == "" {
		return 0, fmt.Errorf("document has no identifier")
	}

	present, err := ix.Exists(ctx, did)
	if err != nil {
		return 0, fmt.Errorf("existence check for %s: %w", did, err)
	}
	if present {
		ix.processed.Add(did)
		return OutcomeAlreadyPresent, nil
	}

	if err := ix.create(ctx, DocumentID(did), doc); err != nil {
		return 0, fmt.Errorf("index write for %s: %w", did, err)
	}

	ix.processed.Add(did)
	return OutcomeIndexed, nil
}

// Search runs a query against the durable index.
func (ix *Indexer) Search(ctx context.Context, query, recordType string, limit int) ([]datatypes.SearchHit, error) {
	if ix.search == nil {
		return nil, fmt.Errorf("search is not configured")
	}
	return ix.search(ctx, query, recordType, limit)
}

// =============================================================================
// Weaviate Adapters
// =============================================================================

// newWeaviateExistsFunc checks presence by fetching the object by ID.
// A "not found" style error means absent, not failed.
func newWeaviateExistsFunc(client *weaviate.Client, className string) ExistsFunc {
	return func(ctx context.Context, objectID string) (bool, error) {
		result, err := client.Data().ObjectsGetter().
			WithClassName(className).
			WithID(objectID).
			Do(ctx)
		if err != nil {
			if isNotFoundError(err) {
				return false, nil
			}
			return false, err
		}
		return len(result) > 0, nil
	}
}

// newWeaviateCreateFunc writes a canonical document as one object.
// Nested envelope blocks are flattened to scalar properties; the complete
// canonical document travels alongside as payloadJson so nothing is lost.
func newWeaviateCreateFunc(client *weaviate.Client, className string) CreateFunc {
	return func(ctx context.Context, objectID string, doc map[string]interface{}) error {
		_, err := client.Data().Creator().
			WithClassName(className).
			WithID(objectID).
			WithProperties(flattenForIndex(doc)).
			Do(ctx)
		return err
	}
}

// newWeaviateSearchFunc queries the class semantically, optionally filtered
// by record type.
func newWeaviateSearchFunc(client *weaviate.Client, className string) SearchFunc {
	return func(ctx context.Context, query, recordType string, limit int) ([]datatypes.SearchHit, error) {
		nearText := client.GraphQL().NearTextArgBuilder().
			WithConcepts([]string{query})

		get := client.GraphQL().Get().
			WithClassName(className).
			WithFields(
				graphql.Field{Name: "did"},
				graphql.Field{Name: "soul"},
				graphql.Field{Name: "recordType"},
				graphql.Field{Name: "creatorPublicKey"},
				graphql.Field{Name: "payloadJson"},
				graphql.Field{Name: "_additional { id }"},
			).
			WithNearText(nearText).
			WithLimit(limit)

		if recordType != "" {
			get = get.WithWhere(filters.Where().
				WithPath([]string{"recordType"}).
				WithOperator(filters.Equal).
				WithValueString(recordType))
		}

		result, err := get.Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("search query: %w", err)
		}
		if len(result.Errors) > 0 {
			return nil, fmt.Errorf("search error: %s", result.Errors[0].Message)
		}

		data, ok := result.Data["Get"].(map[string]interface{})
		if !ok {
			return []datatypes.SearchHit{}, nil
		}
		objects, ok := data[className].([]interface{})
		if !ok {
			return []datatypes.SearchHit{}, nil
		}

		hits := make([]datatypes.SearchHit, 0, len(objects))
		for _, obj := range objects {
			m, ok := obj.(map[string]interface{})
			if !ok {
				continue // skip malformed objects
			}
			hits = append(hits, datatypes.SearchHit{
				DID:        getString(m, "did"),
				Soul:       getString(m, "soul"),
				RecordType: getString(m, "recordType"),
				Properties: m,
			})
		}
		return hits, nil
	}
}

// flattenForIndex maps a canonical document onto flat index properties.
// Scalars copy through, known list fields become string lists, the creator
// block contributes creatorPublicKey, and the whole document is preserved
// as payloadJson.
func flattenForIndex(doc map[string]interface{}) map[string]interface{} {
	props := make(map[string]interface{}, len(doc)+2)

	for key, val := range doc {
		switch v := val.(type) {
		case string, bool, float64, int, int64:
			props[key] = v
		case []interface{}:
			props[key] = toStringSlice(v)
		}
	}

	if key := datatypes.CreatorPublicKeyOf(doc); key != "" {
		props["creatorPublicKey"] = key
	}
	delete(props, "id") // the object ID carries it

	if raw, err := json.Marshal(doc); err == nil {
		props["payloadJson"] = string(raw)
	}

	return props
}

// toStringSlice renders a decoded JSON list as text values.
func toStringSlice(list []interface{}) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
			continue
		}
		out = append(out, fmt.Sprint(item))
	}
	return out
}

// isNotFoundError reports whether a Weaviate error means "object absent"
// rather than "call failed".
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "not found") ||
		strings.Contains(errStr, "404") ||
		strings.Contains(errStr, "does not exist")
}

// getString reads a string property from a decoded GraphQL object.
func getString(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
