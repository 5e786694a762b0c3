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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/archipelago/pkg/validation"
	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
)

// ErrNotFound is returned by wire fetches when the peer has no document
// under the requested soul. Callers treat it as a silent skip, not a
// failure.
var ErrNotFound = errors.New("soul not found on peer")

const (
	// DefaultIndexFetchTimeout bounds one registry index fetch.
	DefaultIndexFetchTimeout = 5 * time.Second

	// DefaultRecordFetchTimeout bounds one record payload fetch.
	DefaultRecordFetchTimeout = 10 * time.Second

	// DefaultIndexFanOut is the number of concurrent peer/type index
	// fetches per cycle.
	DefaultIndexFanOut = 4

	// DefaultFetchWorkers is the size of the record fetch pool.
	DefaultFetchWorkers = 8

	// DefaultWireRequestsPerSecond paces outbound wire requests so a
	// large peer set cannot saturate a single slow node.
	DefaultWireRequestsPerSecond = 20
)

// WireFetcher is the read side of the peer wire API.
type WireFetcher interface {
	// FetchIndex retrieves the registry index document for a record type.
	// Returns ErrNotFound when the peer publishes no index for the type.
	FetchIndex(ctx context.Context, baseURL, recordType string) (datatypes.RegistryIndex, error)

	// FetchRecord retrieves one record payload by soul.
	// Returns ErrNotFound when the soul is absent on the peer.
	FetchRecord(ctx context.Context, baseURL, soul string) (map[string]interface{}, error)
}

// PeerSource supplies the current peer set. Implementations may reload
// it behind the scenes; Current must be safe for concurrent use.
type PeerSource interface {
	Current() []datatypes.Peer
}

// WireClient is the HTTP implementation of WireFetcher.
//
// Two separate clients carry the two timeout classes: index documents
// are small and fetched often, record payloads are larger and rarer.
// An optional rate limiter paces all outbound requests.
type WireClient struct {
	indexClient  *http.Client
	recordClient *http.Client
	limiter      *rate.Limiter
}

// WireClientConfig holds the tunables for a WireClient.
type WireClientConfig struct {
	// IndexTimeout bounds registry index fetches. Zero means the default.
	IndexTimeout time.Duration

	// RecordTimeout bounds record payload fetches. Zero means the default.
	RecordTimeout time.Duration

	// RequestsPerSecond paces outbound requests across all peers.
	// Zero means the default; negative disables pacing.
	RequestsPerSecond float64
}

// NewWireClient creates a WireClient with defaults applied.
func NewWireClient(cfg WireClientConfig) *WireClient {
	if cfg.IndexTimeout <= 0 {
		cfg.IndexTimeout = DefaultIndexFetchTimeout
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = DefaultRecordFetchTimeout
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = DefaultWireRequestsPerSecond
	}

	c := &WireClient{
		indexClient:  &http.Client{Timeout: cfg.IndexTimeout},
		recordClient: &http.Client{Timeout: cfg.RecordTimeout},
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond))
	}
	return c
}

// FetchIndex retrieves the registry index for a record type from a peer.
func (c *WireClient) FetchIndex(ctx context.Context, baseURL, recordType string) (datatypes.RegistryIndex, error) {
	raw, err := c.get(ctx, c.indexClient, baseURL, datatypes.RegistryIndexSoul(recordType))
	if err != nil {
		return nil, err
	}

	var index datatypes.RegistryIndex
	if len(raw) == 0 || string(raw) == "null" {
		return datatypes.RegistryIndex{}, nil
	}
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("decoding registry index: %w", err)
	}
	return index, nil
}

// FetchRecord retrieves one record payload by soul from a peer.
func (c *WireClient) FetchRecord(ctx context.Context, baseURL, soul string) (map[string]interface{}, error) {
	raw, err := c.get(ctx, c.recordClient, baseURL, soul)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrNotFound
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding record payload: %w", err)
	}
	return payload, nil
}

// get performs one wire request and unwraps the response envelope.
func (c *WireClient) get(ctx context.Context, client *http.Client, baseURL, soul string) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	endpoint := fmt.Sprintf("%s/get?soul=%s", strings.TrimRight(baseURL, "/"), url.QueryEscape(soul))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building wire request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wire request to %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wire request to %s: status %d", baseURL, resp.StatusCode)
	}

	var envelope datatypes.WireResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding wire response: %w", err)
	}
	if !envelope.Success {
		if isNotFoundError(errors.New(envelope.Error)) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("peer error: %s", envelope.Error)
	}
	return envelope.Data, nil
}

// =============================================================================
// Poller
// =============================================================================

// PollerConfig holds the tunables for a Poller.
type PollerConfig struct {
	// Backend is the storage backend tag used to derive identifiers.
	Backend string

	// RecordTypes is the catalog of types polled from every peer.
	// Empty means datatypes.DefaultRecordTypes.
	RecordTypes []string

	// IndexFanOut is the number of concurrent index fetches.
	// Zero or negative means the default.
	IndexFanOut int

	// FetchWorkers is the record fetch pool size.
	// Zero or negative means the default.
	FetchWorkers int
}

// Poller discovers records by walking every peer's per-type registry
// indexes and fetching the payloads this node has not yet processed.
//
// # Description
//
// A poll runs in two stages. Stage one fans out over every peer/type
// pair and fetches the registry index documents; a peer without an index
// for a type is skipped silently, a failed fetch is counted and skipped.
// Stage two walks the collected indexes in a stable order, drops
// metadata keys and already-processed identifiers, confirms absence
// against the durable index, and fetches the remaining payloads through
// a fixed worker pool. A failure on one unit never aborts the poll.
//
// Records fetched over this path are never encrypted; ciphertext only
// travels on the gossip announce path.
type Poller struct {
	wire      WireFetcher
	peers     PeerSource
	indexer   *Indexer
	processed *ProcessedSet

	backend     string
	recordTypes []string
	fanOut      int
	workers     int
}

// PollResult reports one poll: the records discovered in stable order
// and the number of per-unit failures encountered along the way.
type PollResult struct {
	Records []datatypes.DiscoveredRecord
	Errors  int
}

// NewPoller creates a Poller with defaults applied.
func NewPoller(cfg PollerConfig, wire WireFetcher, peers PeerSource, indexer *Indexer, processed *ProcessedSet) *Poller {
	if len(cfg.RecordTypes) == 0 {
		cfg.RecordTypes = datatypes.DefaultRecordTypes
	}
	if cfg.IndexFanOut <= 0 {
		cfg.IndexFanOut = DefaultIndexFanOut
	}
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = DefaultFetchWorkers
	}

	return &Poller{
		wire:        wire,
		peers:       peers,
		indexer:     indexer,
		processed:   processed,
		backend:     cfg.Backend,
		recordTypes: cfg.RecordTypes,
		fanOut:      cfg.IndexFanOut,
		workers:     cfg.FetchWorkers,
	}
}

// pollTarget is one peer/type pair whose index gets fetched in stage one.
type pollTarget struct {
	peer       datatypes.Peer
	recordType string
}

// candidate is one index entry that survived the metadata and processed
// filters and is eligible for a record fetch.
type candidate struct {
	soul string
	did  string
	peer datatypes.Peer
}

// Poll discovers new records from all current peers.
//
// The returned records preserve discovery order: peers in configuration
// order, record types in catalog order, souls in lexical order. The same
// soul may appear more than once when multiple peers carry it; the
// dedupe stage downstream keeps the first occurrence.
func (p *Poller) Poll(ctx context.Context) PollResult {
	peerSet := p.peers.Current()
	if len(peerSet) == 0 {
		slog.Debug("Poll skipped, no peers configured")
		return PollResult{}
	}

	targets := make([]pollTarget, 0, len(peerSet)*len(p.recordTypes))
	for _, peer := range peerSet {
		for _, recordType := range p.recordTypes {
			targets = append(targets, pollTarget{peer: peer, recordType: recordType})
		}
	}

	indexes, indexErrors := p.fetchIndexes(ctx, targets)
	candidates, checkErrors := p.selectCandidates(ctx, targets, indexes)
	records, fetchErrors := p.fetchRecords(ctx, candidates)

	return PollResult{
		Records: records,
		Errors:  indexErrors + checkErrors + fetchErrors,
	}
}

// fetchIndexes fans out over the peer/type pairs and collects their
// registry indexes, indexed by target position. Missing indexes are
// silent skips; failures are counted, logged, and skipped.
func (p *Poller) fetchIndexes(ctx context.Context, targets []pollTarget) ([]datatypes.RegistryIndex, int) {
	indexes := make([]datatypes.RegistryIndex, len(targets))
	var errCount atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.fanOut)

	for i, target := range targets {
		i, target := i, target

		g.Go(func() error {
			index, err := p.wire.FetchIndex(gCtx, target.peer.URL, target.recordType)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					slog.Debug("Peer publishes no index for type",
						"peer", target.peer.NodeID, "record_type", target.recordType)
					return nil
				}
				errCount.Add(1)
				slog.Warn("Registry index fetch failed",
					"peer", target.peer.NodeID, "record_type", target.recordType, "error", err)
				return nil // per-target isolation, never abort the poll
			}
			indexes[i] = index
			return nil
		})
	}
	_ = g.Wait()

	return indexes, int(errCount.Load())
}

// selectCandidates walks the fetched indexes in target order with souls
// sorted lexically, filtering out metadata keys, malformed entries,
// already-processed identifiers, and identifiers already durable in the
// index. Confirmed-durable identifiers are marked processed on the way.
func (p *Poller) selectCandidates(ctx context.Context, targets []pollTarget, indexes []datatypes.RegistryIndex) ([]candidate, int) {
	var candidates []candidate
	errCount := 0

	for i, index := range indexes {
		if len(index) == 0 {
			continue
		}

		keys := make([]string, 0, len(index))
		for key := range index {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			if strings.HasPrefix(key, "_") {
				continue // index metadata, not a record entry
			}
			entry := index[key]
			if entry.Soul == "" {
				slog.Debug("Index entry missing soul", "key", key, "peer", targets[i].peer.NodeID)
				continue
			}
			if err := validation.ValidateSoul(entry.Soul); err != nil {
				slog.Debug("Index entry has malformed soul",
					"soul", entry.Soul, "peer", targets[i].peer.NodeID, "error", err)
				continue
			}

			did := datatypes.DID(p.backend, entry.Soul)
			if p.processed.Has(did) {
				continue
			}

			present, err := p.indexer.Exists(ctx, did)
			if err != nil {
				errCount++
				slog.Warn("Existence check failed during poll", "did", did, "error", err)
				continue
			}
			if present {
				p.indexer.MarkProcessed(did)
				continue
			}

			candidates = append(candidates, candidate{
				soul: entry.Soul,
				did:  did,
				peer: targets[i].peer,
			})
		}
	}

	return candidates, errCount
}

// fetchRecords pulls the candidate payloads through a fixed worker pool.
// Results keep candidate order regardless of fetch completion order.
func (p *Poller) fetchRecords(ctx context.Context, candidates []candidate) ([]datatypes.DiscoveredRecord, int) {
	if len(candidates) == 0 {
		return nil, 0
	}

	var wg sync.WaitGroup
	jobs := make(chan int, len(candidates))
	results := make([]*datatypes.DiscoveredRecord, len(candidates))
	var errCount atomic.Int64

	workers := p.workers
	if workers > len(candidates) {
		workers = len(candidates)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go p.fetchWorker(ctx, w, &wg, jobs, candidates, results, &errCount)
	}

	for i := range candidates {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	records := make([]datatypes.DiscoveredRecord, 0, len(candidates))
	for _, rec := range results {
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, int(errCount.Load())
}

// fetchWorker drains candidate indexes from jobs and writes fetched
// records into the slot matching the candidate position.
func (p *Poller) fetchWorker(ctx context.Context, id int, wg *sync.WaitGroup,
	jobs <-chan int, candidates []candidate,
	results []*datatypes.DiscoveredRecord, errCount *atomic.Int64,
) {
	defer wg.Done()

	for i := range jobs {
		cand := candidates[i]
		slog.Debug("Worker fetching record", "worker_id", id, "soul", cand.soul, "peer", cand.peer.NodeID)

		payload, err := p.wire.FetchRecord(ctx, cand.peer.URL, cand.soul)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				slog.Debug("Record vanished between index and fetch",
					"soul", cand.soul, "peer", cand.peer.NodeID)
				continue
			}
			errCount.Add(1)
			slog.Warn("Record fetch failed",
				"worker_id", id, "soul", cand.soul, "peer", cand.peer.NodeID, "error", err)
			continue
		}

		results[i] = &datatypes.DiscoveredRecord{
			Soul:         cand.soul,
			Payload:      payload,
			SourceNodeID: cand.peer.NodeID,
			WasEncrypted: false,
		}
	}
}
