// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package discovery implements the gossip announce protocol: the hub
// side streams this node's publications to websocket subscribers, and
// the subscriber side listens to every peer's stream and buffers the
// announced records for the next sync cycle.
//
// The subscriber is the engine's secondary discovery source and the only
// path that carries encrypted records; the registry poller serves public
// records only.
package discovery

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
)

const (
	// hubSendBuffer is the per-subscriber frame queue. A subscriber that
	// falls this far behind is disconnected rather than allowed to stall
	// the publisher.
	hubSendBuffer = 64

	// hubWriteTimeout bounds one frame write to a subscriber.
	hubWriteTimeout = 10 * time.Second

	// DefaultBufferLimit caps how many announced records the subscriber
	// holds between sync cycles. Beyond it the oldest records are
	// dropped; the registry poller re-discovers public ones later.
	DefaultBufferLimit = 1024

	// reconnectDelay is the pause before re-dialing a lost peer stream.
	reconnectDelay = 30 * time.Second
)

// AnnouncePath is the websocket endpoint every node serves its announce
// stream on.
const AnnouncePath = "/ws/announce"

// =============================================================================
// Hub (serving side)
// =============================================================================

// Hub fans this node's announce frames out to connected subscribers.
//
// # Thread Safety
//
// Safe for concurrent use. Each subscriber has its own writer pump, so a
// slow consumer never blocks Broadcast.
type Hub struct {
	mu   sync.Mutex
	subs map[*hubSubscriber]struct{}
}

type hubSubscriber struct {
	conn *websocket.Conn
	send chan datatypes.AnnounceFrame
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*hubSubscriber]struct{})}
}

// Serve registers an upgraded connection and blocks until it closes.
// The caller owns the upgrade; Serve owns the connection afterwards.
func (h *Hub) Serve(conn *websocket.Conn) {
	sub := &hubSubscriber{
		conn: conn,
		send: make(chan datatypes.AnnounceFrame, hubSendBuffer),
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()
	slog.Info("Announce subscriber connected", "subscribers", count)

	go h.writePump(sub)

	// Subscribers send nothing meaningful; reading only detects close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(sub)
}

// Broadcast queues a frame to every connected subscriber.
func (h *Hub) Broadcast(frame datatypes.AnnounceFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.send <- frame:
		default:
			slog.Warn("Dropping lagging announce subscriber")
			delete(h.subs, sub)
			close(sub.send)
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// writePump drains a subscriber's queue onto its connection.
func (h *Hub) writePump(sub *hubSubscriber) {
	for frame := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
		if err := sub.conn.WriteJSON(frame); err != nil {
			slog.Debug("Announce write failed, dropping subscriber", "error", err)
			h.drop(sub)
			return
		}
	}
	_ = sub.conn.Close()
}

// drop unregisters a subscriber and closes its connection.
func (h *Hub) drop(sub *hubSubscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
	h.mu.Unlock()
	_ = sub.conn.Close()
}

// =============================================================================
// Subscriber (consuming side)
// =============================================================================

// PeerSource supplies the peer set whose streams get subscribed.
type PeerSource interface {
	Current() []datatypes.Peer
}

// SubscriberConfig holds the tunables for a Subscriber.
type SubscriberConfig struct {
	// BufferLimit caps buffered records between cycles.
	// Zero means DefaultBufferLimit.
	BufferLimit int

	// ReconnectDelay is the pause before re-dialing a lost stream.
	// Zero means the default.
	ReconnectDelay time.Duration
}

// Subscriber listens to peer announce streams and buffers the announced
// records until a sync cycle drains them through Collect.
//
// # Description
//
// Start launches one connection manager per peer in the set at start
// time; each manager re-dials its peer with a fixed delay after any
// failure, forever, until Stop. Frames that are not record
// announcements, or that lack a soul or payload, are ignored.
//
// TODO: pick up peers added by a config reload without a restart; today
// a new peer's stream is only subscribed after the node restarts, and
// its public records still arrive through the registry poller.
//
// # Thread Safety
//
// Safe for concurrent use.
type Subscriber struct {
	peers PeerSource
	cfg   SubscriberConfig

	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	mu      sync.Mutex
	pending []datatypes.DiscoveredRecord
	dropped int
}

// NewSubscriber creates a Subscriber with defaults applied.
func NewSubscriber(peers PeerSource, cfg SubscriberConfig) *Subscriber {
	if cfg.BufferLimit <= 0 {
		cfg.BufferLimit = DefaultBufferLimit
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = reconnectDelay
	}
	return &Subscriber{
		peers: peers,
		cfg:   cfg,
		done:  make(chan struct{}),
	}
}

// Start begins subscribing to every current peer's announce stream.
func (s *Subscriber) Start() {
	s.startOnce.Do(func() {
		peerSet := s.peers.Current()
		for _, peer := range peerSet {
			go s.managePeer(peer)
		}
		slog.Info("Gossip subscriber started", "peers", len(peerSet))
	})
}

// Stop disconnects all streams. Buffered records remain collectable.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Collect drains the buffered records. Implements the engine's secondary
// discovery source contract.
func (s *Subscriber) Collect(_ context.Context) []datatypes.DiscoveredRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.pending
	s.pending = nil
	if s.dropped > 0 {
		slog.Warn("Gossip buffer overflowed since last cycle", "records_dropped", s.dropped)
		s.dropped = 0
	}
	return out
}

// managePeer keeps one peer's stream subscribed until Stop.
func (s *Subscriber) managePeer(peer datatypes.Peer) {
	wsURL, err := announceURL(peer.URL)
	if err != nil {
		slog.Warn("Peer has no usable announce URL, gossip disabled for it",
			"peer", peer.NodeID, "url", peer.URL, "error", err)
		return
	}

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.consumeStream(peer, wsURL); err != nil {
			slog.Debug("Announce stream closed", "peer", peer.NodeID, "error", err)
		}

		select {
		case <-s.done:
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

// consumeStream dials one peer stream and buffers its frames until the
// connection fails or the subscriber stops.
func (s *Subscriber) consumeStream(peer datatypes.Peer, wsURL string) error {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	slog.Info("Subscribed to peer announce stream", "peer", peer.NodeID)

	// Unblock the read loop when Stop is called.
	connDone := make(chan struct{})
	defer close(connDone)
	go func() {
		select {
		case <-s.done:
			_ = conn.Close()
		case <-connDone:
		}
	}()

	for {
		var frame datatypes.AnnounceFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		s.buffer(peer, frame)
	}
}

// buffer appends one announced record, evicting the oldest on overflow.
func (s *Subscriber) buffer(peer datatypes.Peer, frame datatypes.AnnounceFrame) {
	if frame.Action != datatypes.AnnounceActionRecord || frame.Soul == "" || frame.Payload == nil {
		return
	}

	sourceNode := frame.NodeID
	if sourceNode == "" {
		sourceNode = peer.NodeID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) >= s.cfg.BufferLimit {
		s.pending = s.pending[1:]
		s.dropped++
	}
	s.pending = append(s.pending, datatypes.DiscoveredRecord{
		Soul:         frame.Soul,
		Payload:      frame.Payload,
		SourceNodeID: sourceNode,
		WasEncrypted: frame.Encrypted,
	})
}

// announceURL converts a peer's HTTP base URL to its announce stream URL.
func announceURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += AnnouncePath
	return u.String(), nil
}
