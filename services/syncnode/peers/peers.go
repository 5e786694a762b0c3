// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package peers supplies the set of remote nodes this node syncs from.
//
// The peer list lives in a YAML file so operators can add or remove
// peers without rebuilding; the file is watched and reloaded in place,
// and the engine picks up the current list at the start of each cycle.
package peers

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/archipelago/pkg/validation"
	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
)

// peerEntry is one peer declaration in the YAML file.
type peerEntry struct {
	NodeID string `yaml:"nodeId" validate:"required,nodeid"`
	URL    string `yaml:"url" validate:"required,url"`
}

// peersFile is the YAML document shape:
//
//	peers:
//	  - nodeId: node-eastport-01
//	    url: http://eastport-01.example.net:12260
type peersFile struct {
	Peers []peerEntry `yaml:"peers" validate:"dive"`
}

// peersValidate validates loaded peer files.
var peersValidate *validator.Validate

func init() {
	peersValidate = validator.New()
	_ = peersValidate.RegisterValidation("nodeid", func(fl validator.FieldLevel) bool {
		return validation.ValidateNodeID(fl.Field().String()) == nil
	})
}

// Source watches a YAML peer file and serves its current contents.
//
// # Description
//
// NewSource loads the file once and fails on a broken file, so a node
// never starts with a half-read peer set. After that a filesystem watch
// reloads on every write; a reload that fails validation is logged and
// discarded, keeping the last good list in service.
//
// # Thread Safety
//
// Current is safe for concurrent use with reloads.
type Source struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu      sync.RWMutex
	current []datatypes.Peer
}

// NewSource loads the peer file and starts watching it for changes.
//
// A watch setup failure is not fatal: the source still serves the list
// loaded at startup, without hot reload.
func NewSource(path string) (*Source, error) {
	s := &Source{
		path: path,
		done: make(chan struct{}),
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("Peer file watch unavailable, hot reload disabled", "path", path, "error", err)
		return s, nil
	}
	// Watch the directory, not the file: editors and config mounts
	// replace the file by rename, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		slog.Warn("Peer file watch unavailable, hot reload disabled", "path", path, "error", err)
		return s, nil
	}

	s.watcher = watcher
	go s.watch()
	return s, nil
}

// Static builds a fixed Source from an already-known peer list.
// Used when no peer file is configured and by tests.
func Static(peerSet []datatypes.Peer) *Source {
	return &Source{
		current: append([]datatypes.Peer(nil), peerSet...),
		done:    make(chan struct{}),
	}
}

// Current returns a copy of the current peer list.
func (s *Source) Current() []datatypes.Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]datatypes.Peer(nil), s.current...)
}

// Reload re-reads and validates the peer file, swapping in the new list
// atomically on success.
func (s *Source) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading peer file %s: %w", s.path, err)
	}

	var file peersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing peer file %s: %w", s.path, err)
	}
	if err := peersValidate.Struct(&file); err != nil {
		return fmt.Errorf("validating peer file %s: %w", s.path, err)
	}

	peerSet := make([]datatypes.Peer, 0, len(file.Peers))
	seen := make(map[string]struct{}, len(file.Peers))
	for _, entry := range file.Peers {
		if _, dup := seen[entry.NodeID]; dup {
			return fmt.Errorf("peer file %s: duplicate nodeId %q", s.path, entry.NodeID)
		}
		seen[entry.NodeID] = struct{}{}
		peerSet = append(peerSet, datatypes.Peer{NodeID: entry.NodeID, URL: entry.URL})
	}

	s.mu.Lock()
	s.current = peerSet
	s.mu.Unlock()

	slog.Info("Peer list loaded", "path", s.path, "peers", len(peerSet))
	return nil
}

// Close stops the file watch. The last loaded list remains served.
func (s *Source) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// watch reloads the peer list whenever the file is written or replaced.
func (s *Source) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := s.Reload(); err != nil {
				slog.Warn("Peer file reload failed, keeping previous list", "error", err)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Peer file watch error", "error", err)
		}
	}
}
