// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syncnode provides the Archipelago sync node service.
//
// This package contains the main service type that coordinates all
// components of a node: the sync engine that pulls records from peers,
// the local registry store served over the wire API, the gossip announce
// hub and subscriber, the durable search index, and the observability
// infrastructure.
//
// # Usage
//
//	cfg := syncnode.Config{
//	    Port:        12220,
//	    NodeID:      "node-eastport-01",
//	    WeaviateURL: "http://localhost:8080",
//	    PeersFile:   "/etc/archipelago/peers.yaml",
//	}
//	svc, err := syncnode.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package syncnode

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/archipelago/pkg/validation"
	"github.com/AleutianAI/archipelago/services/syncnode/backup"
	"github.com/AleutianAI/archipelago/services/syncnode/datatypes"
	"github.com/AleutianAI/archipelago/services/syncnode/discovery"
	"github.com/AleutianAI/archipelago/services/syncnode/engine"
	"github.com/AleutianAI/archipelago/services/syncnode/history"
	"github.com/AleutianAI/archipelago/services/syncnode/peers"
	"github.com/AleutianAI/archipelago/services/syncnode/routes"
	"github.com/AleutianAI/archipelago/services/syncnode/storage"
	"github.com/AleutianAI/archipelago/services/syncnode/telemetry"
)

// shutdownTimeout bounds the graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the sync node service.
//
// # Description
//
// Service abstracts the node lifecycle, enabling testing and alternative
// implementations. Run blocks until a shutdown signal or a fatal server
// error; Router exposes the configured HTTP engine for integration tests.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run is called at most
// once per instance.
type Service interface {
	// Run starts the sync engine, the gossip subscriber, and the HTTP
	// server, then blocks until SIGINT/SIGTERM or a fatal error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	// Callers must not modify the registered routes.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds sync node configuration options.
//
// NodeID and WeaviateURL are required; everything else has a default
// applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 12220
	Port int

	// NodeID identifies this node in registry entries, provenance
	// metadata, and telemetry. Required; lowercase DNS-label style.
	NodeID string

	// Backend is the storage backend tag used to derive identifiers,
	// e.g. "arch" in "did:arch:<soul>". Default: "arch"
	Backend string

	// RecordTypes is the catalog of record types polled from peers.
	// Default: datatypes.DefaultRecordTypes
	RecordTypes []string

	// SyncInterval is the period between scheduled sync cycles.
	// Default: engine.DefaultSyncInterval
	SyncInterval time.Duration

	// CacheMaxAge bounds the processed cache before wholesale eviction.
	// Default: engine.DefaultCacheMaxAge
	CacheMaxAge time.Duration

	// IndexFanOut and FetchWorkers tune the poller's concurrency.
	// Zero means the engine defaults.
	IndexFanOut  int
	FetchWorkers int

	// PeersFile is the YAML peer registry, hot-reloaded on change.
	// Empty means the node starts with no peers.
	PeersFile string

	// StorePath is the directory for the local registry store.
	// Default: "./data/registry"
	StorePath string

	// WeaviateURL is the durable search index URL. Required; the sync
	// engine cannot run without its index.
	WeaviateURL string

	// WeaviateClass is the index class for published records.
	// Default: "PublishedRecord"
	WeaviateClass string

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Default: uses GIN_MODE env var or "debug".
	GinMode string

	// Telemetry selects exporters and endpoints.
	// Zero value means telemetry.DefaultConfig().
	Telemetry telemetry.Config

	// InfluxURL enables per-cycle history points when set.
	// Token, org, and bucket follow history.Config defaults.
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// BackupBucket enables the registry backup endpoint when set.
	// BackupCredentials optionally points at a service account key.
	BackupBucket      string
	BackupCredentials string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// All fields are read-only after New() returns; lifecycle state lives
// inside the composed components.
type service struct {
	config Config
	router *gin.Engine

	engine     *engine.Engine
	indexer    *engine.Indexer
	store      *storage.DB
	registry   *storage.RegistryStore
	peerSource *peers.Source
	subscriber *discovery.Subscriber
	hub        *discovery.Hub
	uploader   *backup.Uploader
	recorder   *history.Recorder

	telemetryShutdown func(context.Context) error
}

// multiObserver fans completed-cycle statistics out to every sink.
type multiObserver []engine.CycleObserver

func (m multiObserver) ObserveCycle(ctx context.Context, stats engine.CycleStats) {
	for _, o := range m {
		o.ObserveCycle(ctx, stats)
	}
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a sync node Service with the given configuration.
//
// # Description
//
// New initializes all node components:
//  1. Applies default configuration for missing values
//  2. Initializes the OpenTelemetry stack
//  3. Connects the Weaviate client (required)
//  4. Opens the local registry store
//  5. Loads the peer registry (hot-reloaded when file-backed)
//  6. Assembles the sync engine and its collaborators
//  7. Sets up the HTTP routes
//
// # Outputs
//
//   - Service: Ready-to-run sync node
//   - error: Non-nil if any required component fails to initialize
func New(cfg Config) (Service, error) {
	cfg, err := applyConfigDefaults(cfg)
	if err != nil {
		return nil, err
	}
	s := &service{config: cfg}

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	s.telemetryShutdown, err = telemetry.Init(context.Background(), cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	weaviateClient, err := newWeaviateClient(cfg.WeaviateURL)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize durable index client: %w", err)
	}

	storeCfg := storage.DefaultConfig()
	storeCfg.Path = cfg.StorePath
	storeCfg.Logger = slog.Default()
	s.store, err = storage.Open(storeCfg)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open registry store: %w", err)
	}
	s.registry = storage.NewRegistryStore(s.store)

	if err := s.initPeers(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to load peer registry: %w", err)
	}

	if err := s.initEngine(weaviateClient); err != nil {
		s.cleanup()
		return nil, err
	}

	s.hub = discovery.NewHub()

	if cfg.BackupBucket != "" {
		s.uploader, err = backup.NewUploader(context.Background(), cfg.BackupBucket, cfg.BackupCredentials)
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("failed to initialize backup uploader: %w", err)
		}
	}

	s.initRouter()
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the node and blocks until shutdown.
//
// # Description
//
// Starts the sync engine (registry migration plus one synchronous cycle
// happen here), the gossip subscriber, and the HTTP server. A SIGINT or
// SIGTERM drains in-flight requests, stops the engine, and releases all
// resources before returning.
func (s *service) Run() error {
	defer s.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.engine.Start(ctx); err != nil {
		return fmt.Errorf("starting sync engine: %w", err)
	}
	s.subscriber.Start()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting sync node server",
			"port", s.config.Port,
			"node_id", s.config.NodeID,
			"backend", s.config.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		slog.Info("Shutdown signal received, draining")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Server shutdown incomplete", "error", err)
	}

	s.subscriber.Stop()
	s.engine.Stop()
	return nil
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values and rejects
// configurations the node cannot run with.
func applyConfigDefaults(cfg Config) (Config, error) {
	if err := validation.ValidateNodeID(cfg.NodeID); err != nil {
		return cfg, fmt.Errorf("invalid node id: %w", err)
	}
	if cfg.WeaviateURL == "" {
		return cfg, fmt.Errorf("a durable index URL is required")
	}

	if cfg.Port == 0 {
		cfg.Port = 12220
	}
	if cfg.Backend == "" {
		cfg.Backend = "arch"
	}
	if len(cfg.RecordTypes) == 0 {
		cfg.RecordTypes = datatypes.DefaultRecordTypes
	}
	if err := validation.ValidateRecordTypes(cfg.RecordTypes); err != nil {
		return cfg, err
	}
	if cfg.StorePath == "" {
		cfg.StorePath = "./data/registry"
	}
	if cfg.WeaviateClass == "" {
		cfg.WeaviateClass = "PublishedRecord"
	}
	if cfg.Telemetry == (telemetry.Config{}) {
		cfg.Telemetry = telemetry.DefaultConfig()
	}
	cfg.Telemetry.NodeID = cfg.NodeID

	return cfg, nil
}

// newWeaviateClient validates the URL and connects the index client.
func newWeaviateClient(rawURL string) (*weaviate.Client, error) {
	trimmed := strings.Trim(rawURL, "\"' ")
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid durable index URL: %s", rawURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("creating index client: %w", err)
	}

	slog.Info("Durable index client initialized", "url", trimmed)
	return client, nil
}

// initPeers loads the peer registry: file-backed and hot-reloaded when a
// path is configured, empty otherwise.
func (s *service) initPeers() error {
	if s.config.PeersFile == "" {
		slog.Warn("No peers file configured, node starts isolated")
		s.peerSource = peers.Static(nil)
		return nil
	}

	source, err := peers.NewSource(s.config.PeersFile)
	if err != nil {
		return err
	}
	s.peerSource = source
	return nil
}

// initEngine assembles the sync engine and its collaborators.
func (s *service) initEngine(client *weaviate.Client) error {
	clock := engine.SystemClock()
	processed := engine.NewProcessedSet()

	indexer := engine.NewWeaviateIndexer(client, s.config.WeaviateClass, processed)
	wire := engine.NewWireClient(engine.WireClientConfig{})
	poller := engine.NewPoller(
		engine.PollerConfig{
			Backend:      s.config.Backend,
			RecordTypes:  s.config.RecordTypes,
			IndexFanOut:  s.config.IndexFanOut,
			FetchWorkers: s.config.FetchWorkers,
		},
		wire, s.peerSource, indexer, processed,
	)

	migrator := engine.NewMigrator(
		engine.NewWeaviateScanner(client, s.config.WeaviateClass, s.config.Backend),
		s.registry, s.config.Backend, s.config.NodeID, clock,
	)

	observer, err := s.initObservers(processed)
	if err != nil {
		return err
	}

	s.subscriber = discovery.NewSubscriber(s.peerSource, discovery.SubscriberConfig{})

	eng, err := engine.New(
		engine.Config{
			Backend:      s.config.Backend,
			NodeID:       s.config.NodeID,
			SyncInterval: s.config.SyncInterval,
		},
		engine.Dependencies{
			Poller:     poller,
			Indexer:    indexer,
			Translator: engine.NewTranslator(s.config.Backend, s.config.NodeID, clock),
			Processed:  processed,
			Janitor:    engine.NewCacheJanitor(clock, s.config.CacheMaxAge),
			Health:     engine.NewHealthMonitor(clock),
			Migrator:   migrator,
			Discovery:  s.subscriber,
			Observer:   observer,
			Clock:      clock,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to assemble sync engine: %w", err)
	}

	s.indexer = indexer
	s.engine = eng
	return nil
}

// initObservers builds the cycle observer chain: OTel metrics always,
// InfluxDB history when configured.
func (s *service) initObservers(processed *engine.ProcessedSet) (engine.CycleObserver, error) {
	metrics, err := telemetry.NewMetrics(
		otel.Meter("archipelago/syncnode"),
		func() int64 { return int64(processed.Len()) },
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	observers := multiObserver{metrics}
	if s.config.InfluxURL != "" {
		s.recorder = history.NewRecorder(history.Config{
			URL:     s.config.InfluxURL,
			Token:   s.config.InfluxToken,
			Org:     s.config.InfluxOrg,
			Bucket:  s.config.InfluxBucket,
			NodeID:  s.config.NodeID,
			Backend: s.config.Backend,
		})
		observers = append(observers, s.recorder)
		slog.Info("Cycle history recording enabled", "influx_url", s.config.InfluxURL)
	}

	return observers, nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("syncnode-service"))

	routes.SetupRoutes(s.router, routes.Dependencies{
		Engine:         s.engine,
		Indexer:        s.indexer,
		Store:          s.registry,
		Hub:            s.hub,
		Uploader:       s.uploader,
		MetricsHandler: telemetry.MetricsHandler(),
		NodeID:         s.config.NodeID,
		Backend:        s.config.Backend,
	})
}

// cleanup releases all resources held by the service.
//
// Called when Run() exits or on initialization failure; every component
// tolerates being nil so a partial construction still unwinds.
func (s *service) cleanup() {
	if s.recorder != nil {
		s.recorder.Close()
	}
	if s.uploader != nil {
		if err := s.uploader.Close(); err != nil {
			slog.Warn("Backup uploader close error", "error", err)
		}
	}
	if s.peerSource != nil {
		if err := s.peerSource.Close(); err != nil {
			slog.Warn("Peer source close error", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("Registry store close error", "error", err)
		}
	}
	if s.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetryShutdown(ctx); err != nil {
			slog.Warn("Telemetry shutdown error", "error", err)
		}
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
