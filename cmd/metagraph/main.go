// Package main implements the entry point for the metagraph warehouse.
// Metagraph stores container-scoped ontologies, maps inbound payloads onto
// them, and serves each container's graph through a generated GraphQL API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/metagraph/config"
	"github.com/c360/metagraph/events"
	"github.com/c360/metagraph/gateway/graphql"
	"github.com/c360/metagraph/graph/repository"
	"github.com/c360/metagraph/ingest"
	"github.com/c360/metagraph/mapping"
	"github.com/c360/metagraph/ontology"
	"github.com/c360/metagraph/schema"
	"github.com/c360/metagraph/store"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "metagraph"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, cfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	db, dialect, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := store.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	slog.Info("Database ready", "driver", cfg.Database.Driver)

	logger := slog.Default()
	registry := prometheus.NewRegistry()

	// Storage and mapping layers
	ontStore := ontology.NewSQLStore(db, logger)
	repo := repository.New(db, dialect, logger)
	mappingStorage := mapping.NewCachedStorage(
		mapping.NewSQLStorage(db, logger), cfg.Cache.MappingCacheSize, logger)
	defer mappingStorage.Close()

	// Query layer
	schemaMetrics, err := schema.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("register schema metrics: %w", err)
	}
	generator := schema.NewGenerator(ontStore, logger,
		schema.WithGeneratorMetrics(schemaMetrics))
	resolver := schema.NewResolver(schema.NewRepositoryReader(repo), logger,
		schema.WithResolverMetrics(schemaMetrics))
	executor := schema.NewExecutor(resolver, logger)
	service := graphql.NewService(generator, executor, cfg.Cache.SchemaCacheSize, logger)

	// Optional event plumbing
	publisher, natsCleanup, err := setupEvents(cfg, service, logger)
	if err != nil {
		return err
	}
	defer natsCleanup()

	// Ingest pipeline
	engine := mapping.NewEngine(mappingStorage, logger, mapping.WithPublisher(publisher))
	ingester, err := ingest.NewIngester(engine,
		ingest.NewRepositoryWriter(repo), publisher, logger,
		ingest.Options{Metrics: registry})
	if err != nil {
		return fmt.Errorf("create ingester: %w", err)
	}
	if err := ingester.Start(ctx); err != nil {
		return fmt.Errorf("start ingester: %w", err)
	}
	defer ingester.Stop()

	// Gateway
	server, err := setupGateway(cfg, service, registry, logger)
	if err != nil {
		return err
	}

	return runWithSignalHandling(ctx, server, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags, loads configuration, and sets up logging
func initializeCLI() (*CLIConfig, *config.Config, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return nil, nil, false, fmt.Errorf("load config: %w", err)
	}

	// CLI flags win over file and environment
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	slog.Info("Starting metagraph (metadata-driven graph warehouse)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, cfg, false, nil
}

// setupEvents connects NATS when configured and subscribes the gateway's
// schema cache to ontology change events. Without NATS the publisher is nil
// and every emit is a no-op.
func setupEvents(cfg *config.Config, service *graphql.Service, logger *slog.Logger) (*events.Publisher, func(), error) {
	if !cfg.NATS.Enabled() {
		slog.Info("NATS not configured, events disabled")
		return events.NewPublisher(nil, logger), func() {}, nil
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(appName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	sub, err := service.WatchOntology(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("subscribe to ontology events: %w", err)
	}

	slog.Info("Connected to NATS", "url", cfg.NATS.URL)
	cleanup := func() {
		_ = sub.Unsubscribe()
		nc.Close()
	}
	return events.NewPublisher(nc, logger), cleanup, nil
}

// setupGateway configures the GraphQL HTTP server and its metrics endpoint
func setupGateway(cfg *config.Config, service *graphql.Service, registry *prometheus.Registry, logger *slog.Logger) (*graphql.Server, error) {
	gwCfg := graphql.Config{
		BindAddress:      cfg.Server.BindAddress,
		EnablePlayground: cfg.Server.EnablePlayground,
		TimeoutStr:       cfg.Server.TimeoutStr,
		SchemaCacheSize:  cfg.Cache.SchemaCacheSize,
	}

	server, err := graphql.NewServer(gwCfg, service, logger)
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}

	server.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	if err := server.Setup(); err != nil {
		return nil, fmt.Errorf("setup gateway: %w", err)
	}
	return server, nil
}

// runWithSignalHandling starts the gateway and shuts down on SIGINT/SIGTERM
func runWithSignalHandling(ctx context.Context, server *graphql.Server, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	ready := make(chan struct{})
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(signalCtx, ready)
	}()

	select {
	case <-ready:
		slog.Info("metagraph started successfully")
	case err := <-errChan:
		return fmt.Errorf("gateway failed to start: %w", err)
	}

	select {
	case <-signalCtx.Done():
		slog.Info("Received shutdown signal")
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("gateway failed: %w", err)
		}
		return nil
	}

	if err := server.Stop(shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("metagraph shutdown complete")
	return nil
}
