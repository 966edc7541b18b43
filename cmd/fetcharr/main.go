package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fetcharr/fetcharr/internal/api"
	"github.com/fetcharr/fetcharr/internal/config"
	"github.com/fetcharr/fetcharr/internal/materializer"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/pipeline"
	"github.com/fetcharr/fetcharr/internal/resolver"
	"github.com/fetcharr/fetcharr/internal/scheduler"
	"github.com/fetcharr/fetcharr/internal/services/debrid"
	"github.com/fetcharr/fetcharr/internal/services/discovery"
	"github.com/fetcharr/fetcharr/internal/services/mediaserver"
	"github.com/fetcharr/fetcharr/internal/services/metadata"
	"github.com/fetcharr/fetcharr/internal/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Setup logger
	logger := utils.NewLogger(cfg.LogLevel)
	logger.Info("Starting Fetcharr")
	logger.WithField("config_dir", filepath.Dir(cfg.DatabaseFile)).Info("Configuration loaded")

	// 3. Initialize database
	db, err := models.NewDatabase(cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	logger.Info("Database initialized")

	// 4. Initialize services
	catalogClient, err := metadata.NewClient(cfg.CatalogURL, cfg.CatalogKey, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize catalog client: %w", err)
	}
	logger.Info("Catalog client initialized")

	backends := make([]discovery.Backend, 0, len(cfg.IndexerURLs))
	for i, indexerURL := range cfg.IndexerURLs {
		backend, err := discovery.NewTorrentioBackend(fmt.Sprintf("indexer-%d", i+1), indexerURL, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize indexer: %w", err)
		}
		backends = append(backends, backend)
	}
	discoveryService := discovery.NewService(backends, cfg.SearchTimeout, logger)
	logger.WithField("backends", len(backends)).Info("Discovery service initialized")

	providers := make([]debrid.ProviderClient, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		client, err := debrid.NewTorboxClient(pc.Name, pc.URL, pc.APIKey, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize provider: %w", err)
		}
		providers = append(providers, client)
	}
	logger.WithField("providers", len(providers)).Info("Provider clients initialized")

	registry := func(name string) (debrid.ProviderClient, bool) {
		for _, p := range providers {
			if p.Name() == name {
				return p, true
			}
		}
		return nil, false
	}

	// 5. Assemble the pipeline
	mount := materializer.NewDirMount(cfg.MountPath)
	mat := materializer.NewMaterializer(materializer.Roots{
		Movies:      cfg.MoviesRoot,
		Shows:       cfg.ShowsRoot,
		AnimeMovies: cfg.AnimeMovies,
		AnimeShows:  cfg.AnimeShows,
	}, mount, registry, logger)

	res := resolver.NewResolver(cfg.ProviderTimeout, cfg.PollInterval, logger)
	refresher := mediaserver.NewClient(cfg.MediaServerURL, cfg.MediaServerToken, logger)

	pipe := pipeline.NewPipeline(db, catalogClient, discoveryService, res, mat, providers, refresher, pipeline.Options{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}, logger)
	logger.Info("Pipeline initialized")

	// 6. Start the scheduler
	sched := scheduler.NewScheduler(db, pipe, cfg.ScanSchedule, cfg.Workers, logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// 7. Initialize HTTP server
	server := api.NewServer(cfg, db, pipe, sched, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErrChan <- err
		}
	}()

	// 8. Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Fetcharr is running")

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
		if err := server.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Error("Error during server shutdown")
		}
	}

	logger.Info("Fetcharr stopped")
	return nil
}
