package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mwirth/immoharvest/internal/api"
	"github.com/mwirth/immoharvest/internal/assets"
	"github.com/mwirth/immoharvest/internal/config"
	"github.com/mwirth/immoharvest/internal/harvest"
	"github.com/mwirth/immoharvest/internal/logger"
	"github.com/mwirth/immoharvest/internal/metrics"
	"github.com/mwirth/immoharvest/internal/progress"
	"github.com/mwirth/immoharvest/internal/sink"
	"github.com/mwirth/immoharvest/internal/source"
	"github.com/mwirth/immoharvest/internal/source/listing"
	"github.com/mwirth/immoharvest/internal/storage"
)

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	configPath := flag.String("config", "", "Path to config file")
	onlySource := flag.String("source", "", "Harvest a single source by id")
	maxPages := flag.Int("max-pages", 0, "Override the per-seed page cap (0 = use config)")
	statusAddr := flag.String("status-addr", "", "Override the status server listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if *maxPages > 0 {
		cfg.Harvest.MaxPages = *maxPages
	}
	if *statusAddr != "" {
		cfg.Server.Addr = *statusAddr
	}

	metrics.Init()

	runID := uuid.New().String()
	appLogger = appLogger.WithField(logger.FieldRunID, runID)

	// Durable progress store: the single source of truth for resume.
	store, err := progress.Open(&cfg.Progress)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to open progress store")
	}
	defer store.Close()

	assetStore, err := storage.New(&cfg.Storage)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize asset storage")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if s3, ok := assetStore.(*storage.S3Store); ok {
		if err := s3.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
	}

	downloader := assets.New(ctx, &cfg.Assets, assetStore, store, appLogger)

	var (
		coordinators []*harvest.Coordinator
		sinks        []sink.Sink
		browsers     []io.Closer
	)
	for i := range cfg.Sources {
		src := cfg.Sources[i]
		if !src.Enabled {
			continue
		}
		if *onlySource != "" && src.ID != *onlySource {
			continue
		}

		var adapter source.Adapter
		switch src.Adapter {
		case "browser":
			b := listing.NewBrowser(src, &cfg.Harvest)
			browsers = append(browsers, b)
			adapter = b
		default:
			adapter = listing.NewStatic(src, &cfg.Harvest)
		}

		out, err := sink.NewCSV(
			filepath.Join(cfg.Sink.Dir, src.ID+".csv"),
			cfg.Sink.Columns,
			cfg.Sink.Placeholder,
		)
		if err != nil {
			appLogger.WithError(err).WithField(logger.FieldSource, src.ID).
				Fatal("Failed to open export sink")
		}
		sinks = append(sinks, out)

		coordinators = append(coordinators,
			harvest.NewCoordinator(adapter, store, out, downloader, appLogger, &cfg.Harvest, runID))
	}

	if len(coordinators) == 0 {
		appLogger.Fatal("No enabled sources matched")
	}

	supervisor := harvest.NewSupervisor(coordinators, downloader, store, appLogger, runID)

	// Optional status/metrics server for watching a long run.
	var statusSrv *http.Server
	if cfg.Server.Enabled {
		router := api.SetupRouter(supervisor, appLogger, runID, cfg.Server.Mode)
		statusSrv = &http.Server{Addr: cfg.Server.Addr, Handler: router}
		go func() {
			appLogger.WithField("addr", cfg.Server.Addr).Info("Status server listening")
			if err := statusSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				appLogger.WithError(err).Error("Status server failed")
			}
		}()
	}

	// Graceful shutdown: cancellation abandons in-flight units without
	// progress marks, so the next run resumes them.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	report := supervisor.Run(ctx)

	for _, out := range sinks {
		if err := out.Close(); err != nil {
			appLogger.WithError(err).Warn("Failed to close export sink")
		}
	}

	for _, b := range browsers {
		if err := b.Close(); err != nil {
			appLogger.WithError(err).Warn("Failed to shut down browser pool")
		}
	}

	if statusSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		statusSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	for _, src := range report.Sources {
		entry := appLogger.WithFields(logger.Fields{
			logger.FieldSource: src.Source,
			"completed":        src.UnitsCompleted,
			"failed":           src.UnitsFailed,
			"skipped":          src.UnitsSkipped,
			"records":          src.RecordsWritten,
			"assets":           src.AssetsDownloaded,
		})
		if src.Fatal() {
			entry.WithField("fatal_error", src.FatalError).Error("Source aborted")
		} else {
			entry.Info("Source finished")
		}
	}

	if !report.OK() {
		appLogger.Error("Run finished with failures")
		logger.Sync()
		os.Exit(1)
	}
	appLogger.Info("Run finished cleanly")
}
