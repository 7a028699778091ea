// roomsched-extract runs a single extraction cycle and exits. Meant for cron
// or ad-hoc refreshes against the same store and artifact directory the
// server uses.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/campusrooms/roomsched/internal/artifact"
	"github.com/campusrooms/roomsched/internal/config"
	"github.com/campusrooms/roomsched/internal/extract"
	"github.com/campusrooms/roomsched/internal/feed"
	"github.com/campusrooms/roomsched/internal/logging"
	"github.com/campusrooms/roomsched/internal/merge"
	"github.com/campusrooms/roomsched/internal/render"
	"github.com/campusrooms/roomsched/internal/storage/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.New(cfg.LogLevel)
	logger = logger.With().Str("component", "extract-cli").Logger()

	store, err := sqlite.New(cfg.Store.Path, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("store init failed")
	}
	defer store.Close()

	dir, err := artifact.NewDir(cfg.Extract.ArtifactDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("artifact dir init failed")
	}

	fetcher := feed.NewICSClient(cfg.Extract.FetchTimeout, logger)
	pool := render.NewPool(render.Options{
		PoolSize:    cfg.Render.PoolSize,
		Watchdog:    cfg.Render.Watchdog,
		NetworkIdle: cfg.Render.NetworkIdle,
		BrowserBin:  cfg.Render.BrowserBin,
	}, logger)
	defer pool.Close()

	extractor := extract.NewExtractor(fetcher, pool, dir, store, cfg.Extract.WindowDays, logger)
	merger := merge.New(dir, store, logger)
	orchestrator := extract.NewOrchestrator(store, extractor, merger, dir,
		cfg.Extract.ICSConcurrency, cfg.Extract.RenderConcurrency, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orchestrator.RunFullExtraction(ctx); err != nil {
		logger.Error().Err(err).Msg("extraction run failed")
		os.Exit(1)
	}
	logger.Info().Msg("extraction run complete")
}
