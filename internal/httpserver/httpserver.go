// Package httpserver wires the service together: store, artifact directory,
// extraction pipeline, schedule cache, scheduler and HTTP routes.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusrooms/roomsched/internal/artifact"
	"github.com/campusrooms/roomsched/internal/auth"
	"github.com/campusrooms/roomsched/internal/config"
	"github.com/campusrooms/roomsched/internal/csvimport"
	"github.com/campusrooms/roomsched/internal/extract"
	"github.com/campusrooms/roomsched/internal/feed"
	"github.com/campusrooms/roomsched/internal/merge"
	"github.com/campusrooms/roomsched/internal/query"
	"github.com/campusrooms/roomsched/internal/render"
	"github.com/campusrooms/roomsched/internal/router"
	"github.com/campusrooms/roomsched/internal/schedule"
	"github.com/campusrooms/roomsched/internal/scheduler"
	"github.com/campusrooms/roomsched/internal/storage/sqlite"
)

type Server struct {
	http      *http.Server
	scheduler *scheduler.Scheduler
	cfg       *config.Config
	logger    zerolog.Logger

	schedCancel context.CancelFunc
	schedDone   chan struct{}
}

func NewServer(cfg *config.Config, logger zerolog.Logger) (*Server, func(), error) {
	store, err := sqlite.New(cfg.Store.Path, logger)
	if err != nil {
		return nil, nil, err
	}

	dir, err := artifact.NewDir(cfg.Extract.ArtifactDir)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	fetcher := feed.NewICSClient(cfg.Extract.FetchTimeout, logger)
	pool := render.NewPool(render.Options{
		PoolSize:    cfg.Render.PoolSize,
		Watchdog:    cfg.Render.Watchdog,
		NetworkIdle: cfg.Render.NetworkIdle,
		BrowserBin:  cfg.Render.BrowserBin,
	}, logger)

	extractor := extract.NewExtractor(fetcher, pool, dir, store, cfg.Extract.WindowDays, logger)
	merger := merge.New(dir, store, logger)
	orchestrator := extract.NewOrchestrator(store, extractor, merger, dir,
		cfg.Extract.ICSConcurrency, cfg.Extract.RenderConcurrency, logger)

	cache := schedule.NewCache(dir, merger, logger)
	queries := query.New(cache, store, logger)
	importer := csvimport.New(store, logger)
	sched := scheduler.New(orchestrator, store, cfg.Extract.Interval, cfg.Extract.RetentionDays, logger)
	verifier := auth.NewVerifier(cfg.Auth, logger)

	mux := router.New(router.Deps{
		Config:       cfg,
		Query:        queries,
		Store:        store,
		Orchestrator: orchestrator,
		Dir:          dir,
		Cache:        cache,
		Importer:     importer,
		Scheduler:    sched,
		Auth:         verifier,
		Logger:       logger,
	})

	srv := &Server{
		http: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		scheduler: sched,
		cfg:       cfg,
		logger:    logger,
	}

	cleanup := func() {
		_ = pool.Close()
		store.Close()
	}
	logger.Info().Msgf("listening on %s (store=%s, artifacts=%s)",
		cfg.HTTP.Addr, cfg.Store.Path, cfg.Extract.ArtifactDir)
	return srv, cleanup, nil
}

func (s *Server) Start() error {
	if !s.cfg.DisableBackgroundTasks {
		ctx, cancel := context.WithCancel(context.Background())
		s.schedCancel = cancel
		s.schedDone = make(chan struct{})
		go func() {
			defer close(s.schedDone)
			s.scheduler.Start(ctx)
		}()
	}
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.schedCancel != nil {
		s.schedCancel()
		select {
		case <-s.schedDone:
		case <-ctx.Done():
		}
	}
	return s.http.Shutdown(ctx)
}
