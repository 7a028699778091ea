// Package router exposes the HTTP surface: the public read-only API and the
// authenticated admin API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/campusrooms/roomsched/internal/artifact"
	"github.com/campusrooms/roomsched/internal/auth"
	"github.com/campusrooms/roomsched/internal/config"
	"github.com/campusrooms/roomsched/internal/csvimport"
	"github.com/campusrooms/roomsched/internal/extract"
	"github.com/campusrooms/roomsched/internal/metrics"
	"github.com/campusrooms/roomsched/internal/query"
	"github.com/campusrooms/roomsched/internal/schedule"
	"github.com/campusrooms/roomsched/internal/scheduler"
	"github.com/campusrooms/roomsched/internal/storage"
)

// Deps are the services the HTTP surface fronts.
type Deps struct {
	Config       *config.Config
	Query        *query.Service
	Store        storage.Store
	Orchestrator *extract.Orchestrator
	Dir          *artifact.Dir
	Cache        *schedule.Cache
	Importer     *csvimport.Importer
	Scheduler    *scheduler.Scheduler
	Auth         *auth.Verifier
	Logger       zerolog.Logger
}

type router struct {
	Deps
	logger zerolog.Logger
}

func New(deps Deps) http.Handler {
	rt := &router{
		Deps:   deps,
		logger: deps.Logger.With().Str("component", "http").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(rt.logger))
	if deps.Config.HTTP.EnableMetrics {
		r.Use(metrics.Middleware())
	}

	r.Get("/health", rt.handleHealth)
	r.Get("/events.json", rt.handleEvents)
	r.Get("/calendars.json", rt.handleCalendars)
	r.Get("/departures.json", rt.handleDepartures)
	r.Get("/debug/pipeline", rt.handlePipeline)
	if deps.Config.HTTP.EnableMetrics {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	adminLimiter := newIPRateLimiter(rate.Limit(5), 10, deps.Config.HTTP.TrustedProxies)
	r.Route("/admin", func(r chi.Router) {
		r.Use(adminLimiter.middleware())
		r.Use(deps.Auth.Middleware())

		r.Get("/sources", rt.handleListSources)
		r.Post("/sources", rt.handleCreateSource)
		r.Patch("/sources/{id}", rt.handleUpdateSource)
		r.Delete("/sources/{id}", rt.handleDeleteSource)
		r.Post("/sources/import", rt.handleImportCSV)

		r.Get("/manual-events", rt.handleListManualEvents)
		r.Post("/manual-events", rt.handleAddManualEvent)
		r.Delete("/manual-events/{id}", rt.handleDeleteManualEvent)

		r.Post("/extract", rt.handleTriggerExtraction)
		r.Post("/cleanup", rt.handleCleanup)
	})

	return r
}
