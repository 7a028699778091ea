// Package scheduler runs the two background tasks: the periodic full
// extraction and the daily manual-event retention sweep.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusrooms/roomsched/internal/extract"
	"github.com/campusrooms/roomsched/internal/storage"
)

// Runner triggers one full extraction.
type Runner interface {
	RunFullExtraction(ctx context.Context) error
}

type Scheduler struct {
	runner        Runner
	store         storage.Store
	interval      time.Duration
	retentionDays int
	logger        zerolog.Logger
}

func New(runner Runner, store storage.Store, interval time.Duration, retentionDays int, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 60 * time.Minute
	}
	if retentionDays <= 0 {
		retentionDays = 60
	}
	return &Scheduler{
		runner:        runner,
		store:         store,
		interval:      interval,
		retentionDays: retentionDays,
		logger:        logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start blocks until ctx is cancelled. The first extraction fires
// immediately; later fires follow the configured interval. Missed ticks are
// not made up, and overlap is prevented by the orchestrator's run token.
func (s *Scheduler) Start(ctx context.Context) {
	s.runExtraction(ctx)

	extractTicker := time.NewTicker(s.interval)
	defer extractTicker.Stop()
	cleanupTicker := time.NewTicker(24 * time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-extractTicker.C:
			s.runExtraction(ctx)
		case <-cleanupTicker.C:
			s.runRetention(ctx)
		}
	}
}

func (s *Scheduler) runExtraction(ctx context.Context) {
	s.logger.Debug().Msg("starting scheduled extraction")
	if err := s.runner.RunFullExtraction(ctx); err != nil {
		if errors.Is(err, extract.ErrAlreadyRunning) {
			s.logger.Info().Msg("extraction still running, skipping tick")
			return
		}
		s.logger.Error().Err(err).Msg("scheduled extraction failed")
	}
}

// RunRetention deletes manual events that ended before the retention horizon.
// Exposed so the admin API can trigger the sweep on demand.
func (s *Scheduler) RunRetention(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	n, err := s.store.DeleteManualEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("manual event retention sweep")
	}
	return n, nil
}

func (s *Scheduler) runRetention(ctx context.Context) {
	if _, err := s.RunRetention(ctx); err != nil {
		s.logger.Error().Err(err).Msg("retention sweep failed")
	}
}
