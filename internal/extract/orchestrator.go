package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/campusrooms/roomsched/internal/artifact"
	"github.com/campusrooms/roomsched/internal/metrics"
	"github.com/campusrooms/roomsched/internal/storage"
)

// ErrAlreadyRunning is returned when a full extraction is requested while one
// is still in flight. The request is not queued.
var ErrAlreadyRunning = errors.New("extraction already running")

// Merger rebuilds the merged schedule from the per-calendar artifacts.
type Merger interface {
	Merge(ctx context.Context) error
}

// Orchestrator owns the three-phase full extraction: ICS pass, renderer pass
// over the ICS failures, then merge. At most one run at a time per process.
type Orchestrator struct {
	store     storage.Store
	extractor *Extractor
	merger    Merger
	dir       *artifact.Dir
	logger    zerolog.Logger

	icsConcurrency    int
	renderConcurrency int

	runSlot chan struct{}

	mu       sync.Mutex
	progress artifact.Progress
}

func NewOrchestrator(store storage.Store, extractor *Extractor, merger Merger, dir *artifact.Dir, icsConcurrency, renderConcurrency int, logger zerolog.Logger) *Orchestrator {
	if icsConcurrency <= 0 {
		icsConcurrency = 8
	}
	if renderConcurrency <= 0 {
		renderConcurrency = 4
	}
	return &Orchestrator{
		store:             store,
		extractor:         extractor,
		merger:            merger,
		dir:               dir,
		logger:            logger.With().Str("component", "orchestrator").Logger(),
		icsConcurrency:    icsConcurrency,
		renderConcurrency: renderConcurrency,
		runSlot:           make(chan struct{}, 1),
	}
}

// RunFullExtraction executes one complete run. A second concurrent call gets
// ErrAlreadyRunning immediately.
func (o *Orchestrator) RunFullExtraction(ctx context.Context) error {
	select {
	case o.runSlot <- struct{}{}:
	default:
		return ErrAlreadyRunning
	}
	defer func() { <-o.runSlot }()

	return o.run(ctx)
}

// StartAsync launches a run in the background, for the admin trigger. The run
// token is taken synchronously so the caller learns right away whether a run
// was already in flight.
func (o *Orchestrator) StartAsync() error {
	select {
	case o.runSlot <- struct{}{}:
	default:
		return ErrAlreadyRunning
	}
	go func() {
		defer func() { <-o.runSlot }()
		if err := o.run(context.Background()); err != nil {
			o.logger.Error().Err(err).Msg("triggered extraction failed")
		}
	}()
	return nil
}

func (o *Orchestrator) run(ctx context.Context) error {
	runID := uuid.New().String()
	log := o.logger.With().Str("run_id", runID).Logger()

	sources, err := o.store.ListSources(ctx, true)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}

	o.mu.Lock()
	o.progress = artifact.Progress{
		RunID:        runID,
		Total:        len(sources),
		Queued:       len(sources),
		StartedAt:    time.Now().UTC(),
		CurrentPhase: artifact.PhaseICS,
	}
	o.writeProgressLocked()
	o.mu.Unlock()

	log.Info().Int("sources", len(sources)).Msg("extraction run started")

	renderQueue := o.runICSPhase(ctx, sources, log)
	o.runRenderPhase(ctx, renderQueue, log)
	mergeErr := o.runMergePhase(ctx, log)

	now := time.Now().UTC()
	o.mu.Lock()
	o.progress.CurrentPhase = artifact.PhaseIdle
	o.progress.Finished = true
	o.progress.FinishedAt = &now
	if mergeErr != nil {
		o.progress.LastError = mergeErr.Error()
	}
	p := o.progress
	o.writeProgressLocked()
	o.mu.Unlock()

	if err := o.dir.WriteCompleteMarker(fmt.Sprintf("run %s finished at %s: %d ok, %d failed\n",
		runID, now.Format(time.RFC3339), p.Succeeded, p.Failed)); err != nil {
		log.Warn().Err(err).Msg("failed to write completion marker")
	}

	outcome := "ok"
	if mergeErr != nil {
		outcome = "error"
	}
	metrics.ObserveExtractionRun(outcome, p.StartedAt)

	log.Info().
		Int("succeeded", p.Succeeded).
		Int("failed", p.Failed).
		Int("files_written", p.FilesWritten).
		Msg("extraction run finished")
	return mergeErr
}

// runICSPhase runs the fast path over every source that has an ICS URL and
// returns the sources that still need the renderer: ICS failures plus sources
// with no ICS URL at all.
func (o *Orchestrator) runICSPhase(ctx context.Context, sources []*storage.CalendarSource, log zerolog.Logger) []*storage.CalendarSource {
	var (
		queueMu     sync.Mutex
		renderQueue []*storage.CalendarSource
	)

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(o.icsConcurrency)

	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		if src.ICSURL == "" {
			queueMu.Lock()
			renderQueue = append(renderQueue, src)
			queueMu.Unlock()
			continue
		}
		src := src
		g.Go(func() error {
			err := o.extractor.ExtractICS(gctx, src)
			if err != nil {
				log.Debug().Err(err).Str("url", src.ICSURL).Msg("ics path failed, queueing for renderer")
				queueMu.Lock()
				renderQueue = append(renderQueue, src)
				queueMu.Unlock()
				o.recordSource(src, false)
				return nil
			}
			metrics.CountSource("ics")
			o.recordSource(src, true)
			return nil
		})
	}
	_ = g.Wait()
	return renderQueue
}

func (o *Orchestrator) runRenderPhase(ctx context.Context, queue []*storage.CalendarSource, log zerolog.Logger) {
	o.mu.Lock()
	o.progress.CurrentPhase = artifact.PhaseRender
	o.writeProgressLocked()
	o.mu.Unlock()

	if len(queue) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(o.renderConcurrency)

	for _, src := range queue {
		if ctx.Err() != nil {
			break
		}
		src := src
		g.Go(func() error {
			err := o.extractor.ExtractRender(gctx, src)
			if err != nil {
				log.Warn().Err(err).Str("url", src.PrimaryURL).Msg("render path failed")
				metrics.CountSource("failed")
				o.recordFailure(src, err)
				return nil
			}
			metrics.CountSource("render")
			o.recordSource(src, true)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) runMergePhase(ctx context.Context, log zerolog.Logger) error {
	o.mu.Lock()
	o.progress.CurrentPhase = artifact.PhaseMerge
	o.writeProgressLocked()
	o.mu.Unlock()

	if err := o.merger.Merge(context.WithoutCancel(ctx)); err != nil {
		log.Error().Err(err).Msg("merge failed, previous schedule retained")
		return fmt.Errorf("merge: %w", err)
	}
	return nil
}

// recordSource updates counters after one source completes a phase. An ICS
// failure (done=false) only dequeues the source once; it stays pending for
// the render phase, so Queued is untouched.
func (o *Orchestrator) recordSource(src *storage.CalendarSource, done bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if done {
		o.progress.Succeeded++
		o.progress.FilesWritten++
		o.progress.Queued--
		o.progress.Last = src.DisplayName
	}
	o.writeProgressLocked()
}

func (o *Orchestrator) recordFailure(src *storage.CalendarSource, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress.Failed++
	o.progress.Queued--
	o.progress.Last = src.DisplayName
	o.progress.LastError = fmt.Sprintf("%s: %v", src.DisplayName, err)
	o.writeProgressLocked()
}

// Progress returns a copy of the current run's counters.
func (o *Orchestrator) Progress() artifact.Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

func (o *Orchestrator) writeProgressLocked() {
	if err := o.dir.WriteProgress(o.progress); err != nil {
		o.logger.Warn().Err(err).Msg("failed to persist progress")
	}
}
