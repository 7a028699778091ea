// Package extract turns catalog sources into per-calendar artifacts and
// coordinates full extraction runs.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusrooms/roomsched/internal/artifact"
	"github.com/campusrooms/roomsched/internal/feed"
	"github.com/campusrooms/roomsched/internal/parser"
	"github.com/campusrooms/roomsched/internal/render"
	"github.com/campusrooms/roomsched/internal/storage"
)

// Fetcher is the ICS path into a source's events.
type Fetcher interface {
	Fetch(ctx context.Context, url string, w feed.Window) ([]feed.Event, error)
}

// Extractor produces the artifact for one source: fetch, normalize, window,
// dedupe, atomic write.
type Extractor struct {
	fetcher  Fetcher
	renderer render.Renderer
	dir      *artifact.Dir
	store    storage.Store
	window   time.Duration
	logger   zerolog.Logger
}

func NewExtractor(fetcher Fetcher, renderer render.Renderer, dir *artifact.Dir, store storage.Store, windowDays int, logger zerolog.Logger) *Extractor {
	if windowDays <= 0 {
		windowDays = 60
	}
	return &Extractor{
		fetcher:  fetcher,
		renderer: renderer,
		dir:      dir,
		store:    store,
		window:   time.Duration(windowDays) * 24 * time.Hour,
		logger:   logger.With().Str("component", "extract").Logger(),
	}
}

// Window returns the closed extraction window centered on now.
func (e *Extractor) Window(now time.Time) feed.Window {
	return feed.Window{From: now.Add(-e.window), To: now.Add(e.window)}
}

var errNoICSURL = errors.New("source has no ics url")

// ExtractICS runs the fast path for one source. A valid feed with zero events
// is terminal success and writes an empty artifact; any error means the caller
// should queue the source for the renderer instead.
func (e *Extractor) ExtractICS(ctx context.Context, src *storage.CalendarSource) error {
	if src.ICSURL == "" {
		return errNoICSURL
	}
	raw, err := e.fetcher.Fetch(ctx, src.ICSURL, e.Window(time.Now()))
	if err != nil {
		return err
	}
	return e.finish(ctx, src, raw)
}

// ExtractRender runs the headless-browser fallback against the published
// HTML page.
func (e *Extractor) ExtractRender(ctx context.Context, src *storage.CalendarSource) error {
	if src.PrimaryURL == "" {
		return fmt.Errorf("source %d has no primary url", src.ID)
	}
	raw, err := e.renderer.Render(ctx, src.PrimaryURL)
	if err != nil {
		return err
	}
	return e.finish(ctx, src, raw)
}

// finish normalizes, windows and dedupes the raw events, then atomically
// replaces the source's artifact. On write failure the previous artifact
// stays untouched.
func (e *Extractor) finish(ctx context.Context, src *storage.CalendarSource, raw []feed.Event) error {
	hash := artifact.SourceHash(src.PrimaryURL)
	w := e.Window(time.Now())

	type dedupeKey struct {
		start, end int64
		title      string
	}
	seen := make(map[dedupeKey]struct{}, len(raw))
	events := []artifact.Event{}
	for _, rv := range raw {
		// Both bounds inside the window, and no inverted intervals.
		if rv.End.Before(rv.Start) || !w.Contains(rv.Start) || !w.Contains(rv.End) {
			continue
		}
		key := dedupeKey{rv.Start.UnixNano(), rv.End.UnixNano(), rv.Title}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		events = append(events, e.normalize(src, hash, rv))
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})

	if err := e.dir.WriteEvents(hash, events); err != nil {
		return fmt.Errorf("write artifact %s: %w", hash, err)
	}
	if err := e.store.TouchSourceFetched(ctx, src.ID, time.Now()); err != nil {
		e.logger.Warn().Err(err).Int64("source_id", src.ID).Msg("failed to update last_fetched_at")
	}
	e.logger.Debug().Str("hash", hash).Int("events", len(events)).Msg("artifact written")
	return nil
}

func (e *Extractor) normalize(src *storage.CalendarSource, hash string, rv feed.Event) artifact.Event {
	pt := parser.ParseTitle(rv.Title)
	pl := parser.ParseLocation(rv.Location)

	return artifact.Event{
		Source:       hash,
		Start:        rv.Start,
		End:          rv.End,
		Title:        rv.Title,
		DisplayTitle: pt.DisplayTitle,
		Subject:      pt.Subject,
		Professor:    pt.Professor,
		GroupDisplay: pt.GroupDisplay,
		Room:         pl.Room,
		Building:     pl.Building,
		Location:     rv.Location,
		Color:        src.Color,
		CalendarName: src.DisplayName,
	}
}
