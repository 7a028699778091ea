// Package merge builds the room-indexed schedule and the calendar map from
// the per-calendar artifacts and the source catalog.
package merge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusrooms/roomsched/internal/artifact"
	"github.com/campusrooms/roomsched/internal/metrics"
	"github.com/campusrooms/roomsched/internal/parser"
	"github.com/campusrooms/roomsched/internal/storage"
)

type Merger struct {
	dir    *artifact.Dir
	store  storage.Store
	logger zerolog.Logger
}

func New(dir *artifact.Dir, store storage.Store, logger zerolog.Logger) *Merger {
	return &Merger{
		dir:    dir,
		store:  store,
		logger: logger.With().Str("component", "merge").Logger(),
	}
}

// Merge rewrites schedule_by_room.json and calendar_map.json from whatever
// artifacts exist right now. The fingerprint is taken before reading, so a
// concurrent artifact write after the snapshot forces the next rebuild.
func (m *Merger) Merge(ctx context.Context) error {
	fp, err := m.dir.Fingerprint()
	if err != nil {
		return fmt.Errorf("fingerprint: %w", err)
	}

	sources, err := m.store.ListSources(ctx, false)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}

	byHash := make(map[string]*storage.CalendarSource, len(sources))
	calMap := artifact.CalendarMap{}
	for _, src := range sources {
		h := artifact.SourceHash(src.PrimaryURL)
		byHash[h] = src
		if src.Enabled {
			calMap[h] = artifact.CalendarMeta{
				URL:      src.PrimaryURL,
				Name:     src.DisplayName,
				Color:    src.Color,
				Building: src.Building,
				Room:     src.Room,
			}
		}
	}

	hashes, err := m.dir.ListEventFiles()
	if err != nil {
		return fmt.Errorf("list artifacts: %w", err)
	}

	// First pass: load everything and let full-form titles teach their
	// abbreviations, so short-form titles from other sources expand below.
	abbrevs := parser.NewAbbrevTable()
	var all []artifact.Event
	for _, h := range hashes {
		src, known := byHash[h]
		if !known || !src.Enabled {
			continue
		}
		events, found, err := m.dir.ReadEvents(h)
		if err != nil {
			m.logger.Warn().Err(err).Str("hash", h).Msg("skipping unreadable artifact")
			continue
		}
		if !found {
			continue
		}
		for _, ev := range events {
			abbrevs.Learn(ev.Title)
		}
		all = append(all, events...)
	}

	rooms := make(map[string][]artifact.Event)
	for i := range all {
		ev := &all[i]
		ev.Subject = abbrevs.Expand(ev.Subject)
		ev.DisplayTitle = abbrevs.Expand(ev.DisplayTitle)

		src := byHash[ev.Source]
		if src != nil {
			if ev.CalendarName == "" {
				ev.CalendarName = src.DisplayName
			}
			if ev.Color == "" {
				ev.Color = src.Color
			}
			// Events the page publishes without a location inherit the
			// owning calendar's room.
			if ev.Room == "" && src.Room != "" {
				ev.Room = parser.NormalizeRoom(src.Room)
				if ev.Building == "" {
					ev.Building = src.Building
				}
			}
		}

		key := ev.Room
		if key == "" {
			key = artifact.UnassignedRoom
		}
		rooms[key] = append(rooms[key], *ev)
	}

	sortEvents(all)
	for _, evs := range rooms {
		sortEvents(evs)
	}

	schedule := artifact.Schedule{
		Rooms:       rooms,
		Events:      all,
		GeneratedAt: time.Now().UTC(),
	}

	if err := m.dir.WriteJSON(artifact.ScheduleFile, schedule); err != nil {
		return fmt.Errorf("write schedule: %w", err)
	}
	if err := m.dir.WriteJSON(artifact.CalendarMapFile, calMap); err != nil {
		return fmt.Errorf("write calendar map: %w", err)
	}
	if err := m.dir.WriteFingerprint(fp); err != nil {
		return fmt.Errorf("write fingerprint: %w", err)
	}

	metrics.CountScheduleRebuild()
	m.logger.Info().
		Int("events", len(all)).
		Int("rooms", len(rooms)).
		Int("calendars", len(calMap)).
		Msg("schedule merged")
	return nil
}

// sortEvents orders by start, then source hash, then raw title, so merge
// output is stable across runs.
func sortEvents(events []artifact.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Title < b.Title
	})
}
