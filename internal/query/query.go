// Package query answers the read API: filtered events over the merged
// schedule plus manual bookings from the event store.
package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusrooms/roomsched/internal/artifact"
	"github.com/campusrooms/roomsched/internal/parser"
	"github.com/campusrooms/roomsched/internal/schedule"
	"github.com/campusrooms/roomsched/internal/storage"
)

// ManualSource marks events that came from the store instead of a published
// calendar.
const ManualSource = "manual"

const manualColor = "#6c757d"

// Filters are case-insensitive substring matches against parsed fields.
// Empty fields match everything.
type Filters struct {
	Subject   string
	Professor string
	Room      string
	Building  string
	Group     string
}

func (f Filters) match(ev artifact.Event) bool {
	return containsFold(ev.Subject, f.Subject) &&
		containsFold(ev.Professor, f.Professor) &&
		containsFold(ev.Room, f.Room) &&
		containsFold(ev.Building, f.Building) &&
		containsFold(ev.GroupDisplay, f.Group)
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

type Service struct {
	cache  *schedule.Cache
	store  storage.Store
	logger zerolog.Logger
}

func New(cache *schedule.Cache, store storage.Store, logger zerolog.Logger) *Service {
	return &Service{
		cache:  cache,
		store:  store,
		logger: logger.With().Str("component", "query").Logger(),
	}
}

// Events returns the events in [from, to] matching the filters, sorted by
// start. With neither bound given the window is a week around today; a
// missing from defaults to now and a missing to defaults to from plus a
// week, so a one-sided query still selects a real range.
// Extraction trouble never fails a query; at worst the result reflects the
// last good schedule, or only manual events.
func (s *Service) Events(ctx context.Context, from, to time.Time, f Filters) ([]artifact.Event, error) {
	switch {
	case from.IsZero() && to.IsZero():
		now := time.Now()
		from = now.AddDate(0, 0, -7)
		to = now.AddDate(0, 0, 7)
	case from.IsZero():
		from = time.Now()
	case to.IsZero():
		to = from.AddDate(0, 0, 7)
	}

	out := []artifact.Event{}

	snap, err := s.cache.Ensure(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("schedule unavailable, serving manual events only")
	} else {
		for _, ev := range snap.Schedule.Events {
			if ev.Start.Before(from) || ev.Start.After(to) {
				continue
			}
			if f.match(ev) {
				out = append(out, ev)
			}
		}
	}

	manual, err := s.store.ListManualEvents(ctx, from, to)
	if err != nil {
		return nil, err
	}
	for _, me := range manual {
		ev := manualToEvent(me)
		if f.match(ev) {
			out = append(out, ev)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.Source < b.Source
	})
	return out, nil
}

// CalendarMap exposes the merged calendar map for /calendars.json.
func (s *Service) CalendarMap(ctx context.Context) (artifact.CalendarMap, error) {
	snap, err := s.cache.Ensure(ctx)
	if err != nil {
		return artifact.CalendarMap{}, err
	}
	return snap.CalendarMap, nil
}

// Departures groups the events of one day by room.
type Departures struct {
	Date  string                      `json:"date"`
	Rooms map[string][]artifact.Event `json:"rooms"`
}

// DeparturesBoard returns today's and tomorrow's events grouped by day then
// room.
func (s *Service) DeparturesBoard(ctx context.Context) ([]Departures, error) {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	days := make([]Departures, 0, 2)
	for offset := 0; offset < 2; offset++ {
		dayStart := today.AddDate(0, 0, offset)
		dayEnd := dayStart.AddDate(0, 0, 1).Add(-time.Nanosecond)

		events, err := s.Events(ctx, dayStart, dayEnd, Filters{})
		if err != nil {
			return nil, err
		}

		rooms := make(map[string][]artifact.Event)
		for _, ev := range events {
			key := ev.Room
			if key == "" {
				key = artifact.UnassignedRoom
			}
			rooms[key] = append(rooms[key], ev)
		}
		days = append(days, Departures{
			Date:  dayStart.Format("2006-01-02"),
			Rooms: rooms,
		})
	}
	return days, nil
}

func manualToEvent(me *storage.ManualEvent) artifact.Event {
	return artifact.Event{
		Source:       ManualSource,
		Start:        me.Start,
		End:          me.End,
		Title:        me.Title,
		DisplayTitle: me.Title,
		Subject:      me.Title,
		Room:         parser.NormalizeRoom(me.Room),
		Building:     me.Building,
		Location:     me.Room,
		Color:        manualColor,
		CalendarName: "Manual booking",
	}
}
