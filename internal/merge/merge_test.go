package merge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusrooms/roomsched/internal/artifact"
	"github.com/campusrooms/roomsched/internal/storage"
)

type fakeStore struct {
	sources []*storage.CalendarSource
}

func (s *fakeStore) Close() {}

func (s *fakeStore) ListSources(ctx context.Context, enabledOnly bool) ([]*storage.CalendarSource, error) {
	var out []*storage.CalendarSource
	for _, src := range s.sources {
		if enabledOnly && !src.Enabled {
			continue
		}
		out = append(out, src)
	}
	return out, nil
}

func (s *fakeStore) GetSource(ctx context.Context, id int64) (*storage.CalendarSource, error) {
	return nil, storage.ErrNotFound
}

func (s *fakeStore) GetSourceByURL(ctx context.Context, primaryURL string) (*storage.CalendarSource, error) {
	return nil, storage.ErrNotFound
}

func (s *fakeStore) UpsertSourceByURL(ctx context.Context, src *storage.CalendarSource) (bool, error) {
	return false, errors.New("not implemented")
}

func (s *fakeStore) UpdateSource(ctx context.Context, id int64, upd storage.SourceUpdate) error {
	return errors.New("not implemented")
}

func (s *fakeStore) DeleteSource(ctx context.Context, id int64) error { return errors.New("not implemented") }

func (s *fakeStore) TouchSourceFetched(ctx context.Context, id int64, at time.Time) error { return nil }

func (s *fakeStore) AddManualEvent(ctx context.Context, ev *storage.ManualEvent) error {
	return errors.New("not implemented")
}

func (s *fakeStore) DeleteManualEvent(ctx context.Context, id int64) error {
	return errors.New("not implemented")
}

func (s *fakeStore) ListManualEvents(ctx context.Context, from, to time.Time) ([]*storage.ManualEvent, error) {
	return nil, nil
}

func (s *fakeStore) DeleteManualEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func newTestDir(t *testing.T) *artifact.Dir {
	t.Helper()
	d, err := artifact.NewDir(t.TempDir())
	require.NoError(t, err)
	return d
}

func readSchedule(t *testing.T, dir *artifact.Dir) artifact.Schedule {
	t.Helper()
	var s artifact.Schedule
	require.NoError(t, dir.ReadJSON(artifact.ScheduleFile, &s))
	return s
}

func TestMergeCombinesAndBucketsByRoom(t *testing.T) {
	srcA := &storage.CalendarSource{
		ID: 1, DisplayName: "Room BT5.03", PrimaryURL: "https://cal.example.org/a",
		Building: "Baritiu", Room: "BT5.03", Color: "#123456", Enabled: true,
	}
	srcB := &storage.CalendarSource{
		ID: 2, DisplayName: "Room 26B", PrimaryURL: "https://cal.example.org/b",
		Building: "Baritiu", Room: "26B", Color: "#abcdef", Enabled: true,
	}
	hashA := artifact.SourceHash(srcA.PrimaryURL)
	hashB := artifact.SourceHash(srcB.PrimaryURL)

	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	dir := newTestDir(t)
	require.NoError(t, dir.WriteEvents(hashA, []artifact.Event{
		{Source: hashA, Start: start, End: start.Add(2 * time.Hour), Title: "A1", Room: "BT5.03"},
	}))
	require.NoError(t, dir.WriteEvents(hashB, []artifact.Event{
		{Source: hashB, Start: start.Add(time.Hour), End: start.Add(3 * time.Hour), Title: "B1", Room: "26B"},
	}))

	m := New(dir, &fakeStore{sources: []*storage.CalendarSource{srcA, srcB}}, zerolog.Nop())
	require.NoError(t, m.Merge(context.Background()))

	s := readSchedule(t, dir)
	assert.Len(t, s.Events, 2)
	assert.Len(t, s.Rooms["BT5.03"], 1)
	assert.Len(t, s.Rooms["26B"], 1)
	assert.False(t, s.GeneratedAt.IsZero())

	var cm artifact.CalendarMap
	require.NoError(t, dir.ReadJSON(artifact.CalendarMapFile, &cm))
	assert.Equal(t, "Room BT5.03", cm[hashA].Name)
	assert.Equal(t, "#abcdef", cm[hashB].Color)

	fp, ok, err := dir.ReadFingerprint()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, fp.NonEmpty)
}

func TestMergeSkipsDisabledAndUnknownSources(t *testing.T) {
	enabled := &storage.CalendarSource{
		ID: 1, DisplayName: "On", PrimaryURL: "https://cal.example.org/on", Enabled: true,
	}
	disabled := &storage.CalendarSource{
		ID: 2, DisplayName: "Off", PrimaryURL: "https://cal.example.org/off", Enabled: false,
	}
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	dir := newTestDir(t)
	require.NoError(t, dir.WriteEvents(artifact.SourceHash(enabled.PrimaryURL), []artifact.Event{
		{Source: artifact.SourceHash(enabled.PrimaryURL), Start: start, End: start, Title: "keep"},
	}))
	// Artifact of a now-disabled source stays on disk but is not merged.
	require.NoError(t, dir.WriteEvents(artifact.SourceHash(disabled.PrimaryURL), []artifact.Event{
		{Source: artifact.SourceHash(disabled.PrimaryURL), Start: start, End: start, Title: "drop"},
	}))
	// Orphan artifact with no catalog row at all.
	require.NoError(t, dir.WriteEvents(artifact.SourceHash("https://cal.example.org/gone"), []artifact.Event{
		{Start: start, End: start, Title: "orphan"},
	}))

	m := New(dir, &fakeStore{sources: []*storage.CalendarSource{enabled, disabled}}, zerolog.Nop())
	require.NoError(t, m.Merge(context.Background()))

	s := readSchedule(t, dir)
	require.Len(t, s.Events, 1)
	assert.Equal(t, "keep", s.Events[0].Title)

	var cm artifact.CalendarMap
	require.NoError(t, dir.ReadJSON(artifact.CalendarMapFile, &cm))
	_, present := cm[artifact.SourceHash(disabled.PrimaryURL)]
	assert.False(t, present, "disabled sources stay out of the calendar map")
}

func TestMergeExpandsAbbreviationsAcrossSources(t *testing.T) {
	full := &storage.CalendarSource{ID: 1, PrimaryURL: "https://cal.example.org/t", Enabled: true}
	abbr := &storage.CalendarSource{ID: 2, PrimaryURL: "https://cal.example.org/s", Enabled: true}
	ht := artifact.SourceHash(full.PrimaryURL)
	hs := artifact.SourceHash(abbr.PrimaryURL)
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	dir := newTestDir(t)
	require.NoError(t, dir.WriteEvents(ht, []artifact.Event{
		{
			Source: ht, Start: start, End: start,
			Title:        "Functional programming (FP) - R. Slavescu - 40",
			Subject:      "Functional programming (FP)",
			DisplayTitle: "Functional programming (FP)",
		},
	}))
	require.NoError(t, dir.WriteEvents(hs, []artifact.Event{
		{
			Source: hs, Start: start.Add(time.Hour), End: start.Add(time.Hour),
			Title: "FP 479", Subject: "FP 479", DisplayTitle: "FP 479",
		},
	}))

	m := New(dir, &fakeStore{sources: []*storage.CalendarSource{full, abbr}}, zerolog.Nop())
	require.NoError(t, m.Merge(context.Background()))

	s := readSchedule(t, dir)
	require.Len(t, s.Events, 2)
	assert.Equal(t, "Functional Programming 479", s.Events[1].Subject)
	assert.Equal(t, "Functional Programming 479", s.Events[1].DisplayTitle)
}

func TestMergeEnrichesFromCatalog(t *testing.T) {
	src := &storage.CalendarSource{
		ID: 1, DisplayName: "Room S4.2", PrimaryURL: "https://cal.example.org/e",
		Building: "Observatorului", Room: "s42", Color: "#00ff00", Enabled: true,
	}
	h := artifact.SourceHash(src.PrimaryURL)
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	dir := newTestDir(t)
	require.NoError(t, dir.WriteEvents(h, []artifact.Event{
		// No location came off the page: room and building inherit from the
		// catalog, the room normalized.
		{Source: h, Start: start, End: start, Title: "bare"},
	}))

	m := New(dir, &fakeStore{sources: []*storage.CalendarSource{src}}, zerolog.Nop())
	require.NoError(t, m.Merge(context.Background()))

	s := readSchedule(t, dir)
	require.Len(t, s.Events, 1)
	ev := s.Events[0]
	assert.Equal(t, "Room S4.2", ev.CalendarName)
	assert.Equal(t, "#00ff00", ev.Color)
	assert.Equal(t, "S4.2", ev.Room)
	assert.Equal(t, "Observatorului", ev.Building)
	assert.Contains(t, s.Rooms, "S4.2")
}

func TestMergeBucketsUnresolvedRooms(t *testing.T) {
	src := &storage.CalendarSource{ID: 1, PrimaryURL: "https://cal.example.org/u", Enabled: true}
	h := artifact.SourceHash(src.PrimaryURL)
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	dir := newTestDir(t)
	require.NoError(t, dir.WriteEvents(h, []artifact.Event{
		{Source: h, Start: start, End: start, Title: "floating"},
	}))

	m := New(dir, &fakeStore{sources: []*storage.CalendarSource{src}}, zerolog.Nop())
	require.NoError(t, m.Merge(context.Background()))

	s := readSchedule(t, dir)
	require.Len(t, s.Rooms[artifact.UnassignedRoom], 1)
}

func TestMergeOrderingIsDeterministic(t *testing.T) {
	a := &storage.CalendarSource{ID: 1, PrimaryURL: "https://cal.example.org/o1", Enabled: true}
	b := &storage.CalendarSource{ID: 2, PrimaryURL: "https://cal.example.org/o2", Enabled: true}
	ha := artifact.SourceHash(a.PrimaryURL)
	hb := artifact.SourceHash(b.PrimaryURL)
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	dir := newTestDir(t)
	require.NoError(t, dir.WriteEvents(ha, []artifact.Event{
		{Source: ha, Start: start, End: start, Title: "zz"},
		{Source: ha, Start: start, End: start, Title: "aa"},
	}))
	require.NoError(t, dir.WriteEvents(hb, []artifact.Event{
		{Source: hb, Start: start, End: start, Title: "mm"},
	}))

	m := New(dir, &fakeStore{sources: []*storage.CalendarSource{a, b}}, zerolog.Nop())
	require.NoError(t, m.Merge(context.Background()))

	s := readSchedule(t, dir)
	require.Len(t, s.Events, 3)
	// Same start: source hash breaks the tie, then the raw title.
	for i := 1; i < len(s.Events); i++ {
		prev, cur := s.Events[i-1], s.Events[i]
		if prev.Source == cur.Source {
			assert.LessOrEqual(t, prev.Title, cur.Title)
		} else {
			assert.Less(t, prev.Source, cur.Source)
		}
	}

	// A second merge over unchanged artifacts yields the same order.
	first := s.Events
	require.NoError(t, m.Merge(context.Background()))
	assert.Equal(t, first, readSchedule(t, dir).Events)
}
