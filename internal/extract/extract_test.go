package extract

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusrooms/roomsched/internal/artifact"
	"github.com/campusrooms/roomsched/internal/feed"
	"github.com/campusrooms/roomsched/internal/storage"
)

type fakeStore struct {
	mu      sync.Mutex
	sources []*storage.CalendarSource
	touched map[int64]time.Time
}

func newFakeStore(sources ...*storage.CalendarSource) *fakeStore {
	return &fakeStore{sources: sources, touched: make(map[int64]time.Time)}
}

func (s *fakeStore) Close() {}

func (s *fakeStore) ListSources(ctx context.Context, enabledOnly bool) ([]*storage.CalendarSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	for _, src := range s.sources {
		if src.ID == id {
			return src, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *fakeStore) GetSourceByURL(ctx context.Context, primaryURL string) (*storage.CalendarSource, error) {
	for _, src := range s.sources {
		if src.PrimaryURL == primaryURL {
			return src, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *fakeStore) UpsertSourceByURL(ctx context.Context, src *storage.CalendarSource) (bool, error) {
	return false, errors.New("not implemented")
}

func (s *fakeStore) UpdateSource(ctx context.Context, id int64, upd storage.SourceUpdate) error {
	return errors.New("not implemented")
}

func (s *fakeStore) DeleteSource(ctx context.Context, id int64) error {
	return errors.New("not implemented")
}

func (s *fakeStore) TouchSourceFetched(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[id] = at
	return nil
}

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

type fakeFetcher struct {
	mu      sync.Mutex
	events  map[string][]feed.Event
	errs    map[string]error
	calls   map[string]int
	release chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, w feed.Window) ([]feed.Event, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[url]++
	release := f.release
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return f.events[url], nil
}

type fakeRenderer struct {
	mu     sync.Mutex
	events map[string][]feed.Event
	errs   map[string]error
	calls  map[string]int
}

func (f *fakeRenderer) Render(ctx context.Context, url string) ([]feed.Event, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[url]++
	f.mu.Unlock()
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return f.events[url], nil
}

type fakeMerger struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeMerger) Merge(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeMerger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestDir(t *testing.T) *artifact.Dir {
	t.Helper()
	d, err := artifact.NewDir(t.TempDir())
	require.NoError(t, err)
	return d
}

func roomSource(id int64, name, primaryURL, icsURL string) *storage.CalendarSource {
	return &storage.CalendarSource{
		ID:          id,
		DisplayName: name,
		PrimaryURL:  primaryURL,
		ICSURL:      icsURL,
		Color:       "#1f6f43",
		Enabled:     true,
	}
}

func TestExtractICSWritesNormalizedArtifact(t *testing.T) {
	now := time.Now().UTC()
	src := roomSource(1, "Room BT5.03", "https://cal.example.org/p/1", "https://cal.example.org/i/1.ics")
	fetcher := &fakeFetcher{events: map[string][]feed.Event{
		src.ICSURL: {
			{
				Start:    now.Add(48 * time.Hour),
				End:      now.Add(50 * time.Hour),
				Title:    "Functional programming (FP) - R. Slavescu - 3B",
				Location: "Sala BT5.03, Baritiu",
			},
			{
				Start: now.Add(2 * time.Hour),
				End:   now.Add(4 * time.Hour),
				Title: "Department meeting",
			},
		},
	}}
	store := newFakeStore(src)
	dir := newTestDir(t)
	ex := NewExtractor(fetcher, &fakeRenderer{}, dir, store, 60, zerolog.Nop())

	require.NoError(t, ex.ExtractICS(context.Background(), src))

	events, found, err := dir.ReadEvents(artifact.SourceHash(src.PrimaryURL))
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, events, 2)

	// Sorted by start, so the meeting comes first.
	assert.Equal(t, "Department meeting", events[0].Title)

	lecture := events[1]
	assert.Equal(t, "Functional programming (FP)", lecture.Subject)
	assert.Equal(t, "R. Slavescu", lecture.Professor)
	assert.Equal(t, "Year 3 • Group B", lecture.GroupDisplay)
	assert.Equal(t, "BT5.03", lecture.Room)
	assert.Equal(t, "Baritiu", lecture.Building)
	assert.Equal(t, src.Color, lecture.Color)
	assert.Equal(t, src.DisplayName, lecture.CalendarName)
	assert.Equal(t, artifact.SourceHash(src.PrimaryURL), lecture.Source)

	store.mu.Lock()
	_, touched := store.touched[src.ID]
	store.mu.Unlock()
	assert.True(t, touched)
}

func TestExtractICSEmptyFeedWritesEmptyArtifact(t *testing.T) {
	src := roomSource(1, "Room 26B", "https://cal.example.org/p/2", "https://cal.example.org/i/2.ics")
	fetcher := &fakeFetcher{events: map[string][]feed.Event{src.ICSURL: {}}}
	dir := newTestDir(t)
	ex := NewExtractor(fetcher, &fakeRenderer{}, dir, newFakeStore(src), 60, zerolog.Nop())

	require.NoError(t, ex.ExtractICS(context.Background(), src))

	events, found, err := dir.ReadEvents(artifact.SourceHash(src.PrimaryURL))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, events)
}

func TestExtractICSRequiresURL(t *testing.T) {
	src := roomSource(1, "Room X", "https://cal.example.org/p/3", "")
	ex := NewExtractor(&fakeFetcher{}, &fakeRenderer{}, newTestDir(t), newFakeStore(src), 60, zerolog.Nop())

	err := ex.ExtractICS(context.Background(), src)
	assert.ErrorIs(t, err, errNoICSURL)
}

func TestExtractDropsOutOfWindowAndDuplicates(t *testing.T) {
	now := time.Now().UTC()
	src := roomSource(1, "Room X", "https://cal.example.org/p/4", "https://cal.example.org/i/4.ics")
	inWindow := feed.Event{Start: now.Add(time.Hour), End: now.Add(2 * time.Hour), Title: "Lecture"}
	fetcher := &fakeFetcher{events: map[string][]feed.Event{
		src.ICSURL: {
			inWindow,
			inWindow, // duplicate start/end/title collapses
			{Start: now.AddDate(0, 0, -90), End: now.AddDate(0, 0, -90), Title: "Ancient"},
			{Start: now.AddDate(0, 0, 90), End: now.AddDate(0, 0, 90), Title: "Far future"},
		},
	}}
	dir := newTestDir(t)
	ex := NewExtractor(fetcher, &fakeRenderer{}, dir, newFakeStore(src), 60, zerolog.Nop())

	require.NoError(t, ex.ExtractICS(context.Background(), src))

	events, _, err := dir.ReadEvents(artifact.SourceHash(src.PrimaryURL))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Lecture", events[0].Title)
}

func TestExtractDropsInvertedAndWindowStraddlingEvents(t *testing.T) {
	now := time.Now().UTC()
	src := roomSource(1, "Room X", "https://cal.example.org/p/6", "https://cal.example.org/i/6.ics")
	fetcher := &fakeFetcher{events: map[string][]feed.Event{
		src.ICSURL: {
			{Start: now.Add(2 * time.Hour), End: now.Add(time.Hour), Title: "Backwards"},
			{Start: now.AddDate(0, 0, 59), End: now.AddDate(0, 0, 61), Title: "Runs past the window"},
			{Start: now.Add(time.Hour), End: now.Add(3 * time.Hour), Title: "Seminar"},
		},
	}}
	dir := newTestDir(t)
	ex := NewExtractor(fetcher, &fakeRenderer{}, dir, newFakeStore(src), 60, zerolog.Nop())

	require.NoError(t, ex.ExtractICS(context.Background(), src))

	events, _, err := dir.ReadEvents(artifact.SourceHash(src.PrimaryURL))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Seminar", events[0].Title)
	assert.False(t, events[0].End.Before(events[0].Start))
}

func TestExtractRenderFallback(t *testing.T) {
	now := time.Now().UTC()
	src := roomSource(1, "Room X", "https://cal.example.org/p/5", "")
	renderer := &fakeRenderer{events: map[string][]feed.Event{
		src.PrimaryURL: {{Start: now, End: now.Add(time.Hour), Title: "Rendered"}},
	}}
	dir := newTestDir(t)
	ex := NewExtractor(&fakeFetcher{}, renderer, dir, newFakeStore(src), 60, zerolog.Nop())

	require.NoError(t, ex.ExtractRender(context.Background(), src))

	events, found, err := dir.ReadEvents(artifact.SourceHash(src.PrimaryURL))
	require.NoError(t, err)
	assert.True(t, found)
	require.Len(t, events, 1)
	assert.Equal(t, "Rendered", events[0].Title)
}

func TestRunFullExtractionPhases(t *testing.T) {
	now := time.Now().UTC()
	icsOK := roomSource(1, "ICS ok", "https://cal.example.org/p/a", "https://cal.example.org/i/a.ics")
	icsFail := roomSource(2, "ICS fails", "https://cal.example.org/p/b", "https://cal.example.org/i/b.ics")
	noICS := roomSource(3, "No feed", "https://cal.example.org/p/c", "")
	disabled := roomSource(4, "Disabled", "https://cal.example.org/p/d", "https://cal.example.org/i/d.ics")
	disabled.Enabled = false

	fetcher := &fakeFetcher{
		events: map[string][]feed.Event{
			icsOK.ICSURL: {{Start: now, End: now.Add(time.Hour), Title: "A"}},
		},
		errs: map[string]error{icsFail.ICSURL: feed.ErrNotICS},
	}
	renderer := &fakeRenderer{
		events: map[string][]feed.Event{
			icsFail.PrimaryURL: {{Start: now, End: now.Add(time.Hour), Title: "B"}},
		},
		errs: map[string]error{noICS.PrimaryURL: errors.New("browser timeout")},
	}
	merger := &fakeMerger{}
	store := newFakeStore(icsOK, icsFail, noICS, disabled)
	dir := newTestDir(t)
	ex := NewExtractor(fetcher, renderer, dir, store, 60, zerolog.Nop())
	o := NewOrchestrator(store, ex, merger, dir, 2, 2, zerolog.Nop())

	require.NoError(t, o.RunFullExtraction(context.Background()))

	p := o.Progress()
	assert.Equal(t, 3, p.Total, "disabled sources are not part of the run")
	assert.Equal(t, 2, p.Succeeded)
	assert.Equal(t, 1, p.Failed)
	assert.Equal(t, 0, p.Queued)
	assert.Equal(t, 2, p.FilesWritten)
	assert.True(t, p.Finished)
	assert.NotNil(t, p.FinishedAt)
	assert.Equal(t, artifact.PhaseIdle, p.CurrentPhase)
	assert.Contains(t, p.LastError, "No feed")

	assert.Equal(t, 1, merger.count())

	// The failed-over source went through the renderer, not the feed client.
	renderer.mu.Lock()
	assert.Equal(t, 1, renderer.calls[icsFail.PrimaryURL])
	assert.Equal(t, 1, renderer.calls[noICS.PrimaryURL])
	assert.Zero(t, renderer.calls[disabled.PrimaryURL])
	renderer.mu.Unlock()

	_, found, err := dir.ReadEvents(artifact.SourceHash(icsOK.PrimaryURL))
	require.NoError(t, err)
	assert.True(t, found)
	_, found, err = dir.ReadEvents(artifact.SourceHash(icsFail.PrimaryURL))
	require.NoError(t, err)
	assert.True(t, found)

	// Progress survives on disk for the admin surface.
	saved, err := dir.ReadProgress()
	require.NoError(t, err)
	assert.True(t, saved.Finished)
	assert.Equal(t, p.RunID, saved.RunID)
}

func TestRunFullExtractionMergeFailure(t *testing.T) {
	src := roomSource(1, "Room X", "https://cal.example.org/p/a", "https://cal.example.org/i/a.ics")
	fetcher := &fakeFetcher{events: map[string][]feed.Event{src.ICSURL: {}}}
	merger := &fakeMerger{err: errors.New("disk full")}
	store := newFakeStore(src)
	dir := newTestDir(t)
	ex := NewExtractor(fetcher, &fakeRenderer{}, dir, store, 60, zerolog.Nop())
	o := NewOrchestrator(store, ex, merger, dir, 1, 1, zerolog.Nop())

	err := o.RunFullExtraction(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge")

	p := o.Progress()
	assert.True(t, p.Finished, "the run still completes and releases its slot")
}

func TestRunFullExtractionRejectsConcurrentRun(t *testing.T) {
	src := roomSource(1, "Room X", "https://cal.example.org/p/a", "https://cal.example.org/i/a.ics")
	release := make(chan struct{})
	fetcher := &fakeFetcher{
		events:  map[string][]feed.Event{src.ICSURL: {}},
		release: release,
	}
	store := newFakeStore(src)
	dir := newTestDir(t)
	ex := NewExtractor(fetcher, &fakeRenderer{}, dir, store, 60, zerolog.Nop())
	o := NewOrchestrator(store, ex, &fakeMerger{}, dir, 1, 1, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- o.RunFullExtraction(context.Background()) }()

	// Wait until the first run is inside the fetcher.
	require.Eventually(t, func() bool {
		fetcher.mu.Lock()
		defer fetcher.mu.Unlock()
		return fetcher.calls[src.ICSURL] > 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, o.RunFullExtraction(context.Background()), ErrAlreadyRunning)
	assert.ErrorIs(t, o.StartAsync(), ErrAlreadyRunning)

	close(release)
	require.NoError(t, <-done)

	// Slot is free again after the run.
	fetcher.mu.Lock()
	fetcher.release = nil
	fetcher.mu.Unlock()
	require.NoError(t, o.RunFullExtraction(context.Background()))
}
