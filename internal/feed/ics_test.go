package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWindow() Window {
	return Window{
		From: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

func newTestClient() *ICSClient {
	c := NewICSClient(5*time.Second, zerolog.Nop())
	c.backoff = []time.Duration{time.Millisecond, time.Millisecond}
	return c
}

func icsDocument(events ...string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//test//EN\r\n")
	for _, ev := range events {
		b.WriteString("BEGIN:VEVENT\r\n")
		b.WriteString(ev)
		b.WriteString("END:VEVENT\r\n")
	}
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

func serveICS(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchDecodesEvents(t *testing.T) {
	srv := serveICS(t, icsDocument(
		"UID:1\r\nDTSTART:20260302T080000Z\r\nDTEND:20260302T100000Z\r\nSUMMARY:Functional programming (FP)\r\nLOCATION:Sala BT5.03\r\n",
		"UID:2\r\nDTSTART:20260303T120000Z\r\nDURATION:PT2H\r\nSUMMARY:Computer Networks\r\n",
	))

	events, err := newTestClient().Fetch(context.Background(), srv.URL, testWindow())
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "Functional programming (FP)", events[0].Title)
	assert.Equal(t, "Sala BT5.03", events[0].Location)
	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), events[0].Start)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), events[0].End)

	assert.Equal(t, time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC), events[1].End, "DURATION derives the end")
}

func TestFetchEmptyFeedIsSuccess(t *testing.T) {
	srv := serveICS(t, icsDocument())

	events, err := newTestClient().Fetch(context.Background(), srv.URL, testWindow())
	require.NoError(t, err)
	require.NotNil(t, events)
	assert.Empty(t, events)
}

func TestFetchSkipsMalformedEvent(t *testing.T) {
	srv := serveICS(t, icsDocument(
		"UID:broken\r\nSUMMARY:No start\r\n",
		"UID:ok\r\nDTSTART:20260302T080000Z\r\nDTEND:20260302T090000Z\r\nSUMMARY:Seminar\r\n",
	))

	events, err := newTestClient().Fetch(context.Background(), srv.URL, testWindow())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Seminar", events[0].Title)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	body := icsDocument("UID:1\r\nDTSTART:20260302T080000Z\r\nDTEND:20260302T090000Z\r\nSUMMARY:Lecture\r\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	events, err := newTestClient().Fetch(context.Background(), srv.URL, testWindow())
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := newTestClient().Fetch(context.Background(), srv.URL, testWindow())
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "one initial attempt plus two retries")
}

func TestFetchClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	_, err := newTestClient().Fetch(context.Background(), srv.URL, testWindow())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx is not retried")
}

func TestFetchHTMLIsNotICS(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<!DOCTYPE html><html><body>calendar</body></html>"))
	}))
	t.Cleanup(srv.Close)

	_, err := newTestClient().Fetch(context.Background(), srv.URL, testWindow())
	require.ErrorIs(t, err, ErrNotICS)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchTrustsBodyOverContentType(t *testing.T) {
	body := icsDocument("UID:1\r\nDTSTART:20260302T080000Z\r\nDTEND:20260302T090000Z\r\nSUMMARY:Lecture\r\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	events, err := newTestClient().Fetch(context.Background(), srv.URL, testWindow())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestFetchExpandsRecurrence(t *testing.T) {
	srv := serveICS(t, icsDocument(
		"UID:1\r\nDTSTART:20260302T080000Z\r\nDTEND:20260302T100000Z\r\nRRULE:FREQ=WEEKLY;COUNT=10\r\nSUMMARY:Weekly lecture\r\n",
	))

	// Window covers only the first three weekly occurrences.
	w := Window{
		From: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC),
	}
	events, err := newTestClient().Fetch(context.Background(), srv.URL, w)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), events[0].Start)
	assert.Equal(t, time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC), events[1].Start)
	assert.Equal(t, time.Date(2026, 3, 16, 8, 0, 0, 0, time.UTC), events[2].Start)
	for _, ev := range events {
		assert.Equal(t, 2*time.Hour, ev.End.Sub(ev.Start), "occurrences keep the seed duration")
		assert.Equal(t, "Weekly lecture", ev.Title)
	}
}

func TestWindowContains(t *testing.T) {
	w := testWindow()
	assert.True(t, w.Contains(w.From), "window is closed at the lower bound")
	assert.True(t, w.Contains(w.To), "window is closed at the upper bound")
	assert.False(t, w.Contains(w.From.Add(-time.Nanosecond)))
	assert.False(t, w.Contains(w.To.Add(time.Nanosecond)))
}
