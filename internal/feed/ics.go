// Package feed fetches and decodes published ICS calendar feeds.
package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/rs/zerolog"
	"github.com/teambition/rrule-go"
)

// Event is one calendar item as produced by a feed or the renderer, before
// parsing and windowing.
type Event struct {
	Start    time.Time
	End      time.Time
	Title    string
	Location string
}

// Window bounds recurrence expansion; the extractor applies the same bounds
// as its event filter.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the closed interval.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// ErrNotICS marks a response that is not an iCalendar document. It is a
// terminal failure for the feed path; the caller falls back to the renderer.
var ErrNotICS = errors.New("response is not an iCalendar document")

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// ICSClient fetches ICS feeds over HTTP with bounded retries.
type ICSClient struct {
	http    *http.Client
	logger  zerolog.Logger
	backoff []time.Duration
}

func NewICSClient(timeout time.Duration, logger zerolog.Logger) *ICSClient {
	return &ICSClient{
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "ics").Logger(),
		backoff: []time.Duration{time.Second, 3 * time.Second},
	}
}

// Fetch downloads and decodes one feed. A syntactically valid feed with zero
// events returns an empty non-nil slice: that is terminal success, not an
// error. Transient failures (connection errors, 5xx) are retried twice.
func (c *ICSClient) Fetch(ctx context.Context, url string, w Window) ([]Event, error) {
	var lastErr error
	for attempt := 0; attempt <= len(c.backoff); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff[attempt-1]):
			}
			c.logger.Debug().Str("url", url).Int("attempt", attempt).Msg("retrying feed fetch")
		}
		events, err := c.fetchOnce(ctx, url, w)
		if err == nil {
			return events, nil
		}
		lastErr = err
		var te *transientError
		if !errors.As(err, &te) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *ICSClient) fetchOnce(ctx context.Context, url string, w Window) ([]Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/calendar, text/plain;q=0.5, */*;q=0.1")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &transientError{fmt.Errorf("fetch %s: %w", url, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, &transientError{fmt.Errorf("fetch %s: status %s", url, resp.Status)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %s", url, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{fmt.Errorf("read %s: %w", url, err)}
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "text/calendar") && !looksLikeICS(body) {
		return nil, ErrNotICS
	}

	return decodeICS(body, w)
}

func looksLikeICS(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n\uFEFF")
	return len(trimmed) >= 15 && strings.EqualFold(string(trimmed[:15]), "BEGIN:VCALENDAR")
}

func decodeICS(body []byte, w Window) ([]Event, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(body)).Decode()
	if err != nil {
		return nil, fmt.Errorf("decode ics: %w", err)
	}

	events := []Event{}
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		evs, err := decodeEvent(child, w)
		if err != nil {
			// A single malformed VEVENT does not poison the feed.
			continue
		}
		events = append(events, evs...)
	}
	return events, nil
}

func decodeEvent(comp *ical.Component, w Window) ([]Event, error) {
	dtstart := comp.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return nil, errors.New("missing DTSTART")
	}
	start, err := dtstart.DateTime(time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid DTSTART: %w", err)
	}

	end := start
	if dtend := comp.Props.Get(ical.PropDateTimeEnd); dtend != nil {
		if e, err := dtend.DateTime(time.UTC); err == nil {
			end = e
		}
	} else if dur := comp.Props.Get(ical.PropDuration); dur != nil {
		if d, err := dur.Duration(); err == nil {
			end = start.Add(d)
		}
	}

	title := textProp(comp, ical.PropSummary)
	location := textProp(comp, ical.PropLocation)

	ev := Event{Start: start, End: end, Title: title, Location: location}

	rr := comp.Props.Get(ical.PropRecurrenceRule)
	if rr == nil {
		return []Event{ev}, nil
	}
	return expandRecurrence(ev, rr.Value, w)
}

// expandRecurrence materializes occurrences of a recurring event inside the
// extraction window. The seed instance keeps its own slot when in range.
func expandRecurrence(seed Event, rule string, w Window) ([]Event, error) {
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return []Event{seed}, nil
	}
	opt.Dtstart = seed.Start
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return []Event{seed}, nil
	}

	duration := seed.End.Sub(seed.Start)
	var out []Event
	for _, occ := range r.Between(w.From, w.To, true) {
		out = append(out, Event{
			Start:    occ,
			End:      occ.Add(duration),
			Title:    seed.Title,
			Location: seed.Location,
		})
	}
	return out, nil
}

func textProp(comp *ical.Component, name string) string {
	p := comp.Props.Get(name)
	if p == nil {
		return ""
	}
	v, err := p.Text()
	if err != nil {
		return p.Value
	}
	return v
}
