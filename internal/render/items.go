package render

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/campusrooms/roomsched/internal/feed"
)

// itemSink accumulates calendar items mined from intercepted XHR bodies.
// Outlook's published-calendar SPA answers service.svc calls with an EWS-style
// envelope; items live under Body.ResponseMessages.Items[].Items or under a
// RootFolder wrapper, depending on the action.
type itemSink struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	events []feed.Event
}

func newItemSink() *itemSink {
	return &itemSink{seen: make(map[string]struct{})}
}

// WantURL reports whether a response URL is worth decoding at all.
func (s *itemSink) WantURL(url string) bool {
	if !strings.Contains(url, "service.svc") {
		return false
	}
	return strings.Contains(url, "GetItem") ||
		strings.Contains(url, "GetItems") ||
		strings.Contains(url, "PublishedCalendar")
}

type ewsEnvelope struct {
	Body *ewsBody `json:"Body"`
	// Some actions skip the Body wrapper entirely.
	ResponseMessages *ewsResponseMessages `json:"ResponseMessages"`
}

type ewsBody struct {
	ResponseMessages *ewsResponseMessages `json:"ResponseMessages"`
}

type ewsResponseMessages struct {
	Items []ewsResponseBlock `json:"Items"`
}

type ewsResponseBlock struct {
	Items      []ewsCalendarItem `json:"Items"`
	RootFolder *struct {
		Items []ewsCalendarItem `json:"Items"`
	} `json:"RootFolder"`
}

type ewsCalendarItem struct {
	Type     string `json:"__type"`
	Start    string `json:"Start"`
	End      string `json:"End"`
	Subject  string `json:"Subject"`
	Title    string `json:"Title"`
	ItemID   *struct {
		ID string `json:"Id"`
	} `json:"ItemId"`
	Location *struct {
		DisplayName string `json:"DisplayName"`
	} `json:"Location"`
}

// Consume decodes one response body and harvests any calendar items in it.
// Bodies that are not EWS envelopes are ignored silently.
func (s *itemSink) Consume(body []byte) {
	var env ewsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return
	}
	rm := env.ResponseMessages
	if env.Body != nil && env.Body.ResponseMessages != nil {
		rm = env.Body.ResponseMessages
	}
	if rm == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, block := range rm.Items {
		items := block.Items
		if len(items) == 0 && block.RootFolder != nil {
			items = block.RootFolder.Items
		}
		for _, it := range items {
			s.add(it)
		}
	}
}

func (s *itemSink) add(it ewsCalendarItem) {
	if !strings.HasPrefix(it.Type, "CalendarItem") && (it.Start == "" || it.Subject == "") {
		return
	}
	start, ok := parseEWSTime(it.Start)
	if !ok {
		return
	}
	end, ok := parseEWSTime(it.End)
	if !ok {
		end = start
	}

	title := it.Subject
	if title == "" {
		title = it.Title
	}
	location := ""
	if it.Location != nil {
		location = it.Location.DisplayName
	}

	key := title + "|" + it.Start
	if it.ItemID != nil && it.ItemID.ID != "" {
		key = it.ItemID.ID
	}
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}

	s.events = append(s.events, feed.Event{
		Start:    start,
		End:      end,
		Title:    title,
		Location: location,
	})
}

func (s *itemSink) Events() []feed.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]feed.Event, len(s.events))
	copy(out, s.events)
	return out
}

var ewsTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseEWSTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range ewsTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
