package artifact

import "time"

// Event is the persisted record for one extracted calendar item. The raw
// title and location are kept alongside the parsed fields so downstream
// consumers never need to re-run extraction.
type Event struct {
	Source       string    `json:"source"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Title        string    `json:"title"`
	DisplayTitle string    `json:"display_title"`
	Subject      string    `json:"subject"`
	Professor    string    `json:"professor"`
	Room         string    `json:"room"`
	Building     string    `json:"building"`
	GroupDisplay string    `json:"group_display"`
	Location     string    `json:"location"`
	Color        string    `json:"color"`
	CalendarName string    `json:"calendar_name"`
}

// UnassignedRoom buckets merged events whose room could not be resolved.
const UnassignedRoom = "__unassigned__"

// Schedule is the merged, room-indexed view over every per-calendar artifact.
type Schedule struct {
	Rooms       map[string][]Event `json:"rooms"`
	Events      []Event            `json:"events"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// CalendarMeta resolves an event's source hash back to catalog metadata
// without touching the event store.
type CalendarMeta struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Building string `json:"building"`
	Room     string `json:"room"`
}

type CalendarMap map[string]CalendarMeta
