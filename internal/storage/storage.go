// Package storage defines the event store: the calendar source catalog and
// manually added bookings.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("storage: not found")

// CalendarSource is one published room calendar in the catalog. PrimaryURL is
// the published HTML page and the source's identity; ICSURL, when present, is
// the fast extraction path.
type CalendarSource struct {
	ID            int64
	DisplayName   string
	Email         string
	Building      string
	Room          string
	PrimaryURL    string
	ICSURL        string
	Color         string
	Enabled       bool
	LastFetchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SourceUpdate is a partial update; nil fields are left untouched.
type SourceUpdate struct {
	DisplayName *string
	Email       *string
	Building    *string
	Room        *string
	ICSURL      *string
	Color       *string
	Enabled     *bool
}

// ManualEvent is a booking entered by an operator rather than extracted from
// a published calendar.
type ManualEvent struct {
	ID          int64
	Room        string
	Building    string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	CreatedAt   time.Time
}

type Store interface {
	Close()

	// Sources
	ListSources(ctx context.Context, enabledOnly bool) ([]*CalendarSource, error)
	GetSource(ctx context.Context, id int64) (*CalendarSource, error)
	GetSourceByURL(ctx context.Context, primaryURL string) (*CalendarSource, error)
	// UpsertSourceByURL inserts or updates by PrimaryURL. On update the
	// catalog fields (display name, email, building, room, ICS URL) are
	// overwritten while color and enabled are preserved. Reports whether a
	// new row was created.
	UpsertSourceByURL(ctx context.Context, src *CalendarSource) (bool, error)
	UpdateSource(ctx context.Context, id int64, upd SourceUpdate) error
	DeleteSource(ctx context.Context, id int64) error
	TouchSourceFetched(ctx context.Context, id int64, at time.Time) error

	// Manual events
	AddManualEvent(ctx context.Context, ev *ManualEvent) error
	DeleteManualEvent(ctx context.Context, id int64) error
	ListManualEvents(ctx context.Context, from, to time.Time) ([]*ManualEvent, error)
	// DeleteManualEventsBefore removes manual events that ended before the
	// cutoff and reports how many were deleted.
	DeleteManualEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
