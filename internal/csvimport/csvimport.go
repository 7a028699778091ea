// Package csvimport loads the room-publisher CSV into the source catalog.
//
// The CSV is authoritative for display name, email, building, room and ICS
// URL; color and enabled state on existing rows are never touched, so
// re-importing the same file is a no-op.
package csvimport

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/campusrooms/roomsched/internal/storage"
)

// Column names as exported by the room publisher.
const (
	colRoomName   = "Nume_Sala"
	colEmail      = "Email_Sala"
	colBuilding   = "Cladire"
	colPrimaryURL = "PublishedCalendarUrl"
	colICSURL     = "PublishedICalUrl"
)

// palette is the deterministic per-source color pool. The pick depends only
// on the URL, so repeated imports keep colors stable.
var palette = []string{
	"#003366", "#0066cc", "#28a745", "#dc3545", "#fd7e14", "#6f42c1", "#20c997", "#e83e8c",
	"#17a2b8", "#6610f2", "#007bff", "#6610f2", "#e6590f", "#661000",
}

// ColorForURL picks a palette color from the SHA-1 of the URL.
func ColorForURL(url string) string {
	sum := sha1.Sum([]byte(url))
	v := binary.BigEndian.Uint32(sum[:4])
	return palette[int(v)%len(palette)]
}

// Result summarizes one import.
type Result struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

type Importer struct {
	store  storage.Store
	logger zerolog.Logger
}

func New(store storage.Store, logger zerolog.Logger) *Importer {
	return &Importer{
		store:  store,
		logger: logger.With().Str("component", "csvimport").Logger(),
	}
}

// Import reads the publisher CSV and upserts each row by its published
// calendar URL. Rows without one are counted as skipped. Unknown columns are
// ignored.
func (im *Importer) Import(ctx context.Context, r io.Reader) (Result, error) {
	var res Result

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return res, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	if _, ok := cols[colPrimaryURL]; !ok {
		return res, fmt.Errorf("csv header missing %s column", colPrimaryURL)
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("read csv row: %w", err)
		}

		primaryURL := field(row, colPrimaryURL)
		if primaryURL == "" {
			res.Skipped++
			continue
		}

		name := field(row, colRoomName)
		src := &storage.CalendarSource{
			DisplayName: name,
			Email:       field(row, colEmail),
			Building:    field(row, colBuilding),
			Room:        roomFromName(name),
			PrimaryURL:  primaryURL,
			ICSURL:      field(row, colICSURL),
			Color:       ColorForURL(primaryURL),
			Enabled:     true,
		}

		created, err := im.store.UpsertSourceByURL(ctx, src)
		if err != nil {
			return res, fmt.Errorf("upsert %s: %w", primaryURL, err)
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}

	im.logger.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Msg("csv import finished")
	return res, nil
}

// roomFromName derives the room code from a publisher room name like
// "UTCN - Baritiu - BT5.03": the last " - " segment.
func roomFromName(name string) string {
	parts := strings.Split(name, " - ")
	for i := len(parts) - 1; i >= 0; i-- {
		if p := strings.TrimSpace(parts[i]); p != "" {
			return p
		}
	}
	return strings.TrimSpace(name)
}
