package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/campusrooms/roomsched/internal/storage"
)

const sourceColumns = `id, display_name, email, building, room, primary_url, ics_url, color, enabled, last_fetched_at, created_at, updated_at`

func scanSource(row interface{ Scan(...any) error }) (*storage.CalendarSource, error) {
	var src storage.CalendarSource
	var lastFetched sql.NullTime
	err := row.Scan(
		&src.ID, &src.DisplayName, &src.Email, &src.Building, &src.Room,
		&src.PrimaryURL, &src.ICSURL, &src.Color, &src.Enabled,
		&lastFetched, &src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastFetched.Valid {
		t := lastFetched.Time
		src.LastFetchedAt = &t
	}
	return &src, nil
}

func (s *Store) ListSources(ctx context.Context, enabledOnly bool) ([]*storage.CalendarSource, error) {
	q := `SELECT ` + sourceColumns + ` FROM calendar_sources`
	if enabledOnly {
		q += ` WHERE enabled = 1`
	}
	q += ` ORDER BY display_name, id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.CalendarSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *Store) GetSource(ctx context.Context, id int64) (*storage.CalendarSource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM calendar_sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return src, err
}

func (s *Store) GetSourceByURL(ctx context.Context, primaryURL string) (*storage.CalendarSource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM calendar_sources WHERE primary_url = ?`, primaryURL)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return src, err
}

func (s *Store) UpsertSourceByURL(ctx context.Context, src *storage.CalendarSource) (bool, error) {
	if src.PrimaryURL == "" {
		return false, fmt.Errorf("primary URL required")
	}

	created := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.Exec(`
			UPDATE calendar_sources
			SET display_name = ?, email = ?, building = ?, room = ?, ics_url = ?, updated_at = ?
			WHERE primary_url = ?
		`, src.DisplayName, src.Email, src.Building, src.Room, src.ICSURL, now, src.PrimaryURL)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}

		result, err := tx.Exec(`
			INSERT INTO calendar_sources (
				display_name, email, building, room, primary_url, ics_url,
				color, enabled, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, src.DisplayName, src.Email, src.Building, src.Room, src.PrimaryURL,
			src.ICSURL, src.Color, boolToInt(src.Enabled), now, now)
		if err != nil {
			return err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		src.ID = id
		created = true
		return nil
	})
	return created, err
}

func (s *Store) UpdateSource(ctx context.Context, id int64, upd storage.SourceUpdate) error {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.DisplayName != nil {
		add("display_name", *upd.DisplayName)
	}
	if upd.Email != nil {
		add("email", *upd.Email)
	}
	if upd.Building != nil {
		add("building", *upd.Building)
	}
	if upd.Room != nil {
		add("room", *upd.Room)
	}
	if upd.ICSURL != nil {
		add("ics_url", *upd.ICSURL)
	}
	if upd.Color != nil {
		add("color", *upd.Color)
	}
	if upd.Enabled != nil {
		add("enabled", boolToInt(*upd.Enabled))
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now().UTC())
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE calendar_sources SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSource(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calendar_sources WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) TouchSourceFetched(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE calendar_sources SET last_fetched_at = ? WHERE id = ?`, at.UTC(), id)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
