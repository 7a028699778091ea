package sqlite

import (
	"context"
	"time"

	"github.com/campusrooms/roomsched/internal/storage"
)

func (s *Store) AddManualEvent(ctx context.Context, ev *storage.ManualEvent) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO manual_events (room, building, title, description, start_at, end_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.Room, ev.Building, ev.Title, ev.Description, ev.Start.UTC(), ev.End.UTC(), now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ev.ID = id
	ev.CreatedAt = now
	return nil
}

func (s *Store) DeleteManualEvent(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM manual_events WHERE id = ?`, id)
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

// ListManualEvents returns manual events overlapping the [from, to] window,
// ordered by start time.
func (s *Store) ListManualEvents(ctx context.Context, from, to time.Time) ([]*storage.ManualEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room, building, title, description, start_at, end_at, created_at
		FROM manual_events
		WHERE end_at >= ? AND start_at <= ?
		ORDER BY start_at, id
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.ManualEvent
	for rows.Next() {
		var ev storage.ManualEvent
		if err := rows.Scan(&ev.ID, &ev.Room, &ev.Building, &ev.Title, &ev.Description,
			&ev.Start, &ev.End, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *Store) DeleteManualEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM manual_events WHERE end_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
