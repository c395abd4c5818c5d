package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetEvent retrieves an event by ID. Returns nil if not found.
func (s *SQLiteStore) GetEvent(ctx context.Context, id int64) (*Event, error) {
	return scanEventRow(s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, started_at, ended_at, title, summary, place_name, lat, lng, confidence, created_at, updated_at
		 FROM events WHERE id = ?`, id,
	))
}

// EventIDForMemories returns the ID of the first event (by link insertion)
// that any of the given memories belongs to, owner-scoped. Returns 0 when
// none of the memories is linked.
func (s *SQLiteStore) EventIDForMemories(ctx context.Context, ownerID string, memoryIDs []int64) (int64, error) {
	if len(memoryIDs) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(
		`SELECT l.event_id
		 FROM memory_event_links l
		 JOIN events e ON e.id = l.event_id
		 WHERE e.owner_id = ? AND l.memory_id IN (%s)
		 ORDER BY l.rowid
		 LIMIT 1`,
		placeholders(len(memoryIDs)),
	)
	args := append([]interface{}{ownerID}, idArgs(memoryIDs)...)

	var eventID int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&eventID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("finding event for memories: %w", err)
	}
	return eventID, nil
}

// CreateEventWithLinks inserts an event, its memory links, and its embedding
// in one transaction. A failure of any step leaves no partially-linked event.
func (s *SQLiteStore) CreateEventWithLinks(ctx context.Context, ev *Event, links []Link, vector []float32, model string) (int64, error) {
	if ev.OwnerID == "" {
		return 0, fmt.Errorf("event owner cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var lat, lng interface{}
	if ev.Coord != nil {
		lat, lng = ev.Coord.Lat, ev.Coord.Lng
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO events (owner_id, started_at, ended_at, title, summary, place_name, lat, lng, confidence, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.OwnerID, ev.StartedAt.UTC(), ev.EndedAt.UTC(), ev.Title, ev.Summary,
		ev.PlaceName, lat, lng, ev.Confidence, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting event id: %w", err)
	}

	for _, l := range links {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_event_links (memory_id, event_id, relation)
			 VALUES (?, ?, ?)
			 ON CONFLICT(memory_id, event_id) DO NOTHING`,
			l.MemoryID, id, l.Relation,
		); err != nil {
			return 0, fmt.Errorf("linking memory %d: %w", l.MemoryID, err)
		}
	}

	if len(vector) > 0 {
		if err := upsertEmbeddingTx(ctx, tx, EmbedKindEvent, id, vector, model); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing event create: %w", err)
	}

	ev.ID = id
	ev.CreatedAt = now
	ev.UpdatedAt = now
	return id, nil
}

// AttachMemoryToEvent links a memory to an existing event. Idempotent:
// re-linking an already-linked memory is a no-op. Returns whether a new
// link was created.
func (s *SQLiteStore) AttachMemoryToEvent(ctx context.Context, eventID, memoryID int64, relation string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_event_links (memory_id, event_id, relation)
		 VALUES (?, ?, ?)
		 ON CONFLICT(memory_id, event_id) DO NOTHING`,
		memoryID, eventID, relation,
	)
	if err != nil {
		return false, fmt.Errorf("attaching memory %d to event %d: %w", memoryID, eventID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return rows > 0, nil
}

// ResynthesizeEvent replaces an event's title/summary/bounds/confidence and
// its embedding in one transaction. Returns ErrNotFound if the event is gone.
func (s *SQLiteStore) ResynthesizeEvent(ctx context.Context, ev *Event, vector []float32, model string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var lat, lng interface{}
	if ev.Coord != nil {
		lat, lng = ev.Coord.Lat, ev.Coord.Lng
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE events SET started_at = ?, ended_at = ?, title = ?, summary = ?,
			place_name = ?, lat = ?, lng = ?, confidence = ?, updated_at = ?
		 WHERE id = ?`,
		ev.StartedAt.UTC(), ev.EndedAt.UTC(), ev.Title, ev.Summary,
		ev.PlaceName, lat, lng, ev.Confidence, time.Now().UTC(), ev.ID,
	)
	if err != nil {
		return fmt.Errorf("updating event %d: %w", ev.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("event %d: %w", ev.ID, ErrNotFound)
	}

	if len(vector) > 0 {
		if err := upsertEmbeddingTx(ctx, tx, EmbedKindEvent, ev.ID, vector, model); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing event update: %w", err)
	}
	return nil
}

// LinkedMemoryIDs returns the IDs of all memories linked to an event,
// in link insertion order.
func (s *SQLiteStore) LinkedMemoryIDs(ctx context.Context, eventID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT memory_id FROM memory_event_links WHERE event_id = ? ORDER BY rowid",
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing links for event %d: %w", eventID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning link row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LinkCount returns the number of memories linked to an event.
func (s *SQLiteStore) LinkCount(ctx context.Context, eventID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memory_event_links WHERE event_id = ?", eventID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting links for event %d: %w", eventID, err)
	}
	return count, nil
}

// EventsByIDs retrieves multiple events in a single query.
func (s *SQLiteStore) EventsByIDs(ctx context.Context, ids []int64) ([]*Event, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		`SELECT id, owner_id, started_at, ended_at, title, summary, place_name, lat, lng, confidence, created_at, updated_at
		 FROM events WHERE id IN (%s)`,
		placeholders(len(ids)),
	)
	rows, err := s.db.QueryContext(ctx, query, idArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("getting events by IDs: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0, len(ids))
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// EventsOlderThan returns the owner's events whose start time is before the
// cutoff, newest first. This is the resurfacing candidate pool.
func (s *SQLiteStore) EventsOlderThan(ctx context.Context, ownerID string, cutoff time.Time) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, started_at, ended_at, title, summary, place_name, lat, lng, confidence, created_at, updated_at
		 FROM events WHERE owner_id = ? AND started_at < ?
		 ORDER BY started_at DESC`,
		ownerID, cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing events older than cutoff: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(r rowScanner) (*Event, error) {
	ev := &Event{}
	var lat, lng sql.NullFloat64
	if err := r.Scan(&ev.ID, &ev.OwnerID, &ev.StartedAt, &ev.EndedAt, &ev.Title,
		&ev.Summary, &ev.PlaceName, &lat, &lng, &ev.Confidence,
		&ev.CreatedAt, &ev.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scanning event row: %w", err)
	}
	if lat.Valid && lng.Valid {
		ev.Coord = &GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	return ev, nil
}

func scanEventRow(row *sql.Row) (*Event, error) {
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ev, nil
}
