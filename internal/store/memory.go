package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CreateMemory inserts a new memory. Returns the new memory ID.
func (s *SQLiteStore) CreateMemory(ctx context.Context, m *Memory) (int64, error) {
	if m.OwnerID == "" {
		return 0, fmt.Errorf("memory owner cannot be empty")
	}
	if m.CapturedAt.IsZero() {
		return 0, fmt.Errorf("memory capture time cannot be zero")
	}
	if m.Source == "" {
		m.Source = SourceUpload
	}
	if m.MediaKind == "" {
		m.MediaKind = MediaPhoto
	}
	if m.State == "" {
		m.State = StatePending
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (owner_id, captured_at, source, media_kind, text, summary, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.OwnerID, m.CapturedAt.UTC(), m.Source, m.MediaKind, m.Text, m.Summary, m.State, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting memory: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting last insert id: %w", err)
	}

	m.ID = id
	m.CreatedAt = now
	m.UpdatedAt = now
	return id, nil
}

// GetMemory retrieves a memory by ID. Returns nil if not found.
func (s *SQLiteStore) GetMemory(ctx context.Context, id int64) (*Memory, error) {
	m := &Memory{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, captured_at, source, media_kind, text, summary, state, created_at, updated_at
		 FROM memories WHERE id = ?`, id,
	).Scan(&m.ID, &m.OwnerID, &m.CapturedAt, &m.Source, &m.MediaKind,
		&m.Text, &m.Summary, &m.State, &m.CreatedAt, &m.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting memory %d: %w", id, err)
	}
	return m, nil
}

// SetMemoryState moves a memory through the processing lifecycle.
func (s *SQLiteStore) SetMemoryState(ctx context.Context, id int64, state string) error {
	switch state {
	case StatePending, StateProcessing, StateCompleted, StateFailed:
	default:
		return fmt.Errorf("invalid memory state %q", state)
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE memories SET state = ?, updated_at = ? WHERE id = ?",
		state, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("setting memory %d state: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("memory %d: %w", id, ErrNotFound)
	}
	return nil
}

// RecentWithContext returns the owner's most recent completed memories with
// their context rows attached (nil when absent). This is the clustering
// candidate pool: explicit, bounded, owner-scoped.
func (s *SQLiteStore) RecentWithContext(ctx context.Context, ownerID string, limit int) ([]*MemoryWithContext, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.owner_id, m.captured_at, m.source, m.media_kind, m.text, m.summary, m.state, m.created_at, m.updated_at,
		        c.memory_id, c.note, c.place_name, c.lat, c.lng, c.confirmed
		 FROM memories m
		 LEFT JOIN memory_context c ON c.memory_id = m.id
		 WHERE m.owner_id = ? AND m.state = ?
		 ORDER BY m.captured_at DESC
		 LIMIT ?`,
		ownerID, StateCompleted, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent memories: %w", err)
	}
	defer rows.Close()

	var out []*MemoryWithContext
	for rows.Next() {
		m := &Memory{}
		var ctxID sql.NullInt64
		var note, placeName sql.NullString
		var lat, lng sql.NullFloat64
		var confirmed sql.NullBool

		if err := rows.Scan(&m.ID, &m.OwnerID, &m.CapturedAt, &m.Source, &m.MediaKind,
			&m.Text, &m.Summary, &m.State, &m.CreatedAt, &m.UpdatedAt,
			&ctxID, &note, &placeName, &lat, &lng, &confirmed); err != nil {
			return nil, fmt.Errorf("scanning recent memory row: %w", err)
		}

		mc := &MemoryWithContext{Memory: m}
		if ctxID.Valid {
			mc.Context = &MemoryContext{
				MemoryID:  ctxID.Int64,
				Note:      note.String,
				PlaceName: placeName.String,
				Confirmed: confirmed.Bool,
			}
			if lat.Valid && lng.Valid {
				mc.Context.Coord = &GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
			}
		}
		out = append(out, mc)
	}
	return out, rows.Err()
}

// MemoriesByIDs retrieves multiple memories by their IDs in a single query.
func (s *SQLiteStore) MemoriesByIDs(ctx context.Context, ids []int64) ([]*Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	queryStr := fmt.Sprintf(
		`SELECT id, owner_id, captured_at, source, media_kind, text, summary, state, created_at, updated_at
		 FROM memories WHERE id IN (%s)`,
		strings.Join(placeholders, ","),
	)

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("getting memories by IDs: %w", err)
	}
	defer rows.Close()

	memories := make([]*Memory, 0, len(ids))
	for rows.Next() {
		m := &Memory{}
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.CapturedAt, &m.Source, &m.MediaKind,
			&m.Text, &m.Summary, &m.State, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}
