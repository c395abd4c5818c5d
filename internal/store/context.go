package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// GetContext retrieves the context row for a memory. Returns nil if absent.
func (s *SQLiteStore) GetContext(ctx context.Context, memoryID int64) (*MemoryContext, error) {
	mc := &MemoryContext{}
	var lat, lng sql.NullFloat64

	err := s.db.QueryRowContext(ctx,
		`SELECT memory_id, note, place_name, lat, lng, confirmed
		 FROM memory_context WHERE memory_id = ?`, memoryID,
	).Scan(&mc.MemoryID, &mc.Note, &mc.PlaceName, &lat, &lng, &mc.Confirmed)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting context for memory %d: %w", memoryID, err)
	}

	if lat.Valid && lng.Valid {
		mc.Coord = &GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	return mc, nil
}

// UpsertInferredContext writes AI-inferred context with fill-empty-slots-only
// semantics: an existing confirmed row is never touched, and on an
// unconfirmed row only slots that are still empty get filled.
func (s *SQLiteStore) UpsertInferredContext(ctx context.Context, mc *MemoryContext) error {
	existing, err := s.GetContext(ctx, mc.MemoryID)
	if err != nil {
		return err
	}

	if existing == nil {
		var lat, lng interface{}
		if mc.Coord != nil {
			lat, lng = mc.Coord.Lat, mc.Coord.Lng
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO memory_context (memory_id, note, place_name, lat, lng, confirmed)
			 VALUES (?, ?, ?, ?, ?, 0)`,
			mc.MemoryID, mc.Note, mc.PlaceName, lat, lng,
		)
		if err != nil {
			return fmt.Errorf("inserting inferred context for memory %d: %w", mc.MemoryID, err)
		}
		return nil
	}

	if existing.Confirmed {
		// User-asserted context wins; inference is a no-op.
		return nil
	}

	merged := *existing
	changed := false
	if merged.PlaceName == "" && mc.PlaceName != "" {
		merged.PlaceName = mc.PlaceName
		changed = true
	}
	if merged.Coord == nil && mc.Coord != nil {
		merged.Coord = mc.Coord
		changed = true
	}
	if merged.Note == "" && mc.Note != "" {
		merged.Note = mc.Note
		changed = true
	}
	if !changed {
		return nil
	}

	var lat, lng interface{}
	if merged.Coord != nil {
		lat, lng = merged.Coord.Lat, merged.Coord.Lng
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE memory_context SET note = ?, place_name = ?, lat = ?, lng = ?
		 WHERE memory_id = ? AND confirmed = 0`,
		merged.Note, merged.PlaceName, lat, lng, mc.MemoryID,
	)
	if err != nil {
		return fmt.Errorf("updating inferred context for memory %d: %w", mc.MemoryID, err)
	}
	return nil
}

// ConfirmContext writes user-asserted context, overwriting any inferred
// values and setting the confirmed flag.
func (s *SQLiteStore) ConfirmContext(ctx context.Context, mc *MemoryContext) error {
	var lat, lng interface{}
	if mc.Coord != nil {
		lat, lng = mc.Coord.Lat, mc.Coord.Lng
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_context (memory_id, note, place_name, lat, lng, confirmed)
		 VALUES (?, ?, ?, ?, ?, 1)
		 ON CONFLICT(memory_id) DO UPDATE SET
			note = excluded.note,
			place_name = excluded.place_name,
			lat = excluded.lat,
			lng = excluded.lng,
			confirmed = 1`,
		mc.MemoryID, mc.Note, mc.PlaceName, lat, lng,
	)
	if err != nil {
		return fmt.Errorf("confirming context for memory %d: %w", mc.MemoryID, err)
	}
	return nil
}

// ContextsByMemoryIDs fetches context rows for a set of memories.
func (s *SQLiteStore) ContextsByMemoryIDs(ctx context.Context, ids []int64) (map[int64]*MemoryContext, error) {
	out := make(map[int64]*MemoryContext, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(
		`SELECT memory_id, note, place_name, lat, lng, confirmed
		 FROM memory_context WHERE memory_id IN (%s)`,
		placeholders(len(ids)),
	)

	rows, err := s.db.QueryContext(ctx, query, idArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("querying contexts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		mc := &MemoryContext{}
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&mc.MemoryID, &mc.Note, &mc.PlaceName, &lat, &lng, &mc.Confirmed); err != nil {
			return nil, fmt.Errorf("scanning context row: %w", err)
		}
		if lat.Valid && lng.Valid {
			mc.Coord = &GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
		}
		out[mc.MemoryID] = mc
	}
	return out, rows.Err()
}

// ListTags returns all tags on a memory.
func (s *SQLiteStore) ListTags(ctx context.Context, memoryID int64) ([]*MemoryTag, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, memory_id, tag, confidence, origin FROM memory_tags WHERE memory_id = ? ORDER BY id",
		memoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tags for memory %d: %w", memoryID, err)
	}
	defer rows.Close()
	return scanTags(rows)
}

// AddInferredTag records an ai-origin tag. A no-op when the memory already
// carries the same tag text (user tags are never downgraded).
func (s *SQLiteStore) AddInferredTag(ctx context.Context, memoryID int64, tag string, confidence float64) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return fmt.Errorf("tag cannot be empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_tags (memory_id, tag, confidence, origin)
		 VALUES (?, ?, ?, 'ai')
		 ON CONFLICT(memory_id, tag) DO NOTHING`,
		memoryID, tag, confidence,
	)
	if err != nil {
		return fmt.Errorf("adding inferred tag %q: %w", tag, err)
	}
	return nil
}

// ConfirmTag records a user tag. If the same tag text exists with ai origin,
// the origin flips to user and the confidence is cleared.
func (s *SQLiteStore) ConfirmTag(ctx context.Context, memoryID int64, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return fmt.Errorf("tag cannot be empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_tags (memory_id, tag, confidence, origin)
		 VALUES (?, ?, NULL, 'user')
		 ON CONFLICT(memory_id, tag) DO UPDATE SET origin = 'user', confidence = NULL`,
		memoryID, tag,
	)
	if err != nil {
		return fmt.Errorf("confirming tag %q: %w", tag, err)
	}
	return nil
}

// TagsByMemoryIDs fetches tags for a set of memories.
func (s *SQLiteStore) TagsByMemoryIDs(ctx context.Context, ids []int64) (map[int64][]*MemoryTag, error) {
	out := make(map[int64][]*MemoryTag, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(
		"SELECT id, memory_id, tag, confidence, origin FROM memory_tags WHERE memory_id IN (%s) ORDER BY id",
		placeholders(len(ids)),
	)
	rows, err := s.db.QueryContext(ctx, query, idArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()

	tags, err := scanTags(rows)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		out[t.MemoryID] = append(out[t.MemoryID], t)
	}
	return out, nil
}

// ListPeople returns all people on a memory.
func (s *SQLiteStore) ListPeople(ctx context.Context, memoryID int64) ([]*MemoryPerson, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, memory_id, name, confidence, confirmed FROM memory_people WHERE memory_id = ? ORDER BY id",
		memoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing people for memory %d: %w", memoryID, err)
	}
	defer rows.Close()
	return scanPeople(rows)
}

// AddInferredPerson records an unconfirmed person. A no-op when the memory
// already carries the same name (confirmed rows are never downgraded).
func (s *SQLiteStore) AddInferredPerson(ctx context.Context, memoryID int64, name string, confidence float64) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("person name cannot be empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_people (memory_id, name, confidence, confirmed)
		 VALUES (?, ?, ?, 0)
		 ON CONFLICT(memory_id, name) DO NOTHING`,
		memoryID, name, confidence,
	)
	if err != nil {
		return fmt.Errorf("adding inferred person %q: %w", name, err)
	}
	return nil
}

// ConfirmPerson records a user-confirmed person, flipping an inferred row if
// the name already exists.
func (s *SQLiteStore) ConfirmPerson(ctx context.Context, memoryID int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("person name cannot be empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_people (memory_id, name, confidence, confirmed)
		 VALUES (?, ?, NULL, 1)
		 ON CONFLICT(memory_id, name) DO UPDATE SET confirmed = 1, confidence = NULL`,
		memoryID, name,
	)
	if err != nil {
		return fmt.Errorf("confirming person %q: %w", name, err)
	}
	return nil
}

// PeopleByMemoryIDs fetches people for a set of memories.
func (s *SQLiteStore) PeopleByMemoryIDs(ctx context.Context, ids []int64) (map[int64][]*MemoryPerson, error) {
	out := make(map[int64][]*MemoryPerson, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := fmt.Sprintf(
		"SELECT id, memory_id, name, confidence, confirmed FROM memory_people WHERE memory_id IN (%s) ORDER BY id",
		placeholders(len(ids)),
	)
	rows, err := s.db.QueryContext(ctx, query, idArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("querying people: %w", err)
	}
	defer rows.Close()

	people, err := scanPeople(rows)
	if err != nil {
		return nil, err
	}
	for _, p := range people {
		out[p.MemoryID] = append(out[p.MemoryID], p)
	}
	return out, nil
}

func scanTags(rows *sql.Rows) ([]*MemoryTag, error) {
	var tags []*MemoryTag
	for rows.Next() {
		t := &MemoryTag{}
		var conf sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.MemoryID, &t.Tag, &conf, &t.Origin); err != nil {
			return nil, fmt.Errorf("scanning tag row: %w", err)
		}
		if conf.Valid {
			v := conf.Float64
			t.Confidence = &v
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func scanPeople(rows *sql.Rows) ([]*MemoryPerson, error) {
	var people []*MemoryPerson
	for rows.Next() {
		p := &MemoryPerson{}
		var conf sql.NullFloat64
		if err := rows.Scan(&p.ID, &p.MemoryID, &p.Name, &conf, &p.Confirmed); err != nil {
			return nil, fmt.Errorf("scanning person row: %w", err)
		}
		if conf.Valid {
			v := conf.Float64
			p.Confidence = &v
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
