package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// UpsertEmbedding stores an embedding vector for a memory or event.
// Replaces any existing vector for the same entity (regeneration never
// touches the parent row).
func (s *SQLiteStore) UpsertEmbedding(ctx context.Context, kind string, entityID int64, vector []float32, model string) error {
	if kind != EmbedKindMemory && kind != EmbedKindEvent {
		return fmt.Errorf("invalid embedding kind %q", kind)
	}
	blob := float32ToBytes(vector)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (kind, entity_id, vector, dimensions, model)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(kind, entity_id) DO UPDATE SET
			vector = excluded.vector,
			dimensions = excluded.dimensions,
			model = excluded.model`,
		kind, entityID, blob, len(vector), model,
	)
	if err != nil {
		return fmt.Errorf("storing %s embedding for %d: %w", kind, entityID, err)
	}
	return nil
}

// upsertEmbeddingTx is UpsertEmbedding inside an existing transaction.
func upsertEmbeddingTx(ctx context.Context, tx *sql.Tx, kind string, entityID int64, vector []float32, model string) error {
	blob := float32ToBytes(vector)
	_, err := tx.ExecContext(ctx,
		`INSERT INTO embeddings (kind, entity_id, vector, dimensions, model)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(kind, entity_id) DO UPDATE SET
			vector = excluded.vector,
			dimensions = excluded.dimensions,
			model = excluded.model`,
		kind, entityID, blob, len(vector), model,
	)
	if err != nil {
		return fmt.Errorf("storing %s embedding for %d: %w", kind, entityID, err)
	}
	return nil
}

// GetEmbedding retrieves the embedding vector for an entity.
// Returns nil if no embedding is stored.
func (s *SQLiteStore) GetEmbedding(ctx context.Context, kind string, entityID int64) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT vector FROM embeddings WHERE kind = ? AND entity_id = ?",
		kind, entityID,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s embedding for %d: %w", kind, entityID, err)
	}
	return bytesToFloat32(blob), nil
}

// NearestMemories performs a brute-force owner-scoped cosine scan over
// memory embeddings and returns the K nearest by cosine distance.
func (s *SQLiteStore) NearestMemories(ctx context.Context, ownerID string, vector []float32, k int) ([]Neighbor, error) {
	return s.nearest(ctx, EmbedKindMemory,
		`SELECT e.entity_id, e.vector
		 FROM embeddings e
		 JOIN memories m ON m.id = e.entity_id
		 WHERE e.kind = 'memory' AND m.owner_id = ?`,
		ownerID, vector, k)
}

// NearestEvents performs a brute-force owner-scoped cosine scan over event
// embeddings and returns the K nearest by cosine distance.
func (s *SQLiteStore) NearestEvents(ctx context.Context, ownerID string, vector []float32, k int) ([]Neighbor, error) {
	return s.nearest(ctx, EmbedKindEvent,
		`SELECT e.entity_id, e.vector
		 FROM embeddings e
		 JOIN events ev ON ev.id = e.entity_id
		 WHERE e.kind = 'event' AND ev.owner_id = ?`,
		ownerID, vector, k)
}

func (s *SQLiteStore) nearest(ctx context.Context, kind, query, ownerID string, vector []float32, k int) ([]Neighbor, error) {
	if k <= 0 {
		k = 10
	}

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying %s embeddings: %w", kind, err)
	}
	defer rows.Close()

	var neighbors []Neighbor
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning embedding row: %w", err)
		}
		vec := bytesToFloat32(blob)
		neighbors = append(neighbors, Neighbor{
			ID:       id,
			Distance: CosineDistance(vector, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].ID < neighbors[j].ID
	})

	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// CosineDistance computes cosine distance (1 - cosine similarity) between
// two vectors. Range is [0,2]; mismatched or zero vectors yield 1.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dotProduct/(math.Sqrt(normA)*math.Sqrt(normB))
}

// float32ToBytes converts a float32 slice to a byte slice (little-endian).
func float32ToBytes(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// bytesToFloat32 converts a byte slice back to float32 slice (little-endian).
func bytesToFloat32(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
