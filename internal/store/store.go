// Package store provides the SQLite storage layer for Memoir.
//
// All graph data lives in a single SQLite database file, including:
// - Memories (atomic captures) with processing state
// - Per-memory context, tags, and people with ai/user provenance
// - Synthesized events and memory-event links
// - Embedding vectors for memories and events (similarity index)
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.memoir/memoir.db"

// DefaultEmbeddingDimensions is the default embedding vector size (MiniLM).
const DefaultEmbeddingDimensions = 384

// ErrNotFound is returned by mutating operations whose target row is gone.
// Read operations return (nil, nil) for missing rows instead.
var ErrNotFound = errors.New("not found")

// Memory processing states.
const (
	StatePending    = "pending"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// Capture sources.
const (
	SourceCamera = "camera"
	SourceUpload = "upload"
	SourceVoice  = "voice"
)

// Media kinds.
const (
	MediaPhoto = "photo"
	MediaAudio = "audio"
)

// Annotation origins.
const (
	OriginAI   = "ai"
	OriginUser = "user"
)

// Memory-event link relations.
const (
	RelationPrimary    = "primary"
	RelationSupporting = "supporting"
	// RelationContext is reserved for looser associations. The schema
	// accepts it, but formation never produces it.
	RelationContext = "context"
)

// Embedding kinds.
const (
	EmbedKindMemory = "memory"
	EmbedKindEvent  = "event"
)

// GeoPoint is a WGS84 coordinate. Optional locations are *GeoPoint; nil
// means "no location", never a zero-valued coordinate.
type GeoPoint struct {
	Lat float64
	Lng float64
}

// Memory is a single atomic capture (photo or voice note).
// The core reads memories; only the upstream pipeline mutates text and state.
type Memory struct {
	ID         int64
	OwnerID    string
	CapturedAt time.Time
	Source     string
	MediaKind  string
	Text       string
	Summary    string
	State      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// MemoryContext holds optional per-memory context. Confirmed marks
// user-asserted values; inferred writes never overwrite confirmed ones.
type MemoryContext struct {
	MemoryID  int64
	Note      string
	PlaceName string
	Coord     *GeoPoint
	Confirmed bool
}

// MemoryTag is a text tag on a memory. Confidence is present only for
// ai-origin tags.
type MemoryTag struct {
	ID         int64
	MemoryID   int64
	Tag        string
	Confidence *float64
	Origin     string
}

// MemoryPerson is a person associated with a memory.
type MemoryPerson struct {
	ID         int64
	MemoryID   int64
	Name       string
	Confidence *float64
	Confirmed  bool
}

// Event is a synthesized situation composed of one or more memories.
type Event struct {
	ID         int64
	OwnerID    string
	StartedAt  time.Time
	EndedAt    time.Time
	Title      string
	Summary    string
	PlaceName  string
	Coord      *GeoPoint
	Confidence float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Link ties a memory to an event with a relation type.
type Link struct {
	MemoryID int64
	EventID  int64
	Relation string
}

// Neighbor is one similarity-index hit. Distance is cosine distance in [0,2].
type Neighbor struct {
	ID       int64
	Distance float64
}

// MemoryWithContext bundles a memory with its (possibly nil) context row.
// This is the clustering candidate pool shape.
type MemoryWithContext struct {
	Memory  *Memory
	Context *MemoryContext
}

// Stats holds observability statistics about the store.
type Stats struct {
	MemoryCount    int64
	EventCount     int64
	LinkCount      int64
	EmbeddingCount int64
	DBSizeBytes    int64
}

// Config holds configuration for NewStore.
type Config struct {
	DBPath              string
	EmbeddingDimensions int
}

// Store defines the graph storage interface consumed by the core.
type Store interface {
	// Memories (created by ingestion, read by everything else)
	CreateMemory(ctx context.Context, m *Memory) (int64, error)
	GetMemory(ctx context.Context, id int64) (*Memory, error)
	SetMemoryState(ctx context.Context, id int64, state string) error
	RecentWithContext(ctx context.Context, ownerID string, limit int) ([]*MemoryWithContext, error)

	// Context / tags / people
	GetContext(ctx context.Context, memoryID int64) (*MemoryContext, error)
	UpsertInferredContext(ctx context.Context, mc *MemoryContext) error
	ConfirmContext(ctx context.Context, mc *MemoryContext) error
	ContextsByMemoryIDs(ctx context.Context, ids []int64) (map[int64]*MemoryContext, error)
	ListTags(ctx context.Context, memoryID int64) ([]*MemoryTag, error)
	AddInferredTag(ctx context.Context, memoryID int64, tag string, confidence float64) error
	ConfirmTag(ctx context.Context, memoryID int64, tag string) error
	TagsByMemoryIDs(ctx context.Context, ids []int64) (map[int64][]*MemoryTag, error)
	ListPeople(ctx context.Context, memoryID int64) ([]*MemoryPerson, error)
	AddInferredPerson(ctx context.Context, memoryID int64, name string, confidence float64) error
	ConfirmPerson(ctx context.Context, memoryID int64, name string) error
	PeopleByMemoryIDs(ctx context.Context, ids []int64) (map[int64][]*MemoryPerson, error)

	// Events and links
	GetEvent(ctx context.Context, id int64) (*Event, error)
	EventIDForMemories(ctx context.Context, ownerID string, memoryIDs []int64) (int64, error)
	CreateEventWithLinks(ctx context.Context, ev *Event, links []Link, vector []float32, model string) (int64, error)
	AttachMemoryToEvent(ctx context.Context, eventID, memoryID int64, relation string) (bool, error)
	ResynthesizeEvent(ctx context.Context, ev *Event, vector []float32, model string) error
	LinkedMemoryIDs(ctx context.Context, eventID int64) ([]int64, error)
	LinkCount(ctx context.Context, eventID int64) (int, error)
	MemoriesByIDs(ctx context.Context, ids []int64) ([]*Memory, error)
	EventsByIDs(ctx context.Context, ids []int64) ([]*Event, error)
	EventsOlderThan(ctx context.Context, ownerID string, cutoff time.Time) ([]*Event, error)

	// Embeddings / similarity index
	UpsertEmbedding(ctx context.Context, kind string, entityID int64, vector []float32, model string) error
	GetEmbedding(ctx context.Context, kind string, entityID int64) ([]float32, error)
	NearestMemories(ctx context.Context, ownerID string, vector []float32, k int) ([]Neighbor, error)
	NearestEvents(ctx context.Context, ownerID string, vector []float32, k int) ([]Neighbor, error)

	// Observability
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	dbPath  string
	embDims int
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg Config) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = DefaultEmbeddingDimensions
	}

	// Create parent directory for non-memory databases
	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Enable WAL mode and foreign keys
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:      db,
		dbPath:  cfg.DBPath,
		embDims: cfg.EmbeddingDimensions,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetDB exposes the underlying handle for callers that need raw queries.
func (s *SQLiteStore) GetDB() *sql.DB {
	return s.db
}

// Stats returns row counts and database size.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	counts := []struct {
		query string
		dst   *int64
	}{
		{"SELECT COUNT(*) FROM memories", &st.MemoryCount},
		{"SELECT COUNT(*) FROM events", &st.EventCount},
		{"SELECT COUNT(*) FROM memory_event_links", &st.LinkCount},
		{"SELECT COUNT(*) FROM embeddings", &st.EmbeddingCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("counting rows: %w", err)
		}
	}

	if s.dbPath != ":memory:" {
		if fi, err := os.Stat(s.dbPath); err == nil {
			st.DBSizeBytes = fi.Size()
		}
	}
	return st, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
