package store

import (
	"fmt"
	"time"
)

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	// Seed metadata after bootstrap so the meta table exists.
	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	return nil
}

// runBootstrapDDL creates the full v1 schema in one transaction.
func (s *SQLiteStore) runBootstrapDDL() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id TEXT NOT NULL,
			captured_at TIMESTAMP NOT NULL,
			source TEXT NOT NULL DEFAULT 'upload',
			media_kind TEXT NOT NULL DEFAULT 'photo',
			text TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_owner_captured
			ON memories(owner_id, captured_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_state ON memories(state)`,

		`CREATE TABLE IF NOT EXISTS memory_context (
			memory_id INTEGER PRIMARY KEY
				REFERENCES memories(id) ON DELETE CASCADE,
			note TEXT NOT NULL DEFAULT '',
			place_name TEXT NOT NULL DEFAULT '',
			lat REAL,
			lng REAL,
			confirmed INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS memory_tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			memory_id INTEGER NOT NULL
				REFERENCES memories(id) ON DELETE CASCADE,
			tag TEXT NOT NULL,
			confidence REAL,
			origin TEXT NOT NULL DEFAULT 'ai',
			UNIQUE(memory_id, tag)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tags_memory ON memory_tags(memory_id)`,

		`CREATE TABLE IF NOT EXISTS memory_people (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			memory_id INTEGER NOT NULL
				REFERENCES memories(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			confidence REAL,
			confirmed INTEGER NOT NULL DEFAULT 0,
			UNIQUE(memory_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_people_memory ON memory_people(memory_id)`,

		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			place_name TEXT NOT NULL DEFAULT '',
			lat REAL,
			lng REAL,
			confidence REAL NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_owner_started
			ON events(owner_id, started_at DESC)`,

		`CREATE TABLE IF NOT EXISTS memory_event_links (
			memory_id INTEGER NOT NULL
				REFERENCES memories(id) ON DELETE CASCADE,
			event_id INTEGER NOT NULL
				REFERENCES events(id) ON DELETE CASCADE,
			relation TEXT NOT NULL DEFAULT 'supporting',
			PRIMARY KEY (memory_id, event_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_links_event ON memory_event_links(event_id)`,

		`CREATE TABLE IF NOT EXISTS embeddings (
			kind TEXT NOT NULL,
			entity_id INTEGER NOT NULL,
			vector BLOB NOT NULL,
			dimensions INTEGER NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (kind, entity_id)
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning bootstrap transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range ddl {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("bootstrap DDL: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing bootstrap: %w", err)
	}
	return nil
}

func (s *SQLiteStore) seedMeta() error {
	seeds := map[string]string{
		"schema_version": "1",
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	for key, value := range seeds {
		_, err := s.db.Exec(
			"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING",
			key, value,
		)
		if err != nil {
			return fmt.Errorf("seeding meta %s: %w", key, err)
		}
	}
	return nil
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'",
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err = s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		return false, nil
	}
	return value == "1", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec(
		"INSERT INTO meta (key, value) VALUES (?, '1') ON CONFLICT(key) DO UPDATE SET value = '1'",
		key,
	)
	return err
}
