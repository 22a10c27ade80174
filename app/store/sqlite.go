package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// keys for the three persisted mappings, each stored as its own row
const (
	keyTaskIDs = "task_ids"
	keyLabels  = "labels"
	keyEdits   = "edited_texts"
)

// SQLiteStore keeps the state in a small key/value table, one row per
// mapping. Save replaces all three rows in a single transaction.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (and if needed creates) the state database
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("can't open state database %s: %w", dbPath, err)
	}

	// WAL keeps the frequent full-state saves from blocking readers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("can't set WAL mode: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("can't set WAL mode: %w", err)
	}

	schema := `CREATE TABLE IF NOT EXISTS desk_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("can't create schema: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("can't create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load reads the three mappings. A missing row or a row with broken json
// loads as the empty value for that mapping only.
func (s *SQLiteStore) Load() (State, error) {
	state := NewState()

	load := func(key string, dest any) error {
		var raw string
		err := s.db.Get(&raw, "SELECT value FROM desk_state WHERE key = ?", key)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("can't read %s: %w", key, err)
		}
		return json.Unmarshal([]byte(raw), dest)
	}

	if err := load(keyTaskIDs, &state.TaskIDs); err != nil {
		return state, err
	}
	if err := load(keyLabels, &state.Labels); err != nil {
		return state, err
	}
	if err := load(keyEdits, &state.Edits); err != nil {
		return state, err
	}
	state.normalize()
	return state, nil
}

// Save overwrites all three mappings in one transaction
func (s *SQLiteStore) Save(state State) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("can't begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint

	save := func(key string, val any) error {
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("can't marshal %s: %w", key, err)
		}
		if _, err := tx.Exec("INSERT OR REPLACE INTO desk_state (key, value) VALUES (?, ?)", key, string(data)); err != nil {
			return fmt.Errorf("can't save %s: %w", key, err)
		}
		return nil
	}

	taskIDs := state.TaskIDs
	if taskIDs == nil {
		taskIDs = []string{}
	}
	if err := save(keyTaskIDs, taskIDs); err != nil {
		return err
	}
	if err := save(keyLabels, state.Labels); err != nil {
		return err
	}
	if err := save(keyEdits, state.Edits); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("can't commit state: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) String() string {
	return "sqlite store"
}
