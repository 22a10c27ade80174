package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/go-pkgz/lgr"
)

// FileStore keeps the state in a single json document, rewritten whole on
// every save via tmp+rename so a crash mid-write can't leave garbage behind.
type FileStore struct {
	path string
}

// NewFileStore makes a file-backed store at the given path, creating the
// parent directory if needed
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("can't make state directory for %s: %w", path, err)
	}
	return &FileStore{path: path}, nil
}

// Load reads the state file. Missing or malformed file is not an error,
// it just means an empty state.
func (f *FileStore) Load() (State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return NewState(), fmt.Errorf("can't read state file %s: %w", f.path, err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		log.Printf("[WARN] state file %s is malformed, starting empty: %v", f.path, err)
		return NewState(), nil
	}
	state.normalize()
	return state, nil
}

// Save overwrites the state file with the full state
func (f *FileStore) Save(state State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("can't marshal state: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("can't write state to %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("can't replace state file %s: %w", f.path, err)
	}
	return nil
}

// Close is a no-op for the file store, present to satisfy Interface
func (f *FileStore) Close() error { return nil }

func (f *FileStore) String() string {
	return fmt.Sprintf("file store at %s", f.path)
}
