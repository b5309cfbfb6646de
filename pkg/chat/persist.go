package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// StorageKey versions the on-disk document. Documents written under a
// different key are ignored on load, the same way a renamed localStorage key
// orphans the old one.
const StorageKey = "xinbao-storage-v2"

// State is the durable subset of the store. The transient loading flag is
// deliberately absent.
type State struct {
	Sessions        []Session `json:"sessions"`
	ActiveSessionID string    `json:"activeSessionId"`
	HasAgreed       bool      `json:"hasAgreed"`
	UserID          string    `json:"userId"`
}

// Storage persists the durable store state as a whole.
type Storage interface {
	// Load returns the persisted state, or (nil, nil) when nothing usable
	// has been persisted yet.
	Load() (*State, error)
	Save(*State) error
}

type stateDocument struct {
	Key   string `json:"key"`
	State State  `json:"state"`
}

// FileStorage keeps the state as a single JSON document on disk. Saves are
// atomic (write to a temp file, then rename).
type FileStorage struct {
	path string
}

// NewFileStorage creates storage rooted at path.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// DefaultStatePath returns the per-user state file location.
func DefaultStatePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "xinbao", "state.json"), nil
}

func (f *FileStorage) Load() (*State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file %q: %w", f.path, err)
	}

	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode state file %q: %w", f.path, err)
	}
	if doc.Key != StorageKey {
		return nil, nil
	}
	return &doc.State, nil
}

func (f *FileStorage) Save(state *State) error {
	if state == nil {
		return errors.New("state must not be nil")
	}

	data, err := json.MarshalIndent(stateDocument{Key: StorageKey, State: *state}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state file %q: %w", f.path, err)
	}
	return nil
}
