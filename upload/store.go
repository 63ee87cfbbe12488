package upload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// State is the durable projection of the tray: the tracked items plus whether
// the tray is shown. It is written as a whole on every change so a restart
// rehydrates exactly what the user last saw.
type State struct {
	Items    []Item `json:"items"`
	TrayOpen bool   `json:"tray_open"`
}

// Store persists tray state between runs.
type Store interface {
	Load() (State, error)
	Save(state State) error
}

// FileStore keeps the state in a JSON file. Writes go through a temp file and
// a rename so a crash mid-write never leaves a torn state behind.
type FileStore struct {
	path string
}

// NewFileStore creates a Store backed by the file at path.
// The parent directory is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load ...
func (s *FileStore) Load() (State, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parse state file: %w", err)
	}
	return state, nil
}

// Save ...
func (s *FileStore) Save(state State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("serialize state: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// MemoryStore keeps state in memory only. Used in tests and for callers that
// do not want uploads to survive a restart.
type MemoryStore struct {
	mu    sync.Mutex
	state State
}

// NewMemoryStore ...
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load ...
func (s *MemoryStore) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyState(s.state), nil
}

// Save ...
func (s *MemoryStore) Save(state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = copyState(state)
	return nil
}

func copyState(state State) State {
	clone := State{TrayOpen: state.TrayOpen}
	clone.Items = append(clone.Items, state.Items...)
	return clone
}
