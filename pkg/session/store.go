package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store persists session state between turns. Load returns a fresh State for
// unknown ids. Save has last-writer-wins semantics; no cross-session
// guarantee is made.
type Store interface {
	Load(id string) (*State, error)
	Save(state *State) error
}

// ---------------------------------------------------------------------------
// FileStore
// ---------------------------------------------------------------------------

// FileStore keeps one JSON snapshot per session under
// <dir>/<session-id>/session.json, written atomically via a temp file.
type FileStore struct {
	dir string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	// Session ids come from external callers; flatten anything that could
	// escape the state dir.
	safe := filepath.Base(filepath.Clean(id))
	return filepath.Join(s.dir, safe, "session.json")
}

// Load reads the snapshot for id, or returns a fresh state if none exists.
func (s *FileStore) Load(id string) (*State, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return New(id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	if st.CustomerInfo == nil {
		st.CustomerInfo = make(map[string]any)
	}
	return &st, nil
}

// Save writes the snapshot, replacing any previous one.
func (s *FileStore) Save(state *State) error {
	state.UpdatedAt = time.Now().UTC()

	path := s.path(state.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", state.ID, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session %s: %w", state.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit session %s: %w", state.ID, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// MemStore
// ---------------------------------------------------------------------------

// MemStore is an in-memory Store for tests and single-process use.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string][]byte)}
}

// Load returns a deep copy so callers can mutate freely before Save.
func (m *MemStore) Load(id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sessions[id]
	if !ok {
		return New(id), nil
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	if st.CustomerInfo == nil {
		st.CustomerInfo = make(map[string]any)
	}
	return &st, nil
}

// Save snapshots the state.
func (m *MemStore) Save(state *State) error {
	state.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", state.ID, err)
	}
	m.mu.Lock()
	m.sessions[state.ID] = data
	m.mu.Unlock()
	return nil
}
