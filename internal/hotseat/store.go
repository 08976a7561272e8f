package hotseat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"quiz-session-service/internal/domain"
)

// Store persists hot-seat payloads on the device so an interrupted game
// can resume after the app restarts.
type Store interface {
	Save(session *Session) error
	Load(id string) (*Session, error)
	Remove(id string) error
}

// FileStore keeps one JSON file per session under dir.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create hotseat dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Save(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal hotseat session: %w", err)
	}
	tmp := s.path(session.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(session.ID))
}

func (s *FileStore) Load(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal hotseat session: %w", err)
	}
	return &session, nil
}

func (s *FileStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// MemStore is the in-memory Store for tests.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]*Session)}
}

func (s *MemStore) Save(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *MemStore) Load(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *MemStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
