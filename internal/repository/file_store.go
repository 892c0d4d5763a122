package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"captain-agent/internal/domain"
)

// FileStore keeps every conversation in one local JSON document keyed
// "{key}_state" and "{key}_messages". It is meant for development.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

var _ Store = (*FileStore)(nil)

func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("repository: file path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("repository: NewFileStore: %w", err)
	}
	return &FileStore{path: path, now: time.Now}, nil
}

func (s *FileStore) LoadState(_ context.Context, key string) (domain.ConversationState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: LoadState: %w", err)
	}
	raw, ok := doc[key+"_state"]
	if !ok {
		return domain.ConversationState{}, false, nil
	}
	var st domain.ConversationState
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.ConversationState{}, false, fmt.Errorf("repository: LoadState decode: %w", err)
	}
	return normalizeState(st), true, nil
}

func (s *FileStore) SaveTurn(_ context.Context, key string, state domain.ConversationState, msgs ...domain.Message) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("repository: SaveTurn: key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}

	var log []domain.Message
	if raw, ok := doc[key+"_messages"]; ok {
		if err := json.Unmarshal(raw, &log); err != nil {
			return fmt.Errorf("repository: SaveTurn decode messages: %w", err)
		}
	}
	now := s.now().UTC()
	for _, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		log = append(log, m)
	}

	if doc[key+"_state"], err = json.Marshal(state); err != nil {
		return fmt.Errorf("repository: SaveTurn marshal state: %w", err)
	}
	if doc[key+"_messages"], err = json.Marshal(log); err != nil {
		return fmt.Errorf("repository: SaveTurn marshal messages: %w", err)
	}
	if err := s.write(doc); err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

func (s *FileStore) ListMessages(_ context.Context, key string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, fmt.Errorf("repository: ListMessages: %w", err)
	}
	log := []domain.Message{}
	if raw, ok := doc[key+"_messages"]; ok {
		if err := json.Unmarshal(raw, &log); err != nil {
			return nil, fmt.Errorf("repository: ListMessages decode: %w", err)
		}
	}
	return tail(log, limit), nil
}

// read returns an empty document when the file does not exist yet.
func (s *FileStore) read() (map[string]json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(strings.TrimSpace(string(data))) == 0) {
		return doc, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return doc, nil
}

// write replaces the file atomically.
func (s *FileStore) write(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".captain-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
