package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"captain-agent/internal/bill"
	"captain-agent/internal/domain"
)

type memoryStore struct {
	mu       sync.Mutex
	states   map[string]domain.ConversationState
	messages map[string][]domain.Message
	saves    int

	loadErr    error
	saveErr    error
	historyErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		states:   map[string]domain.ConversationState{},
		messages: map[string][]domain.Message{},
	}
}

func (m *memoryStore) LoadState(_ context.Context, key string) (domain.ConversationState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return domain.ConversationState{}, false, m.loadErr
	}
	st, ok := m.states[key]
	return st, ok, nil
}

func (m *memoryStore) SaveTurn(_ context.Context, key string, st domain.ConversationState, msgs ...domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.states[key] = st
	m.messages[key] = append(m.messages[key], msgs...)
	return nil
}

func (m *memoryStore) ListMessages(_ context.Context, key string, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	msgs := m.messages[key]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.Message(nil), msgs...), nil
}

func (m *memoryStore) state(key string) domain.ConversationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[key]
}

type scriptedLLM struct {
	mu       sync.Mutex
	answers  []string
	err      error
	calls    int
	captured [][]domain.ChatMessage
}

func (s *scriptedLLM) Decide(_ context.Context, msgs []domain.ChatMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captured = append(s.captured, msgs)
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.answers) == 0 {
		return "", errors.New("no scripted answer")
	}
	a := s.answers[0]
	if len(s.answers) > 1 {
		s.answers = s.answers[1:]
	}
	return a, nil
}

type stubModerator struct {
	flagged bool
	err     error
	calls   int
}

func (s *stubModerator) Moderate(_ context.Context, _ string) (bool, error) {
	s.calls++
	return s.flagged, s.err
}

type stubRenderer struct {
	err     error
	records []domain.BookingRecord
}

func (s *stubRenderer) RenderBooking(rec domain.BookingRecord) ([]byte, error) {
	s.records = append(s.records, rec)
	if s.err != nil {
		return nil, s.err
	}
	return []byte("%PDF-1.3 booking"), nil
}

type memoryBills struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func newMemoryBills() *memoryBills { return &memoryBills{files: map[string][]byte{}} }

func (m *memoryBills) Put(_ context.Context, name string, pdf []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.files[name] = pdf
	return "https://bills.example.com/bills/" + name, nil
}

func (m *memoryBills) Get(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[name]
	if !ok {
		return nil, bill.ErrNotFound
	}
	return b, nil
}

func fixedClock() func() time.Time {
	t := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	return func() time.Time { return t }
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
