// Package repository persists conversation state and the message log.
package repository

import (
	"context"
	"strings"

	"captain-agent/internal/domain"
)

// Store is the durable map from conversation key to {state, messages}.
// Implementations must write the state and the appended messages of one
// turn atomically.
type Store interface {
	// LoadState returns found=false when the conversation has no state yet.
	LoadState(ctx context.Context, key string) (state domain.ConversationState, found bool, err error)
	SaveTurn(ctx context.Context, key string, state domain.ConversationState, msgs ...domain.Message) error
	// ListMessages returns the newest limit messages in chronological
	// order. A non-positive limit returns the whole log.
	ListMessages(ctx context.Context, key string, limit int) ([]domain.Message, error)
}

// normalizeState fills defaults for records written by older versions.
func normalizeState(st domain.ConversationState) domain.ConversationState {
	if strings.TrimSpace(string(st.Step)) == "" {
		st.Step = domain.StepStart
	}
	return st
}

func tail[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[len(items)-limit:]
	}
	return items
}
