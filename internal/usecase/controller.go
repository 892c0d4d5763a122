package usecase

import (
	"context"
	"strings"
	"time"

	"captain-agent/internal/domain"
	"captain-agent/internal/observability/metrics"
	logx "captain-agent/pkg/logger"
)

const (
	flowGuided = "guided"
	flowAgent  = "agent"

	outcomeOK        = "ok"
	outcomeLoadError = "load_error"
	outcomeSaveError = "save_error"
	outcomeFallback  = "fallback"

	replyStoreDown = "Sorry, I couldn't load our conversation right now. Please try again in a moment."
)

// StateStore is the persistence contract the controllers need.
// repository.Store satisfies it.
type StateStore interface {
	LoadState(ctx context.Context, key string) (domain.ConversationState, bool, error)
	SaveTurn(ctx context.Context, key string, state domain.ConversationState, msgs ...domain.Message) error
	ListMessages(ctx context.Context, key string, limit int) ([]domain.Message, error)
}

// TurnInput is one validated inbound message.
type TurnInput struct {
	// Key identifies the conversation; UserID the customer behind it.
	Key     string
	UserID  string
	Message string
}

// Controller advances a conversation by one turn. It never fails: faults
// are degraded into the reply.
type Controller interface {
	Turn(ctx context.Context, in TurnInput) string
}

var (
	_ Controller = (*GuidedController)(nil)
	_ Controller = (*AgentController)(nil)
)

// turnRecorder holds the bookkeeping shared by both controllers.
type turnRecorder struct {
	flow    string
	store   StateStore
	metrics *metrics.ChatMetrics
	now     func() time.Time
}

// load returns a fresh state when none is stored. ok=false means the store
// failed and the turn must not write anything.
func (r turnRecorder) load(ctx context.Context, key string) (domain.ConversationState, bool, bool) {
	st, found, err := r.store.LoadState(ctx, key)
	if err != nil {
		logx.Error().Err(err).Str("flow", r.flow).Str("key", key).Msg("load conversation state failed")
		r.metrics.ObserveStoreError("load")
		return domain.ConversationState{}, false, false
	}
	return st, found, true
}

// save writes the state and both messages of the turn in one call.
func (r turnRecorder) save(ctx context.Context, in TurnInput, state domain.ConversationState, started time.Time, reply string) bool {
	err := r.store.SaveTurn(ctx, in.Key, state,
		domain.Message{Role: domain.RoleUser, Content: in.Message, CreatedAt: started},
		domain.Message{Role: domain.RoleAgent, Content: reply, CreatedAt: r.now()},
	)
	if err != nil {
		logx.Error().Err(err).Str("flow", r.flow).Str("key", in.Key).Msg("save conversation turn failed")
		r.metrics.ObserveStoreError("save")
		return false
	}
	return true
}

func (r turnRecorder) done(started time.Time, outcome string) {
	r.metrics.ObserveTurn(r.flow, outcome, r.now().Sub(started).Seconds())
}

func joinReply(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
