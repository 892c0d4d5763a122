package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"captain-agent/internal/domain"
)

const (
	redisKeyPrefix  = "captain:"
	defaultRedisTTL = 30 * 24 * time.Hour
	// defaultRedisMaxItems is how many messages a conversation keeps; older
	// entries are trimmed and drop out of history.
	defaultRedisMaxItems = 500
)

// RedisStore keeps state as a JSON string and the log as a Redis list.
type RedisStore struct {
	redis       *redis.Client
	tracer      trace.Tracer
	ttl         time.Duration
	maxMessages int64
	now         func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store whose keys expire ttl after the last turn.
// A non-positive ttl selects 30 days.
func NewRedisStore(client *redis.Client, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisStore{
		redis:       client,
		tracer:      otel.Tracer("captain.internal.repository.redis"),
		ttl:         ttl,
		maxMessages: defaultRedisMaxItems,
		now:         time.Now,
	}, nil
}

func stateKey(key string) string    { return redisKeyPrefix + key + ":state" }
func messagesKey(key string) string { return redisKeyPrefix + key + ":messages" }

func (s *RedisStore) LoadState(ctx context.Context, key string) (domain.ConversationState, bool, error) {
	ctx, span := s.tracer.Start(ctx, "repository.redis.load_state",
		trace.WithAttributes(attribute.String("conversation.key", key)))
	defer span.End()

	raw, err := s.redis.Get(ctx, stateKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ConversationState{}, false, nil
	}
	if err != nil {
		span.RecordError(err)
		return domain.ConversationState{}, false, fmt.Errorf("repository: LoadState get: %w", err)
	}

	var st domain.ConversationState
	if err := json.Unmarshal(raw, &st); err != nil {
		span.RecordError(err)
		return domain.ConversationState{}, false, fmt.Errorf("repository: LoadState decode: %w", err)
	}
	return normalizeState(st), true, nil
}

// SaveTurn writes the state and appends msgs inside one MULTI/EXEC.
func (s *RedisStore) SaveTurn(ctx context.Context, key string, state domain.ConversationState, msgs ...domain.Message) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("repository: SaveTurn: key is required")
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("repository: SaveTurn marshal state: %w", err)
	}
	now := s.now().UTC()
	encoded := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("repository: SaveTurn marshal message: %w", err)
		}
		encoded = append(encoded, b)
	}

	ctx, span := s.tracer.Start(ctx, "repository.redis.save_turn",
		trace.WithAttributes(attribute.String("conversation.key", key), attribute.Int("messages", len(msgs))))
	defer span.End()

	mk := messagesKey(key)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, stateKey(key), stateJSON, s.ttl)
		if len(encoded) > 0 {
			pipe.RPush(ctx, mk, encoded...)
			if s.maxMessages > 0 {
				pipe.LTrim(ctx, mk, -s.maxMessages, -1)
			}
		}
		pipe.Expire(ctx, mk, s.ttl)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

func (s *RedisStore) ListMessages(ctx context.Context, key string, limit int) ([]domain.Message, error) {
	ctx, span := s.tracer.Start(ctx, "repository.redis.list_messages",
		trace.WithAttributes(attribute.String("conversation.key", key)))
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.redis.LRange(ctx, messagesKey(key), start, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		return nil, fmt.Errorf("repository: ListMessages: %w", err)
	}

	out := make([]domain.Message, 0, len(raw))
	for _, item := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			// Skip entries this version cannot read rather than hide the whole log.
			span.RecordError(err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
