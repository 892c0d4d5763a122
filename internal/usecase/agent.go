package usecase

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"captain-agent/internal/bill"
	"captain-agent/internal/domain"
	"captain-agent/internal/freight"
	"captain-agent/internal/observability/metrics"
	logx "captain-agent/pkg/logger"
)

const (
	defaultHistoryMessages = 6
	// agentFallbackKm prices conversational quotes that carry no distance.
	agentFallbackKm = 5000.0

	replyConfirmQuote = "Shall I confirm this booking for you?"
	replyModerated    = "I'm sorry, I can't help with that. I can assist with freight quotes, bookings and trade compliance."
)

// DecisionClient asks a model for a booking decision and returns its raw
// text output.
type DecisionClient interface {
	Decide(ctx context.Context, messages []domain.ChatMessage) (string, error)
}

// Moderator flags inputs that must not reach the decision model.
type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

// BookingRenderer renders the confirmation document of a booking.
type BookingRenderer interface {
	RenderBooking(rec domain.BookingRecord) ([]byte, error)
}

// AgentController runs the LLM-decision flow over a single booking record.
type AgentController struct {
	rec          turnRecorder
	llm          DecisionClient
	moderator    Moderator
	renderer     BookingRenderer
	bills        bill.Store
	historyLimit int
}

type AgentOption func(*AgentController)

func WithAgentMetrics(m *metrics.ChatMetrics) AgentOption {
	return func(c *AgentController) { c.rec.metrics = m }
}

func WithAgentClock(now func() time.Time) AgentOption {
	return func(c *AgentController) {
		if now != nil {
			c.rec.now = now
		}
	}
}

// WithModerator enables the moderation pre-check.
func WithModerator(m Moderator) AgentOption {
	return func(c *AgentController) { c.moderator = m }
}

// WithHistoryLimit sets how many logged messages the model sees. Zero
// keeps the default.
func WithHistoryLimit(n int) AgentOption {
	return func(c *AgentController) {
		if n > 0 {
			c.historyLimit = n
		}
	}
}

func NewAgentController(store StateStore, llm DecisionClient, renderer BookingRenderer, bills bill.Store, opts ...AgentOption) (*AgentController, error) {
	if store == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: decision client must not be nil")
	}
	if renderer == nil {
		return nil, errors.New("usecase: bill renderer must not be nil")
	}
	if bills == nil {
		return nil, errors.New("usecase: bill store must not be nil")
	}
	c := &AgentController{
		rec:          turnRecorder{flow: flowAgent, store: store, now: time.Now},
		llm:          llm,
		renderer:     renderer,
		bills:        bills,
		historyLimit: defaultHistoryMessages,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *AgentController) Turn(ctx context.Context, in TurnInput) string {
	started := c.rec.now()
	state, found, ok := c.rec.load(ctx, in.Key)
	if !ok {
		c.rec.done(started, outcomeLoadError)
		return replyStoreDown
	}
	if !found || state.Booking == nil {
		state = domain.ConversationState{Booking: &domain.BookingData{}}
	}
	state.Step = domain.StepConversation

	history, err := c.rec.store.ListMessages(ctx, in.Key, c.historyLimit)
	if err != nil {
		logx.Warn().Err(err).Str("key", in.Key).Msg("load history failed, deciding without it")
		c.rec.metrics.ObserveStoreError("history")
		history = nil
	}

	decision, fellBack := c.decide(ctx, in.Message, history, *state.Booking)
	c.rec.metrics.ObserveDecision(string(decision.Action))
	state.Booking.Merge(decision.Extracted)

	reply := decision.Reply
	switch decision.Action {
	case domain.ActionGenerateQuote:
		q := freight.EstimateWithFallback(shipmentOf(*state.Booking), agentFallbackKm)
		if state.Booking.DistanceKm == nil {
			km := q.DistanceKm
			state.Booking.DistanceKm = &km
		}
		reply = joinReply(reply, freight.Format(q), replyConfirmQuote)
	case domain.ActionConfirmBooking:
		reply = c.confirm(ctx, in.UserID, *state.Booking, reply)
		state.Booking = &domain.BookingData{}
	case domain.ActionCancelBooking:
		state.Booking = &domain.BookingData{}
	}

	outcome := outcomeOK
	if fellBack {
		outcome = outcomeFallback
	}
	if !c.rec.save(ctx, in, state, started, reply) {
		outcome = outcomeSaveError
	}
	c.rec.done(started, outcome)
	return reply
}

// decide never fails; fellBack reports that the default decision was used.
func (c *AgentController) decide(ctx context.Context, message string, history []domain.Message, booking domain.BookingData) (domain.Decision, bool) {
	if c.moderator != nil {
		flagged, err := c.moderator.Moderate(ctx, message)
		switch {
		case err != nil:
			logx.Warn().Err(err).Msg("moderation failed, continuing without it")
			c.rec.metrics.ObserveFallback("moderation", "upstream")
		case flagged:
			return domain.Decision{Action: domain.ActionGeneralQuery, Reply: replyModerated}, false
		}
	}

	raw, err := c.llm.Decide(ctx, buildDecisionMessages(history, booking, message))
	if err != nil {
		logx.Warn().Err(err).Msg("decision call failed")
		c.rec.metrics.ObserveFallback("decision", "upstream")
		return domain.Decision{Action: domain.ActionGeneralQuery, Reply: replyUpstreamDown}, true
	}
	d, err := ParseDecision(raw)
	if err != nil {
		logx.Warn().Err(err).Msg("decision output rejected")
		c.rec.metrics.ObserveFallback("decision", "parse")
		return d, true
	}
	return d, false
}

// confirm issues the order and appends the bill link. A bill that cannot
// be rendered or stored still confirms the booking.
func (c *AgentController) confirm(ctx context.Context, userID string, b domain.BookingData, reply string) string {
	issued := c.rec.now().UTC()
	rec := domain.BookingRecord{
		OrderID:  OrderID(userID, issued),
		UserID:   userID,
		Booking:  b,
		Quote:    freight.EstimateWithFallback(shipmentOf(b), agentFallbackKm),
		IssuedAt: issued,
	}
	orderLine := fmt.Sprintf("Your order ID is %s.", rec.OrderID)

	pdf, err := c.renderer.RenderBooking(rec)
	if err != nil {
		logx.Error().Err(err).Str("order_id", rec.OrderID).Msg("render booking bill failed")
		c.rec.metrics.ObserveFallback("bill", "render")
		return joinReply(reply, orderLine)
	}
	url, err := c.bills.Put(ctx, bill.BookingName(rec.OrderID), pdf)
	if err != nil {
		logx.Error().Err(err).Str("order_id", rec.OrderID).Msg("store booking bill failed")
		c.rec.metrics.ObserveFallback("bill", "store")
		return joinReply(reply, orderLine)
	}
	logx.Info().Str("order_id", rec.OrderID).Str("url", url).Msg("booking confirmed")
	return joinReply(reply, orderLine, "Download your bill: "+url)
}

// OrderID builds an order id from the user, the issue time and a random
// suffix, so two sessions of one user confirming in the same second still
// get distinct orders.
func OrderID(userID string, at time.Time) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return fmt.Sprintf("CPT-%08x-%s-%s", h.Sum32(), at.UTC().Format("20060102150405"), uuid.NewString()[:8])
}

func shipmentOf(b domain.BookingData) domain.ShipmentRequest {
	req := domain.ShipmentRequest{WeightKg: b.Weight, DistanceKm: b.DistanceKm}
	if b.Origin != nil {
		req.Origin = *b.Origin
	}
	if b.Destination != nil {
		req.Destination = *b.Destination
	}
	return req
}
