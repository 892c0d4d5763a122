package usecase

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"captain-agent/internal/domain"
	"captain-agent/internal/freight"
	"captain-agent/internal/observability/metrics"
	logx "captain-agent/pkg/logger"
)

const (
	replyGreeting        = "Hello! I'm Captain. Where do you want to ship your order from?"
	replyAskCargo        = "Great. Can you describe your cargo or shipment type?"
	replyAskDocuments    = "To check trade compliance, please list your available documents (comma-separated)."
	replyAskSize         = "Now, let's estimate the shipping rate. What's the cargo size?"
	replyAskWeight       = "What's the cargo weight (kg)?"
	replyAskTimeline     = "What's your schedule or required timeline? (standard/express)"
	replyAskBooking      = "Would you like to book this shipment?"
	replyClosing         = "Thank you for using Captain! Say \"new quote\" whenever you need another estimate."
	replyRestarted       = "No problem, let's start over. Send any message to begin a new quote."
	replyCorruptedState  = "Sorry, something went wrong with this conversation. Let's start over. Send any message to begin."
	guidedDocumentsSplit = ","
)

var (
	restartWords = map[string]bool{"restart": true, "new quote": true, "start": true}
	weightNumRe  = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
)

// ComplianceChecker produces a verdict for a cargo description and the
// documents on hand.
type ComplianceChecker interface {
	Check(ctx context.Context, cargo string, docs []string) domain.ComplianceVerdict
}

// GuidedController runs the fixed slot-filling flow.
type GuidedController struct {
	rec     turnRecorder
	checker ComplianceChecker
}

type GuidedOption func(*GuidedController)

func WithGuidedMetrics(m *metrics.ChatMetrics) GuidedOption {
	return func(c *GuidedController) { c.rec.metrics = m }
}

func WithGuidedClock(now func() time.Time) GuidedOption {
	return func(c *GuidedController) {
		if now != nil {
			c.rec.now = now
		}
	}
}

func NewGuidedController(store StateStore, checker ComplianceChecker, opts ...GuidedOption) (*GuidedController, error) {
	if store == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if checker == nil {
		return nil, errors.New("usecase: compliance checker must not be nil")
	}
	c := &GuidedController{
		rec:     turnRecorder{flow: flowGuided, store: store, now: time.Now},
		checker: checker,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *GuidedController) Turn(ctx context.Context, in TurnInput) string {
	started := c.rec.now()
	state, found, ok := c.rec.load(ctx, in.Key)
	if !ok {
		c.rec.done(started, outcomeLoadError)
		return replyStoreDown
	}
	if !found {
		state = domain.NewConversationState()
	}

	next, reply := c.advance(ctx, state, in.Message)

	outcome := outcomeOK
	if !c.rec.save(ctx, in, next, started, reply) {
		outcome = outcomeSaveError
	}
	c.rec.done(started, outcome)
	return reply
}

func (c *GuidedController) advance(ctx context.Context, st domain.ConversationState, msg string) (domain.ConversationState, string) {
	text := strings.TrimSpace(msg)
	// A fresh conversation always greets, whatever the first message says.
	if st.Step == domain.StepStart || st.Step == domain.StepConversation {
		return domain.ConversationState{Step: domain.StepOrderLocation}, replyGreeting
	}
	if restartWords[strings.ToLower(text)] {
		return domain.NewConversationState(), replyRestarted
	}

	switch st.Step {
	case domain.StepOrderLocation:
		st.OriginCity = text
		st.Step = domain.StepCargoDetails
		return st, replyAskCargo
	case domain.StepCargoDetails:
		st.CargoDescription = text
		st.Step = domain.StepComplianceDocs
		return st, replyAskDocuments
	case domain.StepComplianceDocs:
		docs := splitDocuments(text)
		verdict := c.checker.Check(ctx, st.CargoDescription, docs)
		st.Documents = docs
		st.Step = domain.StepRateQuestions
		return st, joinReply(verdict.Summary, replyAskSize)
	case domain.StepRateQuestions:
		st.Size = text
		st.Step = domain.StepRateWeight
		return st, replyAskWeight
	case domain.StepRateWeight:
		st.Weight = text
		st.Step = domain.StepRateTimeline
		return st, replyAskTimeline
	case domain.StepRateTimeline:
		st.Timeline = text
		st.Step = domain.StepRateDone
		q := freight.Estimate(domain.ShipmentRequest{
			Origin:   st.OriginCity,
			WeightKg: parseWeight(st.Weight),
			Timeline: st.Timeline,
		})
		return st, joinReply(freight.Format(q), replyAskBooking)
	case domain.StepRateDone:
		return domain.NewConversationState(), replyClosing
	default:
		logx.Warn().Str("step", string(st.Step)).Msg("unknown conversation step, resetting")
		c.rec.metrics.ObserveFallback(flowGuided, "unknown_step")
		return domain.NewConversationState(), replyCorruptedState
	}
}

func splitDocuments(s string) []string {
	var docs []string
	for _, d := range strings.Split(s, guidedDocumentsSplit) {
		if d = strings.TrimSpace(d); d != "" {
			docs = append(docs, d)
		}
	}
	return docs
}

// parseWeight returns the first number in s, or nil when there is none.
// Commas are read as thousands separators.
func parseWeight(s string) *float64 {
	m := weightNumRe.FindString(s)
	if m == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil || f <= 0 {
		return nil
	}
	return &f
}
