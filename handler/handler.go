package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"captain-agent/internal/compliance"
	"captain-agent/internal/domain"
	"captain-agent/internal/observability/metrics"
	"captain-agent/internal/usecase"
	logx "captain-agent/pkg/logger"
)

const correlationHeader = "X-Correlation-Id"

// Service is the application surface exposed over HTTP and Lambda.
// *usecase.ChatService satisfies it.
type Service interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
	History(ctx context.Context, user, session string) ([]domain.Message, error)
	GenerateBill(b domain.Bill) ([]byte, string, error)
	GenerateLaidBill(ctx context.Context, b domain.Bill) (usecase.LaidBill, error)
	Bill(ctx context.Context, name string) ([]byte, error)
	AnalyzeUpload(name string, data []byte) (domain.DocumentReport, error)
	SearchKnowledge(query, category string, limit int) ([]compliance.Document, error)
	AddKnowledge(title, content, category string, tags []string) (string, error)
	KnowledgeStats() compliance.Stats
}

var _ Service = (*usecase.ChatService)(nil)

type chatRequest struct {
	User    string `json:"user"`
	Session string `json:"session"`
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type historyEntry struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type Handler struct {
	svc            Service
	metrics        *metrics.ChatMetrics
	metricsHandler http.Handler
	serveBills     bool
}

type Option func(*Handler)

// WithMetrics records request counts and exposes h on GET /metrics.
func WithMetrics(m *metrics.ChatMetrics, h http.Handler) Option {
	return func(hd *Handler) {
		hd.metrics = m
		hd.metricsHandler = h
	}
}

// WithBillDownloads serves stored bills on GET /bills/{name}.
func WithBillDownloads() Option {
	return func(h *Handler) { h.serveBills = true }
}

func NewHandler(svc Service, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: service must not be nil")
	}
	h := &Handler{svc: svc}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle serves API Gateway proxy events for the chat, history and health
// routes.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := headerValue(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}

	var (
		status int
		body   any
		route  = strings.TrimRight(req.Path, "/")
	)
	switch {
	case req.HTTPMethod == http.MethodPost && route == "/chat":
		status, body = h.chat(ctx, []byte(req.Body))
	case req.HTTPMethod == http.MethodGet && route == "/history":
		status, body = h.history(ctx, req.QueryStringParameters["user"], req.QueryStringParameters["session"])
	case req.HTTPMethod == http.MethodGet && route == "/health":
		status, body = http.StatusOK, map[string]string{"status": "ok"}
	default:
		status, body = http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Message: "Route not found."}
	}
	h.metrics.ObserveHTTP(route, status)

	logx.Info().
		Str("correlation_id", corrID).
		Str("method", req.HTTPMethod).
		Str("path", req.Path).
		Int("status", status).
		Msg("lambda request")

	return lambdaJSON(status, body, corrID), nil
}

func (h *Handler) chat(ctx context.Context, raw []byte) (int, any) {
	var req chatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "Request body must be JSON."}
	}
	out, err := h.svc.Chat(ctx, usecase.ChatInput{User: req.User, Session: req.Session, Message: req.Message})
	if err != nil {
		return errorStatus(err)
	}
	return http.StatusOK, chatResponse{Reply: out.Reply}
}

func (h *Handler) history(ctx context.Context, user, session string) (int, any) {
	msgs, err := h.svc.History(ctx, user, session)
	if err != nil {
		return errorStatus(err)
	}
	out := make([]historyEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, historyEntry{Role: m.Role, Content: m.Content})
	}
	return http.StatusOK, out
}

// errorStatus maps usecase errors onto HTTP statuses. Anything unexpected
// becomes a 500 without leaking details.
func errorStatus(err error) (int, errorResponse) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		logx.Error().Err(err).Msg("unexpected service error")
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Message: "Something went wrong."}
	}
	resp := errorResponse{Error: string(ue.Code), Message: ue.Message}
	switch ue.Code {
	case usecase.ErrorInvalidInput:
		if resp.Message == "" {
			resp.Message = "The request is invalid."
		}
		return http.StatusBadRequest, resp
	case usecase.ErrorUpstream:
		logx.Warn().Err(err).Str("reason", ue.Reason).Msg("upstream failure")
		if resp.Message == "" {
			resp.Message = "A downstream service is unavailable. Please try again."
		}
		return http.StatusBadGateway, resp
	default:
		logx.Error().Err(err).Str("reason", ue.Reason).Msg("internal failure")
		if resp.Message == "" {
			resp.Message = "Something went wrong."
		}
		return http.StatusInternalServerError, resp
	}
}

func lambdaJSON(status int, body any, corrID string) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(raw),
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
