// Package gemini adapts an eino Gemini chat model to the decision and
// completion calls used by the assistant.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	einogemini "github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"captain-agent/internal/domain"
	logx "captain-agent/pkg/logger"
)

const DefaultModel = "gemini-2.0-flash"

// Config holds the model settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// generator is the part of an eino chat model used here.
type generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

type Client struct {
	model generator
	name  string
}

// NewClient builds a Gemini chat model over the Gemini API backend.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: API key must not be empty")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}
	gc, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	mcfg := &einogemini.Config{
		Client: gc,
		Model:  cfg.Model,
	}
	if cfg.Temperature > 0 {
		mcfg.Temperature = &cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		mcfg.MaxTokens = &cfg.MaxTokens
	}
	cm, err := einogemini.NewChatModel(ctx, mcfg)
	if err != nil {
		logx.Error().Err(err).Str("model", cfg.Model).Msg("Error creating Gemini chat model")
		return nil, fmt.Errorf("gemini: create chat model: %w", err)
	}
	return newWithGenerator(cm, cfg.Model), nil
}

func newWithGenerator(g generator, name string) *Client {
	return &Client{model: g, name: name}
}

// Decide returns the raw model text; the caller extracts the decision
// object from it.
func (c *Client) Decide(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	return c.generate(ctx, toSchema(messages))
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
}

func (c *Client) generate(ctx context.Context, in []*schema.Message) (string, error) {
	out, err := c.model.Generate(ctx, in)
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", errors.New("gemini: empty response")
	}
	logx.Debug().Str("model", c.name).Int("chars", len(out.Content)).Msg("gemini: generated")
	return out.Content, nil
}

func toSchema(messages []domain.ChatMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.ChatRoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case domain.ChatRoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}
