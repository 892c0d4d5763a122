package compliance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logx "captain-agent/pkg/logger"

	"captain-agent/internal/domain"
)

// Generator completes a single prompt. The LLM integrations satisfy it.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

const (
	ragTopK          = 4
	ragPassageLimit  = 2000
	ragFallbackLabel = "compliance_rag"
)

// RAGChecker grounds the verdict summary in knowledge-base passages. The
// structured flags always come from the heuristic checker, which also
// supplies the whole verdict when retrieval or generation fails.
type RAGChecker struct {
	kb         *KnowledgeBase
	gen        Generator
	heuristic  *Checker
	onFallback func(reason string)
}

type RAGOption func(*RAGChecker)

// WithFallbackHook is called with a short reason whenever the heuristic
// verdict is returned unchanged.
func WithFallbackHook(fn func(reason string)) RAGOption {
	return func(c *RAGChecker) { c.onFallback = fn }
}

func NewRAGChecker(kb *KnowledgeBase, gen Generator, heuristic *Checker, opts ...RAGOption) (*RAGChecker, error) {
	if kb == nil {
		return nil, errors.New("compliance: knowledge base must not be nil")
	}
	if gen == nil {
		return nil, errors.New("compliance: generator must not be nil")
	}
	if heuristic == nil {
		return nil, errors.New("compliance: heuristic checker must not be nil")
	}
	c := &RAGChecker{kb: kb, gen: gen, heuristic: heuristic, onFallback: func(string) {}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *RAGChecker) Check(ctx context.Context, cargo string, docs []string) domain.ComplianceVerdict {
	if path, ok := c.heuristic.documentPath(cargo); ok {
		return c.heuristic.checkDocument(path)
	}
	verdict := c.heuristic.Heuristic(cargo, docs)

	query := ragQuery(cargo, docs)
	passages := c.kb.Search(query, "", ragTopK)
	if len(passages) == 0 {
		c.fallback("no_passages", nil)
		return verdict
	}

	answer, err := c.gen.Complete(ctx, ragPrompt(query, passages))
	if err != nil {
		c.fallback("generate", err)
		return verdict
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		c.fallback("empty_answer", nil)
		return verdict
	}

	titles := make([]string, 0, len(passages))
	for _, p := range passages {
		titles = append(titles, p.Title)
	}
	verdict.Summary = fmt.Sprintf("%s\n\nStatus: %s\nSources: %s", answer, verdict.Status, strings.Join(titles, ", "))
	return verdict
}

func (c *RAGChecker) fallback(reason string, err error) {
	ev := logx.Warn().Str("component", ragFallbackLabel).Str("reason", reason)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("compliance: using heuristic verdict")
	c.onFallback(reason)
}

func ragQuery(cargo string, docs []string) string {
	provided := "none"
	if len(docs) > 0 {
		provided = strings.Join(docs, ", ")
	}
	return fmt.Sprintf("Product: %s\nProvided documents: %s\n"+
		"Identify compliance issues for shipping (air/sea) and list the specific missing documents.",
		strings.TrimSpace(cargo), provided)
}

func ragPrompt(query string, passages []Document) string {
	var b strings.Builder
	b.WriteString("You are an experienced trade compliance assistant. Use the following passages from guidance documents:\n\n")
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "Source: %s (%s)\n%s\n", p.Title, p.Category, truncate(p.Content, ragPassageLimit))
	}
	fmt.Fprintf(&b, "\nUser query:\n%s\n\n", query)
	b.WriteString("Answer concisely. List missing documents as bullet points. " +
		"If the shipment is restricted or needs special declarations, name the exact forms required.")
	return b.String()
}
