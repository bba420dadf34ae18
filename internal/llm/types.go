package llm

import (
	"context"
	"time"

	"github.com/loqalabs/recon/internal/config"
)

// Purpose labels what a request is for. Backends may use it for routing and
// it is attached to traces.
type Purpose string

const (
	PurposeQuestions   Purpose = "questions"
	PurposeModelAnswer Purpose = "model_answer"
	PurposeAnalysis    Purpose = "analysis"
	PurposeFeedback    Purpose = "feedback"
)

// Request describes a language model prompt.
type Request struct {
	SessionID   string
	Purpose     Purpose
	Prompt      string
	System      string
	Tier        string
	MaxTokens   int
	Temperature float64
	// JSON asks the backend for a JSON object response where supported.
	JSON    bool
	TraceID string
}

// Chunk represents streamed model output.
type Chunk struct {
	SessionID        string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	TraceID          string
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// Tiers understood by the backends.
const (
	TierFast     = "fast"
	TierBalanced = "balanced"
)

// ForPurpose returns the request defaults for p. Scoring runs cool on the
// fast tier and must come back as JSON; generation uses the configured tier
// and temperature, with model answers capped so they stay on topic.
func ForPurpose(cfg config.LLMConfig, p Purpose) Request {
	req := Request{Purpose: p, Tier: cfg.DefaultTier, MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature}
	if req.Tier == "" {
		req.Tier = TierBalanced
	}
	switch p {
	case PurposeModelAnswer:
		req.Temperature = min(req.Temperature, 0.5)
	case PurposeAnalysis:
		req.Tier = TierFast
		req.Temperature = 0.2
		req.JSON = true
	case PurposeFeedback:
		req.Tier = TierFast
	}
	return req
}

// tierModels maps a tier to a configured model name.
type tierModels struct {
	fast     string
	balanced string
	fallback string
}

func (m tierModels) pick(tier string) string {
	if tier == TierFast && m.fast != "" {
		return m.fast
	}
	if m.balanced != "" {
		return m.balanced
	}
	if m.fast != "" {
		return m.fast
	}
	return m.fallback
}
