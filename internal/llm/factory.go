package llm

import (
	"context"
	"fmt"

	"github.com/loqalabs/recon/internal/config"
)

// NewFromConfig builds the generator selected by cfg.Mode.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockGenerator(), nil
	case "gemini":
		return NewGeminiGenerator(ctx, cfg.APIKey, cfg.ModelFast, cfg.ModelBalanced)
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.ModelFast, cfg.ModelBalanced), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}
