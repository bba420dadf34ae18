package llm

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/recon/internal/apperr"
)

var tracer = otel.Tracer("github.com/loqalabs/recon/llm")

// Complete runs req to completion and returns the accumulated text. Backend
// failures, including an empty completion, are reported as gateway errors.
func Complete(ctx context.Context, gen Generator, req Request) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.purpose", string(req.Purpose)),
		attribute.String("llm.tier", req.Tier),
		attribute.String("session.id", req.SessionID),
	))
	defer span.End()

	var b strings.Builder
	var completionTokens int
	err := gen.Generate(ctx, req, func(chunk Chunk) error {
		b.WriteString(chunk.Content)
		if chunk.CompletionTokens > 0 {
			completionTokens = chunk.CompletionTokens
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", apperr.Gateway("llm", err)
	}
	span.SetAttributes(attribute.Int("llm.completion_tokens", completionTokens))

	text := strings.TrimSpace(b.String())
	if text == "" {
		err := fmt.Errorf("empty %s completion", req.Purpose)
		span.SetStatus(codes.Error, err.Error())
		return "", apperr.Gateway("llm", err)
	}
	return text, nil
}
