package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	return consumer(Chunk{
		SessionID: req.SessionID,
		Content:   mockContent(req),
		Partial:   false,
		Latency:   20 * time.Millisecond,
		TraceID:   req.TraceID,
	})
}

func mockContent(req Request) string {
	switch req.Purpose {
	case PurposeQuestions:
		lines := make([]string, 0, 20)
		for i := 1; i <= 20; i++ {
			lines = append(lines, fmt.Sprintf("%d. Mock interview question %d?", i, i))
		}
		return strings.Join(lines, "\n")
	case PurposeAnalysis:
		return `{"relevance": 72, "clarity": 65, "confidence": 70, "feedback": "[mock feedback]", "suggestion": "[mock suggestion]"}`
	case PurposeModelAnswer:
		return "[mock model answer for " + excerpt(req.Prompt) + "]"
	}
	return "[mock completion for " + excerpt(req.Prompt) + "]"
}

func excerpt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if len(prompt) > 80 {
		return prompt[:80]
	}
	return prompt
}
