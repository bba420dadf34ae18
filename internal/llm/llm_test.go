package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/recon/internal/apperr"
	"github.com/loqalabs/recon/internal/config"
)

type stubGenerator struct {
	chunks []string
	err    error
}

func (s stubGenerator) Generate(_ context.Context, req Request, consumer func(Chunk) error) error {
	for _, c := range s.chunks {
		if err := consumer(Chunk{SessionID: req.SessionID, Content: c, Partial: true}); err != nil {
			return err
		}
	}
	return s.err
}

func TestCompleteAccumulatesChunks(t *testing.T) {
	text, err := Complete(context.Background(), stubGenerator{chunks: []string{" Hello", ", ", "world \n"}}, Request{Purpose: PurposeModelAnswer})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)
}

func TestCompleteWrapsFailuresAsGateway(t *testing.T) {
	_, err := Complete(context.Background(), stubGenerator{err: errors.New("quota exceeded")}, Request{Purpose: PurposeQuestions})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrGateway)
	assert.Contains(t, err.Error(), "quota exceeded")

	_, err = Complete(context.Background(), stubGenerator{chunks: []string{"   "}}, Request{Purpose: PurposeAnalysis})
	assert.ErrorIs(t, err, apperr.ErrGateway)
}

func TestMockGeneratorAnswersByPurpose(t *testing.T) {
	gen := NewMockGenerator()
	ctx := context.Background()

	questions, err := Complete(ctx, gen, Request{Purpose: PurposeQuestions, Prompt: "five questions"})
	require.NoError(t, err)
	assert.Len(t, strings.Split(questions, "\n"), 20)

	analysis, err := Complete(ctx, gen, Request{Purpose: PurposeAnalysis})
	require.NoError(t, err)
	var scores map[string]any
	require.NoError(t, json.Unmarshal([]byte(analysis), &scores))
	assert.EqualValues(t, 72, scores["relevance"])

	answer, err := Complete(ctx, gen, Request{Purpose: PurposeModelAnswer, Prompt: "What is a join?"})
	require.NoError(t, err)
	assert.Contains(t, answer, "What is a join?")
}

func TestMockGeneratorHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewMockGenerator().Generate(ctx, Request{}, func(Chunk) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOllamaGeneratorStreams(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		for i, part := range []string{"Use ", "an index."} {
			fmt.Fprintf(w, "{\"response\":%q,\"done\":%t,\"eval_count\":%d}\n", part, i == 1, i+1)
		}
	}))
	defer srv.Close()

	gen := NewOllamaGenerator(srv.URL, "small", "large")
	text, err := Complete(context.Background(), gen, Request{Prompt: "tune this", Tier: "fast", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, "Use an index.", text)
	assert.Equal(t, "small", got.Model)
	assert.Equal(t, "json", got.Format)
	assert.True(t, got.Stream)
}

func TestOllamaGeneratorStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := Complete(context.Background(), NewOllamaGenerator(srv.URL, "", ""), Request{Prompt: "x"})
	assert.ErrorIs(t, err, apperr.ErrGateway)
}

func TestNewFromConfig(t *testing.T) {
	gen, err := NewFromConfig(context.Background(), config.LLMConfig{Mode: "mock"})
	require.NoError(t, err)
	assert.NotNil(t, gen)

	_, err = NewFromConfig(context.Background(), config.LLMConfig{Mode: "exec"})
	assert.Error(t, err)

	_, err = NewFromConfig(context.Background(), config.LLMConfig{Mode: "gemini"})
	assert.Error(t, err)

	_, err = NewFromConfig(context.Background(), config.LLMConfig{Mode: "telepathy"})
	assert.Error(t, err)
}

func TestForPurpose(t *testing.T) {
	cfg := config.LLMConfig{DefaultTier: "balanced", MaxTokens: 256, Temperature: 0.9}
	cases := []struct {
		purpose Purpose
		tier    string
		temp    float64
		json    bool
	}{
		{PurposeQuestions, TierBalanced, 0.9, false},
		{PurposeModelAnswer, TierBalanced, 0.5, false},
		{PurposeAnalysis, TierFast, 0.2, true},
		{PurposeFeedback, TierFast, 0.9, false},
	}
	for _, tc := range cases {
		req := ForPurpose(cfg, tc.purpose)
		assert.Equal(t, tc.purpose, req.Purpose)
		assert.Equal(t, tc.tier, req.Tier, tc.purpose)
		assert.InDelta(t, tc.temp, req.Temperature, 1e-9, tc.purpose)
		assert.Equal(t, tc.json, req.JSON, tc.purpose)
		assert.Equal(t, 256, req.MaxTokens)
	}
	assert.Equal(t, TierBalanced, ForPurpose(config.LLMConfig{}, PurposeQuestions).Tier)
}

func TestTierModels(t *testing.T) {
	both := tierModels{fast: "small", balanced: "large", fallback: "default"}
	assert.Equal(t, "small", both.pick(TierFast))
	assert.Equal(t, "large", both.pick(TierBalanced))
	assert.Equal(t, "small", tierModels{fast: "small", fallback: "default"}.pick(TierBalanced))
	assert.Equal(t, "default", tierModels{fallback: "default"}.pick(TierFast))
}

func TestGeminiConfig(t *testing.T) {
	cfg := geminiConfig(Request{System: "Reply with JSON.", JSON: true, MaxTokens: 300, Temperature: 0.2})
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.2, *cfg.Temperature, 1e-6)
	assert.EqualValues(t, 300, cfg.MaxOutputTokens)
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	require.NotNil(t, cfg.SystemInstruction)
	require.Len(t, cfg.SystemInstruction.Parts, 1)
	assert.Equal(t, "Reply with JSON.", cfg.SystemInstruction.Parts[0].Text)

	plain := geminiConfig(Request{Temperature: 0.7})
	assert.Nil(t, plain.SystemInstruction)
	assert.Empty(t, plain.ResponseMIMEType)
	assert.Zero(t, plain.MaxOutputTokens)
}

func TestOllamaGeneratorStreamErrors(t *testing.T) {
	cases := map[string]string{
		"error frame": "{\"response\":\"par\",\"done\":false}\n{\"error\":\"model not found\"}\n",
		"cut off":     "{\"response\":\"par\",\"done\":false}\n",
		"truncated":   "{\"response\":\"{\\\"a\\\":\",\"done\":true,\"done_reason\":\"length\"}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			}))
			defer srv.Close()

			_, err := Complete(context.Background(), NewOllamaGenerator(srv.URL, "", ""), Request{Purpose: PurposeAnalysis, JSON: true})
			assert.ErrorIs(t, err, apperr.ErrGateway)
		})
	}
}

// writeScript stores an executable shell script and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "llm.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestExecGenerator(t *testing.T) {
	cases := []struct {
		name    string
		script  string
		json    bool
		want    string
		wantErr string
	}{
		{name: "content", script: `cat >/dev/null; printf '{"content":"Use a composite index.","completion_tokens":5}'`, want: "Use a composite index."},
		{name: "json content", script: `cat >/dev/null; printf '{"content":"{\\"relevance\\": 80}"}'`, json: true, want: `{"relevance": 80}`},
		{name: "not json", script: `cat >/dev/null; printf '{"content":"Sure! Here it is."}'`, json: true, wantErr: "not a JSON document"},
		{name: "reported error", script: `cat >/dev/null; printf '{"error":"model not loaded"}'`, wantErr: "model not loaded"},
		{name: "exit status", script: `cat >/dev/null; echo "out of memory" >&2; exit 3`, wantErr: "out of memory"},
		{name: "garbage", script: `cat >/dev/null; echo nope`, wantErr: "decode llm command response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen, err := NewExecGenerator(writeScript(t, tc.script))
			require.NoError(t, err)

			text, err := Complete(context.Background(), gen, Request{Purpose: PurposeAnalysis, JSON: tc.json, Prompt: "score"})
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperr.ErrGateway)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, text)
		})
	}
}

func TestExecGeneratorSendsRequest(t *testing.T) {
	capture := filepath.Join(t.TempDir(), "request.json")
	gen, err := NewExecGenerator(writeScript(t, `cat > "$1"; printf '{"content":"ok"}'`) + " " + capture)
	require.NoError(t, err)

	_, err = Complete(context.Background(), gen, Request{
		SessionID: "s-1", Purpose: PurposeModelAnswer, Tier: TierFast, Prompt: "What is a join?", System: "Be brief.", Temperature: 0.5,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(capture)
	require.NoError(t, err)
	var got execRequest
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "s-1", got.SessionID)
	assert.Equal(t, PurposeModelAnswer, got.Purpose)
	assert.Equal(t, TierFast, got.Tier)
	assert.Equal(t, "What is a join?", got.Prompt)
	assert.Equal(t, "Be brief.", got.System)
	assert.False(t, got.JSON)
}

func TestExecGeneratorHonoursContext(t *testing.T) {
	gen, err := NewExecGenerator(writeScript(t, `exec sleep 5`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = gen.Generate(ctx, Request{Purpose: PurposeQuestions}, func(Chunk) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestNewExecGeneratorRejectsEmptyCommand(t *testing.T) {
	_, err := NewExecGenerator("   ")
	assert.Error(t, err)
	_, err = NewExecGenerator(`"unterminated`)
	assert.Error(t, err)
}
