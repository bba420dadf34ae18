package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaModel = "llama3.2:latest"

// ollamaGenerator talks to a local Ollama daemon over its streaming
// /api/generate endpoint.
type ollamaGenerator struct {
	endpoint string
	models   tierModels
	client   *http.Client
}

func NewOllamaGenerator(endpoint, fastModel, balancedModel string) Generator {
	return &ollamaGenerator{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		models:   tierModels{fast: fastModel, balanced: balancedModel, fallback: defaultOllamaModel},
		client:   &http.Client{},
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Format  string        `json:"format,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaFrame is one NDJSON line of a streamed generation.
type ollamaFrame struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	Error           string `json:"error,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
}

func newOllamaRequest(model string, req Request) ollamaRequest {
	out := ollamaRequest{
		Model:  model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: true,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
	if req.JSON {
		out.Format = "json"
	}
	return out
}

func (g *ollamaGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	model := g.models.pick(req.Tier)
	body, err := json.Marshal(newOllamaRequest(model, req))
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama %s: %w", req.Purpose, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ollama %s (%s): status %s: %s", req.Purpose, model, resp.Status, strings.TrimSpace(string(msg)))
	}
	return g.stream(resp.Body, req, consumer)
}

// stream relays frames until the daemon reports done. A stream that ends
// without a done frame was cut off and is an error.
func (g *ollamaGenerator) stream(r io.Reader, req Request, consumer func(Chunk) error) error {
	start := time.Now()
	dec := json.NewDecoder(r)
	var promptTokens, completionTokens int
	for {
		var frame ollamaFrame
		if err := dec.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("ollama %s: stream ended before completion", req.Purpose)
			}
			return fmt.Errorf("ollama %s: decode frame: %w", req.Purpose, err)
		}
		if frame.Error != "" {
			return fmt.Errorf("ollama %s: %s", req.Purpose, frame.Error)
		}
		if frame.PromptEvalCount > 0 {
			promptTokens = frame.PromptEvalCount
		}
		if frame.EvalCount > 0 {
			completionTokens = frame.EvalCount
		}
		if err := consumer(Chunk{
			SessionID:        req.SessionID,
			Content:          frame.Response,
			Partial:          !frame.Done,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			Latency:          time.Since(start),
			TraceID:          req.TraceID,
		}); err != nil {
			return err
		}
		if frame.Done {
			if frame.DoneReason == "length" && req.JSON {
				return fmt.Errorf("ollama %s: output truncated at %d tokens", req.Purpose, completionTokens)
			}
			return nil
		}
	}
}
