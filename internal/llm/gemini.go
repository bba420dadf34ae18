package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

type geminiGenerator struct {
	client *genai.Client
	models tierModels
}

// NewGeminiGenerator creates a generator backed by the Gemini API.
func NewGeminiGenerator(ctx context.Context, apiKey, fastModel, balancedModel string) (Generator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiGenerator{
		client: client,
		models: tierModels{fast: fastModel, balanced: balancedModel, fallback: defaultGeminiModel},
	}, nil
}

// geminiConfig maps a request onto the SDK's generation settings.
func geminiConfig(req Request) *genai.GenerateContentConfig {
	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		genCfg.ResponseMIMEType = "application/json"
	}
	return genCfg
}

func (g *geminiGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	model := g.models.pick(req.Tier)
	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), geminiConfig(req))
	if err != nil {
		return fmt.Errorf("gemini %s (%s): %w", req.Purpose, model, err)
	}

	chunk := Chunk{
		SessionID: req.SessionID,
		Content:   resp.Text(),
		Partial:   false,
		Latency:   time.Since(start),
		TraceID:   req.TraceID,
	}
	if resp.UsageMetadata != nil {
		chunk.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		chunk.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return consumer(chunk)
}
