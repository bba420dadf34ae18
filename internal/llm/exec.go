package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// execGenerator runs one process per request. The process reads an
// execRequest on stdin and writes an execResponse on stdout. Requests run
// concurrently; the command must tolerate that.
type execGenerator struct {
	cmd []string
}

type execRequest struct {
	SessionID   string  `json:"session_id,omitempty"`
	Purpose     Purpose `json:"purpose"`
	Tier        string  `json:"tier,omitempty"`
	JSON        bool    `json:"json"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

type execResponse struct {
	Content          string `json:"content"`
	Error            string `json:"error,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

func NewExecGenerator(command string) (Generator, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("llm command empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	input, err := json.Marshal(execRequest{
		SessionID:   req.SessionID,
		Purpose:     req.Purpose,
		Tier:        req.Tier,
		JSON:        req.JSON,
		Prompt:      req.Prompt,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second
	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("llm command (%s): %w: %s", req.Purpose, err, strings.TrimSpace(stderr.String()))
	}

	var resp execResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return fmt.Errorf("decode llm command response: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("llm command (%s): %s", req.Purpose, resp.Error)
	}
	if req.JSON && !json.Valid([]byte(strings.TrimSpace(resp.Content))) {
		return fmt.Errorf("llm command (%s): content is not a JSON document", req.Purpose)
	}

	return consumer(Chunk{
		SessionID:        req.SessionID,
		Content:          resp.Content,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		Latency:          time.Since(start),
		TraceID:          req.TraceID,
	})
}
