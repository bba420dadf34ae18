package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/recon/internal/audio"
	"github.com/loqalabs/recon/internal/config"
)

// execRecognizer hands a temporary WAV file to an external command, for
// example a whisper.cpp wrapper, and reads {"text","confidence"} from stdout.
type execRecognizer struct {
	cmd []string
	cfg config.STTConfig
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecRecognizer(cfg config.STTConfig) (Recognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *execRecognizer) Transcribe(ctx context.Context, pcm audio.PCM) (TranscriptResult, error) {
	file, err := os.CreateTemp("", "recon_stt_*.wav")
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())

	err = audio.EncodeWAV(file, pcm)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("write stt input: %w", err)
	}

	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if r.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.ModelPath)
	}
	if r.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", r.cfg.Language)
	}

	command := exec.CommandContext(ctx, r.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	command.WaitDelay = 2 * time.Second

	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return TranscriptResult{}, ctx.Err()
		}
		return TranscriptResult{}, fmt.Errorf("stt command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode stt response: %w", err)
	}
	return TranscriptResult{Text: resp.Text, Confidence: resp.Confidence}, nil
}
