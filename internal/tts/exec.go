package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// execSynth runs one process per question, for example a piper wrapper. The
// process reads an execRequest on stdin and writes execFrame lines on stdout,
// the last one marked final.
type execSynth struct {
	cmd        []string
	voice      string
	sampleRate int
	channels   int
}

type execRequest struct {
	SessionID  string `json:"session_id,omitempty"`
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// execFrame carries base64 audio. Format defaults to raw s16le PCM; a
// command that encodes itself may report wav, mp3, ogg or webm.
type execFrame struct {
	Audio  string `json:"audio_base64"`
	PCM    string `json:"pcm_base64"`
	Format string `json:"format,omitempty"`
	Final  bool   `json:"final"`
	Error  string `json:"error,omitempty"`
}

var errNoFinalFrame = errors.New("tts command ended without a final frame")

func NewExecSynth(command, voice string, sampleRate, channels int) (Synthesizer, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("tts command empty")
	}
	return &execSynth{cmd: args, voice: voice, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if err := e.run(ctx, req, chunks); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (e *execSynth) run(ctx context.Context, req SynthRequest, out chan<- SynthChunk) error {
	voice := req.Voice
	if voice == "" {
		voice = e.voice
	}
	input, err := json.Marshal(execRequest{
		SessionID:  req.SessionID,
		Text:       req.Text,
		Voice:      voice,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start tts command: %w", err)
	}

	streamErr := e.relay(ctx, req, stdout, out)
	// Wait must not run while the command may still be writing.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case streamErr != nil:
		return streamErr
	case waitErr != nil:
		return fmt.Errorf("tts command: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// relay forwards decoded frames until the final one.
func (e *execSynth) relay(ctx context.Context, req SynthRequest, r io.Reader, out chan<- SynthChunk) error {
	dec := json.NewDecoder(r)
	for seq := 0; ; seq++ {
		var frame execFrame
		if err := dec.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return errNoFinalFrame
			}
			return fmt.Errorf("decode tts frame: %w", err)
		}
		if frame.Error != "" {
			return fmt.Errorf("tts command: %s", frame.Error)
		}
		encoded, format := frame.Audio, frame.Format
		if encoded == "" {
			encoded = frame.PCM
		}
		if format == "" {
			format = FormatPCM
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("decode tts audio: %w", err)
		}
		select {
		case out <- SynthChunk{
			SessionID:  req.SessionID,
			Sequence:   seq,
			Format:     format,
			SampleRate: e.sampleRate,
			Channels:   e.channels,
			Data:       data,
			Final:      frame.Final,
		}:
		case <-ctx.Done():
			return ctx.Err()
		}
		if frame.Final {
			return nil
		}
	}
}
