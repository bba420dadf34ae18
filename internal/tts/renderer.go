package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loqalabs/recon/internal/audio"
)

// ErrNoAudio is returned when a synthesizer finishes without producing data.
var ErrNoAudio = errors.New("synthesizer produced no audio")

// Backend is a named synthesizer in a fallback chain.
type Backend struct {
	Name  string
	Synth Synthesizer
}

// Rendered describes a file written by a Renderer.
type Rendered struct {
	// File is the file name relative to the target directory.
	File     string
	Backend  string
	Fallback bool
}

// Renderer writes synthesized speech to files, trying each backend in order
// until one succeeds.
type Renderer struct {
	backends []Backend
	logger   *slog.Logger
}

func NewRenderer(logger *slog.Logger, backends ...Backend) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{backends: backends, logger: logger.With(slog.String("component", "tts"))}
}

// Render synthesizes req into dir/base.<ext>. When every backend fails the
// last error is returned and no file is left behind.
func (r *Renderer) Render(ctx context.Context, req SynthRequest, dir, base string) (Rendered, error) {
	if len(r.backends) == 0 {
		return Rendered{}, errors.New("no tts backend configured")
	}
	var lastErr error
	for i, b := range r.backends {
		if err := ctx.Err(); err != nil {
			return Rendered{}, err
		}
		file, err := WriteFile(ctx, b.Synth, req, dir, base)
		if err == nil {
			return Rendered{File: file, Backend: b.Name, Fallback: i > 0}, nil
		}
		lastErr = err
		r.logger.Warn("speech synthesis failed",
			slog.String("backend", b.Name),
			slog.String("session_id", req.SessionID),
			slogError(err),
		)
	}
	return Rendered{}, fmt.Errorf("all tts backends failed: %w", lastErr)
}

// WriteFile drains one synthesis into dir/base.<ext> and returns the file
// name. Raw PCM is wrapped in a WAV container.
func WriteFile(ctx context.Context, synth Synthesizer, req SynthRequest, dir, base string) (string, error) {
	format, sampleRate, channels, data, err := drain(ctx, synth, req)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", ErrNoAudio
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}

	if format == FormatPCM {
		name := base + ".wav"
		pcm, err := audio.FromBytes(data, sampleRate, channels)
		if err != nil {
			return "", err
		}
		if err := audio.WriteWAVFile(filepath.Join(dir, name), pcm); err != nil {
			return "", err
		}
		return name, nil
	}

	name := base + "." + format
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write audio file: %w", err)
	}
	return name, nil
}

func drain(ctx context.Context, synth Synthesizer, req SynthRequest) (format string, sampleRate, channels int, data []byte, err error) {
	chunks, errs := synth.Synthesize(ctx, req)
	var buf bytes.Buffer
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if format == "" {
				format, sampleRate, channels = chunk.Format, chunk.SampleRate, chunk.Channels
			}
			buf.Write(chunk.Data)
		case e, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if e != nil && err == nil {
				err = e
			}
		case <-ctx.Done():
			return "", 0, 0, nil, ctx.Err()
		}
	}
	if err != nil {
		return "", 0, 0, nil, err
	}
	if format == "" {
		format = FormatPCM
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	return format, sampleRate, channels, buf.Bytes(), nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
