package tts

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/recon/internal/config"
)

// NewFromConfig builds the renderer for cfg: the primary backend followed by
// the optional fallback.
func NewFromConfig(cfg config.TTSConfig, speech config.SpeechConfig, logger *slog.Logger) (*Renderer, error) {
	primary, err := newSynth(cfg.Mode, cfg.Command, cfg, speech)
	if err != nil {
		return nil, err
	}
	backends := []Backend{{Name: modeName(cfg.Mode), Synth: primary}}

	switch mode := fallbackMode(cfg); mode {
	case "none":
	default:
		fallback, err := newSynth(mode, cfg.FallbackCommand, cfg, speech)
		if err != nil {
			return nil, fmt.Errorf("tts fallback: %w", err)
		}
		backends = append(backends, Backend{Name: mode, Synth: fallback})
	}
	return NewRenderer(logger, backends...), nil
}

func newSynth(mode, command string, cfg config.TTSConfig, speech config.SpeechConfig) (Synthesizer, error) {
	switch mode {
	case "", "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "azure":
		return NewAzureSynth(speech.Key, speech.Region, cfg.Voice, cfg.OutputFormat), nil
	case "exec":
		return NewExecSynth(command, cfg.Voice, cfg.SampleRate, cfg.Channels)
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", mode)
	}
}

func modeName(mode string) string {
	if mode == "" {
		return "mock"
	}
	return mode
}

// fallbackMode resolves "auto": a real primary falls back to the mock
// backend so a question always gets audio, and a mock primary needs none.
func fallbackMode(cfg config.TTSConfig) string {
	switch cfg.FallbackMode {
	case "", "none":
		return "none"
	case "auto":
		if modeName(cfg.Mode) == "mock" {
			return "none"
		}
		return "mock"
	default:
		return cfg.FallbackMode
	}
}
