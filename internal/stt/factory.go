package stt

import (
	"fmt"

	"github.com/loqalabs/recon/internal/config"
)

// NewFromConfig builds the recognizer selected by cfg.Mode.
func NewFromConfig(cfg config.STTConfig, speech config.SpeechConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockRecognizer(), nil
	case "azure":
		return NewAzureRecognizer(speech.Key, speech.Region, cfg.Language), nil
	case "exec":
		return NewExecRecognizer(cfg)
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}
