package stt

import (
	"context"

	"github.com/loqalabs/recon/internal/audio"
)

// TranscriptResult captures recognizer output. An empty Text means the
// recognizer heard no speech.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm audio.PCM) (TranscriptResult, error)
}
