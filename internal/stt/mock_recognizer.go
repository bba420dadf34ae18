package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/recon/internal/audio"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, pcm audio.PCM) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	if len(pcm.Samples) == 0 {
		return TranscriptResult{}, nil
	}
	return TranscriptResult{
		Text:       fmt.Sprintf("[mock transcript of %s of audio]", pcm.Duration()),
		Confidence: 1,
	}, nil
}
