package tts

import (
	"context"
	"time"

	"github.com/loqalabs/recon/internal/audio"
)

type mockSynth struct {
	sampleRate int
	channels   int
}

// NewMockSynth emits a short tone for every request, enough to produce a
// playable file in development.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(10 * time.Millisecond):
		}
		chunks <- SynthChunk{
			SessionID:  req.SessionID,
			Sequence:   0,
			Format:     FormatPCM,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			Data:       m.tone(),
			Final:      true,
		}
	}()
	return chunks, errs
}

// tone is 100ms of a 400 Hz square wave.
func (m *mockSynth) tone() []byte {
	frames := m.sampleRate / 10
	period := m.sampleRate / 400
	if period < 2 {
		period = 2
	}
	samples := make([]int, frames*m.channels)
	for f := 0; f < frames; f++ {
		v := 4000
		if f%period < period/2 {
			v = -4000
		}
		for c := 0; c < m.channels; c++ {
			samples[f*m.channels+c] = v
		}
	}
	return audio.PCM{Samples: samples, SampleRate: m.sampleRate, Channels: m.channels}.Bytes()
}
