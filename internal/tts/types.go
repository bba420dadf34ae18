package tts

import "context"

// Audio container formats a synthesizer may emit.
const (
	FormatPCM  = "pcm"
	FormatWAV  = "wav"
	FormatMP3  = "mp3"
	FormatOGG  = "ogg"
	FormatWebM = "webm"
)

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
}

// SynthChunk is one piece of synthesized audio. Data is raw s16le PCM when
// Format is FormatPCM and encoded container bytes otherwise.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	Format     string
	SampleRate int
	Channels   int
	Data       []byte
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}
