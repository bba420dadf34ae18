package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// IsWAV reports whether header starts with a RIFF/WAVE signature.
func IsWAV(header []byte) bool {
	return len(header) >= 12 && bytes.Equal(header[0:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE"))
}

// DecodeWAV reads a PCM WAV stream, scaling any source bit depth to 16 bits.
func DecodeWAV(r io.ReadSeeker) (PCM, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return PCM{}, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels == 0 || buf.Format.SampleRate == 0 {
		return PCM{}, errors.New("wav missing format")
	}
	samples := buf.Data
	if depth := buf.SourceBitDepth; depth > 0 && depth != 16 {
		samples = make([]int, len(buf.Data))
		for i, s := range buf.Data {
			switch {
			case depth == 8:
				samples[i] = (s - 128) << 8
			case depth > 16:
				samples[i] = s >> (depth - 16)
			default:
				samples[i] = s << (16 - depth)
			}
		}
	}
	return PCM{Samples: samples, SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels}, nil
}

// EncodeWAV writes p as a 16-bit PCM WAV.
func EncodeWAV(w io.WriteSeeker, p PCM) error {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return fmt.Errorf("invalid pcm format %d Hz x %d", p.SampleRate, p.Channels)
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: p.Channels, SampleRate: p.SampleRate},
		Data:           p.Samples,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(w, p.SampleRate, 16, p.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WriteWAVFile creates path and writes p to it.
func WriteWAVFile(path string, p PCM) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeWAV(f, p); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// WAVBytes returns p encoded as an in-memory WAV.
func WAVBytes(p PCM) ([]byte, error) {
	var buf seekBuffer
	if err := EncodeWAV(&buf, p); err != nil {
		return nil, err
	}
	return buf.data, nil
}

// seekBuffer is an in-memory io.WriteSeeker for the wav encoder, which
// seeks back to patch the RIFF header sizes.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	copy(b.data[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative position")
	}
	b.pos = int(next)
	return next, nil
}
