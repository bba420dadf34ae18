// Package audio normalizes uploaded answers into the 16-bit PCM the speech
// recognizers expect.
package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// PCM is signed 16-bit audio with interleaved channels.
type PCM struct {
	Samples    []int
	SampleRate int
	Channels   int
}

// FromBytes decodes little-endian s16 PCM.
func FromBytes(data []byte, sampleRate, channels int) (PCM, error) {
	if len(data)%2 != 0 {
		return PCM{}, fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]int, len(data)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return PCM{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// Bytes encodes the samples as little-endian s16 PCM.
func (p PCM) Bytes() []byte {
	out := make([]byte, len(p.Samples)*2)
	for i, s := range p.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(clamp16(s))))
	}
	return out
}

func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	frames := len(p.Samples) / p.Channels
	return time.Duration(frames) * time.Second / time.Duration(p.SampleRate)
}

// Mono averages interleaved channels into one.
func (p PCM) Mono() PCM {
	if p.Channels <= 1 {
		return p
	}
	frames := len(p.Samples) / p.Channels
	out := make([]int, frames)
	for f := 0; f < frames; f++ {
		sum := 0
		for c := 0; c < p.Channels; c++ {
			sum += p.Samples[f*p.Channels+c]
		}
		out[f] = sum / p.Channels
	}
	return PCM{Samples: out, SampleRate: p.SampleRate, Channels: 1}
}

// Resample converts mono audio to rate using linear interpolation.
func (p PCM) Resample(rate int) PCM {
	if rate <= 0 || p.SampleRate == rate || len(p.Samples) == 0 {
		if rate > 0 {
			p.SampleRate = rate
		}
		return p
	}
	mono := p.Mono()
	n := int(int64(len(mono.Samples)) * int64(rate) / int64(mono.SampleRate))
	if n == 0 {
		return PCM{SampleRate: rate, Channels: 1}
	}
	out := make([]int, n)
	ratio := float64(mono.SampleRate) / float64(rate)
	last := len(mono.Samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = mono.Samples[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = int(float64(mono.Samples[j])*(1-frac) + float64(mono.Samples[j+1])*frac)
	}
	return PCM{Samples: out, SampleRate: rate, Channels: 1}
}

// Normalize returns the audio at sampleRate with the requested channel count.
// Only mono output is resampled; multi-channel targets keep the source rate.
func (p PCM) Normalize(sampleRate, channels int) PCM {
	if channels == 1 {
		return p.Mono().Resample(sampleRate)
	}
	return p
}

func clamp16(s int) int {
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return s
}
