package tts

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const azureReadSize = 32 * 1024

type azureSynth struct {
	endpoint     string
	key          string
	voice        string
	outputFormat string
	client       *http.Client
}

// NewAzureSynth synthesizes through the Azure Speech text-to-speech REST
// endpoint for region. outputFormat is an X-Microsoft-OutputFormat value such
// as audio-16khz-32kbitrate-mono-mp3.
func NewAzureSynth(key, region, voice, outputFormat string) Synthesizer {
	endpoint := fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region)
	return newAzureSynth(endpoint, key, voice, outputFormat)
}

func newAzureSynth(endpoint, key, voice, outputFormat string) *azureSynth {
	if voice == "" {
		voice = "en-US-AriaNeural"
	}
	if outputFormat == "" {
		outputFormat = "audio-16khz-32kbitrate-mono-mp3"
	}
	return &azureSynth{
		endpoint:     endpoint,
		key:          key,
		voice:        voice,
		outputFormat: outputFormat,
		client:       &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *azureSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if err := a.stream(ctx, req, chunks); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (a *azureSynth) stream(ctx context.Context, req SynthRequest, out chan<- SynthChunk) error {
	voice := req.Voice
	if voice == "" {
		voice = a.voice
	}
	ssml, err := buildSSML(req.Text, voice)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(ssml))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", a.key)
	httpReq.Header.Set("Content-Type", "application/ssml+xml")
	httpReq.Header.Set("X-Microsoft-OutputFormat", a.outputFormat)
	httpReq.Header.Set("User-Agent", "recon")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("azure tts request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("azure tts returned status %s: %s", resp.Status, bytes.TrimSpace(detail))
	}

	format, sampleRate := describeOutputFormat(a.outputFormat)
	buf := make([]byte, azureReadSize)
	sequence := 0
	for {
		n, readErr := io.ReadFull(resp.Body, buf)
		final := errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF)
		if readErr != nil && !final {
			return fmt.Errorf("read azure tts audio: %w", readErr)
		}
		if n > 0 || final {
			chunk := SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   sequence,
				Format:     format,
				SampleRate: sampleRate,
				Channels:   1,
				Data:       append([]byte(nil), buf[:n]...),
				Final:      final,
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
			sequence++
		}
		if final {
			return nil
		}
	}
}

func buildSSML(text, voice string) ([]byte, error) {
	lang := "en-US"
	if parts := strings.SplitN(voice, "-", 3); len(parts) == 3 {
		lang = parts[0] + "-" + parts[1]
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "<speak version='1.0' xml:lang='%s'><voice name='%s'>", lang, voice)
	if err := xml.EscapeText(&b, []byte(text)); err != nil {
		return nil, fmt.Errorf("escape ssml text: %w", err)
	}
	b.WriteString("</voice></speak>")
	return b.Bytes(), nil
}

// describeOutputFormat maps an Azure output format name to a container and
// sample rate, e.g. riff-24khz-16bit-mono-pcm -> wav at 24000.
func describeOutputFormat(name string) (string, int) {
	name = strings.ToLower(name)
	rate := 16000
	for _, part := range strings.Split(name, "-") {
		var khz int
		if _, err := fmt.Sscanf(part, "%dkhz", &khz); err == nil && khz > 0 {
			rate = khz * 1000
			break
		}
	}
	switch {
	case strings.Contains(name, "mp3"):
		return FormatMP3, rate
	case strings.HasPrefix(name, "riff"):
		return FormatWAV, rate
	case strings.HasPrefix(name, "ogg"):
		return FormatOGG, rate
	case strings.HasPrefix(name, "webm"):
		return FormatWebM, rate
	case strings.HasPrefix(name, "raw") && strings.HasSuffix(name, "pcm"):
		return FormatPCM, rate
	}
	return FormatMP3, rate
}
