package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/loqalabs/recon/internal/audio"
)

// Recognition statuses reported by the Azure short-audio REST API.
const (
	azureStatusSuccess               = "Success"
	azureStatusNoMatch               = "NoMatch"
	azureStatusInitialSilenceTimeout = "InitialSilenceTimeout"
	azureStatusBabbleTimeout         = "BabbleTimeout"
)

type azureRecognizer struct {
	endpoint string
	key      string
	language string
	client   *http.Client
}

type azureResult struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
	Offset            int64  `json:"Offset"`
	Duration          int64  `json:"Duration"`
}

// NewAzureRecognizer transcribes through the Azure Speech short-audio REST
// endpoint for region.
func NewAzureRecognizer(key, region, language string) Recognizer {
	endpoint := fmt.Sprintf("https://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1", region)
	return newAzureRecognizer(endpoint, key, language)
}

func newAzureRecognizer(endpoint, key, language string) *azureRecognizer {
	if language == "" {
		language = "en-US"
	}
	return &azureRecognizer{
		endpoint: endpoint,
		key:      key,
		language: language,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *azureRecognizer) Transcribe(ctx context.Context, pcm audio.PCM) (TranscriptResult, error) {
	body, err := audio.WAVBytes(pcm)
	if err != nil {
		return TranscriptResult{}, err
	}

	query := url.Values{}
	query.Set("language", r.language)
	query.Set("format", "simple")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"?"+query.Encode(), bytes.NewReader(body))
	if err != nil {
		return TranscriptResult{}, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", r.key)
	req.Header.Set("Content-Type", fmt.Sprintf("audio/wav; codecs=audio/pcm; samplerate=%d", pcm.SampleRate))
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("azure stt request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return TranscriptResult{}, fmt.Errorf("azure stt returned status %s: %s", resp.Status, bytes.TrimSpace(detail))
	}

	var result azureResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return TranscriptResult{}, fmt.Errorf("decode azure stt response: %w", err)
	}
	switch result.RecognitionStatus {
	case azureStatusSuccess:
		return TranscriptResult{Text: result.DisplayText, Confidence: 1}, nil
	case azureStatusNoMatch, azureStatusInitialSilenceTimeout, azureStatusBabbleTimeout:
		return TranscriptResult{}, nil
	default:
		return TranscriptResult{}, fmt.Errorf("azure stt recognition %s", result.RecognitionStatus)
	}
}
