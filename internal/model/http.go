package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/book-expert/speech-service/internal/audio"
	"github.com/book-expert/speech-service/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
	contentTypeXWAV   = "audio/x-wav"
	acceptedTypes     = "audio/wav, application/json"
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "%w: %s: %s (code: %s)"
	errFmtServiceNonOKStatus   = "%w: %s, body: %s"
	maxErrorBodyBytes          = 4096
)

var (
	// ErrServiceStatus indicates a non-200 reply from the model server.
	ErrServiceStatus = errors.New("model server returned an error")
	// ErrUnexpectedContentType indicates a reply that is neither WAV nor JSON.
	ErrUnexpectedContentType = errors.New("unexpected content type from model server")
)

// speechRequest is the JSON payload sent to the model server.
type speechRequest struct {
	Text             string    `json:"text"`
	Model            string    `json:"model"`
	VoicePreset      string    `json:"voice_preset,omitempty"`
	SpeakerEmbedding []float32 `json:"speaker_embedding,omitempty"`
	Language         string    `json:"language"`
	Temperature      float64   `json:"temperature"`
}

// samplesResponse is the JSON form of a model reply: the raw waveform and
// its sampling rate.
type samplesResponse struct {
	Audio        []float32 `json:"audio"`
	SamplingRate int       `json:"sampling_rate"`
	Channels     int       `json:"channels,omitempty"`
}

// errorResponse is a structured error from the model server.
type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// HTTPSynthesizer invokes a model hosted by a standalone inference server.
// It carries the resolved model settings so every request names the model,
// language and sampling temperature explicitly, and it is safe for concurrent
// use by multiple request handlers.
type HTTPSynthesizer struct {
	httpClient *http.Client
	baseURL    string
	settings   Settings
	embeddings EmbeddingSource
}

// NewHTTPSynthesizer creates a synthesizer for the server at baseURL
// (e.g. "http://localhost:8001"). The timeout applies to every request.
func NewHTTPSynthesizer(
	baseURL string,
	timeout time.Duration,
	settings Settings,
	embeddings EmbeddingSource,
) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		settings:   settings,
		embeddings: embeddings,
	}
}

// Info describes the model behind this synthesizer.
func (s *HTTPSynthesizer) Info() core.ModelInfo {
	return s.settings.Info()
}

// Synthesize sends input to the model server and returns the waveform.
// The voice preset is dropped for variants without preset support, and a
// speaker embedding is attached for variants that need one.
//
// The server may answer with a WAV body (PCM or 32-bit float) or with JSON
// samples and a sampling rate; both are returned as normalized samples.
// Non-200 replies are reported with the server's structured error when it
// sends one. Cancelling ctx aborts the request.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, input core.SynthesisInput) (core.Audio, error) {
	if input.Text == "" {
		return core.Audio{}, ErrTextEmpty
	}

	preset := s.settings.voicePreset(input.VoicePreset)

	payload := speechRequest{
		Text:             input.Text,
		Model:            s.settings.ModelName,
		VoicePreset:      preset,
		SpeakerEmbedding: s.settings.speakerEmbedding(s.embeddings, preset),
		Language:         s.settings.Language,
		Temperature:      s.settings.Temperature,
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return core.Audio{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		s.baseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return core.Audio{}, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, acceptedTypes)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return core.Audio{}, fmt.Errorf("failed to send request to model server at %s: %w", s.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.Audio{}, parseErrorResponse(resp)
	}

	return readAudio(resp)
}

// HealthCheck verifies that the model server is running.
func (s *HTTPSynthesizer) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for model server at %s: %w", s.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check status %s", ErrServiceStatus, resp.Status)
	}

	return nil
}

func readAudio(resp *http.Response) (core.Audio, error) {
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get(headerContentType))
	if err != nil {
		return core.Audio{}, fmt.Errorf("%w: %q", ErrUnexpectedContentType, resp.Header.Get(headerContentType))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.Audio{}, fmt.Errorf("failed to read model response: %w", err)
	}

	switch mediaType {
	case contentTypeWAV, contentTypeXWAV:
		clip, decodeErr := audio.Decode(body)
		if decodeErr != nil {
			return core.Audio{}, fmt.Errorf("failed to decode WAV from model server: %w", decodeErr)
		}

		return clip, nil
	case contentTypeJSON:
		return decodeSamples(body)
	default:
		return core.Audio{}, fmt.Errorf("%w: %q", ErrUnexpectedContentType, mediaType)
	}
}

func decodeSamples(body []byte) (core.Audio, error) {
	var samples samplesResponse

	err := json.Unmarshal(body, &samples)
	if err != nil {
		return core.Audio{}, fmt.Errorf("failed to unmarshal model response: %w", err)
	}

	if len(samples.Audio) == 0 {
		return core.Audio{}, ErrNoAudio
	}

	channels := samples.Channels
	if channels == 0 {
		channels = 1
	}

	return core.Audio{
		Samples:    samples.Audio,
		SampleRate: samples.SamplingRate,
		Channels:   channels,
	}, nil
}

// parseErrorResponse decodes a structured JSON error when possible and falls
// back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var errorResp errorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode,
			ErrServiceStatus, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, ErrServiceStatus, resp.Status, string(body))
}
