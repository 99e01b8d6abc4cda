package model_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/audio"
	"github.com/book-expert/speech-service/internal/config"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/model"
	"github.com/book-expert/speech-service/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturedRequest mirrors the JSON payload the model server receives.
type capturedRequest struct {
	Text             string    `json:"text"`
	Model            string    `json:"model"`
	VoicePreset      string    `json:"voice_preset"`
	SpeakerEmbedding []float32 `json:"speaker_embedding"`
	Language         string    `json:"language"`
	Temperature      float64   `json:"temperature"`
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "model-test.log")
	require.NoError(t, err)

	return testLogger
}

func newSettings(t *testing.T, variant string) model.Settings {
	t.Helper()

	cfg := &config.Config{}
	cfg.Model.Variant = variant
	cfg.Model.ServiceURL = "http://unused"
	cfg.ApplyDefaults()

	settings, err := model.NewSettings(cfg)
	require.NoError(t, err)

	return settings
}

func newCatalog(t *testing.T) *voice.Catalog {
	t.Helper()

	catalog, err := voice.NewCatalog("", nil)
	require.NoError(t, err)

	return catalog
}

// newSamplesServer answers every synthesis request with a JSON waveform and
// forwards the decoded request on the returned channel.
func newSamplesServer(t *testing.T) (*httptest.Server, <-chan capturedRequest) {
	t.Helper()

	requests := make(chan capturedRequest, 1)

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, http.MethodPost, request.Method)
		assert.Equal(t, "/v1/generate/speech", request.URL.Path)
		assert.Equal(t, "application/json", request.Header.Get("Content-Type"))

		var captured capturedRequest

		err := json.NewDecoder(request.Body).Decode(&captured)
		assert.NoError(t, err)

		requests <- captured

		writer.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(writer).Encode(map[string]any{
			"audio":         []float32{0, 0.5, -0.5, 0.25},
			"sampling_rate": 24000,
		})
	}))
	t.Cleanup(server.Close)

	return server, requests
}

func TestHTTPSynthesizer_PipelineIgnoresVoicePreset(t *testing.T) {
	t.Parallel()

	server, requests := newSamplesServer(t)
	synthesizer := model.NewHTTPSynthesizer(server.URL, 5*time.Second, newSettings(t, config.VariantPipeline), newCatalog(t))

	clip, err := synthesizer.Synthesize(context.Background(), core.SynthesisInput{Text: "Hello, world!", VoicePreset: "ignored"})
	require.NoError(t, err)

	captured := <-requests
	assert.Equal(t, "Hello, world!", captured.Text)
	assert.Equal(t, "ResembleAI/chatterbox", captured.Model)
	assert.Empty(t, captured.VoicePreset)
	assert.Empty(t, captured.SpeakerEmbedding)
	assert.Equal(t, "en", captured.Language)
	assert.InEpsilon(t, 0.7, captured.Temperature, 0.001)

	assert.Equal(t, 24000, clip.SampleRate)
	assert.Equal(t, 1, clip.Channels)
	assert.Equal(t, []float32{0, 0.5, -0.5, 0.25}, clip.Samples)
}

func TestHTTPSynthesizer_BarkUsesDefaultPreset(t *testing.T) {
	t.Parallel()

	server, requests := newSamplesServer(t)
	synthesizer := model.NewHTTPSynthesizer(server.URL, 5*time.Second, newSettings(t, config.VariantBark), newCatalog(t))

	_, err := synthesizer.Synthesize(context.Background(), core.SynthesisInput{Text: "Hi", VoicePreset: ""})
	require.NoError(t, err)

	captured := <-requests
	assert.Equal(t, "suno/bark-small", captured.Model)
	assert.Equal(t, "v2/en_speaker_6", captured.VoicePreset)
	assert.Empty(t, captured.SpeakerEmbedding)
}

func TestHTTPSynthesizer_SpeechT5SendsEmbedding(t *testing.T) {
	t.Parallel()

	server, requests := newSamplesServer(t)
	synthesizer := model.NewHTTPSynthesizer(server.URL, 5*time.Second, newSettings(t, config.VariantSpeechT5), newCatalog(t))

	_, err := synthesizer.Synthesize(context.Background(), core.SynthesisInput{Text: "Hi", VoicePreset: "slt"})
	require.NoError(t, err)

	captured := <-requests
	assert.Equal(t, "slt", captured.VoicePreset)
	require.Len(t, captured.SpeakerEmbedding, voice.EmbeddingSize)
	assert.Equal(t, voice.GenerateEmbedding("slt"), captured.SpeakerEmbedding)
}

func TestHTTPSynthesizer_DecodesWAVReply(t *testing.T) {
	t.Parallel()

	encoder, err := audio.NewEncoder(audio.BitDepth16, t.TempDir(), newTestLogger(t))
	require.NoError(t, err)

	wavData, err := encoder.Encode(core.Audio{Samples: []float32{0.1, 0.2, 0.3}, SampleRate: 16000, Channels: 1})
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.Header().Set("Content-Type", "audio/wav")
		_, _ = writer.Write(wavData)
	}))
	defer server.Close()

	synthesizer := model.NewHTTPSynthesizer(server.URL, 5*time.Second, newSettings(t, config.VariantPipeline), nil)

	clip, err := synthesizer.Synthesize(context.Background(), core.SynthesisInput{Text: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, 16000, clip.SampleRate)
	require.Len(t, clip.Samples, 3)
	assert.InDelta(t, 0.2, clip.Samples[1], 1e-3)
}

func TestHTTPSynthesizer_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
		wantMsg string
	}{
		{
			name: "structured error",
			handler: func(writer http.ResponseWriter, _ *http.Request) {
				writer.Header().Set("Content-Type", "application/json")
				writer.WriteHeader(http.StatusBadRequest)
				_, _ = writer.Write([]byte(`{"detail":"Invalid voice preset","error_code":"INVALID_VOICE"}`))
			},
			wantErr: model.ErrServiceStatus,
			wantMsg: "INVALID_VOICE",
		},
		{
			name: "plain error",
			handler: func(writer http.ResponseWriter, _ *http.Request) {
				writer.WriteHeader(http.StatusInternalServerError)
				_, _ = writer.Write([]byte("CUDA out of memory"))
			},
			wantErr: model.ErrServiceStatus,
			wantMsg: "CUDA out of memory",
		},
		{
			name: "wrong content type",
			handler: func(writer http.ResponseWriter, _ *http.Request) {
				writer.Header().Set("Content-Type", "text/html")
				_, _ = writer.Write([]byte("<html></html>"))
			},
			wantErr: model.ErrUnexpectedContentType,
		},
		{
			name: "empty waveform",
			handler: func(writer http.ResponseWriter, _ *http.Request) {
				writer.Header().Set("Content-Type", "application/json")
				_, _ = writer.Write([]byte(`{"audio":[],"sampling_rate":24000}`))
			},
			wantErr: model.ErrNoAudio,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(testCase.handler)
			defer server.Close()

			synthesizer := model.NewHTTPSynthesizer(server.URL, 5*time.Second, newSettings(t, config.VariantPipeline), nil)

			_, err := synthesizer.Synthesize(context.Background(), core.SynthesisInput{Text: "Hi"})
			require.ErrorIs(t, err, testCase.wantErr)

			if testCase.wantMsg != "" {
				assert.Contains(t, err.Error(), testCase.wantMsg)
			}
		})
	}
}

func TestHTTPSynthesizer_EmptyText(t *testing.T) {
	t.Parallel()

	synthesizer := model.NewHTTPSynthesizer("http://127.0.0.1:1", time.Second, newSettings(t, config.VariantPipeline), nil)

	_, err := synthesizer.Synthesize(context.Background(), core.SynthesisInput{Text: ""})
	require.ErrorIs(t, err, model.ErrTextEmpty)
}

func TestHTTPSynthesizer_HealthCheck(t *testing.T) {
	t.Parallel()

	healthy := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		assert.Equal(t, "/health", request.URL.Path)
		writer.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	unhealthy := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	settings := newSettings(t, config.VariantPipeline)

	require.NoError(t, model.NewHTTPSynthesizer(healthy.URL, time.Second, settings, nil).HealthCheck(context.Background()))

	err := model.NewHTTPSynthesizer(unhealthy.URL, time.Second, settings, nil).HealthCheck(context.Background())
	require.ErrorIs(t, err, model.ErrServiceStatus)
}

func TestNew_SelectsBackend(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Model.Variant = config.VariantBark
	cfg.Model.ServiceURL = "http://127.0.0.1:8001/"
	cfg.ApplyDefaults()

	synthesizer, err := model.New(cfg, newCatalog(t), newTestLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &model.HTTPSynthesizer{}, synthesizer)
	assert.Equal(t, core.ModelInfo{
		Variant:            config.VariantBark,
		Name:               "suno/bark-small",
		Backend:            config.BackendHTTP,
		SupportsVoice:      true,
		DefaultVoicePreset: "v2/en_speaker_6",
	}, synthesizer.Info())

	cfg.Model.Backend = config.BackendCommand
	cfg.Model.BinaryPath = "/usr/local/bin/tts-runner"

	synthesizer, err = model.New(cfg, newCatalog(t), newTestLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &model.CommandSynthesizer{}, synthesizer)

	cfg.Model.Variant = "tacotron"

	_, err = model.New(cfg, newCatalog(t), newTestLogger(t))
	require.ErrorIs(t, err, model.ErrUnknownVariant)
}
