package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/config"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/metrics"
	"github.com/book-expert/speech-service/internal/server"
	"github.com/book-expert/speech-service/internal/speech"
	"github.com/book-expert/speech-service/internal/voice"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errInternalModel = errors.New("torch.OutOfMemoryError: CUDA out of memory at /opt/model/weights.bin")
	errNotReady      = errors.New("connection refused")
)

var fakeWAV = []byte("RIFF\x24\x00\x00\x00WAVEfmt ")

// speechServiceStub implements SpeechServiceAPI with replaceable functions.
type speechServiceStub struct {
	synthesizeFn func(request core.SpeechRequest) (*speech.Result, error)
	readyErr     error
	info         core.ModelInfo
	catalog      *voice.Catalog
	lastRequest  core.SpeechRequest
}

func (s *speechServiceStub) Synthesize(_ context.Context, request core.SpeechRequest) (*speech.Result, error) {
	s.lastRequest = request

	return s.synthesizeFn(request)
}

func (s *speechServiceStub) Ready(_ context.Context) error {
	return s.readyErr
}

func (s *speechServiceStub) Info() core.ModelInfo {
	return s.info
}

func (s *speechServiceStub) Catalog() *voice.Catalog {
	return s.catalog
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newStub(t *testing.T) *speechServiceStub {
	t.Helper()

	catalog, err := voice.NewCatalog("v2/en_speaker_6", []voice.Preset{
		{Name: "v2/en_speaker_1", Description: "calm male"},
		{Name: "v2/en_speaker_6", Description: "bright male"},
	})
	require.NoError(t, err)

	return &speechServiceStub{
		synthesizeFn: func(request core.SpeechRequest) (*speech.Result, error) {
			if strings.TrimSpace(request.Text) == "" {
				return nil, speech.ErrEmptyText
			}

			return &speech.Result{WAV: fakeWAV, SampleRate: 24000}, nil
		},
		info: core.ModelInfo{
			Variant:            "bark",
			Name:               "suno/bark-small",
			Backend:            "http",
			SupportsVoice:      true,
			DefaultVoicePreset: "v2/en_speaker_6",
		},
		catalog: catalog,
	}
}

func newRouter(t *testing.T, stub *speechServiceStub, cfg config.ServerConfig) http.Handler {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "server-test.log")
	require.NoError(t, err)

	srv, err := server.New(cfg, stub, metrics.New(), testLogger)
	require.NoError(t, err)

	return srv.Handler()
}

func serve(handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	return recorder
}

func decodeDetail(t *testing.T, recorder *httptest.ResponseRecorder) string {
	t.Helper()

	var body map[string]string

	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body), "body=%s", recorder.Body.String())

	return body["detail"]
}

func TestSynthesize_Success(t *testing.T) {
	t.Parallel()

	stub := newStub(t)
	router := newRouter(t, stub, config.ServerConfig{})

	for _, path := range []string{"/tts", "/synthesize"} {
		recorder := serve(router, http.MethodPost, path, `{"text":"Hello, world!","voice_preset":"v2/en_speaker_1"}`)

		require.Equal(t, http.StatusOK, recorder.Code, "path %s", path)
		assert.Equal(t, "audio/wav", recorder.Header().Get("Content-Type"))
		assert.Equal(t, `inline; filename="speech.wav"`, recorder.Header().Get("Content-Disposition"))
		assert.Empty(t, recorder.Header().Get("X-Audio-Key"))
		assert.Equal(t, fakeWAV, recorder.Body.Bytes())
		assert.Equal(t, core.SpeechRequest{Text: "Hello, world!", VoicePreset: "v2/en_speaker_1"}, stub.lastRequest)
	}
}

func TestSynthesize_DownloadAndArchiveKey(t *testing.T) {
	t.Parallel()

	stub := newStub(t)
	stub.synthesizeFn = func(_ core.SpeechRequest) (*speech.Result, error) {
		return &speech.Result{WAV: fakeWAV, AudioKey: "0b7f.wav"}, nil
	}

	router := newRouter(t, stub, config.ServerConfig{})
	recorder := serve(router, http.MethodPost, "/tts?download=true", `{"text":"Hi"}`)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, `attachment; filename="speech.wav"`, recorder.Header().Get("Content-Disposition"))
	assert.Equal(t, "0b7f.wav", recorder.Header().Get("X-Audio-Key"))
}

func TestSynthesize_ClientErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantDetail string
	}{
		{name: "empty text", body: `{"text":""}`, wantDetail: "Text cannot be empty."},
		{name: "missing text", body: `{}`, wantDetail: "Text cannot be empty."},
		{name: "malformed json", body: `{"text":`, wantDetail: `Request body must be JSON with a "text" field.`},
		{name: "wrong type", body: `{"text":42}`, wantDetail: `Request body must be JSON with a "text" field.`},
		{
			name:       "too long",
			body:       `{"text":"long"}`,
			serviceErr: fmt.Errorf("%w: 5001 characters, limit is 5000", speech.ErrTextTooLong),
			wantDetail: "text is too long: 5001 characters, limit is 5000.",
		},
		{
			name:       "unknown preset",
			body:       `{"text":"Hi","voice_preset":"nope"}`,
			serviceErr: fmt.Errorf("%w: 'nope'", speech.ErrUnsupportedVoicePreset),
			wantDetail: "unsupported voice preset: 'nope'.",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			stub := newStub(t)
			if testCase.serviceErr != nil {
				stub.synthesizeFn = func(_ core.SpeechRequest) (*speech.Result, error) {
					return nil, testCase.serviceErr
				}
			}

			recorder := serve(newRouter(t, stub, config.ServerConfig{}), http.MethodPost, "/tts", testCase.body)

			require.Equal(t, http.StatusBadRequest, recorder.Code)
			assert.Equal(t, testCase.wantDetail, decodeDetail(t, recorder))
		})
	}
}

func TestSynthesize_ModelFailureHidesInternals(t *testing.T) {
	t.Parallel()

	stub := newStub(t)
	stub.synthesizeFn = func(_ core.SpeechRequest) (*speech.Result, error) {
		return nil, fmt.Errorf("%w: %w", speech.ErrSynthesisFailed, errInternalModel)
	}

	recorder := serve(newRouter(t, stub, config.ServerConfig{}), http.MethodPost, "/tts", `{"text":"Hello"}`)

	require.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.Equal(t, "Speech synthesis failed.", decodeDetail(t, recorder))
	assert.NotContains(t, recorder.Body.String(), "CUDA")
	assert.NotContains(t, recorder.Body.String(), "/opt/model")
}

func TestSynthesize_BodyTooLarge(t *testing.T) {
	t.Parallel()

	body := `{"text":"` + strings.Repeat("a", 2<<20) + `"}`
	recorder := serve(newRouter(t, newStub(t), config.ServerConfig{}), http.MethodPost, "/tts", body)

	require.Equal(t, http.StatusRequestEntityTooLarge, recorder.Code)
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	stub := newStub(t)
	router := newRouter(t, stub, config.ServerConfig{})

	health := serve(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, health.Code)
	assert.JSONEq(t, `{"status":"ok"}`, health.Body.String())

	ready := serve(router, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, ready.Code)
	assert.JSONEq(t, `{"status":"ready"}`, ready.Body.String())

	stub.readyErr = errNotReady

	notReady := serve(router, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, notReady.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, notReady.Body.String())

	health = serve(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, health.Code, "liveness does not depend on the model backend")
}

func TestVoices(t *testing.T) {
	t.Parallel()

	stub := newStub(t)
	recorder := serve(newRouter(t, stub, config.ServerConfig{}), http.MethodGet, "/voices", "")

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{
		"variant": "bark",
		"model": "suno/bark-small",
		"supports_voice_presets": true,
		"default": "v2/en_speaker_6",
		"presets": [
			{"name": "v2/en_speaker_1", "description": "calm male"},
			{"name": "v2/en_speaker_6", "description": "bright male"}
		]
	}`, recorder.Body.String())

	stub.info = core.ModelInfo{Variant: "pipeline", Name: "ResembleAI/chatterbox", Backend: "http"}
	recorder = serve(newRouter(t, stub, config.ServerConfig{}), http.MethodGet, "/voices", "")
	assert.JSONEq(t, `{
		"variant": "pipeline",
		"model": "ResembleAI/chatterbox",
		"supports_voice_presets": false,
		"default": "",
		"presets": []
	}`, recorder.Body.String())
}

func TestFrontend(t *testing.T) {
	t.Parallel()

	router := newRouter(t, newStub(t), config.ServerConfig{})

	index := serve(router, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, index.Code)
	assert.Contains(t, index.Body.String(), "<title>Text to Speech</title>")

	script := serve(router, http.MethodGet, "/static/script.js", "")
	require.Equal(t, http.StatusOK, script.Code)
	assert.Contains(t, script.Body.String(), "/synthesize")
}

func TestFrontend_StaticDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>custom ui</p>"), 0o600))

	router := newRouter(t, newStub(t), config.ServerConfig{StaticDir: dir})

	index := serve(router, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, index.Code)
	assert.Contains(t, index.Body.String(), "custom ui")

	testLogger, err := logger.New(t.TempDir(), "server-test.log")
	require.NoError(t, err)

	_, err = server.New(config.ServerConfig{StaticDir: filepath.Join(dir, "index.html")}, newStub(t), nil, testLogger)
	require.ErrorIs(t, err, server.ErrStaticDirNotDirectory)
}

func TestNew_RejectsOriginWithoutScheme(t *testing.T) {
	t.Parallel()

	testLogger, err := logger.New(t.TempDir(), "server-test.log")
	require.NoError(t, err)

	cfg := config.ServerConfig{CORSAllowedOrigins: []string{"example.com"}}

	require.NotPanics(t, func() {
		_, err = server.New(cfg, newStub(t), nil, testLogger)
	})
	require.ErrorIs(t, err, server.ErrInvalidCORS)
}

func TestCORSAndRequestID(t *testing.T) {
	t.Parallel()

	router := newRouter(t, newStub(t), config.ServerConfig{CORSAllowedOrigins: []string{"http://localhost:3000"}})

	preflight := httptest.NewRequest(http.MethodOptions, "/tts", nil)
	preflight.Header.Set("Origin", "http://localhost:3000")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, preflight)

	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.Equal(t, "http://localhost:3000", recorder.Header().Get("Access-Control-Allow-Origin"))

	request := httptest.NewRequest(http.MethodGet, "/health", nil)
	request.Header.Set("X-Request-ID", "req-42")

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	assert.Equal(t, "req-42", recorder.Header().Get("X-Request-ID"))

	recorder = serve(router, http.MethodGet, "/health", "")
	assert.NotEmpty(t, recorder.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	router := newRouter(t, newStub(t), config.ServerConfig{})
	serve(router, http.MethodPost, "/tts", `{"text":"Hello"}`)

	recorder := serve(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `speech_service_http_requests_total{method="POST",route="/tts",status="200"} 1`)
}
