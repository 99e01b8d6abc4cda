package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/speech"
	"github.com/book-expert/speech-service/internal/voice"
	"github.com/gin-gonic/gin"
)

// Response messages.
const (
	detailSynthesisFailed = "Speech synthesis failed."
	detailInvalidBody     = "Request body must be JSON with a \"text\" field."
	detailBodyTooLarge    = "Request body is too large."
	statusOK              = "ok"
	statusReady           = "ready"
	statusUnavailable     = "unavailable"
)

// Response headers.
const (
	headerContentDisposition = "Content-Disposition"
	headerAudioKey           = "X-Audio-Key"
	contentTypeWAV           = "audio/wav"
	dispositionInline        = `inline; filename="speech.wav"`
	dispositionAttachment    = `attachment; filename="speech.wav"`
	downloadQuery            = "download"
)

// SpeechServiceAPI is the part of the speech service the HTTP layer uses.
type SpeechServiceAPI interface {
	Synthesize(ctx context.Context, request core.SpeechRequest) (*speech.Result, error)
	Ready(ctx context.Context) error
	Info() core.ModelInfo
	Catalog() *voice.Catalog
}

type presetResponse struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type voicesResponse struct {
	Variant       string           `json:"variant"`
	Model         string           `json:"model"`
	SupportsVoice bool             `json:"supports_voice_presets"`
	Default       string           `json:"default"`
	Presets       []presetResponse `json:"presets"`
}

// SpeechController serves the synthesis and status endpoints.
type SpeechController struct {
	SpeechService SpeechServiceAPI
	Log           *logger.Logger
}

// Synthesize handles POST /tts and POST /synthesize.
func (sc *SpeechController) Synthesize(c *gin.Context) {
	var request core.SpeechRequest

	err := c.ShouldBindJSON(&request)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"detail": detailBodyTooLarge})

			return
		}

		c.JSON(http.StatusBadRequest, gin.H{"detail": detailInvalidBody})

		return
	}

	result, err := sc.SpeechService.Synthesize(c.Request.Context(), request)
	if err != nil {
		if speech.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": validationDetail(err)})

			return
		}

		sc.Log.Error("Synthesis failed for request %s: %v", requestID(c), err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": detailSynthesisFailed})

		return
	}

	disposition := dispositionInline

	download, _ := strconv.ParseBool(c.Query(downloadQuery))
	if download {
		disposition = dispositionAttachment
	}

	c.Header(headerContentDisposition, disposition)

	if result.AudioKey != "" {
		c.Header(headerAudioKey, result.AudioKey)
	}

	c.Data(http.StatusOK, contentTypeWAV, result.WAV)
}

// Health handles GET /health. It reports liveness only.
func (sc *SpeechController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": statusOK})
}

// Ready handles GET /ready.
func (sc *SpeechController) Ready(c *gin.Context) {
	err := sc.SpeechService.Ready(c.Request.Context())
	if err != nil {
		sc.Log.Warn("Readiness check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": statusUnavailable})

		return
	}

	c.JSON(http.StatusOK, gin.H{"status": statusReady})
}

// Voices handles GET /voices.
func (sc *SpeechController) Voices(c *gin.Context) {
	info := sc.SpeechService.Info()
	catalog := sc.SpeechService.Catalog()

	response := voicesResponse{
		Variant:       info.Variant,
		Model:         info.Name,
		SupportsVoice: info.SupportsVoice,
		Default:       "",
		Presets:       []presetResponse{},
	}

	if info.SupportsVoice {
		response.Default = info.DefaultVoicePreset

		for _, preset := range catalog.Presets() {
			response.Presets = append(response.Presets, presetResponse{Name: preset.Name, Description: preset.Description})
		}
	}

	c.JSON(http.StatusOK, response)
}

func validationDetail(err error) string {
	switch {
	case errors.Is(err, speech.ErrEmptyText):
		return "Text cannot be empty."
	default:
		return fmt.Sprintf("%s.", err.Error())
	}
}
