// Package speech turns a client request into WAV bytes: it validates the
// request, prepares the text, invokes the model and encodes its output.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/audio"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/voice"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Synthesis outcomes reported to the Recorder.
const (
	OutcomeSuccess = "success"
	OutcomeInvalid = "invalid"
	OutcomeFailure = "failure"
)

const audioKeySuffix = ".wav"

var (
	// ErrEmptyText indicates a request without text to speak.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrTextTooLong indicates a request above the configured text limit.
	ErrTextTooLong = errors.New("text is too long")
	// ErrUnsupportedVoicePreset indicates a preset the loaded model does not offer.
	ErrUnsupportedVoicePreset = errors.New("unsupported voice preset")
	// ErrSynthesisFailed wraps every model or encoding failure.
	ErrSynthesisFailed = errors.New("speech synthesis failed")
)

// Encoder converts a waveform into a WAV container.
type Encoder interface {
	Encode(clip core.Audio) ([]byte, error)
}

// TextNormalizer rewrites text before it reaches the model.
type TextNormalizer interface {
	Normalize(input string) string
}

// Recorder receives one observation per synthesis attempt.
type Recorder interface {
	ObserveSynthesis(variant, outcome string, elapsed time.Duration, audioBytes int)
}

// Result is a synthesized clip ready to be sent to a client.
type Result struct {
	WAV         []byte
	AudioKey    string
	VoicePreset string
	SampleRate  int
	Duration    time.Duration
}

// Dependencies are the collaborators of a Service. Normalizer, Archive and
// Recorder are optional.
type Dependencies struct {
	Synthesizer   core.Synthesizer
	Catalog       *voice.Catalog
	Encoder       Encoder
	Normalizer    TextNormalizer
	Archive       core.ObjectStore
	Recorder      Recorder
	MaxTextLength int
	Timeout       time.Duration
	// DefaultVoicePreset is the configured preset for requests that name
	// none. When empty the catalog default is used, then the model's own.
	DefaultVoicePreset string
}

// Service runs synthesis requests. It holds no per-request state and is safe
// for concurrent use.
type Service struct {
	deps Dependencies
	info core.ModelInfo
	log  *logger.Logger
}

// NewService creates a Service. A nil Catalog is treated as empty.
func NewService(deps Dependencies, log *logger.Logger) (*Service, error) {
	if deps.Synthesizer == nil {
		return nil, fmt.Errorf("%w: no synthesizer configured", ErrSynthesisFailed)
	}

	if deps.Encoder == nil {
		return nil, fmt.Errorf("%w: no encoder configured", ErrSynthesisFailed)
	}

	if deps.Catalog == nil {
		catalog, err := voice.NewCatalog("", nil)
		if err != nil {
			return nil, err
		}

		deps.Catalog = catalog
	}

	info := deps.Synthesizer.Info()

	if info.SupportsVoice {
		defaultPreset, err := effectiveDefaultPreset(deps, info.DefaultVoicePreset)
		if err != nil {
			return nil, err
		}

		info.DefaultVoicePreset = defaultPreset
	}

	return &Service{
		deps: deps,
		info: info,
		log:  log,
	}, nil
}

// effectiveDefaultPreset applies the precedence configured value, catalog
// default, model default. A configured value must exist in a non-empty
// catalog.
func effectiveDefaultPreset(deps Dependencies, modelDefault string) (string, error) {
	configured := strings.TrimSpace(deps.DefaultVoicePreset)

	switch {
	case configured != "":
		if !deps.Catalog.Empty() && !deps.Catalog.Has(configured) {
			return "", fmt.Errorf("%w: default '%s' is not in the voice catalog", ErrUnsupportedVoicePreset, configured)
		}

		return configured, nil
	case deps.Catalog.Default() != "":
		return deps.Catalog.Default(), nil
	default:
		return modelDefault, nil
	}
}

// Info describes the loaded model. DefaultVoicePreset is the preset used for
// requests that name none.
func (s *Service) Info() core.ModelInfo {
	return s.info
}

// Catalog returns the voice presets offered to clients.
func (s *Service) Catalog() *voice.Catalog {
	return s.deps.Catalog
}

// IsValidationError reports whether err was caused by the client request.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyText) ||
		errors.Is(err, ErrTextTooLong) ||
		errors.Is(err, ErrUnsupportedVoicePreset)
}

// Synthesize renders request and archives the WAV when an archive store is
// configured.
//
// Errors caused by the request itself (empty or overlong text, unknown
// preset) satisfy IsValidationError and carry a message safe to show to
// clients. Everything else wraps ErrSynthesisFailed. A failed archive upload
// is logged and leaves Result.AudioKey empty; it does not fail the request.
func (s *Service) Synthesize(ctx context.Context, request core.SpeechRequest) (*Result, error) {
	result, err := s.Render(ctx, request)
	if err != nil {
		return nil, err
	}

	result.AudioKey = s.archive(ctx, result.WAV)

	return result, nil
}

// Render validates request, runs the model and returns the WAV result.
func (s *Service) Render(ctx context.Context, request core.SpeechRequest) (*Result, error) {
	started := time.Now()

	result, err := s.render(ctx, request)

	outcome := OutcomeSuccess
	audioBytes := 0

	switch {
	case err == nil:
		audioBytes = len(result.WAV)
	case IsValidationError(err):
		outcome = OutcomeInvalid
	default:
		outcome = OutcomeFailure
	}

	if s.deps.Recorder != nil {
		s.deps.Recorder.ObserveSynthesis(s.info.Variant, outcome, time.Since(started), audioBytes)
	}

	return result, err
}

func (s *Service) render(ctx context.Context, request core.SpeechRequest) (*Result, error) {
	text, err := s.validateText(request.Text)
	if err != nil {
		return nil, err
	}

	preset, err := s.resolveVoicePreset(request.VoicePreset)
	if err != nil {
		return nil, err
	}

	if s.deps.Normalizer != nil {
		text = s.deps.Normalizer.Normalize(text)
	}

	if s.deps.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.deps.Timeout)
		defer cancel()
	}

	clip, err := s.deps.Synthesizer.Synthesize(ctx, core.SynthesisInput{Text: text, VoicePreset: preset})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}

	wavData, err := s.deps.Encoder.Encode(clip)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode audio: %w", ErrSynthesisFailed, err)
	}

	result := &Result{
		WAV:         wavData,
		AudioKey:    "",
		VoicePreset: preset,
		SampleRate:  clip.SampleRate,
		Duration:    audio.Duration(clip),
	}

	s.log.Info("Synthesized %s of audio (%s) for %d characters with %s",
		result.Duration.Round(time.Millisecond), humanize.Bytes(uint64(len(wavData))),
		utf8.RuneCountInString(text), s.info.Name)

	return result, nil
}

func (s *Service) validateText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", ErrEmptyText
	}

	length := utf8.RuneCountInString(text)
	if s.deps.MaxTextLength > 0 && length > s.deps.MaxTextLength {
		return "", fmt.Errorf("%w: %d characters, limit is %d", ErrTextTooLong, length, s.deps.MaxTextLength)
	}

	return text, nil
}

// resolveVoicePreset picks the preset sent to the model. Variants without
// preset support ignore the request.
func (s *Service) resolveVoicePreset(requested string) (string, error) {
	requested = strings.TrimSpace(requested)

	if !s.info.SupportsVoice {
		if requested != "" {
			s.log.Warn("Model %s does not support voice presets, ignoring '%s'", s.info.Name, requested)
		}

		return "", nil
	}

	catalog := s.deps.Catalog

	if requested == "" {
		return s.info.DefaultVoicePreset, nil
	}

	if !catalog.Empty() && !catalog.Has(requested) {
		return "", fmt.Errorf("%w: '%s'", ErrUnsupportedVoicePreset, requested)
	}

	return requested, nil
}

// archive uploads wavData when an archive store is configured and returns
// its key. Upload failures only cost the archive copy.
func (s *Service) archive(ctx context.Context, wavData []byte) string {
	if s.deps.Archive == nil {
		return ""
	}

	key := uuid.NewString() + audioKeySuffix

	err := s.deps.Archive.Upload(ctx, key, wavData)
	if err != nil {
		s.log.Error("Failed to archive audio as '%s': %v", key, err)

		return ""
	}

	return key
}

// Ready reports whether the model backend can take requests.
func (s *Service) Ready(ctx context.Context) error {
	checker, ok := s.deps.Synthesizer.(core.HealthChecker)
	if !ok {
		return nil
	}

	err := checker.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("model backend is not ready: %w", err)
	}

	return nil
}
