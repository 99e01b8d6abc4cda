package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/config"
	"github.com/book-expert/speech-service/internal/core"
)

var (
	// ErrTextEmpty is returned when a synthesizer receives no text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrNoAudio is returned when a model produces no samples.
	ErrNoAudio = errors.New("model returned no audio")
)

// EmbeddingSource supplies speaker embeddings for variants that need them.
type EmbeddingSource interface {
	Embedding(preset string) []float32
}

// Settings are the per-model parameters shared by all backends.
type Settings struct {
	Variant            Variant
	ModelName          string
	Backend            string
	Language           string
	Temperature        float64
	DefaultVoicePreset string
}

// NewSettings resolves the model parameters from the configuration.
func NewSettings(cfg *config.Config) (Settings, error) {
	variant, err := LookupVariant(cfg.Model.Variant)
	if err != nil {
		return Settings{}, err
	}

	modelName := cfg.Model.Name
	if modelName == "" {
		modelName = variant.DefaultModel
	}

	defaultPreset := cfg.Model.DefaultVoicePreset
	if defaultPreset == "" {
		defaultPreset = variant.DefaultVoicePreset
	}

	return Settings{
		Variant:            variant,
		ModelName:          modelName,
		Backend:            cfg.Model.Backend,
		Language:           cfg.Model.Language,
		Temperature:        cfg.SamplingTemperature(),
		DefaultVoicePreset: defaultPreset,
	}, nil
}

// Info describes the model for clients and logs.
func (s Settings) Info() core.ModelInfo {
	return core.ModelInfo{
		Variant:            s.Variant.Name,
		Name:               s.ModelName,
		Backend:            s.Backend,
		SupportsVoice:      s.Variant.SupportsVoice,
		DefaultVoicePreset: s.DefaultVoicePreset,
	}
}

// voicePreset returns the preset to send to the model, or "" when the
// variant takes none.
func (s Settings) voicePreset(requested string) string {
	if !s.Variant.SupportsVoice {
		return ""
	}

	if requested == "" {
		return s.DefaultVoicePreset
	}

	return requested
}

func (s Settings) speakerEmbedding(embeddings EmbeddingSource, preset string) []float32 {
	if !s.Variant.NeedsEmbedding || embeddings == nil {
		return nil
	}

	return embeddings.Embedding(preset)
}

// New builds the synthesizer selected by cfg.
func New(cfg *config.Config, embeddings EmbeddingSource, log *logger.Logger) (core.Synthesizer, error) {
	settings, err := NewSettings(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.Model.Backend {
	case config.BackendHTTP:
		serviceURL := strings.TrimRight(cfg.Model.ServiceURL, "/")
		log.Info("Using model server at %s for %s (%s)", serviceURL, settings.ModelName, settings.Variant.Name)

		return NewHTTPSynthesizer(serviceURL, cfg.ModelTimeout(), settings, embeddings), nil
	case config.BackendCommand:
		log.Info("Using model runner %s for %s (%s)", cfg.Model.BinaryPath, settings.ModelName, settings.Variant.Name)

		return NewCommandSynthesizer(cfg.Model.BinaryPath, cfg.Audio.TempDir, settings, embeddings, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Model.Backend)
	}
}
