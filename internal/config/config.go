// Package config provides the configuration structure for the speech-service.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Model variants.
const (
	VariantPipeline = "pipeline"
	VariantBark     = "bark"
	VariantSpeechT5 = "speecht5"
)

// Model backends.
const (
	BackendHTTP    = "http"
	BackendCommand = "command"
)

// Default values applied to zero fields.
const (
	defaultAddress          = ":8000"
	defaultMaxTextLength    = 5000
	defaultShutdownSeconds  = 10
	defaultModelTimeout     = 120
	defaultLanguage         = "en"
	defaultTemperature      = 0.7
	defaultBitDepth         = 16
	defaultRequestSubject   = "tts.synthesize"
	defaultAudioSubject     = "audio.chunk.created"
	defaultAudioBucket      = "AUDIO_FILES"
	defaultLogsDir          = "logs"
	defaultCORSAllowOrigins = "*"
)

var (
	// ErrUnknownVariant indicates that model.variant names no known model family.
	ErrUnknownVariant = errors.New("unknown model variant")
	// ErrUnknownBackend indicates that model.backend names no known backend.
	ErrUnknownBackend = errors.New("unknown model backend")
	// ErrServiceURLEmpty indicates an http backend without a service URL.
	ErrServiceURLEmpty = errors.New("model.service_url cannot be empty for the http backend")
	// ErrBinaryPathEmpty indicates a command backend without a binary path.
	ErrBinaryPathEmpty = errors.New("model.binary_path cannot be empty for the command backend")
	// ErrMaxTextLength indicates a non-positive text limit.
	ErrMaxTextLength = errors.New("server.max_text_length must be positive")
	// ErrTimeout indicates a non-positive model timeout.
	ErrTimeout = errors.New("model.timeout_seconds must be positive")
	// ErrTemperature indicates a negative sampling temperature.
	ErrTemperature = errors.New("model.temperature cannot be negative")
	// ErrCORSOrigin indicates an allowed origin without an http or https scheme.
	ErrCORSOrigin = errors.New("server.cors_allowed_origins entries must be \"*\" or start with http:// or https://")
)

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Address            string   `toml:"address"`
	StaticDir          string   `toml:"static_dir"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
	MaxTextLength      int      `toml:"max_text_length"`
	ShutdownSeconds    int      `toml:"shutdown_seconds"`
}

// ModelConfig selects the pretrained model and how it is reached.
//
// DefaultVoicePreset, when set, is used for requests that name no preset and
// takes precedence over the default declared in VoicesFile. Temperature is a
// pointer so that an explicit 0 (greedy sampling) is kept; an absent value
// becomes 0.7.
type ModelConfig struct {
	Variant            string   `toml:"variant"`
	Backend            string   `toml:"backend"`
	Name               string   `toml:"name"`
	ServiceURL         string   `toml:"service_url"`
	BinaryPath         string   `toml:"binary_path"`
	VoicesFile         string   `toml:"voices_file"`
	DefaultVoicePreset string   `toml:"default_voice_preset"`
	Language           string   `toml:"language"`
	Temperature        *float64 `toml:"temperature"`
	TimeoutSeconds     int      `toml:"timeout_seconds"`
	NormalizeText      bool     `toml:"normalize_text"`
	SpellNumbers       bool     `toml:"spell_numbers"`
}

// AudioConfig holds the WAV output settings.
type AudioConfig struct {
	BitDepth int    `toml:"bit_depth"`
	TempDir  string `toml:"temp_dir"`
}

// NATSConfig holds the configuration for NATS. An empty URL disables the
// worker and the audio archive.
type NATSConfig struct {
	URL                      string `toml:"url"`
	RequestSubject           string `toml:"request_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
	ArchiveHTTPAudio         bool   `toml:"archive_http_audio"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server ServerConfig `toml:"server"`
	Model  ModelConfig  `toml:"model"`
	Audio  AudioConfig  `toml:"audio"`
	NATS   NATSConfig   `toml:"nats"`
	Paths  PathsConfig  `toml:"paths"`
}

// Load loads the configuration for the speech-service, fills defaults and
// validates the result.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = defaultAddress
	}

	if c.Server.MaxTextLength == 0 {
		c.Server.MaxTextLength = defaultMaxTextLength
	}

	if c.Server.ShutdownSeconds == 0 {
		c.Server.ShutdownSeconds = defaultShutdownSeconds
	}

	if len(c.Server.CORSAllowedOrigins) == 0 {
		c.Server.CORSAllowedOrigins = []string{defaultCORSAllowOrigins}
	}

	if c.Model.Variant == "" {
		c.Model.Variant = VariantPipeline
	}

	if c.Model.Backend == "" {
		c.Model.Backend = BackendHTTP
	}

	if c.Model.Language == "" {
		c.Model.Language = defaultLanguage
	}

	if c.Model.Temperature == nil {
		temperature := defaultTemperature
		c.Model.Temperature = &temperature
	}

	if c.Model.TimeoutSeconds == 0 {
		c.Model.TimeoutSeconds = defaultModelTimeout
	}

	if c.Audio.BitDepth == 0 {
		c.Audio.BitDepth = defaultBitDepth
	}

	c.applyNATSDefaults()

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = defaultLogsDir
	}
}

func (c *Config) applyNATSDefaults() {
	if c.NATS.RequestSubject == "" {
		c.NATS.RequestSubject = defaultRequestSubject
	}

	if c.NATS.AudioChunkCreatedSubject == "" {
		c.NATS.AudioChunkCreatedSubject = defaultAudioSubject
	}

	if c.NATS.AudioObjectStoreBucket == "" {
		c.NATS.AudioObjectStoreBucket = defaultAudioBucket
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	variants := []string{VariantPipeline, VariantBark, VariantSpeechT5}
	if !slices.Contains(variants, c.Model.Variant) {
		return fmt.Errorf("%w: %q", ErrUnknownVariant, c.Model.Variant)
	}

	switch c.Model.Backend {
	case BackendHTTP:
		if c.Model.ServiceURL == "" {
			return ErrServiceURLEmpty
		}
	case BackendCommand:
		if c.Model.BinaryPath == "" {
			return ErrBinaryPathEmpty
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Model.Backend)
	}

	if c.Server.MaxTextLength <= 0 {
		return ErrMaxTextLength
	}

	if c.Model.TimeoutSeconds <= 0 {
		return ErrTimeout
	}

	if c.Model.Temperature != nil && *c.Model.Temperature < 0 {
		return ErrTemperature
	}

	for _, origin := range c.Server.CORSAllowedOrigins {
		if !validOrigin(origin) {
			return fmt.Errorf("%w: %q", ErrCORSOrigin, origin)
		}
	}

	return nil
}

func validOrigin(origin string) bool {
	return origin == "*" || strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://")
}

// ModelTimeout returns the per-request synthesis timeout.
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.Model.TimeoutSeconds) * time.Second
}

// SamplingTemperature returns the configured temperature, or the default
// when none is set.
func (c *Config) SamplingTemperature() float64 {
	if c.Model.Temperature == nil {
		return defaultTemperature
	}

	return *c.Model.Temperature
}

// ShutdownTimeout returns the graceful shutdown window.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}

// NATSEnabled reports whether a NATS server is configured.
func (c *Config) NATSEnabled() bool {
	return c.NATS.URL != ""
}
