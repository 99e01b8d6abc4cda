// Package core defines the shared types and interfaces of the speech service.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// SpeechRequest is a single synthesis request as received from a client.
type SpeechRequest struct {
	Text        string `json:"text"`
	VoicePreset string `json:"voice_preset,omitempty"`
}

// Audio is the raw output of a model: samples in [-1, 1], interleaved when
// Channels is greater than one.
type Audio struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames.
func (a Audio) Frames() int {
	if a.Channels <= 1 {
		return len(a.Samples)
	}

	return len(a.Samples) / a.Channels
}

// SynthesisInput is what a Synthesizer receives after validation.
type SynthesisInput struct {
	Text        string
	VoicePreset string
}

// Synthesizer defines the interface for a pretrained text-to-speech model.
type Synthesizer interface {
	Synthesize(ctx context.Context, input SynthesisInput) (Audio, error)
	Info() ModelInfo
}

// HealthChecker is implemented by synthesizers that can probe their backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ModelInfo describes the loaded model variant.
type ModelInfo struct {
	Variant            string
	Name               string
	Backend            string
	SupportsVoice      bool
	DefaultVoicePreset string
}
