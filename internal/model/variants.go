// Package model invokes pretrained text-to-speech models. The neural network
// itself runs outside this process, either in an inference server reached
// over HTTP or in a local runner binary.
package model

import (
	"errors"
	"fmt"

	"github.com/book-expert/speech-service/internal/config"
)

// ErrUnknownVariant indicates a variant name with no definition.
var ErrUnknownVariant = errors.New("unknown model variant")

// Variant describes one family of pretrained models.
type Variant struct {
	Name               string
	DefaultModel       string
	SupportsVoice      bool
	NeedsEmbedding     bool
	DefaultVoicePreset string
}

var variants = map[string]Variant{
	config.VariantPipeline: {
		Name:               config.VariantPipeline,
		DefaultModel:       "ResembleAI/chatterbox",
		SupportsVoice:      false,
		NeedsEmbedding:     false,
		DefaultVoicePreset: "",
	},
	config.VariantBark: {
		Name:               config.VariantBark,
		DefaultModel:       "suno/bark-small",
		SupportsVoice:      true,
		NeedsEmbedding:     false,
		DefaultVoicePreset: "v2/en_speaker_6",
	},
	config.VariantSpeechT5: {
		Name:               config.VariantSpeechT5,
		DefaultModel:       "microsoft/speecht5_tts",
		SupportsVoice:      true,
		NeedsEmbedding:     true,
		DefaultVoicePreset: "default",
	},
}

// LookupVariant returns the definition of name.
func LookupVariant(name string) (Variant, error) {
	variant, ok := variants[name]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}

	return variant, nil
}
