// Package audio encodes model output into WAV containers and reads WAV files
// produced by model runners.
package audio

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/speech-service/internal/core"
)

// Supported PCM bit depths for encoding.
const (
	BitDepth16 = 16
	BitDepth24 = 24
	BitDepth32 = 32
)

// Limits for format validation.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
)

const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtBitDepthValues  = "%w: bit depth must be 16, 24, or 32, got %d"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d, got %d"
)

var (
	// ErrInvalidFormat indicates an unsupported PCM layout.
	ErrInvalidFormat = errors.New("invalid audio format")
	// ErrEmptyAudio indicates a clip without samples.
	ErrEmptyAudio = errors.New("audio contains no samples")
	// ErrInvalidWAV indicates bytes that are not a readable WAV container.
	ErrInvalidWAV = errors.New("invalid WAV data")
)

// Format is the PCM layout of an encoded clip.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// Validate checks that the layout can be written as a WAV container.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.SampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidFormat, MaxSampleRate, f.SampleRate)
	}

	switch f.BitDepth {
	case BitDepth16, BitDepth24, BitDepth32:
	default:
		return fmt.Errorf(errFmtBitDepthValues, ErrInvalidFormat, f.BitDepth)
	}

	if f.Channels <= 0 || f.Channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidFormat, MaxChannels, f.Channels)
	}

	return nil
}

// Duration returns the playback length of clip.
func Duration(clip core.Audio) time.Duration {
	if clip.SampleRate <= 0 {
		return 0
	}

	frames := clip.Frames()

	return time.Duration(frames) * time.Second / time.Duration(clip.SampleRate)
}

func channelsOf(clip core.Audio) int {
	if clip.Channels <= 0 {
		return 1
	}

	return clip.Channels
}
