package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/core"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	pcmAudioFormat   = 1
	floatAudioFormat = 3
	float32BitDepth  = 32
	float32Bytes     = 4
	tempFilePattern  = "speech-*.wav"
	unsigned8BitBias = 128
)

// Encoder writes clips as PCM WAV. The go-audio encoder needs a seekable
// writer, so every clip goes through a temporary file.
type Encoder struct {
	bitDepth int
	tempDir  string
	log      *logger.Logger
}

// NewEncoder creates an encoder for the given bit depth. An empty tempDir
// uses the system default.
func NewEncoder(bitDepth int, tempDir string, log *logger.Logger) (*Encoder, error) {
	probe := Format{SampleRate: 1, BitDepth: bitDepth, Channels: 1}

	err := probe.Validate()
	if err != nil {
		return nil, err
	}

	return &Encoder{
		bitDepth: bitDepth,
		tempDir:  tempDir,
		log:      log,
	}, nil
}

// Encode returns clip as WAV bytes.
func (e *Encoder) Encode(clip core.Audio) ([]byte, error) {
	if len(clip.Samples) == 0 {
		return nil, ErrEmptyAudio
	}

	format := Format{SampleRate: clip.SampleRate, BitDepth: e.bitDepth, Channels: channelsOf(clip)}

	err := format.Validate()
	if err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(e.tempDir, tempFilePattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for WAV output: %w", err)
	}

	defer func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil && e.log != nil {
			e.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}
	}()

	writeErr := e.write(tempFile, clip, format)

	closeErr := tempFile.Close()
	if writeErr != nil {
		return nil, writeErr
	}

	if closeErr != nil {
		return nil, fmt.Errorf("failed to close temp WAV file: %w", closeErr)
	}

	data, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read encoded WAV: %w", err)
	}

	return data, nil
}

func (e *Encoder) write(file *os.File, clip core.Audio, format Format) error {
	encoder := wav.NewEncoder(file, format.SampleRate, format.BitDepth, format.Channels, pcmAudioFormat)

	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           quantize(clip.Samples, format.BitDepth),
		SourceBitDepth: format.BitDepth,
	}

	err := encoder.Write(buffer)
	if err != nil {
		return fmt.Errorf("failed to write PCM data: %w", err)
	}

	err = encoder.Close()
	if err != nil {
		return fmt.Errorf("failed to finalize WAV header: %w", err)
	}

	return nil
}

// quantize maps samples in [-1, 1] to signed integers, clipping anything
// outside the range.
func quantize(samples []float32, bitDepth int) []int {
	peak := float64(int64(1)<<(bitDepth-1) - 1)

	data := make([]int, len(samples))
	for index, sample := range samples {
		value := math.Max(-1, math.Min(1, float64(sample)))
		data[index] = int(math.Round(value * peak))
	}

	return data
}

// Decode parses a WAV container into normalized samples.
//
// Integer PCM of any bit depth and 32-bit IEEE float are supported. Other
// encodings (A-law, mu-law, ADPCM, extensible headers) are rejected with
// ErrInvalidWAV rather than decoded as noise.
func Decode(data []byte) (core.Audio, error) {
	if !wav.NewDecoder(bytes.NewReader(data)).IsValidFile() {
		return core.Audio{}, ErrInvalidWAV
	}

	decoder := wav.NewDecoder(bytes.NewReader(data))
	decoder.ReadInfo()

	err := decoder.Err()
	if err != nil {
		return core.Audio{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	var samples []float32

	switch decoder.WavAudioFormat {
	case pcmAudioFormat:
		samples, err = decodePCM(decoder)
	case floatAudioFormat:
		samples, err = decodeFloat(decoder, len(data))
	default:
		return core.Audio{}, fmt.Errorf("%w: unsupported encoding %d", ErrInvalidWAV, decoder.WavAudioFormat)
	}

	if err != nil {
		return core.Audio{}, err
	}

	if len(samples) == 0 {
		return core.Audio{}, ErrEmptyAudio
	}

	return core.Audio{
		Samples:    samples,
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
	}, nil
}

func decodePCM(decoder *wav.Decoder) ([]float32, error) {
	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth < 8 {
		return nil, fmt.Errorf("%w: bit depth %d", ErrInvalidWAV, bitDepth)
	}

	scale := float64(int64(1) << (bitDepth - 1))

	samples := make([]float32, len(buffer.Data))
	for index, value := range buffer.Data {
		if bitDepth == 8 {
			value -= unsigned8BitBias
		}

		samples[index] = float32(float64(value) / scale)
	}

	return samples, nil
}

// decodeFloat reads little-endian float32 samples straight from the data
// chunk, since go-audio only yields integer buffers.
func decodeFloat(decoder *wav.Decoder, containerSize int) ([]float32, error) {
	if decoder.BitDepth != float32BitDepth {
		return nil, fmt.Errorf("%w: %d-bit float samples", ErrInvalidWAV, decoder.BitDepth)
	}

	err := decoder.FwdToPCM()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	size := decoder.PCMChunk.Size
	if size < 0 || size > containerSize {
		return nil, fmt.Errorf("%w: data chunk of %d bytes", ErrInvalidWAV, size)
	}

	payload := make([]byte, size-size%float32Bytes)

	_, err = io.ReadFull(decoder.PCMChunk, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	samples := make([]float32, len(payload)/float32Bytes)
	for index := range samples {
		samples[index] = math.Float32frombits(binary.LittleEndian.Uint32(payload[index*float32Bytes:]))
	}

	return samples, nil
}
