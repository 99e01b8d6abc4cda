package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/audio"
	"github.com/book-expert/speech-service/internal/core"
)

const (
	outputFilePattern    = "tts-output-*.wav"
	embeddingFilePattern = "tts-speaker-*.json"
	maxRunnerOutputBytes = 2048
)

// ErrRunnerNotExecutable indicates a runner path that cannot be executed.
var ErrRunnerNotExecutable = errors.New("model runner is not an executable file")

// CommandSynthesizer invokes a local model runner binary. The runner writes
// its result to a WAV file whose path it receives with --output.
type CommandSynthesizer struct {
	binaryPath string
	tempDir    string
	settings   Settings
	embeddings EmbeddingSource
	log        *logger.Logger
}

// NewCommandSynthesizer creates a synthesizer around the runner at binaryPath.
func NewCommandSynthesizer(
	binaryPath string,
	tempDir string,
	settings Settings,
	embeddings EmbeddingSource,
	log *logger.Logger,
) *CommandSynthesizer {
	return &CommandSynthesizer{
		binaryPath: binaryPath,
		tempDir:    tempDir,
		settings:   settings,
		embeddings: embeddings,
		log:        log,
	}
}

// Info describes the model behind this synthesizer.
func (c *CommandSynthesizer) Info() core.ModelInfo {
	return c.settings.Info()
}

// HealthCheck verifies that the runner exists and is executable.
func (c *CommandSynthesizer) HealthCheck(_ context.Context) error {
	path, err := exec.LookPath(c.binaryPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRunnerNotExecutable, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat model runner '%s': %w", path, err)
	}

	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s", ErrRunnerNotExecutable, path)
	}

	return nil
}

// Synthesize runs the model on input and returns the decoded waveform.
func (c *CommandSynthesizer) Synthesize(ctx context.Context, input core.SynthesisInput) (core.Audio, error) {
	if input.Text == "" {
		return core.Audio{}, ErrTextEmpty
	}

	outputFile, err := c.createTemp(outputFilePattern, nil)
	if err != nil {
		return core.Audio{}, fmt.Errorf("failed to create temp file for model output: %w", err)
	}
	defer c.remove(outputFile)

	preset := c.settings.voicePreset(input.VoicePreset)

	args := []string{
		"--model", c.settings.ModelName,
		"--text", input.Text,
		"--output", outputFile,
		"--language", c.settings.Language,
		"--temperature", strconv.FormatFloat(c.settings.Temperature, 'f', 2, 64),
	}

	if preset != "" {
		args = append(args, "--voice-preset", preset)
	}

	embedding := c.settings.speakerEmbedding(c.embeddings, preset)
	if embedding != nil {
		embeddingFile, embedErr := c.writeEmbedding(embedding)
		if embedErr != nil {
			return core.Audio{}, embedErr
		}
		defer c.remove(embeddingFile)

		args = append(args, "--speaker-embedding", embeddingFile)
	}

	// #nosec G204 -- the binary path comes from configuration, text is passed as a single argument
	cmd := exec.CommandContext(ctx, c.binaryPath, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return core.Audio{}, fmt.Errorf("model runner failed: %w - output: %s", err, truncate(output))
	}

	wavData, err := os.ReadFile(outputFile)
	if err != nil {
		return core.Audio{}, fmt.Errorf("failed to read model output: %w", err)
	}

	if len(wavData) == 0 {
		return core.Audio{}, ErrNoAudio
	}

	clip, err := audio.Decode(wavData)
	if err != nil {
		return core.Audio{}, fmt.Errorf("failed to decode model output: %w", err)
	}

	return clip, nil
}

func (c *CommandSynthesizer) writeEmbedding(embedding []float32) (string, error) {
	data, err := json.Marshal(embedding)
	if err != nil {
		return "", fmt.Errorf("failed to marshal speaker embedding: %w", err)
	}

	path, err := c.createTemp(embeddingFilePattern, data)
	if err != nil {
		return "", fmt.Errorf("failed to write speaker embedding: %w", err)
	}

	return path, nil
}

// createTemp creates a temp file holding data and returns its path.
func (c *CommandSynthesizer) createTemp(pattern string, data []byte) (string, error) {
	file, err := os.CreateTemp(c.tempDir, pattern)
	if err != nil {
		return "", err
	}

	_, writeErr := file.Write(data)
	closeErr := file.Close()

	if writeErr != nil || closeErr != nil {
		c.remove(file.Name())

		return "", errors.Join(writeErr, closeErr)
	}

	return file.Name(), nil
}

func (c *CommandSynthesizer) remove(path string) {
	removeErr := os.Remove(path)
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		c.log.Warn("Failed to remove temp file '%s': %v", path, removeErr)
	}
}

func truncate(output []byte) string {
	if len(output) > maxRunnerOutputBytes {
		return string(output[:maxRunnerOutputBytes]) + "..."
	}

	return string(output)
}
