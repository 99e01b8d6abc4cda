// tts-client sends text to a running speech service and saves the WAV reply.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/book-expert/speech-service/internal/core"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// Flag names.
const (
	flagText        = "text"
	flagVoicePreset = "voice-preset"
	flagOutput      = "output"
	flagChunks      = "chunks"
	flagServer      = "server"
	flagHealth      = "health"
	flagTimeout     = "timeout"
	flagWorkers     = "workers"
)

// Flag descriptions.
const (
	flagTextDesc        = "Text to convert to speech"
	flagVoicePresetDesc = "Voice preset (ignored by models without voice presets)"
	flagOutputDesc      = "Output file (.wav) for --text, output directory for --chunks"
	flagChunksDesc      = "JSON file containing an array of text chunks to process"
	flagServerDesc      = "Base URL of the speech service"
	flagHealthDesc      = "Check service health and exit"
	flagTimeoutDesc     = "Timeout per request"
	flagWorkersDesc     = "Number of chunks synthesized concurrently"
)

// Defaults and messages.
const (
	defaultServerURL      = "http://localhost:8000"
	defaultOutputFile     = "speech.wav"
	defaultTimeout        = 2 * time.Minute
	chunkFileFormat       = "chunk_%03d.wav"
	msgServiceHealthy     = "Speech service is healthy"
	msgGenerated          = "Generated: %s (%s)\n"
	msgGeneratedChunks    = "Generated %d audio files (%s) in: %s\n"
	outputFilePermissions = 0o644
	outputDirPermissions  = 0o755
)

var (
	errEitherTextOrChunks = errors.New("either --text or --chunks must be provided")
	errCannotSpecifyBoth  = errors.New("cannot specify both --text and --chunks")
	errNoChunks           = errors.New("chunks file contains no text")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text        string
	voicePreset string
	output      string
	chunks      string
	server      string
	health      bool
	timeout     time.Duration
	workers     int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)

	stop()

	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags appFlags

	cmd := &cobra.Command{
		Use:           "tts-client",
		Short:         "Convert text to speech with a running speech service",
		Example:       "tts-client --text \"Hello, world!\" --output hello.wav",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.text, flagText, "", flagTextDesc)
	cmd.Flags().StringVar(&flags.voicePreset, flagVoicePreset, "", flagVoicePresetDesc)
	cmd.Flags().StringVarP(&flags.output, flagOutput, "o", "", flagOutputDesc)
	cmd.Flags().StringVar(&flags.chunks, flagChunks, "", flagChunksDesc)
	cmd.Flags().StringVar(&flags.server, flagServer, defaultServerURL, flagServerDesc)
	cmd.Flags().BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	cmd.Flags().DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	cmd.Flags().IntVar(&flags.workers, flagWorkers, 1, flagWorkersDesc)
	cmd.MarkFlagsMutuallyExclusive(flagText, flagChunks)

	return cmd
}

// run dispatches to the health check or to synthesis.
func run(ctx context.Context, out io.Writer, flags appFlags) error {
	client := newServiceClient(flags.server, flags.timeout)

	if flags.health {
		err := client.health(ctx)
		if err != nil {
			return fmt.Errorf("speech service is not healthy: %w", err)
		}

		_, _ = fmt.Fprintln(out, msgServiceHealthy)

		return nil
	}

	switch {
	case flags.text != "" && flags.chunks != "":
		return errCannotSpecifyBoth
	case flags.text != "":
		return processSingleText(ctx, out, client, flags)
	case flags.chunks != "":
		return processChunks(ctx, out, client, flags)
	default:
		return errEitherTextOrChunks
	}
}

// processSingleText converts one text string into one WAV file.
func processSingleText(ctx context.Context, out io.Writer, client *serviceClient, flags appFlags) error {
	outputPath := flags.output
	if outputPath == "" {
		outputPath = defaultOutputFile
	}

	wavData, err := client.synthesize(ctx, core.SpeechRequest{Text: flags.text, VoicePreset: flags.voicePreset})
	if err != nil {
		return err
	}

	err = writeFile(outputPath, wavData)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, msgGenerated, outputPath, humanize.Bytes(uint64(len(wavData))))

	return nil
}

// processChunks converts every chunk of a JSON array into its own WAV file,
// running at most flags.workers requests at a time. A failed chunk does not
// stop the others.
func processChunks(ctx context.Context, out io.Writer, client *serviceClient, flags appFlags) error {
	chunks, err := readChunks(flags.chunks)
	if err != nil {
		return err
	}

	outputDir := flags.output
	if outputDir == "" {
		outputDir = "."
	}

	err = os.MkdirAll(outputDir, outputDirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create output directory '%s': %w", outputDir, err)
	}

	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		total     uint64
		failures  []error
	)

	workerPool := make(chan struct{}, max(flags.workers, 1))

	for chunkIndex, chunk := range chunks {
		waitGroup.Add(1)

		go func(index int, text string) {
			defer waitGroup.Done()

			workerPool <- struct{}{}

			defer func() { <-workerPool }()

			size, chunkErr := processChunk(ctx, client, flags.voicePreset, text,
				filepath.Join(outputDir, fmt.Sprintf(chunkFileFormat, index)))

			mutex.Lock()
			defer mutex.Unlock()

			if chunkErr != nil {
				failures = append(failures, fmt.Errorf("chunk %d: %w", index, chunkErr))

				return
			}

			total += size
		}(chunkIndex, chunk)
	}

	waitGroup.Wait()

	if len(failures) > 0 {
		return errors.Join(failures...)
	}

	_, _ = fmt.Fprintf(out, msgGeneratedChunks, len(chunks), humanize.Bytes(total), outputDir)

	return nil
}

func processChunk(ctx context.Context, client *serviceClient, voicePreset, text, outputPath string) (uint64, error) {
	wavData, err := client.synthesize(ctx, core.SpeechRequest{Text: text, VoicePreset: voicePreset})
	if err != nil {
		return 0, err
	}

	err = writeFile(outputPath, wavData)
	if err != nil {
		return 0, err
	}

	return uint64(len(wavData)), nil
}

func readChunks(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks file '%s': %w", path, err)
	}

	var chunks []string

	err = json.Unmarshal(data, &chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chunks file '%s': %w", path, err)
	}

	if len(chunks) == 0 {
		return nil, errNoChunks
	}

	return chunks, nil
}

func writeFile(path string, data []byte) error {
	err := os.WriteFile(path, data, outputFilePermissions)
	if err != nil {
		return fmt.Errorf("failed to write '%s': %w", path, err)
	}

	return nil
}
