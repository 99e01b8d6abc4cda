// main package for the tts-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/audio"
	"github.com/book-expert/speech-service/internal/config"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/metrics"
	"github.com/book-expert/speech-service/internal/model"
	"github.com/book-expert/speech-service/internal/objectstore"
	"github.com/book-expert/speech-service/internal/server"
	"github.com/book-expert/speech-service/internal/speech"
	"github.com/book-expert/speech-service/internal/text"
	"github.com/book-expert/speech-service/internal/voice"
	"github.com/book-expert/speech-service/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
)

const (
	bootstrapLogFile = "tts-service-bootstrap.log"
	serviceLogFile   = "tts-service.log"
	natsClientName   = "tts-service"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// messaging holds the optional NATS pieces.
type messaging struct {
	conn  *nats.Conn
	store *objectstore.NatsObjectStore
}

func connectNATS(cfg *config.Config, log *logger.Logger) (*messaging, error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(natsClientName))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	log.Info("Connected to NATS at %s, object store bucket: %s", cfg.NATS.URL, store.Bucket())

	return &messaging{conn: natsConnection, store: store}, nil
}

func buildService(
	cfg *config.Config,
	catalog *voice.Catalog,
	archive core.ObjectStore,
	collector *metrics.Metrics,
	log *logger.Logger,
) (*speech.Service, error) {
	synthesizer, err := model.New(cfg, catalog, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesizer: %w", err)
	}

	encoder, err := audio.NewEncoder(cfg.Audio.BitDepth, cfg.Audio.TempDir, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV encoder: %w", err)
	}

	deps := speech.Dependencies{
		Synthesizer:        synthesizer,
		Catalog:            catalog,
		Encoder:            encoder,
		Normalizer:         nil,
		Archive:            archive,
		Recorder:           collector,
		MaxTextLength:      cfg.Server.MaxTextLength,
		Timeout:            cfg.ModelTimeout(),
		DefaultVoicePreset: cfg.Model.DefaultVoicePreset,
	}

	if cfg.Model.NormalizeText {
		deps.Normalizer = text.NewNormalizer(text.Options{SpellNumbers: cfg.Model.SpellNumbers})
	}

	return speech.NewService(deps, log)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	catalog, err := voice.Load(cfg.Model.VoicesFile)
	if err != nil {
		return fmt.Errorf("failed to load voice presets: %w", err)
	}

	var (
		bus     *messaging
		archive core.ObjectStore
	)

	if cfg.NATSEnabled() {
		bus, err = connectNATS(cfg, log)
		if err != nil {
			return err
		}
		defer bus.conn.Close()

		if cfg.NATS.ArchiveHTTPAudio {
			archive = bus.store
		}
	}

	collector := metrics.New()

	service, err := buildService(cfg, catalog, archive, collector, log)
	if err != nil {
		return err
	}

	readyErr := service.Ready(ctx)
	if readyErr != nil {
		log.Warn("Model backend is not ready yet: %v", readyErr)
	}

	gin.SetMode(gin.ReleaseMode)

	httpServer, err := server.New(cfg.Server, service, collector, log)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	running := 1

	go func() {
		errs <- httpServer.Run(ctx)
	}()

	if bus != nil {
		natsWorker := worker.NewNatsWorker(
			bus.conn,
			worker.Subjects{Request: cfg.NATS.RequestSubject, AudioChunkCreated: cfg.NATS.AudioChunkCreatedSubject},
			bus.store,
			service,
			cfg.ModelTimeout(),
			log,
		)
		running++

		go func() {
			errs <- natsWorker.Run(ctx)
		}()
	}

	info := service.Info()
	log.System("TTS-Service initialized with %s (%s, %s backend)", info.Name, info.Variant, info.Backend)

	var runErr error

	for range running {
		err := <-errs
		if err != nil && runErr == nil {
			runErr = err

			log.Error("Shutting down after error: %v", err)
			cancel()
		}
	}

	return runErr
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() {
		_ = bootstrapLog.Close()
	}()

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	// 4. Serve until SIGINT or SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = serve(ctx, cfg, finalLog)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	finalLog.System("TTS-Service stopped.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
