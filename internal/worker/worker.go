// Package worker provides a NATS worker that synthesizes text stored in the
// object store.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/speech-service/internal/core"
	"github.com/book-expert/speech-service/internal/speech"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	queueGroup        = "speech-service"
	audioKeySuffix    = ".wav"
	drainPollInterval = 20 * time.Millisecond
	flushTimeout      = 5 * time.Second
)

var (
	// ErrTextKeyEmpty indicates an event without a text object key.
	ErrTextKeyEmpty = errors.New("event text key cannot be empty")
	// ErrWorkflowIDEmpty indicates an event without a workflow ID.
	ErrWorkflowIDEmpty = errors.New("event workflow ID cannot be empty")
	// ErrDrainTimeout indicates that queued jobs outlived the shutdown window.
	ErrDrainTimeout = errors.New("timed out draining synthesis jobs")
)

// Renderer produces WAV audio for a request.
type Renderer interface {
	Render(ctx context.Context, request core.SpeechRequest) (*speech.Result, error)
}

// Subjects names the subjects the worker uses.
type Subjects struct {
	Request           string
	AudioChunkCreated string
}

// NatsWorker listens for synthesis jobs on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	store          core.ObjectStore
	renderer       Renderer
	timeout        time.Duration
	log            *logger.Logger
	inFlight       sync.WaitGroup
}

// NewNatsWorker creates a new instance of a NATS worker. timeout bounds the
// handling of a single message.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects Subjects,
	store core.ObjectStore,
	renderer Renderer,
	timeout time.Duration,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		store:          store,
		renderer:       renderer,
		timeout:        timeout,
		log:            log,
	}
}

// Run starts the worker and blocks until ctx is cancelled. Several workers
// share the load through a queue group.
//
// On cancellation the subscription is drained: no new jobs are accepted,
// buffered jobs still run, and Run returns only after every handler has
// uploaded its audio and flushed its reply.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.subjects.Request, queueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subjects.Request, err)
	}

	w.log.System("Listening for synthesis jobs on subject: %s", w.subjects.Request)

	<-ctx.Done()

	w.log.System("Draining synthesis jobs on subject: %s", w.subjects.Request)

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	waitErr := w.waitForDrain(sub)

	// The drain completes once the last message is dequeued, which can be
	// before its handler returns.
	w.inFlight.Wait()

	flushErr := w.natsConnection.FlushTimeout(flushTimeout)
	if flushErr != nil && !errors.Is(flushErr, nats.ErrConnectionClosed) {
		return fmt.Errorf("failed to flush replies: %w", flushErr)
	}

	return waitErr
}

// waitForDrain blocks until the subscription has delivered its buffered
// messages and been removed from the connection.
func (w *NatsWorker) waitForDrain(sub *nats.Subscription) error {
	deadline := time.Now().Add(w.timeout + flushTimeout)

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for sub.IsValid() {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w on subject %s", ErrDrainTimeout, w.subjects.Request)
		}

		<-ticker.C
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	w.inFlight.Add(1)
	defer w.inFlight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	event, err := parseAndValidateEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	audioKey, err := w.processJob(ctx, event)
	if err != nil {
		w.log.Error("Failed to process synthesis job for workflow %s: %v", event.Header.WorkflowID, err)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: event.Header.WorkflowID,
			EventID:    uuid.NewString(),
			UserID:     event.Header.UserID,
			TenantID:   event.Header.TenantID,
		},
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishResult(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish audio event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processJob downloads the text, synthesizes it and uploads the audio.
func (w *NatsWorker) processJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	result, err := w.renderer.Render(ctx, core.SpeechRequest{
		Text:        string(textData),
		VoicePreset: event.Voice,
	})
	if err != nil {
		return "", fmt.Errorf("failed to synthesize text '%s': %w", event.TextKey, err)
	}

	audioKey := uuid.NewString() + audioKeySuffix

	err = w.store.Upload(ctx, audioKey, result.WAV)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	w.log.Info("Workflow %s page %d/%d: stored %s as '%s'",
		event.Header.WorkflowID, event.PageNumber, event.TotalPages,
		humanize.Bytes(uint64(len(result.WAV))), audioKey)

	return audioKey, nil
}

// publishResult answers a request when it has a reply subject and otherwise
// publishes on the audio subject.
func (w *NatsWorker) publishResult(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	if msg.Reply != "" {
		err = msg.Respond(replyData)
		if err != nil {
			return fmt.Errorf("failed to respond with audio event: %w", err)
		}

		return nil
	}

	err = w.natsConnection.Publish(w.subjects.AudioChunkCreated, replyData)
	if err != nil {
		return fmt.Errorf("failed to publish audio event on %s: %w", w.subjects.AudioChunkCreated, err)
	}

	return nil
}

func parseAndValidateEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.Header.WorkflowID == "" {
		return nil, ErrWorkflowIDEmpty
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	return &event, nil
}
