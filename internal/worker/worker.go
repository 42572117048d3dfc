// Package worker provides the NATS consumer that turns page-text events into
// synthesized audio chunks.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/textproc"
	"github.com/book-expert/voiceclone-service/internal/transcode"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Synthesis of a long page on CPU can take a while, so the per-message budget
// is generous.
const handleMessageTimeout = 5 * time.Minute

var (
	// ErrNoVoice indicates the event named no voice and no default is configured.
	ErrNoVoice = errors.New("no voice requested and no default voice configured")
	// ErrEmptyPageText indicates the downloaded page contained no usable text.
	ErrEmptyPageText = errors.New("page text is empty after normalization")
)

// Worker subscribes to text-processed events and replies with
// audio-chunk-created events once synthesis completes.
type Worker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	voices         core.VoiceService
	normalizer     *textproc.Normalizer
	defaultVoice   string
	language       string
	log            *logger.Logger
}

// New creates a worker bound to the given subject. defaultVoice is used when
// an event does not name one; language applies to every synthesis.
func New(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	voices core.VoiceService,
	defaultVoice, language string,
	log *logger.Logger,
) *Worker {
	return &Worker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		voices:         voices,
		normalizer:     textproc.NewNormalizer(),
		defaultVoice:   defaultVoice,
		language:       language,
		log:            log,
	}
}

// Run subscribes and blocks until ctx is cancelled, then drains the
// subscription so in-flight messages finish.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Worker listening on subject %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *Worker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal event: %v", err)

		return
	}

	audioKey, err := w.synthesizePage(ctx, &event)
	if err != nil {
		w.log.Error("Failed to synthesize page %d for workflow %s: %v",
			event.PageNumber, event.Header.WorkflowID, err)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.publishReply(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// synthesizePage downloads the page text, synthesizes it with the requested
// voice and uploads the WAV-encoded result, returning the new object key.
func (w *Worker) synthesizePage(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	voiceName := event.Voice
	if voiceName == "" {
		voiceName = w.defaultVoice
	}

	if voiceName == "" {
		return "", ErrNoVoice
	}

	rawText, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text for key '%s': %w", event.TextKey, err)
	}

	text, err := w.normalizer.Normalize(string(rawText))
	if err != nil {
		return "", fmt.Errorf("failed to normalize page text: %w", err)
	}

	if text == "" {
		return "", fmt.Errorf("%w: key '%s'", ErrEmptyPageText, event.TextKey)
	}

	speech, err := w.voices.Synthesize(ctx, text, voiceName, w.language)
	if err != nil {
		return "", fmt.Errorf("synthesis failed for voice '%s': %w", voiceName, err)
	}

	audioKey := uuid.NewString() + ".wav"

	err = w.store.Upload(ctx, audioKey, transcode.EncodeWAV(speech))
	if err != nil {
		return "", fmt.Errorf("failed to upload audio for key '%s': %w", audioKey, err)
	}

	return audioKey, nil
}

func (w *Worker) publishReply(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}
