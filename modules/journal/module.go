// Package journal turns voice messages into memory records.
//
// Each voice message runs one pipeline: download, transcribe, refine, persist
// and report. A single status message is edited in place as the pipeline
// advances. Transcription fails closed and refinement fails open; a store
// failure still shows both texts to the user as a backup.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"memoria/pkg/memoria"
)

const (
	defaultWorkers = 4
	defaultBuffer  = 32
)

// Option mutates module construction settings.
type Option func(*Module)

// WithLogger sets the module logger. A logger registered under
// memoria.ServiceLogger takes precedence.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Module) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithWorkers sets how many voice messages are processed concurrently.
func WithWorkers(workers int) Option {
	return func(m *Module) {
		if workers > 0 {
			m.workers = workers
		}
	}
}

// Module runs the voice-message pipeline.
type Module struct {
	dispatcher  memoria.SinkDispatcher
	downloader  memoria.MediaDownloader
	transcriber memoria.Transcriber
	refiner     memoria.Refiner
	store       memoria.MemoryStore
	clock       memoria.Clock
	metrics     memoria.PipelineMetrics

	logger  *slog.Logger
	workers int
	now     func() time.Time
}

// New creates a journal module.
func New(opts ...Option) *Module {
	module := &Module{
		logger:  slog.Default(),
		workers: defaultWorkers,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "journal"
}

// Capabilities declares the voice pipeline and the plain-text hint.
func (m *Module) Capabilities() []memoria.Capability {
	return []memoria.Capability{
		{
			Name:        "voice-pipeline",
			Description: "transcribes, refines and stores voice messages",
			Interest:    voiceInterest(),
			RequiredServices: []string{
				memoria.ServiceSinkDispatcher,
				memoria.ServiceMediaDownloader,
				memoria.ServiceTranscriber,
				memoria.ServiceRefiner,
				memoria.ServiceMemoryStore,
				memoria.ServiceClock,
			},
		},
		{
			Name:        "voice-only-hint",
			Description: "answers plain text messages with a voice-only hint",
			Interest:    textInterest(),
			RequiredServices: []string{
				memoria.ServiceSinkDispatcher,
			},
		},
	}
}

// OnRegister resolves dependencies and subscribes both handlers.
func (m *Module) OnRegister(ctx context.Context, runtime memoria.ModuleRuntime) error {
	services := runtime.Services()

	logger, err := memoria.ResolveAs[*slog.Logger](services, memoria.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger
	case errors.Is(err, memoria.ErrServiceNotFound):
	default:
		return fmt.Errorf("journal resolve logger: %w", err)
	}
	metrics, err := memoria.ResolveAs[memoria.PipelineMetrics](services, memoria.ServicePipelineMetrics)
	switch {
	case err == nil:
		m.metrics = metrics
	case errors.Is(err, memoria.ErrServiceNotFound):
	default:
		return fmt.Errorf("journal resolve metrics: %w", err)
	}

	if m.dispatcher, err = memoria.ResolveAs[memoria.SinkDispatcher](services, memoria.ServiceSinkDispatcher); err != nil {
		return fmt.Errorf("journal resolve outbound dispatcher: %w", err)
	}
	if m.downloader, err = memoria.ResolveAs[memoria.MediaDownloader](services, memoria.ServiceMediaDownloader); err != nil {
		return fmt.Errorf("journal resolve media downloader: %w", err)
	}
	if m.transcriber, err = memoria.ResolveAs[memoria.Transcriber](services, memoria.ServiceTranscriber); err != nil {
		return fmt.Errorf("journal resolve transcriber: %w", err)
	}
	if m.refiner, err = memoria.ResolveAs[memoria.Refiner](services, memoria.ServiceRefiner); err != nil {
		return fmt.Errorf("journal resolve refiner: %w", err)
	}
	if m.store, err = memoria.ResolveAs[memoria.MemoryStore](services, memoria.ServiceMemoryStore); err != nil {
		return fmt.Errorf("journal resolve memory store: %w", err)
	}
	if m.clock, err = memoria.ResolveAs[memoria.Clock](services, memoria.ServiceClock); err != nil {
		return fmt.Errorf("journal resolve clock: %w", err)
	}

	if _, err := runtime.Subscribe(ctx, memoria.SubscriptionSpec{
		Name:           "journal-voice",
		Filter:         voiceInterest(),
		Buffer:         defaultBuffer,
		Workers:        m.workers,
		HandlerTimeout: -1,
		Backpressure:   memoria.BackpressureBlock,
	}, m.handleVoice); err != nil {
		return fmt.Errorf("journal subscribe voice: %w", err)
	}
	if _, err := runtime.Subscribe(ctx, memoria.SubscriptionSpec{
		Name:   "journal-text",
		Filter: textInterest(),
	}, m.handleText); err != nil {
		return fmt.Errorf("journal subscribe text: %w", err)
	}

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func voiceInterest() memoria.InterestSet {
	return memoria.InterestSet{
		Kinds:      []memoria.EventKind{memoria.EventKindMessageCreated},
		MediaTypes: []memoria.MediaType{memoria.MediaTypeVoice, memoria.MediaTypeAudio},
	}
}

func textInterest() memoria.InterestSet {
	return memoria.InterestSet{
		Kinds:     []memoria.EventKind{memoria.EventKindMessageCreated},
		PlainText: true,
	}
}

func (m *Module) handleText(ctx context.Context, event *memoria.Event) error {
	if event == nil || event.Message == nil {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("journal handle text: outbound dispatcher not configured")
	}

	target, err := memoria.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("journal derive outbound target: %w", err)
	}
	if _, err := m.dispatcher.SendMessage(ctx, memoria.SendMessageRequest{
		Target:           target,
		Text:             textVoiceOnly,
		ReplyToMessageID: event.Message.ID,
	}); err != nil {
		return fmt.Errorf("journal send voice-only hint: %w", err)
	}

	return nil
}

var _ memoria.Module = (*Module)(nil)
