// Package digest answers the monthly and yearly summary commands.
package digest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"memoria/modules/internal/progress"
	"memoria/pkg/memoria"
)

const (
	monthCommandName = "monats_zusammenfassung"
	yearCommandName  = "jahres_zusammenfassung"

	periodMonth = "month"
	periodYear  = "year"

	// maxMessageRunes keeps one chunk below the platform message limit even
	// when every rune needs two UTF-16 units.
	maxMessageRunes = 2000
)

// request holds the user-facing texts of one summary kind.
type request struct {
	period       string
	started      string
	fetching     string
	summarizing  string
	failed       string
	invalidUsage string
	parse        func(args string, now time.Time) (memoria.Period, error)
}

var requests = map[string]request{
	monthCommandName: {
		period:       periodMonth,
		started:      "📊 Erstelle intelligente Monats-Zusammenfassung...",
		fetching:     "📥 Lade Erinnerungen des Monats...",
		summarizing:  "🤖 Erstelle KI-Zusammenfassung...",
		failed:       "❌ Fehler beim Erstellen der Monats-Zusammenfassung.",
		invalidUsage: "⚠️ Ungültiger Monat. Beispiel: /monats_zusammenfassung 2024-03",
		parse:        parseMonthPeriod,
	},
	yearCommandName: {
		period:       periodYear,
		started:      "📊 Erstelle intelligente Jahres-Zusammenfassung...",
		fetching:     "📥 Lade alle Erinnerungen des Jahres...",
		summarizing:  "🤖 Erstelle umfassende KI-Jahres-Zusammenfassung...",
		failed:       "❌ Fehler beim Erstellen der Jahres-Zusammenfassung.",
		invalidUsage: "⚠️ Ungültiges Jahr. Beispiel: /jahres_zusammenfassung 2024",
		parse:        parseYearPeriod,
	},
}

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

// Module renders period summaries on request.
type Module struct {
	dispatcher memoria.SinkDispatcher
	store      memoria.MemoryStore
	summarizer memoria.Summarizer
	clock      memoria.Clock
	metrics    memoria.PipelineMetrics
	logger     *slog.Logger
}

// New creates a digest module.
func New(opts ...Option) *Module {
	module := &Module{logger: slog.Default()}
	for _, opt := range opts {
		opt(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "digest"
}

// Capabilities declares interest in the summary commands.
func (m *Module) Capabilities() []memoria.Capability {
	return []memoria.Capability{
		{
			Name:        "period-summary",
			Description: "summarizes the memories of one month or year",
			Interest:    commandInterest(),
			RequiredServices: []string{
				memoria.ServiceSinkDispatcher,
				memoria.ServiceMemoryStore,
				memoria.ServiceSummarizer,
				memoria.ServiceClock,
			},
		},
	}
}

// OnRegister resolves dependencies and subscribes to summary commands.
func (m *Module) OnRegister(ctx context.Context, runtime memoria.ModuleRuntime) error {
	services := runtime.Services()

	logger, err := memoria.ResolveAs[*slog.Logger](services, memoria.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger
	case errors.Is(err, memoria.ErrServiceNotFound):
	default:
		return fmt.Errorf("digest resolve logger: %w", err)
	}
	metrics, err := memoria.ResolveAs[memoria.PipelineMetrics](services, memoria.ServicePipelineMetrics)
	switch {
	case err == nil:
		m.metrics = metrics
	case errors.Is(err, memoria.ErrServiceNotFound):
	default:
		return fmt.Errorf("digest resolve metrics: %w", err)
	}

	if m.dispatcher, err = memoria.ResolveAs[memoria.SinkDispatcher](services, memoria.ServiceSinkDispatcher); err != nil {
		return fmt.Errorf("digest resolve outbound dispatcher: %w", err)
	}
	if m.store, err = memoria.ResolveAs[memoria.MemoryStore](services, memoria.ServiceMemoryStore); err != nil {
		return fmt.Errorf("digest resolve memory store: %w", err)
	}
	if m.summarizer, err = memoria.ResolveAs[memoria.Summarizer](services, memoria.ServiceSummarizer); err != nil {
		return fmt.Errorf("digest resolve summarizer: %w", err)
	}
	if m.clock, err = memoria.ResolveAs[memoria.Clock](services, memoria.ServiceClock); err != nil {
		return fmt.Errorf("digest resolve clock: %w", err)
	}

	if _, err := runtime.Subscribe(ctx, memoria.SubscriptionSpec{
		Name:           "digest-commands",
		Filter:         commandInterest(),
		Workers:        2,
		HandlerTimeout: -1,
	}, m.handleCommand); err != nil {
		return fmt.Errorf("digest subscribe: %w", err)
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

func commandInterest() memoria.InterestSet {
	return memoria.InterestSet{
		Kinds:    []memoria.EventKind{memoria.EventKindMessageCreated},
		Commands: []string{monthCommandName, yearCommandName},
	}
}

func (m *Module) handleCommand(ctx context.Context, event *memoria.Event) error {
	command, ok := memoria.CommandFromEvent(event)
	if !ok {
		return nil
	}
	req, ok := requests[command.Name]
	if !ok {
		return nil
	}
	if m.dispatcher == nil {
		return fmt.Errorf("digest handle command: outbound dispatcher not configured")
	}
	target, err := memoria.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("digest derive outbound target: %w", err)
	}

	logger := m.logger.With(
		"conversation_id", event.Conversation.ID,
		"command", command.Name,
	)
	status := progress.New(m.dispatcher, target, event.Message.ID, logger)

	period, err := req.parse(command.Args, m.clock.Now())
	if err != nil {
		logger.InfoContext(ctx, "invalid summary period", "error", err)
		if err := status.Follow(ctx, progress.Plain(req.invalidUsage)); err != nil {
			return fmt.Errorf("digest send usage: %w", err)
		}
		return nil
	}

	err = recoverSummary(func() error {
		return m.summarize(ctx, req, period, status)
	})
	outcome := memoria.OutcomeSuccess
	if err != nil {
		outcome = memoria.OutcomeFailure
		logger.ErrorContext(ctx, "summary failed",
			"outcome", outcome,
			"operator", memoria.NeedsOperator(err),
			"error", err,
		)
		if reportErr := status.Report(ctx, progress.Plain(req.failed)); reportErr != nil {
			logger.ErrorContext(ctx, "failure report not delivered", "error", reportErr)
		}
	} else {
		logger.InfoContext(ctx, "summary delivered", "outcome", outcome)
	}
	if m.metrics != nil {
		m.metrics.ObserveSummary(req.period, outcome)
	}

	return nil
}

func (m *Module) summarize(
	ctx context.Context,
	req request,
	period memoria.Period,
	status *progress.Message,
) error {
	if err := status.Start(ctx, req.started); err != nil {
		return err
	}

	status.Step(ctx, req.fetching)
	var (
		records []memoria.MemoryRecord
		err     error
	)
	if period.IsYear() {
		records, err = m.store.QueryByYear(ctx, period.Year)
	} else {
		records, err = m.store.QueryByMonth(ctx, period.Year, period.Month)
	}
	if err != nil {
		return fmt.Errorf("fetch records: %w", err)
	}

	status.Step(ctx, req.summarizing)
	digest := m.summarizer.SummarizePeriod(ctx, records, period)

	chunks := splitMessage(digest, maxMessageRunes)
	for index, chunk := range chunks {
		var body memoria.RichText
		body.Markup(chunk)
		if index == 0 {
			err = status.Report(ctx, &body)
		} else {
			err = status.Follow(ctx, &body)
		}
		if err != nil {
			return fmt.Errorf("deliver summary part %d/%d: %w", index+1, len(chunks), err)
		}
	}

	return nil
}

// recoverSummary converts a panic inside fn into an error.
func recoverSummary(fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("summary: panic recovered: %v", recovered)
		}
	}()

	return fn()
}

var _ memoria.Module = (*Module)(nil)
