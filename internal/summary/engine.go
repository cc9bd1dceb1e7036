// Package summary composes monthly and yearly digests of memory records.
//
// A language model writes the narrative part; when it is unavailable the
// engine falls back to a deterministic listing built only from the records.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"memoria/pkg/memoria"
)

const (
	defaultMonthlyMaxOutputTokens = 800
	defaultYearlyMaxOutputTokens  = 1000
	defaultTemperature            = 0.8
	// DefaultPromptBudget bounds the characters of record text sent in one prompt.
	DefaultPromptBudget = 24000
)

// Settings selects the model, sampling and prompt bounds.
type Settings struct {
	Model                  string
	MonthlyMaxOutputTokens int
	YearlyMaxOutputTokens  int
	Temperature            float64
	// Timeout bounds one provider call. Zero leaves the caller deadline in charge.
	Timeout time.Duration
	// PromptBudget bounds the record text included in a monthly prompt.
	PromptBudget int
}

// Engine renders period digests.
type Engine struct {
	provider memoria.LLMProvider
	settings Settings
	logger   *slog.Logger
}

// Option mutates engine construction settings.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates one summary engine. A nil provider always uses the fallback digest.
func New(provider memoria.LLMProvider, settings Settings, opts ...Option) *Engine {
	if settings.MonthlyMaxOutputTokens <= 0 {
		settings.MonthlyMaxOutputTokens = defaultMonthlyMaxOutputTokens
	}
	if settings.YearlyMaxOutputTokens <= 0 {
		settings.YearlyMaxOutputTokens = defaultYearlyMaxOutputTokens
	}
	if settings.Temperature <= 0 {
		settings.Temperature = defaultTemperature
	}
	if settings.PromptBudget <= 0 {
		settings.PromptBudget = DefaultPromptBudget
	}

	engine := &Engine{provider: provider, settings: settings, logger: slog.Default()}
	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// SummarizePeriod renders the digest for period.
func (e *Engine) SummarizePeriod(ctx context.Context, records []memoria.MemoryRecord, period memoria.Period) string {
	if period.IsYear() {
		return e.summarizeYear(ctx, records, period.Year)
	}

	return e.summarizeMonth(ctx, records, period.Year, period.Month)
}

func (e *Engine) summarizeMonth(ctx context.Context, records []memoria.MemoryRecord, year, month int) string {
	if len(records) == 0 {
		return EmptyMonth(year, month)
	}

	lines := make([]string, 0, len(records))
	used := 0
	for _, record := range records {
		line := fmt.Sprintf("[%s] %s", record.TimestampText(), record.EnhancedText)
		used += utf8.RuneCountInString(line)
		if used > e.settings.PromptBudget && len(lines) > 0 {
			break
		}
		lines = append(lines, line)
	}
	if len(lines) < len(records) {
		e.logger.InfoContext(ctx, "monthly prompt truncated",
			"records", len(records),
			"included", len(lines),
		)
	}

	narrative, err := e.generate(ctx, monthlyPrompt(year, month, lines), e.settings.MonthlyMaxOutputTokens)
	if err != nil {
		e.logger.WarnContext(ctx, "monthly summary fell back to listing",
			"month_key", memoria.FormatMonthKey(year, month),
			"error", err,
		)
		return FallbackMonth(year, month, records)
	}

	return renderMonthly(year, month, records, narrative)
}

func (e *Engine) summarizeYear(ctx context.Context, records []memoria.MemoryRecord, year int) string {
	if len(records) == 0 {
		return EmptyYear(year)
	}

	groups := groupByMonth(records)
	highlights := make([]string, 0, len(groups))
	for _, group := range groups {
		highlights = append(highlights, fmt.Sprintf("%s: %s",
			MonthName(group.month), truncate(Highlight(group.records).EnhancedText, yearlyHighlightRunes)))
	}

	narrative, err := e.generate(ctx, yearlyPrompt(year, highlights, len(records), len(groups)), e.settings.YearlyMaxOutputTokens)
	if err != nil {
		e.logger.WarnContext(ctx, "yearly summary fell back to listing",
			"year", year,
			"error", err,
		)
		return FallbackYear(year, records)
	}

	return renderYearly(year, len(records), groups, narrative)
}

func (e *Engine) generate(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	if e.provider == nil {
		return "", fmt.Errorf("generate summary: %w", memoria.ErrNotConfigured)
	}
	if e.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.settings.Timeout)
		defer cancel()
	}

	text, err := memoria.GenerateText(ctx, e.provider, memoria.LLMGenerateRequest{
		Model:           e.settings.Model,
		Messages:        []memoria.LLMMessage{{Role: memoria.LLMMessageRoleUser, Content: prompt}},
		MaxOutputTokens: maxOutputTokens,
		Temperature:     e.settings.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("generate summary: empty completion")
	}

	return text, nil
}

// Highlight returns the record with the longest enhanced text; the earliest wins ties.
func Highlight(records []memoria.MemoryRecord) memoria.MemoryRecord {
	var (
		best       memoria.MemoryRecord
		bestLength = -1
	)
	for _, record := range records {
		if length := utf8.RuneCountInString(record.EnhancedText); length > bestLength {
			best, bestLength = record, length
		}
	}

	return best
}

type monthGroup struct {
	key     string
	label   string
	month   int
	records []memoria.MemoryRecord
}

// groupByMonth groups records by month key in ascending key order. Records
// without a key are skipped.
func groupByMonth(records []memoria.MemoryRecord) []monthGroup {
	index := make(map[string]int)
	groups := make([]monthGroup, 0, 12)
	for _, record := range records {
		key := strings.TrimSpace(record.MonthKey)
		if key == "" {
			continue
		}
		position, exists := index[key]
		if !exists {
			label, month := parseMonthKey(key)
			position = len(groups)
			index[key] = position
			groups = append(groups, monthGroup{key: key, label: label, month: month})
		}
		groups[position].records = append(groups[position].records, record)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].key < groups[j].key
	})

	return groups
}

// parseMonthKey returns the text after the dash and its numeric value.
// Keys without a dash, or with a non-numeric month, map to month 1.
func parseMonthKey(key string) (string, int) {
	_, label, found := strings.Cut(key, "-")
	if !found {
		return key, 1
	}
	month, err := strconv.Atoi(label)
	if err != nil {
		return label, 1
	}

	return label, month
}

var _ memoria.Summarizer = (*Engine)(nil)
