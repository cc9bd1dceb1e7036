// Package refine rewrites raw transcripts into warm narrative text.
//
// Refinement is fail-open: every provider error or degenerate completion
// yields the input unchanged, so capture never depends on it.
package refine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"memoria/pkg/memoria"
)

const (
	// DefaultMinTextLength is the shortest completion, in characters, accepted as a rewrite.
	DefaultMinTextLength = 10

	defaultMaxOutputTokens = 800
	defaultTemperature     = 0.7
)

const promptTemplate = `Du bist ein liebevoller Assistent, der dabei hilft, Erinnerungen an eine Tochter schön und herzlich zu formulieren.

AUFGABE: Verbessere den folgenden Text, der aus einer Sprachnachricht eines Elternteils transkribiert wurde.

REGELN:
- Korrigiere Grammatik und Rechtschreibung
- Mache den Text stilistisch schöner und emotionaler
- Behalte ALLE wichtigen Details und Fakten bei
- Schreibe in der Ich-Form (als Elternteil)
- Füge keine neuen Informationen hinzu
- Mache den Text warm und liebevoll
- Verwende eine natürliche, erzählende Sprache

ORIGINAL TEXT:
"%s"

VERBESSERTE VERSION:`

// Settings selects the model and sampling for rewrites.
type Settings struct {
	Model           string
	MaxOutputTokens int
	Temperature     float64
	// Timeout bounds one provider call. Zero leaves the caller deadline in charge.
	Timeout time.Duration
}

// Refiner rewrites transcripts through one LLM provider.
type Refiner struct {
	provider      memoria.LLMProvider
	settings      Settings
	minTextLength int
	logger        *slog.Logger
}

// Option mutates refiner construction settings.
type Option func(*Refiner)

// WithLogger sets the refiner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Refiner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMinTextLength overrides the shortest accepted completion.
func WithMinTextLength(minTextLength int) Option {
	return func(r *Refiner) {
		if minTextLength > 0 {
			r.minTextLength = minTextLength
		}
	}
}

// New creates one refiner. A nil provider produces a refiner that always
// returns its input.
func New(provider memoria.LLMProvider, settings Settings, opts ...Option) *Refiner {
	if settings.MaxOutputTokens <= 0 {
		settings.MaxOutputTokens = defaultMaxOutputTokens
	}
	if settings.Temperature <= 0 {
		settings.Temperature = defaultTemperature
	}

	refiner := &Refiner{
		provider:      provider,
		settings:      settings,
		minTextLength: DefaultMinTextLength,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(refiner)
	}

	return refiner
}

// Refine returns the rewritten text, or text itself on any failure.
func (r *Refiner) Refine(ctx context.Context, text string) string {
	if r == nil || r.provider == nil || strings.TrimSpace(text) == "" {
		return text
	}

	if r.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.settings.Timeout)
		defer cancel()
	}

	completion, err := memoria.GenerateText(ctx, r.provider, memoria.LLMGenerateRequest{
		Model: r.settings.Model,
		Messages: []memoria.LLMMessage{
			{Role: memoria.LLMMessageRoleUser, Content: Prompt(text)},
		},
		MaxOutputTokens: r.settings.MaxOutputTokens,
		Temperature:     r.settings.Temperature,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "refinement failed, keeping transcript", "error", err)
		return text
	}

	refined := StripQuotes(completion)
	if utf8.RuneCountInString(refined) < r.minTextLength {
		r.logger.WarnContext(ctx, "refinement too short, keeping transcript",
			"refined_chars", utf8.RuneCountInString(refined),
		)
		return text
	}

	r.logger.DebugContext(ctx, "refinement done",
		"original_chars", utf8.RuneCountInString(text),
		"refined_chars", utf8.RuneCountInString(refined),
	)

	return refined
}

// Prompt renders the rewrite instruction for one transcript.
func Prompt(text string) string {
	return fmt.Sprintf(promptTemplate, text)
}

var quotePairs = [][2]rune{
	{'"', '"'},
	{'\'', '\''},
	{'„', '“'},
	{'“', '”'},
	{'«', '»'},
}

// StripQuotes trims surrounding space and removes exactly one layer of
// matching quotation marks.
func StripQuotes(text string) string {
	trimmed := strings.TrimSpace(text)
	first, firstSize := utf8.DecodeRuneInString(trimmed)
	last, lastSize := utf8.DecodeLastRuneInString(trimmed)
	if firstSize+lastSize > len(trimmed) {
		return trimmed
	}

	for _, pair := range quotePairs {
		if first == pair[0] && last == pair[1] {
			return strings.TrimSpace(trimmed[firstSize : len(trimmed)-lastSize])
		}
	}

	return trimmed
}

var _ memoria.Refiner = (*Refiner)(nil)
