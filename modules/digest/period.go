package digest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"memoria/pkg/memoria"
)

const (
	minYear = 1900
	maxYear = 9999
)

// parseMonthPeriod reads an optional YYYY-MM argument, defaulting to the month of now.
func parseMonthPeriod(args string, now time.Time) (memoria.Period, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return memoria.Period{Year: now.Year(), Month: int(now.Month())}, nil
	}

	parsed, err := time.Parse("2006-01", args)
	if err != nil {
		return memoria.Period{}, fmt.Errorf("parse month %q: %w", args, err)
	}
	if parsed.Year() < minYear {
		return memoria.Period{}, fmt.Errorf("parse month %q: year before %d", args, minYear)
	}

	return memoria.Period{Year: parsed.Year(), Month: int(parsed.Month())}, nil
}

// parseYearPeriod reads an optional YYYY argument, defaulting to the year of now.
func parseYearPeriod(args string, now time.Time) (memoria.Period, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return memoria.Period{Year: now.Year()}, nil
	}

	year, err := strconv.Atoi(args)
	if err != nil {
		return memoria.Period{}, fmt.Errorf("parse year %q: %w", args, err)
	}
	if year < minYear || year > maxYear {
		return memoria.Period{}, fmt.Errorf("parse year %q: out of range", args)
	}

	return memoria.Period{Year: year}, nil
}

// splitMessage cuts text into chunks of at most limit runes, preferring line
// boundaries so markup spans stay intact.
func splitMessage(text string, limit int) []string {
	if limit <= 0 || len([]rune(text)) <= limit {
		return []string{text}
	}

	var (
		chunks  []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if chunk := strings.TrimRight(current.String(), "\n"); strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
		size = 0
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		runes := []rune(line)
		for len(runes) > limit {
			flush()
			chunks = append(chunks, string(runes[:limit]))
			runes = runes[limit:]
		}
		if size+len(runes) > limit {
			flush()
		}
		current.WriteString(string(runes))
		size += len(runes)
	}
	flush()

	return chunks
}
