package memoria

import (
	"context"
	"fmt"
)

// MemoryStore is the append-only persistence contract for memory records.
//
// Append is not idempotent: retrying after a transport error may duplicate a
// record. Queries return records in store insertion order.
type MemoryStore interface {
	// Append persists one record.
	Append(ctx context.Context, record MemoryRecord) error
	// QueryByMonth returns all records whose month key is YYYY-MM.
	QueryByMonth(ctx context.Context, year int, month int) ([]MemoryRecord, error)
	// QueryByYear returns all records whose year key is YYYY.
	QueryByYear(ctx context.Context, year int) ([]MemoryRecord, error)
	// Close releases the store connection.
	Close(ctx context.Context) error
}

// Period selects a summary range. Month zero selects the whole year.
type Period struct {
	Year  int
	Month int
}

// IsYear reports whether the period covers a whole year.
func (p Period) IsYear() bool {
	return p.Month == 0
}

// MonthKey returns the YYYY-MM key of a month period.
func (p Period) MonthKey() string {
	return FormatMonthKey(p.Year, p.Month)
}

// YearKey returns the YYYY key of the period.
func (p Period) YearKey() string {
	return fmt.Sprintf("%04d", p.Year)
}

// FormatMonthKey formats a YYYY-MM key.
func FormatMonthKey(year int, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// Summarizer turns a collection of records into a formatted period digest.
type Summarizer interface {
	// SummarizePeriod never fails: provider problems fall back to a local template.
	SummarizePeriod(ctx context.Context, records []MemoryRecord, period Period) string
}
