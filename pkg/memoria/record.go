package memoria

import (
	"fmt"
	"strings"
	"time"
)

const (
	// TimestampLayout is the civil timestamp format stored with each record.
	TimestampLayout = "2006-01-02 15:04:05"
	// DefaultTimezone is the civil timezone records are stamped in.
	DefaultTimezone = "Europe/Berlin"
)

// MemoryRecord is one persisted voice-message transcript with its refinement.
//
// Records are immutable once appended.
type MemoryRecord struct {
	// Timestamp is when the message was processed, in the configured civil zone.
	Timestamp time.Time
	// Author is the display name of the submitting user and may be empty.
	Author string
	// OriginalText is the raw transcription output.
	OriginalText string
	// EnhancedText is the refined version, or OriginalText when refinement was skipped.
	EnhancedText string
	// MonthKey is the YYYY-MM prefix of the formatted timestamp.
	MonthKey string
	// YearKey is the YYYY prefix of the formatted timestamp.
	YearKey string
}

// NewMemoryRecord stamps a record at the civil time of at in loc and derives its keys.
//
// An empty enhanced text falls back to original. An empty original is rejected.
func NewMemoryRecord(at time.Time, loc *time.Location, author, original, enhanced string) (MemoryRecord, error) {
	if strings.TrimSpace(original) == "" {
		return MemoryRecord{}, fmt.Errorf("new memory record: empty original text")
	}
	if strings.TrimSpace(enhanced) == "" {
		enhanced = original
	}
	if loc == nil {
		loc = time.UTC
	}
	stamp := at.In(loc).Truncate(time.Second)
	monthKey, yearKey := DeriveKeys(stamp)

	return MemoryRecord{
		Timestamp:    stamp,
		Author:       strings.TrimSpace(author),
		OriginalText: original,
		EnhancedText: enhanced,
		MonthKey:     monthKey,
		YearKey:      yearKey,
	}, nil
}

// DeriveKeys returns the month and year keys as prefixes of the formatted timestamp.
func DeriveKeys(stamp time.Time) (monthKey string, yearKey string) {
	formatted := stamp.Format(TimestampLayout)

	return formatted[:7], formatted[:4]
}

// TimestampText returns the timestamp in TimestampLayout.
func (r MemoryRecord) TimestampText() string {
	return r.Timestamp.Format(TimestampLayout)
}

// Date returns the date part of the timestamp.
func (r MemoryRecord) Date() string {
	return r.Timestamp.Format(time.DateOnly)
}

// Validate checks record invariants.
func (r MemoryRecord) Validate() error {
	if strings.TrimSpace(r.OriginalText) == "" {
		return fmt.Errorf("validate memory record: empty original text")
	}
	if strings.TrimSpace(r.EnhancedText) == "" {
		return fmt.Errorf("validate memory record: empty enhanced text")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("validate memory record: missing timestamp")
	}
	monthKey, yearKey := DeriveKeys(r.Timestamp)
	if r.MonthKey != monthKey || r.YearKey != yearKey {
		return fmt.Errorf("validate memory record: keys %q/%q do not match timestamp %s",
			r.MonthKey, r.YearKey, r.TimestampText())
	}

	return nil
}

// ParseRecordTimestamp parses a stored timestamp in loc.
func ParseRecordTimestamp(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	stamp, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse record timestamp %q: %w", value, err)
	}

	return stamp, nil
}

// Clock reports the current civil time.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// ZoneClock reads the system clock in a fixed civil zone.
type ZoneClock struct {
	loc *time.Location
}

// NewZoneClock returns a clock that reports times in loc.
func NewZoneClock(loc *time.Location) ZoneClock {
	if loc == nil {
		loc = time.UTC
	}

	return ZoneClock{loc: loc}
}

// Now returns the current time in the clock zone.
func (c ZoneClock) Now() time.Time {
	return time.Now().In(c.Location())
}

// Location returns the clock zone.
func (c ZoneClock) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}

	return c.loc
}
