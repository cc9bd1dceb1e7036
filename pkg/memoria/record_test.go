package memoria

import (
	"testing"
	"time"
	_ "time/tzdata"
)

func berlin(t *testing.T) *time.Location {
	t.Helper()

	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	return loc
}

// TestNewMemoryRecordDerivesKeysFromCivilTime verifies keys are prefixes of the formatted timestamp.
func TestNewMemoryRecordDerivesKeysFromCivilTime(t *testing.T) {
	t.Parallel()

	loc := berlin(t)
	tests := []struct {
		name      string
		at        time.Time
		wantMonth string
		wantYear  string
	}{
		{name: "mid month", at: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), wantMonth: "2024-03", wantYear: "2024"},
		{name: "new year in berlin", at: time.Date(2023, 12, 31, 23, 30, 0, 0, time.UTC), wantMonth: "2024-01", wantYear: "2024"},
		{name: "month end in berlin", at: time.Date(2024, 6, 30, 22, 15, 0, 0, time.UTC), wantMonth: "2024-07", wantYear: "2024"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			record, err := NewMemoryRecord(testCase.at, loc, " Anna ", "original text", "enhanced")
			if err != nil {
				t.Fatalf("NewMemoryRecord() error = %v", err)
			}
			if record.MonthKey != testCase.wantMonth || record.YearKey != testCase.wantYear {
				t.Fatalf("keys = %s/%s, want %s/%s", record.MonthKey, record.YearKey, testCase.wantMonth, testCase.wantYear)
			}
			stamp := record.TimestampText()
			if record.MonthKey != stamp[:7] || record.YearKey != stamp[:4] {
				t.Fatalf("keys %s/%s are not prefixes of %s", record.MonthKey, record.YearKey, stamp)
			}
			if record.Author != "Anna" {
				t.Fatalf("author = %q, want Anna", record.Author)
			}
			if err := record.Validate(); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}

// TestNewMemoryRecordTextInvariants verifies empty text handling.
func TestNewMemoryRecordTextInvariants(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	if _, err := NewMemoryRecord(at, time.UTC, "", "  ", "enhanced"); err == nil {
		t.Fatal("expected error for empty original text")
	}
	record, err := NewMemoryRecord(at, time.UTC, "", "Sie hat heute laufen gelernt", "")
	if err != nil {
		t.Fatalf("NewMemoryRecord() error = %v", err)
	}
	if record.EnhancedText != record.OriginalText {
		t.Fatalf("enhanced = %q, want original fallback", record.EnhancedText)
	}
}

// TestMemoryRecordValidateRejectsForeignKeys verifies keys must derive from the timestamp.
func TestMemoryRecordValidateRejectsForeignKeys(t *testing.T) {
	t.Parallel()

	record, err := NewMemoryRecord(time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC), time.UTC, "", "a b c", "a b c")
	if err != nil {
		t.Fatalf("NewMemoryRecord() error = %v", err)
	}
	record.MonthKey = "2024-04"
	if err := record.Validate(); err == nil {
		t.Fatal("expected error for mismatched month key")
	}
}

// TestParseRecordTimestamp verifies round trip through the stored layout.
func TestParseRecordTimestamp(t *testing.T) {
	t.Parallel()

	loc := berlin(t)
	stamp, err := ParseRecordTimestamp("2024-03-15 11:00:00", loc)
	if err != nil {
		t.Fatalf("ParseRecordTimestamp() error = %v", err)
	}
	if got := stamp.Format(TimestampLayout); got != "2024-03-15 11:00:00" {
		t.Fatalf("formatted = %q", got)
	}
	if _, err := ParseRecordTimestamp("15.03.2024", loc); err == nil {
		t.Fatal("expected error for foreign layout")
	}
}

// TestPeriodKeys verifies period key formatting.
func TestPeriodKeys(t *testing.T) {
	t.Parallel()

	if got := (Period{Year: 2024, Month: 3}).MonthKey(); got != "2024-03" {
		t.Fatalf("MonthKey() = %q", got)
	}
	if !(Period{Year: 2024}).IsYear() {
		t.Fatal("expected year period")
	}
	if got := (Period{Year: 987}).YearKey(); got != "0987" {
		t.Fatalf("YearKey() = %q", got)
	}
}
