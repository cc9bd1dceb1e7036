package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"memoria/pkg/memoria"
)

func TestSQLiteAppendAndQuery(t *testing.T) {
	t.Parallel()

	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}
	path := filepath.Join(t.TempDir(), "data", "memoria.db")
	backend, err := NewSQLite(path, berlin)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	store, err := New(backend)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	t.Cleanup(func() { _ = store.Close(ctx) })

	stamps := []time.Time{
		time.Date(2024, 12, 31, 23, 30, 0, 0, berlin),
		time.Date(2024, 12, 1, 7, 0, 0, 0, berlin),
		time.Date(2025, 1, 1, 0, 5, 0, 0, berlin),
	}
	for index, at := range stamps {
		record, err := memoria.NewMemoryRecord(at, berlin, "Anna", "roh", "schön")
		if err != nil {
			t.Fatalf("NewMemoryRecord failed: %v", err)
		}
		record.OriginalText = at.Format(time.DateTime)
		if err := store.Append(ctx, record); err != nil {
			t.Fatalf("Append #%d failed: %v", index, err)
		}
	}

	december, err := store.QueryByMonth(ctx, 2024, 12)
	if err != nil {
		t.Fatalf("QueryByMonth failed: %v", err)
	}
	if len(december) != 2 {
		t.Fatalf("december = %d records, want 2", len(december))
	}
	if december[0].OriginalText != "2024-12-31 23:30:00" || december[1].OriginalText != "2024-12-01 07:00:00" {
		t.Fatalf("december order = %q, %q, want insertion order", december[0].OriginalText, december[1].OriginalText)
	}
	if !december[0].Timestamp.Equal(stamps[0]) || december[0].Author != "Anna" || december[0].EnhancedText != "schön" {
		t.Fatalf("december[0] = %+v", december[0])
	}

	year, err := store.QueryByYear(ctx, 2025)
	if err != nil {
		t.Fatalf("QueryByYear failed: %v", err)
	}
	if len(year) != 1 || year[0].MonthKey != "2025-01" {
		t.Fatalf("2025 = %+v", year)
	}
}

func TestSQLiteReopenKeepsRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "memoria.db")
	ctx := context.Background()
	record := newTestRecord(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), "Sommer")

	first, err := NewSQLite(path, time.UTC)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	if err := first.Setup(ctx); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := first.Append(ctx, record); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := NewSQLite(path, time.UTC)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = second.Close(ctx) })
	if err := second.Setup(ctx); err != nil {
		t.Fatalf("second Setup failed: %v", err)
	}
	records, err := second.Query(ctx, Filter{YearKey: "2024"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 1 || records[0].OriginalText != "Sommer" {
		t.Fatalf("records = %+v", records)
	}
}

func TestSQLiteRejectsUnknownSchemaVersion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "memoria.db")
	ctx := context.Background()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	for _, statement := range []string{
		`CREATE TABLE schema_version (version INTEGER NOT NULL)`,
		`INSERT INTO schema_version (version) VALUES (7)`,
	} {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			t.Fatalf("exec %q failed: %v", statement, err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	backend, err := NewSQLite(path, time.UTC)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	if err := backend.Setup(ctx); !errors.Is(err, memoria.ErrSchemaMismatch) {
		t.Fatalf("Setup error = %v, want ErrSchemaMismatch", err)
	}
}

func TestSQLiteRequiresSetup(t *testing.T) {
	t.Parallel()

	backend, err := NewSQLite(filepath.Join(t.TempDir(), "memoria.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	if _, err := backend.Query(context.Background(), Filter{YearKey: "2024"}); err == nil {
		t.Fatal("expected query before setup to fail")
	}
	if _, err := NewSQLite("  ", nil); !errors.Is(err, memoria.ErrNotConfigured) {
		t.Fatalf("NewSQLite error = %v, want ErrNotConfigured", err)
	}
}
