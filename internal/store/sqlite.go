package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"memoria/pkg/memoria"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// sqlSchemaVersion is the table layout version recorded by the SQL backends.
const sqlSchemaVersion = 1

// SQLite stores records in a local SQLite database file.
type SQLite struct {
	path string
	loc  *time.Location

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLite builds the SQLite backend. The file is opened by Setup.
func NewSQLite(path string, loc *time.Location) (*SQLite, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("new sqlite backend: %w", memoria.ErrNotConfigured)
	}
	if loc == nil {
		loc = time.UTC
	}

	return &SQLite{path: path, loc: loc}, nil
}

// Name identifies the backend.
func (s *SQLite) Name() string {
	return "sqlite"
}

// Setup opens the database and creates the tables.
func (s *SQLite) Setup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS memories (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			recorded_at TEXT NOT NULL,
			author TEXT NOT NULL DEFAULT '',
			original_text TEXT NOT NULL,
			enhanced_text TEXT NOT NULL,
			month_key TEXT NOT NULL,
			year_key TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_month_key ON memories (month_key);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_year_key ON memories (year_key);`,
	}
	for _, statement := range statements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			_ = db.Close()
			return fmt.Errorf("init sqlite schema failed on %q: %w", statement, err)
		}
	}
	if err := ensureSQLiteVersion(ctx, db); err != nil {
		_ = db.Close()
		return err
	}
	s.db = db

	return nil
}

func ensureSQLiteVersion(ctx context.Context, db *sql.DB) error {
	var version int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, sqlSchemaVersion); err != nil {
			return fmt.Errorf("record sqlite schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read sqlite schema version: %w", err)
	case version != sqlSchemaVersion:
		return fmt.Errorf("sqlite schema version %d: %w", version, memoria.ErrSchemaMismatch)
	default:
		return nil
	}
}

// Append inserts one row.
func (s *SQLite) Append(ctx context.Context, record memoria.MemoryRecord) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO memories (id, recorded_at, author, original_text, enhanced_text, month_key, year_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		record.TimestampText(),
		record.Author,
		record.OriginalText,
		record.EnhancedText,
		record.MonthKey,
		record.YearKey,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}

	return nil
}

// Query selects matching rows in insertion order.
func (s *SQLite) Query(ctx context.Context, filter Filter) ([]memoria.MemoryRecord, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	column, key := filterColumn(filter)
	rows, err := db.QueryContext(ctx,
		`SELECT recorded_at, author, original_text, enhanced_text, month_key, year_key
		 FROM memories WHERE `+column+` = ? ORDER BY seq`,
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	records := make([]memoria.MemoryRecord, 0)
	for rows.Next() {
		var (
			record     memoria.MemoryRecord
			recordedAt string
		)
		if err := rows.Scan(&recordedAt, &record.Author, &record.OriginalText, &record.EnhancedText,
			&record.MonthKey, &record.YearKey); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		record.Timestamp, err = memoria.ParseRecordTimestamp(recordedAt, s.loc)
		if err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory rows: %w", err)
	}

	return records, nil
}

// Close closes the database when it was opened.
func (s *SQLite) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil

	return err
}

func (s *SQLite) handle() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, fmt.Errorf("sqlite backend is not set up")
	}

	return s.db, nil
}

// filterColumn returns the key column and value of filter.
func filterColumn(filter Filter) (string, string) {
	if filter.MonthKey != "" {
		return "month_key", filter.MonthKey
	}

	return "year_key", filter.YearKey
}

var _ Backend = (*SQLite)(nil)
