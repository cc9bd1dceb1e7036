package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"memoria/pkg/memoria"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores records in a PostgreSQL table.
type Postgres struct {
	databaseURL string
	loc         *time.Location

	mu   sync.RWMutex
	pool *pgxpool.Pool
}

// NewPostgres builds the PostgreSQL backend. The pool is created by Setup.
func NewPostgres(databaseURL string, loc *time.Location) (*Postgres, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil, fmt.Errorf("new postgres backend: %w", memoria.ErrNotConfigured)
	}
	if loc == nil {
		loc = time.UTC
	}

	return &Postgres{databaseURL: databaseURL, loc: loc}, nil
}

// Name identifies the backend.
func (p *Postgres) Name() string {
	return "postgres"
}

// Setup connects and creates the tables.
func (p *Postgres) Setup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		return nil
	}

	pool, err := pgxpool.New(ctx, p.databaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS memories (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			recorded_at TIMESTAMPTZ NOT NULL,
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
		if _, err := pool.Exec(ctx, statement); err != nil {
			pool.Close()
			return fmt.Errorf("init postgres schema failed on %q: %w: %w", statement, memoria.ErrTransient, err)
		}
	}
	if err := ensurePostgresVersion(ctx, pool); err != nil {
		pool.Close()
		return err
	}
	p.pool = pool

	return nil
}

func ensurePostgresVersion(ctx context.Context, pool *pgxpool.Pool) error {
	var version int
	err := pool.QueryRow(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := pool.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, sqlSchemaVersion); err != nil {
			return fmt.Errorf("record postgres schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read postgres schema version: %w", err)
	case version != sqlSchemaVersion:
		return fmt.Errorf("postgres schema version %d: %w", version, memoria.ErrSchemaMismatch)
	default:
		return nil
	}
}

// Append inserts one row.
func (p *Postgres) Append(ctx context.Context, record memoria.MemoryRecord) error {
	pool, err := p.handle()
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO memories (id, recorded_at, author, original_text, enhanced_text, month_key, year_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(),
		record.Timestamp,
		record.Author,
		record.OriginalText,
		record.EnhancedText,
		record.MonthKey,
		record.YearKey,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w: %w", memoria.ErrTransient, err)
	}

	return nil
}

// Query selects matching rows in insertion order.
func (p *Postgres) Query(ctx context.Context, filter Filter) ([]memoria.MemoryRecord, error) {
	pool, err := p.handle()
	if err != nil {
		return nil, err
	}

	column, key := filterColumn(filter)
	rows, err := pool.Query(ctx,
		`SELECT recorded_at, author, original_text, enhanced_text, month_key, year_key
		 FROM memories WHERE `+column+` = $1 ORDER BY seq`,
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w: %w", memoria.ErrTransient, err)
	}
	defer rows.Close()

	records := make([]memoria.MemoryRecord, 0)
	for rows.Next() {
		var record memoria.MemoryRecord
		if err := rows.Scan(&record.Timestamp, &record.Author, &record.OriginalText, &record.EnhancedText,
			&record.MonthKey, &record.YearKey); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		record.Timestamp = record.Timestamp.In(p.loc)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory rows: %w", err)
	}

	return records, nil
}

// Close closes the pool when it was created.
func (p *Postgres) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}

	return nil
}

func (p *Postgres) handle() (*pgxpool.Pool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.pool == nil {
		return nil, fmt.Errorf("postgres backend is not set up")
	}

	return p.pool, nil
}

var _ Backend = (*Postgres)(nil)
