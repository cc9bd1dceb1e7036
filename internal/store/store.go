// Package store persists memory records behind memoria.MemoryStore.
//
// Every backend is wrapped by Store, which performs the backend's one-time
// setup lazily on first use. A failed setup is retried on the next call; a
// successful one is never repeated.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"memoria/pkg/memoria"
)

// Backend is one concrete record store.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string
	// Setup verifies or creates the destination collection.
	Setup(ctx context.Context) error
	// Append persists one record.
	Append(ctx context.Context, record memoria.MemoryRecord) error
	// Query returns records matching filter in insertion order.
	Query(ctx context.Context, filter Filter) ([]memoria.MemoryRecord, error)
	// Close releases backend resources.
	Close(ctx context.Context) error
}

// Filter selects records by derived key. MonthKey takes precedence over YearKey.
type Filter struct {
	MonthKey string
	YearKey  string
}

// Match reports whether record satisfies the filter.
func (f Filter) Match(record memoria.MemoryRecord) bool {
	if f.MonthKey != "" {
		return record.MonthKey == f.MonthKey
	}

	return record.YearKey == f.YearKey
}

// Apply keeps the matching records, preserving order.
func (f Filter) Apply(records []memoria.MemoryRecord) []memoria.MemoryRecord {
	matched := make([]memoria.MemoryRecord, 0, len(records))
	for _, record := range records {
		if f.Match(record) {
			matched = append(matched, record)
		}
	}

	return matched
}

// Store adapts one Backend to memoria.MemoryStore.
type Store struct {
	backend  Backend
	degraded bool
	logger   *slog.Logger

	mu    sync.Mutex
	ready bool
}

// Option mutates Store construction settings.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New wraps backend.
func New(backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("new store: nil backend")
	}

	store := &Store{backend: backend, logger: slog.Default()}
	for _, opt := range opts {
		opt(store)
	}
	if memory, ok := backend.(*Memory); ok && memory.discard {
		store.degraded = true
	}

	return store, nil
}

// Backend returns the wrapped backend name.
func (s *Store) Backend() string {
	return s.backend.Name()
}

// Degraded reports whether appends are refused with memoria.ErrDegraded.
func (s *Store) Degraded() bool {
	return s.degraded
}

// Append persists one record.
func (s *Store) Append(ctx context.Context, record memoria.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	if err := s.ensureReady(ctx); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	if s.degraded {
		s.logger.WarnContext(ctx, "memory record not persisted",
			"backend", s.backend.Name(),
			"timestamp", record.TimestampText(),
		)
		return fmt.Errorf("append record: %w", memoria.ErrDegraded)
	}
	if err := s.backend.Append(ctx, record); err != nil {
		return fmt.Errorf("append record via %s: %w", s.backend.Name(), err)
	}

	return nil
}

// QueryByMonth returns all records of one month in insertion order.
func (s *Store) QueryByMonth(ctx context.Context, year int, month int) ([]memoria.MemoryRecord, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("query month %d: month out of range", month)
	}

	return s.query(ctx, Filter{MonthKey: memoria.FormatMonthKey(year, month)})
}

// QueryByYear returns all records of one year in insertion order.
func (s *Store) QueryByYear(ctx context.Context, year int) ([]memoria.MemoryRecord, error) {
	return s.query(ctx, Filter{YearKey: memoria.Period{Year: year}.YearKey()})
}

func (s *Store) query(ctx context.Context, filter Filter) ([]memoria.MemoryRecord, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	records, err := s.backend.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query records via %s: %w", s.backend.Name(), err)
	}

	return records, nil
}

// Close releases the backend.
func (s *Store) Close(ctx context.Context) error {
	if err := s.backend.Close(ctx); err != nil {
		return fmt.Errorf("close %s store: %w", s.backend.Name(), err)
	}

	return nil
}

func (s *Store) ensureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}
	if err := s.backend.Setup(ctx); err != nil {
		s.logger.ErrorContext(ctx, "store setup failed",
			"backend", s.backend.Name(),
			"error", err,
		)
		return fmt.Errorf("setup %s: %w", s.backend.Name(), err)
	}
	s.ready = true
	s.logger.InfoContext(ctx, "store ready", "backend", s.backend.Name(), "degraded", s.degraded)

	return nil
}

var _ memoria.MemoryStore = (*Store)(nil)
