package store

import (
	"context"
	"sync"

	"memoria/pkg/memoria"
)

// Memory keeps records in process memory.
//
// A discarding Memory is the degraded mode used when no store credentials are
// configured: appends succeed without keeping anything and queries are empty.
type Memory struct {
	discard bool

	mu      sync.RWMutex
	records []memoria.MemoryRecord
}

// NewMemory creates a process-local backend.
func NewMemory() *Memory {
	return &Memory{}
}

// NewDegraded creates the non-persisting backend.
func NewDegraded() *Memory {
	return &Memory{discard: true}
}

// Name identifies the backend.
func (m *Memory) Name() string {
	if m.discard {
		return "degraded"
	}

	return "memory"
}

// Setup has nothing to verify.
func (m *Memory) Setup(context.Context) error {
	return nil
}

// Append keeps one record unless the backend discards.
func (m *Memory) Append(_ context.Context, record memoria.MemoryRecord) error {
	if m.discard {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)

	return nil
}

// Query scans every kept record.
func (m *Memory) Query(_ context.Context, filter Filter) ([]memoria.MemoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return filter.Apply(m.records), nil
}

// Close has nothing to release.
func (m *Memory) Close(context.Context) error {
	return nil
}

var _ Backend = (*Memory)(nil)
