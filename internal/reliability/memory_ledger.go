package reliability

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryLedger is an in-memory Ledger used by tests and local development.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[string]FailureRecord
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]FailureRecord)}
}

// Append implements Ledger.
func (m *MemoryLedger) Append(ctx context.Context, record FailureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = record
	return nil
}

// Get implements Ledger.
func (m *MemoryLedger) Get(ctx context.Context, id string) (*FailureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("failure record not found: %s", id)
	}
	return &record, nil
}

// List implements Ledger. Results are ordered newest first.
func (m *MemoryLedger) List(ctx context.Context, filter Filter) ([]FailureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []FailureRecord
	for _, record := range m.records {
		if filter.Queue != "" && record.Queue != filter.Queue {
			continue
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		results = append(results, record)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].ReceivedAt.After(results[j].ReceivedAt)
	})

	if filter.MaxResults > 0 && len(results) > filter.MaxResults {
		results = results[:filter.MaxResults]
	}
	return results, nil
}

// Delete implements Ledger.
func (m *MemoryLedger) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}
