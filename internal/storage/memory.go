package storage

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/restflow/internal/history"
	"github.com/unkn0wn-root/restflow/internal/records"
)

type Memory struct {
	mu      sync.RWMutex
	records map[string]records.Record
	order   []string
	history []history.Entry
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]records.Record)}
}

func (m *Memory) LoadAll(context.Context) ([]records.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]records.Record, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id].Clone())
	}
	return out, nil
}

func (m *Memory) Save(_ context.Context, rec records.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; !ok {
		m.order = append(m.order, rec.ID)
	}
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return nil
	}
	delete(m.records, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) LoadHistory(context.Context) ([]history.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]history.Entry(nil), m.history...), nil
}

func (m *Memory) SaveHistory(_ context.Context, entries []history.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append([]history.Entry(nil), entries...)
	return nil
}

func (m *Memory) Close() error { return nil }
