package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Table is one logical key-value table.
type Table string

const (
	TableContracts  Table = "contracts"  // keyed by contract id
	TableConfigured Table = "configured" // keyed by contract id
	TableHistory    Table = "history"    // keyed by upper-cased symbol
)

var tables = []Table{TableContracts, TableConfigured, TableHistory}

func (t Table) valid() bool {
	for _, known := range tables {
		if t == known {
			return true
		}
	}
	return false
}

// KV is the persistence backend. Values are opaque JSON documents.
type KV interface {
	Get(ctx context.Context, t Table, key string) ([]byte, bool, error)
	Set(ctx context.Context, t Table, key string, value []byte) error
	Delete(ctx context.Context, t Table, key string) error
	// Scan calls fn for every entry of t in key order.
	Scan(ctx context.Context, t Table, fn func(key string, value []byte) error) error
	Count(ctx context.Context, t Table) (int, error)
	Truncate(ctx context.Context, t Table) error
	Close() error
}

// Compile-time interface checks.
var _ KV = (*MemoryKV)(nil)
var _ KV = (*SQLiteKV)(nil)

// MemoryKV keeps everything in process memory.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[Table]map[string][]byte
}

// NewMemoryKV returns an empty in-memory backend.
func NewMemoryKV() *MemoryKV {
	m := &MemoryKV{data: map[Table]map[string][]byte{}}
	for _, t := range tables {
		m.data[t] = map[string][]byte{}
	}
	return m
}

func (m *MemoryKV) table(t Table) (map[string][]byte, error) {
	tbl, ok := m.data[t]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", t)
	}
	return tbl, nil
}

func (m *MemoryKV) Get(_ context.Context, t Table, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tbl, err := m.table(t)
	if err != nil {
		return nil, false, err
	}
	v, ok := tbl[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryKV) Set(_ context.Context, t Table, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl, err := m.table(t)
	if err != nil {
		return err
	}
	tbl[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, t Table, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl, err := m.table(t)
	if err != nil {
		return err
	}
	delete(tbl, key)
	return nil
}

func (m *MemoryKV) Scan(ctx context.Context, t Table, fn func(key string, value []byte) error) error {
	m.mu.RLock()
	tbl, err := m.table(t)
	if err != nil {
		m.mu.RUnlock()
		return err
	}
	keys := make([]string, 0, len(tbl))
	for k := range tbl {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = append([]byte(nil), tbl[k]...)
	}
	m.mu.RUnlock()

	for i, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k, vals[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryKV) Count(_ context.Context, t Table) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tbl, err := m.table(t)
	if err != nil {
		return 0, err
	}
	return len(tbl), nil
}

func (m *MemoryKV) Truncate(_ context.Context, t Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.table(t); err != nil {
		return err
	}
	m.data[t] = map[string][]byte{}
	return nil
}

func (m *MemoryKV) Close() error { return nil }
