package claim

import (
	"context"
	"sync"
)

// MemoryStore 以内存方式保存存证记录，适用于单进程部署与测试。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, fp Fingerprint) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[fp.raw]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

// Insert 实现 Store 接口。
func (m *MemoryStore) Insert(_ context.Context, fp Fingerprint, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[fp.raw]; ok {
		return ErrRecordExists
	}
	m.records[fp.raw] = rec
	return nil
}

// Swap 实现 Store 接口。
func (m *MemoryStore) Swap(_ context.Context, fp Fingerprint, prev, next Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.records[fp.raw]
	if !ok {
		return ErrRecordNotFound
	}
	if current != prev {
		return ErrRecordStale
	}
	m.records[fp.raw] = next
	return nil
}

// Len 返回已登记的指纹数量。
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }
