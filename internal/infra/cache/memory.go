package cache

import (
	"sync"

	"relwatch/internal/domain"
)

// Memory реализует domain.VersionCache в памяти процесса.
// Подходит для одиночного бинарника; для нескольких процессов есть Redis.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]domain.CacheEntry
}

var _ domain.VersionCache = (*Memory)(nil)

// NewMemory создаёт пустой кэш.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]domain.CacheEntry)}
}

// Entry возвращает запись по пакету.
func (m *Memory) Entry(itemID string) (domain.CacheEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[itemID]
	return entry, ok, nil
}

// Put безусловно перезаписывает запись.
func (m *Memory) Put(itemID string, entry domain.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[itemID] = entry
	return nil
}

// Invalidate удаляет запись пакета.
func (m *Memory) Invalidate(itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, itemID)
	return nil
}

// Reset очищает кэш целиком.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]domain.CacheEntry)
	return nil
}
