package settings

import "sync"

// MemoryStore is a simple in-memory implementation, intended for dev/demo.
// Documents are kept serialized so Load sees exactly what a real backend
// would return.
type MemoryStore struct {
	mu    sync.RWMutex
	data  []byte
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return nil, ErrNotFound
	}
	return ParseDocument(m.data)
}

func (m *MemoryStore) Save(doc *Document) error {
	data := doc.Bytes()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.saves++
	return nil
}

// Saves reports how many times Save succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
