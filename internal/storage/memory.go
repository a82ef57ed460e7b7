package storage

import "sync"

// Memory is an in-memory KV used by tests and by hosts without a
// writable data directory. Values do not survive process restart.
type Memory struct {
	mu   sync.Mutex
	data map[string]string
}

var _ KV = (*Memory)(nil)

// NewMemory creates an empty in-memory KV.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

// Get implements KV.
func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements KV.
func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Remove implements KV.
func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
