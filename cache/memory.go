package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryProvider keeps generations in process memory.
// Nothing survives a restart, use it for tests and ephemeral setups.
type MemoryProvider struct {
	mutex *sync.RWMutex
	db    map[string]map[string][]byte
}

func NewMemoryProvider() MemoryProvider {
	return MemoryProvider{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string][]byte),
	}
}

func (m MemoryProvider) Create(_ context.Context, name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.db[name]; !ok {
		m.db[name] = make(map[string][]byte)
	}
	return nil
}

func (m MemoryProvider) Names(_ context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.db))
	for name := range m.db {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemoryProvider) Has(_ context.Context, name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.db[name]
	return ok, nil
}

func (m MemoryProvider) Delete(_ context.Context, name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.db[name]
	delete(m.db, name)
	return ok, nil
}

func (m MemoryProvider) Get(_ context.Context, name, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[name][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), entry...), true, nil
}

func (m MemoryProvider) Put(_ context.Context, name, key string, value []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	gen, ok := m.db[name]
	if !ok {
		gen = make(map[string][]byte)
		m.db[name] = gen
	}
	gen[key] = append([]byte(nil), value...)
	return nil
}

func (m MemoryProvider) Keys(_ context.Context, name string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	keys := make([]string, 0, len(m.db[name]))
	for key := range m.db[name] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
