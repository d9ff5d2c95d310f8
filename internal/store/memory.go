package store

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	v1 "github.com/klubi/reagent/pkg/apis/v1"
)

// MemoryStore is a thread-safe, in-memory Store backed by a map. Records
// live only as long as the process.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte // key -> JSON bytes
	ws   watchers
}

// NewMemoryStore creates a ready-to-use in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// ---------- CRUD ----------

func (m *MemoryStore) Create(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[key]; exists {
		return ErrAlreadyExists
	}
	m.data[key] = raw

	m.ws.notify(v1.WatchEvent{
		Type:   v1.EventAdded,
		Kind:   kindFromKey(key),
		Key:    key,
		Object: value,
	})
	return nil
}

func (m *MemoryStore) Get(key string, target interface{}) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.data[key]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, target)
}

func (m *MemoryStore) Update(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[key]; !exists {
		return ErrNotFound
	}
	m.data[key] = raw

	m.ws.notify(v1.WatchEvent{
		Type:   v1.EventModified,
		Kind:   kindFromKey(key),
		Key:    key,
		Object: value,
	})
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, exists := m.data[key]
	if !exists {
		return ErrNotFound
	}
	delete(m.data, key)

	var obj interface{}
	_ = json.Unmarshal(raw, &obj)

	m.ws.notify(v1.WatchEvent{
		Type:   v1.EventDeleted,
		Kind:   kindFromKey(key),
		Key:    key,
		Object: obj,
	})
	return nil
}

// ---------- Keys / List ----------

func (m *MemoryStore) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keysLocked(prefix), nil
}

func (m *MemoryStore) keysLocked(prefix string) []string {
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (m *MemoryStore) List(prefix string, factory func() interface{}) ([]interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []interface{}
	for _, k := range m.keysLocked(prefix) {
		obj := factory()
		if err := json.Unmarshal(m.data[k], obj); err != nil {
			return nil, err
		}
		results = append(results, obj)
	}
	return results, nil
}

// ---------- Watch ----------

func (m *MemoryStore) Watch(prefix string) (<-chan v1.WatchEvent, func()) {
	m.mu.Lock()
	w := m.ws.add(prefix)
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.ws.remove(w)
		})
	}
	return w.ch, cancel
}

// ---------- Close ----------

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ws.closeAll()
	m.data = make(map[string][]byte)
	return nil
}
