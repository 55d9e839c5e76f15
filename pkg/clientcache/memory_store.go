package clientcache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoryEntries = 1024

// MemoryStore keeps entries in process, evicting the least recently used
// once size is reached.
type MemoryStore struct {
	entries *lru.Cache[string, Entry]
}

func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = defaultMemoryEntries
	}
	entries, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{entries: entries}, nil
}

func (m *MemoryStore) Load(key string) (Entry, bool, error) {
	entry, ok := m.entries.Get(key)
	return entry, ok, nil
}

func (m *MemoryStore) Save(key string, entry Entry) error {
	m.entries.Add(key, entry)
	return nil
}

func (m *MemoryStore) Remove(key string) error {
	m.entries.Remove(key)
	return nil
}

func (m *MemoryStore) Len() int {
	return m.entries.Len()
}
