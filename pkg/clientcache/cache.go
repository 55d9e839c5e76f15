// Package clientcache keeps avatar bytes on the presenting client so repeat
// renders do not hit the server. Each (owner, variant) pair holds a single
// entry that stays fresh for 24 hours.
package clientcache

import (
	"errors"
	"time"
)

const DefaultTTL = 24 * time.Hour

var timeNowFunc = time.Now

var ErrEmptyKey = errors.New("owner id and variant are required")

// Entry is one cached blob and the URL it was fetched from.
type Entry struct {
	Blob      []byte    `json:"blob"`
	OriginURL string    `json:"originUrl"`
	StoredAt  time.Time `json:"storedAt"`
}

// Store persists entries by key. Load reports ok false for a missing key.
type Store interface {
	Load(key string) (Entry, bool, error)
	Save(key string, entry Entry) error
	Remove(key string) error
}

type Cache struct {
	store Store
	ttl   time.Duration
}

func New(store Store) *Cache {
	return &Cache{store: store, ttl: DefaultTTL}
}

func (c *Cache) WithTTL(ttl time.Duration) *Cache {
	if ttl > 0 {
		c.ttl = ttl
	}
	return c
}

// Get returns the fresh blob for the key. An expired entry is removed and
// reported as a miss.
func (c *Cache) Get(ownerID, variant string) ([]byte, bool) {
	if ownerID == "" || variant == "" {
		return nil, false
	}
	k := key(ownerID, variant)
	entry, ok, err := c.store.Load(k)
	if err != nil || !ok {
		return nil, false
	}
	if timeNowFunc().Sub(entry.StoredAt) >= c.ttl {
		_ = c.store.Remove(k)
		return nil, false
	}
	return entry.Blob, true
}

// Put replaces whatever was stored for the key.
func (c *Cache) Put(ownerID, variant string, blob []byte, originURL string) error {
	if ownerID == "" || variant == "" {
		return ErrEmptyKey
	}
	return c.store.Save(key(ownerID, variant), Entry{
		Blob:      append([]byte(nil), blob...),
		OriginURL: originURL,
		StoredAt:  timeNowFunc(),
	})
}

func key(ownerID, variant string) string {
	return ownerID + "\x00" + variant
}
