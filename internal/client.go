package internal

import (
	"fmt"
	"time"

	"github.com/castmedia/castmedia_server/pkg/clientcache"
)

const memoryClientCacheSize = 256

// NewAvatarFetcher returns a client-side avatar cache that fetches from the
// server's external URL. An empty cacheDir keeps entries in memory.
func NewAvatarFetcher(config ServerConfig, cacheDir string, ttl time.Duration) (*clientcache.Fetcher, error) {
	var store clientcache.Store
	if cacheDir != "" {
		dirStore, err := clientcache.NewDirStore(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open avatar cache: %w", err)
		}
		store = dirStore
	} else {
		memoryStore, err := clientcache.NewMemoryStore(memoryClientCacheSize)
		if err != nil {
			return nil, err
		}
		store = memoryStore
	}

	cache := clientcache.New(store)
	if ttl > 0 {
		cache = cache.WithTTL(ttl)
	}
	return clientcache.NewFetcher(cache, config.ExternalURL)
}
