package pointer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/castmedia/castmedia_server/internal/storage"
	"github.com/goccy/go-json"
)

// Pointer is the cached result of an avatar resolution: either a web URL or
// the location of the object in storage.
type Pointer struct {
	URL        string
	Descriptor *storage.ObjectRef
}

func FromURL(u string) Pointer {
	return Pointer{URL: u}
}

func FromRef(ref storage.ObjectRef) Pointer {
	return Pointer{Descriptor: &ref}
}

// Encode writes descriptors as compact JSON and URLs as the raw string.
func Encode(p Pointer) (string, error) {
	if p.Descriptor != nil {
		b, err := json.Marshal(p.Descriptor)
		if err != nil {
			return "", fmt.Errorf("failed to encode pointer: %w", err)
		}
		return string(b), nil
	}
	if p.URL == "" {
		return "", fmt.Errorf("empty pointer")
	}
	return p.URL, nil
}

// Decode reads a stored value. Values that are neither a usable descriptor
// nor a non-empty string yield ok false.
func Decode(raw string) (Pointer, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Pointer{}, false
	}
	if strings.HasPrefix(raw, "{") {
		var ref storage.ObjectRef
		if err := json.Unmarshal([]byte(raw), &ref); err != nil {
			return Pointer{}, false
		}
		if ref.Bucket == "" || ref.Name == "" {
			return Pointer{}, false
		}
		return Pointer{Descriptor: &ref}, true
	}
	return Pointer{URL: raw}, true
}

// Store persists at most one pointer per owner. Get returns "" when none
// is stored. Set overwrites; an empty value removes the pointer.
type Store interface {
	Get(ctx context.Context, ownerID string) (string, error)
	Set(ctx context.Context, ownerID, value string) error
}

// NameLookup supplies the display name that seeds placeholders.
type NameLookup interface {
	DisplayName(ctx context.Context, ownerID string) (string, error)
}

type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverRedis    Driver = "redis"
	DriverMemory   Driver = "memory"
)

type Config struct {
	Driver        Driver        `mapstructure:"driver"`
	DSN           string        `mapstructure:"dsn"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`
}
