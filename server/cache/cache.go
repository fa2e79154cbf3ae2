package cache

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache stores msgpack-encoded values. Get decodes into dest, which must be
// a pointer.
type Cache interface {
	Set(ctx context.Context, key string, value any) error

	SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error

	Get(ctx context.Context, key string, dest any) error

	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	GetStats(ctx context.Context) (*CacheStats, error)

	Close() error
}

type CacheStats struct {
	Backend   string `json:"backend"`
	Connected bool   `json:"connected"`
	Items     int64  `json:"items"`
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Info      string `json:"info"`
}

// Values are encoded with their json field names so cached reports look
// the same as the ones the API returns.
func encode(value any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(value); err != nil {
		return nil, fmt.Errorf("failed to encode cache value: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte, dest any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("failed to decode cache value: %w", err)
	}
	return nil
}

func GenerateCacheKey(components ...string) string {
	h := md5.New()
	for _, component := range components {
		h.Write([]byte(component))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
