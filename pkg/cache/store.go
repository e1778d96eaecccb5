package cache

import (
	"errors"
	"time"

	"github.com/websyro/prismapilot/pkg/query"
)

// ErrCacheMiss indicates that a cache key was not found.
var ErrCacheMiss = errors.New("cache key not found")

// Store is a pluggable byte store for cached responses.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
	Close() error
}

// ResponseStore is implemented by stores that keep responses in process.
// Cache prefers it over the byte methods so row values keep their Go types.
type ResponseStore interface {
	GetResponse(key string) (*query.Response, error)
	SetResponse(key string, resp *query.Response, ttl time.Duration) error
}
