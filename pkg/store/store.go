// Package store holds the connection adapters that executors and caches run
// on. Each adapter owns its pool and exposes health and lifecycle hooks.
package store

import (
	"context"
	"errors"
)

// ErrClosed is returned by adapters used after Close.
var ErrClosed = errors.New("adapter is closed")

// Adapter is the minimal lifecycle and health contract for storage adapters.
type Adapter interface {
	HealthCheck(ctx context.Context) error
	Close() error
}
