// Package store holds the shared mutable state of the voice pipeline: the
// per-user rate-limit windows and the response-cache entries.
//
// Two drivers exist. The memory driver keeps everything in-process, so
// guarantees such as "10 requests per minute per user" hold per instance. The
// redis driver keeps the same state in Redis and uses optimistic transactions
// (WATCH/MULTI/EXEC), which makes those guarantees global across replicas.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Type names a store driver.
type Type string

const (
	TypeMemory Type = "memory"
	TypeRedis  Type = "redis"
)

var (
	// ErrInvalidType is returned by New for an unknown driver name.
	ErrInvalidType = errors.New("store: invalid store type")

	// ErrInvalidConfig is returned by New when a driver lacks a required option.
	ErrInvalidConfig = errors.New("store: invalid configuration")
)

// Window is one fixed rate-limit window.
type Window struct {
	Count     int
	ResetTime time.Time
}

// UpdateFunc receives the stored window (found is false when there is none)
// and returns the window to persist. write=false leaves the store untouched.
// Drivers may call it more than once when a transaction must be retried.
type UpdateFunc func(cur Window, found bool) (next Window, write bool)

// WindowStore persists rate-limit windows keyed by user.
type WindowStore interface {
	// UpdateWindow atomically applies fn to the window stored under key.
	// ttl bounds how long an untouched window may linger in the backend.
	UpdateWindow(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
}

// Entry is one cached value with its insertion time.
type Entry struct {
	Data      []byte
	Timestamp time.Time
}

// EntryStore persists cache entries.
type EntryStore interface {
	// Get returns the entry under key regardless of its age.
	Get(ctx context.Context, key string) (Entry, bool, error)

	// Put stores e under key. When the store already holds maxEntries or more
	// entries, the single entry with the smallest Timestamp is removed first
	// and its key returned.
	Put(ctx context.Context, key string, e Entry, maxEntries int) (evicted string, err error)

	// Len returns the number of resident entries, expired ones included.
	Len(ctx context.Context) (int, error)
}

// Store bundles both state kinds behind one driver.
type Store interface {
	WindowStore
	EntryStore

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

type config struct {
	redisClient *redis.Client
	prefix      string
}

// Option configures New.
type Option func(*config)

// WithRedisClient sets the client used by the redis driver.
func WithRedisClient(c *redis.Client) Option {
	return func(cfg *config) { cfg.redisClient = c }
}

// WithKeyPrefix namespaces every redis key (default "hrvoice:").
func WithKeyPrefix(prefix string) Option {
	return func(cfg *config) { cfg.prefix = prefix }
}

// New creates a Store for the given driver type. An empty type selects the
// memory driver.
func New(t Type, opts ...Option) (Store, error) {
	cfg := &config{prefix: defaultPrefix}
	for _, o := range opts {
		o(cfg)
	}

	switch t {
	case TypeMemory, "":
		return NewMemory(), nil
	case TypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedis(cfg.redisClient, cfg.prefix), nil
	default:
		return nil, ErrInvalidType
	}
}
