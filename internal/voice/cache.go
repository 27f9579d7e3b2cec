package voice

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MrWong99/hrvoice/internal/observe"
	"github.com/MrWong99/hrvoice/internal/store"
)

const (
	// DefaultCacheTTL is how long a cached response stays servable.
	DefaultCacheTTL = 30 * time.Minute

	// DefaultCacheMaxEntries caps the number of resident responses.
	DefaultCacheMaxEntries = 100
)

// CacheKey returns the response cache key for a turn.
func CacheKey(mode string, ann Annotation) string {
	return mode + ":" + ann.Annotated()
}

// ResponseCache memoizes successful turns. Entries expire lazily: an entry
// older than the TTL reads as absent but stays resident until evicted. When
// the cache is full, inserting evicts the entry inserted earliest. An entry
// whose audio URL no longer serves audio also reads as absent.
type ResponseCache struct {
	store      store.EntryStore
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	audioAlive func(url string) bool
}

// CacheOption configures a [ResponseCache].
type CacheOption func(*ResponseCache)

// WithTTL sets the entry lifetime.
func WithTTL(d time.Duration) CacheOption {
	return func(c *ResponseCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithMaxEntries sets the capacity.
func WithMaxEntries(n int) CacheOption {
	return func(c *ResponseCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithCacheClock overrides the clock.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *ResponseCache) { c.now = now }
}

// WithAudioCheck makes Get verify that a cached response's audio URL still
// serves audio, typically [audiostore.Store.Alive].
func WithAudioCheck(alive func(url string) bool) CacheOption {
	return func(c *ResponseCache) { c.audioAlive = alive }
}

// NewResponseCache returns a cache persisting entries in es.
func NewResponseCache(es store.EntryStore, opts ...CacheOption) *ResponseCache {
	c := &ResponseCache{
		store:      es,
		ttl:        DefaultCacheTTL,
		maxEntries: DefaultCacheMaxEntries,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns a private copy of the response cached under key. Store and
// decoding failures are logged and read as a miss.
func (c *ResponseCache) Get(ctx context.Context, key string) (*Response, bool) {
	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		observe.Logger(ctx).Warn("response cache read failed", "error", err)
		return nil, false
	}
	if !ok || c.now().Sub(e.Timestamp) >= c.ttl {
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(e.Data, &resp); err != nil {
		observe.Logger(ctx).Warn("response cache entry undecodable", "error", err)
		return nil, false
	}
	if resp.AudioURL != "" && c.audioAlive != nil && !c.audioAlive(resp.AudioURL) {
		observe.Logger(ctx).Debug("response cache entry audio gone, treating as miss", "key", key)
		return nil, false
	}
	return &resp, true
}

// Put stores a copy of resp under key.
func (c *ResponseCache) Put(ctx context.Context, key string, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		observe.Logger(ctx).Warn("response cache encode failed", "error", err)
		return
	}
	evicted, err := c.store.Put(ctx, key, store.Entry{Data: data, Timestamp: c.now()}, c.maxEntries)
	if err != nil {
		observe.Logger(ctx).Warn("response cache write failed", "error", err)
		return
	}
	if evicted != "" {
		observe.Logger(ctx).Debug("response cache evicted oldest entry", "key", evicted)
	}
}
