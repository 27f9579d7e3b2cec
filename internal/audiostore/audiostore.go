// Package audiostore turns synthesized speech payloads into URLs the browser
// can fetch, and serves them.
//
// Clips are kept in memory with bounded retention: at most MaxEntries clips
// are resident and the oldest is dropped first. An optional MaxAge makes
// older clips unreachable even before they are pushed out. Pinned clips
// (preloaded phrases) are exempt from both limits.
package audiostore

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxEntries bounds the number of resident clips.
	DefaultMaxEntries = 500

	// RoutePrefix is the path under which clips are served.
	RoutePrefix = "/v1/audio/"
)

// ErrEmpty is returned by Put for an empty payload.
var ErrEmpty = errors.New("audiostore: audio payload is empty")

// Clip is one stored audio payload.
type Clip struct {
	ID          string
	Data        []byte
	ContentType string
	Created     time.Time
	Pinned      bool
}

// Option configures a Store.
type Option func(*Store)

// WithMaxEntries overrides DefaultMaxEntries. Values <= 0 are ignored.
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithMaxAge hides clips older than d. Zero disables the age limit.
func WithMaxAge(d time.Duration) Option {
	return func(s *Store) { s.maxAge = d }
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a bounded in-memory clip store. Safe for concurrent use.
type Store struct {
	baseURL    string
	maxEntries int
	maxAge     time.Duration
	now        func() time.Time

	mu    sync.RWMutex
	clips map[string]*Clip
	order []string // unpinned clips in insertion order, oldest first
}

// New creates a Store whose URLs are rooted at baseURL (e.g.,
// "https://hr.example.com"). An empty baseURL yields host-relative URLs.
func New(baseURL string, opts ...Option) *Store {
	s := &Store{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		clips:      make(map[string]*Clip),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Put stores a copy of data and returns the URL it is served under.
func (s *Store) Put(_ context.Context, data []byte, contentType string) (string, error) {
	return s.put(data, contentType, false)
}

// PutPinned is like Put, but the clip is never evicted and never expires.
// Callers must keep the set of pinned clips small and fixed.
func (s *Store) PutPinned(_ context.Context, data []byte, contentType string) (string, error) {
	return s.put(data, contentType, true)
}

func (s *Store) put(data []byte, contentType string, pinned bool) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	clip := &Clip{
		ID:          uuid.NewString(),
		Data:        buf,
		ContentType: contentType,
		Created:     s.now(),
		Pinned:      pinned,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clips[clip.ID] = clip
	if pinned {
		return s.URL(clip.ID), nil
	}
	for len(s.order) >= s.maxEntries {
		delete(s.clips, s.order[0])
		s.order = s.order[1:]
	}
	s.order = append(s.order, clip.ID)
	return s.URL(clip.ID), nil
}

// URL returns the URL for a clip ID.
func (s *Store) URL(id string) string {
	return s.baseURL + RoutePrefix + id
}

// Get returns the clip with the given ID if it is resident and not too old.
func (s *Store) Get(id string) (*Clip, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clips[id]
	if !ok {
		return nil, false
	}
	if !c.Pinned && s.maxAge > 0 && s.now().Sub(c.Created) > s.maxAge {
		return nil, false
	}
	return c, true
}

// Alive reports whether url was issued by this store and still serves a
// clip.
func (s *Store) Alive(url string) bool {
	id, ok := strings.CutPrefix(url, s.baseURL+RoutePrefix)
	if !ok || id == "" {
		return false
	}
	_, ok = s.Get(id)
	return ok
}

// Len returns the number of resident clips.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clips)
}

// Register mounts the clip handler on mux at GET /v1/audio/{id}.
func (s *Store) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+RoutePrefix+"{id}", s.serveClip)
}

func (s *Store) serveClip(w http.ResponseWriter, r *http.Request) {
	clip, ok := s.Get(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", clip.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.Data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(clip.Data)
}
