package voice

import "sync"

// PhraseCache maps fixed phrases to preloaded audio URLs. It is unbounded and
// never evicts on its own; the phrase set is small and fixed, and the clips
// behind it are pinned in the audio sink.
type PhraseCache struct {
	mu   sync.RWMutex
	urls map[string]string
}

// NewPhraseCache returns an empty cache.
func NewPhraseCache() *PhraseCache {
	return &PhraseCache{urls: make(map[string]string)}
}

// Get returns the audio URL for an exact phrase.
func (c *PhraseCache) Get(phrase string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	url, ok := c.urls[phrase]
	return url, ok
}

// Put records the audio URL for phrase.
func (c *PhraseCache) Put(phrase, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls[phrase] = url
}

// Delete forgets phrase.
func (c *PhraseCache) Delete(phrase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.urls, phrase)
}

// Len returns the number of cached phrases.
func (c *PhraseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.urls)
}
