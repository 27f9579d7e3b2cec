package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/hrvoice/pkg/provider/llm"
	"github.com/MrWong99/hrvoice/pkg/provider/moderation"
	"github.com/MrWong99/hrvoice/pkg/provider/stt"
	"github.com/MrWong99/hrvoice/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// ErrMissingCredential is returned by factories whose provider needs an API
// key that was not configured. Callers treat the slot as unconfigured.
var ErrMissingCredential = errors.New("config: provider credential missing")

// RequireAPIKey returns [ErrMissingCredential] when entry has no API key.
func RequireAPIKey(entry ProviderEntry) error {
	if entry.APIKey == "" {
		return fmt.Errorf("%w: %s", ErrMissingCredential, entry.Name)
	}
	return nil
}

// Factory builds a provider of type P from its config entry.
type Factory[P any] func(ProviderEntry) (P, error)

// factories is the name-indexed table for one provider kind.
type factories[P any] struct {
	kind   string
	byName map[string]Factory[P]
}

func newFactories[P any](kind string) factories[P] {
	return factories[P]{kind: kind, byName: make(map[string]Factory[P])}
}

func (f factories[P]) create(entry ProviderEntry) (P, error) {
	build, ok := f.byName[entry.Name]
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return build(entry)
}

func (f factories[P]) names() []string {
	out := make([]string, 0, len(f.byName))
	for name := range f.byName {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to constructors, one table per pipeline
// stage. Registering a name twice replaces the earlier factory. It is safe
// for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	stt        factories[stt.Provider]
	llm        factories[llm.Provider]
	tts        factories[tts.Provider]
	moderation factories[moderation.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:        newFactories[stt.Provider]("stt"),
		llm:        newFactories[llm.Provider]("llm"),
		tts:        newFactories[tts.Provider]("tts"),
		moderation: newFactories[moderation.Provider]("moderation"),
	}
}

func (r *Registry) RegisterSTT(name string, factory Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.byName[name] = factory
}

func (r *Registry) RegisterLLM(name string, factory Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.byName[name] = factory
}

func (r *Registry) RegisterTTS(name string, factory Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.byName[name] = factory
}

func (r *Registry) RegisterModeration(name string, factory Factory[moderation.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moderation.byName[name] = factory
}

// CreateSTT builds the speech-to-text provider named by entry.Name, or
// returns [ErrProviderNotRegistered].
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateLLM builds the reply model named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// CreateTTS builds the voice synthesizer named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(entry)
}

// CreateModeration builds the content filter named by entry.Name.
func (r *Registry) CreateModeration(entry ProviderEntry) (moderation.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.moderation.create(entry)
}

// Names returns the sorted provider names registered for kind ("stt", "llm",
// "tts" or "moderation"). Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "stt":
		return r.stt.names()
	case "llm":
		return r.llm.names()
	case "tts":
		return r.tts.names()
	case "moderation":
		return r.moderation.names()
	}
	return nil
}
