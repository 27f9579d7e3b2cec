package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/hrvoice/internal/config"
	"github.com/MrWong99/hrvoice/internal/observe"
	"github.com/MrWong99/hrvoice/internal/resilience"
	"github.com/MrWong99/hrvoice/pkg/provider/llm"
	"github.com/MrWong99/hrvoice/pkg/provider/moderation"
	"github.com/MrWong99/hrvoice/pkg/provider/stt"
	"github.com/MrWong99/hrvoice/pkg/provider/tts"
)

// MockProviderName is the registry name used for every slot when
// voice.mock_external_calls is enabled.
const MockProviderName = "mock"

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured and the matching stage degrades on every turn.
type Providers struct {
	STT        stt.Provider
	LLM        llm.Provider
	TTS        tts.Provider
	Moderation moderation.Provider
}

// CheckBreakers fails when every backend of some slot has an open circuit
// breaker. Slots without breakers, including empty ones, are not checked.
func (ps *Providers) CheckBreakers(context.Context) error {
	slots := []struct {
		kind string
		p    any
	}{
		{"stt", ps.STT},
		{"llm", ps.LLM},
		{"tts", ps.TTS},
		{"moderation", ps.Moderation},
	}
	var down []string
	for _, s := range slots {
		r, ok := s.p.(resilience.StatusReporter)
		if !ok {
			continue
		}
		if retry, open := allOpen(r.Status()); open {
			down = append(down, fmt.Sprintf("%s circuit open until %s", s.kind, retry.UTC().Format(time.TimeOnly)))
		}
	}
	if len(down) > 0 {
		return errors.New(strings.Join(down, "; "))
	}
	return nil
}

// allOpen reports whether every breaker in st is open, and the earliest time
// one of them will admit a probe.
func allOpen(st []resilience.BreakerStatus) (time.Time, bool) {
	var retry time.Time
	for _, b := range st {
		if b.State != resilience.StateOpen {
			return time.Time{}, false
		}
		if retry.IsZero() || b.RetryAt.Before(retry) {
			retry = b.RetryAt
		}
	}
	return retry, len(st) > 0
}

// BuildOption configures [BuildProviders].
type BuildOption func(*buildOptions)

type buildOptions struct {
	metrics *observe.Metrics
}

// WithBreakerMetrics records every circuit breaker transition in m.
func WithBreakerMetrics(m *observe.Metrics) BuildOption {
	return func(o *buildOptions) { o.metrics = m }
}

type named[P any] struct {
	name string
	p    P
}

// BuildProviders instantiates every configured provider through reg. Each
// provider is placed behind a circuit breaker; configured fallbacks are tried
// in order when it fails. With voice.mock_external_calls set, the "mock"
// registration is used for every slot instead.
func BuildProviders(cfg *config.Config, reg *config.Registry, opts ...BuildOption) (*Providers, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	fbCfg := func(kind string) resilience.FallbackConfig {
		cb := resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Providers.CircuitBreaker.MaxFailures,
			ResetTimeout: cfg.Providers.CircuitBreaker.ResetTimeout,
			HalfOpenMax:  cfg.Providers.CircuitBreaker.HalfOpenMax,
		}
		if o.metrics != nil {
			cb.OnStateChange = func(name string, _, to resilience.State) {
				o.metrics.RecordBreakerTransition(context.Background(), kind, name, to.String())
			}
		}
		return resilience.FallbackConfig{Kind: kind, CircuitBreaker: cb}
	}
	entries := cfg.Providers
	if cfg.Voice.MockExternalCalls {
		mock := config.ProviderEntry{Name: MockProviderName}
		entries.STT, entries.LLM, entries.TTS, entries.Moderation = mock, mock, mock, mock
		slog.Info("mock_external_calls enabled; using canned providers")
	}

	ps := &Providers{}
	var err error

	ps.STT, err = buildSlot("stt", entries.STT, reg.CreateSTT,
		func(p stt.Provider, name string, fbs []named[stt.Provider]) stt.Provider {
			f := resilience.NewSTTFallback(p, name, fbCfg("stt"))
			for _, fb := range fbs {
				f.AddFallback(fb.name, fb.p)
			}
			return f
		})
	if err != nil {
		return nil, err
	}

	ps.LLM, err = buildSlot("llm", entries.LLM, reg.CreateLLM,
		func(p llm.Provider, name string, fbs []named[llm.Provider]) llm.Provider {
			f := resilience.NewLLMFallback(p, name, fbCfg("llm"))
			for _, fb := range fbs {
				f.AddFallback(fb.name, fb.p)
			}
			return f
		})
	if err != nil {
		return nil, err
	}

	ps.TTS, err = buildSlot("tts", entries.TTS, reg.CreateTTS,
		func(p tts.Provider, name string, fbs []named[tts.Provider]) tts.Provider {
			f := resilience.NewTTSFallback(p, name, fbCfg("tts"))
			for _, fb := range fbs {
				f.AddFallback(fb.name, fb.p)
			}
			return f
		})
	if err != nil {
		return nil, err
	}

	ps.Moderation, err = buildSlot("moderation", entries.Moderation, reg.CreateModeration,
		func(p moderation.Provider, name string, fbs []named[moderation.Provider]) moderation.Provider {
			f := resilience.NewModerationFallback(p, name, fbCfg("moderation"))
			for _, fb := range fbs {
				f.AddFallback(fb.name, fb.p)
			}
			return f
		})
	if err != nil {
		return nil, err
	}

	return ps, nil
}

// buildSlot creates the primary provider and its fallbacks for one slot and
// hands them to wrap. An unnamed entry, or one whose credential is missing,
// yields the zero P.
func buildSlot[P any](
	kind string,
	entry config.ProviderEntry,
	create func(config.ProviderEntry) (P, error),
	wrap func(primary P, name string, fallbacks []named[P]) P,
) (P, error) {
	var zero P
	if entry.Name == "" {
		slog.Warn("provider not configured", "kind", kind)
		return zero, nil
	}

	primary, err := create(entry)
	if errors.Is(err, config.ErrMissingCredential) {
		slog.Warn("provider credential missing; stage will report not configured", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("app: create %s provider %q: %w", kind, entry.Name, err)
	}

	fbs := make([]named[P], 0, len(entry.Fallbacks))
	for i, fe := range entry.Fallbacks {
		p, err := create(fe)
		if errors.Is(err, config.ErrMissingCredential) {
			slog.Warn("fallback credential missing; skipping", "kind", kind, "name", fe.Name)
			continue
		}
		if err != nil {
			return zero, fmt.Errorf("app: create %s fallback[%d] %q: %w", kind, i, fe.Name, err)
		}
		fbs = append(fbs, named[P]{name: fe.Name, p: p})
	}

	slog.Info("provider created", "kind", kind, "name", entry.Name, "fallbacks", len(fbs))
	return wrap(primary, entry.Name, fbs), nil
}
