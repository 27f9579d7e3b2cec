package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// Kind labels the provider slot ("stt", "llm", "tts", "moderation") in
	// logs and errors.
	Kind string

	// CircuitBreaker is the template for every entry's breaker. Name is set
	// per entry.
	CircuitBreaker CircuitBreakerConfig
}

// StatusReporter is implemented by provider wrappers that guard their
// backends with circuit breakers.
type StatusReporter interface {
	Status() []BreakerStatus
}

var (
	_ StatusReporter = (*STTFallback)(nil)
	_ StatusReporter = (*LLMFallback)(nil)
	_ StatusReporter = (*TTSFallback)(nil)
	_ StatusReporter = (*ModerationFallback)(nil)
)

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its circuit breaker is open), the
// next healthy fallback is tried in registration order. Entries must be
// added before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	entries []fallbackEntry[T]
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute tries fn against each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry of fg until one succeeds.
// Entries with an open breaker are skipped. Failover stops as soon as ctx is
// done, returning the context error; otherwise the result is [ErrAllFailed]
// joined with the last entry's error.
func ExecuteWithResult[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		entry := &fg.entries[i]

		var result R
		err := entry.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			result, err = fn(ctx, entry.value)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Debug("fallback provider served request",
					"kind", fg.cfg.Kind, "provider", entry.name, "primary", fg.entries[0].name)
			}
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider with open circuit", "kind", fg.cfg.Kind, "provider", entry.name)
			continue
		}
		if i < len(fg.entries)-1 {
			slog.Warn("provider failed, trying next", "kind", fg.cfg.Kind, "provider", entry.name, "err", err)
		}
	}
	if fg.cfg.Kind != "" {
		return zero, fmt.Errorf("%w (%s): %w", ErrAllFailed, fg.cfg.Kind, lastErr)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// Status returns a snapshot of every entry's breaker in failover order.
func (fg *FallbackGroup[T]) Status() []BreakerStatus {
	out := make([]BreakerStatus, len(fg.entries))
	for i := range fg.entries {
		out[i] = fg.entries[i].breaker.Snapshot()
	}
	return out
}

// Len returns the number of entries (primary plus fallbacks).
func (fg *FallbackGroup[T]) Len() int {
	return len(fg.entries)
}

// withKind sets cfg.Kind unless the caller already did.
func withKind(cfg FallbackConfig, kind string) FallbackConfig {
	if cfg.Kind == "" {
		cfg.Kind = kind
	}
	return cfg
}
