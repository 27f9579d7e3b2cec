package resilience

import (
	"context"

	"github.com/MrWong99/hrvoice/pkg/provider/moderation"
)

// ModerationFallback implements [moderation.Provider] with failover across
// moderation backends. Callers still fail open when every backend fails.
type ModerationFallback struct {
	group *FallbackGroup[moderation.Provider]
}

var _ moderation.Provider = (*ModerationFallback)(nil)

// NewModerationFallback creates a [ModerationFallback] with primary as the
// preferred backend.
func NewModerationFallback(primary moderation.Provider, primaryName string, cfg FallbackConfig) *ModerationFallback {
	return &ModerationFallback{
		group: NewFallbackGroup(primary, primaryName, withKind(cfg, "moderation")),
	}
}

// AddFallback registers an additional moderation provider as a fallback.
func (f *ModerationFallback) AddFallback(name string, provider moderation.Provider) {
	f.group.AddFallback(name, provider)
}

// Moderate classifies text with the first healthy provider.
func (f *ModerationFallback) Moderate(ctx context.Context, text string) (*moderation.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p moderation.Provider) (*moderation.Result, error) {
		return p.Moderate(ctx, text)
	})
}

// Status reports the breaker state of each backend in failover order.
func (f *ModerationFallback) Status() []BreakerStatus { return f.group.Status() }
