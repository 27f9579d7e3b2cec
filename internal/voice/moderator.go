package voice

import (
	"context"

	"github.com/MrWong99/hrvoice/internal/observe"
	"github.com/MrWong99/hrvoice/pkg/provider/moderation"
)

// Moderator screens a transcript. It never fails: an unavailable moderation
// service yields an unflagged verdict.
type Moderator interface {
	Moderate(ctx context.Context, text string) ModerationVerdict
}

// ContentModerator is the [Moderator] backed by a [moderation.Provider].
type ContentModerator struct {
	provider moderation.Provider
	opts     adapterOptions
}

var _ Moderator = (*ContentModerator)(nil)

// NewContentModerator wraps p. A nil p lets every transcript through.
func NewContentModerator(p moderation.Provider, opts ...AdapterOption) *ContentModerator {
	return &ContentModerator{provider: p, opts: newAdapterOptions(opts)}
}

// Moderate implements [Moderator].
func (m *ContentModerator) Moderate(ctx context.Context, text string) ModerationVerdict {
	if m.provider == nil {
		observe.Logger(ctx).Warn("moderation not configured, allowing content")
		return ModerationVerdict{}
	}
	res, err := m.provider.Moderate(ctx, text)
	m.opts.record(ctx, "moderation", err)
	if err != nil {
		observe.Logger(ctx).Warn("moderation failed, allowing content",
			"provider", m.opts.name, "error", err)
		return ModerationVerdict{}
	}
	if res == nil {
		observe.Logger(ctx).Warn("moderation returned no result, allowing content", "provider", m.opts.name)
		return ModerationVerdict{}
	}
	return ModerationVerdict{
		Flagged:    res.Flagged,
		Categories: res.Categories,
		Score:      res.MaxScore(),
	}
}
