package voice

import (
	"context"
	"strings"

	"github.com/MrWong99/hrvoice/internal/observe"
	"github.com/MrWong99/hrvoice/pkg/provider/llm"
)

const (
	generationTemperature = 0.7
	generationMaxTokens   = 500
)

// Generation is the reply produced for one transcript. Failed marks the
// apology fallback.
type Generation struct {
	Content    string
	TokenCount int
	Failed     bool
}

// Generator produces a reply for an annotated transcript. It never fails;
// provider errors yield an apology with Failed set.
type Generator interface {
	Generate(ctx context.Context, ann Annotation, mode, override string) Generation
}

// ResponseGenerator is the [Generator] backed by an [llm.Provider].
type ResponseGenerator struct {
	provider llm.Provider
	opts     adapterOptions
}

var _ Generator = (*ResponseGenerator)(nil)

// NewResponseGenerator wraps p. A nil p always yields the fallback.
func NewResponseGenerator(p llm.Provider, opts ...AdapterOption) *ResponseGenerator {
	return &ResponseGenerator{provider: p, opts: newAdapterOptions(opts)}
}

// Generate sends the prompt resolved from mode and override as the system
// message and the annotated transcript as the user message.
func (g *ResponseGenerator) Generate(ctx context.Context, ann Annotation, mode, override string) Generation {
	if g.provider == nil {
		observe.Logger(ctx).Warn("text generation not configured")
		return Generation{Content: MsgNotConfigured, TokenCount: apologyTokenCount, Failed: true}
	}
	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: ResolvePrompt(mode, override),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: ann.Annotated()}},
		Temperature:  generationTemperature,
		MaxTokens:    generationMaxTokens,
	})
	g.opts.record(ctx, "llm", err)
	if err != nil {
		observe.Logger(ctx).Warn("text generation failed", "provider", g.opts.name, "error", err)
		return Generation{Content: MsgApology, TokenCount: apologyTokenCount, Failed: true}
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		observe.Logger(ctx).Warn("text generation returned no content", "provider", g.opts.name)
		return Generation{Content: MsgApology, TokenCount: apologyTokenCount, Failed: true}
	}
	return Generation{Content: resp.Content, TokenCount: resp.Usage.TotalTokens}
}
