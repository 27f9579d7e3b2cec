// Package voice implements one voice turn of the HR assistant: admission
// control, transcription, moderation, reply generation with a response cache,
// and speech synthesis.
//
// Every stage boundary degrades to text. [Pipeline.Process] always returns a
// [Response] whose Text tells the user what happened; the Error tag names the
// stage that degraded.
package voice

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/hrvoice/internal/observe"
	"github.com/MrWong99/hrvoice/internal/store"
	"github.com/MrWong99/hrvoice/internal/usage"
)

// DefaultStageTimeout bounds each external call of a turn.
const DefaultStageTimeout = 30 * time.Second

// usageTimeout bounds the usage write after a turn.
const usageTimeout = 5 * time.Second

// Stages are the four external capabilities a turn calls, in order.
type Stages struct {
	Transcriber Transcriber
	Moderator   Moderator
	Generator   Generator
	Synthesizer Synthesizer
}

// Pipeline orchestrates voice turns. It is safe for concurrent use.
type Pipeline struct {
	stages       Stages
	limiter      RateLimiter
	cache        *ResponseCache
	stageTimeout time.Duration
	usage        usage.Recorder
	metrics      *observe.Metrics
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithRateLimiter sets the admission control. Default: a [WindowLimiter]
// over an in-memory store.
func WithRateLimiter(l RateLimiter) Option {
	return func(p *Pipeline) { p.limiter = l }
}

// WithResponseCache sets the response cache. Default: a [ResponseCache] over
// an in-memory store.
func WithResponseCache(c *ResponseCache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithStageTimeout bounds each external call. Default: [DefaultStageTimeout].
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.stageTimeout = d
		}
	}
}

// WithUsageRecorder receives one record per turn. Default: [usage.Nop].
func WithUsageRecorder(r usage.Recorder) Option {
	return func(p *Pipeline) { p.usage = r }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New returns a Pipeline calling stages. All four stages are required.
func New(stages Stages, opts ...Option) (*Pipeline, error) {
	var errs []error
	if stages.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if stages.Moderator == nil {
		errs = append(errs, errors.New("moderator is required"))
	}
	if stages.Generator == nil {
		errs = append(errs, errors.New("generator is required"))
	}
	if stages.Synthesizer == nil {
		errs = append(errs, errors.New("synthesizer is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("voice: %w", err)
	}

	p := &Pipeline{
		stages:       stages,
		stageTimeout: DefaultStageTimeout,
		usage:        usage.Nop{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.limiter == nil || p.cache == nil {
		mem := store.NewMemory()
		if p.limiter == nil {
			p.limiter = NewRateLimiter(mem)
		}
		if p.cache == nil {
			p.cache = NewResponseCache(mem)
		}
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Process runs one voice turn for audio. It never fails: every degradation,
// including a panic in any stage, is reported through the returned
// Response's Error tag with user guidance in Text.
func (p *Pipeline) Process(ctx context.Context, audio []byte, cfg SessionConfig) (resp *Response) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "voice.process", trace.WithAttributes(
		attribute.String("conversation_id", cfg.ConversationID),
		attribute.String("mode", cfg.Mode),
	))
	defer span.End()

	p.metrics.ActiveTurns.Add(ctx, 1)
	defer p.metrics.ActiveTurns.Add(ctx, -1)

	var cacheHit bool
	defer func() {
		if r := recover(); r != nil {
			observe.Logger(ctx).Error("voice turn panicked",
				"conversation_id", cfg.ConversationID,
				"error", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			span.SetStatus(codes.Error, fmt.Sprint(r))
			resp = &Response{Text: MsgGeneralError, Error: TagGeneral}
		}
		p.finish(ctx, cfg, resp, cacheHit, time.Since(start))
	}()

	return p.process(ctx, audio, cfg, &cacheHit)
}

func (p *Pipeline) process(ctx context.Context, audio []byte, cfg SessionConfig, cacheHit *bool) *Response {
	log := observe.Logger(ctx).With("conversation_id", cfg.ConversationID)

	allowed, err := p.limiter.Allow(ctx, cfg.UserID)
	if err != nil {
		log.Warn("rate limiter unavailable, admitting turn", "error", err)
	}
	if !allowed {
		p.metrics.RateLimited.Add(ctx, 1)
		return &Response{Text: MsgRateLimited, Error: TagRateLimited}
	}

	var ann Annotation
	err = p.stage(ctx, "stt", p.metrics.STTDuration, func(ctx context.Context) error {
		var err error
		ann, err = p.stages.Transcriber.Transcribe(ctx, audio, cfg)
		return err
	})
	switch {
	case errors.Is(err, ErrEmptyTranscript):
		return &Response{Text: MsgEmptyTranscription, Error: TagEmptyTranscription}
	case errors.Is(err, ErrNotConfigured):
		log.Warn("speech-to-text not configured")
		return &Response{Text: MsgNotConfigured, Error: TagSpeechToTextFailed}
	case err != nil:
		log.Warn("speech-to-text failed", "error", err)
		return &Response{Text: MsgSpeechToTextFailed, Error: TagSpeechToTextFailed}
	}

	var verdict ModerationVerdict
	_ = p.stage(ctx, "moderation", p.metrics.ModerationDuration, func(ctx context.Context) error {
		verdict = p.stages.Moderator.Moderate(ctx, ann.Transcript)
		return nil
	})
	if verdict.Flagged {
		log.Info("transcript flagged by moderation", "categories", verdict.Categories)
		return &Response{Text: MsgContentFlagged, Moderation: &verdict, Error: TagContentFlagged}
	}

	key := CacheKey(cfg.Mode, ann)
	if cached, ok := p.cache.Get(ctx, key); ok {
		*cacheHit = true
		p.metrics.RecordCacheLookup(ctx, true)
		return cached
	}
	p.metrics.RecordCacheLookup(ctx, false)

	prompt := ResolvePrompt(cfg.Mode, cfg.SystemPrompt) + SpeechInstruction
	var gen Generation
	_ = p.stage(ctx, "llm", p.metrics.LLMDuration, func(ctx context.Context) error {
		gen = p.stages.Generator.Generate(ctx, ann, cfg.Mode, prompt)
		return nil
	})
	if gen.Failed {
		return &Response{
			Text:       fmt.Sprintf(MsgTextProcessingFailed, ann.Transcript),
			TokenCount: gen.TokenCount,
			Moderation: &verdict,
			Error:      TagTextProcessingFailed,
		}
	}

	var speech Speech
	err = p.stage(ctx, "tts", p.metrics.TTSDuration, func(ctx context.Context) error {
		var err error
		speech, err = p.stages.Synthesizer.Synthesize(ctx, gen.Content, cfg)
		return err
	})
	if err != nil {
		log.Warn("text-to-speech failed", "error", err)
		return &Response{
			Text:       gen.Content + MsgAudioFailedNote,
			TokenCount: gen.TokenCount,
			Moderation: &verdict,
			Error:      TagTextToSpeechFailed,
		}
	}

	resp := &Response{
		AudioURL:   speech.AudioURL,
		Text:       gen.Content,
		TokenCount: speech.TokenCount,
		Moderation: &verdict,
	}
	p.cache.Put(ctx, key, resp)
	return resp
}

// stage runs fn under its own span and timeout and records its latency.
func (p *Pipeline) stage(ctx context.Context, name string, hist metric.Float64Histogram, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "voice."+name)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	hist.Record(ctx, time.Since(start).Seconds())
	observe.FailSpan(span, err)
	return err
}

// finish reports a completed turn to metrics and the usage recorder.
func (p *Pipeline) finish(ctx context.Context, cfg SessionConfig, resp *Response, cacheHit bool, elapsed time.Duration) {
	p.metrics.TurnDuration.Record(ctx, elapsed.Seconds())
	p.metrics.RecordTurn(ctx, cfg.Mode, string(resp.Error))

	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageTimeout)
	defer cancel()
	err := p.usage.Record(uctx, usage.Record{
		ConversationID: cfg.ConversationID,
		UserID:         cfg.UserID,
		Mode:           cfg.Mode,
		TokenCount:     resp.TokenCount,
		ErrorTag:       string(resp.Error),
		CacheHit:       cacheHit,
		Duration:       elapsed,
	})
	if err != nil {
		observe.Logger(ctx).Warn("usage record failed",
			"conversation_id", cfg.ConversationID, "error", err)
	}
}
