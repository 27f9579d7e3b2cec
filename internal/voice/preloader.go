package voice

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/hrvoice/internal/observe"
)

// FillerPhrases are the short utterances preloaded into the phrase cache.
var FillerPhrases = []string{
	"Let me think about that.",
	"Good question.",
	"One moment, please.",
	"I understand.",
	"Let me look into that for you.",
	"Thanks for your patience.",
	"Could you tell me a bit more?",
}

const (
	// DefaultPreloadDelay separates consecutive synthesis calls.
	DefaultPreloadDelay = 100 * time.Millisecond

	defaultPreloadTimeout = 30 * time.Second
)

// Preloader warms the phrase cache of a [TextToSpeech] in the background.
type Preloader struct {
	tts     *TextToSpeech
	phrases []string
	delay   time.Duration
	timeout time.Duration
	metrics *observe.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// PreloaderOption configures a [Preloader].
type PreloaderOption func(*Preloader)

// WithPhrases replaces [FillerPhrases].
func WithPhrases(phrases []string) PreloaderOption {
	return func(p *Preloader) { p.phrases = phrases }
}

// WithPreloadDelay sets the pause between synthesis calls.
func WithPreloadDelay(d time.Duration) PreloaderOption {
	return func(p *Preloader) { p.delay = d }
}

// WithPreloadTimeout bounds each synthesis call.
func WithPreloadTimeout(d time.Duration) PreloaderOption {
	return func(p *Preloader) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithPreloadMetrics records one counter increment per phrase attempt.
func WithPreloadMetrics(m *observe.Metrics) PreloaderOption {
	return func(p *Preloader) { p.metrics = m }
}

// NewPreloader returns a preloader for tts. tts may be nil.
func NewPreloader(tts *TextToSpeech, opts ...PreloaderOption) *Preloader {
	p := &Preloader{
		tts:     tts,
		phrases: FillerPhrases,
		delay:   DefaultPreloadDelay,
		timeout: defaultPreloadTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run synthesizes every phrase not yet cached, in order, waiting the
// configured delay between calls. A failing phrase is logged and skipped.
// Run does nothing without a synthesis provider and returns ctx.Err() when
// cancelled.
func (p *Preloader) Run(ctx context.Context, voice string) error {
	if p.tts == nil || !p.tts.Configured() {
		observe.Logger(ctx).Debug("phrase preload skipped, synthesis not configured")
		return nil
	}
	if voice == "" {
		voice = DefaultVoice
	}
	cache := p.tts.Phrases()
	called := false
	for _, phrase := range p.phrases {
		if _, ok := p.tts.phrase(phrase); ok {
			p.record(ctx, "skipped")
			continue
		}
		if called && p.delay > 0 {
			t := time.NewTimer(p.delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		called = true

		cctx, cancel := context.WithTimeout(ctx, p.timeout)
		url, err := p.tts.render(cctx, phrase, voice, true)
		cancel()
		if err != nil {
			observe.Logger(ctx).Warn("phrase preload failed", "phrase", phrase, "error", err)
			p.record(ctx, "error")
			continue
		}
		cache.Put(phrase, url)
		p.record(ctx, "ok")
	}
	return nil
}

// Start runs the preloader in a background goroutine. Further calls have no
// effect until [Preloader.Stop].
func (p *Preloader) Start(ctx context.Context, voice string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	go func() {
		defer close(done)
		if err := p.Run(ctx, voice); err != nil {
			observe.Logger(ctx).Debug("phrase preload stopped", "error", err)
		}
	}()
}

// Stop cancels a background run and waits for it to finish. It is safe to
// call without a prior Start and more than once.
func (p *Preloader) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Preloader) record(ctx context.Context, status string) {
	if p.metrics != nil {
		p.metrics.RecordPreload(ctx, status)
	}
}
