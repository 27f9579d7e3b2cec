// Package app wires all hrvoice subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and preloads filler phrases until the context
// ends, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithUsageRecorder, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hrvoice/internal/api"
	"github.com/MrWong99/hrvoice/internal/audiostore"
	"github.com/MrWong99/hrvoice/internal/config"
	"github.com/MrWong99/hrvoice/internal/health"
	"github.com/MrWong99/hrvoice/internal/observe"
	"github.com/MrWong99/hrvoice/internal/store"
	"github.com/MrWong99/hrvoice/internal/usage"
	"github.com/MrWong99/hrvoice/internal/voice"
)

// serverShutdownTimeout bounds the graceful HTTP drain once Run's context ends.
const serverShutdownTimeout = 15 * time.Second

// App owns all subsystem lifetimes and serves the voice pipeline over HTTP.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store          store.Store
	usage          usage.Recorder
	audio          *audiostore.Store
	metrics        *observe.Metrics
	metricsHandler http.Handler
	extraChecks    []health.Checker
	pipeline       *voice.Pipeline
	preloader      *voice.Preloader
	handler        http.Handler
	server         *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a shared-state store instead of creating one from config.
// The caller keeps ownership; Shutdown does not close it.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithUsageRecorder injects a usage recorder instead of creating one from config.
// The caller keeps ownership; Shutdown does not close it.
func WithUsageRecorder(r usage.Recorder) Option {
	return func(a *App) { a.usage = r }
}

// WithMetrics injects a metrics instance instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithHealthChecker adds c to the /readyz checks.
func WithHealthChecker(c health.Checker) Option {
	return func(a *App) { a.extraChecks = append(a.extraChecks, c) }
}

// WithMetricsHandler replaces the Prometheus /metrics handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from [BuildProviders]; nil slots degrade their stage on every turn.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	// ── 1. Shared state ──────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Usage recorder ────────────────────────────────────────────────
	if err := a.initUsage(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init usage: %w", err)
	}

	// ── 3. Audio store ───────────────────────────────────────────────────
	a.audio = audiostore.New(cfg.Server.PublicURL,
		audiostore.WithMaxEntries(cfg.Audio.MaxEntries),
		audiostore.WithMaxAge(cfg.Audio.MaxAge),
	)

	// ── 4. Pipeline ──────────────────────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	sc := a.cfg.Store
	var opts []store.Option
	if store.Type(sc.Type) == store.TypeRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		})
		opts = append(opts, store.WithRedisClient(client))
		if sc.KeyPrefix != "" {
			opts = append(opts, store.WithKeyPrefix(sc.KeyPrefix))
		}
	}
	s, err := store.New(store.Type(sc.Type), opts...)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, s.Close)
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("ping %s store: %w", sc.Type, err)
	}
	a.store = s
	slog.Info("store ready", "type", sc.Type)
	return nil
}

func (a *App) initUsage(ctx context.Context) error {
	if a.usage != nil {
		return nil
	}
	uc := a.cfg.Usage
	switch uc.Driver {
	case config.UsagePostgres:
		p, err := usage.NewPostgres(ctx, uc.PostgresDSN)
		if err != nil {
			return err
		}
		a.usage = p
	case config.UsageSupabase:
		s, err := usage.NewSupabase(uc.Supabase.URL, uc.Supabase.Key, uc.Supabase.Table)
		if err != nil {
			return err
		}
		a.usage = s
	default:
		a.usage = usage.Nop{}
	}
	a.closers = append(a.closers, a.usage.Close)
	slog.Info("usage recorder ready", "driver", uc.Driver)
	return nil
}

func (a *App) initPipeline() error {
	vc := a.cfg.Voice
	pc := a.cfg.Providers

	common := []voice.AdapterOption{voice.WithAdapterMetrics(a.metrics)}
	withName := func(name string, extra ...voice.AdapterOption) []voice.AdapterOption {
		if a.cfg.Voice.MockExternalCalls {
			name = MockProviderName
		}
		out := append([]voice.AdapterOption{voice.WithProviderName(name)}, common...)
		return append(out, extra...)
	}

	var sttOpts []voice.AdapterOption
	if vc.Language != "" {
		sttOpts = append(sttOpts, voice.WithLanguage(vc.Language))
	}
	transcriber := voice.NewSpeechToText(a.providers.STT, withName(pc.STT.Name, sttOpts...)...)
	moderator := voice.NewContentModerator(a.providers.Moderation, withName(pc.Moderation.Name)...)
	generator := voice.NewResponseGenerator(a.providers.LLM, withName(pc.LLM.Name)...)

	var ttsOpts []voice.AdapterOption
	if pc.TTS.Model != "" {
		ttsOpts = append(ttsOpts, voice.WithSpeechModel(pc.TTS.Model))
	}
	synthesizer := voice.NewTextToSpeech(a.providers.TTS, a.audio, voice.NewPhraseCache(), withName(pc.TTS.Name, ttsOpts...)...)

	limiter := voice.NewRateLimiter(a.store,
		voice.WithLimit(vc.RateLimit.Limit),
		voice.WithWindow(vc.RateLimit.Window),
	)
	cache := voice.NewResponseCache(a.store,
		voice.WithTTL(vc.Cache.TTL),
		voice.WithMaxEntries(vc.Cache.MaxEntries),
		voice.WithAudioCheck(a.audio.Alive),
	)

	p, err := voice.New(voice.Stages{
		Transcriber: transcriber,
		Moderator:   moderator,
		Generator:   generator,
		Synthesizer: synthesizer,
	},
		voice.WithRateLimiter(limiter),
		voice.WithResponseCache(cache),
		voice.WithStageTimeout(vc.StageTimeout),
		voice.WithUsageRecorder(a.usage),
		voice.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.pipeline = p

	if !vc.Preload.Disabled {
		a.preloader = voice.NewPreloader(synthesizer,
			voice.WithPreloadDelay(vc.Preload.Delay),
			voice.WithPreloadTimeout(vc.StageTimeout),
			voice.WithPreloadMetrics(a.metrics),
		)
	}
	return nil
}

func (a *App) initHTTP() {
	mux := http.NewServeMux()

	api.New(a.pipeline,
		api.WithMaxAudioBytes(a.cfg.Voice.MaxAudioBytes),
		api.WithDefaultVoice(a.cfg.Voice.DefaultVoice),
	).Register(mux)
	a.audio.Register(mux)

	checkers := []health.Checker{health.PingChecker("store", a.store)}
	if p, ok := a.usage.(health.Pinger); ok {
		c := health.PingChecker("usage", p)
		c.Optional = true
		checkers = append(checkers, c)
	}
	checkers = append(checkers, health.Checker{
		Name:     "providers",
		Check:    a.providers.CheckBreakers,
		Optional: true,
	})
	checkers = append(checkers, a.extraChecks...)
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", a.metricsHandler)

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Handler returns the fully wrapped HTTP handler. Useful for tests.
func (a *App) Handler() http.Handler { return a.handler }

// Pipeline returns the voice pipeline.
func (a *App) Pipeline() *voice.Pipeline { return a.pipeline }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and preloads filler phrases in
// the background. It blocks until ctx is cancelled or the server fails, then
// drains in-flight requests. A cancelled ctx yields ctx.Err().
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run but accepts connections on ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve http: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.preloader != nil {
		a.preloader.Start(gctx, a.cfg.Voice.DefaultVoice)
	}

	slog.Info("app running", "listen_addr", ln.Addr().String())
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.preloader != nil {
			a.preloader.Stop()
		}

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New opened before failing.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
