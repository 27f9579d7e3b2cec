// Command hrvoice is the main entry point for the HR assistant voice server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/hrvoice/internal/app"
	"github.com/MrWong99/hrvoice/internal/config"
	"github.com/MrWong99/hrvoice/internal/health"
	"github.com/MrWong99/hrvoice/internal/observe"
	"github.com/MrWong99/hrvoice/pkg/provider/llm"
	"github.com/MrWong99/hrvoice/pkg/provider/llm/anyllm"
	llmmock "github.com/MrWong99/hrvoice/pkg/provider/llm/mock"
	oallm "github.com/MrWong99/hrvoice/pkg/provider/llm/openai"
	"github.com/MrWong99/hrvoice/pkg/provider/moderation"
	modmock "github.com/MrWong99/hrvoice/pkg/provider/moderation/mock"
	oamod "github.com/MrWong99/hrvoice/pkg/provider/moderation/openai"
	"github.com/MrWong99/hrvoice/pkg/provider/stt"
	sttmock "github.com/MrWong99/hrvoice/pkg/provider/stt/mock"
	oastt "github.com/MrWong99/hrvoice/pkg/provider/stt/openai"
	"github.com/MrWong99/hrvoice/pkg/provider/stt/whisper"
	"github.com/MrWong99/hrvoice/pkg/provider/tts"
	"github.com/MrWong99/hrvoice/pkg/provider/tts/coqui"
	"github.com/MrWong99/hrvoice/pkg/provider/tts/elevenlabs"
	ttsmock "github.com/MrWong99/hrvoice/pkg/provider/tts/mock"
	oatts "github.com/MrWong99/hrvoice/pkg/provider/tts/openai"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload the log level when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hrvoice: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hrvoice: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("hrvoice starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		SampleRatio:    cfg.Telemetry.SampleRatio(),
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := app.BuildProviders(cfg, reg, app.WithBreakerMetrics(observe.DefaultMetrics()))
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	var appOpts []app.Option
	if *watch {
		w, err := config.NewWatcher(*configPath, func(d config.ConfigDiff, _ *config.Config) {
			applyConfigChange(level, d)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go func() { _ = w.Run(ctx) }()
			go reloadOnHangup(ctx, w)
			appOpts = append(appOpts, app.WithHealthChecker(health.Checker{
				Name:     "config",
				Check:    func(context.Context) error { return w.Err() },
				Optional: true,
			}))
		}
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, appOpts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyConfigChange applies the hot-reloadable part of d and reports the rest.
func applyConfigChange(level *slog.LevelVar, d config.ConfigDiff) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after a restart", "sections", d.RestartRequired)
	}
}

// reloadOnHangup forces a config reload on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := w.Reload(); err == nil {
				slog.Info("config reloaded on SIGHUP")
			}
		}
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		if err := config.RequireAPIKey(entry); err != nil {
			return nil, err
		}
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		if err := config.RequireAPIKey(entry); err != nil {
			return nil, err
		}
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other chat backend goes through any-llm-go. APIKey is optional:
	// local servers (ollama, llamacpp, llamafile) need none and the hosted
	// backends fall back to their usual environment variables.
	for _, backend := range anyllm.Backends() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			return anyllm.New(anyllm.Config{
				Backend: backend,
				Model:   entry.Model,
				APIKey:  entry.APIKey,
				BaseURL: entry.BaseURL,
			})
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		if err := config.RequireAPIKey(entry); err != nil {
			return nil, err
		}
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		return oatts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		if err := config.RequireAPIKey(entry); err != nil {
			return nil, err
		}
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voices := optStringMap(entry.Options, "voices"); len(voices) > 0 {
			opts = append(opts, elevenlabs.WithVoiceMap(voices))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if voices := optStringMap(entry.Options, "voices"); len(voices) > 0 {
			opts = append(opts, coqui.WithVoiceMap(voices))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Moderation ────────────────────────────────────────────────────────────

	reg.RegisterModeration("openai", func(entry config.ProviderEntry) (moderation.Provider, error) {
		if err := config.RequireAPIKey(entry); err != nil {
			return nil, err
		}
		var opts []oamod.Option
		if entry.BaseURL != "" {
			opts = append(opts, oamod.WithBaseURL(entry.BaseURL))
		}
		return oamod.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Canned mocks (voice.mock_external_calls) ──────────────────────────────

	reg.RegisterSTT(app.MockProviderName, func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{Result: &stt.Transcript{Text: "How many vacation days do I have left this year?"}}, nil
	})
	reg.RegisterLLM(app.MockProviderName, func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{
			Replies: []string{
				"You can check your remaining vacation days in the HR portal under Time Off. Would you like me to explain how carry-over works?",
				"Up to five unused days carry over into the first quarter of next year.",
			},
			TokensPerReply: 148,
		}, nil
	})
	reg.RegisterTTS(app.MockProviderName, func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})
	reg.RegisterModeration(app.MockProviderName, func(config.ProviderEntry) (moderation.Provider, error) {
		return &modmock.Provider{}, nil
	})

	for _, kind := range []string{"stt", "llm", "tts", "moderation"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         hrvoice: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	if cfg.Voice.MockExternalCalls {
		fmt.Printf("║  %-12s    : %-19s ║\n", "Providers", "mock (canned)")
	} else {
		printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
		printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
		printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
		printProvider("Moderation", cfg.Providers.Moderation.Name, cfg.Providers.Moderation.Model)
	}
	fmt.Printf("║  Store           : %-19s ║\n", cfg.Store.Type)
	fmt.Printf("║  Usage           : %-19s ║\n", cfg.Usage.Driver)
	fmt.Printf("║  Rate limit      : %-19s ║\n", fmt.Sprintf("%d / %s", cfg.Voice.RateLimit.Limit, cfg.Voice.RateLimit.Window))
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optStringMap extracts a string-to-string map (e.g., voice name to voice ID)
// from a provider Options map. Non-string values are skipped.
func optStringMap(opts map[string]any, key string) map[string]string {
	raw, ok := opts[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
