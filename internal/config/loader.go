package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/hrvoice/internal/voice"
)

// EnvOpenAIAPIKey is consulted when an "openai" provider entry has no api_key.
const EnvOpenAIAPIKey = "OPENAI_API_KEY"

// DefaultListenAddr is used when server.listen_addr is empty.
const DefaultListenAddr = ":8080"

// DefaultMaxAudioBytes is used when voice.max_audio_bytes is zero.
const DefaultMaxAudioBytes int64 = 25 << 20

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"openai", "whisper", "mock"},
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "mock"},
	"tts":        {"openai", "elevenlabs", "coqui", "mock"},
	"moderation": {"openai", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued settings with their defaults and resolves
// environment fallbacks for provider credentials. Safe to call repeatedly.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	v := &cfg.Voice
	if v.DefaultVoice == "" {
		v.DefaultVoice = voice.DefaultVoice
	}
	if v.StageTimeout == 0 {
		v.StageTimeout = voice.DefaultStageTimeout
	}
	if v.MaxAudioBytes == 0 {
		v.MaxAudioBytes = DefaultMaxAudioBytes
	}
	if v.RateLimit.Limit == 0 {
		v.RateLimit.Limit = voice.DefaultRateLimit
	}
	if v.RateLimit.Window == 0 {
		v.RateLimit.Window = voice.DefaultRateWindow
	}
	if v.Cache.TTL == 0 {
		v.Cache.TTL = voice.DefaultCacheTTL
	}
	if v.Cache.MaxEntries == 0 {
		v.Cache.MaxEntries = voice.DefaultCacheMaxEntries
	}
	if v.Preload.Delay == 0 {
		v.Preload.Delay = voice.DefaultPreloadDelay
	}

	if cfg.Store.Type == "" {
		cfg.Store.Type = "memory"
	}
	if cfg.Usage.Driver == "" {
		cfg.Usage.Driver = UsageNop
	}

	key := os.Getenv(EnvOpenAIAPIKey)
	for _, e := range []*ProviderEntry{
		&cfg.Providers.STT, &cfg.Providers.LLM, &cfg.Providers.TTS, &cfg.Providers.Moderation,
	} {
		resolveAPIKey(e, key)
		for i := range e.Fallbacks {
			resolveAPIKey(&e.Fallbacks[i], key)
		}
	}
}

func resolveAPIKey(e *ProviderEntry, envKey string) {
	if e.Name == "openai" && e.APIKey == "" {
		e.APIKey = envKey
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	kinds := []struct {
		kind  string
		entry ProviderEntry
	}{
		{"stt", cfg.Providers.STT},
		{"llm", cfg.Providers.LLM},
		{"tts", cfg.Providers.TTS},
		{"moderation", cfg.Providers.Moderation},
	}
	for _, k := range kinds {
		validateProviderName(k.kind, k.entry.Name)
		if k.entry.Name == "" && len(k.entry.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks requires providers.%s.name", k.kind, k.kind))
		}
		for i, fb := range k.entry.Fallbacks {
			prefix := fmt.Sprintf("providers.%s.fallbacks[%d]", k.kind, i)
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			}
			if len(fb.Fallbacks) > 0 {
				errs = append(errs, fmt.Errorf("%s.fallbacks may not be nested", prefix))
			}
			validateProviderName(k.kind, fb.Name)
		}
		if k.entry.Name == "" && !cfg.Voice.MockExternalCalls {
			slog.Warn("provider not configured; the stage will degrade on every turn", "kind", k.kind)
		}
	}
	cb := cfg.Providers.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.circuit_breaker values must not be negative"))
	}

	// Voice
	v := cfg.Voice
	if v.StageTimeout < 0 {
		errs = append(errs, fmt.Errorf("voice.stage_timeout %s must be positive", v.StageTimeout))
	}
	if v.MaxAudioBytes < 0 {
		errs = append(errs, fmt.Errorf("voice.max_audio_bytes %d must be positive", v.MaxAudioBytes))
	}
	if v.RateLimit.Limit < 0 {
		errs = append(errs, fmt.Errorf("voice.rate_limit.limit %d must be positive", v.RateLimit.Limit))
	}
	if v.RateLimit.Window < 0 {
		errs = append(errs, fmt.Errorf("voice.rate_limit.window %s must be positive", v.RateLimit.Window))
	}
	if v.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("voice.cache.ttl %s must be positive", v.Cache.TTL))
	}
	if v.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("voice.cache.max_entries %d must be positive", v.Cache.MaxEntries))
	}
	if v.Preload.Delay < 0 {
		errs = append(errs, fmt.Errorf("voice.preload.delay %s must not be negative", v.Preload.Delay))
	}

	// Store
	switch cfg.Store.Type {
	case "", "memory":
	case "redis":
		if cfg.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required when store.type is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.type %q is invalid; valid values: memory, redis", cfg.Store.Type))
	}

	// Usage
	switch u := cfg.Usage; {
	case u.Driver != "" && !u.Driver.IsValid():
		errs = append(errs, fmt.Errorf("usage.driver %q is invalid; valid values: nop, postgres, supabase", u.Driver))
	case u.Driver == UsagePostgres && u.PostgresDSN == "":
		errs = append(errs, errors.New("usage.postgres_dsn is required when usage.driver is postgres"))
	case u.Driver == UsageSupabase && (u.Supabase.URL == "" || u.Supabase.Key == ""):
		errs = append(errs, errors.New("usage.supabase.url and usage.supabase.key are required when usage.driver is supabase"))
	}

	// Audio
	if cfg.Audio.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("audio.max_entries %d must not be negative", cfg.Audio.MaxEntries))
	}
	if cfg.Audio.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("audio.max_age %s must not be negative", cfg.Audio.MaxAge))
	}

	if r := cfg.Telemetry.SampleRatio(); r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %v must be between 0 and 1", r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
