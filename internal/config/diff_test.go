package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/hrvoice/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini", Options: map[string]any{"k": "v"}},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old, cur := baseConfig(), baseConfig()
	cur.Server.LogLevel = config.LogDebug

	d := config.Diff(old, cur)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level change not detected: %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone must not require a restart, got %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, cur := baseConfig(), baseConfig()
	cur.Providers.LLM.Options = map[string]any{"k": "w"}
	cur.Voice.RateLimit.Limit = 20
	cur.Voice.Cache.TTL = time.Minute
	cur.Store.Type = "redis"

	d := config.Diff(old, cur)
	for _, want := range []string{"providers", "voice.rate_limit", "voice.cache", "store"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired should contain %q, got %v", want, d.RestartRequired)
		}
	}
	if slices.Contains(d.RestartRequired, "usage") {
		t.Errorf("usage did not change, got %v", d.RestartRequired)
	}
	if d.LogLevelChanged {
		t.Error("log level did not change")
	}
}

func TestDiff_TLSPointer(t *testing.T) {
	t.Parallel()
	old, cur := baseConfig(), baseConfig()
	old.Server.TLS = &config.TLSConfig{CertFile: "a", KeyFile: "b"}
	cur.Server.TLS = &config.TLSConfig{CertFile: "a", KeyFile: "b"}
	if d := config.Diff(old, cur); d.Changed() {
		t.Errorf("equal TLS blocks should not differ, got %+v", d)
	}
	cur.Server.TLS.KeyFile = "c"
	if d := config.Diff(old, cur); !slices.Contains(d.RestartRequired, "server.tls") {
		t.Errorf("TLS change not detected: %+v", d)
	}
}

func TestDiff_TelemetrySampleRatio(t *testing.T) {
	t.Parallel()
	old, cur := baseConfig(), baseConfig()
	a, b := 0.5, 0.5
	old.Telemetry.TraceSampleRatio = &a
	cur.Telemetry.TraceSampleRatio = &b
	if d := config.Diff(old, cur); d.Changed() {
		t.Errorf("equal ratios behind distinct pointers should not differ: %+v", d)
	}

	c := 0.1
	cur.Telemetry.TraceSampleRatio = &c
	if d := config.Diff(old, cur); !slices.Contains(d.RestartRequired, "telemetry") {
		t.Errorf("ratio change should require restart, got %v", d.RestartRequired)
	}
}
