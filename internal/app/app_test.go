package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/hrvoice/internal/app"
	"github.com/MrWong99/hrvoice/internal/config"
	"github.com/MrWong99/hrvoice/internal/health"
	"github.com/MrWong99/hrvoice/internal/observe"
	"github.com/MrWong99/hrvoice/internal/store"
	"github.com/MrWong99/hrvoice/internal/voice"
	"github.com/MrWong99/hrvoice/pkg/provider/llm"
	llmmock "github.com/MrWong99/hrvoice/pkg/provider/llm/mock"
	modmock "github.com/MrWong99/hrvoice/pkg/provider/moderation/mock"
	"github.com/MrWong99/hrvoice/pkg/provider/stt"
	sttmock "github.com/MrWong99/hrvoice/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/hrvoice/pkg/provider/tts/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Voice:  config.VoiceConfig{Preload: config.PreloadConfig{Disabled: true}},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testProviders() *app.Providers {
	return &app.Providers{
		STT: &sttmock.Provider{Result: &stt.Transcript{Text: "How many vacation days do I get?"}},
		LLM: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
			Content: "You get twenty five days per year.",
		}},
		TTS:        &ttsmock.Provider{},
		Moderation: &modmock.Provider{},
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newApp(t *testing.T, cfg *config.Config, ps *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, ps, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func postTurn(t *testing.T, url, userID string) *voice.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("conversation_id", "conv-1")
	_ = mw.WriteField("user_id", userID)
	_ = mw.WriteField("mode", "benefits")
	fw, _ := mw.CreateFormFile("audio", "turn.webm")
	_, _ = fw.Write([]byte("fake-audio"))
	_ = mw.Close()

	resp, err := http.Post(url+"/v1/voice", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /v1/voice: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("POST /v1/voice: status %d, body %s", resp.StatusCode, body)
	}
	var out voice.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return &out
}

// ── New ──────────────────────────────────────────────────────────────────────

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), testProviders())
	if a.Handler() == nil {
		t.Fatal("Handler() returned nil")
	}
	if a.Pipeline() == nil {
		t.Fatal("Pipeline() returned nil")
	}
}

func TestNew_UsageInitFailureIsReported(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Usage.Driver = config.UsagePostgres
	cfg.Usage.PostgresDSN = "postgres://hr@127.0.0.1:1/hr?connect_timeout=1"

	_, err := app.New(context.Background(), cfg, testProviders(), app.WithMetrics(testMetrics(t)))
	if err == nil {
		t.Fatal("expected error for unreachable usage database")
	}
	if !strings.Contains(err.Error(), "init usage") {
		t.Errorf("error should name the failing subsystem, got: %v", err)
	}
}

// ── HTTP surface ─────────────────────────────────────────────────────────────

func TestApp_VoiceTurnEndToEnd(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), testProviders())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	got := postTurn(t, srv.URL, "user-1")
	if got.Error != voice.TagNone {
		t.Fatalf("unexpected degradation %q: %s", got.Error, got.Text)
	}
	if got.Text != "You get twenty five days per year." {
		t.Errorf("text: got %q", got.Text)
	}
	if !strings.HasPrefix(got.AudioURL, "/v1/audio/") {
		t.Fatalf("audio url: got %q", got.AudioURL)
	}
	if got.TokenCount != voice.EstimateTokens(got.Text) {
		t.Errorf("token count: got %d", got.TokenCount)
	}

	resp, err := http.Get(srv.URL + got.AudioURL)
	if err != nil {
		t.Fatalf("GET audio: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET audio: status %d", resp.StatusCode)
	}
	if string(body) != "mock-audio:You get twenty five days per year." {
		t.Errorf("audio body: got %q", body)
	}
}

func TestApp_RateLimitAcrossRequests(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Voice.RateLimit.Limit = 2
	a := newApp(t, cfg, testProviders())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	postTurn(t, srv.URL, "user-rl")
	postTurn(t, srv.URL, "user-rl")
	if got := postTurn(t, srv.URL, "user-rl"); got.Error != voice.TagRateLimited {
		t.Errorf("third turn: got error %q, want %q", got.Error, voice.TagRateLimited)
	}
	if got := postTurn(t, srv.URL, "user-other"); got.Error == voice.TagRateLimited {
		t.Error("limit must be per user")
	}
}

func TestApp_MissingProvidersDegrade(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), nil)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	got := postTurn(t, srv.URL, "user-1")
	if got.Error != voice.TagSpeechToTextFailed {
		t.Errorf("error: got %q, want %q", got.Error, voice.TagSpeechToTextFailed)
	}
	if got.Text != voice.MsgNotConfigured {
		t.Errorf("text: got %q", got.Text)
	}
}

func TestApp_HealthEndpoints(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), testProviders())

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status %d, body %s", path, rec.Code, rec.Body.String())
		}
	}
}

func TestApp_ReadyzFailsWhenStoreDown(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), testProviders(), app.WithStore(&downStore{Memory: store.NewMemory()}))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", rec.Code)
	}
}

func TestApp_ExtraHealthCheckerDegrades(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), testProviders(), app.WithHealthChecker(health.Checker{
		Name:     "config",
		Check:    func(context.Context) error { return errors.New("reload rejected") },
		Optional: true,
	}))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || !strings.Contains(body.Checks["config"], "reload rejected") {
		t.Errorf("readyz body: %+v", body)
	}
	if body.Checks["store"] != "ok" {
		t.Errorf("store check: %q", body.Checks["store"])
	}
}

type downStore struct {
	*store.Memory
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestApp_MetricsEndpoint(t *testing.T) {
	t.Parallel()
	stub := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "# metrics")
	})
	a := newApp(t, testConfig(), testProviders(), app.WithMetricsHandler(stub))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "# metrics" {
		t.Errorf("metrics: status %d, body %q", rec.Code, rec.Body.String())
	}
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

func TestApp_ServeAndShutdown(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Voice.Preload = config.PreloadConfig{Delay: time.Millisecond}
	a := newApp(t, cfg, testProviders())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Serve(ctx, ln)
	}()

	url := "http://" + ln.Addr().String() + "/healthz"
	var lastErr error
	for i := 0; i < 50; i++ {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			lastErr = nil
			break
		}
		lastErr = err
		time.Sleep(20 * time.Millisecond)
	}
	if lastErr != nil {
		t.Fatalf("server never became reachable: %v", lastErr)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestApp_ShutdownStopsPreloader(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Voice.Preload = config.PreloadConfig{Delay: 50 * time.Millisecond}
	ps := testProviders()
	synth := &ttsmock.Provider{}
	ps.TTS = synth
	a := newApp(t, cfg, ps)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx, ln) }()

	deadline := time.Now().Add(5 * time.Second)
	for synth.CallCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("preloader never synthesized a phrase")
		}
		time.Sleep(5 * time.Millisecond)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	calls := synth.CallCount()
	if calls >= len(voice.FillerPhrases) {
		t.Skipf("preload finished before shutdown (%d calls)", calls)
	}
	time.Sleep(200 * time.Millisecond)
	if got := synth.CallCount(); got != calls {
		t.Errorf("synthesis calls after Shutdown: %d, want %d", got, calls)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancellation")
	}
}

func TestApp_ShutdownIsIdempotent(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), testProviders())
	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown() error: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}

func TestApp_ShutdownExpiredContext(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(), testProviders())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown() with cancelled ctx: got %v, want context.Canceled", err)
	}
}
