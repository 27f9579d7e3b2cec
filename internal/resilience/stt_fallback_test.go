package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/hrvoice/pkg/provider/stt"
	sttmock "github.com/MrWong99/hrvoice/pkg/provider/stt/mock"
)

func TestSTTFallback_Transcribe_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{Result: &stt.Transcript{Text: "primary"}}
	secondary := &sttmock.Provider{Result: &stt.Transcript{Text: "secondary"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	tr, err := fb.Transcribe(context.Background(), stt.Request{Audio: []byte("clip")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "primary" {
		t.Fatalf("text = %q, want primary", tr.Text)
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestSTTFallback_Transcribe_Failover(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Result: &stt.Transcript{Text: "secondary"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	tr, err := fb.Transcribe(context.Background(), stt.Request{Audio: []byte("clip")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "secondary" {
		t.Fatalf("text = %q, want secondary", tr.Text)
	}
	if got := string(secondary.Calls[0].Req.Audio); got != "clip" {
		t.Fatalf("secondary audio = %q, want clip", got)
	}
}

func TestSTTFallback_Transcribe_AllFail(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Err: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), stt.Request{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
