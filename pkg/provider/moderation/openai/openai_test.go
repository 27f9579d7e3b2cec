package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const flaggedBody = `{
	"id": "modr-1",
	"model": "omni-moderation-latest",
	"results": [{
		"flagged": true,
		"categories": {"harassment": true, "violence": false, "self-harm": true},
		"category_scores": {"harassment": 0.91, "violence": 0.02, "self-harm": 0.55}
	}]
}`

func TestParseResult_Flagged(t *testing.T) {
	res, err := parseResult(flaggedBody)
	if err != nil {
		t.Fatalf("parseResult: %v", err)
	}
	if !res.Flagged {
		t.Error("expected Flagged")
	}
	if len(res.Categories) != 2 || res.Categories[0] != "harassment" || res.Categories[1] != "self-harm" {
		t.Errorf("Categories = %v, want [harassment self-harm]", res.Categories)
	}
	if res.Scores["violence"] != 0.02 {
		t.Errorf("violence score = %v", res.Scores["violence"])
	}
	if res.MaxScore() != 0.91 {
		t.Errorf("MaxScore() = %v, want 0.91", res.MaxScore())
	}
}

func TestParseResult_NoResults(t *testing.T) {
	if _, err := parseResult(`{"results": []}`); err == nil {
		t.Fatal("expected error for empty results")
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestModerate_AgainstFakeServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/moderations" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(flaggedBody))
	}))
	defer srv.Close()

	p, err := New("sk-test", "", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Moderate(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if !res.Flagged || len(res.Categories) != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestModerate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"down"}}`))
	}))
	defer srv.Close()

	p, _ := New("sk-test", "", WithBaseURL(srv.URL+"/"), WithMaxRetries(0))
	if _, err := p.Moderate(context.Background(), "x"); err == nil {
		t.Fatal("expected error from 503 response")
	}
}
