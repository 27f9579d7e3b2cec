package moderation

import "testing"

func TestResult_MaxScore(t *testing.T) {
	r := &Result{Scores: map[string]float64{"harassment": 0.12, "violence": 0.87, "hate": 0.3}}
	if got := r.MaxScore(); got != 0.87 {
		t.Errorf("MaxScore() = %v, want 0.87", got)
	}
}

func TestResult_MaxScoreEmpty(t *testing.T) {
	r := &Result{}
	if got := r.MaxScore(); got != 0 {
		t.Errorf("MaxScore() = %v, want 0", got)
	}
}
