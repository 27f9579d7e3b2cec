// Package moderation defines the Provider interface for content-moderation
// backends.
//
// A moderation provider classifies a piece of text against a policy and
// reports which categories it violates together with a per-category score.
// The voice pipeline treats every provider failure as "not flagged", so
// implementations should simply return errors and leave the policy to the
// caller.
//
// Implementations must be safe for concurrent use.
package moderation

import "context"

// Result is the raw classification of one input.
type Result struct {
	// Flagged reports whether the backend considers the input a violation.
	Flagged bool

	// Categories lists the names of the violated categories, sorted.
	Categories []string

	// Scores holds the backend's numeric score per category (0..1).
	Scores map[string]float64
}

// MaxScore returns the highest per-category score, or 0 when Scores is empty.
func (r *Result) MaxScore() float64 {
	var top float64
	for _, s := range r.Scores {
		if s > top {
			top = s
		}
	}
	return top
}

// Provider is the abstraction over any moderation backend.
type Provider interface {
	// Moderate classifies text. Returns an error if the backend cannot be
	// reached, answers with a non-OK status, or ctx is cancelled.
	Moderate(ctx context.Context, text string) (*Result, error)
}
