// Package usage records one row per voice turn: who spoke, which mode, how
// many tokens the reply cost and how the turn ended. Recording is best
// effort; the pipeline logs failures and never lets them affect a turn.
package usage

import (
	"context"
	"time"
)

// Record describes one processed voice turn.
type Record struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	UserID         string        `json:"user_id"`
	Mode           string        `json:"mode"`
	TokenCount     int           `json:"token_count"`
	ErrorTag       string        `json:"error_tag"`
	CacheHit       bool          `json:"cache_hit"`
	Duration       time.Duration `json:"-"`
	DurationMS     int64         `json:"duration_ms"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Recorder persists usage records. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, r Record) error
	Close() error
}

// Nop discards every record.
type Nop struct{}

var _ Recorder = Nop{}

// Record implements Recorder.
func (Nop) Record(context.Context, Record) error { return nil }

// Close implements Recorder.
func (Nop) Close() error { return nil }
