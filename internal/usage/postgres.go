package usage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlVoiceUsage = `
CREATE TABLE IF NOT EXISTS voice_usage (
    id              UUID         PRIMARY KEY,
    conversation_id TEXT         NOT NULL,
    user_id         TEXT         NOT NULL,
    mode            TEXT         NOT NULL DEFAULT '',
    token_count     INTEGER      NOT NULL DEFAULT 0,
    error_tag       TEXT         NOT NULL DEFAULT '',
    cache_hit       BOOLEAN      NOT NULL DEFAULT FALSE,
    duration_ms     BIGINT       NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_voice_usage_user_created
    ON voice_usage (user_id, created_at);
`

const insertVoiceUsage = `
INSERT INTO voice_usage
    (id, conversation_id, user_id, mode, token_count, error_tag, cache_hit, duration_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// Postgres writes records to the voice_usage table.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Recorder = (*Postgres)(nil)

// NewPostgres opens a pool to dsn, pings it and creates the voice_usage
// table when missing.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("usage postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("usage postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("usage postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlVoiceUsage); err != nil {
		pool.Close()
		return nil, fmt.Errorf("usage postgres: migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Record implements Recorder.
func (p *Postgres) Record(ctx context.Context, r Record) error {
	r = normalize(r)
	_, err := p.pool.Exec(ctx, insertVoiceUsage,
		r.ID, r.ConversationID, r.UserID, r.Mode, r.TokenCount,
		r.ErrorTag, r.CacheHit, r.DurationMS, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("usage postgres: insert: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close implements Recorder.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
