package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "hrvoice:"

	// maxTxRetries bounds optimistic-lock retries before giving up.
	maxTxRetries = 8
)

// Redis is the Store driver backed by Redis.
//
// Windows live in one hash per user ("<prefix>rl:<user>") with fields count
// and reset (unix millis). Cache entries live in a hash of payloads
// ("<prefix>cache:data") plus a sorted set scored by insertion time
// ("<prefix>cache:ts"), so the oldest entry is the lowest-scored member.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ Store = (*Redis)(nil)

// NewRedis creates a Redis store. An empty prefix selects "hrvoice:".
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (s *Redis) windowKey(user string) string { return s.prefix + "rl:" + user }
func (s *Redis) dataKey() string              { return s.prefix + "cache:data" }
func (s *Redis) tsKey() string                { return s.prefix + "cache:ts" }

// UpdateWindow implements WindowStore using WATCH/MULTI/EXEC. The key expires
// ttl after its last write.
func (s *Redis) UpdateWindow(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	rk := s.windowKey(key)
	txf := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, rk).Result()
		if err != nil {
			return err
		}

		var cur Window
		found := len(vals) > 0
		if found {
			cur, err = decodeWindow(vals)
			if err != nil {
				return err
			}
		}

		next, write := fn(cur, found)
		if !write {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, rk,
				"count", next.Count,
				"reset", next.ResetTime.UnixMilli(),
			)
			if ttl > 0 {
				pipe.PExpire(ctx, rk, ttl)
			}
			return nil
		})
		return err
	}
	return s.retry(ctx, txf, rk)
}

func decodeWindow(vals map[string]string) (Window, error) {
	count, err := strconv.Atoi(vals["count"])
	if err != nil {
		return Window{}, fmt.Errorf("store: decode window count: %w", err)
	}
	reset, err := strconv.ParseInt(vals["reset"], 10, 64)
	if err != nil {
		return Window{}, fmt.Errorf("store: decode window reset: %w", err)
	}
	return Window{Count: count, ResetTime: time.UnixMilli(reset)}, nil
}

// Get implements EntryStore.
func (s *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	pipe := s.client.Pipeline()
	dataCmd := pipe.HGet(ctx, s.dataKey(), key)
	tsCmd := pipe.ZScore(ctx, s.tsKey(), key)
	_, err := pipe.Exec(ctx)
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	data, err := dataCmd.Bytes()
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Data: data, Timestamp: time.UnixMilli(int64(tsCmd.Val()))}, true, nil
}

// Put implements EntryStore. The size check, eviction and insert happen in
// one optimistic transaction over both keys.
func (s *Redis) Put(ctx context.Context, key string, e Entry, maxEntries int) (string, error) {
	var evicted string
	txf := func(tx *redis.Tx) error {
		evicted = ""
		n, err := tx.ZCard(ctx, s.tsKey()).Result()
		if err != nil {
			return err
		}
		if maxEntries > 0 && n >= int64(maxEntries) {
			oldest, err := tx.ZRange(ctx, s.tsKey(), 0, 0).Result()
			if err != nil {
				return err
			}
			if len(oldest) > 0 {
				evicted = oldest[0]
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if evicted != "" {
				pipe.ZRem(ctx, s.tsKey(), evicted)
				pipe.HDel(ctx, s.dataKey(), evicted)
			}
			pipe.HSet(ctx, s.dataKey(), key, e.Data)
			pipe.ZAdd(ctx, s.tsKey(), redis.Z{Score: float64(e.Timestamp.UnixMilli()), Member: key})
			return nil
		})
		return err
	}
	if err := s.retry(ctx, txf, s.tsKey(), s.dataKey()); err != nil {
		return "", err
	}
	return evicted, nil
}

// Len implements EntryStore.
func (s *Redis) Len(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.tsKey()).Result()
	return int(n), err
}

// Ping implements Store.
func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *Redis) Close() error {
	return s.client.Close()
}

// retry runs txf under WATCH until it commits or maxTxRetries is reached.
func (s *Redis) retry(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("store: transaction on %v: too much contention", keys)
}
