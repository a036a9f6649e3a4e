package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"marketforecast/internal/model"
)

// Hot is the Redis-backed TTL tier: full window slices keyed by
// symbol/timeframe/range, short-lived so stale candles age out on their
// own rather than needing explicit invalidation. Grounded on the
// teacher's Redis writer/reader pair, simplified from candle streams to
// whole-slice caching since the forecasting read path wants a bounded
// window, not a live tick stream.
type Hot struct {
	client *goredis.Client
	ttl    time.Duration
	breaker *CircuitBreaker
	log    *zap.Logger
}

// NewHot connects to Redis and wraps it in a circuit breaker so a down
// Redis degrades the Window Loader to the warm/store tiers instead of
// blocking every request on dial timeouts.
func NewHot(addr, password string, db int, ttl time.Duration, log *zap.Logger) (*Hot, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}

	return &Hot{
		client:  client,
		ttl:     ttl,
		breaker: NewCircuitBreaker(5, 10*time.Second),
		log:     log,
	}, nil
}

func sliceKey(symbol string, tf model.Timeframe, from, to int64) string {
	return fmt.Sprintf("window:%s:%s:%d:%d", symbol, tf, from, to)
}

// Get returns the cached slice for the exact (symbol, tf, from, to) key,
// or (nil, false) on miss, breaker-open, or decode failure — all three
// are treated as "ask the next tier" by the Window Loader.
func (h *Hot) Get(ctx context.Context, symbol string, tf model.Timeframe, from, to int64) (*model.WindowSlice, bool) {
	key := sliceKey(symbol, tf, from, to)
	var raw string
	err := h.breaker.Execute(func() error {
		var innerErr error
		raw, innerErr = h.client.Get(ctx, key).Result()
		return innerErr
	})
	if err != nil {
		if err != goredis.Nil {
			h.log.Debug("cache: hot tier miss or error", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var slice model.WindowSlice
	if err := json.Unmarshal([]byte(raw), &slice); err != nil {
		h.log.Warn("cache: hot tier decode failure, treating as miss", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &slice, true
}

// Put writes slice into the hot tier with the configured TTL. Failures
// are logged and swallowed: the hot tier is an optimization, never a
// source of truth, so a write failure must not fail the caller's request.
func (h *Hot) Put(ctx context.Context, slice model.WindowSlice) {
	key := sliceKey(slice.Symbol, slice.Timeframe, slice.From, slice.To)
	data, err := json.Marshal(slice)
	if err != nil {
		h.log.Warn("cache: hot tier marshal failure", zap.Error(err))
		return
	}
	_ = h.breaker.Execute(func() error {
		return h.client.Set(ctx, key, data, h.ttl).Err()
	})
}

// Clear deletes every window key, for the ClearCache operation. Scans in
// batches rather than FLUSHDB since the hot tier may share a Redis
// database with other keyspaces in a shared deployment.
func (h *Hot) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := h.client.Scan(ctx, cursor, "window:*", 500).Result()
		if err != nil {
			return fmt.Errorf("cache: scan hot tier: %w", err)
		}
		if len(keys) > 0 {
			if err := h.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache: del hot tier keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping satisfies metrics.Pinger for the liveness checker.
func (h *Hot) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (h *Hot) Close() error { return h.client.Close() }
