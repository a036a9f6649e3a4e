// Package loader implements the Window Loader: the single component
// permitted to write candles to the Persistent Store. It walks the
// multi-tier cache (hot Redis, warm in-process LRU, cold S3 archive) before
// falling through to the Persistent Store and finally the upstream provider
// chain, merging survivors by provenance and writing through on every
// upstream fetch. Grounded on the teacher's internal/marketdata fetch-merge
// pipeline, generalized from a single-provider fetch to the five-tier chain
// in the spec.
package loader

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"marketforecast/internal/apperr"
	"marketforecast/internal/cache"
	"marketforecast/internal/clock"
	"marketforecast/internal/metrics"
	"marketforecast/internal/model"
	"marketforecast/internal/upstream"
)

// Store is the Persistent Store's read/write surface the loader depends on.
type Store interface {
	model.CandleWriter
	model.CandleReader
}

// Loader coordinates the tiered cache, the persistent store, and the
// upstream provider chain behind the Window Loader's two operations.
type Loader struct {
	hot   *cache.Hot
	warm  *cache.Warm
	cold  *cache.Cold
	store Store
	chain *upstream.Chain
	cal   clock.Calendar

	minCandles int

	metrics *metrics.Metrics
	log     *zap.Logger
}

// New builds a Loader. hot and cold may be nil (tiers are best-effort); warm
// must not be nil.
func New(hot *cache.Hot, warm *cache.Warm, cold *cache.Cold, store Store, chain *upstream.Chain, cal clock.Calendar, minCandles int, m *metrics.Metrics, log *zap.Logger) *Loader {
	return &Loader{hot: hot, warm: warm, cold: cold, store: store, chain: chain, cal: cal, minCandles: minCandles, metrics: m, log: log}
}

// GetWindow returns candles for (symbol, tf) over [from, to], walking the
// tiers in order: hot -> warm -> cold -> store -> upstream. Any candles
// fetched from upstream are canonicalized, merged with what the tiers
// already had, and written through to the store and caches before return.
func (l *Loader) GetWindow(ctx context.Context, symbol string, tf model.Timeframe, from, to int64) (model.WindowSlice, error) {
	return l.getWindow(ctx, symbol, tf, from, to, false)
}

// GetWindowBypassCache serves GetWindow's bypass_cache=true request input:
// it skips the hot/warm/cold tiers entirely and reads store+upstream
// directly, still populating the tiers afterward so subsequent requests
// benefit from the refresh.
func (l *Loader) GetWindowBypassCache(ctx context.Context, symbol string, tf model.Timeframe, from, to int64) (model.WindowSlice, error) {
	return l.getWindow(ctx, symbol, tf, from, to, true)
}

func (l *Loader) getWindow(ctx context.Context, symbol string, tf model.Timeframe, from, to int64, bypassCache bool) (model.WindowSlice, error) {
	if !bypassCache {
		if hit, ok := l.tryCache(ctx, symbol, tf, from, to); ok {
			l.metrics.CacheHitsTotal.WithLabelValues("hot_or_warm").Inc()
			return hit, nil
		}
		l.metrics.CacheMissesTotal.WithLabelValues("hot_or_warm").Inc()
	}

	if !bypassCache && l.cold != nil {
		if candles, ok := l.cold.GetDay(ctx, symbol, tf, clock.AlignBoundary(time.Unix(from, 0), model.TF1d).Unix()); ok {
			l.metrics.CacheHitsTotal.WithLabelValues("cold").Inc()
			slice := model.WindowSlice{Symbol: symbol, Timeframe: tf, From: from, To: to, Candles: filterRange(candles, from, to)}
			l.populateUpperTiers(ctx, slice)
			if len(slice.Candles) >= l.minCandles {
				return slice, nil
			}
		} else {
			l.metrics.CacheMissesTotal.WithLabelValues("cold").Inc()
		}
	}

	stored, err := l.store.ReadCandles(ctx, symbol, tf, from, to)
	if err != nil {
		l.log.Warn("loader: store read failed", zap.Error(err), zap.String("symbol", symbol))
	}

	gaps := missingRanges(stored, tf, from, to)
	if len(gaps) == 0 {
		// The store already fully covers [from, to]; short-circuit
		// without touching the upstream chain at all.
		if len(stored) < l.minCandles {
			return model.WindowSlice{}, apperr.New(apperr.InsufficientCoverage, "fewer than minimum candles available").
				WithDetail(map[string]int{"have": len(stored), "need": l.minCandles})
		}
		slice := model.WindowSlice{Symbol: symbol, Timeframe: tf, From: from, To: to, Candles: filterRange(stored, from, to)}
		l.populateUpperTiers(ctx, slice)
		return slice, nil
	}

	var upstreamCandles []model.Candle
	var lastUpstreamErr error
	span := int64(tf.MaxRangeDays()) * 86400
	for _, gap := range gaps {
		for lo := gap[0]; lo <= gap[1]; lo += span {
			fetched, err := l.fetchUpstream(ctx, symbol, tf, lo, min(lo+span-1, gap[1]))
			if err != nil {
				lastUpstreamErr = err
				continue
			}
			upstreamCandles = append(upstreamCandles, fetched...)
		}
	}
	if lastUpstreamErr != nil && len(stored) == 0 && len(upstreamCandles) == 0 {
		return model.WindowSlice{}, apperr.Wrap(apperr.DataUnavailable, lastUpstreamErr, "no tier yielded candles for "+symbol)
	}

	merged := mergeCandles(stored, upstreamCandles)
	if len(merged) < l.minCandles {
		return model.WindowSlice{}, apperr.New(apperr.InsufficientCoverage, "fewer than minimum candles available").
			WithDetail(map[string]int{"have": len(merged), "need": l.minCandles})
	}

	if len(upstreamCandles) > 0 {
		if err := l.store.PutCandles(ctx, upstreamCandles); err != nil {
			l.log.Warn("loader: write-through to store failed", zap.Error(err))
		}
	}

	slice := model.WindowSlice{Symbol: symbol, Timeframe: tf, From: from, To: to, Candles: filterRange(merged, from, to)}
	l.populateUpperTiers(ctx, slice)
	return slice, nil
}

// missingRanges returns the contiguous tf-boundary gaps in candles over
// [from, to], so the loader can ask upstream for exactly the missing
// sub-range instead of re-fetching data the store already has. An empty
// result means candles already fully covers the range.
func missingRanges(candles []model.Candle, tf model.Timeframe, from, to int64) [][2]int64 {
	step := tf.Seconds()
	have := make(map[int64]bool, len(candles))
	for _, c := range candles {
		have[c.StartTS.Unix()] = true
	}

	start := from - (from % step)
	if start < from {
		start += step
	}

	var gaps [][2]int64
	gapStart := int64(-1)
	for ts := start; ts <= to; ts += step {
		if have[ts] {
			if gapStart != -1 {
				gaps = append(gaps, [2]int64{gapStart, ts - step})
				gapStart = -1
			}
			continue
		}
		if gapStart == -1 {
			gapStart = ts
		}
	}
	if gapStart != -1 {
		gaps = append(gaps, [2]int64{gapStart, to})
	}
	return gaps
}

// FetchLatest returns the single newest candle for (symbol, tf), reusing
// GetWindow's pipeline with an unbounded upward edge.
func (l *Loader) FetchLatest(ctx context.Context, symbol string, tf model.Timeframe) (model.Candle, error) {
	now := clock.Now()
	from := now.Add(-time.Duration(tf.Seconds()) * 50 * time.Second).Unix()
	slice, err := l.GetWindow(ctx, symbol, tf, from, now.Unix())
	if err != nil {
		return model.Candle{}, err
	}
	last, ok := slice.Last()
	if !ok {
		return model.Candle{}, apperr.New(apperr.DataUnavailable, "no recent candle for "+symbol)
	}
	return last, nil
}

// ClearCache drops the hot and warm tiers entirely, for the ClearCache
// operation. The cold archive and persistent store are untouched: this is
// an operator escape hatch for stale data, not a wipe.
func (l *Loader) ClearCache(ctx context.Context) error {
	if l.warm != nil {
		l.warm.Clear()
	}
	if l.hot != nil {
		return l.hot.Clear(ctx)
	}
	return nil
}

func (l *Loader) tryCache(ctx context.Context, symbol string, tf model.Timeframe, from, to int64) (model.WindowSlice, bool) {
	if l.hot != nil {
		if slice, ok := l.hot.Get(ctx, symbol, tf, from, to); ok {
			if l.warm != nil {
				l.warm.Put(*slice)
			}
			return *slice, true
		}
	}
	if l.warm != nil {
		if slice, ok := l.warm.Get(symbol, tf, from, to); ok {
			return *slice, true
		}
	}
	return model.WindowSlice{}, false
}

func (l *Loader) populateUpperTiers(ctx context.Context, slice model.WindowSlice) {
	if l.warm != nil {
		l.warm.Put(slice)
	}
	if l.hot != nil {
		l.hot.Put(ctx, slice)
	}
}

// fetchUpstream pulls raw candles from the provider chain and runs the
// canonicalization pipeline: UTC, future-clamp, session membership, OHLC
// invariants, duplicate-by-start_ts rejection.
func (l *Loader) fetchUpstream(ctx context.Context, symbol string, tf model.Timeframe, from, to int64) ([]model.Candle, error) {
	raw, err := l.chain.FetchCandles(ctx, symbol, tf, from, to)
	if err != nil {
		return nil, err
	}

	now := clock.Now()
	seen := make(map[int64]bool, len(raw))
	out := make([]model.Candle, 0, len(raw))
	for _, c := range raw {
		c.StartTS = c.StartTS.UTC()
		if err := clock.ValidateCandleTiming(c, l.cal, now); err != nil {
			continue
		}
		if err := c.ValidateOHLC(); err != nil {
			continue
		}
		if seen[c.StartTS.Unix()] {
			continue
		}
		seen[c.StartTS.Unix()] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTS.Before(out[j].StartTS) })
	return out, nil
}

// mergeCandles combines two candle sets for the same (symbol, timeframe),
// sorted strictly ascending by start_ts, deduplicated with newer
// provenance winning ties per model.Provenance.Rank.
func mergeCandles(a, b []model.Candle) []model.Candle {
	byTS := make(map[int64]model.Candle, len(a)+len(b))
	for _, c := range append(append([]model.Candle{}, a...), b...) {
		key := c.StartTS.Unix()
		existing, ok := byTS[key]
		if !ok || c.Provenance.Rank() >= existing.Provenance.Rank() {
			byTS[key] = c
		}
	}
	out := make([]model.Candle, 0, len(byTS))
	for _, c := range byTS {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTS.Before(out[j].StartTS) })
	return out
}

func filterRange(candles []model.Candle, from, to int64) []model.Candle {
	out := make([]model.Candle, 0, len(candles))
	for _, c := range candles {
		ts := c.StartTS.Unix()
		if ts >= from && ts <= to {
			out = append(out, c)
		}
	}
	return out
}
