package upstream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"marketforecast/internal/apperr"
	"marketforecast/internal/metrics"
	"marketforecast/internal/model"
)

// Chain tries each Provider in order, falling through to the next on
// error. It's what the Window Loader calls when both cache and store
// miss; it never sees partial results from a prior provider mixed with
// a later one, since a Candle slice always carries one Provenance.
type Chain struct {
	providers []Provider
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewChain builds a provider chain, tried in the order given.
func NewChain(m *metrics.Metrics, log *zap.Logger, providers ...Provider) *Chain {
	return &Chain{providers: providers, metrics: m, log: log}
}

// FetchCandles tries providers in order, returning the first success.
func (c *Chain) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, from, to int64) ([]model.Candle, error) {
	var lastErr error
	for _, p := range c.providers {
		start := time.Now()
		candles, err := p.FetchCandles(ctx, symbol, tf, from, to)
		c.metrics.UpstreamFetchDur.Observe(time.Since(start).Seconds())
		if err != nil {
			c.metrics.UpstreamErrors.WithLabelValues(p.Name()).Inc()
			c.log.Warn("upstream provider failed", zap.String("provider", p.Name()), zap.String("symbol", symbol), zap.Error(err))
			lastErr = err
			continue
		}
		return candles, nil
	}
	return nil, apperr.Wrap(apperr.UpstreamFailure, lastErr, "all upstream providers failed for "+symbol)
}
