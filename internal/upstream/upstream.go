// Package upstream adapts external market-data providers into the
// canonical Candle shape the Window Loader works with. It wraps the
// teacher's SmartConnect client as the primary provider and adds a
// Binance-backed fallback, behind a single Provider contract.
package upstream

import (
	"context"

	"marketforecast/internal/model"
)

// Provider fetches raw candle history for a symbol/timeframe/range from
// one external source. Implementations never see the cache tiers or the
// Persistent Store — that wiring belongs to the Window Loader.
type Provider interface {
	// Name identifies the provider in metrics and provenance tagging.
	Name() string

	// FetchCandles returns candles for [from, to] (unix seconds,
	// inclusive), in ascending StartTS order, tagged with this
	// provider's Provenance.
	FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, from, to int64) ([]model.Candle, error)
}
