package upstream

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"marketforecast/internal/model"
)

// FallbackAdapter serves candles from Binance when the primary provider
// is unavailable or doesn't cover a symbol. It's a distinct Provenance so
// the Window Loader's tie-breaking (primary > fallback > db > cache) can
// prefer primary data once it returns.
type FallbackAdapter struct {
	client *binance.Client
}

// NewFallbackAdapter builds a fallback provider. apiKey/secret may be
// empty for symbols that only need public market data.
func NewFallbackAdapter(apiKey, apiSecret string) *FallbackAdapter {
	return &FallbackAdapter{client: binance.NewClient(apiKey, apiSecret)}
}

func (a *FallbackAdapter) Name() string { return "fallback" }

// FetchCandles paginates Binance klines in 1000-row batches, mirroring
// the pack's backfill pattern, and tags every candle Provenance=fallback.
func (a *FallbackAdapter) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, from, to int64) ([]model.Candle, error) {
	interval, err := binanceInterval(tf)
	if err != nil {
		return nil, err
	}

	var out []model.Candle
	cursor := from * 1000
	endMs := to * 1000

	for cursor < endMs {
		klines, err := a.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(cursor).
			EndTime(endMs).
			Limit(1000).
			Do(ctx)
		if err != nil {
			return out, fmt.Errorf("upstream: fallback klines for %s: %w", symbol, err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			out = append(out, model.Candle{
				Symbol:     symbol,
				Timeframe:  tf,
				StartTS:    time.UnixMilli(k.OpenTime).UTC(),
				Open:       parseFloat(k.Open),
				High:       parseFloat(k.High),
				Low:        parseFloat(k.Low),
				Close:      parseFloat(k.Close),
				Volume:     parseFloat(k.Volume),
				Provenance: model.ProvenanceFallback,
			})
		}

		last := klines[len(klines)-1]
		cursor = last.CloseTime + 1
	}

	return out, nil
}

func binanceInterval(tf model.Timeframe) (string, error) {
	switch tf {
	case model.TF1m:
		return "1m", nil
	case model.TF5m:
		return "5m", nil
	case model.TF15m:
		return "15m", nil
	case model.TF1h:
		return "1h", nil
	case model.TF4h:
		return "4h", nil
	case model.TF1d:
		return "1d", nil
	default:
		return "", fmt.Errorf("upstream: fallback provider has no interval for %s", tf)
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
