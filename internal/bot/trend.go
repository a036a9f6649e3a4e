package bot

import (
	"context"
	"fmt"
	"math"
	"time"

	"marketforecast/internal/model"
)

// TrendBot projects forward using a fast/slow SMA crossover read on the
// window's closes, the same ring-buffer technique the teacher's
// SMACrossover strategy used to detect golden/death crosses — except the
// crossover strength now drives a price projection instead of a BUY/SELL
// signal.
type TrendBot struct {
	fastPeriod int
	slowPeriod int

	// trained slope/intercept from the last Train call; zero value
	// means "use the untrained heuristic".
	trainedSlope     float64
	trainedIntercept float64
	trained          bool
}

// NewTrendBot builds a trend bot with the given SMA periods (e.g. 9/21).
func NewTrendBot(fastPeriod, slowPeriod int) *TrendBot {
	return &TrendBot{fastPeriod: fastPeriod, slowPeriod: slowPeriod}
}

func (b *TrendBot) Name() string { return "trend" }

func (b *TrendBot) Predict(ctx context.Context, window model.WindowSlice, horizonMinutes int) ([]model.PredictedPoint, float64, error) {
	if len(window.Candles) < b.slowPeriod {
		return nil, 0.1, fmt.Errorf("bot: trend bot needs at least %d candles, got %d", b.slowPeriod, len(window.Candles))
	}

	closes := make([]float64, len(window.Candles))
	for i, c := range window.Candles {
		closes[i] = c.Close
	}

	fastSMA := sma(closes, b.fastPeriod)
	slowSMA := sma(closes, b.slowPeriod)
	last := closes[len(closes)-1]

	// Crossover strength as a fraction of price sets both the per-step
	// drift and the confidence: a sharper cross is a stronger signal.
	spread := (fastSMA - slowSMA) / slowSMA
	confidence := clamp(0.4+spread*5, 0.1, 0.9)

	slope := spread * last
	if b.trained {
		slope = b.trainedSlope
		confidence = clamp(confidence+0.1, 0.1, 0.95)
	}

	stepSeconds := window.Timeframe.Seconds()
	steps := (horizonMinutes*60 + int(stepSeconds) - 1) / int(stepSeconds)
	if steps < 1 {
		steps = 1
	}

	lastCandle, _ := window.Last()
	lastTS := lastCandle.StartTS
	points := make([]model.PredictedPoint, 0, steps)
	for i := 1; i <= steps; i++ {
		ts := lastTS.Add(time.Duration(i) * time.Duration(stepSeconds) * time.Second)
		price := last + slope*float64(i)
		points = append(points, model.PredictedPoint{TS: ts, Price: price, Confidence: confidence})
	}
	return points, confidence, nil
}

func (b *TrendBot) Train(ctx context.Context, window model.WindowSlice, hp Hyperparams) (TrainResult, error) {
	if len(window.Candles) < b.slowPeriod+1 {
		return TrainResult{}, fmt.Errorf("bot: trend bot needs at least %d candles to train", b.slowPeriod+1)
	}

	select {
	case <-ctx.Done():
		return TrainResult{}, ctx.Err()
	default:
	}

	closes := make([]float64, len(window.Candles))
	for i, c := range window.Candles {
		closes[i] = c.Close
	}

	// Ordinary least squares on index->price as a simple, interruptible
	// "training" pass — deliberately lightweight; real parameter-fit
	// bots live in a production fork of this package.
	n := float64(len(closes))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range closes {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return TrainResult{}, fmt.Errorf("bot: degenerate training window")
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	var sqErr, absErr float64
	for i, y := range closes {
		pred := intercept + slope*float64(i)
		diff := y - pred
		sqErr += diff * diff
		absErr += math.Abs(diff)
	}
	rmse := math.Sqrt(sqErr / n)
	mae := absErr / n

	select {
	case <-ctx.Done():
		return TrainResult{}, ctx.Err()
	default:
	}

	b.trainedSlope = slope
	b.trainedIntercept = intercept
	b.trained = true

	return TrainResult{
		DataPointsUsed: len(closes),
		TestRMSE:       rmse,
		TestMAE:        mae,
		ModelSizeBytes: 16, // two float64 parameters
	}, nil
}

func sma(closes []float64, period int) float64 {
	if period > len(closes) {
		period = len(closes)
	}
	var sum float64
	start := len(closes) - period
	for _, v := range closes[start:] {
		sum += v
	}
	return sum / float64(period)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

