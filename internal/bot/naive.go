package bot

import (
	"context"
	"fmt"
	"time"

	"marketforecast/internal/model"
)

// NaiveBot is the random-walk baseline every ensemble needs: it carries the
// last close flat across the horizon. It always succeeds given at least one
// candle and reports a fixed, modest confidence, so the merge step has a
// floor to fall back on when every other bot gets validated out.
type NaiveBot struct{}

// NewNaiveBot builds the baseline bot.
func NewNaiveBot() *NaiveBot { return &NaiveBot{} }

func (b *NaiveBot) Name() string { return "naive" }

func (b *NaiveBot) Predict(ctx context.Context, window model.WindowSlice, horizonMinutes int) ([]model.PredictedPoint, float64, error) {
	last, ok := window.Last()
	if !ok {
		return nil, 0, fmt.Errorf("bot: naive bot requires at least one candle")
	}

	const confidence = 0.3
	stepSeconds := window.Timeframe.Seconds()
	steps := (int64(horizonMinutes)*60 + stepSeconds - 1) / stepSeconds
	if steps < 1 {
		steps = 1
	}

	points := make([]model.PredictedPoint, 0, steps)
	for i := int64(1); i <= steps; i++ {
		ts := last.StartTS.Add(time.Duration(i) * time.Duration(stepSeconds) * time.Second)
		points = append(points, model.PredictedPoint{TS: ts, Price: last.Close, Confidence: confidence})
	}
	return points, confidence, nil
}

// Train is a no-op: the naive bot has no parameters to fit. It still
// respects cancellation for consistency with the Bot contract.
func (b *NaiveBot) Train(ctx context.Context, window model.WindowSlice, hp Hyperparams) (TrainResult, error) {
	select {
	case <-ctx.Done():
		return TrainResult{}, ctx.Err()
	default:
	}
	return TrainResult{DataPointsUsed: len(window.Candles)}, nil
}
