// Package bot defines the Bot Contract every forecasting strategy
// implements, plus a small set of reference bots. Grounded on the
// teacher's strategy.Strategy interface and Engine, re-pointed from
// emitting trading signals to emitting price-path predictions.
package bot

import (
	"context"

	"marketforecast/internal/model"
)

// Hyperparams carries bot-specific training knobs. Kept as a flat map so
// the Training Queue and HTTP surface don't need per-bot schemas.
type Hyperparams map[string]float64

// TrainResult is what a successful Train call reports back.
type TrainResult struct {
	DataPointsUsed int
	TestRMSE       float64
	TestMAE        float64
	ModelSizeBytes int64
	ArtifactPath   string
}

// Bot is the contract every forecasting strategy implements. Predict
// must be safe to call concurrently with Train for a different
// (symbol, timeframe); the Prediction Orchestrator fans out Predict
// calls across the whole bot roster on every request.
type Bot interface {
	// Name identifies the bot in metrics, contributions, and reports.
	Name() string

	// Predict produces a price-path forecast over horizonMinutes using
	// window as context. Confidence is in [0, 1]. A window too short for
	// the bot returns an error, and the orchestrator records that bot as
	// rejected.
	Predict(ctx context.Context, window model.WindowSlice, horizonMinutes int) ([]model.PredictedPoint, float64, error)

	// Train fits the bot on window using hyperparams, reporting
	// validation metrics. It must respect ctx cancellation promptly: the
	// Training Queue's Stop/ForceStop operations rely on that.
	Train(ctx context.Context, window model.WindowSlice, hp Hyperparams) (TrainResult, error)
}
