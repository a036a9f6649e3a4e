package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple business logic from concrete storage
// implementations (Redis, SQLite, Mongo, S3). Each implementation satisfies
// one or more of these interfaces. The Window Loader is the only component
// permitted to call CandleWriter.PutCandles.

// CandleWriter persists newly-fetched candles (write-through from the
// Window Loader) to the Persistent Store.
type CandleWriter interface {
	// PutCandles writes a batch of candles for one (symbol, timeframe).
	// Implementations must be idempotent on (symbol, timeframe, start_ts).
	PutCandles(ctx context.Context, candles []Candle) error

	Close() error
}

// CandleReader reads candles from the Persistent Store for a bounded range,
// used by the Window Loader when the cache tiers miss or are bypassed.
type CandleReader interface {
	// ReadCandles returns candles for (symbol, timeframe) with
	// from <= start_ts <= to, ordered ascending.
	ReadCandles(ctx context.Context, symbol string, tf Timeframe, from, to int64) ([]Candle, error)

	Close() error
}

// PredictionStore persists and retrieves Prediction Records, including the
// audit columns (raw bot outputs, validation flags, feature snapshot).
type PredictionStore interface {
	PutPrediction(ctx context.Context, p PredictionRecord) error
	LatestPrediction(ctx context.Context, symbol string, tf Timeframe) (*PredictionRecord, error)
	Close() error
}

// TrainingStore persists Training Records. It does not check the
// single-running invariant; the Training Queue's single worker enforces it.
type TrainingStore interface {
	PutTraining(ctx context.Context, t TrainingRecord) error
	ArchivePrior(ctx context.Context, symbol string, tf Timeframe, botName string, keepID string) error
	ListTrainings(ctx context.Context) ([]TrainingRecord, error)
	DeleteTraining(ctx context.Context, symbol string, tf Timeframe, botName string) (int, error)
	Close() error
}

// ArchiveStore is the cold, append-only archive of Training Records: the
// Training Queue appends every record it persists, completed or failed, at
// the moment it persists it. Schema-flexible, not queried on the hot path.
type ArchiveStore interface {
	ArchiveTraining(ctx context.Context, t TrainingRecord) error
	Close() error
}
