package model

import "time"

// TrainingStatus is the lifecycle state of a Training Record.
type TrainingStatus string

const (
	TrainingQueued    TrainingStatus = "queued"
	TrainingRunning   TrainingStatus = "running"
	TrainingCompleted TrainingStatus = "completed"
	TrainingFailed    TrainingStatus = "failed"
	TrainingArchived  TrainingStatus = "archived"
)

// TrainingRecord is one completed or failed training attempt. Invariant
// (enforced by the Training Queue, not this type): per (Symbol, Timeframe,
// BotName) at most one record has Status == TrainingRunning.
type TrainingRecord struct {
	ID             string            `json:"id"`
	Symbol         string            `json:"symbol"`
	Timeframe      Timeframe         `json:"timeframe"`
	BotName        string            `json:"bot_name"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
	Status         TrainingStatus    `json:"status"`
	DataPointsUsed int               `json:"data_points_used"`
	TestRMSE       float64           `json:"test_rmse"`
	TestMAE        float64           `json:"test_mae"`
	BaselineRMSEs  map[string]float64 `json:"baseline_rmses"`
	ModelSizeBytes int64             `json:"model_size_bytes"`
	TrainingPeriod string            `json:"training_period"`
	DriftScore     float64           `json:"drift_score"`
	ErrorMessage   string            `json:"error_message,omitempty"`
}

// TrainingJob is a queue entry. Invariant (enforced by the queue): no two
// jobs with identical (Symbol, Timeframe, BotName) coexist in the queue +
// running slot.
type TrainingJob struct {
	Symbol      string    `json:"symbol"`
	Timeframe   Timeframe `json:"timeframe"`
	BotName     string    `json:"bot_name"`
	Epochs      int       `json:"epochs"`
	BatchSize   int       `json:"batch_size"`
	RequestedAt time.Time `json:"requested_at"`
}

// Key is the (Symbol, Timeframe, BotName) identity used for duplicate
// suppression in the queue.
func (j TrainingJob) Key() string {
	return j.Symbol + "|" + j.Timeframe.String() + "|" + j.BotName
}

// TrainingProgress is an in-flight progress event the queue worker
// publishes through the Subscription Hub on the job's (symbol, timeframe)
// topic; only subscribers of that topic receive it, and the hub has no
// separate broadcast topic for training progress.
type TrainingProgress struct {
	TrainingID       string  `json:"training_id"`
	BotName          string  `json:"bot_name"`
	Symbol           string  `json:"symbol"`
	Timeframe        string  `json:"timeframe"`
	Status           string  `json:"status"`
	Batch            int     `json:"batch"`
	TotalBatches     int     `json:"total_batches"`
	ProgressPercent  float64 `json:"progress_percent"`
	Message          string  `json:"message,omitempty"`
}
