package health

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"marketforecast/internal/config"
	"marketforecast/internal/metrics"
	"marketforecast/internal/model"
)

func TestEvaluateGreenWhenFreshAndLowDrift(t *testing.T) {
	now := time.Now().UTC()
	rec := model.TrainingRecord{Status: model.TrainingCompleted, FinishedAt: now.Add(-time.Hour), DriftScore: 0.05}
	report := Evaluate(rec, now, config.DefaultTunables())
	if report.Status != Green {
		t.Fatalf("expected green, got %v", report.Status)
	}
}

func TestEvaluateYellowWhenAgingOrDriftingModest(t *testing.T) {
	now := time.Now().UTC()
	tun := config.DefaultTunables()
	rec := model.TrainingRecord{Status: model.TrainingCompleted, FinishedAt: now.Add(-30 * time.Hour), DriftScore: 0.01}
	report := Evaluate(rec, now, tun)
	if report.Status != Yellow {
		t.Fatalf("expected yellow from age, got %v", report.Status)
	}

	rec2 := model.TrainingRecord{Status: model.TrainingCompleted, FinishedAt: now.Add(-time.Hour), DriftScore: tun.DriftYellow + 0.01}
	report2 := Evaluate(rec2, now, tun)
	if report2.Status != Yellow {
		t.Fatalf("expected yellow from drift, got %v", report2.Status)
	}
}

func TestEvaluateRedWhenFailedStaleOrHighDrift(t *testing.T) {
	now := time.Now().UTC()
	tun := config.DefaultTunables()

	failed := model.TrainingRecord{Status: model.TrainingFailed, FinishedAt: now}
	if Evaluate(failed, now, tun).Status != Red {
		t.Fatal("expected red for failed status")
	}

	stale := model.TrainingRecord{Status: model.TrainingCompleted, FinishedAt: now.Add(-72 * time.Hour), DriftScore: 0}
	if Evaluate(stale, now, tun).Status != Red {
		t.Fatal("expected red for stale model")
	}

	drifted := model.TrainingRecord{Status: model.TrainingCompleted, FinishedAt: now, DriftScore: tun.DriftRed + 0.1}
	if Evaluate(drifted, now, tun).Status != Red {
		t.Fatal("expected red for high drift")
	}
}

type fakeTrainingStore struct{ records []model.TrainingRecord }

func (s *fakeTrainingStore) PutTraining(ctx context.Context, t model.TrainingRecord) error { return nil }
func (s *fakeTrainingStore) ArchivePrior(ctx context.Context, symbol string, tf model.Timeframe, botName, keepID string) error {
	return nil
}
func (s *fakeTrainingStore) ListTrainings(ctx context.Context) ([]model.TrainingRecord, error) {
	return s.records, nil
}
func (s *fakeTrainingStore) DeleteTraining(ctx context.Context, symbol string, tf model.Timeframe, botName string) (int, error) {
	return 0, nil
}
func (s *fakeTrainingStore) Close() error { return nil }

func TestScanOnceSkipsArchivedAndQueued(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeTrainingStore{records: []model.TrainingRecord{
		{Symbol: "A", Timeframe: model.TF1m, BotName: "trend", Status: model.TrainingArchived, FinishedAt: now},
		{Symbol: "B", Timeframe: model.TF1m, BotName: "trend", Status: model.TrainingQueued},
		{Symbol: "C", Timeframe: model.TF1m, BotName: "trend", Status: model.TrainingCompleted, FinishedAt: now},
	}}
	mon := NewMonitor(store, config.NewStore(config.DefaultTunables()), metrics.NewMetrics(), zap.NewNop())

	reports, err := mon.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if len(reports) != 1 || reports[0].Symbol != "C" {
		t.Fatalf("expected only the completed record, got %+v", reports)
	}
}
