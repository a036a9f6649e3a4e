package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"marketforecast/internal/model"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	dir := t.TempDir()
	s, err := OpenSQLite(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndReadCandlesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 2, 9, 15, 0, 0, time.UTC)
	candles := []model.Candle{
		{Symbol: "ACME", Timeframe: model.TF1m, StartTS: base, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100, Provenance: model.ProvenancePrimary},
		{Symbol: "ACME", Timeframe: model.TF1m, StartTS: base.Add(time.Minute), Open: 10.5, High: 12, Low: 10, Close: 11, Volume: 120, Provenance: model.ProvenancePrimary},
	}
	if err := s.PutCandles(ctx, candles); err != nil {
		t.Fatalf("PutCandles: %v", err)
	}

	got, err := s.ReadCandles(ctx, "ACME", model.TF1m, base.Unix(), base.Add(2*time.Minute).Unix())
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i].StartTS.After(got[i-1].StartTS) {
			t.Fatalf("expected ascending order, got %+v", got)
		}
	}
}

func TestPutCandlesProvenanceDoesNotDowngrade(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 2, 2, 9, 15, 0, 0, time.UTC)

	primary := model.Candle{Symbol: "ACME", Timeframe: model.TF1m, StartTS: ts, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100, Provenance: model.ProvenancePrimary}
	if err := s.PutCandles(ctx, []model.Candle{primary}); err != nil {
		t.Fatalf("PutCandles primary: %v", err)
	}

	cached := model.Candle{Symbol: "ACME", Timeframe: model.TF1m, StartTS: ts, Open: 99, High: 99, Low: 99, Close: 99, Volume: 1, Provenance: model.ProvenanceCache}
	if err := s.PutCandles(ctx, []model.Candle{cached}); err != nil {
		t.Fatalf("PutCandles cache: %v", err)
	}

	got, err := s.ReadCandles(ctx, "ACME", model.TF1m, ts.Unix(), ts.Unix())
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(got))
	}
	if got[0].Open != 10 {
		t.Fatalf("expected primary data to survive, got %+v", got[0])
	}
}

func TestPredictionLatestRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := model.PredictionRecord{ID: "p1", Symbol: "ACME", Timeframe: model.TF5m, ProducedAt: time.Unix(1000, 0), OverallConfidence: 0.5}
	newer := model.PredictionRecord{ID: "p2", Symbol: "ACME", Timeframe: model.TF5m, ProducedAt: time.Unix(2000, 0), OverallConfidence: 0.8}

	if err := s.PutPrediction(ctx, older); err != nil {
		t.Fatalf("PutPrediction older: %v", err)
	}
	if err := s.PutPrediction(ctx, newer); err != nil {
		t.Fatalf("PutPrediction newer: %v", err)
	}

	got, err := s.LatestPrediction(ctx, "ACME", model.TF5m)
	if err != nil {
		t.Fatalf("LatestPrediction: %v", err)
	}
	if got == nil || got.ID != "p2" {
		t.Fatalf("expected newer prediction p2, got %+v", got)
	}
}

func TestLatestPredictionNoneReturnsNilNoError(t *testing.T) {
	s := openTestStore(t)
	got, err := s.LatestPrediction(context.Background(), "NOPE", model.TF1m)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestArchivePriorMarksOldTrainingsArchived(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t1 := model.TrainingRecord{ID: "t1", Symbol: "ACME", Timeframe: model.TF1h, BotName: "trend", Status: model.TrainingCompleted, StartedAt: time.Unix(1000, 0)}
	t2 := model.TrainingRecord{ID: "t2", Symbol: "ACME", Timeframe: model.TF1h, BotName: "trend", Status: model.TrainingCompleted, StartedAt: time.Unix(2000, 0)}

	if err := s.PutTraining(ctx, t1); err != nil {
		t.Fatalf("PutTraining t1: %v", err)
	}
	if err := s.PutTraining(ctx, t2); err != nil {
		t.Fatalf("PutTraining t2: %v", err)
	}
	if err := s.ArchivePrior(ctx, "ACME", model.TF1h, "trend", "t2"); err != nil {
		t.Fatalf("ArchivePrior: %v", err)
	}

	all, err := s.ListTrainings(ctx)
	if err != nil {
		t.Fatalf("ListTrainings: %v", err)
	}
	var sawArchived, sawKept bool
	for _, tr := range all {
		if tr.ID == "t1" && tr.Status == model.TrainingArchived {
			sawArchived = true
		}
		if tr.ID == "t2" && tr.Status == model.TrainingCompleted {
			sawKept = true
		}
	}
	if !sawArchived {
		t.Fatal("expected t1 to be archived")
	}
	if !sawKept {
		t.Fatal("expected t2 to remain completed")
	}
}

func TestDeleteTraining(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t1 := model.TrainingRecord{ID: "t1", Symbol: "ACME", Timeframe: model.TF1h, BotName: "trend", Status: model.TrainingCompleted, StartedAt: time.Unix(1000, 0)}
	if err := s.PutTraining(ctx, t1); err != nil {
		t.Fatalf("PutTraining: %v", err)
	}

	n, err := s.DeleteTraining(ctx, "ACME", model.TF1h, "trend")
	if err != nil {
		t.Fatalf("DeleteTraining: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row deleted, got %d", n)
	}
}
