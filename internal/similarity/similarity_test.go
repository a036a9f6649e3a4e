package similarity

import (
	"context"
	"testing"

	"marketforecast/internal/model"
)

func TestEmbedFixesDimensionOrder(t *testing.T) {
	snapshot := map[string]float64{
		"RSI_14": 55.5,
		"SMA_9":  101.2,
		"EMA_9":  100.9,
	}
	vec := embed(snapshot)
	if len(vec) != len(featureOrder) {
		t.Fatalf("expected %d dimensions, got %d", len(featureOrder), len(vec))
	}
	for i, name := range featureOrder {
		want := float32(snapshot[name])
		if vec[i] != want {
			t.Fatalf("dimension %d (%s): want %v, got %v", i, name, want, vec[i])
		}
	}
}

func TestEmbedMissingIndicatorsAreZero(t *testing.T) {
	vec := embed(map[string]float64{"SMA_9": 10})
	for i, name := range featureOrder {
		if name == "SMA_9" {
			continue
		}
		if vec[i] != 0 {
			t.Fatalf("expected zero for missing indicator %s, got %v", name, vec[i])
		}
	}
}

func TestNilStoreMethodsAreNoOps(t *testing.T) {
	var s *Store
	ctx := context.Background()
	s.Upsert(ctx, model.PredictionRecord{ID: "pred-1"})
	s.RecordOutcome(ctx, "pred-1", 0.1, 0.2)
	if out := s.FindSimilar(ctx, map[string]float64{"SMA_9": 1}, 5); out != nil {
		t.Fatalf("expected nil result from nil store, got %v", out)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("expected nil close error on nil store, got %v", err)
	}
}
