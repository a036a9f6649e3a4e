package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"marketforecast/internal/bot"
	"marketforecast/internal/cache"
	"marketforecast/internal/config"
	"marketforecast/internal/hub"
	"marketforecast/internal/loader"
	"marketforecast/internal/metrics"
	"marketforecast/internal/model"
	"marketforecast/internal/upstream"
)

var (
	testMetricsOnce sync.Once
	testMetrics     *metrics.Metrics
)

func sharedTestMetrics() *metrics.Metrics {
	testMetricsOnce.Do(func() { testMetrics = metrics.NewMetrics() })
	return testMetrics
}

type fakeStore struct {
	mu      sync.Mutex
	candles []model.Candle
}

func (s *fakeStore) PutCandles(ctx context.Context, c []model.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles = append(s.candles, c...)
	return nil
}

func (s *fakeStore) ReadCandles(ctx context.Context, symbol string, tf model.Timeframe, from, to int64) ([]model.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Candle
	for _, c := range s.candles {
		ts := c.StartTS.Unix()
		if c.Symbol == symbol && c.Timeframe == tf && ts >= from && ts <= to {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) Close() error { return nil }

type failingProvider struct{ name string }

func (p failingProvider) Name() string { return p.name }
func (p failingProvider) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, from, to int64) ([]model.Candle, error) {
	return nil, fmt.Errorf("upstream unavailable in test")
}

type fakePredictionStore struct {
	mu   sync.Mutex
	last model.PredictionRecord
}

func (s *fakePredictionStore) PutPrediction(ctx context.Context, p model.PredictionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = p
	return nil
}
func (s *fakePredictionStore) LatestPrediction(ctx context.Context, symbol string, tf model.Timeframe) (*model.PredictionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &s.last, nil
}
func (s *fakePredictionStore) Close() error { return nil }

type fakeBot struct {
	name       string
	confidence float64
	slope      float64
	err        error
	delay      time.Duration
}

func (b *fakeBot) Name() string { return b.name }

func (b *fakeBot) Predict(ctx context.Context, window model.WindowSlice, horizonMinutes int) ([]model.PredictedPoint, float64, error) {
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	if b.err != nil {
		return nil, 0, b.err
	}
	last, _ := window.Last()
	points := []model.PredictedPoint{
		{TS: last.StartTS.Add(time.Minute), Price: last.Close + b.slope, Confidence: b.confidence},
	}
	return points, b.confidence, nil
}

func (b *fakeBot) Train(ctx context.Context, window model.WindowSlice, hp bot.Hyperparams) (bot.TrainResult, error) {
	return bot.TrainResult{}, nil
}

func buildTestOrchestrator(t *testing.T, bots []bot.Bot, tunables config.Tunables) (*Orchestrator, *fakeStore, *fakePredictionStore) {
	t.Helper()
	m := sharedTestMetrics()
	warm := cache.NewWarm(10)
	store := &fakeStore{}

	base := time.Now().UTC().Add(-9 * time.Minute)
	for i := 0; i < 10; i++ {
		ts := time.Unix(base.Unix()-(base.Unix()%60)+int64(i)*60, 0).UTC()
		store.candles = append(store.candles, model.Candle{
			Symbol: "ACME", Timeframe: model.TF1m, StartTS: ts,
			Open: 100, High: 101, Low: 99, Close: 100, Volume: 10, Provenance: model.ProvenanceDB,
		})
	}

	chain := upstream.NewChain(m, zap.NewNop(), failingProvider{name: "primary"})
	l := loader.New(nil, warm, nil, store, chain, nil, 1, m, zap.NewNop())

	predStore := &fakePredictionStore{}
	h := hub.New(m, zap.NewNop())
	tunStore := config.NewStore(tunables)
	idCounter := 0
	newID := func() string { idCounter++; return fmt.Sprintf("pred-%d", idCounter) }

	return New(l, bots, predStore, h, tunStore, newID, nil, m, zap.NewNop()), store, predStore
}

func TestPredictMergesSurvivorsByConfidenceWeight(t *testing.T) {
	tunables := config.DefaultTunables()
	bots := []bot.Bot{
		&fakeBot{name: "a", confidence: 0.8, slope: 1},
		&fakeBot{name: "b", confidence: 0.2, slope: 2},
	}
	o, _, predStore := buildTestOrchestrator(t, bots, tunables)

	rec, err := o.Predict(context.Background(), "ACME", model.TF1m, 1, nil, 10)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(rec.PredictedSeries) == 0 {
		t.Fatal("expected merged series")
	}
	if rec.OverallConfidence <= 0 {
		t.Fatalf("expected positive overall confidence, got %v", rec.OverallConfidence)
	}
	if predStore.last.ID != rec.ID {
		t.Fatal("expected prediction to be persisted")
	}
}

func TestPredictReturnsNoValidPredictionWhenAllBotsFail(t *testing.T) {
	tunables := config.DefaultTunables()
	bots := []bot.Bot{
		&fakeBot{name: "a", err: fmt.Errorf("boom")},
	}
	o, _, _ := buildTestOrchestrator(t, bots, tunables)

	rec, err := o.Predict(context.Background(), "ACME", model.TF1m, 1, nil, 10)
	if err == nil {
		t.Fatal("expected no_valid_prediction error")
	}
	if !rec.NoValidPrediction() {
		t.Fatal("expected record to report no valid prediction")
	}
}

func TestPredictTimesOutSlowBot(t *testing.T) {
	tunables := config.DefaultTunables()
	tunables.BotTimeout = 20 * time.Millisecond
	bots := []bot.Bot{
		&fakeBot{name: "slow", confidence: 0.9, slope: 1, delay: 200 * time.Millisecond},
	}
	o, _, _ := buildTestOrchestrator(t, bots, tunables)

	rec, err := o.Predict(context.Background(), "ACME", model.TF1m, 1, nil, 10)
	if err == nil {
		t.Fatal("expected error from timed-out bot with no survivors")
	}
	flag, ok := rec.ValidationFlags["slow"]
	if !ok || flag.Accepted {
		t.Fatalf("expected slow bot to be rejected, got %+v", flag)
	}
}

func TestPredictDropsBotExceedingEnvelope(t *testing.T) {
	tunables := config.DefaultTunables()
	wild := &fakeBot{name: "wild", confidence: 0.9, slope: 10000}
	sane := &fakeBot{name: "sane", confidence: 0.5, slope: 0.1}
	o, _, _ := buildTestOrchestrator(t, []bot.Bot{wild, sane}, tunables)

	rec, err := o.Predict(context.Background(), "ACME", model.TF1m, 1, nil, 10)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if flag := rec.ValidationFlags["wild"]; flag.Accepted {
		t.Fatal("expected wild bot to be rejected by sanitize+envelope")
	}
	if flag := rec.ValidationFlags["sane"]; !flag.Accepted {
		t.Fatal("expected sane bot to survive")
	}
}
