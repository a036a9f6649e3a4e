package trainqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"marketforecast/internal/bot"
	"marketforecast/internal/cache"
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

type fakeCandleStore struct {
	mu      sync.Mutex
	candles []model.Candle
}

func (s *fakeCandleStore) PutCandles(ctx context.Context, c []model.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles = append(s.candles, c...)
	return nil
}
func (s *fakeCandleStore) ReadCandles(ctx context.Context, symbol string, tf model.Timeframe, from, to int64) ([]model.Candle, error) {
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
func (s *fakeCandleStore) Close() error { return nil }

type failingProvider struct{}

func (failingProvider) Name() string { return "primary" }
func (failingProvider) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe, from, to int64) ([]model.Candle, error) {
	return nil, fmt.Errorf("no upstream in test")
}

type fakeTrainingStore struct {
	mu       sync.Mutex
	records  []model.TrainingRecord
	archived map[string]bool
}

func newFakeTrainingStore() *fakeTrainingStore {
	return &fakeTrainingStore{archived: make(map[string]bool)}
}
func (s *fakeTrainingStore) PutTraining(ctx context.Context, t model.TrainingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, t)
	return nil
}
func (s *fakeTrainingStore) ArchivePrior(ctx context.Context, symbol string, tf model.Timeframe, botName, keepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		r := &s.records[i]
		if r.Symbol == symbol && r.Timeframe == tf && r.BotName == botName && r.ID != keepID && r.Status == model.TrainingCompleted {
			r.Status = model.TrainingArchived
		}
	}
	return nil
}
func (s *fakeTrainingStore) ListTrainings(ctx context.Context) ([]model.TrainingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.TrainingRecord{}, s.records...), nil
}
func (s *fakeTrainingStore) DeleteTraining(ctx context.Context, symbol string, tf model.Timeframe, botName string) (int, error) {
	return 0, nil
}
func (s *fakeTrainingStore) Close() error { return nil }

func (s *fakeTrainingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type blockingBot struct {
	name    string
	trained chan struct{}
}

func (b *blockingBot) Name() string { return b.name }
func (b *blockingBot) Predict(ctx context.Context, window model.WindowSlice, horizonMinutes int) ([]model.PredictedPoint, float64, error) {
	return nil, 0, nil
}
func (b *blockingBot) Train(ctx context.Context, window model.WindowSlice, hp bot.Hyperparams) (bot.TrainResult, error) {
	select {
	case <-ctx.Done():
		return bot.TrainResult{}, ctx.Err()
	case <-b.trained:
		return bot.TrainResult{DataPointsUsed: len(window.Candles), TestRMSE: 1, TestMAE: 1}, nil
	}
}

type instantBot struct{ name string }

func (b *instantBot) Name() string { return b.name }
func (b *instantBot) Predict(ctx context.Context, window model.WindowSlice, horizonMinutes int) ([]model.PredictedPoint, float64, error) {
	return nil, 0, nil
}
func (b *instantBot) Train(ctx context.Context, window model.WindowSlice, hp bot.Hyperparams) (bot.TrainResult, error) {
	return bot.TrainResult{DataPointsUsed: len(window.Candles), TestRMSE: 0.5, TestMAE: 0.3}, nil
}

func buildTestQueue(t *testing.T, bots []bot.Bot) (*Queue, *fakeTrainingStore) {
	t.Helper()
	m := sharedTestMetrics()
	store := &fakeCandleStore{}
	base := time.Now().UTC().Add(-2 * time.Hour)
	for i := 0; i < 100; i++ {
		ts := time.Unix(base.Unix()-(base.Unix()%60)+int64(i)*60, 0).UTC()
		store.candles = append(store.candles, model.Candle{
			Symbol: "ACME", Timeframe: model.TF1m, StartTS: ts,
			Open: 100, High: 101, Low: 99, Close: 100 + float64(i)*0.01, Volume: 10, Provenance: model.ProvenanceDB,
		})
	}
	warm := cache.NewWarm(10)
	chain := upstream.NewChain(m, zap.NewNop(), failingProvider{})
	l := loader.New(nil, warm, nil, store, chain, nil, 1, m, zap.NewNop())

	trainStore := newFakeTrainingStore()
	h := hub.New(m, zap.NewNop())
	idCounter := 0
	newID := func() string { idCounter++; return fmt.Sprintf("train-%d", idCounter) }

	return New(l, bots, trainStore, nil, h, newID, m, zap.NewNop()), trainStore
}

func TestEnqueueRejectsDuplicates(t *testing.T) {
	q, _ := buildTestQueue(t, []bot.Bot{&instantBot{name: "trend"}})
	job := model.TrainingJob{Symbol: "ACME", Timeframe: model.TF1m, BotName: "trend"}

	admitted := q.Enqueue(job, job)
	if admitted != 1 {
		t.Fatalf("expected 1 admitted job, got %d", admitted)
	}
}

func TestStartRunsJobToCompletion(t *testing.T) {
	q, trainStore := buildTestQueue(t, []bot.Bot{&instantBot{name: "trend"}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx, []string{"ACME"}, []model.Timeframe{model.TF1m}, []string{"trend"}, 1, 8)

	deadline := time.Now().Add(2 * time.Second)
	for trainStore.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if trainStore.count() != 1 {
		t.Fatalf("expected 1 persisted training record, got %d", trainStore.count())
	}
	status := q.Status()
	if status.CompletedCount != 1 {
		t.Fatalf("expected completed count 1, got %d", status.CompletedCount)
	}
}

func TestForceStopCancelsRunningJob(t *testing.T) {
	b := &blockingBot{name: "slow", trained: make(chan struct{})}
	q, trainStore := buildTestQueue(t, []bot.Bot{b})
	ctx := context.Background()

	q.Start(ctx, []string{"ACME"}, []model.Timeframe{model.TF1m}, []string{"slow"}, 1, 8)

	deadline := time.Now().Add(2 * time.Second)
	for q.Status().Current == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	q.ForceStop()

	deadline = time.Now().Add(2 * time.Second)
	for trainStore.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if trainStore.count() != 1 {
		t.Fatalf("expected failed record persisted after force-stop, got %d records", trainStore.count())
	}
	recs, _ := trainStore.ListTrainings(ctx)
	if recs[0].Status != model.TrainingFailed {
		t.Fatalf("expected failed status, got %v", recs[0].Status)
	}
}

func TestPauseStopsPickingUpNewJobs(t *testing.T) {
	q, _ := buildTestQueue(t, []bot.Bot{&instantBot{name: "trend"}})
	q.Pause()
	job := model.TrainingJob{Symbol: "ACME", Timeframe: model.TF1m, BotName: "trend"}
	q.Enqueue(job)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.ensureWorker(ctx)

	time.Sleep(50 * time.Millisecond)
	status := q.Status()
	if status.CompletedCount != 0 {
		t.Fatalf("expected no jobs completed while paused, got %d", status.CompletedCount)
	}
	if status.QueueLength != 1 {
		t.Fatalf("expected job to remain queued, got length %d", status.QueueLength)
	}
}
