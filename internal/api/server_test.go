package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marketforecast/internal/bot"
	"marketforecast/internal/cache"
	"marketforecast/internal/config"
	"marketforecast/internal/health"
	"marketforecast/internal/hub"
	"marketforecast/internal/loader"
	"marketforecast/internal/metrics"
	"marketforecast/internal/model"
	"marketforecast/internal/orchestrator"
	"marketforecast/internal/trainqueue"
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
	if s.last.ID == "" {
		return nil, nil
	}
	rec := s.last
	return &rec, nil
}
func (s *fakePredictionStore) Close() error { return nil }

type fakeTrainingStore struct {
	mu      sync.Mutex
	records []model.TrainingRecord
}

func (s *fakeTrainingStore) PutTraining(ctx context.Context, t model.TrainingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, t)
	return nil
}
func (s *fakeTrainingStore) ArchivePrior(ctx context.Context, symbol string, tf model.Timeframe, botName, keepID string) error {
	return nil
}
func (s *fakeTrainingStore) ListTrainings(ctx context.Context) ([]model.TrainingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.TrainingRecord{}, s.records...), nil
}
func (s *fakeTrainingStore) DeleteTraining(ctx context.Context, symbol string, tf model.Timeframe, botName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	kept := s.records[:0]
	for _, r := range s.records {
		if r.Symbol == symbol && r.Timeframe == tf && r.BotName == botName {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return removed, nil
}
func (s *fakeTrainingStore) Close() error { return nil }

type fakeBot struct{ name string }

func (b *fakeBot) Name() string { return b.name }
func (b *fakeBot) Predict(ctx context.Context, window model.WindowSlice, horizonMinutes int) ([]model.PredictedPoint, float64, error) {
	last, _ := window.Last()
	return []model.PredictedPoint{{TS: last.StartTS.Add(time.Minute), Price: last.Close + 1, Confidence: 0.7}}, 0.7, nil
}
func (b *fakeBot) Train(ctx context.Context, window model.WindowSlice, hp bot.Hyperparams) (bot.TrainResult, error) {
	return bot.TrainResult{DataPointsUsed: len(window.Candles), TestRMSE: 0.5}, nil
}

func buildTestServer(t *testing.T) *Server {
	t.Helper()
	m := sharedTestMetrics()
	log := zap.NewNop()

	candleStore := &fakeCandleStore{}
	nowMinute := time.Now().UTC().Unix() / 60 * 60
	const candleCount = 600
	for i := 0; i < candleCount; i++ {
		ts := time.Unix(nowMinute-int64(candleCount-1-i)*60, 0).UTC()
		candleStore.candles = append(candleStore.candles, model.Candle{
			Symbol: "ACME", Timeframe: model.TF1m, StartTS: ts,
			Open: 100, High: 101, Low: 99, Close: 100 + float64(i)*0.01, Volume: 10, Provenance: model.ProvenanceDB,
		})
	}
	warm := cache.NewWarm(10)
	chain := upstream.NewChain(m, log, failingProvider{})
	l := loader.New(nil, warm, nil, candleStore, chain, nil, 1, m, log)

	predStore := &fakePredictionStore{}
	trainStore := &fakeTrainingStore{}
	h := hub.New(m, log)
	tunStore := config.NewStore(config.DefaultTunables())

	idCounter := 0
	newID := func() string { idCounter++; return fmt.Sprintf("id-%d", idCounter) }

	orch := orchestrator.New(l, []bot.Bot{&fakeBot{name: "trend"}}, predStore, h, tunStore, newID, nil, m, log)
	queue := trainqueue.New(l, []bot.Bot{&fakeBot{name: "trend"}}, trainStore, nil, h, newID, m, log)
	monitor := health.NewMonitor(trainStore, tunStore, m, log)

	return NewServer(l, orch, queue, predStore, trainStore, monitor, h, newID, m, log)
}

func TestHandleGetWindowReturnsCandles(t *testing.T) {
	srv := buildTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/window?symbol=ACME&timeframe=1m&limit=10", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var candles []model.Candle
	if err := json.Unmarshal(w.Body.Bytes(), &candles); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(candles) == 0 {
		t.Fatal("expected non-empty candle list")
	}
}

func TestHandleGetWindowRejectsMissingSymbol(t *testing.T) {
	srv := buildTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/window?timeframe=1m", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleTriggerPredictionReturnsRecord(t *testing.T) {
	srv := buildTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/predictions/trigger?symbol=ACME&timeframe=1m&horizon_minutes=5", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var rec model.PredictionRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rec.PredictedSeries) == 0 {
		t.Fatal("expected a predicted series")
	}
}

func TestHandleTrainBotRejectsDuplicateEnqueue(t *testing.T) {
	srv := buildTestServer(t)
	// Pause before the first request so the worker never dequeues the job;
	// otherwise it can finish (and free the dedup key) before the second
	// request lands, making the test flaky.
	srv.queue.Pause()
	body := "/api/v1/training/jobs?symbol=ACME&timeframe=1m&bot_name=trend"

	req1 := httptest.NewRequest(http.MethodPost, body, nil)
	w1 := httptest.NewRecorder()
	srv.Router().ServeHTTP(w1, req1)
	if w1.Code != http.StatusAccepted {
		t.Fatalf("expected first enqueue to succeed, got %d: %s", w1.Code, w1.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodPost, body, nil)
	w2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(w2, req2)
	if w2.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected duplicate_job, got %d: %s", w2.Code, w2.Body.String())
	}
}

func TestHandleClearCacheSucceeds(t *testing.T) {
	srv := buildTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cache", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestWebSocketSubscribeAck(t *testing.T) {
	srv := buildTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(clientMessage{Action: "subscribe", Symbol: "ACME", Timeframe: "1m"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack serverMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ack.Type != "subscribed" || ack.Symbol != "ACME" {
		t.Fatalf("expected subscribed ack, got %+v", ack)
	}
}
