// Package metrics holds the Prometheus registry for the forecasting
// service, adapted from the teacher's OHLC-engine metrics into the
// prediction/training/cache domain.
package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the service exposes.
type Metrics struct {
	// Window Loader / cache tiers.
	CacheHitsTotal   *prometheus.CounterVec // labels: tier (hot_or_warm|cold)
	CacheMissesTotal *prometheus.CounterVec
	UpstreamFetchDur prometheus.Histogram
	UpstreamErrors   *prometheus.CounterVec // labels: provider

	// Validation Pipeline.
	ValidationRejectionsTotal *prometheus.CounterVec // labels: gate, reason

	// Prediction Orchestrator.
	PredictionLatency     prometheus.Histogram
	BotTimeoutsTotal      *prometheus.CounterVec // labels: bot
	BotRejectionsTotal    *prometheus.CounterVec // labels: bot, reason
	NoValidPredictionHits prometheus.Counter
	PredictionConfidence  prometheus.Histogram

	// Training Queue.
	TrainingQueueDepth        prometheus.Gauge
	TrainingJobsTotal         *prometheus.CounterVec // labels: status
	TrainingDuplicatesDropped prometheus.Counter

	// Subscription Hub.
	HubSubscribersGauge *prometheus.GaugeVec   // labels: topic
	HubFanoutDropsTotal *prometheus.CounterVec // labels: topic

	// Drift Health Monitor.
	HealthState *prometheus.GaugeVec // labels: symbol, timeframe, bot; value 0=green,1=yellow,2=red
	DriftScore  *prometheus.GaugeVec
}

// NewMetrics constructs and registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forecastd_cache_hits_total",
			Help: "Cache hits by tier",
		}, []string{"tier"}),
		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forecastd_cache_misses_total",
			Help: "Cache misses by tier",
		}, []string{"tier"}),
		UpstreamFetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "forecastd_upstream_fetch_duration_seconds",
			Help:    "Upstream provider fetch latency",
			Buckets: prometheus.DefBuckets,
		}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forecastd_upstream_errors_total",
			Help: "Upstream fetch errors by provider",
		}, []string{"provider"}),

		ValidationRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forecastd_validation_rejections_total",
			Help: "Validation pipeline rejections by gate and reason",
		}, []string{"gate", "reason"}),

		PredictionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "forecastd_prediction_latency_seconds",
			Help:    "End-to-end Predict() latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		BotTimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forecastd_bot_timeouts_total",
			Help: "Bot predict calls that exceeded their timeout",
		}, []string{"bot"}),
		BotRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forecastd_bot_rejections_total",
			Help: "Bot contributions dropped during sanitization, by reason",
		}, []string{"bot", "reason"}),
		NoValidPredictionHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forecastd_no_valid_prediction_total",
			Help: "Predict() calls where every bot contribution was rejected",
		}),
		PredictionConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "forecastd_prediction_confidence",
			Help:    "Overall confidence of published predictions",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),

		TrainingQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forecastd_training_queue_depth",
			Help: "Current number of queued training jobs",
		}),
		TrainingJobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forecastd_training_jobs_total",
			Help: "Training jobs processed by terminal status",
		}, []string{"status"}),
		TrainingDuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forecastd_training_duplicates_dropped_total",
			Help: "Enqueue calls dropped because an equivalent job was already queued",
		}),

		HubSubscribersGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forecastd_hub_subscribers",
			Help: "Current subscriber count per topic",
		}, []string{"topic"}),
		HubFanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forecastd_hub_fanout_drops_total",
			Help: "Messages dropped because a subscriber queue was full",
		}, []string{"topic"}),

		HealthState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forecastd_health_state",
			Help: "Per (symbol,timeframe,bot) health: 0=green 1=yellow 2=red",
		}, []string{"symbol", "timeframe", "bot"}),
		DriftScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "forecastd_drift_score",
			Help: "Most recent drift score per (symbol,timeframe,bot)",
		}, []string{"symbol", "timeframe", "bot"}),
	}

	prometheus.MustRegister(
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.UpstreamFetchDur,
		m.UpstreamErrors,
		m.ValidationRejectionsTotal,
		m.PredictionLatency,
		m.BotTimeoutsTotal,
		m.BotRejectionsTotal,
		m.NoValidPredictionHits,
		m.PredictionConfidence,
		m.TrainingQueueDepth,
		m.TrainingJobsTotal,
		m.TrainingDuplicatesDropped,
		m.HubSubscribersGauge,
		m.HubFanoutDropsTotal,
		m.HealthState,
		m.DriftScore,
	)

	return m
}

// HealthStatus tracks liveness of the service's external dependencies for
// the /healthz endpoint, in the teacher's lock-guarded snapshot style.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool      `json:"redis_connected"`
	StoreOK        bool      `json:"store_ok"`
	UpstreamOK     bool      `json:"upstream_ok"`
	RedisLatencyMs float64   `json:"redis_latency_ms"`
	StoreLatencyMs float64   `json:"store_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a freshly-started health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetStoreOK(v bool) {
	h.mu.Lock()
	h.StoreOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetUpstreamOK(v bool) {
	h.mu.Lock()
	h.UpstreamOK = v
	h.mu.Unlock()
}

// Pinger is satisfied by any dependency the liveness checker can probe
// (Redis client, *sql.DB, etc.) without metrics depending on their types.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StartLivenessChecker runs periodic dependency pings in the background.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, redis, store Pinger, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if redis != nil {
					start := time.Now()
					err := redis.Ping(probeCtx)
					h.mu.Lock()
					h.RedisConnected = err == nil
					h.RedisLatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
					h.mu.Unlock()
				}
				if store != nil {
					start := time.Now()
					err := store.Ping(probeCtx)
					h.mu.Lock()
					h.StoreOK = err == nil
					h.StoreLatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
					h.mu.Unlock()
				}
				h.mu.Lock()
				h.LastCheckAt = time.Now()
				h.mu.Unlock()
				cancel()
			}
		}
	}()
}

// ServeHTTP implements the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.RedisConnected || !h.StoreOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.StoreOK {
		status = "unhealthy"
	}

	resp := struct {
		Status         string  `json:"status"`
		Uptime         string  `json:"uptime"`
		RedisConnected bool    `json:"redis_connected"`
		RedisLatencyMs float64 `json:"redis_latency_ms"`
		StoreOK        bool    `json:"store_ok"`
		StoreLatencyMs float64 `json:"store_latency_ms"`
		UpstreamOK     bool    `json:"upstream_ok"`
		LastCheckAt    string  `json:"last_check_at"`
	}{
		Status:         status,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		StoreOK:        h.StoreOK,
		StoreLatencyMs: h.StoreLatencyMs,
		UpstreamOK:     h.UpstreamOK,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(resp)
}

// Server exposes /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer wires up the metrics/health mux.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)
	return &Server{addr: addr, srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start launches the server in the background.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
