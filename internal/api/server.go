// Package api exposes the forecasting service over HTTP and WebSocket:
// the request/response operations from the external interface table plus
// the subscribe/unsubscribe push channel. Grounded on the teacher's
// internal/gateway RegisterRoutes (http.ServeMux, per-route CORS, a single
// upgrader) generalized from a fixed Redis-stream API to the forecasting
// domain's operation set.
package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"marketforecast/internal/health"
	"marketforecast/internal/hub"
	"marketforecast/internal/loader"
	"marketforecast/internal/metrics"
	"marketforecast/internal/model"
	"marketforecast/internal/orchestrator"
	"marketforecast/internal/trainqueue"
)

// IDGenerator produces unique client connection IDs for the Hub.
type IDGenerator func() string

// Server wires the domain components behind the external interface
// operations. It holds no business logic itself — every handler is a thin
// translation between HTTP/WS and a call on one of these.
type Server struct {
	loader     *loader.Loader
	orch       *orchestrator.Orchestrator
	queue      *trainqueue.Queue
	predStore  model.PredictionStore
	trainStore model.TrainingStore
	monitor    *health.Monitor
	hub        *hub.Hub
	newClientID IDGenerator

	defaultLookbackCandles int
	startedAt              time.Time

	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewServer builds a Server over the already-constructed domain
// components; NewServer does not start anything.
func NewServer(
	l *loader.Loader,
	orch *orchestrator.Orchestrator,
	queue *trainqueue.Queue,
	predStore model.PredictionStore,
	trainStore model.TrainingStore,
	monitor *health.Monitor,
	h *hub.Hub,
	newClientID IDGenerator,
	m *metrics.Metrics,
	log *zap.Logger,
) *Server {
	return &Server{
		loader:                 l,
		orch:                   orch,
		queue:                  queue,
		predStore:              predStore,
		trainStore:             trainStore,
		monitor:                monitor,
		hub:                    h,
		newClientID:            newClientID,
		defaultLookbackCandles: 500,
		startedAt:              time.Now().UTC(),
		metrics:                m,
		log:                    log,
	}
}

// Router builds the HTTP handler tree for the service.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", s.handleServiceHealth)
	mux.HandleFunc("/api/v1/window", s.handleGetWindow)
	mux.HandleFunc("/api/v1/candles/latest", s.handleGetLatestCandle)
	mux.HandleFunc("/api/v1/predictions/trigger", s.handleTriggerPrediction)
	mux.HandleFunc("/api/v1/predictions/latest", s.handleGetLatestPrediction)
	mux.HandleFunc("/api/v1/training/jobs", s.handleTrainBot)
	mux.HandleFunc("/api/v1/training/auto", s.handleStartAutoTraining)
	mux.HandleFunc("/api/v1/training/control", s.handleTrainingControl)
	mux.HandleFunc("/api/v1/training/status", s.handleGetTrainingStatus)
	mux.HandleFunc("/api/v1/models/report", s.handleGetModelsReport)
	mux.HandleFunc("/api/v1/models", s.handleClearModel)
	mux.HandleFunc("/api/v1/cache", s.handleClearCache)
	mux.HandleFunc("/ws", s.handleWebSocket)

	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"ws_clients": s.hub.SubscriberCount(),
		"uptime_sec": int64(time.Since(s.startedAt).Seconds()),
	})
}
