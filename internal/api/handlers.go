package api

import (
	"encoding/json"
	"net/http"
	"time"

	"marketforecast/internal/apperr"
	"marketforecast/internal/model"
)

// handleGetWindow serves GetWindow: symbol, timeframe, limit, to_ts?,
// from_ts?, bypass_cache?.
func (s *Server) handleGetWindow(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeBadRequest(w, "symbol is required")
		return
	}
	tf, err := queryTimeframe(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	limit := queryInt(r, "limit", 200)
	to := queryInt64(r, "to_ts", time.Now().UTC().Unix())
	from := queryInt64(r, "from_ts", to-int64(limit)*tf.Seconds())

	ctx := r.Context()
	var window model.WindowSlice
	if queryBool(r, "bypass_cache") {
		window, err = s.loader.GetWindowBypassCache(ctx, symbol, tf, from, to)
	} else {
		window, err = s.loader.GetWindow(ctx, symbol, tf, from, to)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, window.Candles)
}

// handleGetLatestCandle serves GetLatestCandle: symbol, timeframe.
func (s *Server) handleGetLatestCandle(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeBadRequest(w, "symbol is required")
		return
	}
	tf, err := queryTimeframe(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	candle, err := s.loader.FetchLatest(r.Context(), symbol, tf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candle)
}

// handleTriggerPrediction serves TriggerPrediction: symbol, timeframe,
// horizon_minutes, selected_bots?.
func (s *Server) handleTriggerPrediction(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeBadRequest(w, "symbol is required")
		return
	}
	tf, err := queryTimeframe(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	horizon := queryInt(r, "horizon_minutes", 15)
	selectedBots := queryCSV(r, "selected_bots")

	rec, err := s.orch.Predict(r.Context(), symbol, tf, horizon, selectedBots, s.defaultLookbackCandles)
	if err != nil && apperr.KindOf(err) != apperr.NoValidPrediction {
		writeError(w, err)
		return
	}
	// no_valid_prediction is still a 200 with the audit record attached,
	// per §7's "still persisted for audit" contract.
	writeJSON(w, http.StatusOK, rec)
}

// handleGetLatestPrediction serves GetLatestPrediction: symbol, timeframe.
func (s *Server) handleGetLatestPrediction(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeBadRequest(w, "symbol is required")
		return
	}
	tf, err := queryTimeframe(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rec, err := s.predStore.LatestPrediction(r.Context(), symbol, tf)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleTrainBot serves TrainBot: symbol, timeframe, bot_name, epochs,
// batch_size.
func (s *Server) handleTrainBot(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	botName := r.URL.Query().Get("bot_name")
	if symbol == "" || botName == "" {
		writeBadRequest(w, "symbol and bot_name are required")
		return
	}
	tf, err := queryTimeframe(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	job := model.TrainingJob{
		Symbol:      symbol,
		Timeframe:   tf,
		BotName:     botName,
		Epochs:      queryInt(r, "epochs", 10),
		BatchSize:   queryInt(r, "batch_size", 32),
		RequestedAt: time.Now().UTC(),
	}
	admitted := s.queue.Enqueue(job)
	if admitted == 0 {
		writeError(w, apperr.New(apperr.DuplicateJob, "training already queued or running for "+job.Key()))
		return
	}
	s.queue.EnsureWorker(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]any{"training_id": job.Key(), "status": "queued"})
}

// handleStartAutoTraining serves StartAutoTraining: symbols[],
// timeframes[], bots[].
func (s *Server) handleStartAutoTraining(w http.ResponseWriter, r *http.Request) {
	var req autoTrainingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if len(req.Symbols) == 0 || len(req.Timeframes) == 0 || len(req.Bots) == 0 {
		writeBadRequest(w, "symbols, timeframes, and bots are all required")
		return
	}
	timeframes := make([]model.Timeframe, 0, len(req.Timeframes))
	for _, t := range req.Timeframes {
		tf, err := model.ParseTimeframe(t)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		timeframes = append(timeframes, tf)
	}
	epochs := req.Epochs
	if epochs == 0 {
		epochs = 10
	}
	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = 32
	}

	requested := len(req.Symbols) * len(timeframes) * len(req.Bots)
	admitted := s.queue.Start(r.Context(), req.Symbols, timeframes, req.Bots, epochs, batchSize)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queue_size": s.queue.Status().QueueLength,
		"admitted":   admitted,
		"duplicates": requested - admitted,
	})
}

// handleTrainingControl serves TrainingControl: one of
// pause|resume|stop|force-stop.
func (s *Server) handleTrainingControl(w http.ResponseWriter, r *http.Request) {
	var req trainingControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	switch req.Action {
	case "pause":
		s.queue.Pause()
	case "resume":
		s.queue.Resume()
	case "stop":
		s.queue.Stop()
	case "force-stop":
		s.queue.ForceStop()
	default:
		writeBadRequest(w, "action must be one of pause, resume, stop, force-stop")
		return
	}
	writeJSON(w, http.StatusOK, s.queue.Status())
}

// handleGetTrainingStatus serves GetTrainingStatus.
func (s *Server) handleGetTrainingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Status())
}

// handleGetModelsReport serves GetModelsReport: list of Training Records
// with health.
func (s *Server) handleGetModelsReport(w http.ResponseWriter, r *http.Request) {
	reports, err := s.monitor.ScanOnce(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

// handleClearModel serves ClearModel: symbol, timeframe, bot_name.
func (s *Server) handleClearModel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeBadRequest(w, "method not allowed")
		return
	}
	symbol := r.URL.Query().Get("symbol")
	botName := r.URL.Query().Get("bot_name")
	if symbol == "" || botName == "" {
		writeBadRequest(w, "symbol and bot_name are required")
		return
	}
	tf, err := queryTimeframe(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	removed, err := s.trainStore.DeleteTraining(r.Context(), symbol, tf, botName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// handleClearCache serves ClearCache.
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.loader.ClearCache(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}
