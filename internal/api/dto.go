package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"marketforecast/internal/apperr"
	"marketforecast/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates err into the §7 error envelope, choosing an HTTP
// status from the apperr Kind.
func writeError(w http.ResponseWriter, err error) {
	env := apperr.ToEnvelope(err)
	status := http.StatusInternalServerError
	switch env.Error {
	case apperr.DataUnavailable, apperr.InsufficientCoverage, apperr.NotFound:
		status = http.StatusNotFound
	case apperr.ValidationFailed, apperr.NoValidPrediction, apperr.DuplicateJob:
		status = http.StatusUnprocessableEntity
	case apperr.UpstreamFailure, apperr.Timeout:
		status = http.StatusBadGateway
	case apperr.Cancelled:
		status = http.StatusRequestTimeout
	}
	writeJSON(w, status, env)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, apperr.Envelope{Error: apperr.Kind("bad_request"), Message: message})
}

func queryTimeframe(r *http.Request) (model.Timeframe, error) {
	return model.ParseTimeframe(r.URL.Query().Get("timeframe"))
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryInt64(r *http.Request, name string, def int64) int64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func queryBool(r *http.Request, name string) bool {
	v := strings.ToLower(r.URL.Query().Get(name))
	return v == "1" || v == "true" || v == "yes"
}

func queryCSV(r *http.Request, name string) []string {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// autoTrainingRequest is StartAutoTraining's JSON body.
type autoTrainingRequest struct {
	Symbols    []string `json:"symbols"`
	Timeframes []string `json:"timeframes"`
	Bots       []string `json:"bots"`
	Epochs     int      `json:"epochs"`
	BatchSize  int      `json:"batch_size"`
}

// trainingControlRequest is TrainingControl's JSON body.
type trainingControlRequest struct {
	Action string `json:"action"` // pause | resume | stop | force-stop
}
