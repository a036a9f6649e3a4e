// Package health implements the Drift/Health Monitor: per-model recency,
// realized-error drift, and baseline-comparison signals, reduced to a
// green/yellow/red health status. Grounded on the teacher's periodic
// liveness-checker pattern (internal/metrics' StartLivenessChecker),
// generalized from a fixed infra probe to a per-(symbol,timeframe,bot)
// model health scan.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketforecast/internal/config"
	"marketforecast/internal/metrics"
	"marketforecast/internal/model"
	"marketforecast/internal/notification"
)

// Status is the reduced health signal for one trained model.
type Status string

const (
	Green  Status = "green"
	Yellow Status = "yellow"
	Red    Status = "red"
)

// Report is the per-model health snapshot the models report surfaces.
type Report struct {
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	BotName    string    `json:"bot_name"`
	Status     Status    `json:"status"`
	AgeHours   float64   `json:"age_hours"`
	DriftScore float64   `json:"drift_score"`
	TestRMSE   float64   `json:"test_rmse"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Evaluate reduces a Training Record to a health Report as of now, per the
// recency/drift thresholds in tun.
func Evaluate(rec model.TrainingRecord, now time.Time, tun config.Tunables) Report {
	reference := rec.FinishedAt
	if reference.IsZero() {
		reference = rec.StartedAt
	}
	ageHours := now.Sub(reference).Hours()

	status := Green
	switch {
	case rec.Status == model.TrainingFailed, ageHours >= 48, rec.DriftScore >= tun.DriftRed:
		status = Red
	case ageHours >= 24, rec.DriftScore >= tun.DriftYellow:
		status = Yellow
	}

	return Report{
		Symbol:     rec.Symbol,
		Timeframe:  rec.Timeframe.String(),
		BotName:    rec.BotName,
		Status:     status,
		AgeHours:   ageHours,
		DriftScore: rec.DriftScore,
		TestRMSE:   rec.TestRMSE,
		UpdatedAt:  now,
	}
}

func statusValue(s Status) float64 {
	switch s {
	case Green:
		return 0
	case Yellow:
		return 1
	default:
		return 2
	}
}

// Monitor periodically scans the Training Store's records (archived and
// queued ones are skipped) and updates the exported health/drift gauges.
type Monitor struct {
	store    model.TrainingStore
	tun      *config.Store
	notifier notification.Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger

	mu         sync.Mutex
	lastStatus map[string]Status
}

// NewMonitor builds a Monitor over the given Training Store.
func NewMonitor(store model.TrainingStore, tun *config.Store, m *metrics.Metrics, log *zap.Logger) *Monitor {
	return &Monitor{store: store, tun: tun, metrics: m, log: log, lastStatus: make(map[string]Status)}
}

// WithNotifier attaches an alert channel for Yellow/Red transitions. Nil is
// a valid no-op notifier (the default).
func (mon *Monitor) WithNotifier(n notification.Notifier) *Monitor {
	mon.notifier = n
	return mon
}

func (mon *Monitor) alertOnTransition(ctx context.Context, report Report) {
	if mon.notifier == nil {
		return
	}
	key := report.Symbol + "|" + report.Timeframe + "|" + report.BotName
	mon.mu.Lock()
	prev, seen := mon.lastStatus[key]
	mon.lastStatus[key] = report.Status
	mon.mu.Unlock()
	if seen && prev == report.Status {
		return
	}
	if report.Status == Green {
		return
	}
	level := notification.AlertWarning
	if report.Status == Red {
		level = notification.AlertCritical
	}
	alert := notification.Alert{
		Level:   level,
		Title:   fmt.Sprintf("%s %s/%s turned %s", report.BotName, report.Symbol, report.Timeframe, report.Status),
		Message: fmt.Sprintf("age=%.1fh drift=%.3f rmse=%.4f", report.AgeHours, report.DriftScore, report.TestRMSE),
	}
	if err := mon.notifier.Send(ctx, alert); err != nil {
		mon.log.Warn("health: alert delivery failed", zap.Error(err))
	}
}

// ScanOnce evaluates every Training Record that is neither archived nor
// queued (completed, running and failed ones) and refreshes the
// exported gauges, returning the reports for a models report response.
func (mon *Monitor) ScanOnce(ctx context.Context) ([]Report, error) {
	records, err := mon.store.ListTrainings(ctx)
	if err != nil {
		return nil, err
	}

	tun := mon.tun.Load()
	now := time.Now().UTC()
	reports := make([]Report, 0, len(records))
	for _, rec := range records {
		if rec.Status == model.TrainingArchived || rec.Status == model.TrainingQueued {
			continue
		}
		report := Evaluate(rec, now, tun)
		reports = append(reports, report)
		mon.metrics.HealthState.WithLabelValues(report.Symbol, report.Timeframe, report.BotName).Set(statusValue(report.Status))
		mon.metrics.DriftScore.WithLabelValues(report.Symbol, report.Timeframe, report.BotName).Set(report.DriftScore)
		mon.alertOnTransition(ctx, report)
	}
	return reports, nil
}

// Start runs ScanOnce on interval until ctx is cancelled, the way the
// teacher's liveness checker runs its dependency pings in the background.
func (mon *Monitor) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := mon.ScanOnce(ctx); err != nil {
					mon.log.Warn("health: scan failed", zap.Error(err))
				}
			}
		}
	}()
}
