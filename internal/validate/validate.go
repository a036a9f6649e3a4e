// Package validate implements the four-layer drift/sanity gate that sits
// between bots, the merger, persistence, and the client: schema, sanity,
// envelope, and client. Each gate emits a stable reason tag recorded on the
// Prediction Record's validation_flags, grounded on the teacher's layered
// order-validation checks in internal/execution (reject-with-reason rather
// than panic-on-bad-input).
package validate

import (
	"math"

	"marketforecast/internal/config"
	"marketforecast/internal/model"
)

// Reason is a stable tag recorded in a PredictionRecord's validation_flags.
type Reason string

const (
	ReasonSchemaMissing       Reason = "schema_missing"
	ReasonFutureTimestamp     Reason = "future_timestamp"
	ReasonNonMonotonic        Reason = "non_monotonic"
	ReasonOHLCInvalid         Reason = "ohlc_invalid"
	ReasonNaNOrInf            Reason = "nan_or_inf"
	ReasonNegativePrice       Reason = "negative_price"
	ReasonStepDriftExceeded   Reason = "step_drift_exceeded"
	ReasonTotalDriftExceeded  Reason = "total_drift_exceeded"
	ReasonEnvelopeExceeded    Reason = "envelope_exceeded"
	ReasonInsufficientSamples Reason = "insufficient_samples"
	ReasonTimedOut            Reason = "timed_out"
)

// Result is the outcome of running a series through a gate.
type Result struct {
	Accepted bool
	Reasons  []Reason
}

func ok() Result { return Result{Accepted: true} }

func fail(reasons ...Reason) Result { return Result{Accepted: false, Reasons: reasons} }

// Merge combines two Results, accumulating reasons and failing if either did.
func (r Result) Merge(other Result) Result {
	out := Result{Accepted: r.Accepted && other.Accepted}
	out.Reasons = append(append([]Reason{}, r.Reasons...), other.Reasons...)
	return out
}

func (r Result) strings() []string {
	out := make([]string, len(r.Reasons))
	for i, reason := range r.Reasons {
		out[i] = string(reason)
	}
	return out
}

// ToFlag converts a Result into the wire-level model.ValidationFlag.
func (r Result) ToFlag() model.ValidationFlag {
	return model.ValidationFlag{Accepted: r.Accepted, Reasons: r.strings()}
}

// SchemaGate checks required fields, monotonic timestamps, OHLC invariants,
// and the minimum sample count on a raw window.
func SchemaGate(w model.WindowSlice, minCandles int) Result {
	if len(w.Candles) < minCandles {
		return fail(ReasonInsufficientSamples)
	}
	var prevSet bool
	var prev model.Candle
	for _, c := range w.Candles {
		if c.Symbol == "" || !c.Timeframe.Valid() {
			return fail(ReasonSchemaMissing)
		}
		if prevSet && !c.StartTS.After(prev.StartTS) {
			return fail(ReasonNonMonotonic)
		}
		if err := c.ValidateOHLC(); err != nil {
			return fail(ReasonOHLCInvalid)
		}
		prev = c
		prevSet = true
	}
	return ok()
}

// SanityGate checks a predicted series for NaN/Inf, non-positive prices,
// excessive bar-to-bar step change, and excessive total drift from
// referencePrice, per t.StepMaxPct / t.TotalMaxPct.
func SanityGate(series []model.PredictedPoint, referencePrice float64, t config.Tunables) Result {
	if len(series) == 0 {
		return fail(ReasonSchemaMissing)
	}
	var reasons []Reason
	prevPrice := referencePrice
	for _, p := range series {
		if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || math.IsNaN(p.Confidence) || math.IsInf(p.Confidence, 0) {
			reasons = append(reasons, ReasonNaNOrInf)
			continue
		}
		if p.Price <= 0 {
			reasons = append(reasons, ReasonNegativePrice)
			continue
		}
		if stepPct := pctChange(prevPrice, p.Price); stepPct > t.StepMaxPct {
			reasons = append(reasons, ReasonStepDriftExceeded)
		}
		prevPrice = p.Price
	}
	if totalPct := pctChange(referencePrice, series[len(series)-1].Price); totalPct > t.TotalMaxPct {
		reasons = append(reasons, ReasonTotalDriftExceeded)
	}
	if len(reasons) > 0 {
		return Result{Accepted: false, Reasons: dedup(reasons)}
	}
	return ok()
}

// EnvelopeGate applies a bound tighter than the sanity gate to one bot's
// (possibly sanitized) series before it enters the merge: 0.6x of t's
// step/total bounds, plus a check that no point lies more than
// t.EnvelopeStdDev standard deviations from the series' own mean. Because
// Sanitize only brings a series within the sanity bounds, a bot whose raw
// output had to be clamped beyond 0.6x of them is still rejected here.
func EnvelopeGate(series []model.PredictedPoint, referencePrice float64, t config.Tunables) Result {
	envelopeStep := t.StepMaxPct * 0.6
	envelopeTotal := t.TotalMaxPct * 0.6

	mean, stddev := meanStdDev(series)
	if stddev > 0 && t.EnvelopeStdDev > 0 {
		for _, p := range series {
			if math.Abs(p.Price-mean) > t.EnvelopeStdDev*stddev {
				return fail(ReasonEnvelopeExceeded)
			}
		}
	}

	prevPrice := referencePrice
	for _, p := range series {
		if pctChange(prevPrice, p.Price) > envelopeStep {
			return fail(ReasonEnvelopeExceeded)
		}
		prevPrice = p.Price
	}
	if pctChange(referencePrice, series[len(series)-1].Price) > envelopeTotal {
		return fail(ReasonEnvelopeExceeded)
	}
	return ok()
}

// ClientGate re-verifies the same thresholds the envelope gate already
// enforced, encoded independently so a consumer rendering the wire contract
// can refuse to display a forecast that somehow violates its own stated
// bounds (e.g. corrupted in transit or mutated by an intermediary).
func ClientGate(rec model.PredictionRecord, t config.Tunables) Result {
	if rec.NoValidPrediction() {
		return fail(ReasonInsufficientSamples)
	}
	return EnvelopeGate(rec.PredictedSeries, rec.ReferencePrice, t)
}

// Sanitize clamps a copy of series to satisfy the sanity gate: per-step
// moves beyond StepMaxPct are clamped, and the whole series is clamped to
// stay within TotalMaxPct of referencePrice. Returns the clamped copy;
// callers must re-run the envelope gate afterward since sanitization does
// not guarantee it passes the tighter bound.
func Sanitize(series []model.PredictedPoint, referencePrice float64, t config.Tunables) []model.PredictedPoint {
	out := make([]model.PredictedPoint, len(series))
	prevPrice := referencePrice
	lowBand := referencePrice * (1 - t.TotalMaxPct)
	highBand := referencePrice * (1 + t.TotalMaxPct)

	for i, p := range series {
		price := p.Price
		if math.IsNaN(price) || math.IsInf(price, 0) {
			price = prevPrice
		}
		maxStep := prevPrice * t.StepMaxPct
		if price > prevPrice+maxStep {
			price = prevPrice + maxStep
		} else if price < prevPrice-maxStep {
			price = prevPrice - maxStep
		}
		if price < lowBand {
			price = lowBand
		} else if price > highBand {
			price = highBand
		}
		if price <= 0 {
			price = prevPrice
		}
		out[i] = model.PredictedPoint{TS: p.TS, Price: price, Confidence: p.Confidence}
		prevPrice = price
	}
	return out
}

func pctChange(from, to float64) float64 {
	if from == 0 {
		return math.Inf(1)
	}
	return math.Abs(to-from) / math.Abs(from)
}

func meanStdDev(series []model.PredictedPoint) (mean, stddev float64) {
	if len(series) == 0 {
		return 0, 0
	}
	var sum float64
	for _, p := range series {
		sum += p.Price
	}
	mean = sum / float64(len(series))

	var sqDiff float64
	for _, p := range series {
		d := p.Price - mean
		sqDiff += d * d
	}
	variance := sqDiff / float64(len(series))
	stddev = math.Sqrt(variance)
	return mean, stddev
}

func dedup(reasons []Reason) []Reason {
	seen := make(map[Reason]bool, len(reasons))
	out := make([]Reason, 0, len(reasons))
	for _, r := range reasons {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
