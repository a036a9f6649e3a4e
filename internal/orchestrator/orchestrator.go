// Package orchestrator implements the Prediction Orchestrator: the single
// Predict operation that fans a window out to the requested bot roster,
// sanitizes and validates each bot's raw output, merges survivors by
// confidence-weighted mean, and persists and publishes the result.
// Grounded on the teacher's internal/strategy Engine fan-out loop,
// generalized from sequential signal evaluation to bounded concurrent
// bot calls via golang.org/x/sync/errgroup.
package orchestrator

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketforecast/internal/apperr"
	"marketforecast/internal/bot"
	"marketforecast/internal/config"
	"marketforecast/internal/hub"
	"marketforecast/internal/loader"
	"marketforecast/internal/metrics"
	"marketforecast/internal/model"
	"marketforecast/internal/similarity"
	"marketforecast/internal/validate"
)

// IDGenerator produces unique prediction record IDs.
type IDGenerator func() string

// Orchestrator owns the bot roster and the Predict operation.
type Orchestrator struct {
	loader     *loader.Loader
	bots       map[string]bot.Bot
	store      model.PredictionStore
	hub        *hub.Hub
	tun        *config.Store
	newID      IDGenerator
	similarity *similarity.Store

	metrics *metrics.Metrics
	log     *zap.Logger
}

// New builds an Orchestrator over the given bot roster, keyed by bot.Name().
// sim may be nil: a nil Regime Similarity Store makes every lookup/upsert a
// no-op, since Predict must never depend on it to succeed.
func New(l *loader.Loader, bots []bot.Bot, store model.PredictionStore, h *hub.Hub, tun *config.Store, newID IDGenerator, sim *similarity.Store, m *metrics.Metrics, log *zap.Logger) *Orchestrator {
	byName := make(map[string]bot.Bot, len(bots))
	for _, b := range bots {
		byName[b.Name()] = b
	}
	return &Orchestrator{loader: l, bots: byName, store: store, hub: h, tun: tun, newID: newID, similarity: sim, metrics: m, log: log}
}

type botOutcome struct {
	name       string
	raw        []model.PredictedPoint
	confidence float64
	flag       validate.Result
	err        error
}

// Predict runs the full fan-out -> sanitize -> merge -> persist -> publish
// pipeline for one (symbol, timeframe, horizon) request.
func (o *Orchestrator) Predict(ctx context.Context, symbol string, tf model.Timeframe, horizonMinutes int, selectedBots []string, lookbackCandles int) (model.PredictionRecord, error) {
	tunables := o.tun.Load()

	now := time.Now().UTC()
	window, err := o.loader.GetWindow(ctx, symbol, tf, now.Add(-time.Duration(lookbackCandles)*time.Duration(tf.Seconds())*time.Second).Unix(), now.Unix())
	if err != nil {
		return model.PredictionRecord{}, err
	}

	if len(selectedBots) == 0 {
		selectedBots = o.allBotNames()
	}

	referenceCandle, ok := window.Last()
	if !ok {
		return model.PredictionRecord{}, apperr.New(apperr.DataUnavailable, "empty window for "+symbol)
	}
	referencePrice := referenceCandle.Close

	outcomes := o.fanOut(ctx, window, horizonMinutes, selectedBots, referencePrice, tunables)

	rec := o.merge(symbol, tf, horizonMinutes, referencePrice, window, outcomes, tunables)
	rec.FeatureSnapshot = computeFeatureSnapshot(window)

	if err := o.store.PutPrediction(ctx, rec); err != nil {
		o.log.Warn("orchestrator: persist prediction failed", zap.Error(err), zap.String("symbol", symbol))
	}
	o.similarity.Upsert(ctx, rec)
	if rec.NoValidPrediction() {
		o.metrics.NoValidPredictionHits.Inc()
	}
	o.metrics.PredictionConfidence.Observe(rec.OverallConfidence)

	if o.hub != nil {
		o.hub.Publish(symbol, tf, hub.Message{Kind: hub.KindPredictionUpdate, Symbol: symbol, Payload: rec})
	}

	if rec.NoValidPrediction() {
		return rec, apperr.New(apperr.NoValidPrediction, "no bot survived validation for "+symbol).WithDetail(rec.ValidationFlags)
	}
	return rec, nil
}

func (o *Orchestrator) allBotNames() []string {
	names := make([]string, 0, len(o.bots))
	for name := range o.bots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// fanOut invokes the selected bots concurrently, at most runtime.NumCPU()
// at a time, each against its own read-only copy of window, under a per-bot
// wall-clock budget.
func (o *Orchestrator) fanOut(ctx context.Context, window model.WindowSlice, horizonMinutes int, selectedBots []string, referencePrice float64, tunables config.Tunables) []botOutcome {
	outcomes := make([]botOutcome, len(selectedBots))

	var eg errgroup.Group
	eg.SetLimit(runtime.NumCPU())
	for i, name := range selectedBots {
		i, name := i, name
		b, ok := o.bots[name]
		if !ok {
			outcomes[i] = botOutcome{name: name, err: fmt.Errorf("orchestrator: unknown bot %q", name)}
			continue
		}
		eg.Go(func() error {
			outcomes[i] = o.runOne(ctx, b, window.Clone(), horizonMinutes, referencePrice, tunables)
			return nil
		})
	}
	_ = eg.Wait()
	return outcomes
}

func (o *Orchestrator) runOne(ctx context.Context, b bot.Bot, window model.WindowSlice, horizonMinutes int, referencePrice float64, tunables config.Tunables) botOutcome {
	name := b.Name()
	botCtx, cancel := context.WithTimeout(ctx, tunables.BotTimeout)
	defer cancel()

	start := time.Now()
	var raw []model.PredictedPoint
	var confidence float64
	var predictErr error

	done := make(chan struct{})
	go func() {
		raw, confidence, predictErr = b.Predict(botCtx, window, horizonMinutes)
		close(done)
	}()

	select {
	case <-done:
	case <-botCtx.Done():
		o.metrics.BotTimeoutsTotal.WithLabelValues(name).Inc()
		return botOutcome{name: name, err: fmt.Errorf("orchestrator: bot %q timed out", name), flag: validate.Result{Accepted: false, Reasons: []validate.Reason{validate.ReasonTimedOut}}}
	}
	o.metrics.PredictionLatency.Observe(time.Since(start).Seconds())

	if predictErr != nil {
		o.metrics.BotRejectionsTotal.WithLabelValues(name, "predict_error").Inc()
		return botOutcome{name: name, err: predictErr}
	}

	sanity := validate.SanityGate(raw, referencePrice, tunables)
	if !sanity.Accepted {
		raw = validate.Sanitize(raw, referencePrice, tunables)
		sanity = validate.SanityGate(raw, referencePrice, tunables)
	}
	envelope := validate.EnvelopeGate(raw, referencePrice, tunables)
	flag := sanity.Merge(envelope)
	if !flag.Accepted {
		for _, r := range flag.Reasons {
			o.metrics.ValidationRejectionsTotal.WithLabelValues("envelope", string(r)).Inc()
		}
	}

	return botOutcome{name: name, raw: raw, confidence: confidence, flag: flag}
}

// merge combines surviving bot outputs by confidence-weighted mean
// per-timestep, tie-breaking on selectedBots order, falling back to the
// highest self-confidence survivor if every weight is zero.
func (o *Orchestrator) merge(symbol string, tf model.Timeframe, horizonMinutes int, referencePrice float64, window model.WindowSlice, outcomes []botOutcome, tunables config.Tunables) model.PredictionRecord {
	rec := model.PredictionRecord{
		ID:                o.newID(),
		Symbol:            symbol,
		Timeframe:         tf,
		HorizonMinutes:    horizonMinutes,
		ProducedAt:        time.Now().UTC(),
		ReferencePrice:    referencePrice,
		BotContributions: make(map[string]model.BotContribution, len(outcomes)),
		RawBotOutputs:    make(map[string][]model.PredictedPoint, len(outcomes)),
		ValidationFlags:  make(map[string]model.ValidationFlag, len(outcomes)),
	}

	var survivors []botOutcome
	for _, oc := range outcomes {
		if oc.err != nil {
			rec.ValidationFlags[oc.name] = model.ValidationFlag{Accepted: false, Reasons: []string{oc.err.Error()}}
			continue
		}
		rec.RawBotOutputs[oc.name] = oc.raw
		rec.ValidationFlags[oc.name] = oc.flag.ToFlag()
		if oc.flag.Accepted {
			survivors = append(survivors, oc)
		}
		rec.BotContributions[oc.name] = model.BotContribution{Confidence: oc.confidence, Accepted: oc.flag.Accepted}
	}

	if len(survivors) == 0 {
		return rec
	}

	totalWeight := 0.0
	for _, s := range survivors {
		totalWeight += s.confidence
	}

	if totalWeight == 0 {
		best := survivors[0]
		for _, s := range survivors[1:] {
			if s.confidence > best.confidence {
				best = s
			}
		}
		rec.PredictedSeries = best.raw
		rec.OverallConfidence = 0
		c := rec.BotContributions[best.name]
		c.Weight = 1
		rec.BotContributions[best.name] = c
		return rec
	}

	steps := len(survivors[0].raw)
	merged := make([]model.PredictedPoint, steps)
	for step := 0; step < steps; step++ {
		var priceSum, confSum float64
		for _, s := range survivors {
			if step >= len(s.raw) {
				continue
			}
			weight := s.confidence / totalWeight
			priceSum += s.raw[step].Price * weight
			confSum += s.raw[step].Confidence * weight
		}
		ts := window.Candles[len(window.Candles)-1].StartTS
		if step < len(survivors[0].raw) {
			ts = survivors[0].raw[step].TS
		}
		merged[step] = model.PredictedPoint{TS: ts, Price: priceSum, Confidence: confSum}
	}
	rec.PredictedSeries = merged

	for _, s := range survivors {
		c := rec.BotContributions[s.name]
		c.Weight = s.confidence / totalWeight
		rec.BotContributions[s.name] = c
	}

	survivorRatio := float64(len(survivors)) / float64(len(outcomes))
	var confMean float64
	for _, s := range survivors {
		confMean += s.confidence
	}
	confMean /= float64(len(survivors))
	rec.OverallConfidence = clampUnit(confMean * survivorRatio)

	return rec
}

// computeFeatureSnapshot reduces a window to the fixed indicator set the
// Regime Similarity Store embeds predictions by. Advisory only: it never
// gates Predict. An empty window yields zeroed indicators; a window shorter
// than an indicator's period averages over the candles it has, and RSI_14
// reports 50.
func computeFeatureSnapshot(window model.WindowSlice) map[string]float64 {
	n := len(window.Candles)
	snapshot := map[string]float64{
		"SMA_9": 0, "SMA_21": 0, "EMA_9": 0, "RSI_14": 0, "ATR_14": 0, "VOLUME_SMA_20": 0,
	}
	if n == 0 {
		return snapshot
	}

	closes := make([]float64, n)
	for i, c := range window.Candles {
		closes[i] = c.Close
	}
	snapshot["SMA_9"] = meanTail(closes, 9)
	snapshot["SMA_21"] = meanTail(closes, 21)
	snapshot["EMA_9"] = ema(closes, 9)
	snapshot["RSI_14"] = rsi(closes, 14)

	var atrSum, volSum float64
	atrPeriod := min(14, n)
	for i := n - atrPeriod; i < n; i++ {
		c := window.Candles[i]
		atrSum += c.High - c.Low
	}
	snapshot["ATR_14"] = atrSum / float64(atrPeriod)

	volPeriod := min(20, n)
	for i := n - volPeriod; i < n; i++ {
		volSum += window.Candles[i].Volume
	}
	snapshot["VOLUME_SMA_20"] = volSum / float64(volPeriod)

	return snapshot
}

func meanTail(vals []float64, period int) float64 {
	if period > len(vals) {
		period = len(vals)
	}
	var sum float64
	for _, v := range vals[len(vals)-period:] {
		sum += v
	}
	return sum / float64(period)
}

func ema(vals []float64, period int) float64 {
	if len(vals) == 0 {
		return 0
	}
	if period > len(vals) {
		period = len(vals)
	}
	k := 2.0 / float64(period+1)
	e := vals[len(vals)-period]
	for _, v := range vals[len(vals)-period+1:] {
		e = v*k + e*(1-k)
	}
	return e
}

func rsi(closes []float64, period int) float64 {
	if len(closes) <= period {
		return 50
	}
	start := len(closes) - period - 1
	var gains, losses float64
	for i := start + 1; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}
	if losses == 0 {
		return 100
	}
	rs := (gains / float64(period)) / (losses / float64(period))
	return 100 - 100/(1+rs)
}

// SimilarRegimes returns the k historic snapshots nearest to rec's feature
// snapshot, for diagnostic display alongside a prediction. Never errors:
// an unavailable similarity store just yields an empty slice.
func (o *Orchestrator) SimilarRegimes(ctx context.Context, rec model.PredictionRecord, k int) []similarity.Neighbor {
	return o.similarity.FindSimilar(ctx, rec.FeatureSnapshot, k)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
