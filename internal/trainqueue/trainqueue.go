// Package trainqueue implements the Training Queue: a FIFO, single-worker
// scheduler over (symbol, timeframe, bot) training jobs with
// pause/resume/stop/force-stop controls and duplicate suppression.
// Grounded on the teacher's internal/execution Executor — a context-driven
// consumer loop reading off a channel — generalized to a pausable,
// cancellable worker with its own backlog instead of a pass-through queue.
package trainqueue

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"marketforecast/internal/apperr"
	"marketforecast/internal/bot"
	"marketforecast/internal/hub"
	"marketforecast/internal/loader"
	"marketforecast/internal/metrics"
	"marketforecast/internal/model"
	"marketforecast/internal/validate"
)

// IDGenerator produces unique training record IDs.
type IDGenerator func() string

// Status is the snapshot returned by Queue.Status.
type Status struct {
	IsRunning      bool
	IsPaused       bool
	Current        *model.TrainingJob
	QueueLength    int
	CompletedCount int
	FailedCount    int
}

// Queue is the Training Queue. One worker goroutine processes jobs FIFO;
// Enqueue/Pause/Resume/Stop/ForceStop are safe to call concurrently.
type Queue struct {
	mu      sync.Mutex
	jobs    []model.TrainingJob
	keys    map[string]bool
	current *model.TrainingJob
	cancel  context.CancelFunc

	paused         bool
	stopRequested  bool
	workerRunning  bool
	completedCount int
	failedCount    int
	wake           chan struct{}

	loader       *loader.Loader
	bots         map[string]bot.Bot
	trainStore   model.TrainingStore
	archiveStore model.ArchiveStore
	hub          *hub.Hub
	newID        IDGenerator

	metrics *metrics.Metrics
	log     *zap.Logger
}

// New builds a Queue over the given bot roster, keyed by bot.Name().
func New(l *loader.Loader, bots []bot.Bot, trainStore model.TrainingStore, archiveStore model.ArchiveStore, h *hub.Hub, newID IDGenerator, m *metrics.Metrics, log *zap.Logger) *Queue {
	byName := make(map[string]bot.Bot, len(bots))
	for _, b := range bots {
		byName[b.Name()] = b
	}
	return &Queue{
		keys:         make(map[string]bool),
		loader:       l,
		bots:         byName,
		trainStore:   trainStore,
		archiveStore: archiveStore,
		hub:          h,
		newID:        newID,
		metrics:      m,
		log:          log,
		wake:         make(chan struct{}, 1),
	}
}

// Enqueue admits jobs, skipping any whose (symbol, timeframe, bot_name) key
// already has a queued or running job. Returns the number admitted.
func (q *Queue) Enqueue(jobs ...model.TrainingJob) int {
	q.mu.Lock()
	admitted := 0
	for _, j := range jobs {
		key := j.Key()
		if q.keys[key] {
			q.metrics.TrainingDuplicatesDropped.Inc()
			continue
		}
		q.keys[key] = true
		q.jobs = append(q.jobs, j)
		admitted++
	}
	q.metrics.TrainingQueueDepth.Set(float64(len(q.jobs)))
	q.mu.Unlock()

	if admitted > 0 {
		q.notify()
	}
	return admitted
}

// Start expands the cross product of symbols x timeframes x bots into jobs,
// enqueues them, and ensures the worker goroutine is running.
func (q *Queue) Start(ctx context.Context, symbols []string, timeframes []model.Timeframe, botNames []string, epochs, batchSize int) int {
	jobs := make([]model.TrainingJob, 0, len(symbols)*len(timeframes)*len(botNames))
	now := time.Now().UTC()
	for _, s := range symbols {
		for _, tf := range timeframes {
			for _, b := range botNames {
				jobs = append(jobs, model.TrainingJob{Symbol: s, Timeframe: tf, BotName: b, Epochs: epochs, BatchSize: batchSize, RequestedAt: now})
			}
		}
	}
	admitted := q.Enqueue(jobs...)
	q.ensureWorker(ctx)
	return admitted
}

// EnsureWorker starts the worker goroutine if it is not already running,
// without enqueueing anything. TrainBot uses this after a direct Enqueue
// so a single ad hoc job still gets picked up.
func (q *Queue) EnsureWorker(ctx context.Context) {
	q.ensureWorker(ctx)
}

// Pause stops the worker from picking up new jobs once the current one
// finishes; it does not interrupt an in-flight job.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume clears Pause and wakes the worker.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.notify()
}

// Stop requests the worker drain: it finishes the current job, then exits
// without picking up anything further, leaving the backlog intact.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopRequested = true
	q.mu.Unlock()
	q.notify()
}

// ForceStop cancels the in-flight job's context immediately, in addition to
// requesting drain. The bot must honor context cancellation at a safe point.
func (q *Queue) ForceStop() {
	q.mu.Lock()
	q.stopRequested = true
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()
}

// Status reports the current queue state.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	var current *model.TrainingJob
	if q.current != nil {
		c := *q.current
		current = &c
	}
	return Status{
		IsRunning:      q.workerRunning,
		IsPaused:       q.paused,
		Current:        current,
		QueueLength:    len(q.jobs),
		CompletedCount: q.completedCount,
		FailedCount:    q.failedCount,
	}
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) ensureWorker(ctx context.Context) {
	q.mu.Lock()
	if q.workerRunning {
		q.mu.Unlock()
		return
	}
	q.workerRunning = true
	q.stopRequested = false
	q.mu.Unlock()

	go q.run(ctx)
}

func (q *Queue) run(ctx context.Context) {
	defer func() {
		q.mu.Lock()
		q.workerRunning = false
		q.mu.Unlock()
	}()

	for {
		q.mu.Lock()
		if q.stopRequested {
			q.mu.Unlock()
			return
		}
		if q.paused || len(q.jobs) == 0 {
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		delete(q.keys, job.Key())
		jobCtx, cancel := context.WithCancel(ctx)
		q.current = &job
		q.cancel = cancel
		q.metrics.TrainingQueueDepth.Set(float64(len(q.jobs)))
		q.mu.Unlock()

		q.runJob(jobCtx, job)

		q.mu.Lock()
		q.current = nil
		q.cancel = nil
		q.mu.Unlock()
		cancel()

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// runJob implements the per-job protocol from the Training Queue operation:
// load window, schema-validate, train, evaluate against baselines, persist.
func (q *Queue) runJob(ctx context.Context, job model.TrainingJob) {
	rec := model.TrainingRecord{
		ID:        q.newID(),
		Symbol:    job.Symbol,
		Timeframe: job.Timeframe,
		BotName:   job.BotName,
		StartedAt: time.Now().UTC(),
		Status:    model.TrainingRunning,
	}
	q.publishProgress(rec, 0, 1, "starting")

	b, ok := q.bots[job.BotName]
	if !ok {
		q.fail(ctx, rec, fmt.Errorf("trainqueue: unknown bot %q", job.BotName))
		return
	}

	lookback := 500
	now := time.Now().UTC()
	window, err := q.loader.GetWindow(ctx, job.Symbol, job.Timeframe, now.Add(-time.Duration(lookback)*time.Duration(job.Timeframe.Seconds())*time.Second).Unix(), now.Unix())
	if err != nil {
		q.fail(ctx, rec, err)
		return
	}

	if res := validate.SchemaGate(window, 30); !res.Accepted {
		q.fail(ctx, rec, apperr.New(apperr.ValidationFailed, "training window failed schema gate").WithDetail(res.Reasons))
		return
	}

	q.publishProgress(rec, 1, 4, "training")
	hp := bot.Hyperparams{"epochs": float64(job.Epochs), "batch_size": float64(job.BatchSize)}
	result, err := b.Train(ctx, window, hp)
	if err != nil {
		q.fail(ctx, rec, err)
		return
	}

	q.publishProgress(rec, 3, 4, "evaluating")
	baselines := computeBaselineRMSEs(window)
	driftScore := 0.0
	if result.TestRMSE > 0 {
		driftScore = (baselines["last_value"] - result.TestRMSE) / result.TestRMSE
	}

	rec.FinishedAt = time.Now().UTC()
	rec.Status = model.TrainingCompleted
	rec.DataPointsUsed = result.DataPointsUsed
	rec.TestRMSE = result.TestRMSE
	rec.TestMAE = result.TestMAE
	rec.BaselineRMSEs = baselines
	rec.ModelSizeBytes = result.ModelSizeBytes
	rec.TrainingPeriod = fmt.Sprintf("%d candles ending %d", len(window.Candles), window.To)
	rec.DriftScore = driftScore

	if err := q.trainStore.ArchivePrior(ctx, rec.Symbol, rec.Timeframe, rec.BotName, rec.ID); err != nil {
		q.log.Warn("trainqueue: archive prior failed", zap.Error(err))
	}
	q.persist(ctx, rec)
	q.publishProgress(rec, 4, 4, "completed")

	q.mu.Lock()
	q.completedCount++
	q.mu.Unlock()
	q.metrics.TrainingJobsTotal.WithLabelValues("completed").Inc()
}

func (q *Queue) fail(ctx context.Context, rec model.TrainingRecord, err error) {
	rec.FinishedAt = time.Now().UTC()
	rec.Status = model.TrainingFailed
	rec.ErrorMessage = err.Error()

	persistCtx := ctx
	if ctx.Err() != nil {
		// The job's own context was cancelled by ForceStop, not by the
		// caller's ctx; a force-stopped job still needs to be finalized,
		// so persist against a fresh context and record the cancellation
		// distinctly from whatever error the bot happened to return.
		rec.ErrorMessage = "forced_cancel"
		persistCtx = context.Background()
	}
	q.persist(persistCtx, rec)
	q.publishProgress(rec, 0, 1, "failed")

	q.mu.Lock()
	q.failedCount++
	q.mu.Unlock()
	q.metrics.TrainingJobsTotal.WithLabelValues("failed").Inc()
	q.log.Warn("trainqueue: job failed", zap.String("symbol", rec.Symbol), zap.String("bot", rec.BotName), zap.Error(err))
}

func (q *Queue) persist(ctx context.Context, rec model.TrainingRecord) {
	if err := q.trainStore.PutTraining(ctx, rec); err != nil {
		q.log.Warn("trainqueue: persist training record failed", zap.Error(err))
	}
	if q.archiveStore != nil {
		if err := q.archiveStore.ArchiveTraining(ctx, rec); err != nil {
			q.log.Warn("trainqueue: cold archive failed", zap.Error(err))
		}
	}
}

func (q *Queue) publishProgress(rec model.TrainingRecord, batch, total int, status string) {
	if q.hub == nil {
		return
	}
	progress := model.TrainingProgress{
		TrainingID:      rec.ID,
		BotName:         rec.BotName,
		Symbol:          rec.Symbol,
		Timeframe:       rec.Timeframe.String(),
		Status:          status,
		Batch:           batch,
		TotalBatches:    total,
		ProgressPercent: 100 * float64(batch) / float64(max(total, 1)),
	}
	q.hub.Publish(rec.Symbol, rec.Timeframe, hub.Message{Kind: hub.KindTrainingProgress, Symbol: rec.Symbol, Payload: progress})
}

// computeBaselineRMSEs evaluates the last-value, moving-average, and
// linear-trend baselines against the tail 20% of window as a held-out set,
// used to contextualize a trained bot's TestRMSE.
func computeBaselineRMSEs(window model.WindowSlice) map[string]float64 {
	n := len(window.Candles)
	holdout := n / 5
	if holdout < 2 {
		return map[string]float64{"last_value": 0, "moving_average": 0, "linear_trend": 0}
	}
	trainEnd := n - holdout
	closes := make([]float64, n)
	for i, c := range window.Candles {
		closes[i] = c.Close
	}

	var lastValSq, maSq, trendSq float64
	lastVal := closes[trainEnd-1]
	maWindow := 10
	if maWindow > trainEnd {
		maWindow = trainEnd
	}
	var maSum float64
	for _, v := range closes[trainEnd-maWindow : trainEnd] {
		maSum += v
	}
	ma := maSum / float64(maWindow)

	slope, intercept := linearFit(closes[:trainEnd])

	for i := trainEnd; i < n; i++ {
		actual := closes[i]
		lastValSq += sq(actual - lastVal)
		maSq += sq(actual - ma)
		trendPred := intercept + slope*float64(i)
		trendSq += sq(actual - trendPred)
	}
	return map[string]float64{
		"last_value":     rmse(lastValSq, holdout),
		"moving_average": rmse(maSq, holdout),
		"linear_trend":   rmse(trendSq, holdout),
	}
}

func linearFit(ys []float64) (slope, intercept float64) {
	n := float64(len(ys))
	if n == 0 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

func sq(v float64) float64 { return v * v }

func rmse(sumSq float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return math.Sqrt(sumSq / float64(n))
}
