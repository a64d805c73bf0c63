package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/lottery-engine/internal/algorithms"
	"github.com/stitts-dev/lottery-engine/internal/rules"
	"github.com/stitts-dev/lottery-engine/internal/types"
	"github.com/stitts-dev/lottery-engine/pkg/logger"
)

// maxHistoryDrawings caps how many drawings one training job will load
const maxHistoryDrawings = 2000

// validationFraction is the share of the window held out for validation
const validationFraction = 0.2

// ProgressEvent is one training lifecycle notification
type ProgressEvent struct {
	TrainingID uuid.UUID            `json:"training_id"`
	StrategyID uuid.UUID            `json:"strategy_id"`
	Status     types.TrainingStatus `json:"status"`
	Message    string               `json:"message,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
}

// ProgressSink receives training lifecycle events. Implementations must
// not block.
type ProgressSink interface {
	TrainingProgress(event ProgressEvent)
}

// DrawingSource loads the historical window a job trains on
type DrawingSource interface {
	DrawingsBefore(ctx context.Context, lotteryType types.LotteryType, before time.Time, limit int) ([]types.Drawing, error)
}

// StrategyStore reads strategies and folds in completed-run statistics
type StrategyStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*types.Strategy, error)
	RecordTrainingSuccess(ctx context.Context, id uuid.UUID, accuracy float64, trainedAt time.Time) error
}

// RecordStore persists training records through their status transitions
type RecordStore interface {
	Create(ctx context.Context, record *types.TrainingRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*types.TrainingRecord, error)
	Transition(ctx context.Context, id uuid.UUID, to types.TrainingStatus, mutate func(record *types.TrainingRecord)) error
}

// ArtifactStore persists serialized models
type ArtifactStore interface {
	Put(strategyID string, blob []byte) (string, error)
}

// Request describes one training submission
type Request struct {
	StrategyID uuid.UUID `json:"strategy_id"`
	// WindowDays bounds how far back the training window reaches.
	// Zero means the orchestrator default.
	WindowDays int `json:"window_days,omitempty"`
}

// Orchestrator runs training jobs on a bounded worker pool. At most one
// job per strategy is in flight; a second submission for the same
// strategy is rejected rather than queued.
type Orchestrator struct {
	algorithms *algorithms.Registry
	rules      *rules.Registry
	drawings   DrawingSource
	strategies StrategyStore
	records    RecordStore
	artifacts  ArtifactStore
	sink       ProgressSink

	minSamples int
	windowDays int
	jobTimeout time.Duration
	sem        chan struct{}
	logger     *logrus.Entry

	mu       sync.Mutex
	inflight map[uuid.UUID]context.CancelFunc

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// Options tunes the orchestrator pool
type Options struct {
	Workers    int
	MinSamples int
	WindowDays int
	JobTimeout time.Duration
	Sink       ProgressSink
}

// NewOrchestrator creates an orchestrator. Workers <= 0 sizes the pool
// to the machine.
func NewOrchestrator(
	algoRegistry *algorithms.Registry,
	ruleRegistry *rules.Registry,
	drawings DrawingSource,
	strategies StrategyStore,
	records RecordStore,
	artifacts ArtifactStore,
	opts Options,
) *Orchestrator {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	minSamples := opts.MinSamples
	if minSamples < 1 {
		minSamples = 30
	}
	windowDays := opts.WindowDays
	if windowDays < 1 {
		windowDays = 365
	}
	timeout := opts.JobTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	baseCtx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		algorithms: algoRegistry,
		rules:      ruleRegistry,
		drawings:   drawings,
		strategies: strategies,
		records:    records,
		artifacts:  artifacts,
		sink:       opts.Sink,
		minSamples: minSamples,
		windowDays: windowDays,
		jobTimeout: timeout,
		sem:        make(chan struct{}, workers),
		logger:     logger.WithComponent("training_orchestrator"),
		inflight:   make(map[uuid.UUID]context.CancelFunc),
		baseCtx:    baseCtx,
		stop:       stop,
	}
}

// Submit registers a training job and returns its pending record without
// waiting for the job to run. A strategy with a job already in flight is
// rejected with ErrTrainingInProgress.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*types.TrainingRecord, error) {
	strategy, err := o.strategies.GetByID(ctx, req.StrategyID)
	if err != nil {
		return nil, err
	}

	windowDays := req.WindowDays
	if windowDays <= 0 {
		windowDays = o.windowDays
	}
	now := time.Now()

	record := &types.TrainingRecord{
		ID:                uuid.New(),
		StrategyID:        strategy.ID,
		TrainingDataStart: now.AddDate(0, 0, -windowDays),
		TrainingDataEnd:   now,
		ModelParameters:   strategy.Parameters,
	}

	o.mu.Lock()
	if _, busy := o.inflight[strategy.ID]; busy {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: strategy %s", types.ErrTrainingInProgress, strategy.ID)
	}
	jobCtx, cancel := context.WithCancel(o.baseCtx)
	o.inflight[strategy.ID] = cancel
	o.mu.Unlock()

	if err := o.records.Create(ctx, record); err != nil {
		o.finishJob(strategy.ID)
		return nil, err
	}

	o.notify(record, types.TrainingPending, "queued")

	o.wg.Add(1)
	go o.run(jobCtx, strategy, record)

	o.logger.WithFields(logrus.Fields{
		"training_id":  record.ID,
		"strategy_id":  strategy.ID,
		"lottery_type": strategy.LotteryType,
		"algorithm":    strategy.AlgorithmType,
	}).Info("Training job submitted")

	return record, nil
}

// Cancel requests cancellation of the strategy's in-flight job and
// reports whether one was found
func (o *Orchestrator) Cancel(strategyID uuid.UUID) bool {
	o.mu.Lock()
	cancel, ok := o.inflight[strategyID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// InFlight reports how many jobs are currently registered
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight)
}

// Shutdown cancels all jobs and waits for workers to drain
func (o *Orchestrator) Shutdown() {
	o.stop()
	o.wg.Wait()
}

func (o *Orchestrator) run(jobCtx context.Context, strategy *types.Strategy, record *types.TrainingRecord) {
	defer o.wg.Done()
	defer o.finishJob(strategy.ID)

	// Wait for a pool slot; cancellation while queued still counts
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-jobCtx.Done():
		o.markCancelled(record)
		return
	}

	ctx, cancel := context.WithTimeout(jobCtx, o.jobTimeout)
	defer cancel()

	if err := o.records.Transition(context.Background(), record.ID, types.TrainingRunning, nil); err != nil {
		o.logger.WithError(err).WithField("training_id", record.ID).Error("Failed to mark training running")
		o.markFailed(record, fmt.Sprintf("could not start: %v", err))
		return
	}
	o.notify(record, types.TrainingRunning, "training started")

	metrics, artifactHash, artifactSize, err := o.train(ctx, strategy, record)
	if err != nil {
		switch {
		case errors.Is(jobCtx.Err(), context.Canceled):
			o.markCancelled(record)
		case errors.Is(err, context.DeadlineExceeded):
			o.markFailed(record, fmt.Sprintf("timeout after %s", o.jobTimeout))
		default:
			o.markFailed(record, err.Error())
		}
		return
	}

	now := time.Now()
	err = o.records.Transition(context.Background(), record.ID, types.TrainingCompleted, func(r *types.TrainingRecord) {
		r.TrainingAccuracy = &metrics.TrainAccuracy
		r.ValidationAccuracy = &metrics.ValidationAccuracy
		r.TrainingLoss = &metrics.TrainLoss
		r.ValidationLoss = &metrics.ValidationLoss
		r.TrainingSamples = metrics.SampleCount
		r.ValidationSamples = record.ValidationSamples
		r.ArtifactHash = artifactHash
		r.ArtifactSizeBytes = artifactSize
	})
	if err != nil {
		o.logger.WithError(err).WithField("training_id", record.ID).Error("Failed to mark training completed")
		return
	}

	// Strategy statistics only move on success
	if err := o.strategies.RecordTrainingSuccess(context.Background(), strategy.ID, metrics.ValidationAccuracy, now); err != nil {
		o.logger.WithError(err).WithField("strategy_id", strategy.ID).Error("Failed to update strategy statistics")
	}

	o.notify(record, types.TrainingCompleted, "training completed")
	o.logger.WithFields(logrus.Fields{
		"training_id":         record.ID,
		"strategy_id":         strategy.ID,
		"validation_accuracy": metrics.ValidationAccuracy,
		"artifact_hash":       artifactHash,
	}).Info("Training job completed")
}

func (o *Orchestrator) train(ctx context.Context, strategy *types.Strategy, record *types.TrainingRecord) (*algorithms.TrainingMetrics, string, int64, error) {
	rule, err := o.rules.Get(strategy.LotteryType)
	if err != nil {
		return nil, "", 0, err
	}

	history, err := o.drawings.DrawingsBefore(ctx, strategy.LotteryType, record.TrainingDataEnd, maxHistoryDrawings)
	if err != nil {
		return nil, "", 0, err
	}
	// Storage returns newest first; training wants chronological order
	ascending := make([]types.Drawing, len(history))
	for i, d := range history {
		ascending[len(history)-1-i] = d
	}
	var windowed []types.Drawing
	for _, d := range ascending {
		if !d.DrawDate.Before(record.TrainingDataStart) {
			windowed = append(windowed, d)
		}
	}
	if len(windowed) < o.minSamples {
		return nil, "", 0, types.NewTrainingFailed(
			fmt.Sprintf("have %d drawings in window, need at least %d", len(windowed), o.minSamples),
			types.ErrInsufficientData,
		)
	}

	split := len(windowed) - int(float64(len(windowed))*validationFraction)
	if split < 1 {
		split = 1
	}
	train, validation := windowed[:split], windowed[split:]
	record.ValidationSamples = len(validation)

	paramsRaw, err := json.Marshal(strategy.Parameters)
	if err != nil {
		return nil, "", 0, fmt.Errorf("marshal strategy parameters: %w", err)
	}
	if string(paramsRaw) == "null" {
		paramsRaw = nil
	}

	algo, err := o.algorithms.Create(strategy.AlgorithmType, rule, paramsRaw)
	if err != nil {
		return nil, "", 0, err
	}

	metrics, err := algo.Train(ctx, &algorithms.TrainingSet{
		Rule:       rule,
		Train:      train,
		Validation: validation,
	})
	if err != nil {
		return nil, "", 0, err
	}

	blob, err := algo.Serialize()
	if err != nil {
		return nil, "", 0, fmt.Errorf("serialize model: %w", err)
	}
	hash, err := o.artifacts.Put(strategy.ID.String(), blob)
	if err != nil {
		return nil, "", 0, err
	}

	return metrics, hash, int64(len(blob)), nil
}

func (o *Orchestrator) markFailed(record *types.TrainingRecord, reason string) {
	err := o.records.Transition(context.Background(), record.ID, types.TrainingFailed, func(r *types.TrainingRecord) {
		r.ErrorMessage = reason
	})
	if err != nil {
		o.logger.WithError(err).WithField("training_id", record.ID).Error("Failed to mark training failed")
		return
	}
	o.notify(record, types.TrainingFailed, reason)
	o.logger.WithFields(logrus.Fields{
		"training_id": record.ID,
		"reason":      reason,
	}).Warn("Training job failed")
}

func (o *Orchestrator) markCancelled(record *types.TrainingRecord) {
	err := o.records.Transition(context.Background(), record.ID, types.TrainingCancelled, nil)
	if err != nil {
		o.logger.WithError(err).WithField("training_id", record.ID).Error("Failed to mark training cancelled")
		return
	}
	o.notify(record, types.TrainingCancelled, "cancelled")
	o.logger.WithField("training_id", record.ID).Info("Training job cancelled")
}

func (o *Orchestrator) finishJob(strategyID uuid.UUID) {
	o.mu.Lock()
	if cancel, ok := o.inflight[strategyID]; ok {
		cancel()
		delete(o.inflight, strategyID)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) notify(record *types.TrainingRecord, status types.TrainingStatus, message string) {
	if o.sink == nil {
		return
	}
	o.sink.TrainingProgress(ProgressEvent{
		TrainingID: record.ID,
		StrategyID: record.StrategyID,
		Status:     status,
		Message:    message,
		Timestamp:  time.Now(),
	})
}
