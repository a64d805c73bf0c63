package training

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/lottery-engine/internal/algorithms"
	"github.com/stitts-dev/lottery-engine/internal/rules"
	"github.com/stitts-dev/lottery-engine/internal/types"
)

// fakeDrawingSource serves a fixed descending history. An optional gate
// channel keeps jobs blocked inside the load call until released.
type fakeDrawingSource struct {
	drawings []types.Drawing
	gate     chan struct{}
}

func (f *fakeDrawingSource) DrawingsBefore(ctx context.Context, _ types.LotteryType, _ time.Time, limit int) ([]types.Drawing, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if limit < len(f.drawings) {
		return f.drawings[:limit], nil
	}
	return f.drawings, nil
}

type fakeStrategyStore struct {
	mu         sync.Mutex
	strategies map[uuid.UUID]*types.Strategy
	successes  map[uuid.UUID][]float64
}

func newFakeStrategyStore(strategies ...*types.Strategy) *fakeStrategyStore {
	s := &fakeStrategyStore{
		strategies: make(map[uuid.UUID]*types.Strategy),
		successes:  make(map[uuid.UUID][]float64),
	}
	for _, strategy := range strategies {
		s.strategies[strategy.ID] = strategy
	}
	return s
}

func (f *fakeStrategyStore) GetByID(_ context.Context, id uuid.UUID) (*types.Strategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	strategy, ok := f.strategies[id]
	if !ok {
		return nil, fmt.Errorf("strategy %s not found", id)
	}
	clone := *strategy
	return &clone, nil
}

func (f *fakeStrategyStore) RecordTrainingSuccess(_ context.Context, id uuid.UUID, accuracy float64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes[id] = append(f.successes[id], accuracy)
	return nil
}

func (f *fakeStrategyStore) successCount(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.successes[id])
}

// fakeRecordStore enforces the same transition table as the repository
type fakeRecordStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*types.TrainingRecord
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{records: make(map[uuid.UUID]*types.TrainingRecord)}
}

func (f *fakeRecordStore) Create(_ context.Context, record *types.TrainingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record.Status = types.TrainingPending
	clone := *record
	f.records[record.ID] = &clone
	return nil
}

func (f *fakeRecordStore) GetByID(_ context.Context, id uuid.UUID) (*types.TrainingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("training record %s not found", id)
	}
	clone := *record
	return &clone, nil
}

func (f *fakeRecordStore) Transition(_ context.Context, id uuid.UUID, to types.TrainingStatus, mutate func(record *types.TrainingRecord)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		return fmt.Errorf("training record %s not found", id)
	}
	if !record.Status.CanTransition(to) {
		return fmt.Errorf("illegal transition %s -> %s", record.Status, to)
	}
	record.Status = to
	if mutate != nil {
		mutate(record)
	}
	return nil
}

func (f *fakeRecordStore) status(id uuid.UUID) types.TrainingStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id].Status
}

type fakeArtifactStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeArtifactStore() *fakeArtifactStore {
	return &fakeArtifactStore{blobs: make(map[string][]byte)}
}

func (f *fakeArtifactStore) Put(strategyID string, blob []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := fmt.Sprintf("hash-%s-%d", strategyID, len(blob))
	f.blobs[hash] = blob
	return hash, nil
}

// sinkRecorder collects progress events for assertions
type sinkRecorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (s *sinkRecorder) TrainingProgress(event ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *sinkRecorder) statuses() []types.TrainingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.TrainingStatus, len(s.events))
	for i, e := range s.events {
		out[i] = e.Status
	}
	return out
}

func ssqHistory(n int, seed int64) []types.Drawing {
	rng := rand.New(rand.NewSource(seed))
	start := time.Now().UTC().AddDate(0, 0, -n*3)

	drawings := make([]types.Drawing, n)
	for i := 0; i < n; i++ {
		seen := map[int]bool{}
		numbers := make([]int, 0, 6)
		for len(numbers) < 6 {
			candidate := rng.Intn(33) + 1
			if !seen[candidate] {
				seen[candidate] = true
				numbers = append(numbers, candidate)
			}
		}
		drawings[n-1-i] = types.Drawing{
			LotteryType:        types.LotterySSQ,
			DrawNumber:         fmt.Sprintf("2025%03d", i+1),
			DrawDate:           start.AddDate(0, 0, i*3),
			WinningNumbers:     numbers,
			SpecialNumbers:     []int{rng.Intn(16) + 1},
			VerificationStatus: types.VerificationVerified,
		}
	}
	return drawings
}

func statisticalStrategy() *types.Strategy {
	return &types.Strategy{
		ID:            uuid.New(),
		Name:          "ssq statistical",
		AlgorithmType: types.AlgorithmStatistical,
		LotteryType:   types.LotterySSQ,
		IsActive:      true,
	}
}

func newTestOrchestrator(source DrawingSource, strategies StrategyStore, records RecordStore, artifacts ArtifactStore, sink ProgressSink) *Orchestrator {
	return NewOrchestrator(
		algorithms.NewRegistry(),
		rules.NewRegistry(),
		source,
		strategies,
		records,
		artifacts,
		Options{
			Workers:    2,
			MinSamples: 30,
			WindowDays: 365,
			JobTimeout: 30 * time.Second,
			Sink:       sink,
		},
	)
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	strategy := statisticalStrategy()
	strategies := newFakeStrategyStore(strategy)
	records := newFakeRecordStore()
	artifacts := newFakeArtifactStore()
	sink := &sinkRecorder{}
	o := newTestOrchestrator(&fakeDrawingSource{drawings: ssqHistory(60, 42)}, strategies, records, artifacts, sink)
	defer o.Shutdown()

	record, err := o.Submit(context.Background(), Request{StrategyID: strategy.ID})
	require.NoError(t, err)
	assert.Equal(t, types.TrainingPending, record.Status)

	require.Eventually(t, func() bool {
		return records.status(record.ID) == types.TrainingCompleted
	}, 10*time.Second, 20*time.Millisecond)

	final, err := records.GetByID(context.Background(), record.ID)
	require.NoError(t, err)
	require.NotNil(t, final.ValidationAccuracy)
	assert.GreaterOrEqual(t, *final.ValidationAccuracy, 0.0)
	assert.NotEmpty(t, final.ArtifactHash)
	assert.Positive(t, final.ArtifactSizeBytes)
	assert.Positive(t, final.TrainingSamples)

	require.Eventually(t, func() bool {
		return strategies.successCount(strategy.ID) == 1 && o.InFlight() == 0
	}, 5*time.Second, 20*time.Millisecond)

	statuses := sink.statuses()
	assert.Equal(t, types.TrainingPending, statuses[0])
	assert.Equal(t, types.TrainingCompleted, statuses[len(statuses)-1])
}

func TestSubmitRejectsConcurrentSameStrategy(t *testing.T) {
	strategy := statisticalStrategy()
	gate := make(chan struct{})
	source := &fakeDrawingSource{drawings: ssqHistory(60, 7), gate: gate}
	records := newFakeRecordStore()
	o := newTestOrchestrator(source, newFakeStrategyStore(strategy), records, newFakeArtifactStore(), nil)
	defer o.Shutdown()

	first, err := o.Submit(context.Background(), Request{StrategyID: strategy.ID})
	require.NoError(t, err)

	_, err = o.Submit(context.Background(), Request{StrategyID: strategy.ID})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrTrainingInProgress)

	close(gate)
	require.Eventually(t, func() bool {
		return records.status(first.ID) == types.TrainingCompleted
	}, 10*time.Second, 20*time.Millisecond)

	// Once the first job drains a new submission is accepted
	require.Eventually(t, func() bool { return o.InFlight() == 0 }, 5*time.Second, 20*time.Millisecond)
	_, err = o.Submit(context.Background(), Request{StrategyID: strategy.ID})
	require.NoError(t, err)
}

func TestSubmitUnknownStrategy(t *testing.T) {
	o := newTestOrchestrator(&fakeDrawingSource{}, newFakeStrategyStore(), newFakeRecordStore(), newFakeArtifactStore(), nil)
	defer o.Shutdown()

	_, err := o.Submit(context.Background(), Request{StrategyID: uuid.New()})
	require.Error(t, err)
	assert.Equal(t, 0, o.InFlight())
}

func TestInsufficientDataFailsJob(t *testing.T) {
	strategy := statisticalStrategy()
	strategies := newFakeStrategyStore(strategy)
	records := newFakeRecordStore()
	o := newTestOrchestrator(&fakeDrawingSource{drawings: ssqHistory(5, 3)}, strategies, records, newFakeArtifactStore(), nil)
	defer o.Shutdown()

	record, err := o.Submit(context.Background(), Request{StrategyID: strategy.ID})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return records.status(record.ID) == types.TrainingFailed
	}, 10*time.Second, 20*time.Millisecond)

	final, err := records.GetByID(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Contains(t, final.ErrorMessage, "need at least")

	// Failed runs never move the strategy's statistics
	assert.Equal(t, 0, strategies.successCount(strategy.ID))
}

// brokenStartRecordStore refuses the Running transition, as a storage
// outage between submit and start would
type brokenStartRecordStore struct {
	*fakeRecordStore
}

func (f *brokenStartRecordStore) Transition(ctx context.Context, id uuid.UUID, to types.TrainingStatus, mutate func(record *types.TrainingRecord)) error {
	if to == types.TrainingRunning {
		return fmt.Errorf("record store unavailable")
	}
	return f.fakeRecordStore.Transition(ctx, id, to, mutate)
}

func TestUnstartableJobEndsFailedNotPending(t *testing.T) {
	strategy := statisticalStrategy()
	strategies := newFakeStrategyStore(strategy)
	records := &brokenStartRecordStore{fakeRecordStore: newFakeRecordStore()}
	o := newTestOrchestrator(&fakeDrawingSource{drawings: ssqHistory(60, 5)}, strategies, records, newFakeArtifactStore(), nil)
	defer o.Shutdown()

	record, err := o.Submit(context.Background(), Request{StrategyID: strategy.ID})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return records.status(record.ID) == types.TrainingFailed
	}, 10*time.Second, 20*time.Millisecond)

	final, err := records.GetByID(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Contains(t, final.ErrorMessage, "could not start")
	assert.Equal(t, 0, strategies.successCount(strategy.ID))
	require.Eventually(t, func() bool { return o.InFlight() == 0 }, 5*time.Second, 20*time.Millisecond)
}

func TestCancelStopsInFlightJob(t *testing.T) {
	strategy := statisticalStrategy()
	strategies := newFakeStrategyStore(strategy)
	records := newFakeRecordStore()
	source := &fakeDrawingSource{drawings: ssqHistory(60, 9), gate: make(chan struct{})}
	o := newTestOrchestrator(source, strategies, records, newFakeArtifactStore(), nil)
	defer o.Shutdown()

	record, err := o.Submit(context.Background(), Request{StrategyID: strategy.ID})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return records.status(record.ID) == types.TrainingRunning
	}, 5*time.Second, 10*time.Millisecond)

	require.True(t, o.Cancel(strategy.ID))

	require.Eventually(t, func() bool {
		return records.status(record.ID) == types.TrainingCancelled
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, strategies.successCount(strategy.ID))
	assert.False(t, o.Cancel(strategy.ID))
}
