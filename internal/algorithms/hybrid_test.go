package algorithms

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/lottery-engine/internal/types"
)

func hybridParams(t *testing.T, weights map[types.AlgorithmType]float64) json.RawMessage {
	t.Helper()
	params := HybridParams{}
	// Stable member order keeps the fixture deterministic
	for _, kind := range []types.AlgorithmType{types.AlgorithmStatistical, types.AlgorithmSequence, types.AlgorithmTimeSeries} {
		if w, ok := weights[kind]; ok {
			params.Members = append(params.Members, HybridMember{Kind: kind, Weight: w})
		}
	}
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return raw
}

func TestHybridAcceptsWeightsSummingToOne(t *testing.T) {
	registry := NewRegistry()
	raw := hybridParams(t, map[types.AlgorithmType]float64{
		types.AlgorithmStatistical: 0.3,
		types.AlgorithmSequence:    0.4,
		types.AlgorithmTimeSeries:  0.3,
	})

	algo, err := NewHybrid(registry, testRuleSSQ(), raw)
	require.NoError(t, err)
	assert.Equal(t, types.AlgorithmHybrid, algo.Kind())
}

func TestHybridRejectsWeightsNotSummingToOne(t *testing.T) {
	registry := NewRegistry()
	raw := hybridParams(t, map[types.AlgorithmType]float64{
		types.AlgorithmStatistical: 0.3,
		types.AlgorithmSequence:    0.4,
		types.AlgorithmTimeSeries:  0.2,
	})

	_, err := NewHybrid(registry, testRuleSSQ(), raw)
	assert.ErrorIs(t, err, types.ErrInvalidEnsembleWeights)
}

func TestHybridRejectsNestedHybrid(t *testing.T) {
	registry := NewRegistry()
	raw, err := json.Marshal(HybridParams{
		Members: []HybridMember{{Kind: types.AlgorithmHybrid, Weight: 1.0}},
	})
	require.NoError(t, err)

	_, err = NewHybrid(registry, testRuleSSQ(), raw)
	var invalid *types.InvalidParametersError
	assert.ErrorAs(t, err, &invalid)
}

func TestHybridRejectsEmptyMembers(t *testing.T) {
	registry := NewRegistry()

	_, err := NewHybrid(registry, testRuleSSQ(), []byte(`{"members": []}`))
	var invalid *types.InvalidParametersError
	assert.ErrorAs(t, err, &invalid)
}

func TestHybridPredictSatisfiesOutputContract(t *testing.T) {
	registry := NewRegistry()
	algo, err := NewHybrid(registry, testRuleSSQ(), nil)
	require.NoError(t, err)

	rule := testRuleSSQ()
	prediction, err := algo.Predict(context.Background(), &PredictionInput{
		Rule:    rule,
		History: makeDrawings(rule, 80, 2),
	})
	require.NoError(t, err)
	assertValidPrediction(t, rule, prediction)
}

func TestHybridTrainCombinesMemberMetrics(t *testing.T) {
	registry := NewRegistry()
	rule := testRuleSSQ()
	algo, err := NewHybrid(registry, rule, nil)
	require.NoError(t, err)

	history := makeDrawings(rule, 100, 3)
	metrics, err := algo.Train(context.Background(), &TrainingSet{
		Rule:       rule,
		Train:      history[:80],
		Validation: history[80:],
	})
	require.NoError(t, err)

	assert.Equal(t, 80, metrics.SampleCount)
	assert.GreaterOrEqual(t, metrics.TrainAccuracy, 0.0)
	assert.LessOrEqual(t, metrics.TrainAccuracy, 1.0)
}
