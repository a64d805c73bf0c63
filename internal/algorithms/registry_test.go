package algorithms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/lottery-engine/internal/types"
)

func TestRegistryCreatesEveryBuiltinKind(t *testing.T) {
	registry := NewRegistry()
	rule := testRuleSSQ()

	for _, kind := range registry.Kinds() {
		algo, err := registry.Create(kind, rule, nil)
		require.NoError(t, err, "kind %s", kind)
		assert.Equal(t, kind, algo.Kind())
		assert.NotEmpty(t, algo.Name())
	}
}

func TestRegistryRejectsUnknownKind(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Create("quantum", testRuleSSQ(), nil)
	assert.ErrorIs(t, err, types.ErrUnknownAlgorithm)
}

func TestRegistryKindsAreSorted(t *testing.T) {
	registry := NewRegistry()

	kinds := registry.Kinds()
	require.Len(t, kinds, 6)
	for i := 1; i < len(kinds); i++ {
		assert.Less(t, string(kinds[i-1]), string(kinds[i]))
	}
}

func TestSequencePredictSatisfiesOutputContract(t *testing.T) {
	rule := testRuleSSQ()
	algo, err := NewSequence(rule, nil)
	require.NoError(t, err)

	prediction, err := algo.Predict(context.Background(), &PredictionInput{
		Rule:    rule,
		History: makeDrawings(rule, 60, 4),
	})
	require.NoError(t, err)
	assertValidPrediction(t, rule, prediction)
}

func TestTimeSeriesPredictSatisfiesOutputContract(t *testing.T) {
	rule := testRuleSSQ()
	algo, err := NewTimeSeries(rule, nil)
	require.NoError(t, err)

	prediction, err := algo.Predict(context.Background(), &PredictionInput{
		Rule:    rule,
		History: makeDrawings(rule, 80, 5),
	})
	require.NoError(t, err)
	assertValidPrediction(t, rule, prediction)
}

func TestTreeEnsemblePredictIsSeededDeterministic(t *testing.T) {
	rule := testRuleSSQ()
	history := makeDrawings(rule, 60, 6)

	run := func() *Prediction {
		algo, err := NewTreeEnsemble(rule, []byte(`{"tree_count": 5, "seed": 42}`))
		require.NoError(t, err)
		p, err := algo.Predict(context.Background(), &PredictionInput{Rule: rule, History: history})
		require.NoError(t, err)
		return p
	}

	p1, p2 := run(), run()
	assert.Equal(t, p1.Numbers, p2.Numbers)
	assertValidPrediction(t, rule, p1)
}

func TestDigitGamePredictionStaysInDigitRange(t *testing.T) {
	rule := testRulePL5()
	algo, err := NewStatistical(rule, nil)
	require.NoError(t, err)

	prediction, err := algo.Predict(context.Background(), &PredictionInput{
		Rule:    rule,
		History: makeDrawings(rule, 60, 7),
	})
	require.NoError(t, err)

	require.Len(t, prediction.Numbers, 5)
	for _, digit := range prediction.Numbers {
		assert.GreaterOrEqual(t, digit, 0)
		assert.LessOrEqual(t, digit, 9)
	}
	assert.Empty(t, prediction.SpecialNumbers)
}
