package algorithms

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/lottery-engine/internal/types"
)

func testRuleSSQ() *types.RuleSet {
	return &types.RuleSet{
		LotteryType:       types.LotterySSQ,
		DisplayName:       "双色球",
		MainCount:         6,
		SpecialCount:      1,
		MainRangeStart:    1,
		MainRangeEnd:      33,
		SpecialRangeStart: 1,
		SpecialRangeEnd:   16,
	}
}

func testRulePL5() *types.RuleSet {
	return &types.RuleSet{
		LotteryType:    types.LotteryPL5,
		DisplayName:    "排列5",
		MainCount:      5,
		MainRangeStart: 0,
		MainRangeEnd:   9,
		Tiers: types.PrizeTierList{
			{Tier: 1, Name: "直选", DigitMatch: "exact", FixedAmount: 100000},
		},
	}
}

// makeDrawings builds a deterministic ascending history for a rule
func makeDrawings(rule *types.RuleSet, n int, seed int64) []types.Drawing {
	rng := rand.New(rand.NewSource(seed))
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	drawings := make([]types.Drawing, 0, n)
	for i := 0; i < n; i++ {
		var numbers []int
		if rule.IsDigitGame() {
			for j := 0; j < rule.MainCount; j++ {
				numbers = append(numbers, rng.Intn(rule.MainRangeSize())+rule.MainRangeStart)
			}
		} else {
			picked := make(map[int]bool)
			for len(numbers) < rule.MainCount {
				candidate := rng.Intn(rule.MainRangeSize()) + rule.MainRangeStart
				if !picked[candidate] {
					picked[candidate] = true
					numbers = append(numbers, candidate)
				}
			}
		}

		var specials []int
		for j := 0; j < rule.SpecialCount; j++ {
			specials = append(specials, rng.Intn(rule.SpecialRangeSize())+rule.SpecialRangeStart)
		}

		drawings = append(drawings, types.Drawing{
			LotteryType:        rule.LotteryType,
			DrawNumber:         fmt.Sprintf("2025%03d", i+1),
			DrawDate:           start.AddDate(0, 0, i),
			WinningNumbers:     numbers,
			SpecialNumbers:     specials,
			DataSource:         "test",
			VerificationStatus: types.VerificationVerified,
		})
	}
	return drawings
}

// assertValidPrediction checks the output invariants every algorithm
// must satisfy
func assertValidPrediction(t *testing.T, rule *types.RuleSet, p *Prediction) {
	t.Helper()

	require.Len(t, p.Numbers, rule.MainCount)
	require.Len(t, p.SpecialNumbers, rule.SpecialCount)
	require.Len(t, p.ConfidenceScores, rule.MainCount+rule.SpecialCount)

	seen := make(map[int]bool)
	for _, n := range p.Numbers {
		assert.GreaterOrEqual(t, n, rule.MainRangeStart)
		assert.LessOrEqual(t, n, rule.MainRangeEnd)
		assert.False(t, seen[n], "duplicate main number %d", n)
		seen[n] = true
	}
	for _, score := range p.ConfidenceScores {
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestSelectByScoreTieBreaksTowardLowerNumber(t *testing.T) {
	scores := map[int]float64{
		5: 0.9,
		3: 0.9,
		8: 0.9,
		1: 0.1,
	}

	selected := selectByScore(scores, 2)
	assert.Equal(t, []int{3, 5}, selected)
}

func TestSelectByScoreOrdersByScore(t *testing.T) {
	scores := map[int]float64{1: 0.2, 2: 0.9, 3: 0.5}

	selected := selectByScore(scores, 3)
	assert.Equal(t, []int{2, 3, 1}, selected)
}

func TestValidatePredictionRejectsOutOfRange(t *testing.T) {
	rule := testRuleSSQ()
	p := &Prediction{
		Numbers:          []int{1, 2, 3, 4, 5, 34},
		SpecialNumbers:   []int{7},
		ConfidenceScores: []float64{1, 1, 1, 1, 1, 1, 1},
	}

	err := validatePrediction(p, rule)
	assert.ErrorIs(t, err, types.ErrPredictionFailed)
}

func TestValidatePredictionRejectsDuplicates(t *testing.T) {
	rule := testRuleSSQ()
	p := &Prediction{
		Numbers:          []int{1, 2, 3, 4, 5, 5},
		SpecialNumbers:   []int{7},
		ConfidenceScores: []float64{1, 1, 1, 1, 1, 1, 1},
	}

	err := validatePrediction(p, rule)
	assert.ErrorIs(t, err, types.ErrPredictionFailed)
}
