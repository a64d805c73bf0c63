package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/lottery-engine/internal/types"
)

func TestRegistryKnowsAllBuiltinTypes(t *testing.T) {
	registry := NewRegistry()

	for _, lotteryType := range []types.LotteryType{
		types.LotterySSQ, types.LotteryDLT, types.LotteryFC3D, types.LotteryPL3, types.LotteryPL5,
	} {
		rule, err := registry.Get(lotteryType)
		require.NoError(t, err, "type %s", lotteryType)
		assert.Equal(t, lotteryType, rule.LotteryType)
		assert.NotEmpty(t, rule.Tiers)
	}
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Get("powerball")
	assert.ErrorIs(t, err, types.ErrUnknownLotteryType)
}

func TestSSQRuleShape(t *testing.T) {
	registry := NewRegistry()

	rule, err := registry.Get(types.LotterySSQ)
	require.NoError(t, err)

	assert.Equal(t, 6, rule.MainCount)
	assert.Equal(t, 1, rule.SpecialCount)
	assert.Equal(t, 1, rule.MainRangeStart)
	assert.Equal(t, 33, rule.MainRangeEnd)
	assert.Equal(t, 16, rule.SpecialRangeEnd)
	assert.Equal(t, types.DistributionPariMutuel, rule.Distribution)
	assert.False(t, rule.IsDigitGame())
}

func TestDLTRuleShape(t *testing.T) {
	registry := NewRegistry()

	rule, err := registry.Get(types.LotteryDLT)
	require.NoError(t, err)

	assert.Equal(t, 5, rule.MainCount)
	assert.Equal(t, 2, rule.SpecialCount)
	assert.Equal(t, 35, rule.MainRangeEnd)
	assert.Equal(t, 12, rule.SpecialRangeEnd)
}

func TestDigitGamesAreFixedDistribution(t *testing.T) {
	registry := NewRegistry()

	for _, lotteryType := range []types.LotteryType{types.LotteryFC3D, types.LotteryPL3, types.LotteryPL5} {
		rule, err := registry.Get(lotteryType)
		require.NoError(t, err)
		assert.True(t, rule.IsDigitGame(), "type %s", lotteryType)
		assert.Equal(t, types.DistributionFixed, rule.Distribution, "type %s", lotteryType)
		assert.Equal(t, 0, rule.SpecialCount, "type %s", lotteryType)
	}
}

func TestListIsSorted(t *testing.T) {
	registry := NewRegistry()

	listed := registry.List()
	require.Len(t, listed, 5)
	for i := 1; i < len(listed); i++ {
		assert.Less(t, string(listed[i-1]), string(listed[i]))
	}
}

func TestRegisterRejectsMalformedRule(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(&types.RuleSet{LotteryType: "custom", MainCount: 0})
	assert.Error(t, err)

	err = registry.Register(&types.RuleSet{
		LotteryType:    "custom",
		MainCount:      5,
		MainRangeStart: 10,
		MainRangeEnd:   1,
	})
	assert.Error(t, err)
}

func TestRegisterAcceptsCustomRule(t *testing.T) {
	registry := NewRegistry()

	custom := &types.RuleSet{
		LotteryType:    "custom",
		DisplayName:    "Custom Game",
		MainCount:      4,
		MainRangeStart: 1,
		MainRangeEnd:   20,
	}
	require.NoError(t, registry.Register(custom))

	got, err := registry.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, custom, got)
}
