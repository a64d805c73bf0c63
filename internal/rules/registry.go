package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/stitts-dev/lottery-engine/internal/types"
)

// Registry holds the rule set for each supported game variant. Reads are
// safe from any goroutine; Register is only expected at startup.
type Registry struct {
	mu    sync.RWMutex
	rules map[types.LotteryType]*types.RuleSet
}

// NewRegistry creates a registry seeded with the built-in game variants
func NewRegistry() *Registry {
	r := &Registry{
		rules: make(map[types.LotteryType]*types.RuleSet),
	}
	for _, rule := range builtinRules() {
		r.rules[rule.LotteryType] = rule
	}
	return r
}

// Get returns the rule set for a lottery type
func (r *Registry) Get(lotteryType types.LotteryType) (*types.RuleSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[lotteryType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownLotteryType, lotteryType)
	}
	return rule, nil
}

// Register adds a custom rule set. Replacing a rule already referenced by
// historical data is the caller's responsibility to avoid.
func (r *Registry) Register(rule *types.RuleSet) error {
	if rule.MainCount <= 0 {
		return fmt.Errorf("rule %s: main count must be positive", rule.LotteryType)
	}
	if rule.MainRangeEnd < rule.MainRangeStart {
		return fmt.Errorf("rule %s: invalid main range", rule.LotteryType)
	}
	if rule.SpecialCount > 0 && rule.SpecialRangeEnd < rule.SpecialRangeStart {
		return fmt.Errorf("rule %s: invalid special range", rule.LotteryType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.LotteryType] = rule
	return nil
}

// List returns all registered lottery types in stable order
func (r *Registry) List() []types.LotteryType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]types.LotteryType, 0, len(r.rules))
	for lt := range r.rules {
		result = append(result, lt)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// builtinRules returns the supported game variants. On pari-mutuel
// games the tier FixedAmount values are published reference payouts
// kept for display; settlement attaches amounts only on fixed-
// distribution games, everything else waits on external pool data.
func builtinRules() []*types.RuleSet {
	return []*types.RuleSet{
		{
			ID:                uuid.New(),
			LotteryType:       types.LotterySSQ,
			DisplayName:       "Shuangseqiu",
			Category:          "welfare",
			MainCount:         6,
			SpecialCount:      1,
			MainRangeStart:    1,
			MainRangeEnd:      33,
			SpecialRangeStart: 1,
			SpecialRangeEnd:   16,
			Distribution:      types.DistributionPariMutuel,
			IsActive:          true,
			Tiers: types.PrizeTierList{
				{Tier: 1, Name: "First Prize", MainMatch: 6, SpecialMatch: 1},
				{Tier: 2, Name: "Second Prize", MainMatch: 6, SpecialMatch: 0},
				{Tier: 3, Name: "Third Prize", MainMatch: 5, SpecialMatch: 1, FixedAmount: 3000},
				{Tier: 4, Name: "Fourth Prize", MainMatch: 5, SpecialMatch: 0, FixedAmount: 200},
				{Tier: 4, Name: "Fourth Prize", MainMatch: 4, SpecialMatch: 1, FixedAmount: 200},
				{Tier: 5, Name: "Fifth Prize", MainMatch: 4, SpecialMatch: 0, FixedAmount: 10},
				{Tier: 5, Name: "Fifth Prize", MainMatch: 3, SpecialMatch: 1, FixedAmount: 10},
				{Tier: 6, Name: "Sixth Prize", MainMatch: 2, SpecialMatch: 1, FixedAmount: 5},
				{Tier: 6, Name: "Sixth Prize", MainMatch: 1, SpecialMatch: 1, FixedAmount: 5},
				{Tier: 6, Name: "Sixth Prize", MainMatch: 0, SpecialMatch: 1, FixedAmount: 5},
			},
		},
		{
			ID:                uuid.New(),
			LotteryType:       types.LotteryDLT,
			DisplayName:       "Daletou",
			Category:          "sports",
			MainCount:         5,
			SpecialCount:      2,
			MainRangeStart:    1,
			MainRangeEnd:      35,
			SpecialRangeStart: 1,
			SpecialRangeEnd:   12,
			Distribution:      types.DistributionPariMutuel,
			IsActive:          true,
			Tiers: types.PrizeTierList{
				{Tier: 1, Name: "First Prize", MainMatch: 5, SpecialMatch: 2},
				{Tier: 2, Name: "Second Prize", MainMatch: 5, SpecialMatch: 1},
				{Tier: 3, Name: "Third Prize", MainMatch: 5, SpecialMatch: 0, FixedAmount: 10000},
				{Tier: 4, Name: "Fourth Prize", MainMatch: 4, SpecialMatch: 2, FixedAmount: 3000},
				{Tier: 5, Name: "Fifth Prize", MainMatch: 4, SpecialMatch: 1, FixedAmount: 300},
				{Tier: 6, Name: "Sixth Prize", MainMatch: 3, SpecialMatch: 2, FixedAmount: 200},
				{Tier: 7, Name: "Seventh Prize", MainMatch: 4, SpecialMatch: 0, FixedAmount: 100},
				{Tier: 8, Name: "Eighth Prize", MainMatch: 3, SpecialMatch: 1, FixedAmount: 15},
				{Tier: 8, Name: "Eighth Prize", MainMatch: 2, SpecialMatch: 2, FixedAmount: 15},
				{Tier: 9, Name: "Ninth Prize", MainMatch: 3, SpecialMatch: 0, FixedAmount: 5},
				{Tier: 9, Name: "Ninth Prize", MainMatch: 2, SpecialMatch: 1, FixedAmount: 5},
				{Tier: 9, Name: "Ninth Prize", MainMatch: 1, SpecialMatch: 2, FixedAmount: 5},
				{Tier: 9, Name: "Ninth Prize", MainMatch: 0, SpecialMatch: 2, FixedAmount: 5},
			},
		},
		{
			ID:             uuid.New(),
			LotteryType:    types.LotteryFC3D,
			DisplayName:    "Fucai 3D",
			Category:       "welfare",
			MainCount:      3,
			SpecialCount:   0,
			MainRangeStart: 0,
			MainRangeEnd:   9,
			Distribution:   types.DistributionFixed,
			IsActive:       true,
			Tiers: types.PrizeTierList{
				{Tier: 1, Name: "Direct", DigitMatch: "exact", FixedAmount: 1040},
				{Tier: 2, Name: "Group", DigitMatch: "any_order", FixedAmount: 173},
			},
		},
		{
			ID:             uuid.New(),
			LotteryType:    types.LotteryPL3,
			DisplayName:    "Pailie 3",
			Category:       "sports",
			MainCount:      3,
			SpecialCount:   0,
			MainRangeStart: 0,
			MainRangeEnd:   9,
			Distribution:   types.DistributionFixed,
			IsActive:       true,
			Tiers: types.PrizeTierList{
				{Tier: 1, Name: "Direct", DigitMatch: "exact", FixedAmount: 1040},
				{Tier: 2, Name: "Group", DigitMatch: "any_order", FixedAmount: 173},
			},
		},
		{
			ID:             uuid.New(),
			LotteryType:    types.LotteryPL5,
			DisplayName:    "Pailie 5",
			Category:       "sports",
			MainCount:      5,
			SpecialCount:   0,
			MainRangeStart: 0,
			MainRangeEnd:   9,
			Distribution:   types.DistributionFixed,
			IsActive:       true,
			Tiers: types.PrizeTierList{
				{Tier: 1, Name: "Direct", DigitMatch: "exact", FixedAmount: 100000},
			},
		},
	}
}
