package evaluator

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/lottery-engine/internal/rules"
	"github.com/stitts-dev/lottery-engine/internal/types"
	"github.com/stitts-dev/lottery-engine/pkg/logger"
)

// PredictionStore loads unresolved predictions and persists verdicts
type PredictionStore interface {
	UnresolvedByTarget(ctx context.Context, lotteryType types.LotteryType, targetDate time.Time) ([]types.PredictionResult, error)
	Resolve(ctx context.Context, prediction *types.PredictionResult) (bool, error)
}

// StrategyCounter folds resolved outcomes into strategy statistics
type StrategyCounter interface {
	RecordPredictionOutcome(ctx context.Context, id uuid.UUID, won bool) error
}

// DrawingLister supplies recent drawings for backlog sweeps
type DrawingLister interface {
	ListRecent(ctx context.Context, lotteryType types.LotteryType, limit int) ([]types.Drawing, error)
}

// Evaluator reconciles verified drawings against outstanding
// predictions. Resolution is idempotent: a prediction carries its actual
// draw reference exactly once, and re-running a drawing leaves already
// resolved rows untouched.
type Evaluator struct {
	rules       *rules.Registry
	predictions PredictionStore
	strategies  StrategyCounter
	logger      *logrus.Entry
}

// Outcome summarizes one reconciliation pass
type Outcome struct {
	Evaluated int `json:"evaluated"`
	Resolved  int `json:"resolved"`
	Winners   int `json:"winners"`
}

// NewEvaluator creates an evaluator
func NewEvaluator(ruleRegistry *rules.Registry, predictions PredictionStore, strategies StrategyCounter) *Evaluator {
	return &Evaluator{
		rules:       ruleRegistry,
		predictions: predictions,
		strategies:  strategies,
		logger:      logger.WithComponent("accuracy_evaluator"),
	}
}

// ReconcileDrawing scores every unresolved prediction that targeted the
// drawing's date
func (e *Evaluator) ReconcileDrawing(ctx context.Context, drawing *types.Drawing) (*Outcome, error) {
	rule, err := e.rules.Get(drawing.LotteryType)
	if err != nil {
		return nil, err
	}

	pending, err := e.predictions.UnresolvedByTarget(ctx, drawing.LotteryType, drawing.DrawDate)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Evaluated: len(pending)}
	for i := range pending {
		prediction := &pending[i]
		e.score(rule, drawing, prediction)

		resolved, err := e.predictions.Resolve(ctx, prediction)
		if err != nil {
			return outcome, err
		}
		if !resolved {
			continue
		}
		outcome.Resolved++
		if prediction.IsWinner {
			outcome.Winners++
		}

		if err := e.strategies.RecordPredictionOutcome(ctx, prediction.StrategyID, prediction.IsWinner); err != nil {
			e.logger.WithError(err).WithField("strategy_id", prediction.StrategyID).
				Error("Failed to update strategy prediction counters")
		}
	}

	e.logger.WithFields(logrus.Fields{
		"lottery_type": drawing.LotteryType,
		"draw_number":  drawing.DrawNumber,
		"evaluated":    outcome.Evaluated,
		"resolved":     outcome.Resolved,
		"winners":      outcome.Winners,
	}).Info("Reconciled drawing against predictions")

	return outcome, nil
}

// SweepBacklog re-reconciles the latest verified drawings of each game.
// The ingest-time trigger is fire-and-forget, so a crash between ingest
// and reconciliation would otherwise strand predictions unresolved.
// Resolution is idempotent, making the sweep safe to run at startup and
// on a timer.
func (e *Evaluator) SweepBacklog(ctx context.Context, drawings DrawingLister, lotteryTypes []types.LotteryType, perType int) (*Outcome, error) {
	total := &Outcome{}
	for _, lotteryType := range lotteryTypes {
		recent, err := drawings.ListRecent(ctx, lotteryType, perType)
		if err != nil {
			return total, err
		}
		for i := range recent {
			if recent[i].VerificationStatus != types.VerificationVerified {
				continue
			}
			outcome, err := e.ReconcileDrawing(ctx, &recent[i])
			if err != nil {
				return total, err
			}
			total.Evaluated += outcome.Evaluated
			total.Resolved += outcome.Resolved
			total.Winners += outcome.Winners
		}
	}
	return total, nil
}

// score fills the prediction's resolution fields in place
func (e *Evaluator) score(rule *types.RuleSet, drawing *types.Drawing, prediction *types.PredictionResult) {
	drawID := drawing.ID
	prediction.ActualDrawID = &drawID

	if rule.IsDigitGame() {
		e.scoreDigits(rule, drawing, prediction)
		return
	}

	prediction.MatchCount = intersectionSize(prediction.PredictedNumbers, drawing.WinningNumbers)
	prediction.SpecialMatchCount = intersectionSize(prediction.PredictedSpecialNumbers, drawing.SpecialNumbers)

	total := len(drawing.WinningNumbers) + len(drawing.SpecialNumbers)
	if total > 0 {
		score := float64(prediction.MatchCount+prediction.SpecialMatchCount) / float64(total)
		prediction.AccuracyScore = &score
	}

	if tier := matchTier(rule.Tiers, prediction.MatchCount, prediction.SpecialMatchCount); tier != nil {
		prediction.IsWinner = true
		tierNumber := tier.Tier
		prediction.PrizeTier = &tierNumber
		if rule.Distribution == types.DistributionFixed && tier.FixedAmount > 0 {
			amount := tier.FixedAmount
			prediction.PrizeAmount = &amount
		}
		// Pari-mutuel amounts depend on the prize pool and are left unset
	}
}

// scoreDigits evaluates positional digit games. An exact win matches
// every position; any_order wins on equal digit multisets.
func (e *Evaluator) scoreDigits(rule *types.RuleSet, drawing *types.Drawing, prediction *types.PredictionResult) {
	exact := len(prediction.PredictedNumbers) == len(drawing.WinningNumbers)
	matched := 0
	if exact {
		for i, digit := range prediction.PredictedNumbers {
			if digit == drawing.WinningNumbers[i] {
				matched++
			} else {
				exact = false
			}
		}
	}
	prediction.MatchCount = matched

	if len(drawing.WinningNumbers) > 0 {
		score := float64(matched) / float64(len(drawing.WinningNumbers))
		prediction.AccuracyScore = &score
	}

	anyOrder := !exact && sameMultiset(prediction.PredictedNumbers, drawing.WinningNumbers)

	for _, tier := range sortedTiers(rule.Tiers) {
		var won bool
		switch tier.DigitMatch {
		case "exact":
			won = exact
		case "any_order":
			won = exact || anyOrder
		}
		if won {
			prediction.IsWinner = true
			tierNumber := tier.Tier
			prediction.PrizeTier = &tierNumber
			if tier.FixedAmount > 0 {
				amount := tier.FixedAmount
				prediction.PrizeAmount = &amount
			}
			return
		}
	}
}

// matchTier returns the best tier satisfied by exact match counts. Tiers
// are ranked ascending, so the first satisfied entry wins.
func matchTier(tiers types.PrizeTierList, mainMatch, specialMatch int) *types.PrizeTier {
	for _, tier := range sortedTiers(tiers) {
		if tier.DigitMatch != "" {
			continue
		}
		if tier.MainMatch == mainMatch && tier.SpecialMatch == specialMatch {
			t := tier
			return &t
		}
	}
	return nil
}

func sortedTiers(tiers types.PrizeTierList) []types.PrizeTier {
	sorted := make([]types.PrizeTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Tier < sorted[j].Tier })
	return sorted
}

func intersectionSize(predicted, actual []int) int {
	seen := make(map[int]bool, len(actual))
	for _, n := range actual {
		seen[n] = true
	}
	count := 0
	for _, n := range predicted {
		if seen[n] {
			count++
			seen[n] = false
		}
	}
	return count
}

func sameMultiset(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[int]int, len(a))
	for _, n := range a {
		counts[n]++
	}
	for _, n := range b {
		counts[n]--
		if counts[n] < 0 {
			return false
		}
	}
	return true
}
