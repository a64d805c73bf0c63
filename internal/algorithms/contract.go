package algorithms

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/stitts-dev/lottery-engine/internal/types"
)

// PredictionInput carries everything an algorithm needs to produce one
// ranked prediction. History is ordered ascending by draw date.
type PredictionInput struct {
	Rule       *types.RuleSet
	History    []types.Drawing
	Features   []float64
	TargetDate time.Time
}

// Prediction is one algorithm output. ConfidenceScores has one entry per
// predicted number, main numbers first, each normalized to [0,1].
type Prediction struct {
	Numbers          []int
	SpecialNumbers   []int
	ConfidenceScores []float64
}

// TrainingSet holds the historical splits for a training run, each
// ordered ascending by draw date
type TrainingSet struct {
	Rule       *types.RuleSet
	Train      []types.Drawing
	Validation []types.Drawing
}

// TrainingMetrics reports per-split accuracy and loss from a training run
type TrainingMetrics struct {
	TrainAccuracy      float64 `json:"train_accuracy"`
	TrainLoss          float64 `json:"train_loss"`
	ValidationAccuracy float64 `json:"validation_accuracy"`
	ValidationLoss     float64 `json:"validation_loss"`
	SampleCount        int     `json:"sample_count"`
}

// Algorithm is the uniform contract every forecasting variant implements.
// Predict must return exactly the rule's main and special counts, unique
// within each set and within range, or fail with ErrPredictionFailed.
type Algorithm interface {
	Name() string
	Kind() types.AlgorithmType
	Predict(ctx context.Context, input *PredictionInput) (*Prediction, error)
	Train(ctx context.Context, data *TrainingSet) (*TrainingMetrics, error)
	Serialize() ([]byte, error)
	Deserialize(data []byte) error
}

// numberScore pairs a candidate number with its model score
type numberScore struct {
	number int
	score  float64
}

// selectByScore picks count distinct numbers by descending score. Ties
// break toward the lower number so selection is deterministic.
func selectByScore(scores map[int]float64, count int) []int {
	ranked := make([]numberScore, 0, len(scores))
	for n, s := range scores {
		ranked = append(ranked, numberScore{number: n, score: s})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].number < ranked[j].number
	})

	if count > len(ranked) {
		count = len(ranked)
	}
	selected := make([]int, count)
	for i := 0; i < count; i++ {
		selected[i] = ranked[i].number
	}
	return selected
}

// confidencesFor maps the selected numbers' scores into [0,1] by scaling
// against the score range. A flat score surface yields uniform confidence.
func confidencesFor(scores map[int]float64, selected []int) []float64 {
	minScore, maxScore := 0.0, 0.0
	first := true
	for _, s := range scores {
		if first {
			minScore, maxScore = s, s
			first = false
			continue
		}
		if s < minScore {
			minScore = s
		}
		if s > maxScore {
			maxScore = s
		}
	}

	out := make([]float64, len(selected))
	span := maxScore - minScore
	for i, n := range selected {
		if span == 0 {
			out[i] = 0.5
			continue
		}
		out[i] = (scores[n] - minScore) / span
	}
	return out
}

// validatePrediction enforces the output contract before a prediction
// leaves an algorithm
func validatePrediction(p *Prediction, rule *types.RuleSet) error {
	if len(p.Numbers) != rule.MainCount {
		return fmt.Errorf("%w: expected %d main numbers, got %d", types.ErrPredictionFailed, rule.MainCount, len(p.Numbers))
	}
	if len(p.SpecialNumbers) != rule.SpecialCount {
		return fmt.Errorf("%w: expected %d special numbers, got %d", types.ErrPredictionFailed, rule.SpecialCount, len(p.SpecialNumbers))
	}
	if len(p.ConfidenceScores) != rule.MainCount+rule.SpecialCount {
		return fmt.Errorf("%w: expected %d confidence scores, got %d", types.ErrPredictionFailed, rule.MainCount+rule.SpecialCount, len(p.ConfidenceScores))
	}
	seen := make(map[int]bool, len(p.Numbers))
	for _, n := range p.Numbers {
		if n < rule.MainRangeStart || n > rule.MainRangeEnd {
			return fmt.Errorf("%w: number %d outside range [%d, %d]", types.ErrPredictionFailed, n, rule.MainRangeStart, rule.MainRangeEnd)
		}
		if seen[n] {
			return fmt.Errorf("%w: duplicate number %d", types.ErrPredictionFailed, n)
		}
		seen[n] = true
	}
	seenSpecial := make(map[int]bool, len(p.SpecialNumbers))
	for _, n := range p.SpecialNumbers {
		if n < rule.SpecialRangeStart || n > rule.SpecialRangeEnd {
			return fmt.Errorf("%w: special number %d outside range [%d, %d]", types.ErrPredictionFailed, n, rule.SpecialRangeStart, rule.SpecialRangeEnd)
		}
		if seenSpecial[n] {
			return fmt.Errorf("%w: duplicate special number %d", types.ErrPredictionFailed, n)
		}
		seenSpecial[n] = true
	}
	for _, c := range p.ConfidenceScores {
		if c < 0 || c > 1 {
			return fmt.Errorf("%w: confidence %f outside [0,1]", types.ErrPredictionFailed, c)
		}
	}
	return nil
}

// holdoutAccuracy measures how well a static score surface ranks the
// validation drawings: the mean fraction of each drawing's main numbers
// that land in the top main-count ranked numbers
func holdoutAccuracy(rule *types.RuleSet, validation []types.Drawing, scores map[int]float64) float64 {
	if len(validation) == 0 {
		return 0
	}
	top := selectByScore(scores, rule.MainCount)
	picked := make(map[int]bool, len(top))
	for _, n := range top {
		picked[n] = true
	}

	total := 0.0
	for _, d := range validation {
		hits := 0
		for _, n := range d.WinningNumbers {
			if picked[n] {
				hits++
			}
		}
		total += float64(hits) / float64(rule.MainCount)
	}
	return total / float64(len(validation))
}

// uniformSpecialScores gives every special number an equal score, used
// when a model carries no special-number signal
func uniformSpecialScores(rule *types.RuleSet) map[int]float64 {
	scores := make(map[int]float64, rule.SpecialRangeSize())
	for n := rule.SpecialRangeStart; n <= rule.SpecialRangeEnd; n++ {
		scores[n] = 1.0 / float64(rule.SpecialRangeSize())
	}
	return scores
}

// specialFrequencyScores counts special-number occurrences over history
func specialFrequencyScores(history []types.Drawing, rule *types.RuleSet) map[int]float64 {
	if rule.SpecialCount == 0 {
		return nil
	}
	scores := make(map[int]float64, rule.SpecialRangeSize())
	for n := rule.SpecialRangeStart; n <= rule.SpecialRangeEnd; n++ {
		scores[n] = 0
	}
	for _, d := range history {
		for _, n := range d.SpecialNumbers {
			if n >= rule.SpecialRangeStart && n <= rule.SpecialRangeEnd {
				scores[n]++
			}
		}
	}
	total := 0.0
	for _, s := range scores {
		total += s
	}
	if total == 0 {
		return uniformSpecialScores(rule)
	}
	for n := range scores {
		scores[n] /= total
	}
	return scores
}
