package algorithms

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/stitts-dev/lottery-engine/internal/types"
)

// Statistical scores numbers from frequency, hot-cold and trend signals
// over the historical window. The cheapest algorithm, and the baseline the
// ensembles lean on.
type Statistical struct {
	rule   *types.RuleSet
	params StatisticalParams
	state  statisticalState
}

type statisticalState struct {
	Trained       bool            `json:"trained"`
	Frequencies   map[int]float64 `json:"frequencies"`
	TrendScores   map[int]float64 `json:"trend_scores"`
	HotNumbers    []int           `json:"hot_numbers"`
	ColdNumbers   []int           `json:"cold_numbers"`
	SpecialScores map[int]float64 `json:"special_scores,omitempty"`
	Params        StatisticalParams `json:"params"`
}

// NewStatistical builds a statistical model, validating parameters
func NewStatistical(rule *types.RuleSet, raw json.RawMessage) (*Statistical, error) {
	params := defaultStatisticalParams()
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Statistical{rule: rule, params: params}, nil
}

func (s *Statistical) Name() string              { return "Statistical Analysis" }
func (s *Statistical) Kind() types.AlgorithmType { return types.AlgorithmStatistical }

func (s *Statistical) Predict(ctx context.Context, input *PredictionInput) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state := s.state
	if !state.Trained {
		// Untrained prediction fits on the request's own window
		if len(input.History) == 0 {
			return nil, fmt.Errorf("%w: no historical drawings in input", types.ErrPredictionFailed)
		}
		state = fitStatistical(input.History, s.rule, s.params)
	}

	scores := state.numberScores(s.rule, s.params)
	numbers := selectByScore(scores, s.rule.MainCount)
	confidences := confidencesFor(scores, numbers)

	var specials []int
	if s.rule.SpecialCount > 0 {
		specialScores := state.SpecialScores
		if len(specialScores) == 0 {
			specialScores = uniformSpecialScores(s.rule)
		}
		specials = selectByScore(specialScores, s.rule.SpecialCount)
		confidences = append(confidences, confidencesFor(specialScores, specials)...)
	}

	prediction := &Prediction{
		Numbers:          numbers,
		SpecialNumbers:   specials,
		ConfidenceScores: confidences,
	}
	if err := validatePrediction(prediction, s.rule); err != nil {
		return nil, err
	}
	return prediction, nil
}

func (s *Statistical) Train(ctx context.Context, data *TrainingSet) (*TrainingMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data.Train) < s.params.MinSamples {
		return nil, types.NewTrainingFailed(
			fmt.Sprintf("have %d samples, need at least %d", len(data.Train), s.params.MinSamples),
			types.ErrInsufficientData,
		)
	}

	s.state = fitStatistical(data.Train, s.rule, s.params)

	scores := s.state.numberScores(s.rule, s.params)
	trainAcc := holdoutAccuracy(s.rule, data.Train, scores)
	valAcc := holdoutAccuracy(s.rule, data.Validation, scores)

	return &TrainingMetrics{
		TrainAccuracy:      trainAcc,
		TrainLoss:          1 - trainAcc,
		ValidationAccuracy: valAcc,
		ValidationLoss:     1 - valAcc,
		SampleCount:        len(data.Train),
	}, nil
}

func (s *Statistical) Serialize() ([]byte, error) {
	s.state.Params = s.params
	return json.Marshal(s.state)
}

func (s *Statistical) Deserialize(data []byte) error {
	var state statisticalState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to deserialize statistical model: %w", err)
	}
	s.state = state
	if state.Params.WindowSize > 0 {
		s.params = state.Params
	}
	return nil
}

func fitStatistical(history []types.Drawing, rule *types.RuleSet, params StatisticalParams) statisticalState {
	window := history
	if len(window) > params.WindowSize {
		window = window[len(window)-params.WindowSize:]
	}

	state := statisticalState{
		Trained:     true,
		Frequencies: make(map[int]float64),
		TrendScores: make(map[int]float64),
	}

	// Normalized frequency per number
	total := 0.0
	for _, d := range window {
		for _, n := range d.WinningNumbers {
			if n >= rule.MainRangeStart && n <= rule.MainRangeEnd {
				state.Frequencies[n]++
				total++
			}
		}
	}
	if total > 0 {
		for n := range state.Frequencies {
			state.Frequencies[n] /= total
		}
	}

	// Hot-cold split: recent fifth of the window against the rest
	recentLen := len(window) / 5
	if recentLen < 1 {
		recentLen = 1
	}
	recent := window[len(window)-recentLen:]
	older := window[:len(window)-recentLen]

	type ratio struct {
		number int
		score  float64
	}
	ratios := make([]ratio, 0, rule.MainRangeSize())
	recentCounts := drawCounts(recent, rule)
	olderCounts := drawCounts(older, rule)
	for n := rule.MainRangeStart; n <= rule.MainRangeEnd; n++ {
		r := recentCounts[n]
		o := olderCounts[n]
		score := r * 2.0
		if o > 0 {
			score = r / o
		}
		ratios = append(ratios, ratio{number: n, score: score})
	}
	sort.Slice(ratios, func(i, j int) bool {
		if ratios[i].score != ratios[j].score {
			return ratios[i].score > ratios[j].score
		}
		return ratios[i].number < ratios[j].number
	})
	third := len(ratios) / 3
	for _, r := range ratios[:third] {
		state.HotNumbers = append(state.HotNumbers, r.number)
	}
	for _, r := range ratios[third*2:] {
		state.ColdNumbers = append(state.ColdNumbers, r.number)
	}

	// Trend: regression slope of each number's appearance indicator
	for n := rule.MainRangeStart; n <= rule.MainRangeEnd; n++ {
		xs := make([]float64, len(window))
		ys := make([]float64, len(window))
		for i, d := range window {
			xs[i] = float64(i)
			for _, w := range d.WinningNumbers {
				if w == n {
					ys[i] = 1
					break
				}
			}
		}
		_, slope := stat.LinearRegression(xs, ys, nil, false)
		state.TrendScores[n] = slope
	}

	state.SpecialScores = specialFrequencyScores(window, rule)
	return state
}

func (st *statisticalState) numberScores(rule *types.RuleSet, params StatisticalParams) map[int]float64 {
	hot := make(map[int]bool, len(st.HotNumbers))
	for _, n := range st.HotNumbers {
		hot[n] = true
	}
	cold := make(map[int]bool, len(st.ColdNumbers))
	for _, n := range st.ColdNumbers {
		cold[n] = true
	}

	scores := make(map[int]float64, rule.MainRangeSize())
	for n := rule.MainRangeStart; n <= rule.MainRangeEnd; n++ {
		score := st.Frequencies[n]*params.HotColdWeight + st.TrendScores[n]*params.TrendWeight
		if hot[n] {
			score += 0.1 * params.PatternWeight
		}
		if cold[n] {
			score -= 0.05 * params.PatternWeight
		}
		if score < 0 {
			score = 0
		}
		scores[n] = score
	}
	return scores
}

func drawCounts(window []types.Drawing, rule *types.RuleSet) map[int]float64 {
	counts := make(map[int]float64, rule.MainRangeSize())
	for _, d := range window {
		for _, n := range d.WinningNumbers {
			if n >= rule.MainRangeStart && n <= rule.MainRangeEnd {
				counts[n]++
			}
		}
	}
	return counts
}
