package algorithms

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/stitts-dev/lottery-engine/internal/types"
)

// Sequence is a recency-weighted sequence model: each number's score is
// the exponentially decayed sum of its appearances, so the most recent
// draws dominate. Training tunes the decay factor against the validation
// split.
type Sequence struct {
	rule   *types.RuleSet
	params SequenceParams
	state  sequenceState
}

type sequenceState struct {
	Trained       bool            `json:"trained"`
	Decay         float64         `json:"decay"`
	Scores        map[int]float64 `json:"scores"`
	SpecialScores map[int]float64 `json:"special_scores,omitempty"`
}

// decayGrid is the candidate set searched during training
var decayGrid = []float64{0.85, 0.90, 0.95, 0.99}

// NewSequence builds a sequence model, validating parameters
func NewSequence(rule *types.RuleSet, raw json.RawMessage) (*Sequence, error) {
	params := defaultSequenceParams()
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Sequence{rule: rule, params: params}, nil
}

func (s *Sequence) Name() string              { return "Sequence Model" }
func (s *Sequence) Kind() types.AlgorithmType { return types.AlgorithmSequence }

func (s *Sequence) Predict(ctx context.Context, input *PredictionInput) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state := s.state
	if !state.Trained {
		if len(input.History) == 0 {
			return nil, fmt.Errorf("%w: no historical drawings in input", types.ErrPredictionFailed)
		}
		state = fitSequence(input.History, s.rule, s.params.Decay)
	}

	numbers := selectByScore(state.Scores, s.rule.MainCount)
	confidences := confidencesFor(state.Scores, numbers)

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

func (s *Sequence) Train(ctx context.Context, data *TrainingSet) (*TrainingMetrics, error) {
	if len(data.Train) < s.params.MinSamples {
		return nil, types.NewTrainingFailed(
			fmt.Sprintf("have %d samples, need at least %d", len(data.Train), s.params.MinSamples),
			types.ErrInsufficientData,
		)
	}

	candidates := []float64{s.params.Decay}
	if s.params.TuneDecay {
		candidates = decayGrid
	}

	bestDecay := candidates[0]
	bestVal := -1.0
	var bestState sequenceState
	for _, decay := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state := fitSequence(data.Train, s.rule, decay)
		val := holdoutAccuracy(s.rule, data.Validation, state.Scores)
		if len(data.Validation) == 0 {
			val = holdoutAccuracy(s.rule, data.Train, state.Scores)
		}
		if val > bestVal {
			bestVal = val
			bestDecay = decay
			bestState = state
		}
	}

	s.state = bestState
	s.params.Decay = bestDecay

	trainAcc := holdoutAccuracy(s.rule, data.Train, s.state.Scores)
	valAcc := holdoutAccuracy(s.rule, data.Validation, s.state.Scores)

	return &TrainingMetrics{
		TrainAccuracy:      trainAcc,
		TrainLoss:          1 - trainAcc,
		ValidationAccuracy: valAcc,
		ValidationLoss:     1 - valAcc,
		SampleCount:        len(data.Train),
	}, nil
}

func (s *Sequence) Serialize() ([]byte, error) {
	return json.Marshal(s.state)
}

func (s *Sequence) Deserialize(data []byte) error {
	var state sequenceState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to deserialize sequence model: %w", err)
	}
	s.state = state
	if state.Decay > 0 {
		s.params.Decay = state.Decay
	}
	return nil
}

func fitSequence(history []types.Drawing, rule *types.RuleSet, decay float64) sequenceState {
	state := sequenceState{
		Trained: true,
		Decay:   decay,
		Scores:  make(map[int]float64, rule.MainRangeSize()),
	}
	for n := rule.MainRangeStart; n <= rule.MainRangeEnd; n++ {
		state.Scores[n] = 0
	}

	last := len(history) - 1
	for i, d := range history {
		weight := math.Pow(decay, float64(last-i))
		for _, n := range d.WinningNumbers {
			if n >= rule.MainRangeStart && n <= rule.MainRangeEnd {
				state.Scores[n] += weight
			}
		}
	}

	state.SpecialScores = specialFrequencyScores(history, rule)
	return state
}
