package algorithms

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/stitts-dev/lottery-engine/internal/types"
)

// weightTolerance bounds how far member weights may drift from summing
// to exactly one
const weightTolerance = 1e-6

// Hybrid combines member algorithms by weighted vote: each member
// predicts independently, per-number confidences are scaled by the
// member weight and summed, and the top combined scores win. Weights
// must sum to one.
type Hybrid struct {
	rule    *types.RuleSet
	params  HybridParams
	members []hybridMember
}

type hybridMember struct {
	kind   types.AlgorithmType
	weight float64
	algo   Algorithm
}

type hybridState struct {
	Members []hybridMemberState `json:"members"`
}

type hybridMemberState struct {
	Kind  types.AlgorithmType `json:"kind"`
	Blob  []byte              `json:"blob"`
}

func (p *HybridParams) validate() error {
	if len(p.Members) == 0 {
		return &types.InvalidParametersError{Field: "members", Reason: "at least one member is required"}
	}
	sum := 0.0
	for i, m := range p.Members {
		if m.Kind == types.AlgorithmHybrid {
			return &types.InvalidParametersError{
				Field:  fmt.Sprintf("members[%d].kind", i),
				Reason: "hybrid members cannot nest",
			}
		}
		if m.Weight <= 0 {
			return &types.InvalidParametersError{
				Field:  fmt.Sprintf("members[%d].weight", i),
				Reason: "must be positive",
			}
		}
		sum += m.Weight
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %g", types.ErrInvalidEnsembleWeights, sum)
	}
	return nil
}

// NewHybrid builds a weighted ensemble, instantiating each member
// through the registry
func NewHybrid(registry *Registry, rule *types.RuleSet, raw json.RawMessage) (*Hybrid, error) {
	params := defaultHybridParams()
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	members := make([]hybridMember, 0, len(params.Members))
	for _, m := range params.Members {
		algo, err := registry.Create(m.Kind, rule, m.Parameters)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", m.Kind, err)
		}
		members = append(members, hybridMember{kind: m.Kind, weight: m.Weight, algo: algo})
	}

	return &Hybrid{rule: rule, params: params, members: members}, nil
}

func (h *Hybrid) Name() string              { return "Hybrid Ensemble" }
func (h *Hybrid) Kind() types.AlgorithmType { return types.AlgorithmHybrid }

func (h *Hybrid) Predict(ctx context.Context, input *PredictionInput) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mainScores := make(map[int]float64, h.rule.MainRangeSize())
	specialScores := make(map[int]float64, h.rule.SpecialRangeSize())
	for _, m := range h.members {
		p, err := m.algo.Predict(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", m.kind, err)
		}
		for i, num := range p.Numbers {
			mainScores[num] += m.weight * p.ConfidenceScores[i]
		}
		for i, num := range p.SpecialNumbers {
			specialScores[num] += m.weight * p.ConfidenceScores[len(p.Numbers)+i]
		}
	}

	numbers := selectByScore(mainScores, h.rule.MainCount)
	confidences := confidencesFor(mainScores, numbers)

	var specials []int
	if h.rule.SpecialCount > 0 {
		if len(specialScores) < h.rule.SpecialCount {
			for n, v := range uniformSpecialScores(h.rule) {
				if _, ok := specialScores[n]; !ok {
					specialScores[n] = v * 1e-3
				}
			}
		}
		specials = selectByScore(specialScores, h.rule.SpecialCount)
		confidences = append(confidences, confidencesFor(specialScores, specials)...)
	}

	prediction := &Prediction{
		Numbers:          numbers,
		SpecialNumbers:   specials,
		ConfidenceScores: confidences,
	}
	if err := validatePrediction(prediction, h.rule); err != nil {
		return nil, err
	}
	return prediction, nil
}

// Train trains each member on the same split and reports its metrics
// combined by member weight
func (h *Hybrid) Train(ctx context.Context, data *TrainingSet) (*TrainingMetrics, error) {
	combined := &TrainingMetrics{SampleCount: len(data.Train)}
	for _, m := range h.members {
		metrics, err := m.algo.Train(ctx, data)
		if err != nil {
			return nil, types.NewTrainingFailed(fmt.Sprintf("member %s", m.kind), err)
		}
		combined.TrainAccuracy += m.weight * metrics.TrainAccuracy
		combined.TrainLoss += m.weight * metrics.TrainLoss
		combined.ValidationAccuracy += m.weight * metrics.ValidationAccuracy
		combined.ValidationLoss += m.weight * metrics.ValidationLoss
	}
	return combined, nil
}

func (h *Hybrid) Serialize() ([]byte, error) {
	state := hybridState{Members: make([]hybridMemberState, 0, len(h.members))}
	for _, m := range h.members {
		blob, err := m.algo.Serialize()
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", m.kind, err)
		}
		state.Members = append(state.Members, hybridMemberState{Kind: m.kind, Blob: blob})
	}
	return json.Marshal(state)
}

func (h *Hybrid) Deserialize(data []byte) error {
	var state hybridState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to deserialize hybrid ensemble: %w", err)
	}
	if len(state.Members) != len(h.members) {
		return fmt.Errorf("member count mismatch: artifact has %d, ensemble has %d",
			len(state.Members), len(h.members))
	}
	for i, ms := range state.Members {
		if ms.Kind != h.members[i].kind {
			return fmt.Errorf("member %d kind mismatch: artifact %s, ensemble %s",
				i, ms.Kind, h.members[i].kind)
		}
		if err := h.members[i].algo.Deserialize(ms.Blob); err != nil {
			return fmt.Errorf("member %s: %w", ms.Kind, err)
		}
	}
	return nil
}
