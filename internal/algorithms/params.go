package algorithms

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/stitts-dev/lottery-engine/internal/types"
)

// Parameter structs are decoded from the strategy's JSON parameter blob
// and validated once at construction time. Downstream code only ever sees
// the typed form.

// StatisticalParams configures the frequency/trend scoring model
type StatisticalParams struct {
	WindowSize    int     `json:"window_size"`
	HotColdWeight float64 `json:"hot_cold_weight"`
	TrendWeight   float64 `json:"trend_weight"`
	PatternWeight float64 `json:"pattern_weight"`
	MinSamples    int     `json:"min_samples"`
}

func defaultStatisticalParams() StatisticalParams {
	return StatisticalParams{
		WindowSize:    50,
		HotColdWeight: 0.4,
		TrendWeight:   0.3,
		PatternWeight: 0.3,
		MinSamples:    10,
	}
}

func (p *StatisticalParams) validate() error {
	if p.WindowSize < 1 {
		return &types.InvalidParametersError{Field: "window_size", Reason: "must be at least 1"}
	}
	for field, w := range map[string]float64{
		"hot_cold_weight": p.HotColdWeight,
		"trend_weight":    p.TrendWeight,
		"pattern_weight":  p.PatternWeight,
	} {
		if w < 0 || w > 1 {
			return &types.InvalidParametersError{Field: field, Reason: "must be in [0,1]"}
		}
	}
	if p.MinSamples < 1 {
		return &types.InvalidParametersError{Field: "min_samples", Reason: "must be at least 1"}
	}
	return nil
}

// TreeEnsembleParams configures the random-forest style regressor
type TreeEnsembleParams struct {
	TreeCount  int   `json:"tree_count"`
	MaxDepth   int   `json:"max_depth"`
	Seed       int64 `json:"seed"`
	MinSamples int   `json:"min_samples"`
}

func defaultTreeEnsembleParams() TreeEnsembleParams {
	return TreeEnsembleParams{
		TreeCount:  50,
		MaxDepth:   4,
		Seed:       42,
		MinSamples: 20,
	}
}

func (p *TreeEnsembleParams) validate() error {
	if p.TreeCount < 1 || p.TreeCount > 1000 {
		return &types.InvalidParametersError{Field: "tree_count", Reason: "must be in [1,1000]"}
	}
	if p.MaxDepth < 1 || p.MaxDepth > 16 {
		return &types.InvalidParametersError{Field: "max_depth", Reason: "must be in [1,16]"}
	}
	if p.MinSamples < 1 {
		return &types.InvalidParametersError{Field: "min_samples", Reason: "must be at least 1"}
	}
	return nil
}

// SequenceParams configures the recency-decay sequence model
type SequenceParams struct {
	Decay      float64 `json:"decay"`
	TuneDecay  bool    `json:"tune_decay"`
	MinSamples int     `json:"min_samples"`
}

func defaultSequenceParams() SequenceParams {
	return SequenceParams{
		Decay:      0.95,
		TuneDecay:  true,
		MinSamples: 15,
	}
}

func (p *SequenceParams) validate() error {
	if p.Decay <= 0 || p.Decay >= 1 {
		return &types.InvalidParametersError{Field: "decay", Reason: "must be in (0,1)"}
	}
	if p.MinSamples < 1 {
		return &types.InvalidParametersError{Field: "min_samples", Reason: "must be at least 1"}
	}
	return nil
}

// TimeSeriesParams configures the autoregressive forecaster
type TimeSeriesParams struct {
	Order      int `json:"order"`
	MinSamples int `json:"min_samples"`
}

func defaultTimeSeriesParams() TimeSeriesParams {
	return TimeSeriesParams{
		Order:      3,
		MinSamples: 20,
	}
}

func (p *TimeSeriesParams) validate() error {
	if p.Order < 1 || p.Order > 10 {
		return &types.InvalidParametersError{Field: "order", Reason: "must be in [1,10]"}
	}
	if p.MinSamples <= p.Order {
		return &types.InvalidParametersError{Field: "min_samples", Reason: "must exceed the AR order"}
	}
	return nil
}

// NeuralNetParams configures the gorgonia MLP
type NeuralNetParams struct {
	HiddenSize   int     `json:"hidden_size"`
	LearningRate float64 `json:"learning_rate"`
	Epochs       int     `json:"epochs"`
	Seed         int64   `json:"seed"`
	MinSamples   int     `json:"min_samples"`
}

func defaultNeuralNetParams() NeuralNetParams {
	return NeuralNetParams{
		HiddenSize:   32,
		LearningRate: 0.01,
		Epochs:       100,
		Seed:         42,
		MinSamples:   25,
	}
}

func (p *NeuralNetParams) validate() error {
	if p.HiddenSize < 1 || p.HiddenSize > 1024 {
		return &types.InvalidParametersError{Field: "hidden_size", Reason: "must be in [1,1024]"}
	}
	if p.LearningRate <= 0 || p.LearningRate > 1 {
		return &types.InvalidParametersError{Field: "learning_rate", Reason: "must be in (0,1]"}
	}
	if p.Epochs < 1 || p.Epochs > 10000 {
		return &types.InvalidParametersError{Field: "epochs", Reason: "must be in [1,10000]"}
	}
	if p.MinSamples < 1 {
		return &types.InvalidParametersError{Field: "min_samples", Reason: "must be at least 1"}
	}
	return nil
}

// HybridMember names one ensemble member and its combination weight
type HybridMember struct {
	Kind       types.AlgorithmType `json:"kind"`
	Weight     float64             `json:"weight"`
	Parameters json.RawMessage     `json:"parameters,omitempty"`
}

// HybridParams configures the weighted ensemble
type HybridParams struct {
	Members []HybridMember `json:"members"`
}

func defaultHybridParams() HybridParams {
	return HybridParams{
		Members: []HybridMember{
			{Kind: types.AlgorithmStatistical, Weight: 0.4},
			{Kind: types.AlgorithmSequence, Weight: 0.3},
			{Kind: types.AlgorithmTimeSeries, Weight: 0.3},
		},
	}
}

// decodeParams unmarshals a parameter blob over defaults. A nil or empty
// blob keeps the defaults; unknown keys are rejected so a typo never
// silently falls back to a default.
func decodeParams(raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return &types.InvalidParametersError{Field: "parameters", Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	return nil
}
