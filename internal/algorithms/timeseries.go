package algorithms

import (
	"context"
	"encoding/json"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/stitts-dev/lottery-engine/internal/types"
)

// TimeSeries fits one autoregressive model per number over its
// occurrence series and scores numbers by the one-step-ahead forecast.
// Coefficients come from a least-squares QR solve.
type TimeSeries struct {
	rule   *types.RuleSet
	params TimeSeriesParams
	state  timeSeriesState
}

type timeSeriesState struct {
	Trained       bool                `json:"trained"`
	Order         int                 `json:"order"`
	Coeffs        map[int][]float64   `json:"coeffs"`
	Scores        map[int]float64     `json:"scores"`
	SpecialScores map[int]float64     `json:"special_scores,omitempty"`
}

// NewTimeSeries builds an autoregressive forecaster, validating parameters
func NewTimeSeries(rule *types.RuleSet, raw json.RawMessage) (*TimeSeries, error) {
	params := defaultTimeSeriesParams()
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &TimeSeries{rule: rule, params: params}, nil
}

func (t *TimeSeries) Name() string              { return "Time Series Forecaster" }
func (t *TimeSeries) Kind() types.AlgorithmType { return types.AlgorithmTimeSeries }

func (t *TimeSeries) Predict(ctx context.Context, input *PredictionInput) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var scores map[int]float64
	switch {
	case t.state.Trained && len(input.History) > t.params.Order:
		// Forecast from the freshest window using trained coefficients
		scores = t.forecastScores(input.History)
	case t.state.Trained:
		scores = t.state.Scores
	default:
		if len(input.History) <= t.params.Order {
			return nil, fmt.Errorf("%w: need more than %d drawings for AR(%d) forecast",
				types.ErrPredictionFailed, t.params.Order, t.params.Order)
		}
		state := fitTimeSeries(input.History, t.rule, t.params.Order)
		scores = state.Scores
	}

	numbers := selectByScore(scores, t.rule.MainCount)
	confidences := confidencesFor(scores, numbers)

	var specials []int
	if t.rule.SpecialCount > 0 {
		specialScores := t.state.SpecialScores
		if len(specialScores) == 0 {
			specialScores = specialFrequencyScores(input.History, t.rule)
		}
		if len(specialScores) == 0 {
			specialScores = uniformSpecialScores(t.rule)
		}
		specials = selectByScore(specialScores, t.rule.SpecialCount)
		confidences = append(confidences, confidencesFor(specialScores, specials)...)
	}

	prediction := &Prediction{
		Numbers:          numbers,
		SpecialNumbers:   specials,
		ConfidenceScores: confidences,
	}
	if err := validatePrediction(prediction, t.rule); err != nil {
		return nil, err
	}
	return prediction, nil
}

func (t *TimeSeries) Train(ctx context.Context, data *TrainingSet) (*TrainingMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data.Train) < t.params.MinSamples {
		return nil, types.NewTrainingFailed(
			fmt.Sprintf("have %d samples, need at least %d", len(data.Train), t.params.MinSamples),
			types.ErrInsufficientData,
		)
	}

	t.state = fitTimeSeries(data.Train, t.rule, t.params.Order)

	trainAcc := holdoutAccuracy(t.rule, data.Train, t.state.Scores)
	valAcc := holdoutAccuracy(t.rule, data.Validation, t.state.Scores)

	return &TrainingMetrics{
		TrainAccuracy:      trainAcc,
		TrainLoss:          1 - trainAcc,
		ValidationAccuracy: valAcc,
		ValidationLoss:     1 - valAcc,
		SampleCount:        len(data.Train),
	}, nil
}

func (t *TimeSeries) Serialize() ([]byte, error) {
	return json.Marshal(t.state)
}

func (t *TimeSeries) Deserialize(data []byte) error {
	var state timeSeriesState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to deserialize time series model: %w", err)
	}
	t.state = state
	if state.Order > 0 {
		t.params.Order = state.Order
	}
	return nil
}

// forecastScores applies trained coefficients to the tail of a fresh
// occurrence series
func (t *TimeSeries) forecastScores(history []types.Drawing) map[int]float64 {
	scores := make(map[int]float64, t.rule.MainRangeSize())
	for n := t.rule.MainRangeStart; n <= t.rule.MainRangeEnd; n++ {
		series := occurrenceSeries(history, n)
		coeffs := t.state.Coeffs[n]
		scores[n] = forecastNext(series, coeffs, t.params.Order)
	}
	return scores
}

func fitTimeSeries(history []types.Drawing, rule *types.RuleSet, order int) timeSeriesState {
	state := timeSeriesState{
		Trained: true,
		Order:   order,
		Coeffs:  make(map[int][]float64, rule.MainRangeSize()),
		Scores:  make(map[int]float64, rule.MainRangeSize()),
	}

	for n := rule.MainRangeStart; n <= rule.MainRangeEnd; n++ {
		series := occurrenceSeries(history, n)
		coeffs := fitAR(series, order)
		state.Coeffs[n] = coeffs
		state.Scores[n] = forecastNext(series, coeffs, order)
	}

	state.SpecialScores = specialFrequencyScores(history, rule)
	return state
}

// occurrenceSeries is the 0/1 appearance series of one number across the
// window, ordered oldest first
func occurrenceSeries(history []types.Drawing, number int) []float64 {
	series := make([]float64, len(history))
	for i, d := range history {
		for _, n := range d.WinningNumbers {
			if n == number {
				series[i] = 1
				break
			}
		}
	}
	return series
}

// fitAR solves the AR(order) least-squares system for one series. Returns
// nil when the system is degenerate; callers fall back to the series mean.
func fitAR(series []float64, order int) []float64 {
	rows := len(series) - order
	if rows < order+1 {
		return nil
	}

	cols := order + 1 // intercept plus lag terms
	data := make([]float64, 0, rows*cols)
	targets := make([]float64, 0, rows)
	for t := order; t < len(series); t++ {
		data = append(data, 1)
		for lag := 1; lag <= order; lag++ {
			data = append(data, series[t-lag])
		}
		targets = append(targets, series[t])
	}

	a := mat.NewDense(rows, cols, data)
	b := mat.NewVecDense(rows, targets)

	var qr mat.QR
	qr.Factorize(a)

	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		return nil
	}

	coeffs := make([]float64, cols)
	for i := range coeffs {
		coeffs[i] = x.AtVec(i)
	}
	return coeffs
}

// forecastNext produces the one-step-ahead forecast, clamped to [0,1]
func forecastNext(series []float64, coeffs []float64, order int) float64 {
	if coeffs == nil || len(series) < order {
		// Degenerate fit: score by historical mean
		sum := 0.0
		for _, v := range series {
			sum += v
		}
		if len(series) == 0 {
			return 0
		}
		return sum / float64(len(series))
	}

	forecast := coeffs[0]
	for lag := 1; lag <= order; lag++ {
		forecast += coeffs[lag] * series[len(series)-lag]
	}
	if forecast < 0 {
		forecast = 0
	}
	if forecast > 1 {
		forecast = 1
	}
	return forecast
}
