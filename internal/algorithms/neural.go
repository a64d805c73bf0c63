package algorithms

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"github.com/stitts-dev/lottery-engine/internal/types"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// neuralWarmup is the number of leading drawings consumed before the
// first training example can be formed
const neuralWarmup = 10

// NeuralNet is a single hidden layer perceptron over the per-number
// frequency vector. The input is the normalized appearance frequency of
// every number in the trailing window, the output is a per-number score
// for the next drawing. Training runs full-batch MSE with Adam.
type NeuralNet struct {
	rule   *types.RuleSet
	params NeuralNetParams
	state  neuralState
}

type neuralState struct {
	Trained    bool      `json:"trained"`
	InputSize  int       `json:"input_size"`
	HiddenSize int       `json:"hidden_size"`
	W1         []float64 `json:"w1"`
	B1         []float64 `json:"b1"`
	W2         []float64 `json:"w2"`
	B2         []float64 `json:"b2"`

	SpecialScores map[int]float64 `json:"special_scores,omitempty"`
}

// NewNeuralNet builds a neural network predictor, validating parameters
func NewNeuralNet(rule *types.RuleSet, raw json.RawMessage) (*NeuralNet, error) {
	params := defaultNeuralNetParams()
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &NeuralNet{rule: rule, params: params}, nil
}

func (n *NeuralNet) Name() string              { return "Neural Network" }
func (n *NeuralNet) Kind() types.AlgorithmType { return types.AlgorithmNeuralNet }

func (n *NeuralNet) Predict(ctx context.Context, input *PredictionInput) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state := n.state
	if !state.Trained {
		if len(input.History) <= neuralWarmup {
			return nil, fmt.Errorf("%w: need more than %d drawings", types.ErrPredictionFailed, neuralWarmup)
		}
		fitted, err := fitNeural(ctx, input.History, n.rule, n.params)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrPredictionFailed, err)
		}
		state = fitted
	}

	outputs := state.forward(frequencyRow(input.History, n.rule))
	scores := make(map[int]float64, n.rule.MainRangeSize())
	for i, v := range outputs {
		scores[n.rule.MainRangeStart+i] = v
	}

	numbers := selectByScore(scores, n.rule.MainCount)
	confidences := confidencesFor(scores, numbers)

	var specials []int
	if n.rule.SpecialCount > 0 {
		specialScores := state.SpecialScores
		if len(specialScores) == 0 {
			specialScores = specialFrequencyScores(input.History, n.rule)
		}
		if len(specialScores) == 0 {
			specialScores = uniformSpecialScores(n.rule)
		}
		specials = selectByScore(specialScores, n.rule.SpecialCount)
		confidences = append(confidences, confidencesFor(specialScores, specials)...)
	}

	prediction := &Prediction{
		Numbers:          numbers,
		SpecialNumbers:   specials,
		ConfidenceScores: confidences,
	}
	if err := validatePrediction(prediction, n.rule); err != nil {
		return nil, err
	}
	return prediction, nil
}

func (n *NeuralNet) Train(ctx context.Context, data *TrainingSet) (*TrainingMetrics, error) {
	if len(data.Train) < n.params.MinSamples {
		return nil, types.NewTrainingFailed(
			fmt.Sprintf("have %d samples, need at least %d", len(data.Train), n.params.MinSamples),
			types.ErrInsufficientData,
		)
	}

	state, err := fitNeural(ctx, data.Train, n.rule, n.params)
	if err != nil {
		return nil, types.NewTrainingFailed("network fit failed", err)
	}
	n.state = state

	outputs := state.forward(frequencyRow(data.Train, n.rule))
	scores := make(map[int]float64, n.rule.MainRangeSize())
	for i, v := range outputs {
		scores[n.rule.MainRangeStart+i] = v
	}
	trainAcc := holdoutAccuracy(n.rule, data.Train, scores)
	valAcc := holdoutAccuracy(n.rule, data.Validation, scores)

	return &TrainingMetrics{
		TrainAccuracy:      trainAcc,
		TrainLoss:          1 - trainAcc,
		ValidationAccuracy: valAcc,
		ValidationLoss:     1 - valAcc,
		SampleCount:        len(data.Train),
	}, nil
}

func (n *NeuralNet) Serialize() ([]byte, error) {
	return json.Marshal(n.state)
}

func (n *NeuralNet) Deserialize(data []byte) error {
	var state neuralState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to deserialize neural network: %w", err)
	}
	n.state = state
	return nil
}

// frequencyRow is the network input: one normalized appearance frequency
// per number in the main range
func frequencyRow(context []types.Drawing, rule *types.RuleSet) []float64 {
	row := make([]float64, rule.MainRangeSize())
	if len(context) == 0 {
		return row
	}
	for _, d := range context {
		for _, num := range d.WinningNumbers {
			idx := num - rule.MainRangeStart
			if idx >= 0 && idx < len(row) {
				row[idx]++
			}
		}
	}
	total := float64(len(context))
	for i := range row {
		row[i] /= total
	}
	return row
}

// multiHotRow is the training target: 1 for every drawn number
func multiHotRow(d types.Drawing, rule *types.RuleSet) []float64 {
	row := make([]float64, rule.MainRangeSize())
	for _, num := range d.WinningNumbers {
		idx := num - rule.MainRangeStart
		if idx >= 0 && idx < len(row) {
			row[idx] = 1
		}
	}
	return row
}

func fitNeural(ctx context.Context, history []types.Drawing, rule *types.RuleSet, params NeuralNetParams) (neuralState, error) {
	if len(history) <= neuralWarmup {
		return neuralState{}, fmt.Errorf("window too small: %d drawings", len(history))
	}

	inputSize := rule.MainRangeSize()
	hiddenSize := params.HiddenSize
	batch := len(history) - neuralWarmup

	inputs := make([]float64, 0, batch*inputSize)
	labels := make([]float64, 0, batch*inputSize)
	for i := neuralWarmup; i < len(history); i++ {
		inputs = append(inputs, frequencyRow(history[:i], rule)...)
		labels = append(labels, multiHotRow(history[i], rule)...)
	}

	rng := rand.New(rand.NewSource(params.Seed))

	g := gorgonia.NewGraph()
	inputNode := gorgonia.NewMatrix(g, tensor.Float64,
		gorgonia.WithShape(batch, inputSize),
		gorgonia.WithName("input"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(batch, inputSize), tensor.WithBacking(inputs))))
	labelNode := gorgonia.NewMatrix(g, tensor.Float64,
		gorgonia.WithShape(batch, inputSize),
		gorgonia.WithName("labels"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(batch, inputSize), tensor.WithBacking(labels))))

	w1 := gorgonia.NewMatrix(g, tensor.Float64,
		gorgonia.WithShape(inputSize, hiddenSize),
		gorgonia.WithName("w1"),
		gorgonia.WithValue(glorotTensor(rng, inputSize, hiddenSize)))
	b1 := gorgonia.NewMatrix(g, tensor.Float64,
		gorgonia.WithShape(1, hiddenSize),
		gorgonia.WithName("b1"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(1, hiddenSize), tensor.WithBacking(make([]float64, hiddenSize)))))
	w2 := gorgonia.NewMatrix(g, tensor.Float64,
		gorgonia.WithShape(hiddenSize, inputSize),
		gorgonia.WithName("w2"),
		gorgonia.WithValue(glorotTensor(rng, hiddenSize, inputSize)))
	b2 := gorgonia.NewMatrix(g, tensor.Float64,
		gorgonia.WithShape(1, inputSize),
		gorgonia.WithName("b2"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(1, inputSize), tensor.WithBacking(make([]float64, inputSize)))))

	hiddenLinear, err := gorgonia.Mul(inputNode, w1)
	if err != nil {
		return neuralState{}, err
	}
	hiddenBiased, err := gorgonia.BroadcastAdd(hiddenLinear, b1, nil, []byte{0})
	if err != nil {
		return neuralState{}, err
	}
	hidden, err := gorgonia.Rectify(hiddenBiased)
	if err != nil {
		return neuralState{}, err
	}
	outLinear, err := gorgonia.Mul(hidden, w2)
	if err != nil {
		return neuralState{}, err
	}
	outBiased, err := gorgonia.BroadcastAdd(outLinear, b2, nil, []byte{0})
	if err != nil {
		return neuralState{}, err
	}
	output, err := gorgonia.Sigmoid(outBiased)
	if err != nil {
		return neuralState{}, err
	}

	diff, err := gorgonia.Sub(output, labelNode)
	if err != nil {
		return neuralState{}, err
	}
	squared, err := gorgonia.Square(diff)
	if err != nil {
		return neuralState{}, err
	}
	loss, err := gorgonia.Mean(squared)
	if err != nil {
		return neuralState{}, err
	}

	trainable := gorgonia.Nodes{w1, b1, w2, b2}
	if _, err := gorgonia.Grad(loss, trainable...); err != nil {
		return neuralState{}, err
	}

	machine := gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(trainable...))
	defer machine.Close()

	solver := gorgonia.NewAdamSolver(gorgonia.WithLearnRate(params.LearningRate))
	for epoch := 0; epoch < params.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return neuralState{}, err
		}
		if err := machine.RunAll(); err != nil {
			return neuralState{}, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		if err := solver.Step(gorgonia.NodesToValueGrads(trainable)); err != nil {
			return neuralState{}, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		machine.Reset()
	}

	return neuralState{
		Trained:       true,
		InputSize:     inputSize,
		HiddenSize:    hiddenSize,
		W1:            tensorData(w1),
		B1:            tensorData(b1),
		W2:            tensorData(w2),
		B2:            tensorData(b2),
		SpecialScores: specialFrequencyScores(history, rule),
	}, nil
}

// glorotTensor is a seeded Glorot uniform initialization
func glorotTensor(rng *rand.Rand, rows, cols int) *tensor.Dense {
	limit := math.Sqrt(6.0 / float64(rows+cols))
	backing := make([]float64, rows*cols)
	for i := range backing {
		backing[i] = (rng.Float64()*2 - 1) * limit
	}
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(backing))
}

func tensorData(node *gorgonia.Node) []float64 {
	data := node.Value().Data().([]float64)
	out := make([]float64, len(data))
	copy(out, data)
	return out
}

// forward runs inference on the stored weights
func (s *neuralState) forward(input []float64) []float64 {
	hidden := make([]float64, s.HiddenSize)
	for h := 0; h < s.HiddenSize; h++ {
		sum := s.B1[h]
		for i := 0; i < s.InputSize; i++ {
			sum += input[i] * s.W1[i*s.HiddenSize+h]
		}
		if sum < 0 {
			sum = 0
		}
		hidden[h] = sum
	}

	output := make([]float64, s.InputSize)
	for o := 0; o < s.InputSize; o++ {
		sum := s.B2[o]
		for h := 0; h < s.HiddenSize; h++ {
			sum += hidden[h] * s.W2[h*s.InputSize+o]
		}
		output[o] = 1 / (1 + math.Exp(-sum))
	}
	return output
}
