package algorithms

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/stitts-dev/lottery-engine/internal/types"
)

// featureCount is the per-number feature row width used by the forest
const forestFeatureCount = 5

// forestWarmup is the number of leading drawings consumed before the
// first training row can be formed
const forestWarmup = 10

// TreeEnsemble is a random-forest style regressor: each tree fits the
// next-draw appearance probability of a number from its frequency, gap
// and trend features. The forest averages tree outputs into a score.
// All randomness flows from the seed parameter so results reproduce.
type TreeEnsemble struct {
	rule   *types.RuleSet
	params TreeEnsembleParams
	state  forestState
}

type forestState struct {
	Trained       bool            `json:"trained"`
	Trees         []*treeNode     `json:"trees"`
	SpecialScores map[int]float64 `json:"special_scores,omitempty"`
}

// treeNode is one regression tree node. Leaf nodes carry the mean target.
type treeNode struct {
	Leaf      bool      `json:"leaf"`
	Value     float64   `json:"value,omitempty"`
	Feature   int       `json:"feature,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Left      *treeNode `json:"left,omitempty"`
	Right     *treeNode `json:"right,omitempty"`
}

// NewTreeEnsemble builds a tree ensemble, validating parameters
func NewTreeEnsemble(rule *types.RuleSet, raw json.RawMessage) (*TreeEnsemble, error) {
	params := defaultTreeEnsembleParams()
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &TreeEnsemble{rule: rule, params: params}, nil
}

func (f *TreeEnsemble) Name() string              { return "Tree Ensemble" }
func (f *TreeEnsemble) Kind() types.AlgorithmType { return types.AlgorithmTreeEnsemble }

func (f *TreeEnsemble) Predict(ctx context.Context, input *PredictionInput) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state := f.state
	if !state.Trained {
		if len(input.History) <= forestWarmup {
			return nil, fmt.Errorf("%w: need more than %d drawings", types.ErrPredictionFailed, forestWarmup)
		}
		fitted, err := fitForest(ctx, input.History, f.rule, f.params)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrPredictionFailed, err)
		}
		state = fitted
	}

	scores := make(map[int]float64, f.rule.MainRangeSize())
	for n := f.rule.MainRangeStart; n <= f.rule.MainRangeEnd; n++ {
		row := forestFeatures(input.History, f.rule, n)
		scores[n] = forestScore(state.Trees, row)
	}

	numbers := selectByScore(scores, f.rule.MainCount)
	confidences := confidencesFor(scores, numbers)

	var specials []int
	if f.rule.SpecialCount > 0 {
		specialScores := state.SpecialScores
		if len(specialScores) == 0 {
			specialScores = specialFrequencyScores(input.History, f.rule)
		}
		if len(specialScores) == 0 {
			specialScores = uniformSpecialScores(f.rule)
		}
		specials = selectByScore(specialScores, f.rule.SpecialCount)
		confidences = append(confidences, confidencesFor(specialScores, specials)...)
	}

	prediction := &Prediction{
		Numbers:          numbers,
		SpecialNumbers:   specials,
		ConfidenceScores: confidences,
	}
	if err := validatePrediction(prediction, f.rule); err != nil {
		return nil, err
	}
	return prediction, nil
}

func (f *TreeEnsemble) Train(ctx context.Context, data *TrainingSet) (*TrainingMetrics, error) {
	if len(data.Train) < f.params.MinSamples {
		return nil, types.NewTrainingFailed(
			fmt.Sprintf("have %d samples, need at least %d", len(data.Train), f.params.MinSamples),
			types.ErrInsufficientData,
		)
	}

	state, err := fitForest(ctx, data.Train, f.rule, f.params)
	if err != nil {
		return nil, types.NewTrainingFailed("forest fit failed", err)
	}
	f.state = state

	scores := make(map[int]float64, f.rule.MainRangeSize())
	for n := f.rule.MainRangeStart; n <= f.rule.MainRangeEnd; n++ {
		row := forestFeatures(data.Train, f.rule, n)
		scores[n] = forestScore(f.state.Trees, row)
	}
	trainAcc := holdoutAccuracy(f.rule, data.Train, scores)
	valAcc := holdoutAccuracy(f.rule, data.Validation, scores)

	return &TrainingMetrics{
		TrainAccuracy:      trainAcc,
		TrainLoss:          1 - trainAcc,
		ValidationAccuracy: valAcc,
		ValidationLoss:     1 - valAcc,
		SampleCount:        len(data.Train),
	}, nil
}

func (f *TreeEnsemble) Serialize() ([]byte, error) {
	return json.Marshal(f.state)
}

func (f *TreeEnsemble) Deserialize(data []byte) error {
	var state forestState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to deserialize tree ensemble: %w", err)
	}
	f.state = state
	return nil
}

// forestFeatures builds one feature row for a number from its trailing
// context: normalized frequency, gap since last seen, recent-vs-older
// frequency delta, parity, relative position in range
func forestFeatures(context []types.Drawing, rule *types.RuleSet, number int) []float64 {
	row := make([]float64, forestFeatureCount)
	if len(context) == 0 {
		return row
	}

	appearances := 0
	lastSeen := -1
	recentLen := len(context) / 5
	if recentLen < 1 {
		recentLen = 1
	}
	recentCount, olderCount := 0.0, 0.0
	for i, d := range context {
		for _, n := range d.WinningNumbers {
			if n == number {
				appearances++
				lastSeen = i
				if i >= len(context)-recentLen {
					recentCount++
				} else {
					olderCount++
				}
				break
			}
		}
	}

	total := float64(len(context))
	row[0] = float64(appearances) / total
	if lastSeen < 0 {
		row[1] = 1
	} else {
		row[1] = float64(len(context)-1-lastSeen) / total
	}
	row[2] = recentCount/float64(recentLen) - olderCount/(total-float64(recentLen)+1)
	row[3] = float64(number % 2)
	row[4] = float64(number-rule.MainRangeStart) / float64(rule.MainRangeSize())
	return row
}

func fitForest(ctx context.Context, history []types.Drawing, rule *types.RuleSet, params TreeEnsembleParams) (forestState, error) {
	if len(history) <= forestWarmup {
		return forestState{}, fmt.Errorf("window too small: %d drawings", len(history))
	}

	// Sliding rows: features from the prefix, target from the next draw
	var rows [][]float64
	var targets []float64
	for i := forestWarmup; i < len(history); i++ {
		drawn := make(map[int]bool, len(history[i].WinningNumbers))
		for _, n := range history[i].WinningNumbers {
			drawn[n] = true
		}
		for n := rule.MainRangeStart; n <= rule.MainRangeEnd; n++ {
			rows = append(rows, forestFeatures(history[:i], rule, n))
			if drawn[n] {
				targets = append(targets, 1)
			} else {
				targets = append(targets, 0)
			}
		}
	}

	rng := rand.New(rand.NewSource(params.Seed))
	trees := make([]*treeNode, 0, params.TreeCount)
	for t := 0; t < params.TreeCount; t++ {
		if err := ctx.Err(); err != nil {
			return forestState{}, err
		}
		// Bootstrap sample
		sampleRows := make([][]float64, len(rows))
		sampleTargets := make([]float64, len(rows))
		for i := range rows {
			j := rng.Intn(len(rows))
			sampleRows[i] = rows[j]
			sampleTargets[i] = targets[j]
		}
		trees = append(trees, buildTree(sampleRows, sampleTargets, params.MaxDepth, rng))
	}

	return forestState{
		Trained:       true,
		Trees:         trees,
		SpecialScores: specialFrequencyScores(history, rule),
	}, nil
}

func buildTree(rows [][]float64, targets []float64, depth int, rng *rand.Rand) *treeNode {
	if depth == 0 || len(rows) < 8 || isUniform(targets) {
		return &treeNode{Leaf: true, Value: meanFloat(targets)}
	}

	bestFeature, bestThreshold, bestScore := -1, 0.0, -1.0
	// Random feature subset, sqrt-style
	candidates := rng.Perm(forestFeatureCount)[:3]
	for _, feature := range candidates {
		for trial := 0; trial < 4; trial++ {
			pivot := rows[rng.Intn(len(rows))][feature]
			gain := splitGain(rows, targets, feature, pivot)
			if gain > bestScore {
				bestFeature, bestThreshold, bestScore = feature, pivot, gain
			}
		}
	}
	if bestFeature < 0 || bestScore <= 0 {
		return &treeNode{Leaf: true, Value: meanFloat(targets)}
	}

	var leftRows, rightRows [][]float64
	var leftTargets, rightTargets []float64
	for i, row := range rows {
		if row[bestFeature] <= bestThreshold {
			leftRows = append(leftRows, row)
			leftTargets = append(leftTargets, targets[i])
		} else {
			rightRows = append(rightRows, row)
			rightTargets = append(rightTargets, targets[i])
		}
	}
	if len(leftRows) == 0 || len(rightRows) == 0 {
		return &treeNode{Leaf: true, Value: meanFloat(targets)}
	}

	return &treeNode{
		Feature:   bestFeature,
		Threshold: bestThreshold,
		Left:      buildTree(leftRows, leftTargets, depth-1, rng),
		Right:     buildTree(rightRows, rightTargets, depth-1, rng),
	}
}

// splitGain is the variance reduction achieved by splitting on
// feature <= threshold
func splitGain(rows [][]float64, targets []float64, feature int, threshold float64) float64 {
	var left, right []float64
	for i, row := range rows {
		if row[feature] <= threshold {
			left = append(left, targets[i])
		} else {
			right = append(right, targets[i])
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return -1
	}

	total := float64(len(targets))
	return variance(targets) -
		(float64(len(left))/total)*variance(left) -
		(float64(len(right))/total)*variance(right)
}

func (n *treeNode) eval(row []float64) float64 {
	if n.Leaf {
		return n.Value
	}
	if row[n.Feature] <= n.Threshold {
		return n.Left.eval(row)
	}
	return n.Right.eval(row)
}

func forestScore(trees []*treeNode, row []float64) float64 {
	if len(trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, tree := range trees {
		sum += tree.eval(row)
	}
	return sum / float64(len(trees))
}

func meanFloat(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := meanFloat(values)
	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	return sum / float64(len(values))
}

func isUniform(values []float64) bool {
	for i := 1; i < len(values); i++ {
		if values[i] != values[0] {
			return false
		}
	}
	return true
}
