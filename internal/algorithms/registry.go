package algorithms

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/lottery-engine/internal/types"
	"github.com/stitts-dev/lottery-engine/pkg/logger"
)

// Constructor builds an algorithm instance for a rule set from a raw
// parameter blob, validating parameters before any work begins
type Constructor func(rule *types.RuleSet, params json.RawMessage) (Algorithm, error)

// Registry maps algorithm kinds to constructors. The table is populated
// at process start; adding a kind means registering its constructor here.
type Registry struct {
	constructors map[types.AlgorithmType]Constructor
	logger       *logrus.Entry
}

// NewRegistry creates a registry with all built-in algorithm kinds
func NewRegistry() *Registry {
	r := &Registry{
		constructors: make(map[types.AlgorithmType]Constructor),
		logger:       logger.WithComponent("algorithm_registry"),
	}

	r.Register(types.AlgorithmStatistical, func(rule *types.RuleSet, params json.RawMessage) (Algorithm, error) {
		return NewStatistical(rule, params)
	})
	r.Register(types.AlgorithmTreeEnsemble, func(rule *types.RuleSet, params json.RawMessage) (Algorithm, error) {
		return NewTreeEnsemble(rule, params)
	})
	r.Register(types.AlgorithmSequence, func(rule *types.RuleSet, params json.RawMessage) (Algorithm, error) {
		return NewSequence(rule, params)
	})
	r.Register(types.AlgorithmTimeSeries, func(rule *types.RuleSet, params json.RawMessage) (Algorithm, error) {
		return NewTimeSeries(rule, params)
	})
	r.Register(types.AlgorithmNeuralNet, func(rule *types.RuleSet, params json.RawMessage) (Algorithm, error) {
		return NewNeuralNet(rule, params)
	})
	r.Register(types.AlgorithmHybrid, func(rule *types.RuleSet, params json.RawMessage) (Algorithm, error) {
		return NewHybrid(r, rule, params)
	})

	return r
}

// Register adds or replaces a constructor for a kind
func (r *Registry) Register(kind types.AlgorithmType, ctor Constructor) {
	r.constructors[kind] = ctor
}

// Create instantiates an algorithm of the given kind
func (r *Registry) Create(kind types.AlgorithmType, rule *types.RuleSet, params json.RawMessage) (Algorithm, error) {
	ctor, ok := r.constructors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownAlgorithm, kind)
	}

	algo, err := ctor(rule, params)
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"kind":         kind,
		"lottery_type": rule.LotteryType,
	}).Debug("Created algorithm instance")

	return algo, nil
}

// Kinds lists registered algorithm kinds in stable order
func (r *Registry) Kinds() []types.AlgorithmType {
	kinds := make([]types.AlgorithmType, 0, len(r.constructors))
	for kind := range r.constructors {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
