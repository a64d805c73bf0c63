package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/lottery-engine/internal/algorithms"
	"github.com/stitts-dev/lottery-engine/internal/cache"
	"github.com/stitts-dev/lottery-engine/internal/config"
	"github.com/stitts-dev/lottery-engine/internal/features"
	"github.com/stitts-dev/lottery-engine/internal/modelstore"
	"github.com/stitts-dev/lottery-engine/internal/rules"
	"github.com/stitts-dev/lottery-engine/internal/storage"
	"github.com/stitts-dev/lottery-engine/internal/types"
)

// PredictRequest is the prediction endpoint payload
type PredictRequest struct {
	LotteryType        types.LotteryType     `json:"lottery_type" binding:"required"`
	Algorithm          types.AlgorithmType   `json:"algorithm"`
	UseEnsemble        bool                  `json:"use_ensemble"`
	EnsembleAlgorithms []types.AlgorithmType `json:"ensemble_algorithms,omitempty"`
	HistoricalDays     int                   `json:"historical_days,omitempty"`
	TargetDate         string                `json:"target_date,omitempty"`
	Parameters         json.RawMessage       `json:"parameters,omitempty"`
}

// PredictResponse is the prediction endpoint result
type PredictResponse struct {
	LotteryType      types.LotteryType   `json:"lottery_type"`
	Algorithm        types.AlgorithmType `json:"algorithm"`
	Numbers          []int               `json:"numbers"`
	SpecialNumbers   []int               `json:"special_numbers,omitempty"`
	ConfidenceScores []float64           `json:"confidence_scores"`
	TargetDrawDate   time.Time           `json:"target_draw_date"`
	FromCache        bool                `json:"from_cache"`
	GeneratedAt      time.Time           `json:"generated_at"`
}

// PredictionHandler handles prediction endpoints
type PredictionHandler struct {
	rules       *rules.Registry
	algorithms  *algorithms.Registry
	extractor   *features.Extractor
	cache       *cache.PredictionCache
	drawings    *storage.DrawingRepository
	strategies  *storage.StrategyRepository
	predictions *storage.PredictionRepository
	artifacts   *modelstore.Store
	config      *config.Config
	logger      *logrus.Logger
}

// NewPredictionHandler creates a new prediction handler
func NewPredictionHandler(
	ruleRegistry *rules.Registry,
	algoRegistry *algorithms.Registry,
	extractor *features.Extractor,
	predictionCache *cache.PredictionCache,
	drawings *storage.DrawingRepository,
	strategies *storage.StrategyRepository,
	predictions *storage.PredictionRepository,
	artifacts *modelstore.Store,
	cfg *config.Config,
	logger *logrus.Logger,
) *PredictionHandler {
	return &PredictionHandler{
		rules:       ruleRegistry,
		algorithms:  algoRegistry,
		extractor:   extractor,
		cache:       predictionCache,
		drawings:    drawings,
		strategies:  strategies,
		predictions: predictions,
		artifacts:   artifacts,
		config:      cfg,
		logger:      logger,
	}
}

// PredictNumbers handles prediction requests
func (h *PredictionHandler) PredictNumbers(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request format",
			Code:  "INVALID_REQUEST",
			Details: map[string]string{
				"validation_error": err.Error(),
			},
		})
		return
	}

	kind, params, err := h.resolveAlgorithm(&req)
	if err != nil {
		respondError(c, err)
		return
	}

	rule, err := h.rules.Get(req.LotteryType)
	if err != nil {
		respondError(c, err)
		return
	}

	targetDate, err := h.resolveTargetDate(req.TargetDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid target date, expected YYYY-MM-DD",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	windowDays := req.HistoricalDays
	if windowDays <= 0 {
		windowDays = h.config.DefaultHistoricalDays
	}

	key := cache.Key(req.LotteryType, kind, targetDate, windowDays, params)
	cached, hit, err := h.cache.GetOrCompute(c.Request.Context(), key, 1, func(ctx context.Context) (*cache.CachedPrediction, error) {
		return h.compute(ctx, rule, kind, params, windowDays, targetDate)
	})
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"lottery_type": req.LotteryType,
			"algorithm":    kind,
		}).Error("Prediction failed")
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, PredictResponse{
		LotteryType:      req.LotteryType,
		Algorithm:        kind,
		Numbers:          cached.Numbers,
		SpecialNumbers:   cached.SpecialNumbers,
		ConfidenceScores: cached.ConfidenceScores,
		TargetDrawDate:   targetDate,
		FromCache:        hit,
		GeneratedAt:      cached.GeneratedAt,
	})
}

// GetPredictionHistory returns a strategy's past predictions
func (h *PredictionHandler) GetPredictionHistory(c *gin.Context) {
	strategyID, err := parseUUIDParam(c, "strategy_id")
	if err != nil {
		return
	}

	limit := parseLimit(c, 50)
	predictions, err := h.predictions.ListByStrategy(c.Request.Context(), strategyID, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"strategy_id": strategyID,
		"predictions": predictions,
		"count":       len(predictions),
	})
}

// compute runs the full prediction pipeline: window load, feature
// extraction, model restore, predict, durable write
func (h *PredictionHandler) compute(ctx context.Context, rule *types.RuleSet, kind types.AlgorithmType, params json.RawMessage, historicalDays int, targetDate time.Time) (*cache.CachedPrediction, error) {
	started := time.Now()

	if historicalDays <= 0 {
		historicalDays = h.config.DefaultHistoricalDays
	}
	windowStart := time.Now().AddDate(0, 0, -historicalDays)

	history, err := h.drawings.DrawingsBefore(ctx, rule.LotteryType, time.Now(), maxPredictionWindow)
	if err != nil {
		return nil, err
	}
	ascending := make([]types.Drawing, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].DrawDate.Before(windowStart) {
			ascending = append(ascending, history[i])
		}
	}
	if len(ascending) < h.config.MinTrainingSamples {
		return nil, fmt.Errorf("%w: have %d drawings in window, need at least %d",
			types.ErrInsufficientData, len(ascending), h.config.MinTrainingSamples)
	}

	featureRecords, err := h.extractor.Extract(ctx, rule.LotteryType, time.Now(), len(ascending), types.AllFeatureKinds())
	if err != nil {
		return nil, err
	}

	algo, err := h.algorithms.Create(kind, rule, params)
	if err != nil {
		return nil, err
	}

	strategy, err := h.systemStrategy(ctx, rule.LotteryType, kind, params)
	if err != nil {
		return nil, err
	}

	// A trained artifact is an upgrade, not a requirement; algorithms
	// fall back to fitting the window directly
	if _, blob, err := h.artifacts.LatestForStrategy(strategy.ID.String()); err == nil {
		if err := algo.Deserialize(blob); err != nil {
			h.logger.WithError(err).WithField("strategy_id", strategy.ID).
				Warn("Stored model artifact unusable, predicting untrained")
		}
	}

	prediction, err := algo.Predict(ctx, &algorithms.PredictionInput{
		Rule:       rule,
		History:    ascending,
		Features:   features.Concat(featureRecords),
		TargetDate: targetDate,
	})
	if err != nil {
		return nil, err
	}

	result := &types.PredictionResult{
		StrategyID:              strategy.ID,
		LotteryType:             rule.LotteryType,
		PredictedNumbers:        prediction.Numbers,
		PredictedSpecialNumbers: prediction.SpecialNumbers,
		ConfidenceScores:        prediction.ConfidenceScores,
		TargetDrawDate:          targetDate,
		ComputationTimeMs:       time.Since(started).Milliseconds(),
		FeatureVector:           features.Concat(featureRecords),
	}
	if err := h.predictions.Create(ctx, result); err != nil {
		// The prediction is only real once it is durable
		return nil, err
	}

	return &cache.CachedPrediction{
		Numbers:          prediction.Numbers,
		SpecialNumbers:   prediction.SpecialNumbers,
		ConfidenceScores: prediction.ConfidenceScores,
		Algorithm:        string(kind),
		GeneratedAt:      started,
	}, nil
}

// maxPredictionWindow caps how many drawings one prediction will load
const maxPredictionWindow = 2000

func (h *PredictionHandler) resolveAlgorithm(req *PredictRequest) (types.AlgorithmType, json.RawMessage, error) {
	if !req.UseEnsemble {
		kind := req.Algorithm
		if kind == "" {
			kind = types.AlgorithmStatistical
		}
		return kind, req.Parameters, nil
	}

	members := req.EnsembleAlgorithms
	if len(members) == 0 {
		// Ensemble defaults live in the hybrid parameter struct
		return types.AlgorithmHybrid, nil, nil
	}

	weight := 1.0 / float64(len(members))
	params := algorithms.HybridParams{Members: make([]algorithms.HybridMember, 0, len(members))}
	for _, kind := range members {
		params.Members = append(params.Members, algorithms.HybridMember{Kind: kind, Weight: weight})
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", nil, err
	}
	return types.AlgorithmHybrid, raw, nil
}

func (h *PredictionHandler) resolveTargetDate(raw string) (time.Time, error) {
	if raw == "" {
		tomorrow := time.Now().AddDate(0, 0, 1)
		return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Parse("2006-01-02", raw)
}

// systemStrategy finds or creates the built-in strategy row that anchors
// ad hoc predictions for a (type, algorithm) pair
func (h *PredictionHandler) systemStrategy(ctx context.Context, lotteryType types.LotteryType, kind types.AlgorithmType, params json.RawMessage) (*types.Strategy, error) {
	existing, err := h.strategies.List(ctx, lotteryType)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].IsSystem && existing[i].AlgorithmType == kind {
			return &existing[i], nil
		}
	}

	var paramMap types.JSONMap
	if len(params) > 0 {
		if err := json.Unmarshal(params, &paramMap); err != nil {
			return nil, &types.InvalidParametersError{Field: "parameters", Reason: "must be a JSON object"}
		}
	}

	strategy := &types.Strategy{
		Name:          fmt.Sprintf("system/%s/%s", lotteryType, kind),
		AlgorithmType: kind,
		LotteryType:   lotteryType,
		Description:   "Built-in strategy for ad hoc predictions",
		Parameters:    paramMap,
		IsActive:      true,
		IsSystem:      true,
	}
	if err := h.strategies.Create(ctx, strategy); err != nil {
		// Lost a creation race; the winner's row serves
		if again, lookupErr := h.strategies.List(ctx, lotteryType); lookupErr == nil {
			for i := range again {
				if again[i].IsSystem && again[i].AlgorithmType == kind {
					return &again[i], nil
				}
			}
		}
		return nil, err
	}
	return strategy, nil
}

func parseLimit(c *gin.Context, fallback int) int {
	limit := fallback
	if raw := c.Query("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit < 1 {
			limit = fallback
		}
	}
	return limit
}
