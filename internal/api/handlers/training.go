package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/lottery-engine/internal/config"
	"github.com/stitts-dev/lottery-engine/internal/storage"
	"github.com/stitts-dev/lottery-engine/internal/training"
	"github.com/stitts-dev/lottery-engine/internal/types"
)

// trainPollInterval is how often the synchronous train endpoint checks
// job records for completion
const trainPollInterval = 250 * time.Millisecond

// TrainRequest is the training endpoint payload
type TrainRequest struct {
	LotteryType    types.LotteryType     `json:"lottery_type" binding:"required"`
	Algorithms     []types.AlgorithmType `json:"algorithms" binding:"required,min=1"`
	HistoricalDays int                   `json:"historical_days,omitempty"`
	Async          bool                  `json:"async,omitempty"`
}

// TrainJobResult reports one algorithm's training outcome
type TrainJobResult struct {
	Algorithm  types.AlgorithmType  `json:"algorithm"`
	TrainingID uuid.UUID            `json:"training_id"`
	Status     types.TrainingStatus `json:"status"`
	Accuracy   *float64             `json:"accuracy,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// TrainingHandler handles training endpoints
type TrainingHandler struct {
	orchestrator *training.Orchestrator
	strategies   *storage.StrategyRepository
	records      *storage.TrainingRepository
	config       *config.Config
	logger       *logrus.Logger
}

// NewTrainingHandler creates a new training handler
func NewTrainingHandler(
	orchestrator *training.Orchestrator,
	strategies *storage.StrategyRepository,
	records *storage.TrainingRepository,
	cfg *config.Config,
	logger *logrus.Logger,
) *TrainingHandler {
	return &TrainingHandler{
		orchestrator: orchestrator,
		strategies:   strategies,
		records:      records,
		config:       cfg,
		logger:       logger,
	}
}

// TrainAlgorithms submits one training job per requested algorithm. By
// default the call waits for the jobs and returns per-algorithm
// accuracies; async submissions return the job IDs immediately.
func (h *TrainingHandler) TrainAlgorithms(c *gin.Context) {
	var req TrainRequest
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

	results := make([]TrainJobResult, 0, len(req.Algorithms))
	for _, kind := range req.Algorithms {
		strategy, err := h.trainingStrategy(c.Request.Context(), req.LotteryType, kind)
		if err != nil {
			respondError(c, err)
			return
		}

		record, err := h.orchestrator.Submit(c.Request.Context(), training.Request{
			StrategyID: strategy.ID,
			WindowDays: req.HistoricalDays,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		results = append(results, TrainJobResult{
			Algorithm:  kind,
			TrainingID: record.ID,
			Status:     types.TrainingPending,
		})
	}

	if req.Async {
		c.JSON(http.StatusAccepted, gin.H{
			"lottery_type": req.LotteryType,
			"jobs":         results,
		})
		return
	}

	h.awaitJobs(c.Request.Context(), results)
	c.JSON(http.StatusOK, gin.H{
		"lottery_type": req.LotteryType,
		"jobs":         results,
	})
}

// GetTrainingRecord returns one training job record
func (h *TrainingHandler) GetTrainingRecord(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		return
	}

	record, err := h.records.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetTrainingHistory returns a strategy's training runs
func (h *TrainingHandler) GetTrainingHistory(c *gin.Context) {
	strategyID, err := parseUUIDParam(c, "strategy_id")
	if err != nil {
		return
	}

	records, err := h.records.ListByStrategy(c.Request.Context(), strategyID, parseLimit(c, 20))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"strategy_id": strategyID,
		"records":     records,
		"count":       len(records),
	})
}

// CancelTraining cancels a strategy's in-flight job
func (h *TrainingHandler) CancelTraining(c *gin.Context) {
	strategyID, err := parseUUIDParam(c, "strategy_id")
	if err != nil {
		return
	}

	if !h.orchestrator.Cancel(strategyID) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "no training in flight for strategy",
			Code:  "NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"strategy_id": strategyID, "status": "cancelling"})
}

// awaitJobs polls job records until every job reaches a terminal state
// or the request context ends
func (h *TrainingHandler) awaitJobs(ctx context.Context, results []TrainJobResult) {
	ticker := time.NewTicker(trainPollInterval)
	defer ticker.Stop()

	remaining := len(results)
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for i := range results {
			if results[i].Status.IsTerminal() {
				continue
			}
			record, err := h.records.GetByID(ctx, results[i].TrainingID)
			if err != nil {
				h.logger.WithError(err).WithField("training_id", results[i].TrainingID).
					Warn("Failed to poll training record")
				continue
			}
			results[i].Status = record.Status
			if record.Status.IsTerminal() {
				remaining--
				results[i].Accuracy = record.ValidationAccuracy
				results[i].Error = record.ErrorMessage
			}
		}
	}
}

// trainingStrategy finds or creates the system strategy trained for a
// (type, algorithm) pair
func (h *TrainingHandler) trainingStrategy(ctx context.Context, lotteryType types.LotteryType, kind types.AlgorithmType) (*types.Strategy, error) {
	existing, err := h.strategies.List(ctx, lotteryType)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].IsSystem && existing[i].AlgorithmType == kind {
			return &existing[i], nil
		}
	}

	strategy := &types.Strategy{
		Name:          "system/" + string(lotteryType) + "/" + string(kind),
		AlgorithmType: kind,
		LotteryType:   lotteryType,
		Description:   "Built-in strategy for ad hoc predictions",
		IsActive:      true,
		IsSystem:      true,
	}
	if err := h.strategies.Create(ctx, strategy); err != nil {
		return nil, err
	}
	return strategy, nil
}
