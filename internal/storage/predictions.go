package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/stitts-dev/lottery-engine/internal/types"
	"github.com/stitts-dev/lottery-engine/pkg/logger"
)

// PredictionRepository persists prediction results and their resolution
type PredictionRepository struct {
	db     *gorm.DB
	logger *logrus.Entry
}

// NewPredictionRepository creates a prediction repository
func NewPredictionRepository(db *gorm.DB) *PredictionRepository {
	return &PredictionRepository{
		db:     db,
		logger: logger.WithComponent("prediction_repository"),
	}
}

// Create inserts a prediction. The confidence vector must carry one
// score per predicted number; malformed rows are rejected before they
// reach the database.
func (r *PredictionRepository) Create(ctx context.Context, prediction *types.PredictionResult) error {
	want := len(prediction.PredictedNumbers) + len(prediction.PredictedSpecialNumbers)
	if len(prediction.ConfidenceScores) != want {
		return fmt.Errorf("%w: %d confidence scores for %d predicted numbers",
			types.ErrPredictionFailed, len(prediction.ConfidenceScores), want)
	}

	if err := r.db.WithContext(ctx).Create(prediction).Error; err != nil {
		return types.WrapStorage("create prediction", err)
	}
	return nil
}

// GetByID fetches one prediction
func (r *PredictionRepository) GetByID(ctx context.Context, id uuid.UUID) (*types.PredictionResult, error) {
	var prediction types.PredictionResult
	err := r.db.WithContext(ctx).First(&prediction, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, types.WrapStorage("get prediction", err)
	}
	return &prediction, nil
}

// ListByStrategy returns a strategy's predictions, newest first
func (r *PredictionRepository) ListByStrategy(ctx context.Context, strategyID uuid.UUID, limit int) ([]types.PredictionResult, error) {
	var predictions []types.PredictionResult
	err := r.db.WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Order("created_at DESC").
		Limit(limit).
		Find(&predictions).Error
	if err != nil {
		return nil, types.WrapStorage("list predictions", err)
	}
	return predictions, nil
}

// UnresolvedByTarget returns predictions that targeted the given type and
// calendar date and have not been resolved yet
func (r *PredictionRepository) UnresolvedByTarget(ctx context.Context, lotteryType types.LotteryType, targetDate time.Time) ([]types.PredictionResult, error) {
	dayStart := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	var predictions []types.PredictionResult
	err := r.db.WithContext(ctx).
		Where("lottery_type = ? AND target_draw_date >= ? AND target_draw_date < ? AND actual_draw_id IS NULL",
			lotteryType, dayStart, dayEnd).
		Order("created_at").
		Find(&predictions).Error
	if err != nil {
		return nil, types.WrapStorage("list unresolved predictions", err)
	}
	return predictions, nil
}

// Resolve writes the evaluator's verdict for one prediction and reports
// whether the row was actually updated. The update only lands while the
// row is still unresolved, so a concurrent evaluator pass cannot resolve
// a prediction twice.
func (r *PredictionRepository) Resolve(ctx context.Context, prediction *types.PredictionResult) (bool, error) {
	now := time.Now()
	prediction.ResolvedAt = &now

	result := r.db.WithContext(ctx).Model(&types.PredictionResult{}).
		Where("id = ? AND actual_draw_id IS NULL", prediction.ID).
		Updates(map[string]interface{}{
			"actual_draw_id":      prediction.ActualDrawID,
			"accuracy_score":      prediction.AccuracyScore,
			"match_count":         prediction.MatchCount,
			"special_match_count": prediction.SpecialMatchCount,
			"is_winner":           prediction.IsWinner,
			"prize_tier":          prediction.PrizeTier,
			"prize_amount":        prediction.PrizeAmount,
			"resolved_at":         prediction.ResolvedAt,
		})
	if result.Error != nil {
		return false, types.WrapStorage("resolve prediction", result.Error)
	}
	if result.RowsAffected == 0 {
		r.logger.WithField("prediction_id", prediction.ID).Debug("Prediction already resolved, skipping")
		return false, nil
	}

	r.logger.WithFields(logrus.Fields{
		"prediction_id": prediction.ID,
		"match_count":   prediction.MatchCount,
		"is_winner":     prediction.IsWinner,
	}).Info("Resolved prediction")
	return true, nil
}
