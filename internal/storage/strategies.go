package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/stitts-dev/lottery-engine/internal/types"
	"github.com/stitts-dev/lottery-engine/pkg/logger"
)

// StrategyRepository persists prediction strategies and their running
// accuracy statistics
type StrategyRepository struct {
	db     *gorm.DB
	logger *logrus.Entry
}

// NewStrategyRepository creates a strategy repository
func NewStrategyRepository(db *gorm.DB) *StrategyRepository {
	return &StrategyRepository{
		db:     db,
		logger: logger.WithComponent("strategy_repository"),
	}
}

// Create inserts a strategy
func (r *StrategyRepository) Create(ctx context.Context, strategy *types.Strategy) error {
	if err := r.db.WithContext(ctx).Create(strategy).Error; err != nil {
		return types.WrapStorage("create strategy", err)
	}
	return nil
}

// GetByID fetches one strategy
func (r *StrategyRepository) GetByID(ctx context.Context, id uuid.UUID) (*types.Strategy, error) {
	var strategy types.Strategy
	err := r.db.WithContext(ctx).First(&strategy, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, types.WrapStorage("get strategy", err)
	}
	return &strategy, nil
}

// List returns active strategies, optionally filtered by lottery type
func (r *StrategyRepository) List(ctx context.Context, lotteryType types.LotteryType) ([]types.Strategy, error) {
	query := r.db.WithContext(ctx).Where("is_active = ?", true)
	if lotteryType != "" {
		query = query.Where("lottery_type = ?", lotteryType)
	}

	var strategies []types.Strategy
	if err := query.Order("created_at").Find(&strategies).Error; err != nil {
		return nil, types.WrapStorage("list strategies", err)
	}
	return strategies, nil
}

// Update persists strategy field changes
func (r *StrategyRepository) Update(ctx context.Context, strategy *types.Strategy) error {
	if err := r.db.WithContext(ctx).Save(strategy).Error; err != nil {
		return types.WrapStorage("update strategy", err)
	}
	return nil
}

// Deactivate soft-deletes a strategy so past predictions keep their
// reference
func (r *StrategyRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Model(&types.Strategy{}).
		Where("id = ?", id).
		Update("is_active", false)
	if result.Error != nil {
		return types.WrapStorage("deactivate strategy", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RecordTrainingSuccess folds one completed run into the strategy rolling
// averages. The update runs in a transaction against the current row so
// concurrent completions do not clobber each other.
func (r *StrategyRepository) RecordTrainingSuccess(ctx context.Context, id uuid.UUID, accuracy float64, trainedAt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var strategy types.Strategy
		if err := tx.Clauses(lockingClause()).First(&strategy, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			return types.WrapStorage("lock strategy", err)
		}

		runs := float64(strategy.TotalTrainingRuns)
		strategy.AccuracyRate = (strategy.AccuracyRate*runs + accuracy) / (runs + 1)
		strategy.TotalTrainingRuns++
		strategy.LastTrainedAt = &trainedAt

		if err := tx.Save(&strategy).Error; err != nil {
			return types.WrapStorage("update strategy stats", err)
		}
		return nil
	})
}

// RecordPredictionOutcome folds one resolved prediction into the
// prediction counters
func (r *StrategyRepository) RecordPredictionOutcome(ctx context.Context, id uuid.UUID, won bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var strategy types.Strategy
		if err := tx.Clauses(lockingClause()).First(&strategy, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			return types.WrapStorage("lock strategy", err)
		}

		strategy.TotalPredictions++
		if won {
			strategy.SuccessfulPredictions++
		}

		if err := tx.Save(&strategy).Error; err != nil {
			return types.WrapStorage("update prediction counters", err)
		}

		r.logger.WithFields(logrus.Fields{
			"strategy_id": id,
			"won":         won,
		}).Debug("Recorded prediction outcome")
		return nil
	})
}
