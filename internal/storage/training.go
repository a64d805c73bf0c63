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

// TrainingRepository persists training job records. Status updates go
// through the transition table so a terminal record can never move again.
type TrainingRepository struct {
	db     *gorm.DB
	logger *logrus.Entry
}

// NewTrainingRepository creates a training record repository
func NewTrainingRepository(db *gorm.DB) *TrainingRepository {
	return &TrainingRepository{
		db:     db,
		logger: logger.WithComponent("training_repository"),
	}
}

// Create inserts a new record in pending state
func (r *TrainingRepository) Create(ctx context.Context, record *types.TrainingRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.Status = types.TrainingPending

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return types.WrapStorage("create training record", err)
	}
	return nil
}

// GetByID fetches one training record
func (r *TrainingRepository) GetByID(ctx context.Context, id uuid.UUID) (*types.TrainingRecord, error) {
	var record types.TrainingRecord
	err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, types.WrapStorage("get training record", err)
	}
	return &record, nil
}

// ListByStrategy returns a strategy's training history, newest first
func (r *TrainingRepository) ListByStrategy(ctx context.Context, strategyID uuid.UUID, limit int) ([]types.TrainingRecord, error) {
	var records []types.TrainingRecord
	err := r.db.WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, types.WrapStorage("list training records", err)
	}
	return records, nil
}

// Transition moves a record to a new status, applying mutate to the
// locked row inside the same transaction. Illegal transitions are
// rejected without touching the row.
func (r *TrainingRepository) Transition(ctx context.Context, id uuid.UUID, to types.TrainingStatus, mutate func(record *types.TrainingRecord)) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record types.TrainingRecord
		if err := tx.Clauses(lockingClause()).First(&record, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			return types.WrapStorage("lock training record", err)
		}

		if !record.Status.CanTransition(to) {
			return fmt.Errorf("%w: training record %s cannot move %s -> %s",
				types.ErrTrainingFailed, id, record.Status, to)
		}

		now := time.Now()
		record.Status = to
		switch to {
		case types.TrainingRunning:
			record.StartedAt = &now
		case types.TrainingCompleted, types.TrainingFailed, types.TrainingCancelled:
			record.CompletedAt = &now
		}
		if mutate != nil {
			mutate(&record)
		}

		if err := tx.Save(&record).Error; err != nil {
			return types.WrapStorage("update training record", err)
		}

		r.logger.WithFields(logrus.Fields{
			"training_id": id,
			"status":      to,
		}).Debug("Training record transitioned")
		return nil
	})
}
