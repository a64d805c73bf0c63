package storage

import (
	"context"

	"gorm.io/gorm"

	"github.com/stitts-dev/lottery-engine/internal/types"
)

// FeatureRepository persists extracted feature vectors for audit and
// reuse
type FeatureRepository struct {
	db *gorm.DB
}

// NewFeatureRepository creates a feature record repository
func NewFeatureRepository(db *gorm.DB) *FeatureRepository {
	return &FeatureRepository{db: db}
}

// CreateBatch stores a set of feature records from one extraction pass
func (r *FeatureRepository) CreateBatch(ctx context.Context, records []types.FeatureRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&records).Error; err != nil {
		return types.WrapStorage("create feature records", err)
	}
	return nil
}

// ListByType returns recent feature records for a lottery type
func (r *FeatureRepository) ListByType(ctx context.Context, lotteryType types.LotteryType, limit int) ([]types.FeatureRecord, error) {
	var records []types.FeatureRecord
	err := r.db.WithContext(ctx).
		Where("lottery_type = ?", lotteryType).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, types.WrapStorage("list feature records", err)
	}
	return records, nil
}
