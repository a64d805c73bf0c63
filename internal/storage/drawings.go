package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stitts-dev/lottery-engine/internal/types"
	"github.com/stitts-dev/lottery-engine/pkg/logger"
)

// DrawingRepository persists and queries historical drawings
type DrawingRepository struct {
	db     *gorm.DB
	logger *logrus.Entry
}

// NewDrawingRepository creates a drawing repository
func NewDrawingRepository(db *gorm.DB) *DrawingRepository {
	return &DrawingRepository{
		db:     db,
		logger: logger.WithComponent("drawing_repository"),
	}
}

// Create inserts a drawing. Re-ingesting the same draw number for a type
// updates the existing row instead of duplicating it.
func (r *DrawingRepository) Create(ctx context.Context, drawing *types.Drawing) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "lottery_type"}, {Name: "draw_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"winning_numbers", "special_numbers", "jackpot_amount",
			"sales_amount", "data_source", "verification_status", "metadata", "updated_at",
		}),
	}).Create(drawing).Error
	if err != nil {
		return types.WrapStorage("create drawing", err)
	}

	r.logger.WithFields(logrus.Fields{
		"lottery_type": drawing.LotteryType,
		"draw_number":  drawing.DrawNumber,
	}).Debug("Stored drawing")
	return nil
}

// GetByID fetches one drawing
func (r *DrawingRepository) GetByID(ctx context.Context, id uuid.UUID) (*types.Drawing, error) {
	var drawing types.Drawing
	err := r.db.WithContext(ctx).First(&drawing, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, types.WrapStorage("get drawing", err)
	}
	return &drawing, nil
}

// GetByDate fetches the drawing for a type on a calendar date
func (r *DrawingRepository) GetByDate(ctx context.Context, lotteryType types.LotteryType, date time.Time) (*types.Drawing, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	var drawing types.Drawing
	err := r.db.WithContext(ctx).
		Where("lottery_type = ? AND draw_date >= ? AND draw_date < ?", lotteryType, dayStart, dayEnd).
		First(&drawing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, types.WrapStorage("get drawing by date", err)
	}
	return &drawing, nil
}

// DrawingsBefore returns up to limit verified drawings strictly before
// the cutoff, newest first
func (r *DrawingRepository) DrawingsBefore(ctx context.Context, lotteryType types.LotteryType, before time.Time, limit int) ([]types.Drawing, error) {
	var drawings []types.Drawing
	err := r.db.WithContext(ctx).
		Where("lottery_type = ? AND draw_date < ? AND verification_status = ?",
			lotteryType, before, types.VerificationVerified).
		Order("draw_date DESC").
		Limit(limit).
		Find(&drawings).Error
	if err != nil {
		return nil, types.WrapStorage("list drawings before", err)
	}
	return drawings, nil
}

// ListRecent returns the latest drawings for a type, newest first
func (r *DrawingRepository) ListRecent(ctx context.Context, lotteryType types.LotteryType, limit int) ([]types.Drawing, error) {
	var drawings []types.Drawing
	err := r.db.WithContext(ctx).
		Where("lottery_type = ?", lotteryType).
		Order("draw_date DESC").
		Limit(limit).
		Find(&drawings).Error
	if err != nil {
		return nil, types.WrapStorage("list recent drawings", err)
	}
	return drawings, nil
}

// CountVerified reports how many verified drawings exist for a type
func (r *DrawingRepository) CountVerified(ctx context.Context, lotteryType types.LotteryType) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&types.Drawing{}).
		Where("lottery_type = ? AND verification_status = ?", lotteryType, types.VerificationVerified).
		Count(&count).Error
	if err != nil {
		return 0, types.WrapStorage("count drawings", err)
	}
	return count, nil
}

// UpdateVerification moves a drawing to a new verification status
func (r *DrawingRepository) UpdateVerification(ctx context.Context, id uuid.UUID, status types.VerificationStatus) error {
	result := r.db.WithContext(ctx).Model(&types.Drawing{}).
		Where("id = ?", id).
		Update("verification_status", status)
	if result.Error != nil {
		return types.WrapStorage("update verification", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
