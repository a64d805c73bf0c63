package storage

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stitts-dev/lottery-engine/internal/types"
)

// Migrate creates or updates all engine tables
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.RuleSet{},
		&types.Drawing{},
		&types.Strategy{},
		&types.PredictionResult{},
		&types.FeatureRecord{},
		&types.TrainingRecord{},
	)
}

func lockingClause() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}
