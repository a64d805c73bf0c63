package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LotteryType identifies a supported game variant
type LotteryType string

const (
	LotterySSQ    LotteryType = "ssq"
	LotteryDLT    LotteryType = "dlt"
	LotteryFC3D   LotteryType = "fc3d"
	LotteryPL3    LotteryType = "pl3"
	LotteryPL5    LotteryType = "pl5"
	LotteryCustom LotteryType = "custom"
)

// AlgorithmType identifies a forecasting algorithm kind
type AlgorithmType string

const (
	AlgorithmStatistical  AlgorithmType = "statistical"
	AlgorithmTreeEnsemble AlgorithmType = "tree_ensemble"
	AlgorithmSequence     AlgorithmType = "sequence"
	AlgorithmTimeSeries   AlgorithmType = "time_series"
	AlgorithmNeuralNet    AlgorithmType = "neural_network"
	AlgorithmHybrid       AlgorithmType = "hybrid"
)

// DistributionKind describes how prize money is allocated for a rule set
type DistributionKind string

const (
	DistributionPariMutuel DistributionKind = "pari_mutuel"
	DistributionFixed      DistributionKind = "fixed"
)

// VerificationStatus tracks the provenance state of an ingested drawing
type VerificationStatus string

const (
	VerificationPending   VerificationStatus = "pending"
	VerificationVerified  VerificationStatus = "verified"
	VerificationFailed    VerificationStatus = "failed"
	VerificationDuplicate VerificationStatus = "duplicate"
)

// TrainingStatus tracks the lifecycle of a training job
type TrainingStatus string

const (
	TrainingPending   TrainingStatus = "pending"
	TrainingRunning   TrainingStatus = "running"
	TrainingCompleted TrainingStatus = "completed"
	TrainingFailed    TrainingStatus = "failed"
	TrainingCancelled TrainingStatus = "cancelled"
)

var trainingTransitions = map[TrainingStatus][]TrainingStatus{
	TrainingPending: {TrainingRunning, TrainingFailed, TrainingCancelled},
	TrainingRunning: {TrainingCompleted, TrainingFailed, TrainingCancelled},
}

// CanTransition reports whether a training status may advance to next.
// Transitions only move forward; terminal states never change.
func (s TrainingStatus) CanTransition(next TrainingStatus) bool {
	for _, allowed := range trainingTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions
func (s TrainingStatus) IsTerminal() bool {
	return s == TrainingCompleted || s == TrainingFailed || s == TrainingCancelled
}

// FeatureKind identifies a family of extracted features
type FeatureKind string

const (
	FeatureFrequency   FeatureKind = "frequency"
	FeatureTrend       FeatureKind = "trend"
	FeatureStatistical FeatureKind = "statistical"
	FeaturePattern     FeatureKind = "pattern"
	FeatureTemporal    FeatureKind = "temporal"
)

// AllFeatureKinds lists every feature family in extraction order
func AllFeatureKinds() []FeatureKind {
	return []FeatureKind{
		FeatureFrequency,
		FeatureTrend,
		FeatureStatistical,
		FeaturePattern,
		FeatureTemporal,
	}
}

// IntSlice stores an ordered number set as a JSON column
type IntSlice []int

func (s IntSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (s *IntSlice) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("cannot scan %T into IntSlice", value)
	}
}

// FloatSlice stores a numeric vector as a JSON column
type FloatSlice []float64

func (s FloatSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (s *FloatSlice) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("cannot scan %T into FloatSlice", value)
	}
}

// JSONMap stores loosely structured metadata as a JSON column
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
}

// PrizeTier defines one prize rank within a rule set. Lower Tier numbers
// are stricter and checked first during evaluation. Count-based tiers set
// MainMatch/SpecialMatch; digit games set DigitMatch instead.
type PrizeTier struct {
	Tier         int     `json:"tier"`
	Name         string  `json:"name"`
	MainMatch    int     `json:"main_match"`
	SpecialMatch int     `json:"special_match"`
	DigitMatch   string  `json:"digit_match,omitempty"` // "exact" or "any_order"
	FixedAmount  float64 `json:"fixed_amount,omitempty"`
}

// PrizeTierList stores an ordered tier table as a JSON column
type PrizeTierList []PrizeTier

func (l PrizeTierList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (l *PrizeTierList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan %T into PrizeTierList", value)
	}
}

// RuleSet describes one game variant. Immutable once historical data
// references it.
type RuleSet struct {
	ID                uuid.UUID        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	LotteryType       LotteryType      `gorm:"uniqueIndex;not null" json:"lottery_type"`
	DisplayName       string           `gorm:"not null" json:"display_name"`
	Category          string           `json:"category"`
	MainCount         int              `gorm:"not null" json:"main_count"`
	SpecialCount      int              `json:"special_count"`
	MainRangeStart    int              `gorm:"not null" json:"main_range_start"`
	MainRangeEnd      int              `gorm:"not null" json:"main_range_end"`
	SpecialRangeStart int              `json:"special_range_start"`
	SpecialRangeEnd   int              `json:"special_range_end"`
	Tiers             PrizeTierList    `gorm:"type:jsonb" json:"tiers"`
	Distribution      DistributionKind `gorm:"not null;default:'pari_mutuel'" json:"distribution"`
	IsActive          bool             `gorm:"default:true" json:"is_active"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// MainRangeSize returns the number of distinct main values
func (r *RuleSet) MainRangeSize() int {
	return r.MainRangeEnd - r.MainRangeStart + 1
}

// SpecialRangeSize returns the number of distinct special values
func (r *RuleSet) SpecialRangeSize() int {
	if r.SpecialCount == 0 {
		return 0
	}
	return r.SpecialRangeEnd - r.SpecialRangeStart + 1
}

// IsDigitGame reports whether numbers are positional digits rather than
// a drawn set (fc3d, pl3, pl5 style games allow repeated digits)
func (r *RuleSet) IsDigitGame() bool {
	for _, tier := range r.Tiers {
		if tier.DigitMatch != "" {
			return true
		}
	}
	return false
}

// Drawing is one realized lottery outcome, ingested by the external
// data-acquisition collaborator
type Drawing struct {
	ID                 uuid.UUID          `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	LotteryType        LotteryType        `gorm:"not null;uniqueIndex:idx_drawing_number,priority:1;uniqueIndex:idx_drawing_date,priority:1" json:"lottery_type"`
	DrawNumber         string             `gorm:"not null;uniqueIndex:idx_drawing_number,priority:2" json:"draw_number"`
	DrawDate           time.Time          `gorm:"not null;uniqueIndex:idx_drawing_date,priority:2;index" json:"draw_date"`
	WinningNumbers     IntSlice           `gorm:"type:jsonb;not null" json:"winning_numbers"`
	SpecialNumbers     IntSlice           `gorm:"type:jsonb" json:"special_numbers"`
	JackpotAmount      *float64           `json:"jackpot_amount,omitempty"`
	SalesAmount        *float64           `json:"sales_amount,omitempty"`
	DataSource         string             `gorm:"not null" json:"data_source"`
	VerificationStatus VerificationStatus `gorm:"not null;default:'pending';index" json:"verification_status"`
	Metadata           JSONMap            `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Strategy is a configured prediction strategy with running statistics
type Strategy struct {
	ID                    uuid.UUID     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name                  string        `gorm:"not null" json:"name"`
	AlgorithmType         AlgorithmType `gorm:"not null;index" json:"algorithm_type"`
	LotteryType           LotteryType   `gorm:"not null;index" json:"lottery_type"`
	Description           string        `json:"description,omitempty"`
	Parameters            JSONMap       `gorm:"type:jsonb" json:"parameters"`
	Hyperparameters       JSONMap       `gorm:"type:jsonb" json:"hyperparameters,omitempty"`
	FeatureConfig         JSONMap       `gorm:"type:jsonb" json:"feature_config,omitempty"`
	AccuracyRate          float64       `json:"accuracy_rate"`
	PrecisionRate         float64       `json:"precision_rate"`
	RecallRate            float64       `json:"recall_rate"`
	F1Score               float64       `json:"f1_score"`
	TotalPredictions      int           `json:"total_predictions"`
	SuccessfulPredictions int           `json:"successful_predictions"`
	TotalTrainingRuns     int           `json:"total_training_runs"`
	LastTrainedAt         *time.Time    `json:"last_trained_at,omitempty"`
	IsActive              bool          `gorm:"default:true" json:"is_active"`
	IsPublic              bool          `gorm:"default:false" json:"is_public"`
	IsSystem              bool          `gorm:"default:false" json:"is_system"`
	ParentStrategyID      *uuid.UUID    `gorm:"type:uuid" json:"parent_strategy_id,omitempty"`
	Version               string        `gorm:"default:'1.0'" json:"version"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// PredictionResult is one ranked prediction, resolved exactly once by the
// accuracy evaluator after the target draw is verified
type PredictionResult struct {
	ID                      uuid.UUID   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	StrategyID              uuid.UUID   `gorm:"type:uuid;not null;index" json:"strategy_id"`
	LotteryType             LotteryType `gorm:"not null;index:idx_prediction_target,priority:1" json:"lottery_type"`
	PredictedNumbers        IntSlice    `gorm:"type:jsonb;not null" json:"predicted_numbers"`
	PredictedSpecialNumbers IntSlice    `gorm:"type:jsonb" json:"predicted_special_numbers"`
	ConfidenceScores        FloatSlice  `gorm:"type:jsonb;not null" json:"confidence_scores"`
	TargetDrawDate          time.Time   `gorm:"not null;index:idx_prediction_target,priority:2" json:"target_draw_date"`
	PredictionType          string      `gorm:"default:'single'" json:"prediction_type"`
	ComputationTimeMs       int64       `json:"computation_time_ms"`
	ActualDrawID            *uuid.UUID  `gorm:"type:uuid;index" json:"actual_draw_id,omitempty"`
	AccuracyScore           *float64    `json:"accuracy_score,omitempty"`
	MatchCount              int         `json:"match_count"`
	SpecialMatchCount       int         `json:"special_match_count"`
	IsWinner                bool        `json:"is_winner"`
	PrizeTier               *int        `json:"prize_tier,omitempty"`
	PrizeAmount             *float64    `json:"prize_amount,omitempty"`
	FeatureVector           FloatSlice  `gorm:"type:jsonb" json:"feature_vector,omitempty"`
	CreatedAt               time.Time   `json:"created_at"`
	ResolvedAt              *time.Time  `json:"resolved_at,omitempty"`
}

// Resolved reports whether the accuracy evaluator has already visited
// this prediction
func (p *PredictionResult) Resolved() bool {
	return p.ActualDrawID != nil
}

// FeatureRecord is one extracted feature vector with provenance
type FeatureRecord struct {
	ID                uuid.UUID   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	LotteryType       LotteryType `gorm:"not null;index" json:"lottery_type"`
	DrawingID         *uuid.UUID  `gorm:"type:uuid" json:"drawing_id,omitempty"`
	FeatureKind       FeatureKind `gorm:"not null" json:"feature_kind"`
	FeatureName       string      `gorm:"not null" json:"feature_name"`
	FeatureData       JSONMap     `gorm:"type:jsonb" json:"feature_data,omitempty"`
	FeatureVector     FloatSlice  `gorm:"type:jsonb;not null" json:"feature_vector"`
	DataPoints        int         `json:"data_points"`
	ComputationTimeMs int64       `json:"computation_time_ms"`
	AlgorithmVersion  string      `gorm:"default:'1.0'" json:"algorithm_version"`
	CreatedAt         time.Time   `json:"created_at"`
}

// TrainingRecord captures one training job run; status transitions are
// monotonic and terminal states are never revisited
type TrainingRecord struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	StrategyID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"strategy_id"`
	TrainingDataStart  time.Time      `json:"training_data_start"`
	TrainingDataEnd    time.Time      `json:"training_data_end"`
	TrainingSamples    int            `json:"training_samples"`
	ValidationSamples  int            `json:"validation_samples"`
	TestSamples        int            `json:"test_samples"`
	ModelParameters    JSONMap        `gorm:"type:jsonb" json:"model_parameters,omitempty"`
	TrainingAccuracy   *float64       `json:"training_accuracy,omitempty"`
	ValidationAccuracy *float64       `json:"validation_accuracy,omitempty"`
	TestAccuracy       *float64       `json:"test_accuracy,omitempty"`
	TrainingLoss       *float64       `json:"training_loss,omitempty"`
	ValidationLoss     *float64       `json:"validation_loss,omitempty"`
	ArtifactHash       string         `json:"artifact_hash,omitempty"`
	ArtifactSizeBytes  int64          `json:"artifact_size_bytes,omitempty"`
	Status             TrainingStatus `gorm:"not null;default:'pending';index" json:"status"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
}
