package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the prediction engine. Callers match with errors.Is.
var (
	ErrUnknownLotteryType     = errors.New("unknown lottery type")
	ErrUnknownAlgorithm       = errors.New("unknown algorithm")
	ErrInvalidParameters      = errors.New("invalid algorithm parameters")
	ErrInvalidEnsembleWeights = errors.New("ensemble weights must sum to 1.0")
	ErrInsufficientData       = errors.New("insufficient historical data")
	ErrPredictionFailed       = errors.New("prediction failed")
	ErrTrainingFailed         = errors.New("training failed")
	ErrTrainingInProgress     = errors.New("training already in progress for strategy")
	ErrArtifactNotFound       = errors.New("model artifact not found")
	ErrCorruptArtifact        = errors.New("model artifact hash mismatch")
)

// InvalidParametersError reports which parameter failed kind-specific
// validation. Matches ErrInvalidParameters via errors.Is.
type InvalidParametersError struct {
	Field  string
	Reason string
}

func (e *InvalidParametersError) Error() string {
	return fmt.Sprintf("invalid algorithm parameters: %s: %s", e.Field, e.Reason)
}

func (e *InvalidParametersError) Is(target error) bool {
	return target == ErrInvalidParameters
}

// TrainingFailedError carries the failure reason recorded on the
// training record. Matches ErrTrainingFailed via errors.Is.
type TrainingFailedError struct {
	Reason string
	Err    error
}

func (e *TrainingFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("training failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("training failed: %s", e.Reason)
}

func (e *TrainingFailedError) Unwrap() error { return e.Err }

func (e *TrainingFailedError) Is(target error) bool {
	return target == ErrTrainingFailed
}

// NewTrainingFailed builds a TrainingFailedError with an optional cause
func NewTrainingFailed(reason string, err error) error {
	return &TrainingFailedError{Reason: reason, Err: err}
}

// StorageError is an opaque passthrough from the persistence collaborator
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// WrapStorage wraps a persistence failure, preserving the cause
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
