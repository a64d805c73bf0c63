package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stitts-dev/lottery-engine/internal/types"
)

// ErrorResponse is the uniform error payload
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthStatus reports service and dependency health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// parseUUIDParam reads a UUID path parameter, responding 400 itself on
// malformed input
func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid " + name,
			Code:  "INVALID_REQUEST",
		})
		return uuid.Nil, err
	}
	return id, nil
}

// respondError maps engine errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	var invalidParams *types.InvalidParametersError
	switch {
	case errors.Is(err, types.ErrUnknownLotteryType),
		errors.Is(err, types.ErrUnknownAlgorithm):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "UNKNOWN_RESOURCE",
		})
	case errors.As(err, &invalidParams),
		errors.Is(err, types.ErrInvalidParameters),
		errors.Is(err, types.ErrInvalidEnsembleWeights):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_PARAMETERS",
		})
	case errors.Is(err, types.ErrInsufficientData):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: err.Error(),
			Code:  "INSUFFICIENT_DATA",
		})
	case errors.Is(err, types.ErrTrainingInProgress):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "TRAINING_IN_PROGRESS",
		})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "record not found",
			Code:  "NOT_FOUND",
		})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "INTERNAL_ERROR",
		})
	}
}
