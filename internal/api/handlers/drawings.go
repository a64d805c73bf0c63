package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/lottery-engine/internal/evaluator"
	"github.com/stitts-dev/lottery-engine/internal/rules"
	"github.com/stitts-dev/lottery-engine/internal/storage"
	"github.com/stitts-dev/lottery-engine/internal/types"
)

// reconcileTimeout bounds the async reconciliation pass a verified
// drawing triggers
const reconcileTimeout = 30 * time.Second

// DrawingRequest is the ingestion payload
type DrawingRequest struct {
	LotteryType    types.LotteryType `json:"lottery_type" binding:"required"`
	DrawNumber     string            `json:"draw_number" binding:"required"`
	DrawDate       string            `json:"draw_date" binding:"required"`
	WinningNumbers []int             `json:"winning_numbers" binding:"required"`
	SpecialNumbers []int             `json:"special_numbers,omitempty"`
	JackpotAmount  *float64          `json:"jackpot_amount,omitempty"`
	SalesAmount    *float64          `json:"sales_amount,omitempty"`
	DataSource     string            `json:"data_source,omitempty"`
}

// DrawingHandler handles drawing ingestion and queries
type DrawingHandler struct {
	rules     *rules.Registry
	drawings  *storage.DrawingRepository
	evaluator *evaluator.Evaluator
	logger    *logrus.Logger
}

// NewDrawingHandler creates a new drawing handler
func NewDrawingHandler(
	ruleRegistry *rules.Registry,
	drawings *storage.DrawingRepository,
	eval *evaluator.Evaluator,
	logger *logrus.Logger,
) *DrawingHandler {
	return &DrawingHandler{
		rules:     ruleRegistry,
		drawings:  drawings,
		evaluator: eval,
		logger:    logger,
	}
}

// IngestDrawing stores one drawing. A drawing that passes rule
// validation is marked verified and immediately reconciled against
// outstanding predictions in the background.
func (h *DrawingHandler) IngestDrawing(c *gin.Context) {
	var req DrawingRequest
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

	rule, err := h.rules.Get(req.LotteryType)
	if err != nil {
		respondError(c, err)
		return
	}

	drawDate, err := time.Parse("2006-01-02", req.DrawDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid draw date, expected YYYY-MM-DD",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	status := types.VerificationVerified
	if reason := validateNumbers(rule, req.WinningNumbers, req.SpecialNumbers); reason != "" {
		status = types.VerificationFailed
		h.logger.WithFields(logrus.Fields{
			"lottery_type": req.LotteryType,
			"draw_number":  req.DrawNumber,
			"reason":       reason,
		}).Warn("Drawing failed validation")
	}

	source := req.DataSource
	if source == "" {
		source = "api"
	}

	drawing := &types.Drawing{
		LotteryType:        req.LotteryType,
		DrawNumber:         req.DrawNumber,
		DrawDate:           drawDate,
		WinningNumbers:     req.WinningNumbers,
		SpecialNumbers:     req.SpecialNumbers,
		JackpotAmount:      req.JackpotAmount,
		SalesAmount:        req.SalesAmount,
		DataSource:         source,
		VerificationStatus: status,
	}
	if err := h.drawings.Create(c.Request.Context(), drawing); err != nil {
		respondError(c, err)
		return
	}

	if status == types.VerificationVerified {
		go h.reconcile(drawing)
	}

	c.JSON(http.StatusCreated, drawing)
}

// ListDrawings returns recent drawings for a lottery type
func (h *DrawingHandler) ListDrawings(c *gin.Context) {
	lotteryType := types.LotteryType(c.Query("lottery_type"))
	if _, err := h.rules.Get(lotteryType); err != nil {
		respondError(c, err)
		return
	}

	drawings, err := h.drawings.ListRecent(c.Request.Context(), lotteryType, parseLimit(c, 50))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"lottery_type": lotteryType,
		"drawings":     drawings,
		"count":        len(drawings),
	})
}

func (h *DrawingHandler) reconcile(drawing *types.Drawing) {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	if _, err := h.evaluator.ReconcileDrawing(ctx, drawing); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"lottery_type": drawing.LotteryType,
			"draw_number":  drawing.DrawNumber,
		}).Error("Reconciliation failed")
	}
}

// validateNumbers checks a drawing against its rule set and returns a
// reason when it cannot be verified
func validateNumbers(rule *types.RuleSet, numbers, specials []int) string {
	if len(numbers) != rule.MainCount {
		return "wrong main number count"
	}
	if len(specials) != rule.SpecialCount {
		return "wrong special number count"
	}

	seen := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		if n < rule.MainRangeStart || n > rule.MainRangeEnd {
			return "main number out of range"
		}
		if !rule.IsDigitGame() {
			if seen[n] {
				return "duplicate main number"
			}
			seen[n] = true
		}
	}

	seenSpecial := make(map[int]bool, len(specials))
	for _, n := range specials {
		if n < rule.SpecialRangeStart || n > rule.SpecialRangeEnd {
			return "special number out of range"
		}
		if seenSpecial[n] {
			return "duplicate special number"
		}
		seenSpecial[n] = true
	}
	return ""
}
