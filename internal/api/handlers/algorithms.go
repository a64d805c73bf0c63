package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stitts-dev/lottery-engine/internal/algorithms"
	"github.com/stitts-dev/lottery-engine/internal/rules"
	"github.com/stitts-dev/lottery-engine/internal/types"
)

// AlgorithmHandler exposes the available algorithm kinds and rule sets
type AlgorithmHandler struct {
	rules      *rules.Registry
	algorithms *algorithms.Registry
}

// NewAlgorithmHandler creates a new algorithm handler
func NewAlgorithmHandler(ruleRegistry *rules.Registry, algoRegistry *algorithms.Registry) *AlgorithmHandler {
	return &AlgorithmHandler{
		rules:      ruleRegistry,
		algorithms: algoRegistry,
	}
}

// ListAlgorithms returns the algorithm kinds available for a lottery type
func (h *AlgorithmHandler) ListAlgorithms(c *gin.Context) {
	lotteryType := types.LotteryType(c.Query("lottery_type"))
	if lotteryType != "" {
		if _, err := h.rules.Get(lotteryType); err != nil {
			respondError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"lottery_type": lotteryType,
		"algorithms":   h.algorithms.Kinds(),
	})
}

// ListLotteryTypes returns every registered rule set
func (h *AlgorithmHandler) ListLotteryTypes(c *gin.Context) {
	lotteryTypes := h.rules.List()
	ruleSets := make([]*types.RuleSet, 0, len(lotteryTypes))
	for _, lotteryType := range lotteryTypes {
		rule, err := h.rules.Get(lotteryType)
		if err != nil {
			continue
		}
		ruleSets = append(ruleSets, rule)
	}

	c.JSON(http.StatusOK, gin.H{
		"lottery_types": lotteryTypes,
		"rule_sets":     ruleSets,
	})
}
