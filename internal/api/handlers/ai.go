package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/irfndi/crypto-insight-go/internal/models"
	"github.com/irfndi/crypto-insight-go/internal/utils"
)

// AIAssistant answers questions and recommends related assets.
type AIAssistant interface {
	Ask(ctx context.Context, query, question string) (*models.AIAnswer, error)
	Similar(ctx context.Context, query string, limit int) ([]models.SimilarCoin, error)
}

type AIHandler struct {
	ai AIAssistant
}

func NewAIHandler(ai AIAssistant) *AIHandler {
	return &AIHandler{ai: ai}
}

type AskRequest struct {
	Query    string `json:"query" binding:"required"`
	Question string `json:"question" binding:"required"`
}

// Ask answers a question about an asset.
// POST /api/v1/ai/ask
func (h *AIHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, utils.NewValidationError("query and question are required"))
		return
	}

	answer, err := h.ai.Ask(c.Request.Context(), req.Query, req.Question)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, answer)
}

// Similar recommends assets comparable to the one in the path.
// GET /api/v1/ai/similar/:query?limit=5
func (h *AIHandler) Similar(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(c, utils.NewValidationErrorf("limit must be a positive integer, got %q", raw))
			return
		}
		limit = parsed
	}

	coins, err := h.ai.Similar(c.Request.Context(), c.Param("query"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    coins,
		"count":   len(coins),
	})
}
