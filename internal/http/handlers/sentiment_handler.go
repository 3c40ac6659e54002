// Sentiment HTTP handler.
//
//   - POST /sentiment/analyze  (classify a text and store it on a content)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-content-backend/internal/domain"
)

// AnalyzeSentimentRequest is the JSON payload for sentiment analysis. When
// Prompt is empty the content's own prompt is classified.
type AnalyzeSentimentRequest struct {
	ContentID string `json:"content_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	Prompt    string `json:"prompt"                        example:"I loved every minute of this trip"`
}

// AnalyzeSentimentResponse carries the stored sentiment.
type AnalyzeSentimentResponse struct {
	Sentiment domain.Sentiment `json:"sentiment" example:"positive"`
}

// AnalyzeSentiment godoc
// @ID          analyzeSentiment
// @Summary     Classify and store a sentiment
// @Tags        Sentiment
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.AnalyzeSentimentRequest  true  "Content and text"
// @Success     200   {object}  handlers.AnalyzeSentimentResponse
// @Failure     400   {object}  handlers.ErrorResponse "Bad request"
// @Failure     404   {object}  handlers.ErrorResponse "CONTENT_NOT_FOUND"
// @Failure     502   {object}  handlers.ErrorResponse "AI provider unavailable"
// @Router      /sentiment/analyze [post]
func (h *Handlers) AnalyzeSentiment(c *gin.Context) {
	uid, okUser := userID(c)
	if !okUser {
		return
	}
	var req AnalyzeSentimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content_id required")
		return
	}
	s, err := h.sentiment.Analyze(c.Request.Context(), uid, req.ContentID, req.Prompt)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, AnalyzeSentimentResponse{Sentiment: s})
}
