// Research assistant HTTP handler.
//
//   - POST /history/{id}/assistant (ask a question about one stored result set)
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-patent-backend/internal/services"
)

// AskAssistantRequest is the JSON payload for an assistant question.
type AskAssistantRequest struct {
	// Question about the patents in this history entry (1–2000 chars).
	Question string `json:"question" binding:"required,min=1,max=2000" example:"Which of these patents expire before 2030?"`
}

// AskAssistant answers a question grounded on the patents of one stored
// search result. Answers are produced by the configured language model, or by
// retrieval alone when none is configured.
func (h *Handlers) AskAssistant(c *gin.Context) {
	var req AskAssistantRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "question required (1–2000 chars)")
		return
	}

	ans, err := h.assistSvc.Ask(c.Request.Context(), userID(c), c.Param("id"), req.Question)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyQuestion):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "question required")
		case errors.Is(err, services.ErrHistoryNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "history entry not found")
		case errors.Is(err, services.ErrNoResultPayload):
			fail(c, http.StatusConflict, ErrCodeConflict, "history entry has no stored result to answer from")
		default:
			fail(c, http.StatusBadGateway, ErrCodeAnswerFailed, "assistant could not produce an answer")
		}
		return
	}
	ok(c, http.StatusOK, ans)
}
