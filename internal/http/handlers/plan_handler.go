// Plan and quota HTTP handlers.
//
//   - GET /searches/quota (current plan and remaining searches)
//   - PUT /searches/plan  (switch plan)
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-patent-backend/internal/services"
)

// ChangePlanRequest is the JSON payload for switching subscription plans.
type ChangePlanRequest struct {
	// Plan is one of: free, professional, enterprise.
	Plan string `json:"plan" binding:"required" example:"professional"`
}

// GetQuota returns the user's plan and remaining quota for the current
// period. A subscription is created lazily on the free plan for first-time
// users.
func (h *Handlers) GetQuota(c *gin.Context) {
	st, err := h.subSvc.Status(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, st)
}

// ChangePlan switches the user's subscription plan. Usage within the current
// period carries over; only the ceiling changes.
func (h *Handlers) ChangePlan(c *gin.Context) {
	var req ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Plan) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "plan required")
		return
	}

	st, err := h.subSvc.ChangePlan(c.Request.Context(), userID(c), strings.ToLower(strings.TrimSpace(req.Plan)))
	if err != nil {
		if errors.Is(err, services.ErrUnknownPlan) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown plan: must be free, professional, or enterprise")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, st)
}
