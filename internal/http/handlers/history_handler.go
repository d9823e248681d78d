// History HTTP handlers.
//
//   - GET /history      (list, paginated, ETag support)
//   - GET /history/{id} (one entry including its stored result payload)
//
// List rows omit the result payload to keep pages small; the detail endpoint
// returns it byte-for-byte.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-patent-backend/internal/domain"
	"github.com/tbourn/go-patent-backend/internal/repo"
	"github.com/tbourn/go-patent-backend/internal/services"
	"github.com/tbourn/go-patent-backend/internal/utils"
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListHistoryResponse wraps a page of history rows and pagination information.
type ListHistoryResponse struct {
	Searches   []domain.SearchHistory `json:"searches"`
	Pagination Pagination             `json:"pagination"`
}

// HistoryDetailResponse is one history entry plus its stored result payload.
type HistoryDetailResponse struct {
	domain.SearchHistory
	Result json.RawMessage `json:"result"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// ListHistory returns a page of the user's searches, most recent first.
// Supports weak ETag via If-None-Match and may return 304.
func (h *Handlers) ListHistory(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if h.db != nil {
		count, maxTS, err := repo.HistoryStats(ctx, h.db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"history:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.histSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListHistoryResponse{
		Searches: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetHistory returns one history entry including its full result payload.
func (h *Handlers) GetHistory(c *gin.Context) {
	rec, err := h.histSvc.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, services.ErrHistoryNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "history entry not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, HistoryDetailResponse{
		SearchHistory: *rec,
		Result:        json.RawMessage(rec.Result),
	})
}
