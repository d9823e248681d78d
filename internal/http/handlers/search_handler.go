// Search HTTP handlers.
//
// This file exposes the orchestrated search endpoint:
//   - POST /searches (run a search end to end: cache, quota, backend job)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. The full result payload is
// returned byte-for-byte; the X-Cache header tells the client whether a
// backend job ran.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-patent-backend/internal/backend"
	"github.com/tbourn/go-patent-backend/internal/domain"
	"github.com/tbourn/go-patent-backend/internal/http/middleware"
	"github.com/tbourn/go-patent-backend/internal/repo"
	"github.com/tbourn/go-patent-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// SearchService runs the orchestrated search flow.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type SearchService interface {
	// Run executes one search for a user and returns the terminal outcome.
	Run(ctx context.Context, userID string, in services.SearchInput, onProgress func(backend.Job)) (*services.SearchOutcome, error)
}

// SubscriptionService exposes plan and quota operations.
type SubscriptionService interface {
	// Status reports the user's plan and remaining quota.
	Status(ctx context.Context, userID string) (*services.QuotaStatus, error)
	// ChangePlan switches the user to a different plan.
	ChangePlan(ctx context.Context, userID, plan string) (*services.QuotaStatus, error)
}

// HistoryService exposes per-user search history.
type HistoryService interface {
	// ListPage returns a page of history rows and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.SearchHistory, int64, error)
	// Get fetches one history row including its stored payload.
	Get(ctx context.Context, userID, id string) (*domain.SearchHistory, error)
}

// AssistantService answers questions about a stored search result.
type AssistantService interface {
	// Ask answers a question grounded on the given history entry.
	Ask(ctx context.Context, userID, historyID, question string) (*services.AssistantAnswer, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for searches, quota, history, and the
// research assistant. It depends on abstract service interfaces to keep
// transport concerns separate from business logic.
type Handlers struct {
	searchSvc SearchService
	subSvc    SubscriptionService
	histSvc   HistoryService
	assistSvc AssistantService

	// db backs idempotency records and history ETag stats.
	db      *gorm.DB
	idemTTL time.Duration
}

// New constructs a Handlers instance bound to the given services. db may be
// nil in tests; idempotency replays and ETags are then disabled.
func New(searchSvc SearchService, subSvc SubscriptionService, histSvc HistoryService,
	assistSvc AssistantService, db *gorm.DB, idemTTL time.Duration) *Handlers {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &Handlers{
		searchSvc: searchSvc,
		subSvc:    subSvc,
		histSvc:   histSvc,
		assistSvc: assistSvc,
		db:        db,
		idemTTL:   idemTTL,
	}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// RunSearchRequest is the JSON payload for starting a search.
type RunSearchRequest struct {
	// Molecule is the active ingredient to search for (required).
	Molecule string `json:"molecule" binding:"required" example:"darolutamide"`
	// Brand optionally names the commercial product; it does not affect caching.
	Brand string `json:"brand" example:"Nubeqa"`
	// Countries restricts the search; defaults to ["BR"] when empty.
	Countries []string `json:"countries" example:"BR,US"`
}

// RunSearchResponse wraps the terminal outcome of a search.
type RunSearchResponse struct {
	FromCache   bool            `json:"from_cache"`
	JobID       string          `json:"job_id,omitempty"`
	Fingerprint string          `json:"fingerprint"`
	Result      json.RawMessage `json:"result"`
}

//
// Handlers
//

// RunSearch executes one search end to end and returns the full result.
//
// Responses:
//   - 200 with the result payload; X-Cache: hit|miss|replay
//   - 400 invalid body or empty molecule
//   - 429 quota exhausted (code quota_exceeded)
//   - 502 backend rejected/failed the job (upstream_error / search_failed)
//   - 504 the search exceeded its overall deadline (search_timeout)
func (h *Handlers) RunSearch(c *gin.Context) {
	var req RunSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	ctx := c.Request.Context()
	uid := userID(c)

	// Replay a previously completed submission carrying the same key.
	idemKey, hasKey := middleware.GetIdempotencyKey(c)
	if hasKey && h.db != nil {
		if rec, err := repo.GetIdempotency(ctx, h.db, uid, c.FullPath(), idemKey, time.Now().UTC()); err == nil {
			if hist, err := h.histSvc.Get(ctx, uid, rec.HistoryID); err == nil {
				c.Header("X-Cache", "replay")
				ok(c, rec.Status, RunSearchResponse{
					FromCache:   true,
					JobID:       hist.JobID,
					Fingerprint: fingerprintFromHistoryID(hist.ID),
					Result:      json.RawMessage(hist.Result),
				})
				return
			}
		}
	}

	out, err := h.searchSvc.Run(ctx, uid, services.SearchInput{
		Molecule:  req.Molecule,
		Brand:     req.Brand,
		Countries: req.Countries,
	}, nil)
	if err != nil {
		h.failSearch(c, err)
		return
	}

	if out.FromCache {
		c.Header("X-Cache", "hit")
	} else {
		c.Header("X-Cache", "miss")
	}

	// Record the key so client retries replay instead of re-running the search.
	if hasKey && h.db != nil {
		histID := domain.HistoryID(uid, out.Fingerprint)
		if _, err := repo.CreateIdempotency(ctx, h.db, uid, c.FullPath(), idemKey, histID, http.StatusOK, h.idemTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("recording idempotency key failed")
		}
	}

	ok(c, http.StatusOK, RunSearchResponse{
		FromCache:   out.FromCache,
		JobID:       out.JobID,
		Fingerprint: out.Fingerprint,
		Result:      out.Result,
	})
}

// failSearch maps a search flow error to an HTTP response.
func (h *Handlers) failSearch(c *gin.Context, err error) {
	var transportErr *backend.TransportError
	var jobErr *backend.JobError
	var exhausted *backend.PollingExhaustedError

	switch {
	case errors.Is(err, services.ErrEmptyMolecule):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "molecule is required")
	case errors.Is(err, services.ErrQuotaExceeded):
		fail(c, http.StatusTooManyRequests, ErrCodeQuotaExceeded, "search quota exceeded for current plan")
	case errors.Is(err, backend.ErrSearchTimeout):
		fail(c, http.StatusGatewayTimeout, ErrCodeSearchTimeout, "search exceeded time limit")
	case errors.As(err, &jobErr):
		fail(c, http.StatusBadGateway, ErrCodeSearchFailed, jobErr.Message)
	case errors.As(err, &exhausted):
		fail(c, http.StatusBadGateway, ErrCodeUpstreamError, "backend stopped responding while the search was running")
	case errors.As(err, &transportErr):
		fail(c, http.StatusBadGateway, ErrCodeUpstreamError, "backend rejected the search request")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write, but keep the status honest.
		c.AbortWithStatus(499)
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// fingerprintFromHistoryID recovers the fingerprint half of a composite
// history id ("<user>:<fingerprint>").
func fingerprintFromHistoryID(id string) string {
	if i := strings.LastIndex(id, ":"); i >= 0 {
		return id[i+1:]
	}
	return ""
}
