package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-patent-backend/internal/backend"
	"github.com/tbourn/go-patent-backend/internal/domain"
	"github.com/tbourn/go-patent-backend/internal/http/middleware"
	"github.com/tbourn/go-patent-backend/internal/repo"
	"github.com/tbourn/go-patent-backend/internal/services"
)

// ---------- test DB ----------

func newPatentDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:patent_handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.CacheIndex{}, &domain.CacheData{},
		&domain.SearchHistory{}, &domain.Subscription{}, &domain.Idempotency{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// ---------- flexible service stubs ----------

type stubSearchSvc struct {
	run func(context.Context, string, services.SearchInput, func(backend.Job)) (*services.SearchOutcome, error)
}

func (s stubSearchSvc) Run(ctx context.Context, userID string, in services.SearchInput, onProgress func(backend.Job)) (*services.SearchOutcome, error) {
	if s.run != nil {
		return s.run(ctx, userID, in, onProgress)
	}
	return &services.SearchOutcome{Result: json.RawMessage(`{}`)}, nil
}

type stubSubSvc struct {
	status     func(context.Context, string) (*services.QuotaStatus, error)
	changePlan func(context.Context, string, string) (*services.QuotaStatus, error)
}

func (s stubSubSvc) Status(ctx context.Context, userID string) (*services.QuotaStatus, error) {
	if s.status != nil {
		return s.status(ctx, userID)
	}
	return &services.QuotaStatus{Plan: domain.PlanFree, Limit: 5}, nil
}

func (s stubSubSvc) ChangePlan(ctx context.Context, userID, plan string) (*services.QuotaStatus, error) {
	if s.changePlan != nil {
		return s.changePlan(ctx, userID, plan)
	}
	return &services.QuotaStatus{Plan: plan}, nil
}

type stubHistSvc struct {
	listPage func(context.Context, string, int, int) ([]domain.SearchHistory, int64, error)
	get      func(context.Context, string, string) (*domain.SearchHistory, error)
}

func (s stubHistSvc) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.SearchHistory, int64, error) {
	if s.listPage != nil {
		return s.listPage(ctx, userID, page, pageSize)
	}
	return nil, 0, nil
}

func (s stubHistSvc) Get(ctx context.Context, userID, id string) (*domain.SearchHistory, error) {
	if s.get != nil {
		return s.get(ctx, userID, id)
	}
	return nil, services.ErrHistoryNotFound
}

type stubAssistSvc struct {
	ask func(context.Context, string, string, string) (*services.AssistantAnswer, error)
}

func (s stubAssistSvc) Ask(ctx context.Context, userID, historyID, question string) (*services.AssistantAnswer, error) {
	if s.ask != nil {
		return s.ask(ctx, userID, historyID, question)
	}
	return &services.AssistantAnswer{Answer: "ok", Model: "retrieval"}, nil
}

// newSearchRouter mounts the search endpoint behind the idempotency validator,
// mirroring the production middleware order.
func newSearchRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	r.POST("/searches", h.RunSearch)
	return r
}

func postSearch(r *gin.Engine, body string, hdr map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/searches", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

// ---------- tests ----------

func TestRunSearch_InvalidBody(t *testing.T) {
	h := New(stubSearchSvc{}, stubSubSvc{}, stubHistSvc{}, stubAssistSvc{}, nil, 0)
	r := newSearchRouter(h)

	for _, body := range []string{"{", `{}`, `{"brand":"Nubeqa"}`} {
		w := postSearch(r, body, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestRunSearch_Success_MissAndHitHeaders(t *testing.T) {
	payload := json.RawMessage(`{"total_patents":12}`)

	cases := []struct {
		name      string
		fromCache bool
		wantCache string
	}{
		{"miss runs a job", false, "miss"},
		{"hit serves from cache", true, "hit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var gotUser string
			var gotIn services.SearchInput
			h := New(stubSearchSvc{
				run: func(_ context.Context, userID string, in services.SearchInput, _ func(backend.Job)) (*services.SearchOutcome, error) {
					gotUser, gotIn = userID, in
					out := &services.SearchOutcome{
						Result:      payload,
						FromCache:   tc.fromCache,
						Fingerprint: "f0f0f0f0f0f0f0f0",
					}
					if !tc.fromCache {
						out.JobID = "job_42"
					}
					return out, nil
				},
			}, stubSubSvc{}, stubHistSvc{}, stubAssistSvc{}, nil, 0)
			r := newSearchRouter(h)

			w := postSearch(r, `{"molecule":"darolutamide","brand":"Nubeqa","countries":["BR","US"]}`,
				map[string]string{"X-User-ID": "u1"})
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
			}
			if got := w.Header().Get("X-Cache"); got != tc.wantCache {
				t.Fatalf("X-Cache = %q, want %q", got, tc.wantCache)
			}
			if gotUser != "u1" {
				t.Fatalf("userID = %q", gotUser)
			}
			if gotIn.Molecule != "darolutamide" || gotIn.Brand != "Nubeqa" || len(gotIn.Countries) != 2 {
				t.Fatalf("unexpected input: %+v", gotIn)
			}

			var resp RunSearchResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if resp.FromCache != tc.fromCache || resp.Fingerprint != "f0f0f0f0f0f0f0f0" {
				t.Fatalf("unexpected response: %+v", resp)
			}
			if !bytes.Equal(resp.Result, payload) {
				t.Fatalf("result not passed through byte-for-byte: %s", resp.Result)
			}
			if tc.fromCache && resp.JobID != "" {
				t.Fatalf("cache hit should carry no job id, got %q", resp.JobID)
			}
		})
	}
}

func TestRunSearch_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"empty molecule", services.ErrEmptyMolecule, http.StatusBadRequest, ErrCodeBadRequest},
		{"quota exceeded", services.ErrQuotaExceeded, http.StatusTooManyRequests, ErrCodeQuotaExceeded},
		{"search timeout", fmt.Errorf("search wrapped: %w", backend.ErrSearchTimeout), http.StatusGatewayTimeout, ErrCodeSearchTimeout},
		{"job failed", &backend.JobError{JobID: "j1", Message: "no patents found"}, http.StatusBadGateway, ErrCodeSearchFailed},
		{"polling exhausted", &backend.PollingExhaustedError{JobID: "j1", Attempts: 3}, http.StatusBadGateway, ErrCodeUpstreamError},
		{"start rejected", &backend.TransportError{Op: "start", StatusCode: 503}, http.StatusBadGateway, ErrCodeUpstreamError},
		{"unexpected", fmt.Errorf("disk on fire"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := New(stubSearchSvc{
				run: func(context.Context, string, services.SearchInput, func(backend.Job)) (*services.SearchOutcome, error) {
					return nil, tc.err
				},
			}, stubSubSvc{}, stubHistSvc{}, stubAssistSvc{}, nil, 0)
			r := newSearchRouter(h)

			w := postSearch(r, `{"molecule":"x"}`, nil)
			if w.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, w.Code, w.Body.String())
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body["code"] != tc.wantCode {
				t.Fatalf("code = %v, want %q", body["code"], tc.wantCode)
			}
		})
	}
}

func TestRunSearch_ClientCancel_Writes499(t *testing.T) {
	h := New(stubSearchSvc{
		run: func(context.Context, string, services.SearchInput, func(backend.Job)) (*services.SearchOutcome, error) {
			return nil, context.Canceled
		},
	}, stubSubSvc{}, stubHistSvc{}, stubAssistSvc{}, nil, 0)
	r := newSearchRouter(h)

	w := postSearch(r, `{"molecule":"x"}`, nil)
	if w.Code != 499 {
		t.Fatalf("expected 499, got %d", w.Code)
	}
}

func TestRunSearch_IdempotencyKey_RecordedThenReplayed(t *testing.T) {
	db := newPatentDB(t)
	payload := json.RawMessage(`{"total_patents":12}`)
	fp := "abcdabcdabcdabcd"

	runs := 0
	hist := &domain.SearchHistory{
		ID:     domain.HistoryID("demo-user", fp),
		UserID: "demo-user",
		JobID:  "job_42",
		Result: payload,
	}
	h := New(stubSearchSvc{
		run: func(context.Context, string, services.SearchInput, func(backend.Job)) (*services.SearchOutcome, error) {
			runs++
			return &services.SearchOutcome{Result: payload, JobID: "job_42", Fingerprint: fp}, nil
		},
	}, stubSubSvc{}, stubHistSvc{
		get: func(_ context.Context, userID, id string) (*domain.SearchHistory, error) {
			if userID == hist.UserID && id == hist.ID {
				return hist, nil
			}
			return nil, services.ErrHistoryNotFound
		},
	}, stubAssistSvc{}, db, time.Hour)
	r := newSearchRouter(h)

	hdr := map[string]string{middleware.HeaderIdempotencyKey: "key-1"}

	// First submission runs the search and records the key.
	w := postSearch(r, `{"molecule":"darolutamide"}`, hdr)
	if w.Code != http.StatusOK || runs != 1 {
		t.Fatalf("first call: code=%d runs=%d", w.Code, runs)
	}
	rec, err := repo.GetIdempotency(context.Background(), db, "demo-user", "/searches", "key-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("idempotency row not recorded: %v", err)
	}
	if rec.HistoryID != hist.ID || rec.Status != http.StatusOK {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// Retry with the same key replays the stored outcome without re-running.
	w = postSearch(r, `{"molecule":"darolutamide"}`, hdr)
	if w.Code != http.StatusOK || runs != 1 {
		t.Fatalf("replay: code=%d runs=%d", w.Code, runs)
	}
	if got := w.Header().Get("X-Cache"); got != "replay" {
		t.Fatalf("X-Cache = %q, want replay", got)
	}
	var resp RunSearchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !resp.FromCache || resp.JobID != "job_42" || resp.Fingerprint != fp {
		t.Fatalf("unexpected replay response: %+v", resp)
	}
	if !bytes.Equal(resp.Result, payload) {
		t.Fatalf("replay payload mismatch: %s", resp.Result)
	}
}

func TestRunSearch_StaleIdempotencyRecord_RunsAgain(t *testing.T) {
	// A key pointing at a vanished history row must not block the search.
	db := newPatentDB(t)
	if _, err := repo.CreateIdempotency(context.Background(), db,
		"demo-user", "/searches", "key-2", "demo-user:gone", http.StatusOK, time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}

	runs := 0
	h := New(stubSearchSvc{
		run: func(context.Context, string, services.SearchInput, func(backend.Job)) (*services.SearchOutcome, error) {
			runs++
			return &services.SearchOutcome{Result: json.RawMessage(`{}`), Fingerprint: "ffffffffffffffff"}, nil
		},
	}, stubSubSvc{}, stubHistSvc{}, stubAssistSvc{}, db, time.Hour)
	r := newSearchRouter(h)

	w := postSearch(r, `{"molecule":"x"}`, map[string]string{middleware.HeaderIdempotencyKey: "key-2"})
	if w.Code != http.StatusOK || runs != 1 {
		t.Fatalf("code=%d runs=%d", w.Code, runs)
	}
}

func TestFingerprintFromHistoryID(t *testing.T) {
	if got := fingerprintFromHistoryID("u1:deadbeef"); got != "deadbeef" {
		t.Fatalf("got %q", got)
	}
	if got := fingerprintFromHistoryID("noseparator"); got != "" {
		t.Fatalf("expected empty for malformed id, got %q", got)
	}
}

func TestUserID_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if got := userID(c); got != "demo-user" {
		t.Fatalf("fallback mismatch: %q", got)
	}
	c.Request.Header.Set("X-User-ID", "hdr-user")
	if got := userID(c); got != "hdr-user" {
		t.Fatalf("header mismatch: %q", got)
	}
	c.Set("userID", "ctx-user")
	if got := userID(c); got != "ctx-user" {
		t.Fatalf("context mismatch: %q", got)
	}
}
