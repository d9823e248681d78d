// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tbourn/go-patent-backend/internal/backend"
	"github.com/tbourn/go-patent-backend/internal/config"
	"github.com/tbourn/go-patent-backend/internal/domain"
	"github.com/tbourn/go-patent-backend/internal/http/handlers"
	"github.com/tbourn/go-patent-backend/internal/http/middleware"
	"github.com/tbourn/go-patent-backend/internal/repo"
	"github.com/tbourn/go-patent-backend/internal/services"
	"github.com/tbourn/go-patent-backend/internal/session"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"
)

// cacheRepoShim adapts the repository free functions to the
// services.CacheRepo interface expected by the CacheService. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type cacheRepoShim struct{}

// GetCacheIndex proxies repo.GetCacheIndex.
func (cacheRepoShim) GetCacheIndex(ctx context.Context, db *gorm.DB, fingerprint string) (*domain.CacheIndex, error) {
	return repo.GetCacheIndex(ctx, db, fingerprint)
}

// GetCacheData proxies repo.GetCacheData.
func (cacheRepoShim) GetCacheData(ctx context.Context, db *gorm.DB, fingerprint string) (*domain.CacheData, error) {
	return repo.GetCacheData(ctx, db, fingerprint)
}

// UpsertCacheData proxies repo.UpsertCacheData.
func (cacheRepoShim) UpsertCacheData(ctx context.Context, db *gorm.DB, fingerprint string, payload []byte) error {
	return repo.UpsertCacheData(ctx, db, fingerprint, payload)
}

// UpsertCacheIndex proxies repo.UpsertCacheIndex.
func (cacheRepoShim) UpsertCacheIndex(ctx context.Context, db *gorm.DB, idx *domain.CacheIndex) error {
	return repo.UpsertCacheIndex(ctx, db, idx)
}

// IncrementCacheHit proxies repo.IncrementCacheHit.
func (cacheRepoShim) IncrementCacheHit(ctx context.Context, db *gorm.DB, fingerprint string) error {
	return repo.IncrementCacheHit(ctx, db, fingerprint)
}

// subscriptionRepoShim adapts the repository free functions to
// services.SubscriptionRepo.
type subscriptionRepoShim struct{}

// GetSubscription proxies repo.GetSubscription.
func (subscriptionRepoShim) GetSubscription(ctx context.Context, db *gorm.DB, userID string) (*domain.Subscription, error) {
	return repo.GetSubscription(ctx, db, userID)
}

// CreateSubscription proxies repo.CreateSubscription.
func (subscriptionRepoShim) CreateSubscription(ctx context.Context, db *gorm.DB, userID, plan string) (*domain.Subscription, error) {
	return repo.CreateSubscription(ctx, db, userID, plan)
}

// UpdateSubscription proxies repo.UpdateSubscription.
func (subscriptionRepoShim) UpdateSubscription(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return repo.UpdateSubscription(ctx, db, sub)
}

// historyRepoShim adapts the repository free functions to services.HistoryRepo.
type historyRepoShim struct{}

// UpsertHistory proxies repo.UpsertHistory.
func (historyRepoShim) UpsertHistory(ctx context.Context, db *gorm.DB, rec *domain.SearchHistory) error {
	return repo.UpsertHistory(ctx, db, rec)
}

// GetHistory proxies repo.GetHistory.
func (historyRepoShim) GetHistory(ctx context.Context, db *gorm.DB, id, userID string) (*domain.SearchHistory, error) {
	return repo.GetHistory(ctx, db, id, userID)
}

// CountHistory proxies repo.CountHistory (pagination support).
func (historyRepoShim) CountHistory(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountHistory(ctx, db, userID)
}

// ListHistoryPage proxies repo.ListHistoryPage (pagination support).
func (historyRepoShim) ListHistoryPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.SearchHistory, error) {
	return repo.ListHistoryPage(ctx, db, userID, offset, limit)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v*.
//
// sessions may be nil; searches then carry no session id.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip (result payloads run to hundreds of KiB)
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, sessions *session.Store, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key", // assistant key must never reach the logs
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Compress responses; cached result payloads are large and repetitive
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "X-Cache", "ETag", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "X-Cache", "ETag", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← backend client/repo/db/sessions
	client := backend.NewClient(cfg.Backend.BaseURL, &http.Client{Timeout: cfg.Backend.RequestTimeout})
	poller := &backend.Poller{
		API:                  client,
		Interval:             cfg.Backend.PollInterval,
		Deadline:             cfg.Backend.PollDeadline,
		MaxTransientFailures: cfg.Backend.PollMaxRetries,
	}

	cacheSvc := services.NewCacheService(db, cacheRepoShim{})
	cacheSvc.Freshness = cfg.CacheFreshness
	subSvc := services.NewSubscriptionService(db, subscriptionRepoShim{})
	histSvc := services.NewHistoryService(db, historyRepoShim{})

	var llm services.LLMCaller
	if cfg.Assistant.APIKey != "" {
		llm = services.NewAnthropicCaller(cfg.Assistant.APIKey, cfg.Assistant.Model)
	}
	assistSvc := services.NewAssistantService(histSvc, llm)

	// Avoid a typed-nil SessionProvider when no store is configured.
	var sessionProvider services.SessionProvider
	if sessions != nil {
		sessionProvider = sessions
	}
	searchSvc := services.NewSearchService(client, poller, cacheSvc, subSvc, histSvc, sessionProvider)

	h := handlers.New(searchSvc, subSvc, histSvc, assistSvc, db, cfg.IdempotencyTTL)
	p := handlers.NewProxy(client)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Searches (orchestrated flow: cache, quota, backend job)
		api.POST("/searches", h.RunSearch)
		api.GET("/searches/quota", h.GetQuota)
		api.PUT("/searches/plan", h.ChangePlan)

		// History
		api.GET("/history", h.ListHistory)
		api.GET("/history/:id", h.GetHistory)

		// Research assistant
		api.POST("/history/:id/assistant", h.AskAssistant)

		// Same-origin proxy to the raw backend endpoints
		api.POST("/proxy/search/async", p.StartSearch)
		api.GET("/proxy/search/status/:job_id", p.JobStatus)
		api.GET("/proxy/search/result/:job_id", p.JobResult)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
