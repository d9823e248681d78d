// Same-origin proxy to the patent-discovery backend.
//
//   - POST /proxy/search/async          (submit a raw job)
//   - GET  /proxy/search/status/:job_id (raw status snapshot)
//   - GET  /proxy/search/result/:job_id (raw result payload)
//
// These endpoints exist so browser clients can reach the backend without a
// CORS exemption. They apply no business logic: no cache, no quota, no
// history. Statuses and bodies pass through unmodified.
package handlers

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-patent-backend/internal/http/middleware"
)

// Forwarder relays one HTTP request to the backend. *backend.Client satisfies
// this interface.
type Forwarder interface {
	Forward(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error)
}

// ProxyHandlers exposes the raw backend endpoints under this API's origin.
type ProxyHandlers struct {
	backend Forwarder
}

// NewProxy constructs proxy handlers over the given backend client.
func NewProxy(backend Forwarder) *ProxyHandlers {
	return &ProxyHandlers{backend: backend}
}

// StartSearch forwards a raw search submission to the backend.
func (p *ProxyHandlers) StartSearch(c *gin.Context) {
	p.relay(c, http.MethodPost, "/search/async", c.Request.Body, c.ContentType())
}

// JobStatus forwards a job status request to the backend.
func (p *ProxyHandlers) JobStatus(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("job_id"))
	if jobID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "job_id is required")
		return
	}
	p.relay(c, http.MethodGet, "/search/status/"+url.PathEscape(jobID), nil, "")
}

// JobResult forwards a job result request to the backend.
func (p *ProxyHandlers) JobResult(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("job_id"))
	if jobID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "job_id is required")
		return
	}
	p.relay(c, http.MethodGet, "/search/result/"+url.PathEscape(jobID), nil, "")
}

// relay performs the forward and streams the backend response back verbatim:
// same status, same Content-Type, same body bytes.
func (p *ProxyHandlers) relay(c *gin.Context, method, path string, body io.Reader, contentType string) {
	resp, err := p.backend.Forward(c.Request.Context(), method, path, body, contentType)
	if err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("path", path).Msg("proxy request failed")
		fail(c, http.StatusBadGateway, ErrCodeUpstreamError, "backend unreachable")
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		c.Header("Content-Type", ct)
	}
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("path", path).Msg("streaming proxy response failed")
	}
}
