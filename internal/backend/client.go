// Package backend is the HTTP client for the remote patent-discovery
// service. The backend runs searches asynchronously: a start call returns an
// opaque job id, status calls report progress, and a final result call
// returns the full payload once the job completes.
//
// The package deliberately treats the result payload as opaque bytes; it is
// cached and returned byte-for-byte without interpretation. No logging is
// done here (callers decide how/what to log).
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tbourn/go-patent-backend/internal/domain"
)

// Job lifecycle states as reported by the backend.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
)

// Job is one status snapshot of a backend search job. Progress and Step are
// optional; Error is present only when Status is "failed".
type Job struct {
	JobID    string   `json:"job_id"`
	Status   string   `json:"status"`
	Progress *float64 `json:"progress,omitempty"`
	Step     string   `json:"step,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j Job) Terminal() bool {
	return j.Status == StatusComplete || j.Status == StatusFailed
}

// SearchRequest is the input to Start. Molecule is required; Brand may be
// empty; an empty country set defaults to {BR}.
type SearchRequest struct {
	Molecule  string
	Brand     string
	Countries []string
}

// TransportError is returned when the backend answers with a non-success
// HTTP status. The response body is retained (truncated) for diagnostics.
type TransportError struct {
	Op         string // "start", "status", or "result"
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("backend %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// maxErrBodyBytes caps how much of an error response body is kept on a
// TransportError.
const maxErrBodyBytes = 2048

// Client issues requests against the backend's three search endpoints.
// The zero value is not usable; construct with NewClient.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for the given base URL. When httpClient is nil
// a client with a 30s request timeout is used. The overall search deadline
// is enforced by the Poller, not here.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// startRequest is the backend's wire format for starting a search.
type startRequest struct {
	Molecule  string   `json:"nome_molecula"`
	Brand     string   `json:"nome_comercial"`
	Countries []string `json:"paises_alvo"`
	IncludeWO bool     `json:"incluir_wo"`
}

type startResponse struct {
	JobID string `json:"job_id"`
}

// Start submits a search and returns the backend job id. The request is
// normalized before sending: brand defaults to the empty string and the
// country set defaults to {BR}. A non-2xx response yields a *TransportError.
func (c *Client) Start(ctx context.Context, req SearchRequest) (string, error) {
	body, err := json.Marshal(startRequest{
		Molecule:  strings.TrimSpace(req.Molecule),
		Brand:     strings.TrimSpace(req.Brand),
		Countries: domain.NormalizeCountries(req.Countries),
		IncludeWO: true,
	})
	if err != nil {
		return "", fmt.Errorf("encoding start request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search/async", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating start request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("backend start request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", transportErr("start", resp)
	}

	var out startResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("parsing start response: %w", err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("backend start: response missing job_id")
	}
	return out.JobID, nil
}

// Status fetches the current snapshot of a job. A non-2xx response yields a
// *TransportError; decode failures are returned as plain errors. Both count
// as transient failures for the Poller.
func (c *Client) Status(ctx context.Context, jobID string) (Job, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/search/status/"+url.PathEscape(jobID), nil)
	if err != nil {
		return Job{}, fmt.Errorf("creating status request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Job{}, fmt.Errorf("backend status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Job{}, transportErr("status", resp)
	}

	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return Job{}, fmt.Errorf("parsing status response: %w", err)
	}
	return job, nil
}

// Result fetches the completed search payload as raw bytes. Only valid once
// Status reports "complete"; calling earlier surfaces whatever the backend
// answers (typically a *TransportError). Never retried.
func (c *Client) Result(ctx context.Context, jobID string) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/search/result/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("creating result request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend result request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, transportErr("result", resp)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading result payload: %w", err)
	}
	return json.RawMessage(payload), nil
}

// Forward relays an arbitrary request to the backend and returns the raw
// response. Used by the same-origin proxy endpoints, which pass status codes
// and bodies through verbatim. The caller owns the response body.
func (c *Client) Forward(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating proxy request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	return c.http.Do(httpReq)
}

// transportErr drains up to maxErrBodyBytes of the response body into a
// *TransportError.
func transportErr(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyBytes))
	return &TransportError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(b)),
	}
}
