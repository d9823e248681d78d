// Polling orchestration for asynchronous backend search jobs.
//
// A started job is driven to completion by polling its status on a fixed
// cadence until it reaches a terminal state, an overall wall-clock deadline
// expires, or the caller's context is cancelled. Transient poll failures
// (network or parse errors) are tolerated up to a ceiling; the counter resets
// on every successful poll.
//
// Polls are strictly sequential: the next poll is armed only after the
// current one settles, so a slow status call can never overlap the next one.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Reference polling policy. All three are overridable on the Poller.
const (
	DefaultInterval             = 20 * time.Second
	DefaultDeadline             = 15 * time.Minute
	DefaultMaxTransientFailures = 3
)

// ErrSearchTimeout is returned when the overall deadline expires while the
// job is still in a non-terminal state.
var ErrSearchTimeout = errors.New("search exceeded time limit")

// JobError is returned when the backend itself reports the job as failed.
// It carries the backend-supplied error string.
type JobError struct {
	JobID   string
	Message string
}

// Error implements the error interface.
func (e *JobError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// PollingExhaustedError is returned when consecutive transient poll failures
// reach the configured ceiling.
type PollingExhaustedError struct {
	JobID    string
	Attempts int
}

// Error implements the error interface.
func (e *PollingExhaustedError) Error() string {
	return fmt.Sprintf("job %s: giving up after %d consecutive failed status checks", e.JobID, e.Attempts)
}

// JobAPI is the narrow backend surface the Poller needs. *Client satisfies
// it; tests substitute stubs.
type JobAPI interface {
	Status(ctx context.Context, jobID string) (Job, error)
	Result(ctx context.Context, jobID string) (json.RawMessage, error)
}

// Poller drives one backend job to completion. The zero value of the policy
// fields selects the reference defaults (20s cadence, 15m deadline, 3
// consecutive transient failures).
//
// A Poller is stateless across runs and safe for concurrent use; each Run
// call owns its own timers and failure counter.
type Poller struct {
	API JobAPI

	Interval             time.Duration
	Deadline             time.Duration
	MaxTransientFailures int
}

// NewPoller returns a Poller over api with the reference policy.
func NewPoller(api JobAPI) *Poller {
	return &Poller{
		API:                  api,
		Interval:             DefaultInterval,
		Deadline:             DefaultDeadline,
		MaxTransientFailures: DefaultMaxTransientFailures,
	}
}

// Run polls jobID until it completes, fails, times out, or ctx is cancelled.
//
// The first poll is issued immediately, not after the first interval. On
// every successful poll the transient-failure counter resets and onProgress
// (when non-nil) is invoked with the raw job snapshot; onProgress is never
// invoked after a terminal transition. On completion the result payload is
// fetched once and returned.
//
// Terminal outcomes:
//   - the raw result payload on success
//   - *JobError when the backend reports status "failed"
//   - *PollingExhaustedError after MaxTransientFailures consecutive poll errors
//   - ErrSearchTimeout (wrapped) when the deadline fires first
//   - ctx.Err() when the caller abandons the search
//
// All timers are released on every return path.
func (p *Poller) Run(ctx context.Context, jobID string, onProgress func(Job)) (json.RawMessage, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	deadline := p.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	maxFails := p.MaxTransientFailures
	if maxFails <= 0 {
		maxFails = DefaultMaxTransientFailures
	}

	deadlineTimer := time.NewTimer(deadline)
	defer deadlineTimer.Stop()

	// Zero duration arms an immediate first poll.
	pollTimer := time.NewTimer(0)
	defer pollTimer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadlineTimer.C:
			return nil, fmt.Errorf("job %s: %w after %s", jobID, ErrSearchTimeout, deadline)
		case <-pollTimer.C:
		}

		job, err := p.API.Status(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures++
			if failures >= maxFails {
				return nil, &PollingExhaustedError{JobID: jobID, Attempts: failures}
			}
			pollTimer.Reset(interval)
			continue
		}
		failures = 0
		if onProgress != nil {
			onProgress(job)
		}

		switch job.Status {
		case StatusComplete:
			return p.API.Result(ctx, jobID)
		case StatusFailed:
			msg := job.Error
			if msg == "" {
				msg = "backend reported failure without detail"
			}
			return nil, &JobError{JobID: jobID, Message: msg}
		}

		pollTimer.Reset(interval)
	}
}
