// Package services – SearchService
//
// End-to-end orchestration of one patent search: cache-first lookup, quota
// gate, backend job start, polling to completion, then best-effort cache and
// history writes. This is the only place where the cache, quota, backend, and
// history services meet.
//
// Failure posture after a successful search: cache writes, history writes,
// and quota consumption are attempted synchronously but never fail the
// request. The user has their result at that point; bookkeeping problems are
// logged and counted, not surfaced.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-patent-backend/internal/backend"
	"github.com/tbourn/go-patent-backend/internal/domain"
)

// JobStarter starts a backend search job. *backend.Client satisfies it.
type JobStarter interface {
	Start(ctx context.Context, req backend.SearchRequest) (string, error)
}

// JobRunner drives a started job to completion. *backend.Poller satisfies it.
type JobRunner interface {
	Run(ctx context.Context, jobID string, onProgress func(backend.Job)) (json.RawMessage, error)
}

// ResultCache is the cache surface the search flow needs. *CacheService
// satisfies it.
type ResultCache interface {
	Lookup(ctx context.Context, molecule string, countries []string) (*CacheHit, bool)
	Store(ctx context.Context, molecule string, countries []string, payload json.RawMessage) (string, error)
}

// QuotaKeeper is the subscription surface the search flow needs.
// *SubscriptionService satisfies it.
type QuotaKeeper interface {
	CheckQuota(ctx context.Context, userID string) error
	Consume(ctx context.Context, userID string) error
}

// HistoryRecorder persists completed searches. *HistoryService satisfies it.
type HistoryRecorder interface {
	Record(ctx context.Context, userID, fingerprint, jobID, sessionID string,
		molecule, brand string, countries []string, payload json.RawMessage) error
}

// SessionProvider resolves the caller's journey identifier. The LevelDB
// session store satisfies it.
type SessionProvider interface {
	GetOrCreate(userID string) (string, error)
}

// SearchInput is one search as submitted by a user.
type SearchInput struct {
	Molecule  string
	Brand     string
	Countries []string
}

// SearchOutcome is the terminal result of an orchestrated search.
type SearchOutcome struct {
	// Result is the full backend payload, byte-for-byte.
	Result json.RawMessage
	// FromCache is true when no backend job ran.
	FromCache bool
	// JobID identifies the backend job; empty on cache hits.
	JobID string
	// Fingerprint is the cache identity of this search.
	Fingerprint string
}

// SearchService orchestrates the full search flow.
type SearchService struct {
	Starter JobStarter
	Runner  JobRunner
	Cache   ResultCache
	Quota   QuotaKeeper
	History HistoryRecorder
	// Sessions may be nil; searches then carry no session id.
	Sessions SessionProvider

	// now is injectable for tests.
	now func() time.Time
}

// NewSearchService wires the search flow over its collaborators.
func NewSearchService(starter JobStarter, runner JobRunner, cache ResultCache,
	quota QuotaKeeper, history HistoryRecorder, sessions SessionProvider) *SearchService {
	return &SearchService{
		Starter:  starter,
		Runner:   runner,
		Cache:    cache,
		Quota:    quota,
		History:  history,
		Sessions: sessions,
		now:      time.Now,
	}
}

func (s *SearchService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Run executes one search for a user.
//
// Order of operations:
//  1. Reject an empty molecule before any I/O.
//  2. Cache lookup; a hit is returned immediately, consumes no quota, and
//     still refreshes the user's history row.
//  3. Quota gate; an exhausted quota rejects before any backend call.
//  4. Start the backend job and poll it to a terminal state; onProgress
//     (when non-nil) receives every status snapshot.
//  5. On success: cache the payload, record history, consume quota. None of
//     these can fail the request.
//
// Terminal errors are the poller's: *backend.JobError,
// *backend.PollingExhaustedError, backend.ErrSearchTimeout (wrapped), or the
// caller's ctx.Err().
func (s *SearchService) Run(ctx context.Context, userID string, in SearchInput, onProgress func(backend.Job)) (*SearchOutcome, error) {
	if domain.NormalizeMolecule(in.Molecule) == "" {
		return nil, ErrEmptyMolecule
	}
	sessionID := s.sessionID(userID)

	if hit, ok := s.Cache.Lookup(ctx, in.Molecule, in.Countries); ok {
		searches.WithLabelValues(searchOutcomeCacheHit).Inc()
		s.record(ctx, userID, hit.Fingerprint, "", sessionID, in, hit.Payload)
		return &SearchOutcome{
			Result:      hit.Payload,
			FromCache:   true,
			Fingerprint: hit.Fingerprint,
		}, nil
	}

	if err := s.Quota.CheckQuota(ctx, userID); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			searches.WithLabelValues(searchOutcomeRejected).Inc()
		}
		return nil, err
	}

	started := s.clock()
	jobID, err := s.Starter.Start(ctx, backend.SearchRequest{
		Molecule:  in.Molecule,
		Brand:     in.Brand,
		Countries: in.Countries,
	})
	if err != nil {
		searches.WithLabelValues(searchOutcomeRejected).Inc()
		return nil, err
	}

	payload, err := s.Runner.Run(ctx, jobID, onProgress)
	if err != nil {
		searches.WithLabelValues(searchErrOutcome(err)).Inc()
		return nil, err
	}
	searchDuration.Observe(s.clock().Sub(started).Seconds())
	searches.WithLabelValues(searchOutcomeSuccess).Inc()

	fp, storeErr := s.Cache.Store(ctx, in.Molecule, in.Countries, payload)
	if storeErr != nil {
		log.Warn().Err(storeErr).Str("fingerprint", fp).Str("job_id", jobID).
			Msg("result obtained but cache write failed")
	}
	s.record(ctx, userID, fp, jobID, sessionID, in, payload)

	if err := s.Quota.Consume(ctx, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("quota consumption failed after successful search")
	}

	return &SearchOutcome{
		Result:      payload,
		FromCache:   false,
		JobID:       jobID,
		Fingerprint: fp,
	}, nil
}

// sessionID resolves the journey identifier, degrading to empty on error.
func (s *SearchService) sessionID(userID string) string {
	if s.Sessions == nil {
		return ""
	}
	id, err := s.Sessions.GetOrCreate(userID)
	if err != nil {
		log.Debug().Err(err).Str("user_id", userID).Msg("session lookup failed")
		return ""
	}
	return id
}

// record writes the history row, swallowing failures.
func (s *SearchService) record(ctx context.Context, userID, fp, jobID, sessionID string, in SearchInput, payload json.RawMessage) {
	if err := s.History.Record(ctx, userID, fp, jobID, sessionID, in.Molecule, in.Brand, in.Countries, payload); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("fingerprint", fp).
			Msg("history write failed")
	}
}

// searchErrOutcome maps a terminal poller error to a metric label.
func searchErrOutcome(err error) string {
	var jobErr *backend.JobError
	var exhausted *backend.PollingExhaustedError
	switch {
	case errors.As(err, &jobErr):
		return searchOutcomeJobFailed
	case errors.As(err, &exhausted):
		return searchOutcomeExhausted
	case errors.Is(err, backend.ErrSearchTimeout):
		return searchOutcomeTimeout
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return searchOutcomeCancelled
	default:
		return searchOutcomeJobFailed
	}
}
