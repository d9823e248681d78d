// Package services – CacheService
//
// This file implements the result cache policy over the two-collection store
// (patent_cache_index / patent_cache_data). The repository layer only moves
// rows; everything that makes it a cache lives here: fingerprinting, the
// index-then-data read order, collision and orphan handling, the freshness
// horizon, and the fail-open posture.
//
// Reads never fail the caller: any storage error, inconsistency, or stale
// entry degrades to a miss and the search proceeds against the backend.
// Writes are best-effort; the caller decides whether a failed write is fatal
// (it never is for the search flow).
package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-patent-backend/internal/domain"
)

// DefaultCacheFreshness is the horizon beyond which an entry is treated as a
// miss. Entries are never deleted on read; a stale row simply stops being
// served and is overwritten by the next successful search.
const DefaultCacheFreshness = 30 * 24 * time.Hour

// hitCounterTimeout bounds the detached hit-counter write so it cannot hang
// on a wedged database.
const hitCounterTimeout = 5 * time.Second

// CacheRepo defines the repository contract required by CacheService.
type CacheRepo interface {
	// GetCacheIndex fetches the index record for a fingerprint.
	GetCacheIndex(ctx context.Context, db *gorm.DB, fingerprint string) (*domain.CacheIndex, error)

	// GetCacheData fetches the payload record for a fingerprint.
	GetCacheData(ctx context.Context, db *gorm.DB, fingerprint string) (*domain.CacheData, error)

	// UpsertCacheData merge-writes the payload row.
	UpsertCacheData(ctx context.Context, db *gorm.DB, fingerprint string, payload []byte) error

	// UpsertCacheIndex merge-writes the index row.
	UpsertCacheIndex(ctx context.Context, db *gorm.DB, idx *domain.CacheIndex) error

	// IncrementCacheHit bumps the usage counter on an index row.
	IncrementCacheHit(ctx context.Context, db *gorm.DB, fingerprint string) error
}

// CacheHit is a successful cache lookup: the stored payload plus the index
// row it was found under.
type CacheHit struct {
	Fingerprint  string
	Payload      json.RawMessage
	TotalPatents int
	CachedAt     time.Time
}

// CacheService applies cache policy on top of CacheRepo.
type CacheService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the cache repository used by this service.
	Repo CacheRepo

	// Freshness is the maximum age served from cache. Zero selects
	// DefaultCacheFreshness.
	Freshness time.Duration

	// now is injectable for tests.
	now func() time.Time
}

// NewCacheService constructs a CacheService with the default freshness horizon.
func NewCacheService(db *gorm.DB, r CacheRepo) *CacheService {
	return &CacheService{
		DB:        db,
		Repo:      r,
		Freshness: DefaultCacheFreshness,
		now:       time.Now,
	}
}

func (s *CacheService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *CacheService) freshness() time.Duration {
	if s.Freshness > 0 {
		return s.Freshness
	}
	return DefaultCacheFreshness
}

// Lookup checks the cache for a (molecule, countries) search. The boolean is
// true only on a usable hit; every other path (absent, stale, collision,
// orphaned index, storage error, unusable input) is a miss and never returns
// an error.
//
// On a hit the usage counter is incremented on a detached goroutine; the
// outcome of that write never affects the caller.
func (s *CacheService) Lookup(ctx context.Context, molecule string, countries []string) (*CacheHit, bool) {
	key := domain.NormalizedKey(molecule, countries)
	if domain.NormalizeMolecule(molecule) == "" {
		cacheLookups.WithLabelValues(cacheOutcomeInvalidInput).Inc()
		return nil, false
	}
	fp := domain.Fingerprint(molecule, countries)

	idx, err := s.Repo.GetCacheIndex(ctx, s.DB, fp)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cacheLookups.WithLabelValues(cacheOutcomeAbsent).Inc()
			return nil, false
		}
		log.Warn().Err(err).Str("fingerprint", fp).Msg("cache index read failed; treating as miss")
		cacheLookups.WithLabelValues(cacheOutcomeReadError).Inc()
		return nil, false
	}

	// Same 64-bit hash, different key: serve nothing rather than the wrong
	// molecule's patents.
	if idx.NormalizedKey != key {
		log.Warn().
			Str("fingerprint", fp).
			Str("stored_key", idx.NormalizedKey).
			Msg("cache fingerprint collision; treating as miss")
		cacheLookups.WithLabelValues(cacheOutcomeCollision).Inc()
		return nil, false
	}

	if s.clock().Sub(idx.UpdatedAt) > s.freshness() {
		cacheLookups.WithLabelValues(cacheOutcomeStale).Inc()
		return nil, false
	}

	data, err := s.Repo.GetCacheData(ctx, s.DB, fp)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Index without payload: a partial write we failed to finish.
			log.Warn().Str("fingerprint", fp).Msg("cache index present but payload missing; treating as miss")
			cacheLookups.WithLabelValues(cacheOutcomeOrphan).Inc()
		} else {
			log.Warn().Err(err).Str("fingerprint", fp).Msg("cache payload read failed; treating as miss")
			cacheLookups.WithLabelValues(cacheOutcomeReadError).Inc()
		}
		return nil, false
	}

	cacheLookups.WithLabelValues(cacheOutcomeHit).Inc()
	s.bumpHitCounter(fp)

	return &CacheHit{
		Fingerprint:  fp,
		Payload:      json.RawMessage(data.Payload),
		TotalPatents: idx.TotalPatents,
		CachedAt:     idx.UpdatedAt,
	}, true
}

// bumpHitCounter increments the usage counter without blocking the request
// and without inheriting its cancellation.
func (s *CacheService) bumpHitCounter(fingerprint string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), hitCounterTimeout)
		defer cancel()
		if err := s.Repo.IncrementCacheHit(ctx, s.DB, fingerprint); err != nil {
			log.Debug().Err(err).Str("fingerprint", fingerprint).Msg("cache hit counter increment failed")
		}
	}()
}

// Store writes a completed search result into the cache: the payload row
// first, then the index row, so an interruption leaves an unreachable orphan
// payload instead of an index entry pointing at nothing.
//
// The payload is stored byte-for-byte; only the summary fields on the index
// row are decoded out of it. Returns the fingerprint the entry was stored
// under.
func (s *CacheService) Store(ctx context.Context, molecule string, countries []string, payload json.RawMessage) (string, error) {
	fp := domain.Fingerprint(molecule, countries)

	if err := s.Repo.UpsertCacheData(ctx, s.DB, fp, payload); err != nil {
		cacheWriteFailures.Inc()
		return fp, err
	}

	env := peekResult(payload)
	idx := &domain.CacheIndex{
		Fingerprint:   fp,
		NormalizedKey: domain.NormalizedKey(molecule, countries),
		Molecule:      domain.NormalizeMolecule(molecule),
		Countries:     domain.CountriesLabel(countries),
		TotalPatents:  env.TotalPatents,
	}
	if err := s.Repo.UpsertCacheIndex(ctx, s.DB, idx); err != nil {
		cacheWriteFailures.Inc()
		return fp, err
	}
	return fp, nil
}
