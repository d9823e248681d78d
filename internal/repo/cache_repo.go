// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// two-collection result cache (patent_cache_index / patent_cache_data).
//
// All functions are context-aware and accept a *gorm.DB handle. They follow
// the "thin repository" approach: no freshness policy, no fingerprint
// computation, only row-level reads and writes. Policy (freshness horizon,
// collision checks, fail-open semantics) lives in services.CacheService.
//
// Error semantics:
//   - When a row is absent, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - On DB errors the raw gorm error is propagated.
//
// Concurrency: the cache is shared state with no locking. Concurrent writers
// for the same fingerprint race at the row level and last write wins; both
// upsert helpers are merge-writes so the race never produces a constraint
// error, only an older payload being overwritten.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-patent-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetCacheIndex fetches the index record for fingerprint, or ErrNotFound.
func GetCacheIndex(ctx context.Context, db *gorm.DB, fingerprint string) (*domain.CacheIndex, error) {
	var idx domain.CacheIndex
	err := db.WithContext(ctx).
		Where("fingerprint = ?", fingerprint).
		First(&idx).Error
	if err != nil {
		return nil, err
	}
	return &idx, nil
}

// GetCacheData fetches the payload record for fingerprint, or ErrNotFound.
// Read only after an index hit; an absent row despite a present index is an
// inconsistency the caller treats as a miss.
func GetCacheData(ctx context.Context, db *gorm.DB, fingerprint string) (*domain.CacheData, error) {
	var data domain.CacheData
	err := db.WithContext(ctx).
		Where("fingerprint = ?", fingerprint).
		First(&data).Error
	if err != nil {
		return nil, err
	}
	return &data, nil
}

// UpsertCacheData merge-writes the payload row for a fingerprint. Written
// BEFORE the index row so a crash in between leaves an orphan payload rather
// than a dangling index entry.
func UpsertCacheData(ctx context.Context, db *gorm.DB, fingerprint string, payload []byte) error {
	now := time.Now().UTC()
	row := &domain.CacheData{
		Fingerprint: fingerprint,
		Payload:     payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fingerprint"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(row).Error
}

// UpsertCacheIndex merge-writes the index row for a fingerprint, refreshing
// the freshness anchor (updated_at). The hit counter is preserved on update.
func UpsertCacheIndex(ctx context.Context, db *gorm.DB, idx *domain.CacheIndex) error {
	now := time.Now().UTC()
	idx.CreatedAt = now
	idx.UpdatedAt = now
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "fingerprint"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"normalized_key", "molecule", "countries", "total_patents", "updated_at",
			}),
		}).
		Create(idx).Error
}

// IncrementCacheHit bumps the usage counter on an index row. Invoked
// fire-and-forget on cache hits; the caller ignores the error beyond logging.
func IncrementCacheHit(ctx context.Context, db *gorm.DB, fingerprint string) error {
	return db.WithContext(ctx).
		Model(&domain.CacheIndex{}).
		Where("fingerprint = ?", fingerprint).
		UpdateColumn("hit_count", gorm.Expr("hit_count + 1")).Error
}

// DeleteCacheData removes the payload row for a fingerprint. Used by tests
// and maintenance tooling; the read path never deletes (passive expiry only).
func DeleteCacheData(ctx context.Context, db *gorm.DB, fingerprint string) error {
	return db.WithContext(ctx).
		Where("fingerprint = ?", fingerprint).
		Delete(&domain.CacheData{}).Error
}
