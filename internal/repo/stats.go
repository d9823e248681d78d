// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-patent-backend/internal/domain"
)

// HistoryStats returns aggregate metadata for a user's search history: the
// total number of rows and the maximum UpdatedAt timestamp among those rows.
//
// It executes two lightweight queries against the search_history table
// scoped to the provided userID. When the user has no history, the returned
// count is 0 and maxUpdatedAt is nil.
//
// Return values:
//   - count:        total history rows for userID
//   - maxUpdatedAt: pointer to the greatest UpdatedAt, or nil if no rows
//   - err:          database error, if any
func HistoryStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.SearchHistory{}).Where("user_id = ?", userID)

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// CacheStats returns aggregate metadata for the result cache: total index
// rows and total accumulated hits. Used by the health/ops surface.
func CacheStats(ctx context.Context, db *gorm.DB) (entries int64, hits int64, err error) {
	if err = db.WithContext(ctx).Model(&domain.CacheIndex{}).Count(&entries).Error; err != nil {
		return 0, 0, err
	}
	var row struct {
		Total int64
	}
	err = db.WithContext(ctx).
		Model(&domain.CacheIndex{}).
		Select("COALESCE(SUM(hit_count), 0) AS total").
		Scan(&row).Error
	return entries, row.Total, err
}
