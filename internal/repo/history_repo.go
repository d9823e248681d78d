// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for per-user
// search history.
//
// History rows are merge-written: repeating a search for the same
// (user, fingerprint) refreshes the existing row's timestamp and summary
// instead of inserting a duplicate. Rows are otherwise immutable.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-patent-backend/internal/domain"
)

// UpsertHistory merge-writes a history row keyed by its composite ID.
// On conflict the summary fields and timestamp are refreshed; CreatedAt is
// preserved.
func UpsertHistory(ctx context.Context, db *gorm.DB, rec *domain.SearchHistory) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"job_id", "session_id", "brand", "total_patents",
				"first_expiration", "result", "updated_at",
			}),
		}).
		Create(rec).Error
}

// GetHistory fetches a single history row by ID ensuring it belongs to the
// user. Returns ErrNotFound when absent.
func GetHistory(ctx context.Context, db *gorm.DB, id, userID string) (*domain.SearchHistory, error) {
	var rec domain.SearchHistory
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CountHistory returns the total number of history rows for a user.
func CountHistory(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.SearchHistory{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListHistoryPage returns a page of history rows for a user, most recent
// first. The full result payload is omitted from list rows to keep pages
// small; fetch an individual row for the payload.
func ListHistoryPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.SearchHistory, error) {
	var out []domain.SearchHistory
	err := db.WithContext(ctx).
		Omit("result").
		Where("user_id = ?", userID).
		Order("updated_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
