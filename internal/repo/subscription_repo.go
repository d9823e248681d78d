// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for subscription
// and quota bookkeeping.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-patent-backend/internal/domain"
)

// GetSubscription fetches a user's subscription row, or ErrNotFound.
func GetSubscription(ctx context.Context, db *gorm.DB, userID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateSubscription inserts a fresh subscription on the given plan with an
// empty usage counter and the period anchored at now.
func CreateSubscription(ctx context.Context, db *gorm.DB, userID, plan string) (*domain.Subscription, error) {
	now := time.Now().UTC()
	sub := &domain.Subscription{
		UserID:      userID,
		Plan:        plan,
		PeriodStart: now,
		CreatedAt:   now,
	}
	if err := db.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, err
	}
	return sub, nil
}

// UpdateSubscription persists plan, usage counter, and period anchor for a
// user. Returns ErrNotFound when no row was affected.
func UpdateSubscription(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	res := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("user_id = ?", sub.UserID).
		Updates(map[string]any{
			"plan":          sub.Plan,
			"searches_used": sub.SearchesUsed,
			"period_start":  sub.PeriodStart,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
