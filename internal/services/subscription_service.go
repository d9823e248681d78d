// Package services – SubscriptionService
//
// Plan and quota bookkeeping. Each user holds one subscription row, created
// lazily on the free plan. Quotas are counted per rolling 30-day period: when
// a period has elapsed the counter resets and the period re-anchors at the
// moment of the next quota-consuming action.
//
// Quota is checked before a backend job is started and consumed only when a
// search completes successfully. Cache hits never consume quota.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-patent-backend/internal/domain"
)

// QuotaPeriod is the length of one quota accounting period.
const QuotaPeriod = 30 * 24 * time.Hour

// QuotaUnlimited marks a plan with no search ceiling.
const QuotaUnlimited = -1

// planQuotas maps each plan to its searches-per-period allowance.
var planQuotas = map[string]int{
	domain.PlanFree:         5,
	domain.PlanProfessional: 100,
	domain.PlanEnterprise:   QuotaUnlimited,
}

// PlanQuota returns the per-period allowance for a plan, or ErrUnknownPlan.
func PlanQuota(plan string) (int, error) {
	q, ok := planQuotas[plan]
	if !ok {
		return 0, ErrUnknownPlan
	}
	return q, nil
}

// SubscriptionRepo defines the repository contract required by
// SubscriptionService.
type SubscriptionRepo interface {
	// GetSubscription fetches a user's subscription row.
	GetSubscription(ctx context.Context, db *gorm.DB, userID string) (*domain.Subscription, error)

	// CreateSubscription inserts a fresh subscription on the given plan.
	CreateSubscription(ctx context.Context, db *gorm.DB, userID, plan string) (*domain.Subscription, error)

	// UpdateSubscription persists plan, usage, and period anchor.
	UpdateSubscription(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error
}

// QuotaStatus is the user-facing view of a subscription's current period.
type QuotaStatus struct {
	Plan      string    `json:"plan"`
	Limit     int       `json:"limit"` // QuotaUnlimited means no ceiling
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"` // QuotaUnlimited when Limit is unlimited
	ResetsAt  time.Time `json:"resets_at"`
}

// SubscriptionService manages plans and quota consumption.
type SubscriptionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the subscription repository used by this service.
	Repo SubscriptionRepo

	// now is injectable for tests.
	now func() time.Time
}

// NewSubscriptionService constructs a SubscriptionService.
func NewSubscriptionService(db *gorm.DB, r SubscriptionRepo) *SubscriptionService {
	return &SubscriptionService{DB: db, Repo: r, now: time.Now}
}

func (s *SubscriptionService) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

// get fetches the user's subscription, creating a free one on first use.
// The period is rolled over in memory when it has lapsed; rollover is
// persisted lazily by the next Consume.
func (s *SubscriptionService) get(ctx context.Context, userID string) (*domain.Subscription, error) {
	sub, err := s.Repo.GetSubscription(ctx, s.DB, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.Repo.CreateSubscription(ctx, s.DB, userID, domain.PlanFree)
	}
	if err != nil {
		return nil, err
	}
	s.rollover(sub)
	return sub, nil
}

// rollover resets the usage counter when the current period has elapsed.
func (s *SubscriptionService) rollover(sub *domain.Subscription) {
	now := s.clock()
	if now.Sub(sub.PeriodStart) >= QuotaPeriod {
		sub.PeriodStart = now
		sub.SearchesUsed = 0
	}
}

// Status reports the user's plan and remaining quota for the current period.
func (s *SubscriptionService) Status(ctx context.Context, userID string) (*QuotaStatus, error) {
	sub, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	limit := planQuotas[sub.Plan]

	st := &QuotaStatus{
		Plan:     sub.Plan,
		Limit:    limit,
		Used:     sub.SearchesUsed,
		ResetsAt: sub.PeriodStart.Add(QuotaPeriod),
	}
	if limit == QuotaUnlimited {
		st.Remaining = QuotaUnlimited
	} else if st.Remaining = limit - sub.SearchesUsed; st.Remaining < 0 {
		st.Remaining = 0
	}
	return st, nil
}

// CheckQuota returns ErrQuotaExceeded when the user has no searches left in
// the current period. It does not consume anything.
func (s *SubscriptionService) CheckQuota(ctx context.Context, userID string) error {
	sub, err := s.get(ctx, userID)
	if err != nil {
		return err
	}
	limit := planQuotas[sub.Plan]
	if limit != QuotaUnlimited && sub.SearchesUsed >= limit {
		return ErrQuotaExceeded
	}
	return nil
}

// Consume records one successful search against the user's quota, persisting
// any pending period rollover along with the incremented counter. Unlimited
// plans still count usage for reporting.
func (s *SubscriptionService) Consume(ctx context.Context, userID string) error {
	sub, err := s.get(ctx, userID)
	if err != nil {
		return err
	}
	sub.SearchesUsed++
	return s.Repo.UpdateSubscription(ctx, s.DB, sub)
}

// ChangePlan switches the user to a different plan. Usage and the period
// anchor carry over unchanged; only the ceiling moves.
func (s *SubscriptionService) ChangePlan(ctx context.Context, userID, plan string) (*QuotaStatus, error) {
	if _, err := PlanQuota(plan); err != nil {
		return nil, err
	}
	sub, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}
	sub.Plan = plan
	if err := s.Repo.UpdateSubscription(ctx, s.DB, sub); err != nil {
		return nil, err
	}
	return s.Status(ctx, userID)
}
