// Package services – HistoryService
//
// Per-user search history. A history row is written once a search has a
// result in hand (fresh from the backend or served from cache); repeating the
// same search merges into the existing row instead of duplicating it.
package services

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-patent-backend/internal/domain"
)

// HistoryRepo defines the repository contract required by HistoryService.
type HistoryRepo interface {
	// UpsertHistory merge-writes a history row keyed by its composite ID.
	UpsertHistory(ctx context.Context, db *gorm.DB, rec *domain.SearchHistory) error

	// GetHistory fetches a history row by ID ensuring it belongs to the user.
	GetHistory(ctx context.Context, db *gorm.DB, id, userID string) (*domain.SearchHistory, error)

	// CountHistory returns the total number of history rows for pagination.
	CountHistory(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// ListHistoryPage returns a page of history rows, most recent first.
	ListHistoryPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.SearchHistory, error)
}

// HistoryService records and serves per-user search history.
type HistoryService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the history repository used by this service.
	Repo HistoryRepo
}

// NewHistoryService constructs a HistoryService.
func NewHistoryService(db *gorm.DB, r HistoryRepo) *HistoryService {
	return &HistoryService{DB: db, Repo: r}
}

// Record writes (or refreshes) the history row for a completed search.
// Summary fields are decoded out of the payload; the payload itself is stored
// byte-for-byte. jobID is empty when the result came from cache.
func (s *HistoryService) Record(ctx context.Context, userID, fingerprint, jobID, sessionID string,
	molecule, brand string, countries []string, payload json.RawMessage) error {

	env := peekResult(payload)
	rec := &domain.SearchHistory{
		ID:              domain.HistoryID(userID, fingerprint),
		UserID:          userID,
		JobID:           jobID,
		SessionID:       sessionID,
		Molecule:        domain.NormalizeMolecule(molecule),
		Brand:           brand,
		Countries:       domain.CountriesLabel(countries),
		TotalPatents:    env.TotalPatents,
		FirstExpiration: env.FirstExpiration,
		Result:          payload,
	}
	return s.Repo.UpsertHistory(ctx, s.DB, rec)
}

// ListPage returns a page of the user's history, most recent first, along
// with the total row count. Invalid page/pageSize values fall back to
// defaults. List rows omit the stored payload.
func (s *HistoryService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.SearchHistory, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountHistory(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.SearchHistory{}, 0, nil
	}

	items, err := s.Repo.ListHistoryPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// Get fetches one history row including its stored result payload. Returns
// ErrHistoryNotFound when the row is absent or belongs to another user.
func (s *HistoryService) Get(ctx context.Context, userID, id string) (*domain.SearchHistory, error) {
	rec, err := s.Repo.GetHistory(ctx, s.DB, id, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrHistoryNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}
