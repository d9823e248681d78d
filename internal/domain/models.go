// Package domain defines the persistence models for the patent-search cache,
// per-user search history, and subscription bookkeeping. These types are
// mapped with GORM and form the core data layer of the backend.
package domain

import (
	"time"
)

// CacheIndex is the small, cheap-to-read half of the two-collection result
// cache. It is read first on every lookup; the large payload in CacheData is
// only fetched after an index hit.
//
// Fields:
//   - Fingerprint: deterministic 64-bit hash of the normalized search key,
//     rendered as 16 hex digits; primary key shared with CacheData.
//   - NormalizedKey: the exact normalized (molecule, countries) key the
//     fingerprint was derived from. Stored so a hash collision is detected
//     and treated as a miss instead of silently serving the wrong result.
//   - Molecule / Countries: normalized molecule name and the sorted,
//     comma-joined ISO country codes, kept for inspection and debugging.
//   - TotalPatents: denormalized result-count summary.
//   - HitCount: usage counter, incremented fire-and-forget on cache hits.
//   - UpdatedAt: freshness anchor; entries older than the freshness horizon
//     are treated as misses (passive expiry, the row is never deleted).
type CacheIndex struct {
	Fingerprint   string    `json:"fingerprint"    gorm:"type:char(16);primaryKey"`
	NormalizedKey string    `json:"normalized_key" gorm:"type:text;not null"`
	Molecule      string    `json:"molecule"       gorm:"type:varchar(255);not null;index"`
	Countries     string    `json:"countries"      gorm:"type:varchar(255);not null"`
	TotalPatents  int       `json:"total_patents"  gorm:"not null;default:0"`
	HitCount      int64     `json:"hit_count"      gorm:"not null;default:0"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for CacheIndex.
func (CacheIndex) TableName() string { return "patent_cache_index" }

// CacheData is the large half of the two-collection cache: the full backend
// search result, stored byte-for-byte. The cache layer never interprets the
// payload; it only round-trips it.
//
// Invariant: a CacheData row is written before its CacheIndex row, so a crash
// between the two writes leaves an unreachable orphan payload (harmless)
// rather than an index entry pointing at missing data.
type CacheData struct {
	Fingerprint string    `json:"fingerprint" gorm:"type:char(16);primaryKey"`
	Payload     []byte    `json:"-"           gorm:"type:blob;not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for CacheData.
func (CacheData) TableName() string { return "patent_cache_data" }

// SearchHistory records one completed search per user. Rows are written only
// after a job reaches the complete state and are never mutated afterwards,
// except for a timestamp refresh when the same (user, fingerprint) search is
// repeated and served from cache.
//
// Fields:
//   - ID: composite identity "<user_id>:<fingerprint>" so a repeated search
//     merges into the existing row instead of duplicating it.
//   - JobID: the backend job that produced the result ("" when the result
//     was served from cache and no job ran).
//   - SessionID: journey identifier from the session store; groups searches
//     performed within one user session.
//   - Molecule / Brand / Countries: denormalized request summary.
//   - TotalPatents / FirstExpiration: denormalized result summary.
//   - Result: the full search result payload, byte-for-byte.
type SearchHistory struct {
	ID              string    `json:"id"               gorm:"type:varchar(96);primaryKey"`
	UserID          string    `json:"user_id"          gorm:"type:varchar(64);not null;index:idx_user_history"`
	JobID           string    `json:"job_id"           gorm:"type:varchar(64)"`
	SessionID       string    `json:"session_id"       gorm:"type:char(36)"`
	Molecule        string    `json:"molecule"         gorm:"type:varchar(255);not null"`
	Brand           string    `json:"brand"            gorm:"type:varchar(255)"`
	Countries       string    `json:"countries"        gorm:"type:varchar(255);not null"`
	TotalPatents    int       `json:"total_patents"    gorm:"not null;default:0"`
	FirstExpiration string    `json:"first_expiration" gorm:"type:varchar(32)"`
	Result          []byte    `json:"-"                gorm:"type:blob"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the database table name for SearchHistory.
func (SearchHistory) TableName() string { return "search_history" }

// Subscription plans. Quotas are searches per 30-day period.
const (
	PlanFree         = "free"
	PlanProfessional = "professional"
	PlanEnterprise   = "enterprise"
)

// Subscription tracks the plan and quota consumption for one user. A row is
// created lazily with the free plan on first use.
type Subscription struct {
	UserID       string    `json:"user_id"       gorm:"type:varchar(64);primaryKey"`
	Plan         string    `json:"plan"          gorm:"type:varchar(16);not null;default:'free';check:plan IN ('free','professional','enterprise')"`
	SearchesUsed int       `json:"searches_used" gorm:"not null;default:0"`
	PeriodStart  time.Time `json:"period_start"  gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for Subscription.
func (Subscription) TableName() string { return "subscriptions" }

// Idempotency represents a recorded outcome of a previously processed search
// submission, keyed by (user_id, scope, key) where scope is the route
// template the key was presented on. It enables safe client retries of
// POST /searches without starting a second backend job.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:1"`
	Scope     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_scope_key,priority:3"`
	HistoryID string    `gorm:"type:TEXT NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// HistoryID builds the composite SearchHistory primary key for a user and a
// search fingerprint.
func HistoryID(userID, fingerprint string) string {
	return userID + ":" + fingerprint
}
