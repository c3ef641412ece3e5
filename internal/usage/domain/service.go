package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// CallRecord describes one completed request for tracking.
type CallRecord struct {
	UserID     snowflake.ID
	APIKeyID   snowflake.ID
	Endpoint   string
	Method     string
	StatusCode int
	Latency    time.Duration
}

// Billable reports whether the call counts toward metered usage.
// Error responses (4xx/5xx) are not billed.
func (r CallRecord) Billable() bool {
	return r.StatusCode < 400
}

// UnreportedUsage is the reconciliation input: the unreported quantity sum
// for one user at CollectedAt.
type UnreportedUsage struct {
	UserID        snowflake.ID `gorm:"column:user_id"`
	TotalQuantity int64        `gorm:"column:total_quantity"`
	CollectedAt   time.Time    `gorm:"-"`
}

// EndpointStat is a per-endpoint aggregate over a date range.
type EndpointStat struct {
	Endpoint     string  `gorm:"column:endpoint" json:"endpoint"`
	Method       string  `gorm:"column:method" json:"method"`
	CallCount    int64   `gorm:"column:call_count" json:"call_count"`
	AvgLatencyMs float64 `gorm:"column:avg_latency_ms" json:"avg_latency_ms"`
}

// DailyCount is the number of calls on one day.
type DailyCount struct {
	Date      string `gorm:"column:date" json:"date"`
	CallCount int64  `gorm:"column:call_count" json:"call_count"`
}

// Summary aggregates a user's calls over a date range.
type Summary struct {
	TotalCalls   int64      `gorm:"column:total_calls" json:"total_calls"`
	AvgLatencyMs float64    `gorm:"column:avg_latency_ms" json:"avg_latency_ms"`
	FirstCall    *time.Time `gorm:"column:first_call" json:"first_call"`
	LastCall     *time.Time `gorm:"column:last_call" json:"last_call"`
}

type Service interface {
	// TrackRequest records the call event and, for billable outcomes,
	// enqueues a pending usage increment. It never returns an error:
	// accounting is best-effort relative to serving the request, so
	// failures are logged and absorbed.
	TrackRequest(ctx context.Context, rec CallRecord)

	// UnreportedTotals aggregates reported=false entries grouped by user.
	UnreportedTotals(ctx context.Context) ([]UnreportedUsage, error)

	// MarkReported flips entries for userID created at or before the
	// aggregation snapshot. Entries inserted after the snapshot stay
	// unreported and are picked up by the next pass.
	MarkReported(ctx context.Context, userID snowflake.ID, collectedAt time.Time) error

	StatsByEndpoint(ctx context.Context, userID snowflake.ID, from, to time.Time) ([]EndpointStat, error)
	DailyCounts(ctx context.Context, userID snowflake.ID, days int) ([]DailyCount, error)
	CurrentMonthTotal(ctx context.Context, userID snowflake.ID) (int64, error)
	SummaryRange(ctx context.Context, userID snowflake.ID, from, to time.Time) (*Summary, error)

	// CleanupOldEvents deletes usage events older than the retention window.
	// Pending usage entries are never cleaned up by this path.
	CleanupOldEvents(ctx context.Context, retention time.Duration) (int64, error)
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *UsageEvent) error
	InsertPending(ctx context.Context, db *gorm.DB, entry *PendingUsageEntry) error
	SumUnreported(ctx context.Context, db *gorm.DB) ([]UnreportedUsage, error)
	MarkReported(ctx context.Context, db *gorm.DB, userID snowflake.ID, before, reportedAt time.Time) (int64, error)
	StatsByEndpoint(ctx context.Context, db *gorm.DB, userID snowflake.ID, from, to time.Time) ([]EndpointStat, error)
	DailyCounts(ctx context.Context, db *gorm.DB, userID snowflake.ID, since time.Time) ([]DailyCount, error)
	CountEventsSince(ctx context.Context, db *gorm.DB, userID snowflake.ID, since time.Time) (int64, error)
	SummaryRange(ctx context.Context, db *gorm.DB, userID snowflake.ID, from, to time.Time) (*Summary, error)
	DeleteEventsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

var ErrInvalidQuantity = errors.New("invalid_quantity")
