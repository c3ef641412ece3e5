package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/metergate/metergate/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *usagedomain.UsageEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_events (id, user_id, api_key_id, endpoint, method, status_code, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.UserID,
		event.APIKeyID,
		event.Endpoint,
		event.Method,
		event.StatusCode,
		event.LatencyMs,
		event.CreatedAt,
	).Error
}

func (r *repo) InsertPending(ctx context.Context, db *gorm.DB, entry *usagedomain.PendingUsageEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO pending_usage_entries (id, user_id, quantity, reported, created_at, reported_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.UserID,
		entry.Quantity,
		entry.Reported,
		entry.CreatedAt,
		entry.ReportedAt,
	).Error
}

func (r *repo) SumUnreported(ctx context.Context, db *gorm.DB) ([]usagedomain.UnreportedUsage, error) {
	var rows []usagedomain.UnreportedUsage
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, SUM(quantity) AS total_quantity
		 FROM pending_usage_entries
		 WHERE reported = ?
		 GROUP BY user_id`,
		false,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) MarkReported(ctx context.Context, db *gorm.DB, userID snowflake.ID, before, reportedAt time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE pending_usage_entries
		 SET reported = ?, reported_at = ?
		 WHERE user_id = ? AND reported = ? AND created_at <= ?`,
		true,
		reportedAt,
		userID,
		false,
		before,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) StatsByEndpoint(ctx context.Context, db *gorm.DB, userID snowflake.ID, from, to time.Time) ([]usagedomain.EndpointStat, error) {
	var rows []usagedomain.EndpointStat
	err := db.WithContext(ctx).Raw(
		`SELECT endpoint, method, COUNT(*) AS call_count, AVG(latency_ms) AS avg_latency_ms
		 FROM usage_events
		 WHERE user_id = ? AND created_at >= ? AND created_at < ?
		 GROUP BY endpoint, method
		 ORDER BY call_count DESC`,
		userID,
		from,
		to,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) DailyCounts(ctx context.Context, db *gorm.DB, userID snowflake.ID, since time.Time) ([]usagedomain.DailyCount, error) {
	var rows []usagedomain.DailyCount
	err := db.WithContext(ctx).Raw(
		`SELECT DATE(created_at) AS date, COUNT(*) AS call_count
		 FROM usage_events
		 WHERE user_id = ? AND created_at >= ?
		 GROUP BY DATE(created_at)
		 ORDER BY date DESC`,
		userID,
		since,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) CountEventsSince(ctx context.Context, db *gorm.DB, userID snowflake.ID, since time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM usage_events WHERE user_id = ? AND created_at >= ?`,
		userID,
		since,
	).Scan(&count).Error
	return count, err
}

func (r *repo) SummaryRange(ctx context.Context, db *gorm.DB, userID snowflake.ID, from, to time.Time) (*usagedomain.Summary, error) {
	var summary usagedomain.Summary
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS total_calls,
		        COALESCE(AVG(latency_ms), 0) AS avg_latency_ms,
		        MIN(created_at) AS first_call,
		        MAX(created_at) AS last_call
		 FROM usage_events
		 WHERE user_id = ? AND created_at >= ? AND created_at < ?`,
		userID,
		from,
		to,
	).Scan(&summary).Error
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (r *repo) DeleteEventsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`DELETE FROM usage_events WHERE created_at < ?`,
		cutoff,
	)
	return result.RowsAffected, result.Error
}
