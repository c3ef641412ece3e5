package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/metergate/metergate/internal/observability/metrics"
	usagedomain "github.com/metergate/metergate/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    usagedomain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    usagedomain.Repository
	metrics *metrics.Metrics
}

func New(p Params) usagedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) TrackRequest(ctx context.Context, rec usagedomain.CallRecord) {
	now := time.Now().UTC()

	event := &usagedomain.UsageEvent{
		ID:         s.genID.Generate(),
		UserID:     rec.UserID,
		APIKeyID:   rec.APIKeyID,
		Endpoint:   rec.Endpoint,
		Method:     rec.Method,
		StatusCode: rec.StatusCode,
		LatencyMs:  rec.Latency.Milliseconds(),
		CreatedAt:  now,
	}
	if err := s.repo.InsertEvent(ctx, s.db, event); err != nil {
		s.metrics.IncTrackingError()
		s.log.Error("usage event insert failed",
			zap.Int64("user_id", int64(rec.UserID)),
			zap.String("endpoint", rec.Endpoint),
			zap.Error(err),
		)
		return
	}

	if !rec.Billable() {
		return
	}

	entry := &usagedomain.PendingUsageEntry{
		ID:        s.genID.Generate(),
		UserID:    rec.UserID,
		Quantity:  1,
		Reported:  false,
		CreatedAt: now,
	}
	if err := s.repo.InsertPending(ctx, s.db, entry); err != nil {
		s.metrics.IncTrackingError()
		s.log.Error("pending usage insert failed",
			zap.Int64("user_id", int64(rec.UserID)),
			zap.Error(err),
		)
		return
	}

	s.metrics.IncUsageTracked()
}

func (s *Service) UnreportedTotals(ctx context.Context) ([]usagedomain.UnreportedUsage, error) {
	rows, err := s.repo.SumUnreported(ctx, s.db)
	if err != nil {
		return nil, err
	}

	// The snapshot is stamped after the aggregation returns, so every
	// entry the sum saw has created_at at or before CollectedAt. An entry
	// committed mid-query is then flipped together with the quantity that
	// already included it; stamping first would leave it unreported and
	// double-submit it on the next pass.
	collectedAt := time.Now().UTC()
	for i := range rows {
		rows[i].CollectedAt = collectedAt
	}
	return rows, nil
}

func (s *Service) MarkReported(ctx context.Context, userID snowflake.ID, collectedAt time.Time) error {
	marked, err := s.repo.MarkReported(ctx, s.db, userID, collectedAt, time.Now().UTC())
	if err != nil {
		return err
	}
	s.log.Debug("pending usage marked reported",
		zap.Int64("user_id", int64(userID)),
		zap.Int64("entries", marked),
	)
	return nil
}

func (s *Service) StatsByEndpoint(ctx context.Context, userID snowflake.ID, from, to time.Time) ([]usagedomain.EndpointStat, error) {
	return s.repo.StatsByEndpoint(ctx, s.db, userID, from, to)
}

func (s *Service) DailyCounts(ctx context.Context, userID snowflake.ID, days int) ([]usagedomain.DailyCount, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	return s.repo.DailyCounts(ctx, s.db, userID, since)
}

func (s *Service) CurrentMonthTotal(ctx context.Context, userID snowflake.ID) (int64, error) {
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return s.repo.CountEventsSince(ctx, s.db, userID, monthStart)
}

func (s *Service) SummaryRange(ctx context.Context, userID snowflake.ID, from, to time.Time) (*usagedomain.Summary, error) {
	return s.repo.SummaryRange(ctx, s.db, userID, from, to)
}

func (s *Service) CleanupOldEvents(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention)
	deleted, err := s.repo.DeleteEventsBefore(ctx, s.db, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.log.Info("old usage events deleted",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}
