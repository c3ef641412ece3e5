// Package reporter reconciles locally accumulated usage with the
// billing provider on a fixed interval.
package reporter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/metergate/metergate/internal/billing/domain"
	"github.com/metergate/metergate/internal/clock"
	"github.com/metergate/metergate/internal/config"
	obsmetrics "github.com/metergate/metergate/internal/observability/metrics"
	usagedomain "github.com/metergate/metergate/internal/usage/domain"
	userdomain "github.com/metergate/metergate/internal/user/domain"
)

var ErrInvalidConfig = errors.New("invalid_reporter_config")

type Params struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	DB       *gorm.DB
	Clock    clock.Clock
	UsageSvc usagedomain.Service
	Users    userdomain.Repository
	Provider billingdomain.Provider
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Reporter struct {
	cfg      config.ReporterConfig
	log      *zap.Logger
	db       *gorm.DB
	clock    clock.Clock
	usageSvc usagedomain.Service
	users    userdomain.Repository
	provider billingdomain.Provider
	metrics  *obsmetrics.Metrics

	running atomic.Bool

	mu      sync.Mutex
	itemIDs map[string]string
}

func New(p Params) (*Reporter, error) {
	if p.Log == nil || p.DB == nil || p.Clock == nil || p.UsageSvc == nil || p.Users == nil || p.Provider == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Cfg.Reporter
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Reporter{
		cfg:      cfg,
		log:      p.Log.Named("reporter"),
		db:       p.DB,
		clock:    p.Clock,
		usageSvc: p.UsageSvc,
		users:    p.Users,
		provider: p.Provider,
		metrics:  p.Metrics,
		itemIDs:  make(map[string]string),
	}, nil
}

// RunOnce performs a single reconciliation pass. If a previous pass is
// still in flight the tick is skipped rather than stacked.
func (r *Reporter) RunOnce(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		r.metrics.IncReporterSkipped()
		r.log.Debug("previous reconciliation still running, skipping tick")
		return nil
	}
	defer r.running.Store(false)

	start := r.clock.Now()
	r.metrics.IncReporterPass()
	defer func() {
		r.metrics.ObserveReporterPass(r.clock.Now().Sub(start).Seconds())
	}()

	totals, err := r.usageSvc.UnreportedTotals(ctx)
	if err != nil {
		return err
	}
	if len(totals) == 0 {
		return nil
	}

	var passErr error
	for _, total := range totals {
		if ctx.Err() != nil {
			return errors.Join(passErr, ctx.Err())
		}
		if err := r.reportUser(ctx, total); err != nil {
			r.metrics.IncReporterOutcome("failure")
			r.log.Error("report usage",
				zap.String("user_id", total.UserID.String()),
				zap.Int64("quantity", total.TotalQuantity),
				zap.Error(err),
			)
			passErr = errors.Join(passErr, err)
			continue
		}
		r.metrics.IncReporterOutcome("success")
	}
	return passErr
}

func (r *Reporter) reportUser(ctx context.Context, total usagedomain.UnreportedUsage) error {
	user, err := r.users.FindByID(ctx, r.db, total.UserID)
	if err != nil {
		return err
	}
	if user == nil {
		r.log.Warn("pending usage for unknown user", zap.String("user_id", total.UserID.String()))
		return nil
	}
	if user.SubscriptionID == nil || *user.SubscriptionID == "" {
		r.log.Debug("user has no subscription, leaving usage pending",
			zap.String("user_id", total.UserID.String()),
		)
		return nil
	}

	itemID, err := r.subscriptionItem(ctx, *user.SubscriptionID)
	if err != nil {
		return err
	}

	recordID, err := r.provider.SubmitUsage(ctx, itemID, total.TotalQuantity, total.CollectedAt)
	if err != nil {
		// The cached item may have been rotated; refetch next pass.
		r.invalidateItem(*user.SubscriptionID)
		return err
	}

	// Only entries covered by the aggregation snapshot are flipped;
	// anything tracked since stays pending for the next pass.
	if err := r.usageSvc.MarkReported(ctx, total.UserID, total.CollectedAt); err != nil {
		r.log.Error("mark reported after submission",
			zap.String("user_id", total.UserID.String()),
			zap.String("usage_record_id", recordID),
			zap.Error(err),
		)
		return err
	}

	r.log.Info("usage reported",
		zap.String("user_id", total.UserID.String()),
		zap.Int64("quantity", total.TotalQuantity),
		zap.String("usage_record_id", recordID),
	)
	return nil
}

func (r *Reporter) subscriptionItem(ctx context.Context, subscriptionID string) (string, error) {
	r.mu.Lock()
	itemID, ok := r.itemIDs[subscriptionID]
	r.mu.Unlock()
	if ok {
		return itemID, nil
	}

	itemID, err := r.provider.SubscriptionItemID(ctx, subscriptionID)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.itemIDs[subscriptionID] = itemID
	r.mu.Unlock()
	return itemID, nil
}

func (r *Reporter) invalidateItem(subscriptionID string) {
	r.mu.Lock()
	delete(r.itemIDs, subscriptionID)
	r.mu.Unlock()
}

// RunCleanup drops usage events past the retention window.
func (r *Reporter) RunCleanup(ctx context.Context) error {
	if r.cfg.LogRetentionDays <= 0 {
		return nil
	}
	retention := time.Duration(r.cfg.LogRetentionDays) * 24 * time.Hour
	deleted, err := r.usageSvc.CleanupOldEvents(ctx, retention)
	if err != nil {
		return err
	}
	if deleted > 0 {
		r.log.Info("cleaned up usage events",
			zap.Int64("deleted", deleted),
			zap.Int("retention_days", r.cfg.LogRetentionDays),
		)
	}
	return nil
}

// RunForever runs reconciliation passes until ctx is canceled. The
// first pass happens immediately, cleanup at most once a day.
func (r *Reporter) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	var lastCleanup time.Time
	for {
		if err := r.RunOnce(ctx); err != nil {
			r.log.Warn("reconciliation pass failed", zap.Error(err))
		}
		if r.cfg.LogRetentionDays > 0 && r.clock.Now().Sub(lastCleanup) >= 24*time.Hour {
			if err := r.RunCleanup(ctx); err != nil {
				r.log.Warn("usage cleanup failed", zap.Error(err))
			}
			lastCleanup = r.clock.Now()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
