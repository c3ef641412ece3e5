package ratelimit

import (
	"context"
	"time"

	"github.com/metergate/metergate/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewUserLimiter),
)

// NewUserLimiter builds the per-user limiter from config, choosing the
// Redis store when an address is configured and the in-process map
// otherwise.
func NewUserLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *Limiter {
	limitCfg := cfg.RateLimit

	if limitCfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     limitCfg.RedisAddr,
			Password: limitCfg.RedisPassword,
			DB:       limitCfg.RedisDB,
		})
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
		log.Named("ratelimit").Info("using redis window counter store",
			zap.String("addr", limitCfg.RedisAddr),
		)
		return NewLimiter(NewRedisStore(client), limitCfg.MaxRequests, limitCfg.Window)
	}

	store := NewMemoryStore()
	startSweeper(lc, store, limitCfg.Window)
	return NewLimiter(store, limitCfg.MaxRequests, limitCfg.Window)
}

func startSweeper(lc fx.Lifecycle, store *MemoryStore, window time.Duration) {
	maxAge := 3 * window
	if maxAge < 3*time.Minute {
		maxAge = 3 * time.Minute
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				ticker := time.NewTicker(maxAge)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						store.Sweep(maxAge)
					}
				}
			}()

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
