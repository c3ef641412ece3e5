package reporter

import (
	"context"

	"go.uber.org/fx"

	"github.com/metergate/metergate/internal/clock"
)

var Module = fx.Module("reporter",
	fx.Provide(
		provideClock,
		New,
	),
	fx.Invoke(Register),
)

func provideClock() clock.Clock {
	return clock.SystemClock{}
}

func Register(lc fx.Lifecycle, r *Reporter) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go r.RunForever(ctx)

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
