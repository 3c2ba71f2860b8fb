package scheduler

import (
	"context"

	"go.uber.org/fx"

	"github.com/smallcrm/leadhook/internal/config"
)

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:    cfg.Reaper.Interval,
		StaleThreshold: cfg.Reaper.Threshold,
	}
}

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(StartScheduler),
)

func StartScheduler(lc fx.Lifecycle, sched *Scheduler) {
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			go sched.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}
