// Package scheduler runs the periodic reaper that sweeps ledger rows stuck
// in processing past the staleness threshold back to failed, so a crashed
// instance's events become eligible for redelivery.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallcrm/leadhook/internal/clock"
	eventdomain "github.com/smallcrm/leadhook/internal/event/domain"
	"github.com/smallcrm/leadhook/internal/observability/metrics"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

// Config controls the sweep interval and the staleness threshold. The
// threshold must comfortably exceed the per-event timeout, otherwise the
// reaper would fail rows that are still legitimately in flight.
type Config struct {
	RunInterval    time.Duration
	StaleThreshold time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    time.Minute,
		StaleThreshold: 15 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = defaults.StaleThreshold
	}
	return c
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	EventSvc eventdomain.Service
	Metrics  *metrics.Metrics
	Config   Config `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	eventSvc eventdomain.Service
	metrics  *metrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.EventSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "reaper")),
		cfg:      p.Config.withDefaults(),
		clock:    p.Clock,
		eventSvc: p.EventSvc,
		metrics:  p.Metrics,
	}, nil
}

// RunOnce performs a single sweep.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	reaped, err := s.eventSvc.FailStale(ctx, s.cfg.StaleThreshold)
	if err != nil {
		return err
	}
	if reaped > 0 {
		s.metrics.RecordStaleReaped(ctx, reaped)
		s.log.Warn("reaped stale processing events",
			zap.Int64("count", reaped),
			zap.Duration("threshold", s.cfg.StaleThreshold),
		)
	}
	return nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("reaper sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
