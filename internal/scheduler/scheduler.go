// Package scheduler runs the periodic sweep that completes expired usage
// periods. The resolver expires periods lazily on access either way; the
// sweep only keeps the ledger tidy for tenants that went quiet.
package scheduler

import (
	"context"
	"time"

	obsmetrics "github.com/sparlo/tokengate/internal/observability/metrics"
	perioddomain "github.com/sparlo/tokengate/internal/period/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	PeriodSvc  perioddomain.Service
	Config     Config              `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	periodSvc  perioddomain.Service
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) *Scheduler {
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "sweep")),
		cfg:        p.Config.withDefaults(),
		periodSvc:  p.PeriodSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce completes one batch of expired periods. Errors are logged and
// swallowed: the next tick (or the resolver itself) retries.
func (s *Scheduler) RunOnce(ctx context.Context) {
	completed, err := s.periodSvc.SweepExpired(ctx, s.cfg.BatchSize)
	if err != nil {
		s.log.Warn("sweep failed", zap.Error(err))
		return
	}
	if completed > 0 {
		s.log.Info("expired periods completed", zap.Int64("count", completed))
	}
	s.obsMetrics.RecordSweep(ctx, completed)
}
