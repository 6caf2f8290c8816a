package monitoring

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sells-group/vmt-browser/internal/config"
)

// Pruner removes expired cache entries.
type Pruner interface {
	DeleteExpiredPayloads(ctx context.Context) (int, error)
}

// Checker runs periodic cache pruning and alert checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	pruner    Pruner
	cfg       config.MonitoringConfig
	clock     clockwork.Clock
}

// NewChecker creates a background alert checker. pruner may be nil when
// the payload cache is disabled.
func NewChecker(collector *Collector, alerter *Alerter, pruner Pruner, cfg config.MonitoringConfig, clock clockwork.Clock) *Checker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		pruner:    pruner,
		cfg:       cfg,
		clock:     clock,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.Chan():
			c.check(ctx, log)
		}
	}
}

// check runs one prune, collect and alert cycle. It returns the number of
// alerts triggered.
func (c *Checker) check(ctx context.Context, log *zap.Logger) int {
	if c.pruner != nil {
		n, err := c.pruner.DeleteExpiredPayloads(ctx)
		if err != nil {
			log.Warn("monitoring: failed to prune payload cache", zap.Error(err))
		} else if n > 0 {
			log.Debug("monitoring: pruned payload cache", zap.Int("deleted", n))
		}
	}

	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return 0
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return len(alerts)
}
