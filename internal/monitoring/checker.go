package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/quote-sourcing/internal/config"
)

// Checker periodically collects call health and alerts on breaches. An
// alert type is sent once when it starts firing and again only after it
// has cleared.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	firing    map[AlertType]bool
}

// NewChecker wires a collector and alerter into a checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		firing:    make(map[AlertType]bool),
	}
}

// Run checks every CheckIntervalSecs until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	every := 5 * time.Minute
	if c.cfg.CheckIntervalSecs > 0 {
		every = time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	}
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("call health checker running",
		zap.Duration("every", every),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			c.Check(ctx)
		case <-ctx.Done():
			log.Info("call health checker stopped")
			return
		}
	}
}

// Check runs one collection pass and returns the snapshot, or nil when the
// archive could not be read. Check is not safe for concurrent use.
func (c *Checker) Check(ctx context.Context) *MetricsSnapshot {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		zap.L().Error("monitoring: collect call health", zap.Error(err))
		return nil
	}

	active := make(map[AlertType]bool)
	var fresh []Alert
	for _, alert := range c.alerter.Evaluate(snap) {
		active[alert.Type] = true
		if !c.firing[alert.Type] {
			fresh = append(fresh, alert)
		}
	}
	for typ := range c.firing {
		if !active[typ] {
			zap.L().Info("monitoring: alert cleared", zap.String("alert", string(typ)))
		}
	}
	c.firing = active

	if len(fresh) > 0 {
		sent := c.alerter.SendAlerts(ctx, fresh)
		zap.L().Info("monitoring: alerts raised",
			zap.Int("firing", len(active)),
			zap.Int("new", len(fresh)),
			zap.Int("delivered", sent),
		)
	}
	return snap
}
