package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lucy-a11y/shuffle/internal/config"
)

// defaultCooldown is how long an alert type stays quiet after it was sent.
const defaultCooldown = time.Hour

// Checker collects a snapshot, evaluates it, and delivers alerts. An alert
// type that was delivered recently is suppressed until its cooldown passes,
// so a persistent condition pages once per cooldown rather than every tick.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	lookback  int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewChecker creates a checker. The cooldown is the configured check
// interval times four, or an hour when no interval is set.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	cooldown := 4 * time.Duration(cfg.CheckIntervalSecs) * time.Second
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	lookback := cfg.LookbackWindowHours
	if lookback <= 0 {
		lookback = 24
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		lookback:  lookback,
		cooldown:  cooldown,
		now:       time.Now,
		lastSent:  make(map[AlertType]time.Time),
	}
}

// Check runs one evaluation and returns the number of alerts triggered,
// including suppressed ones.
func (c *Checker) Check(ctx context.Context) int {
	log := zap.L().With(zap.String("component", "monitoring"))

	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("monitoring: collect snapshot", zap.Error(err))
		return 0
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: healthy",
			zap.Int("sessions", snap.SessionsTotal),
			zap.Int("crm_failed", snap.CRMFailed),
		)
		return 0
	}

	due := c.due(alerts)
	sent := c.alerter.SendAlerts(ctx, due)
	c.markSent(sent)

	log.Info("monitoring: alerts triggered",
		zap.Int("triggered", len(alerts)),
		zap.Int("suppressed", len(alerts)-len(due)),
		zap.Int("sent", len(sent)),
	)
	return len(alerts)
}

func (c *Checker) due(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var out []Alert
	for _, a := range alerts {
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < c.cooldown {
			continue
		}
		out = append(out, a)
	}
	return out
}

// markSent starts the cooldown for delivered alert types.
func (c *Checker) markSent(alerts []Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, a := range alerts {
		c.lastSent[a.Type] = now
	}
}
