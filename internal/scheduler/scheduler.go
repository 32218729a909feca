// Package scheduler runs background maintenance for the shuffle pipeline:
// resuming sessions abandoned by a previous process, retrying failed CRM
// syncs, and running health checks.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lucy-a11y/shuffle/internal/config"
	"github.com/lucy-a11y/shuffle/internal/model"
)

const (
	defaultInterval   = time.Minute
	defaultStaleAfter = 10 * time.Minute
	defaultBatchSize  = 20
	crmMaxAttempts    = 5
)

// SessionSource lists running sessions that have not progressed recently.
type SessionSource interface {
	ListStaleSessions(ctx context.Context, updatedBefore time.Time, limit int) ([]model.ShuffleSession, error)
}

// Resumer restarts a session in the background. It reports false when the
// session is already active or the resumer is shutting down.
type Resumer interface {
	Resume(sess *model.ShuffleSession) bool
}

// CRMRetrier re-pushes companies whose last CRM sync failed.
type CRMRetrier interface {
	RetryFailed(ctx context.Context, maxAttempts, limit int) (int, error)
}

// HealthChecker evaluates pipeline health and sends alerts.
type HealthChecker interface {
	Check(ctx context.Context) int
}

// Service ticks the maintenance tasks until stopped.
type Service struct {
	sessions SessionSource
	resumer  Resumer
	crm      CRMRetrier
	health   HealthChecker

	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithCRMRetrier enables the CRM retry task.
func WithCRMRetrier(r CRMRetrier) Option {
	return func(s *Service) { s.crm = r }
}

// WithHealthChecker enables the health check task.
func WithHealthChecker(h HealthChecker) Option {
	return func(s *Service) { s.health = h }
}

// New creates a Service. Zero config values fall back to defaults.
func New(src SessionSource, resumer Resumer, cfg config.SchedulerConfig, opts ...Option) *Service {
	s := &Service{
		sessions:   src,
		resumer:    resumer,
		interval:   time.Duration(cfg.IntervalSecs) * time.Second,
		staleAfter: time.Duration(cfg.StaleAfterMins) * time.Minute,
		batchSize:  cfg.BatchSize,
		now:        time.Now,
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.staleAfter <= 0 {
		s.staleAfter = defaultStaleAfter
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs one tick immediately, then one per interval, in a background
// goroutine. Calling Start on a running Service is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	log := zap.L().With(zap.String("component", "scheduler"))
	log.Info("scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("stale_after", s.staleAfter),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Stop cancels the loop and waits for the current tick to return. Once the
// loop has exited the Service can be started again.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	if s.done == done {
		s.cancel, s.done = nil, nil
	}
	s.mu.Unlock()
	return nil
}

// TickResult summarizes one maintenance pass.
type TickResult struct {
	Resumed    int
	CRMRetried int
	Alerts     int
}

// Tick runs every enabled task once. Task errors are logged, not returned.
func (s *Service) Tick(ctx context.Context) TickResult {
	var res TickResult
	log := zap.L().With(zap.String("component", "scheduler"))

	res.Resumed = s.resumeStale(ctx, log)

	if s.crm != nil && ctx.Err() == nil {
		n, err := s.crm.RetryFailed(ctx, crmMaxAttempts, s.batchSize)
		if err != nil {
			log.Warn("scheduler: crm retry failed", zap.Error(err))
		}
		res.CRMRetried = n
	}

	if s.health != nil && ctx.Err() == nil {
		res.Alerts = s.health.Check(ctx)
	}

	if res.Resumed > 0 || res.CRMRetried > 0 || res.Alerts > 0 {
		log.Info("scheduler: tick complete",
			zap.Int("resumed", res.Resumed),
			zap.Int("crm_retried", res.CRMRetried),
			zap.Int("alerts", res.Alerts),
		)
	}
	return res
}

func (s *Service) resumeStale(ctx context.Context, log *zap.Logger) int {
	if s.sessions == nil || s.resumer == nil {
		return 0
	}
	stale, err := s.sessions.ListStaleSessions(ctx, s.now().Add(-s.staleAfter), s.batchSize)
	if err != nil {
		log.Warn("scheduler: list stale sessions", zap.Error(err))
		return 0
	}
	var resumed int
	for i := range stale {
		sess := stale[i]
		if s.resumer.Resume(&sess) {
			log.Info("scheduler: resumed session",
				zap.String("session_id", sess.ID),
				zap.Int("attempted", sess.Attempted()),
				zap.Int("total", sess.TotalSites),
			)
			resumed++
		}
	}
	return resumed
}
