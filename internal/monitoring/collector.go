package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lucy-a11y/shuffle/internal/model"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Sessions started within the lookback window.
	SessionsTotal     int     `json:"sessions_total"`
	SessionsRunning   int     `json:"sessions_running"`
	SessionsCompleted int     `json:"sessions_completed"`
	SessionsPartial   int     `json:"sessions_partial"`
	SessionsFailed    int     `json:"sessions_failed"`
	SessionsCancelled int     `json:"sessions_cancelled"`
	SessionFailRate   float64 `json:"session_fail_rate"`

	// CRM sync state across all companies.
	CRMSynced  int `json:"crm_synced"`
	CRMFailed  int `json:"crm_failed"`
	CRMSkipped int `json:"crm_skipped"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the read side of the store the collector needs.
type Source interface {
	CountSessionsByStatus(ctx context.Context, since time.Time) (map[model.SessionStatus]int, error)
	CountCRMSyncsByStatus(ctx context.Context) (map[model.CRMSyncStatus]int, error)
}

// Collector gathers health metrics from the store.
type Collector struct {
	src Source
	now func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(src Source) *Collector {
	return &Collector{src: src, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	sessions, err := c.src.CountSessionsByStatus(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count sessions")
	}
	for status, n := range sessions {
		snap.SessionsTotal += n
		switch status {
		case model.SessionStatusRunning:
			snap.SessionsRunning = n
		case model.SessionStatusCompleted:
			snap.SessionsCompleted = n
		case model.SessionStatusPartialFailure:
			snap.SessionsPartial = n
		case model.SessionStatusFailed:
			snap.SessionsFailed = n
		case model.SessionStatusCancelled:
			snap.SessionsCancelled = n
		}
	}

	// Cancelled sessions say nothing about pipeline health.
	finished := snap.SessionsCompleted + snap.SessionsPartial + snap.SessionsFailed
	if finished > 0 {
		snap.SessionFailRate = float64(snap.SessionsFailed) / float64(finished)
	}

	syncs, err := c.src.CountCRMSyncsByStatus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count crm syncs")
	}
	snap.CRMSynced = syncs[model.CRMSyncStatusSynced]
	snap.CRMFailed = syncs[model.CRMSyncStatusFailed]
	snap.CRMSkipped = syncs[model.CRMSyncStatusSkipped]

	return snap, nil
}
