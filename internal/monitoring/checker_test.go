package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lucy-a11y/shuffle/internal/config"
	"github.com/lucy-a11y/shuffle/internal/model"
)

func webhook(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(ts.Close)
	return ts, &received
}

func TestChecker_Check_SendsAlerts(t *testing.T) {
	ts, received := webhook(t)
	cfg := config.MonitoringConfig{
		WebhookURL:          ts.URL,
		LookbackWindowHours: 24,
		CRMBacklogThreshold: 5,
	}
	src := &fakeSource{syncs: map[model.CRMSyncStatus]int{model.CRMSyncStatusFailed: 12}}
	checker := NewChecker(NewCollector(src), NewAlerter(cfg), cfg)

	assert.Equal(t, 1, checker.Check(context.Background()))
	assert.Equal(t, int32(1), received.Load())
}

func TestChecker_Check_Cooldown(t *testing.T) {
	ts, received := webhook(t)
	cfg := config.MonitoringConfig{
		WebhookURL:          ts.URL,
		CheckIntervalSecs:   60,
		CRMBacklogThreshold: 5,
	}
	src := &fakeSource{syncs: map[model.CRMSyncStatus]int{model.CRMSyncStatusFailed: 12}}
	checker := NewChecker(NewCollector(src), NewAlerter(cfg), cfg)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	checker.now = func() time.Time { return now }

	assert.Equal(t, 1, checker.Check(context.Background()))
	now = now.Add(3 * time.Minute)
	assert.Equal(t, 1, checker.Check(context.Background()), "still triggered while suppressed")
	assert.Equal(t, int32(1), received.Load())

	now = now.Add(2 * time.Minute)
	checker.Check(context.Background())
	assert.Equal(t, int32(2), received.Load(), "sent again after 4x the interval")
}

func TestChecker_Check_FailedDeliveryIsRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	cfg := config.MonitoringConfig{WebhookURL: ts.URL, CRMBacklogThreshold: 1}
	src := &fakeSource{syncs: map[model.CRMSyncStatus]int{model.CRMSyncStatusFailed: 3}}
	checker := NewChecker(NewCollector(src), NewAlerter(cfg), cfg)

	checker.Check(context.Background())
	checker.Check(context.Background())
	assert.Equal(t, int32(2), calls.Load(), "undelivered alerts are not suppressed")
}

func TestChecker_Check_CollectError(t *testing.T) {
	cfg := config.MonitoringConfig{CRMBacklogThreshold: 1}
	src := &fakeSource{sessionErr: assert.AnError}
	checker := NewChecker(NewCollector(src), NewAlerter(cfg), cfg)
	assert.Zero(t, checker.Check(context.Background()))
}

func TestNewChecker_Defaults(t *testing.T) {
	checker := NewChecker(NewCollector(&fakeSource{}), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.Equal(t, defaultCooldown, checker.cooldown)
	assert.Equal(t, 24, checker.lookback)
}
