package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lucy-a11y/shuffle/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSessionFailureRate AlertType = "session_failure_rate"
	AlertCRMBacklog         AlertType = "crm_backlog"
)

// minFinishedSessions is the sample size below which failure rate is noise.
const minFinishedSessions = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.SessionsCompleted + snap.SessionsPartial + snap.SessionsFailed
	if a.cfg.FailureRateThreshold > 0 && finished >= minFinishedSessions &&
		snap.SessionFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSessionFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Shuffle failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.SessionFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.SessionsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.SessionFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.SessionsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CRMBacklogThreshold > 0 && snap.CRMFailed >= a.cfg.CRMBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertCRMBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d companies are waiting on CRM sync retry (threshold %d)",
				snap.CRMFailed, a.cfg.CRMBacklogThreshold,
			),
			Details: map[string]any{
				"failed":    snap.CRMFailed,
				"synced":    snap.CRMSynced,
				"threshold": a.cfg.CRMBacklogThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts posts each alert to the configured webhook and returns the ones
// that were delivered. Without a webhook nothing is delivered.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) []Alert {
	if a.cfg.WebhookURL == "" {
		return nil
	}

	var delivered []Alert
	for _, alert := range alerts {
		log := zap.L().With(zap.String("type", string(alert.Type)), zap.String("severity", alert.Severity))
		if err := a.sendWebhook(ctx, alert); err != nil {
			log.Error("monitoring: alert delivery failed", zap.Error(err))
			continue
		}
		log.Info("monitoring: alert delivered")
		delivered = append(delivered, alert)
	}
	return delivered
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
