// Package notify posts verdict and reliability alerts to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/phi-regress/internal/config"
	"github.com/sells-group/phi-regress/internal/model"
	"github.com/sells-group/phi-regress/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertTrialFailureRate AlertType = "trial_failure_rate"
	AlertRegression       AlertType = "regression"
	AlertReview           AlertType = "review_required"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Command   string         `json:"command"`
	RunID     string         `json:"run_id,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Outcome is what one command produced: trial counts per arm and, for
// compare and ab, the comparison.
type Outcome struct {
	Command    string
	RunID      string
	Arms       map[model.Arm]model.TrialSet
	Comparison *model.Comparison
}

// Alerter evaluates command outcomes against configured thresholds and sends
// alerts via webhook.
type Alerter struct {
	cfg     config.NotifyConfig
	client  *http.Client
	backoff resilience.Backoff
}

// NewAlerter creates a new Alerter with the given notify config.
func NewAlerter(cfg config.NotifyConfig) *Alerter {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	backoff := resilience.DefaultBackoff()
	if cfg.MaxAttempts > 0 {
		backoff.MaxAttempts = cfg.MaxAttempts
	}
	backoff.OnRetry = resilience.LogRetry("notify: webhook")

	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		backoff: backoff,
	}
}

// Enabled reports whether a webhook is configured.
func (a *Alerter) Enabled() bool {
	return a.cfg.WebhookURL != ""
}

// Evaluate returns the alerts an outcome triggers. Arms are checked in name
// order so the result is stable.
func (a *Alerter) Evaluate(o Outcome) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	arms := make([]model.Arm, 0, len(o.Arms))
	for arm := range o.Arms {
		arms = append(arms, arm)
	}
	sort.Slice(arms, func(i, j int) bool { return arms[i] < arms[j] })

	for _, arm := range arms {
		set := o.Arms[arm]
		rate := set.FailureRate()
		if a.cfg.FailureRateThreshold <= 0 || rate <= a.cfg.FailureRateThreshold {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertTrialFailureRate,
			Severity: "high",
			Command:  o.Command,
			RunID:    o.RunID,
			Message: fmt.Sprintf(
				"%s arm trial failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d trials)",
				arm, rate*100, a.cfg.FailureRateThreshold*100, set.Failed, set.Succeeded+set.Failed,
			),
			Details: map[string]any{
				"arm":          string(arm),
				"failure_rate": rate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       set.Failed,
				"succeeded":    set.Succeeded,
			},
			Timestamp: now,
		})
	}

	if c := o.Comparison; c != nil {
		var typ AlertType
		var severity string
		switch c.Recommendation {
		case model.DecisionReject:
			typ, severity = AlertRegression, "high"
		case model.DecisionReview:
			typ, severity = AlertReview, "medium"
		}
		if typ != "" {
			alerts = append(alerts, Alert{
				Type:     typ,
				Severity: severity,
				Command:  o.Command,
				RunID:    o.RunID,
				Message:  fmt.Sprintf("%s verdict %s: %s", o.Command, c.Recommendation, firstReason(c.Reasons)),
				Details: map[string]any{
					"recommendation": string(c.Recommendation),
					"reasons":        c.Reasons,
					"baseline_n":     c.BaselineN,
					"experimental_n": c.ExperimentalN,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL, retrying
// transient failures. Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if !a.Enabled() || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.backoff, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("notify: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("notify: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// Notify evaluates an outcome and sends whatever it triggers.
func (a *Alerter) Notify(ctx context.Context, o Outcome) int {
	if !a.Enabled() {
		return 0
	}
	return a.SendAlerts(ctx, a.Evaluate(o))
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "notify: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return &resilience.StatusError{StatusCode: resp.StatusCode, URL: a.cfg.WebhookURL}
	}
	return nil
}

func firstReason(reasons []string) string {
	if len(reasons) == 0 {
		return "no reason recorded"
	}
	return reasons[0]
}
