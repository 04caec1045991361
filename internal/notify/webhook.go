// Package notify delivers terminal-transition webhooks. Delivery is best
// effort: the job outcome is already durable before a notification is
// attempted, and a failed delivery is logged, never retried into the job.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/waqarahm3d/qoqnuzmedia/internal/observability"
)

// Event names the terminal outcome being announced.
type Event string

const (
	EventCompleted Event = "completed"
	EventFailed    Event = "failed"
)

// Notification is one outbound webhook payload.
type Notification struct {
	JobID string                 `json:"job_id"`
	Event Event                  `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

// Notifier announces terminal job transitions to an external listener.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// WebhookNotifier POSTs notifications as JSON to a fixed URL with a bounded
// timeout.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	logger  observability.Logger
	metrics observability.Metrics
}

func NewWebhookNotifier(url string, timeout time.Duration, logger observability.Logger, metrics observability.Metrics) *WebhookNotifier {
	return &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.WithFields(map[string]interface{}{"component": "webhook"}),
		metrics: metrics,
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	payload := struct {
		Notification
		Timestamp string `json:"timestamp"`
	}{
		Notification: n,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := w.client.Do(req)
	w.metrics.RecordDuration("webhook_notify", time.Since(start).Seconds())
	if err != nil {
		w.metrics.RecordError("webhook_notify", "request_failed")
		return fmt.Errorf("webhook delivery failed for job %s: %w", n.JobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.metrics.RecordError("webhook_notify", "bad_status")
		return fmt.Errorf("webhook for job %s rejected with status %d", n.JobID, resp.StatusCode)
	}

	w.logger.Info("webhook delivered", "job_id", n.JobID, "event", n.Event)
	w.metrics.RecordSuccess("webhook_notify")
	return nil
}

// NopNotifier swallows notifications. Used when webhooks are disabled and in
// tests.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }
