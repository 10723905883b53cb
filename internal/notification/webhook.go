package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// webhookPayload is the JSON body posted for each alert.
type webhookPayload struct {
	Source  string     `json:"source"`
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	ChatID  int64      `json:"chat_id,omitempty"`
	SentAt  time.Time  `json:"sent_at"`
}

// WebhookNotifier posts operator alerts (auto-stops, stream failures) as
// JSON. A 5xx answer or a transport error is retried once.
type WebhookNotifier struct {
	url    string
	client *http.Client
	retry  time.Duration
	now    func() time.Time
	log    *slog.Logger
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  2 * time.Second,
		now:    time.Now,
		log:    slog.Default().With("component", "webhook"),
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(webhookPayload{
		Source:  "tradebot",
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		ChatID:  alert.ChatID,
		SentAt:  w.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	retryable, err := w.post(ctx, body)
	if err != nil && retryable {
		w.log.Warn("webhook failed, retrying", "title", alert.Title, "error", err)
		t := time.NewTimer(w.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("webhook: %w", ctx.Err())
		case <-t.C:
		}
		_, err = w.post(ctx, body)
	}
	if err != nil {
		return err
	}
	w.log.Debug("sent alert", "level", alert.Level, "title", alert.Title)
	return nil
}

// post sends body once and reports whether a failure is worth retrying.
func (w *WebhookNotifier) post(ctx context.Context, body []byte) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook: server error %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return false, fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return false, nil
}
