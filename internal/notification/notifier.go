// Package notification delivers trading events to users (Telegram) and
// operators (webhooks, logs).
package notification

import (
	"context"
	"errors"
	"log/slog"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent. ChatID addresses a Telegram
// user; zero means operator-only.
type Alert struct {
	ChatID  int64      `json:"chat_id,omitempty"`
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts. Used in paper mode and as a fallback.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(l *slog.Logger) *LogNotifier {
	if l == nil {
		l = slog.Default()
	}
	return &LogNotifier{log: l.With("component", "notify")}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	n.log.Info("alert", "level", alert.Level, "chat_id", alert.ChatID, "title", alert.Title, "message", alert.Message)
	return nil
}

// Fanout sends every alert to all backends and joins their errors.
// Nil entries are skipped.
type Fanout []Notifier

func (f Fanout) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MinLevel forwards only alerts at or above a severity. Operator webhooks
// use it to receive critical events only.
type MinLevel struct {
	Level AlertLevel
	Next  Notifier
}

func (m MinLevel) Send(ctx context.Context, alert Alert) error {
	if severity(alert.Level) < severity(m.Level) {
		return nil
	}
	return m.Next.Send(ctx, alert)
}

func severity(l AlertLevel) int {
	switch l {
	case AlertWarning:
		return 1
	case AlertCritical:
		return 2
	}
	return 0
}
