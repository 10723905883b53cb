package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type recorder struct {
	alerts []Alert
	err    error
}

func (r *recorder) Send(_ context.Context, a Alert) error {
	r.alerts = append(r.alerts, a)
	return r.err
}

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, f.err
}

// ────────────────────────────────────────────────────────────
// Fanout / MinLevel
// ────────────────────────────────────────────────────────────

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	a, b := &recorder{}, &recorder{err: errors.New("down")}
	f := Fanout{a, nil, b}

	err := f.Send(context.Background(), Alert{Level: AlertInfo, Title: "t"})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(a.alerts) != 1 || len(b.alerts) != 1 {
		t.Errorf("delivered a=%d b=%d", len(a.alerts), len(b.alerts))
	}
}

func TestMinLevel(t *testing.T) {
	r := &recorder{}
	m := MinLevel{Level: AlertCritical, Next: r}
	for _, lvl := range []AlertLevel{AlertInfo, AlertWarning, AlertCritical} {
		m.Send(context.Background(), Alert{Level: lvl})
	}
	if len(r.alerts) != 1 || r.alerts[0].Level != AlertCritical {
		t.Errorf("forwarded %+v, want only CRITICAL", r.alerts)
	}
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := n.Send(context.Background(), Alert{Title: "x"}); err != nil {
		t.Errorf("Send: %v", err)
	}
}

// ────────────────────────────────────────────────────────────
// Telegram
// ────────────────────────────────────────────────────────────

func TestTelegramNotifier(t *testing.T) {
	bot := &fakeBot{}
	n := NewTelegramNotifier(bot)

	if err := n.Send(context.Background(), Alert{Title: "no chat"}); err == nil {
		t.Error("expected error without chat id")
	}

	err := n.Send(context.Background(), Alert{ChatID: 42, Level: AlertWarning, Title: "Stop order", Message: "BTCUSDT @ 106.1"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent=%d", len(bot.sent))
	}
	m := bot.sent[0]
	if m.ChatID != 42 || m.ParseMode != tgbotapi.ModeMarkdownV2 {
		t.Errorf("message = %+v", m)
	}
	want := "⚠️ *Stop order*\n\nBTCUSDT @ 106\\.1"
	if m.Text != want {
		t.Errorf("text = %q, want %q", m.Text, want)
	}

	bot.err = errors.New("forbidden: bot was blocked by the user")
	if err := n.Send(context.Background(), Alert{ChatID: 42}); err == nil {
		t.Error("expected send error")
	}
}

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"a_b*c", `a\_b\*c`},
		{"-1.5 (x)!", `\-1\.5 \(x\)\!`},
	}
	for _, tt := range tests {
		if got := escapeMarkdown(tt.in); got != tt.want {
			t.Errorf("escapeMarkdown(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Webhook
// ────────────────────────────────────────────────────────────

func TestWebhookNotifier(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.Send(context.Background(), Alert{ChatID: 42, Level: AlertCritical, Title: "auto-stop", Message: "3 failures"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["level"] != "CRITICAL" || got["title"] != "auto-stop" || got["source"] != "tradebot" {
		t.Errorf("payload = %v", got)
	}
	if got["chat_id"] != float64(42) {
		t.Errorf("chat_id = %v", got["chat_id"])
	}
}

func TestWebhookNotifier_Retries(t *testing.T) {
	tests := []struct {
		name      string
		statuses  []int
		wantCalls int
		wantErr   bool
	}{
		{"server error then ok", []int{500, 200}, 2, false},
		{"server error twice", []int{503, 503}, 2, true},
		{"client error is final", []int{400}, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				status := tt.statuses[min(calls, len(tt.statuses)-1)]
				calls++
				w.WriteHeader(status)
			}))
			defer srv.Close()

			n := NewWebhookNotifier(srv.URL)
			n.retry = time.Millisecond
			err := n.Send(context.Background(), Alert{Level: AlertCritical})
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}
