package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamConfig configures the private order stream.
type StreamConfig struct {
	// URL overrides the client's private WebSocket URL.
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// PingInterval is the heartbeat period. Defaults to 20s.
	PingInterval time.Duration
}

func (c *StreamConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 20 * time.Second
	}
}

// OrderStream authenticates on the private WebSocket, subscribes to the
// "order" topic and pushes every order event into the caller's channel.
type OrderStream struct {
	client *Client
	cfg    StreamConfig

	// Optional hook, called each time a reconnection happens.
	OnReconnect func()
}

// OrderStream creates a stream that signs with the client's keys.
func (c *Client) OrderStream(cfg StreamConfig) *OrderStream {
	cfg.defaults()
	if cfg.URL == "" {
		cfg.URL = c.wsURL
	}
	return &OrderStream{client: c, cfg: cfg}
}

type wsRequest struct {
	Op   string `json:"op"`
	Args []any  `json:"args,omitempty"`
}

type wsMessage struct {
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	Topic   string          `json:"topic"`
	Data    json.RawMessage `json:"data"`
}

// Start streams order events into out until ctx is cancelled, reconnecting
// with exponential backoff. An authentication refusal is returned at once.
func (s *OrderStream) Start(ctx context.Context, out chan<- OrderEvent) error {
	if !s.client.HasKeys() {
		return errors.New("bybit: order stream needs API keys")
	}
	delay := s.cfg.ReconnectDelay
	log := s.client.log.With("stream", "order")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := s.runOnce(ctx, out)
		if err == nil {
			return nil
		}
		if IsAuthError(err) {
			return err
		}

		log.Warn("order stream disconnected, reconnecting", "error", err, "delay", delay)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection and reads until disconnect or ctx cancel.
func (s *OrderStream) runOnce(ctx context.Context, out chan<- OrderEvent) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(v)
	}

	if err := s.authenticate(conn, write); err != nil {
		return err
	}
	if err := write(wsRequest{Op: "subscribe", Args: []any{"order"}}); err != nil {
		return fmt.Errorf("bybit: subscribe: %w", err)
	}
	s.client.log.Info("order stream connected", "url", s.cfg.URL)

	done := make(chan struct{})
	defer close(done)

	// Closes the connection when ctx is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			wmu.Lock()
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			wmu.Unlock()
			conn.Close()
		case <-done:
		}
	}()

	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := write(wsRequest{Op: "ping"}); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(3 * s.cfg.PingInterval))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.client.log.Warn("order stream parse error", "error", err)
			continue
		}
		if msg.Topic != "order" {
			continue
		}

		var events []wireOrderEvent
		if err := json.Unmarshal(msg.Data, &events); err != nil {
			s.client.log.Warn("order stream bad payload", "error", err)
			continue
		}
		for _, w := range events {
			select {
			case out <- w.event():
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// authenticate sends op=auth with [key, expires, sign("GET/realtime"+expires)]
// and waits for the reply.
func (s *OrderStream) authenticate(conn *websocket.Conn, write func(any) error) error {
	expires := strconv.FormatInt(s.client.now().Add(10*time.Second).UnixMilli(), 10)
	sig := s.client.sign("GET/realtime" + expires)
	if err := write(wsRequest{Op: "auth", Args: []any{s.client.apiKey, expires, sig}}); err != nil {
		return fmt.Errorf("bybit: auth: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("bybit: auth reply: %w", err)
		}
		if msg.Op != "auth" {
			continue
		}
		if msg.Success == nil || !*msg.Success {
			return &APIError{Code: ErrCodeInvalidSign, Message: msg.RetMsg, Path: "ws auth"}
		}
		return nil
	}
}
