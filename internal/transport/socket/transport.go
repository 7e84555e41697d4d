package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/internal/transport"
	"go.uber.org/atomic"
)

const (
	defaultHandshakeTimeout   = 3 * time.Second
	defaultWriteDeadline      = 5 * time.Second
	defaultCloseWriteDeadline = 2 * time.Second
	defaultMaxMessageSize     = 64 << 10

	// defaultPongWait - defaultPingInterval is how long the relay gets to answer
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

type Config struct {
	// URL of the relay websocket endpoint, e.g. ws://localhost:8080/api/v1/ws.
	URL              string
	HandshakeTimeout time.Duration
	WriteDeadline    time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteDeadline <= 0 {
		c.WriteDeadline = defaultWriteDeadline
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = c.PingInterval + 2*time.Second
	}
	return c
}

// link is one established websocket connection.
type link struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
	closing atomic.Bool
}

func (l *link) stop() {
	l.once.Do(func() { close(l.done) })
}

// Transport talks to the socket relay over gorilla websocket.
type Transport struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger

	alive atomic.Bool

	mu   sync.Mutex
	sub  transport.Subscriber
	link *link
}

var _ transport.Transport = (*Transport)(nil)

func New(cfg Config, logger *slog.Logger) *Transport {
	cfg = cfg.withDefaults()

	return &Transport{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger.With("component", "socket_transport"),
	}
}

func (t *Transport) Subscribe(sub transport.Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sub = sub
}

func (t *Transport) Connect(ctx context.Context) error {
	conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial relay: %w", err)
	}

	l := &link{conn: conn, done: make(chan struct{})}

	t.mu.Lock()
	prev := t.link
	t.link = l
	sub := t.sub
	t.mu.Unlock()

	if prev != nil {
		t.closeLink(prev)
	}

	conn.SetReadLimit(defaultMaxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	})
	if err := conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait)); err != nil {
		t.closeLink(l)
		return fmt.Errorf("failed to set read deadline: %w", err)
	}

	t.alive.Store(true)
	go t.readLoop(l, sub)
	go t.pingLoop(l)

	t.logger.InfoContext(ctx, "connected to relay", "url", t.cfg.URL)
	return nil
}

func (t *Transport) readLoop(l *link, sub transport.Subscriber) {
	defer l.stop()

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if l.closing.Load() {
				return
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Warn("relay closed the connection", "error", err)
			} else {
				t.logger.Error("unexpected error during receive", "error", err)
			}

			t.markDown(l)
			l.conn.Close()
			if sub != nil {
				sub.OnClose(err)
			}
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		if sub != nil {
			sub.OnEnvelope(env)
		}
	}
}

func (t *Transport) pingLoop(l *link) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.writeMu.Lock()
			err := l.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteDeadline))
			if err == nil {
				err = l.conn.WriteMessage(websocket.PingMessage, nil)
			}
			l.writeMu.Unlock()

			if err != nil {
				t.logger.Warn("failed to send ping", "error", err)
				// unblocks the read loop, which reports the close
				l.conn.Close()
				return
			}
		}
	}
}

func (t *Transport) Send(ctx context.Context, env domain.Envelope) error {
	t.mu.Lock()
	l := t.link
	t.mu.Unlock()

	if l == nil || !t.alive.Load() {
		return domain.ErrNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	deadline := time.Now().Add(t.cfg.WriteDeadline)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", env.Type, err)
	}

	return nil
}

// Disconnect closes the current link without reporting OnClose.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	l := t.link
	t.link = nil
	t.mu.Unlock()

	t.alive.Store(false)
	if l == nil {
		return nil
	}

	return t.closeLink(l)
}

func (t *Transport) IsAlive() bool {
	return t.alive.Load()
}

func (t *Transport) markDown(l *link) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.link == l {
		t.alive.Store(false)
	}
}

func (t *Transport) closeLink(l *link) error {
	l.closing.Store(true)
	l.stop()

	l.writeMu.Lock()
	err := l.conn.SetWriteDeadline(time.Now().Add(defaultCloseWriteDeadline))
	if err == nil {
		err = l.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	l.writeMu.Unlock()

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		t.logger.Debug("close frame not sent", "error", err)
	}

	// the read loop may have closed the connection already
	l.conn.Close()

	return nil
}
