package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/internal/transport"
)

type Listener interface {
	OnEnvelope(env domain.Envelope)
	OnConnected()
	OnReconnecting(attempt int, delay time.Duration)
	OnFailed(err error)
}

// Manager owns one Transport: it reconnects with exponential backoff and
// queues outbound envelopes while the link is down.
//
// sendMu serializes every write to the transport and is always taken before
// mu, so a queue flush can not interleave with a direct send.
type Manager struct {
	transport transport.Transport
	listener  Listener
	cfg       Config
	clock     clock.Clock
	logger    *slog.Logger

	sendMu sync.Mutex

	mu         sync.Mutex
	ctx        context.Context
	state      State
	attempt    int
	queue      []domain.Envelope
	generation uint64
	timer      *clock.Timer
	cancelDial context.CancelFunc
	greeting   func() []domain.Envelope
}

func NewManager(t transport.Transport, listener Listener, cfg Config, clk clock.Clock, logger *slog.Logger) *Manager {
	if clk == nil {
		clk = clock.New()
	}

	m := &Manager{
		transport: t,
		listener:  listener,
		cfg:       cfg.withDefaults(),
		clock:     clk,
		logger:    logger.With("component", "connection"),
		ctx:       context.Background(),
		state:     StateDisconnected,
	}
	t.Subscribe(m)

	return m
}

// SetGreeting registers envelopes written on every successful dial, ahead of
// the queued ones.
func (m *Manager) SetGreeting(fn func() []domain.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.greeting = fn
}

// Connect dials the transport. A failed dial already scheduled a reconnect
// when the error is returned.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected && m.state != StateFailed {
		m.mu.Unlock()
		return nil
	}

	m.ctx = ctx
	m.state = StateConnecting
	m.attempt = 0
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "connecting")
	return m.dial(gen)
}

// Send writes the envelope, or queues it while the link is down. A write that
// fails on a live link is queued again and triggers a reconnect.
func (m *Manager) Send(ctx context.Context, env domain.Envelope) error {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	switch m.state {
	case StateDisconnected, StateFailed:
		m.mu.Unlock()
		return domain.ErrNotConnected
	case StateConnected:
	default:
		m.queue = append(m.queue, env)
		m.logger.DebugContext(ctx, "envelope queued", "type", env.Type, "queued", len(m.queue))
		m.mu.Unlock()
		return nil
	}
	gen := m.generation
	m.mu.Unlock()

	if err := m.transport.Send(ctx, env); err != nil {
		m.logger.WarnContext(ctx, "send failed, requeueing", "type", env.Type, "error", err)

		m.mu.Lock()
		m.queue = append([]domain.Envelope{env}, m.queue...)
		notify := m.failLocked(gen, fmt.Errorf("%w: %w", domain.ErrSendFailure, err))
		m.mu.Unlock()
		notify()
	}

	return nil
}

// Disconnect stops any pending reconnect, closes the transport and drops the
// outbound queue. Dropped envelopes are reported as domain.ErrSendFailure.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return nil
	}

	m.generation++
	m.state = StateDisconnected
	m.attempt = 0
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	dropped := len(m.queue)
	m.queue = nil
	m.mu.Unlock()

	var err error
	if dropped > 0 {
		m.logger.Warn("dropping queued envelopes", "count", dropped)
		err = fmt.Errorf("%w: dropped %d queued envelopes", domain.ErrSendFailure, dropped)
	}
	m.logger.Info("disconnected")

	if terr := m.transport.Disconnect(); terr != nil {
		err = errors.Join(err, fmt.Errorf("failed to disconnect transport: %w", terr))
	}

	return err
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state == StateConnected && m.transport.IsAlive()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.attempt
}

func (m *Manager) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.queue)
}

// OnEnvelope implements transport.Subscriber.
func (m *Manager) OnEnvelope(env domain.Envelope) {
	m.listener.OnEnvelope(env)
}

// OnClose implements transport.Subscriber.
func (m *Manager) OnClose(err error) {
	m.mu.Lock()
	if m.state != StateConnected && m.state != StateConnecting {
		m.mu.Unlock()
		return
	}

	m.logger.Warn("link closed", "error", err)
	notify := m.failLocked(m.generation, err)
	m.mu.Unlock()
	notify()
}

func (m *Manager) dial(gen uint64) error {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return domain.ErrSessionClosed
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelDial = cancel
	m.mu.Unlock()

	err := m.transport.Connect(ctx)
	cancel()

	m.sendMu.Lock()
	m.mu.Lock()
	if gen != m.generation {
		closed := m.state == StateDisconnected
		m.mu.Unlock()
		m.sendMu.Unlock()

		if err == nil && closed {
			m.transport.Disconnect()
		}
		return domain.ErrSessionClosed
	}
	m.cancelDial = nil

	if err != nil {
		notify := m.failLocked(gen, err)
		m.mu.Unlock()
		m.sendMu.Unlock()
		notify()

		return fmt.Errorf("failed to connect: %w", err)
	}

	m.state = StateConnected
	m.attempt = 0
	queue := m.queue
	m.queue = nil
	greeting := m.greeting
	m.mu.Unlock()

	if greeting != nil {
		for _, env := range greeting() {
			if err := m.transport.Send(m.ctx, env); err != nil {
				m.logger.Warn("greeting failed", "type", env.Type, "error", err)

				m.mu.Lock()
				m.queue = append(queue, m.queue...)
				notify := m.failLocked(gen, fmt.Errorf("%w: %w", domain.ErrSendFailure, err))
				m.mu.Unlock()
				m.sendMu.Unlock()
				notify()

				return nil
			}
		}
	}

	for i, env := range queue {
		if err := m.transport.Send(m.ctx, env); err != nil {
			m.logger.Warn("flush failed, requeueing", "remaining", len(queue)-i, "error", err)

			m.mu.Lock()
			m.queue = append(append([]domain.Envelope{}, queue[i:]...), m.queue...)
			notify := m.failLocked(gen, fmt.Errorf("%w: %w", domain.ErrSendFailure, err))
			m.mu.Unlock()
			m.sendMu.Unlock()
			notify()

			return nil
		}
	}
	m.sendMu.Unlock()

	if len(queue) > 0 {
		m.logger.Info("flushed queued envelopes", "count", len(queue))
	}
	m.logger.Info("connected")
	m.listener.OnConnected()

	return nil
}

// failLocked moves to RECONNECTING or, once the attempt budget is spent, to
// FAILED. The returned func delivers the listener notification and must be
// called after mu is released.
func (m *Manager) failLocked(gen uint64, cause error) func() {
	if gen != m.generation || m.state == StateDisconnected || m.state == StateFailed {
		return func() {}
	}
	m.generation++

	if m.attempt >= m.cfg.MaxAttempts {
		m.state = StateFailed
		cerr := &domain.ConnectivityError{Attempts: m.attempt, Err: cause}
		m.logger.Error("giving up reconnecting", "attempts", m.attempt, "error", cause)

		return func() { m.listener.OnFailed(cerr) }
	}

	m.attempt++
	attempt := m.attempt
	delay := m.cfg.Backoff(attempt)
	m.state = StateReconnecting

	next := m.generation
	m.timer = m.clock.AfterFunc(delay, func() { m.reconnect(next) })
	m.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay, "error", cause)

	return func() { m.listener.OnReconnecting(attempt, delay) }
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	// drop whatever is left of the previous link before dialing again
	m.transport.Disconnect()
	m.dial(gen)
}
