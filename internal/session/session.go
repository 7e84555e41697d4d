package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sharetube/syncroom/internal/chat"
	"github.com/sharetube/syncroom/internal/connection"
	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/internal/playback"
	"github.com/sharetube/syncroom/internal/transport"
	"github.com/sharetube/syncroom/pkg/validator"
	"go.uber.org/atomic"
)

var ErrAlreadyStarted = errors.New("session already started")

type Config struct {
	RoomID     string
	UserID     string
	Username   string
	Connection connection.Config
	Playback   playback.Config
	// Player is forced into remote state when set.
	Player playback.Player
	Clock  clock.Clock
}

// Session is one participant's membership in one room. It owns the
// connection, the playback view and the chat log; inbound envelopes,
// connection events and UI commands are all handled on a single goroutine.
type Session struct {
	cfg    Config
	entry  entry
	cb     Callbacks
	conn   *connection.Manager
	sync   *playback.Synchronizer
	chat   *chat.Stream
	logger *slog.Logger

	validate *validator.Validator

	box  *mailbox
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	started   atomic.Bool
	isAdmin   atomic.Bool
	joined    atomic.Bool
	connected atomic.Bool
	once      sync.Once

	// owned by the dispatch goroutine
	everConnected bool
	stopped       bool

	mu     sync.Mutex
	status Status
	err    error
}

func newSession(cfg Config, t transport.Transport, e entry, cb Callbacks, logger *slog.Logger) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	logger = logger.With("room_id", cfg.RoomID, "user_id", cfg.UserID)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		cfg:    cfg,
		entry:  e,
		cb:     cb,
		logger: logger.With("component", "session"),
		box:    newMailbox(),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		status: Status{State: connection.StateDisconnected},

		validate: validator.NewValidator(),
	}

	s.conn = connection.NewManager(t, s, cfg.Connection, cfg.Clock, logger)
	s.sync = playback.NewSynchronizer(cfg.RoomID, s.conn, cfg.Playback, cfg.Clock, logger)
	s.chat = chat.NewStream(cfg.RoomID, cfg.UserID, cfg.Username, s.conn, cfg.Clock, logger)

	if cfg.Player != nil {
		s.sync.AttachPlayer(cfg.Player)
	}
	s.sync.OnChange(func(state domain.VideoState) {
		if s.cb.OnVideoStateChange != nil {
			s.cb.OnVideoStateChange(state)
		}
	})
	s.chat.OnMessage(func(msg domain.ChatMessage) {
		if s.cb.OnChatMessage != nil {
			s.cb.OnChatMessage(msg)
		}
	})

	go s.run()

	return s
}

// CreateRoom enters the room as its admin, creating it when needed.
func (s *Session) CreateRoom(ctx context.Context) error {
	return s.start(ctx, true)
}

// JoinRoom enters an existing room as a guest.
func (s *Session) JoinRoom(ctx context.Context) error {
	return s.start(ctx, false)
}

func (s *Session) start(ctx context.Context, isAdmin bool) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.isAdmin.Store(isAdmin)

	// a Disconnect while this is pending cancels it
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()

	if err := s.entry.beforeConnect(s.ctx, s); err != nil {
		if s.ctx.Err() != nil {
			return domain.ErrSessionClosed
		}
		s.post(func() { s.fail(err) })
		if errors.Is(err, domain.ErrRoomNotFound) {
			return err
		}
		return fmt.Errorf("failed to enter room: %w", err)
	}

	if s.ctx.Err() != nil {
		return domain.ErrSessionClosed
	}

	s.post(func() {
		s.chat.AddSelfJoin(isAdmin)
		s.setStatus(Status{State: connection.StateConnecting})
	})

	s.conn.SetGreeting(func() []domain.Envelope { return s.entry.greeting(s) })
	if err := s.conn.Connect(s.ctx); err != nil {
		s.logger.Warn("initial connect failed, retrying", "error", err)
	}

	return nil
}

// Disconnect leaves the room and stops the session. It is safe to call more
// than once; only the first call reports envelopes dropped from the outbound
// queue, as domain.ErrSendFailure.
func (s *Session) Disconnect() error {
	return s.shutdown(nil)
}

// Done is closed once the session stopped, by Disconnect or a fatal error.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the fatal error that stopped the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

func (s *Session) IsAdmin() bool {
	return s.isAdmin.Load()
}

func (s *Session) IsConnected() bool {
	return s.conn.IsConnected()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

func (s *Session) Messages() []domain.ChatMessage {
	return s.chat.Messages()
}

func (s *Session) VideoState() domain.VideoState {
	return s.sync.State()
}

func (s *Session) Unread() int {
	return s.chat.Unread()
}

func (s *Session) ClearUnread() {
	s.chat.ClearUnread()
}

func (s *Session) Members(ctx context.Context) ([]domain.Presence, error) {
	return s.entry.members(ctx, s)
}

// SendChat publishes text as a chat message. The message shows up in the
// local log once the relay delivers it back.
func (s *Session) SendChat(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return domain.ErrEmptyMessage
	}

	return s.do(ctx, func() error {
		_, err := s.chat.Send(ctx, text)
		return err
	})
}

// UpdateVideoState applies a local playback change and publishes it.
func (s *Session) UpdateVideoState(ctx context.Context, kind domain.MessageType, delta playback.Delta) (domain.VideoState, error) {
	var state domain.VideoState
	err := s.do(ctx, func() error {
		var err error
		state, err = s.sync.LocalChange(ctx, kind, delta)
		return err
	})

	return state, err
}

// PlayerEvent publishes an event the attached player raised. Events raised
// while the player is being forced into a remote state report false.
func (s *Session) PlayerEvent(ctx context.Context, kind domain.MessageType) (bool, error) {
	var published bool
	err := s.do(ctx, func() error {
		var err error
		published, err = s.sync.OnPlayerEvent(ctx, kind, s.position())
		return err
	})

	return published, err
}

// Skip seeks relative to the player position.
func (s *Session) Skip(ctx context.Context, seconds float64) (domain.VideoState, error) {
	var state domain.VideoState
	err := s.do(ctx, func() error {
		var err error
		state, err = s.sync.Skip(ctx, seconds, s.position())
		return err
	})

	return state, err
}

// CheckDrift corrects the attached player when it wandered off the shared
// cursor. It reports whether a seek was forced.
func (s *Session) CheckDrift(ctx context.Context) (bool, error) {
	if s.cfg.Player == nil {
		return false, nil
	}

	var corrected bool
	err := s.do(ctx, func() error {
		corrected = s.sync.CheckDrift(s.cfg.Player.Position())
		return nil
	})

	return corrected, err
}

func (s *Session) position() float64 {
	if s.cfg.Player != nil {
		return s.cfg.Player.Position()
	}
	return s.sync.ExpectedTime()
}

// do runs fn on the dispatch goroutine and waits for its result.
func (s *Session) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	s.post(func() {
		if s.stopped {
			reply <- domain.ErrSessionClosed
			return
		}
		reply <- fn()
	})

	select {
	case err := <-reply:
		return err
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) post(fn func()) {
	s.box.post(fn)
}

func (s *Session) run() {
	defer close(s.done)

	for range s.box.signal {
		for _, fn := range s.box.drain() {
			fn()
			if s.stopped {
				return
			}
		}
	}
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()

	if s.cb.OnStatusChange != nil {
		s.cb.OnStatusChange(status)
	}
}

func (s *Session) reportError(err error) {
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

// fail reports a fatal error and stops the session. Runs on the dispatch
// goroutine.
func (s *Session) fail(err error) {
	s.logger.Error("session failed", "error", err)
	s.reportError(err)
	s.shutdown(err)
}

func (s *Session) shutdown(err error) error {
	var derr error
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()

		s.cancel()
		if derr = s.conn.Disconnect(); derr != nil {
			s.logger.Warn("failed to disconnect", "error", derr)
		}

		if s.joined.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.entry.leave(ctx, s)
			cancel()
		}

		state := connection.StateDisconnected
		if err != nil {
			state = connection.StateFailed
		}
		s.post(func() {
			s.setStatus(Status{State: state, Err: err})
			s.stopped = true
		})
	})

	return derr
}
