package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/internal/lifecycle"
	"github.com/sharetube/syncroom/internal/transport"
)

// entry is how a session gets into its room on a given relay variant.
type entry interface {
	beforeConnect(ctx context.Context, s *Session) error
	greeting(s *Session) []domain.Envelope
	onConnected(ctx context.Context, s *Session, first bool) error
	leave(ctx context.Context, s *Session)
	members(ctx context.Context, s *Session) ([]domain.Presence, error)
}

// NewStoreSession builds a session for the store-backed relay, where the
// client itself manages the room record.
func NewStoreSession(cfg Config, t transport.Transport, lm *lifecycle.Manager, cb Callbacks, logger *slog.Logger) *Session {
	return newSession(cfg, t, &storeEntry{lifecycle: lm}, cb, logger)
}

// NewSocketSession builds a session for the socket relay, which manages the
// room record on its side.
func NewSocketSession(cfg Config, t transport.Transport, cb Callbacks, logger *slog.Logger) *Session {
	return newSession(cfg, t, socketEntry{}, cb, logger)
}

type storeEntry struct {
	lifecycle *lifecycle.Manager
}

func (e *storeEntry) beforeConnect(ctx context.Context, s *Session) error {
	if s.IsAdmin() {
		return nil
	}

	exists, err := e.lifecycle.RoomExists(ctx, s.cfg.RoomID)
	if err != nil {
		return err
	}

	if !exists {
		return domain.ErrRoomNotFound
	}

	return nil
}

func (e *storeEntry) greeting(s *Session) []domain.Envelope {
	return nil
}

// onConnected creates or joins the room on the first connect and serves the
// snapshot as the initial sync.
func (e *storeEntry) onConnected(ctx context.Context, s *Session, first bool) error {
	if !first {
		return nil
	}

	state, err := e.lifecycle.Enter(ctx, s.cfg.RoomID, s.cfg.UserID, s.cfg.Username, s.IsAdmin())
	if err != nil {
		return err
	}
	s.joined.Store(true)

	if ctx.Err() != nil {
		// Disconnect raced the join; it may have skipped the leave
		e.leave(context.WithoutCancel(ctx), s)
		return ctx.Err()
	}

	s.applySync(state)
	return nil
}

func (e *storeEntry) leave(ctx context.Context, s *Session) {
	if !s.joined.CompareAndSwap(true, false) {
		return
	}

	deleted, err := e.lifecycle.LeaveRoom(ctx, s.cfg.RoomID, s.cfg.UserID)
	if err != nil {
		s.logger.Error("failed to leave room", "error", err)
		return
	}

	s.logger.Info("left room", "room_deleted", deleted)
}

func (e *storeEntry) members(ctx context.Context, s *Session) ([]domain.Presence, error) {
	return e.lifecycle.Presence().Members(ctx, s.cfg.RoomID)
}

type socketEntry struct{}

func (socketEntry) beforeConnect(ctx context.Context, s *Session) error {
	return nil
}

// greeting announces the participant on every new link, since the relay
// tracks membership per connection. CREATE_ROOM is idempotent on the relay.
func (socketEntry) greeting(s *Session) []domain.Envelope {
	t := domain.TypeJoinRoom
	if s.IsAdmin() {
		t = domain.TypeCreateRoom
	}

	env, err := domain.NewEnvelope(t, s.cfg.RoomID, domain.Identity{
		UserID:   s.cfg.UserID,
		Username: s.cfg.Username,
	})
	if err != nil {
		s.logger.Error("failed to build greeting", "error", err)
		return nil
	}

	return []domain.Envelope{env}
}

func (socketEntry) onConnected(ctx context.Context, s *Session, first bool) error {
	return nil
}

func (socketEntry) leave(ctx context.Context, s *Session) {}

func (socketEntry) members(ctx context.Context, s *Session) ([]domain.Presence, error) {
	return nil, fmt.Errorf("socket relay does not expose presence: %w", errors.ErrUnsupported)
}
