package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/internal/presence"
	"github.com/sharetube/syncroom/internal/repository/room"
	"github.com/sharetube/syncroom/pkg/ctxlogger"
)

type Repo interface {
	RoomExists(ctx context.Context, roomId string) (bool, error)
	CreateRoom(ctx context.Context, params *room.CreateRoomParams) (bool, error)
	GetVideoState(ctx context.Context, roomId string) (domain.VideoState, error)
	DeleteRoomIfEmpty(ctx context.Context, roomId string) (bool, error)
}

// Manager creates, validates and tears down room records. Teardown is driven
// solely by the presence set becoming empty.
type Manager struct {
	repo     Repo
	presence *presence.Tracker
	clock    clock.Clock
	logger   *slog.Logger
}

func NewManager(repo Repo, tracker *presence.Tracker, clk clock.Clock, logger *slog.Logger) *Manager {
	if clk == nil {
		clk = clock.New()
	}

	return &Manager{
		repo:     repo,
		presence: tracker,
		clock:    clk,
		logger:   logger.With("component", "lifecycle"),
	}
}

func (m *Manager) Presence() *presence.Tracker {
	return m.presence
}

func (m *Manager) RoomExists(ctx context.Context, roomID string) (bool, error) {
	exists, err := m.repo.RoomExists(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("failed to check room: %w", err)
	}

	return exists, nil
}

// CreateRoom initializes the room record if it is absent and returns the
// current playback state. An existing room keeps its state.
func (m *Manager) CreateRoom(ctx context.Context, roomID string) (domain.VideoState, error) {
	ctx = ctxlogger.AppendCtx(ctx, slog.String("room_id", roomID))

	created, err := m.repo.CreateRoom(ctx, &room.CreateRoomParams{
		RoomId:     roomID,
		VideoState: domain.DefaultVideoState(),
		CreatedAt:  m.clock.Now().UnixMilli(),
	})
	if err != nil {
		return domain.VideoState{}, fmt.Errorf("failed to create room: %w", err)
	}

	if created {
		m.logger.InfoContext(ctx, "room created")
	} else {
		m.logger.DebugContext(ctx, "room already exists")
	}

	return m.videoState(ctx, roomID)
}

// JoinRoom registers the participant in an existing room and returns the
// state snapshot to sync from. A missing room yields domain.ErrRoomNotFound.
func (m *Manager) JoinRoom(ctx context.Context, roomID, userID, username string) (domain.VideoState, error) {
	ctx = ctxlogger.AppendCtx(ctx, slog.String("room_id", roomID))
	ctx = ctxlogger.AppendCtx(ctx, slog.String("user_id", userID))

	exists, err := m.RoomExists(ctx, roomID)
	if err != nil {
		return domain.VideoState{}, err
	}

	if !exists {
		m.logger.InfoContext(ctx, "join rejected, room not found")
		return domain.VideoState{}, domain.ErrRoomNotFound
	}

	if _, err := m.presence.MarkPresent(ctx, roomID, userID, username); err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			return domain.VideoState{}, domain.ErrRoomNotFound
		}

		return domain.VideoState{}, err
	}

	m.logger.InfoContext(ctx, "participant joined")
	state, err := m.videoState(ctx, roomID)
	if err != nil {
		// the caller never learns it joined, so it will not leave either
		if _, lerr := m.LeaveRoom(context.WithoutCancel(ctx), roomID, userID); lerr != nil {
			m.logger.ErrorContext(ctx, "failed to roll back join", "error", lerr)
		}

		return domain.VideoState{}, err
	}

	return state, nil
}

// Enter is the entry point of a participant: the admin creates the room
// before registering, a guest has to find it already there.
func (m *Manager) Enter(ctx context.Context, roomID, userID, username string, isAdmin bool) (domain.VideoState, error) {
	if isAdmin {
		if _, err := m.CreateRoom(ctx, roomID); err != nil {
			return domain.VideoState{}, err
		}
	}

	return m.JoinRoom(ctx, roomID, userID, username)
}

// LeaveRoom removes the participant and deletes the room when nobody is left.
// It reports whether the room was deleted.
func (m *Manager) LeaveRoom(ctx context.Context, roomID, userID string) (bool, error) {
	ctx = ctxlogger.AppendCtx(ctx, slog.String("room_id", roomID))
	ctx = ctxlogger.AppendCtx(ctx, slog.String("user_id", userID))

	if err := m.presence.MarkAbsent(ctx, roomID, userID); err != nil {
		return false, err
	}

	empty, err := m.presence.IsEmpty(ctx, roomID)
	if err != nil {
		return false, err
	}

	if !empty {
		return false, nil
	}

	deleted, err := m.repo.DeleteRoomIfEmpty(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("failed to tear down room: %w", err)
	}

	if deleted {
		m.logger.InfoContext(ctx, "room torn down")
	}

	return deleted, nil
}

func (m *Manager) videoState(ctx context.Context, roomID string) (domain.VideoState, error) {
	state, err := m.repo.GetVideoState(ctx, roomID)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			return domain.VideoState{}, domain.ErrRoomNotFound
		}

		return domain.VideoState{}, fmt.Errorf("failed to get video state: %w", err)
	}

	return state, nil
}
