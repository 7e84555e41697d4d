package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/internal/repository/room"
)

type Store interface {
	SetPresence(ctx context.Context, params *room.SetPresenceParams) error
	RemovePresence(ctx context.Context, params *room.RemovePresenceParams) error
	GetPresence(ctx context.Context, roomId string) ([]domain.Presence, error)
	CountPresence(ctx context.Context, roomId string) (int, error)
}

type (
	JoinHook  func(roomID string, p domain.Presence)
	LeaveHook func(roomID, userID string)
)

// Tracker maintains the set of participants attached to each room. Hooks
// fire after the store accepted the change.
type Tracker struct {
	store  Store
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.RWMutex
	onJoin  []JoinHook
	onLeave []LeaveHook
}

func NewTracker(store Store, clk clock.Clock, logger *slog.Logger) *Tracker {
	if clk == nil {
		clk = clock.New()
	}

	return &Tracker{
		store:  store,
		clock:  clk,
		logger: logger.With("component", "presence"),
	}
}

func (t *Tracker) OnJoin(hook JoinHook) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onJoin = append(t.onJoin, hook)
}

func (t *Tracker) OnLeave(hook LeaveHook) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onLeave = append(t.onLeave, hook)
}

// MarkPresent upserts the participant and refreshes its heartbeat.
func (t *Tracker) MarkPresent(ctx context.Context, roomID, userID, username string) (domain.Presence, error) {
	p := domain.Presence{
		UserID:     userID,
		Username:   username,
		LastSeenMs: t.clock.Now().UnixMilli(),
	}

	if err := t.store.SetPresence(ctx, &room.SetPresenceParams{
		RoomId:   roomID,
		Presence: p,
	}); err != nil {
		return domain.Presence{}, fmt.Errorf("failed to set presence: %w", err)
	}

	t.logger.DebugContext(ctx, "participant present", "room_id", roomID, "user_id", userID)

	t.mu.RLock()
	hooks := t.onJoin
	t.mu.RUnlock()
	for _, hook := range hooks {
		hook(roomID, p)
	}

	return p, nil
}

// MarkAbsent removes the participant. Removing an absent participant is not
// an error, so a retried leave stays harmless.
func (t *Tracker) MarkAbsent(ctx context.Context, roomID, userID string) error {
	err := t.store.RemovePresence(ctx, &room.RemovePresenceParams{
		RoomId: roomID,
		UserId: userID,
	})
	if err != nil {
		if errors.Is(err, room.ErrPresenceNotFound) {
			return nil
		}

		return fmt.Errorf("failed to remove presence: %w", err)
	}

	t.logger.DebugContext(ctx, "participant absent", "room_id", roomID, "user_id", userID)

	t.mu.RLock()
	hooks := t.onLeave
	t.mu.RUnlock()
	for _, hook := range hooks {
		hook(roomID, userID)
	}

	return nil
}

func (t *Tracker) IsEmpty(ctx context.Context, roomID string) (bool, error) {
	n, err := t.store.CountPresence(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("failed to count presence: %w", err)
	}

	return n == 0, nil
}

func (t *Tracker) Members(ctx context.Context, roomID string) ([]domain.Presence, error) {
	members, err := t.store.GetPresence(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	return members, nil
}
