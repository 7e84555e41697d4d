package inmemory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/internal/repository/room"
)

type record struct {
	meta       domain.RoomMeta
	videoState domain.VideoState
	presence   map[string]domain.Presence
}

// repo keeps room records in process memory. It backs the socket relay,
// where the relay process itself is the store.
type repo struct {
	rooms  map[string]*record
	mu     sync.RWMutex
	logger *slog.Logger
}

func NewRepo(logger *slog.Logger) *repo {
	return &repo{
		rooms:  make(map[string]*record),
		logger: logger.With("component", "room_repo"),
	}
}

func (r *repo) RoomExists(ctx context.Context, roomId string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[roomId]
	return ok, nil
}

func (r *repo) CreateRoom(ctx context.Context, params *room.CreateRoomParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.DebugContext(ctx, "called", "room_id", params.RoomId)
	if _, ok := r.rooms[params.RoomId]; ok {
		return false, nil
	}

	r.rooms[params.RoomId] = &record{
		meta:       domain.RoomMeta{Created: true, CreatedAt: params.CreatedAt},
		videoState: params.VideoState,
		presence:   make(map[string]domain.Presence),
	}

	return true, nil
}

func (r *repo) GetVideoState(ctx context.Context, roomId string) (domain.VideoState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.rooms[roomId]
	if !ok {
		return domain.VideoState{}, room.ErrRoomNotFound
	}

	return rec.videoState, nil
}

func (r *repo) SetVideoState(ctx context.Context, params *room.SetVideoStateParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.rooms[params.RoomId]
	if !ok {
		return room.ErrRoomNotFound
	}
	rec.videoState = params.VideoState

	return nil
}

func (r *repo) SetPresence(ctx context.Context, params *room.SetPresenceParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.DebugContext(ctx, "called", "room_id", params.RoomId, "user_id", params.Presence.UserID)
	rec, ok := r.rooms[params.RoomId]
	if !ok {
		return room.ErrRoomNotFound
	}
	rec.presence[params.Presence.UserID] = params.Presence

	return nil
}

func (r *repo) RemovePresence(ctx context.Context, params *room.RemovePresenceParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.DebugContext(ctx, "called", "room_id", params.RoomId, "user_id", params.UserId)
	rec, ok := r.rooms[params.RoomId]
	if !ok {
		return room.ErrPresenceNotFound
	}

	if _, ok := rec.presence[params.UserId]; !ok {
		return room.ErrPresenceNotFound
	}
	delete(rec.presence, params.UserId)

	return nil
}

func (r *repo) GetPresence(ctx context.Context, roomId string) ([]domain.Presence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.rooms[roomId]
	if !ok {
		return []domain.Presence{}, nil
	}

	members := make([]domain.Presence, 0, len(rec.presence))
	for _, p := range rec.presence {
		members = append(members, p)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].LastSeenMs < members[j].LastSeenMs
	})

	return members, nil
}

func (r *repo) CountPresence(ctx context.Context, roomId string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.rooms[roomId]
	if !ok {
		return 0, nil
	}

	return len(rec.presence), nil
}

// DeleteRoomIfEmpty checks and deletes under one lock, so no join can slip
// in between.
func (r *repo) DeleteRoomIfEmpty(ctx context.Context, roomId string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.rooms[roomId]
	if !ok {
		return false, nil
	}

	if len(rec.presence) > 0 {
		return false, nil
	}
	delete(r.rooms, roomId)

	r.logger.DebugContext(ctx, "room deleted", "room_id", roomId)
	return true, nil
}

func (r *repo) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}
