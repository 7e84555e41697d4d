package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/internal/repository/room"
)

type presenceRecord struct {
	Username string `json:"username"`
	LastSeen int64  `json:"lastSeen"`
}

func (r repo) SetPresence(ctx context.Context, params *room.SetPresenceParams) error {
	r.logger.DebugContext(ctx, "called", "room_id", params.RoomId, "user_id", params.Presence.UserID)
	value, err := json.Marshal(presenceRecord{
		Username: params.Presence.Username,
		LastSeen: params.Presence.LastSeenMs,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	presenceKey := r.getPresenceKey(params.RoomId)
	pipe := r.rc.TxPipeline()
	pipe.HSet(ctx, presenceKey, params.Presence.UserID, value)
	r.expireRoom(ctx, pipe, params.RoomId)

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}

	return nil
}

func (r repo) RemovePresence(ctx context.Context, params *room.RemovePresenceParams) error {
	r.logger.DebugContext(ctx, "called", "room_id", params.RoomId, "user_id", params.UserId)
	res, err := r.rc.HDel(ctx, r.getPresenceKey(params.RoomId), params.UserId).Result()
	if err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}

	if res == 0 {
		return room.ErrPresenceNotFound
	}

	return nil
}

func (r repo) GetPresence(ctx context.Context, roomId string) ([]domain.Presence, error) {
	res, err := r.rc.HGetAll(ctx, r.getPresenceKey(roomId)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	members := make([]domain.Presence, 0, len(res))
	for userId, raw := range res {
		var record presenceRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			r.logger.WarnContext(ctx, "skipping malformed presence entry", "room_id", roomId, "user_id", userId, "error", err)
			continue
		}

		members = append(members, domain.Presence{
			UserID:     userId,
			Username:   record.Username,
			LastSeenMs: record.LastSeen,
		})
	}

	sort.Slice(members, func(i, j int) bool {
		return members[i].LastSeenMs < members[j].LastSeenMs
	})

	return members, nil
}

func (r repo) CountPresence(ctx context.Context, roomId string) (int, error) {
	n, err := r.rc.HLen(ctx, r.getPresenceKey(roomId)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count presence: %w", err)
	}

	return int(n), nil
}
