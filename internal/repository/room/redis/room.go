package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sharetube/syncroom/internal/repository/room"
)

func (r repo) RoomExists(ctx context.Context, roomId string) (bool, error) {
	r.logger.DebugContext(ctx, "called", "room_id", roomId)
	res, err := r.rc.Exists(ctx, r.getMetaKey(roomId)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check if room exists: %w", err)
	}

	return res > 0, nil
}

// CreateRoom writes the meta marker and the initial video state unless the
// room already exists. It reports whether the room was created by this call.
func (r repo) CreateRoom(ctx context.Context, params *room.CreateRoomParams) (bool, error) {
	r.logger.DebugContext(ctx, "called", "room_id", params.RoomId)
	state := params.VideoState
	res, err := r.createRoomScript.Run(ctx, r.rc,
		[]string{r.getMetaKey(params.RoomId), r.getVideoKey(params.RoomId)},
		params.CreatedAt,
		r.boolToInt(state.Playing),
		state.Time,
		state.Source,
		r.boolToInt(state.IsEmbeddedPlatform),
		int64(r.expireDuration.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to create room: %w", err)
	}

	return res == 1, nil
}

// DeleteRoomIfEmpty removes the whole room record when its presence set is
// empty. The presence key is watched, so a participant joining between the
// check and the delete aborts the delete.
func (r repo) DeleteRoomIfEmpty(ctx context.Context, roomId string) (bool, error) {
	r.logger.DebugContext(ctx, "called", "room_id", roomId)
	presenceKey := r.getPresenceKey(roomId)

	deleted := false
	err := r.rc.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.HLen(ctx, presenceKey).Result()
		if err != nil {
			return err
		}

		if n > 0 {
			return nil
		}

		var del *redis.IntCmd
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, r.roomKeys(roomId)...)
			return nil
		}); err != nil {
			return err
		}

		deleted = del.Val() > 0
		return nil
	}, presenceKey)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			r.logger.InfoContext(ctx, "room delete aborted by concurrent presence change", "room_id", roomId)
			return false, nil
		}

		return false, fmt.Errorf("failed to delete room: %w", err)
	}

	return deleted, nil
}
