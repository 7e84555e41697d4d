package redis

import (
	"context"
	"fmt"

	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/internal/repository/room"
)

func (r repo) GetVideoState(ctx context.Context, roomId string) (domain.VideoState, error) {
	r.logger.DebugContext(ctx, "called", "room_id", roomId)
	cmd := r.rc.HGetAll(ctx, r.getVideoKey(roomId))
	if err := cmd.Err(); err != nil {
		return domain.VideoState{}, fmt.Errorf("failed to get video state: %w", err)
	}

	if len(cmd.Val()) == 0 {
		exists, err := r.RoomExists(ctx, roomId)
		if err != nil {
			return domain.VideoState{}, err
		}
		if !exists {
			return domain.VideoState{}, room.ErrRoomNotFound
		}
		return domain.DefaultVideoState(), nil
	}

	var state domain.VideoState
	if err := cmd.Scan(&state); err != nil {
		return domain.VideoState{}, fmt.Errorf("failed to scan video state: %w", err)
	}

	return state, nil
}

// PublishVideoState replaces the whole video state hash and publishes the
// event in one transaction, so subscribers never observe a partial state.
func (r repo) PublishVideoState(ctx context.Context, params *room.SetVideoStateParams) error {
	r.logger.DebugContext(ctx, "called", "params", params.VideoState, "room_id", params.RoomId)
	videoKey := r.getVideoKey(params.RoomId)

	pipe := r.rc.TxPipeline()
	pipe.Del(ctx, videoKey)
	r.hSetStruct(ctx, pipe, videoKey, params.VideoState)
	r.expireRoom(ctx, pipe, params.RoomId)
	if len(params.Event) > 0 {
		pipe.Publish(ctx, EventsChannel(params.RoomId), params.Event)
	}

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to publish video state: %w", err)
	}

	return nil
}
