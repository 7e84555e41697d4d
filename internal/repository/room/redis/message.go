package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/internal/repository/room"
)

// PublishMessage appends the message to the room log and publishes the event
// in one transaction.
func (r repo) PublishMessage(ctx context.Context, params *room.AppendMessageParams) error {
	r.logger.DebugContext(ctx, "called", "room_id", params.RoomId, "message_id", params.Message.ID)
	value, err := json.Marshal(params.Message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	messagesKey := r.getMessagesKey(params.RoomId)
	pipe := r.rc.TxPipeline()
	pipe.RPush(ctx, messagesKey, value)
	r.expireRoom(ctx, pipe, params.RoomId)
	if len(params.Event) > 0 {
		pipe.Publish(ctx, EventsChannel(params.RoomId), params.Event)
	}

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	return nil
}

// GetMessages returns the room log in append order. Entries that do not
// decode are skipped.
func (r repo) GetMessages(ctx context.Context, roomId string) ([]domain.ChatMessage, error) {
	res, err := r.rc.LRange(ctx, r.getMessagesKey(roomId), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	messages := make([]domain.ChatMessage, 0, len(res))
	for _, raw := range res {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			r.logger.WarnContext(ctx, "skipping malformed message", "room_id", roomId, "error", err)
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}
