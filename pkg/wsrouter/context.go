package wsrouter

import "context"

type ctxKey string

const (
	messageTypeKey ctxKey = "message_type"
	roomIDKey      ctxKey = "room_id"
)

func GetMessageTypeFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(messageTypeKey).(string)
	return v
}

func GetRoomIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(roomIDKey).(string)
	return v
}
