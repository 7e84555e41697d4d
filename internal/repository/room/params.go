package room

import "github.com/sharetube/syncroom/internal/domain"

type CreateRoomParams struct {
	RoomId     string
	VideoState domain.VideoState
	CreatedAt  int64
}

type SetVideoStateParams struct {
	RoomId     string
	VideoState domain.VideoState
	// Event is published to room subscribers in the same transaction.
	Event []byte
}

type AppendMessageParams struct {
	RoomId  string
	Message domain.ChatMessage
	Event   []byte
}

type SetPresenceParams struct {
	RoomId   string
	Presence domain.Presence
}

type RemovePresenceParams struct {
	RoomId string
	UserId string
}
