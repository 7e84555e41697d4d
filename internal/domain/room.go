package domain

// RoomMeta is the existence marker of a room.
type RoomMeta struct {
	Created   bool  `json:"created" redis:"created"`
	CreatedAt int64 `json:"createdAt" redis:"created_at"`
}
