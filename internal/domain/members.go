package domain

// Presence marks one participant currently attached to a room.
type Presence struct {
	UserID     string `json:"userId" validate:"required"`
	Username   string `json:"username" validate:"required,max=64"`
	LastSeenMs int64  `json:"lastSeen"`
}

// Identity is sent with CREATE_ROOM and JOIN_ROOM on the socket relay.
type Identity struct {
	UserID   string `json:"userId" validate:"required,max=64"`
	Username string `json:"username" validate:"required,max=64"`
}
