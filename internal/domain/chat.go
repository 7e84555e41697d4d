package domain

import "strconv"

const SystemAuthorID = "system"

type ChatMessage struct {
	ID          string `json:"id" validate:"required"`
	AuthorID    string `json:"userId" validate:"required"`
	AuthorName  string `json:"username"`
	Text        string `json:"text" validate:"required,max=4096"`
	TimestampMs int64  `json:"timestamp"`
	IsSystem    bool   `json:"isSystem,omitempty"`
}

// ChatMessageID builds the id of a message authored by userID at the given
// epoch milliseconds.
func ChatMessageID(userID string, epochMs int64) string {
	return userID + "-" + strconv.FormatInt(epochMs, 10)
}
