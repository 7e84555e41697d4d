package domain

import (
	"encoding/json"
	"fmt"
)

type MessageType string

const (
	TypeCreateRoom  MessageType = "CREATE_ROOM"
	TypeJoinRoom    MessageType = "JOIN_ROOM"
	TypePlay        MessageType = "PLAY"
	TypePause       MessageType = "PAUSE"
	TypeSeek        MessageType = "SEEK"
	TypeSetVideo    MessageType = "SET_VIDEO"
	TypeChat        MessageType = "CHAT"
	TypeSyncState   MessageType = "SYNC_STATE"
	TypeRoomCreated MessageType = "ROOM_CREATED"
	TypeError       MessageType = "ERROR"
)

// IsPlayback reports whether envelopes of this type carry a VideoState.
func (t MessageType) IsPlayback() bool {
	switch t {
	case TypePlay, TypePause, TypeSeek, TypeSetVideo:
		return true
	}
	return false
}

// Envelope is the one message shape exchanged through every relay variant.
type Envelope struct {
	Type    MessageType     `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func NewEnvelope(t MessageType, roomID string, payload any) (Envelope, error) {
	env := Envelope{Type: t, RoomID: roomID}
	if payload == nil {
		return env, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	env.Payload = raw

	return env, nil
}

// Decode unmarshals the payload into v. A missing payload is reported as a
// MalformedPayloadError.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return &MalformedPayloadError{Type: e.Type, Err: ErrMissingPayload}
	}

	if err := json.Unmarshal(e.Payload, v); err != nil {
		return &MalformedPayloadError{Type: e.Type, Err: err}
	}

	return nil
}
