package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/internal/repository/room"
	"github.com/sharetube/syncroom/pkg/ctxlogger"
	"github.com/sharetube/syncroom/pkg/wsrouter"
)

const (
	errMsgRoomNotFound = "Room not found"
	errMsgNotInRoom    = "Join a room first"
	errMsgMissingRoom  = "roomId is required"
)

type roomCreatedPayload struct {
	RoomID string `json:"roomId"`
}

func (r *Relay) handleCreateRoom(ctx context.Context, conn *wsrouter.Conn, payload json.RawMessage) {
	c := r.getClientFromCtx(ctx)
	roomID := wsrouter.GetRoomIDFromCtx(ctx)

	identity, ok := r.readIdentity(ctx, conn, roomID, payload)
	if !ok {
		return
	}

	if _, err := r.lifecycle.CreateRoom(ctx, roomID); err != nil {
		r.logger.ErrorContext(ctx, "failed to create room", "room_id", roomID, "error", err)
		r.writeError(ctx, conn, roomID, "Failed to create room")
		return
	}

	state, ok := r.enter(ctx, c, roomID, identity)
	if !ok {
		return
	}

	r.write(ctx, conn, domain.TypeRoomCreated, roomID, roomCreatedPayload{RoomID: roomID})
	r.write(ctx, conn, domain.TypeSyncState, roomID, state)
}

func (r *Relay) handleJoinRoom(ctx context.Context, conn *wsrouter.Conn, payload json.RawMessage) {
	c := r.getClientFromCtx(ctx)
	roomID := wsrouter.GetRoomIDFromCtx(ctx)

	identity, ok := r.readIdentity(ctx, conn, roomID, payload)
	if !ok {
		return
	}

	state, ok := r.enter(ctx, c, roomID, identity)
	if !ok {
		return
	}

	r.write(ctx, conn, domain.TypeSyncState, roomID, state)
}

// enter registers c in the room, leaving the room it was in before.
func (r *Relay) enter(ctx context.Context, c *client, roomID string, identity domain.Identity) (domain.VideoState, bool) {
	if c.roomID != "" && (c.roomID != roomID || c.userID != identity.UserID) {
		r.leave(ctx, c)
	}

	ctx = ctxlogger.AppendCtx(ctx, slog.String("room_id", roomID))
	state, err := r.lifecycle.JoinRoom(ctx, roomID, identity.UserID, identity.Username)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			r.writeError(ctx, c.conn, roomID, errMsgRoomNotFound)
			return domain.VideoState{}, false
		}

		r.logger.ErrorContext(ctx, "failed to join room", "error", err)
		r.writeError(ctx, c.conn, roomID, "Failed to join room")
		return domain.VideoState{}, false
	}

	r.hub.add(c, roomID, identity.UserID, identity.Username)

	r.logger.InfoContext(ctx, "client entered room", "user_id", identity.UserID)
	return state, true
}

func (r *Relay) handlePlayback(ctx context.Context, conn *wsrouter.Conn, payload json.RawMessage) {
	c := r.getClientFromCtx(ctx)
	messageType := domain.MessageType(wsrouter.GetMessageTypeFromCtx(ctx))
	if !r.requireRoom(ctx, c) {
		return
	}

	env := domain.Envelope{Type: messageType, RoomID: c.roomID, Payload: payload}
	var state domain.VideoState
	if err := env.Decode(&state); err != nil {
		r.logger.WarnContext(ctx, "dropping playback update", "error", err)
		r.writeError(ctx, conn, c.roomID, err.Error())
		return
	}

	if err := r.validate.Check(state); err != nil {
		r.writeError(ctx, conn, c.roomID, err.Error())
		return
	}

	if err := r.videos.SetVideoState(ctx, &room.SetVideoStateParams{
		RoomId:     c.roomID,
		VideoState: state,
	}); err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			r.writeError(ctx, conn, c.roomID, errMsgRoomNotFound)
			return
		}

		r.logger.ErrorContext(ctx, "failed to store video state", "error", err)
		return
	}

	r.fanOut(ctx, c.roomID, c.id, env)
}

func (r *Relay) handleChat(ctx context.Context, conn *wsrouter.Conn, payload json.RawMessage) {
	c := r.getClientFromCtx(ctx)
	if !r.requireRoom(ctx, c) {
		return
	}

	env := domain.Envelope{Type: domain.TypeChat, RoomID: c.roomID, Payload: payload}
	var msg domain.ChatMessage
	if err := env.Decode(&msg); err != nil {
		r.logger.WarnContext(ctx, "dropping chat message", "error", err)
		r.writeError(ctx, conn, c.roomID, err.Error())
		return
	}

	if err := r.validate.Check(msg); err != nil {
		r.writeError(ctx, conn, c.roomID, err.Error())
		return
	}

	// the sender gets its own message back, that is how it lands in its log
	r.fanOut(ctx, c.roomID, "", env)
}

func (r *Relay) fanOut(ctx context.Context, roomID, skip string, env domain.Envelope) {
	sent, err := r.hub.broadcast(roomID, skip, env)
	r.relayed.Add(int64(sent))
	if err != nil {
		r.logger.WarnContext(ctx, "broadcast incomplete", "room_id", roomID, "type", env.Type, "error", err)
	}
}

func (r *Relay) readIdentity(ctx context.Context, conn *wsrouter.Conn, roomID string, payload json.RawMessage) (domain.Identity, bool) {
	if roomID == "" {
		r.writeError(ctx, conn, "", errMsgMissingRoom)
		return domain.Identity{}, false
	}

	env := domain.Envelope{Type: domain.MessageType(wsrouter.GetMessageTypeFromCtx(ctx)), Payload: payload}
	var identity domain.Identity
	if err := env.Decode(&identity); err != nil {
		r.writeError(ctx, conn, roomID, err.Error())
		return domain.Identity{}, false
	}

	if err := r.validate.Check(identity); err != nil {
		r.writeError(ctx, conn, roomID, err.Error())
		return domain.Identity{}, false
	}

	return identity, true
}

func (r *Relay) requireRoom(ctx context.Context, c *client) bool {
	if c.roomID != "" {
		return true
	}

	r.writeError(ctx, c.conn, wsrouter.GetRoomIDFromCtx(ctx), errMsgNotInRoom)
	return false
}

func (r *Relay) write(ctx context.Context, conn *wsrouter.Conn, t domain.MessageType, roomID string, payload any) {
	env, err := domain.NewEnvelope(t, roomID, payload)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to build envelope", "type", t, "error", err)
		return
	}

	if err := conn.WriteJSON(env); err != nil {
		r.logger.WarnContext(ctx, "failed to write to conn", "type", t, "error", err)
	}
}

func (r *Relay) writeError(ctx context.Context, conn *wsrouter.Conn, roomID, message string) {
	r.write(ctx, conn, domain.TypeError, roomID, domain.ErrorPayload{Message: message})
}
