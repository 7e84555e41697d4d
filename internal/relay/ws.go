package relay

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/pkg/ctxlogger"
	"github.com/sharetube/syncroom/pkg/wsrouter"
)

func (r *Relay) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New()

	// room
	mux.Handle(string(domain.TypeCreateRoom), r.handleCreateRoom)
	mux.Handle(string(domain.TypeJoinRoom), r.handleJoinRoom)

	// playback
	mux.Handle(string(domain.TypePlay), r.handlePlayback)
	mux.Handle(string(domain.TypePause), r.handlePlayback)
	mux.Handle(string(domain.TypeSeek), r.handlePlayback)
	mux.Handle(string(domain.TypeSetVideo), r.handlePlayback)

	// chat
	mux.Handle(string(domain.TypeChat), r.handleChat)

	mux.HandleError(func(ctx context.Context, conn *wsrouter.Conn, err error) {
		r.logger.WarnContext(ctx, "dropping frame", "error", err)
		r.writeError(ctx, conn, "", err.Error())
	})

	return mux
}

func (r *Relay) serveWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.InfoContext(req.Context(), "failed to upgrade connection", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: wsrouter.NewConn(conn),
	}

	// the request context ends with the handler, the connection outlives it
	ctx := ctxlogger.AppendCtx(context.WithoutCancel(req.Context()), slog.String("conn_id", c.id))
	ctx = context.WithValue(ctx, clientCtxKey, c)

	r.connections.Inc()
	r.logger.InfoContext(ctx, "connection opened")

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(r.pongWait))
	})
	conn.SetReadDeadline(time.Now().Add(r.pongWait))

	done := make(chan struct{})
	go r.keepAlive(ctx, c, done)

	err = r.getWSRouter().ServeConn(ctx, c.conn)
	close(done)
	conn.Close()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		r.logger.InfoContext(ctx, "connection closed")
	} else {
		r.logger.InfoContext(ctx, "connection lost", "error", err)
	}

	r.leave(ctx, c)
	r.connections.Dec()
}

func (r *Relay) keepAlive(ctx context.Context, c *client, done <-chan struct{}) {
	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.conn.WritePing(); err != nil {
				r.logger.DebugContext(ctx, "failed to send ping", "error", err)
				return
			}
		}
	}
}

// leave is the on-disconnect hook: presence goes away with the last
// connection of the user, and the room with the last participant.
func (r *Relay) leave(ctx context.Context, c *client) {
	if c.roomID == "" {
		return
	}

	roomID, userID := c.roomID, c.userID
	if !r.hub.remove(roomID, c) {
		r.logger.DebugContext(ctx, "user still connected elsewhere", "room_id", roomID, "user_id", userID)
		return
	}

	deleted, err := r.lifecycle.LeaveRoom(ctx, roomID, userID)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to leave room", "room_id", roomID, "error", err)
		return
	}

	if deleted {
		r.logger.InfoContext(ctx, "room closed", "room_id", roomID)
	}
}
