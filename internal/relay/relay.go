package relay

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/syncroom/internal/domain"
	"github.com/sharetube/syncroom/internal/lifecycle"
	"github.com/sharetube/syncroom/internal/repository/room"
	"github.com/sharetube/syncroom/pkg/validator"
	"go.uber.org/atomic"
)

const (
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
	maxMessageSize      = 64 << 10
)

type VideoStore interface {
	SetVideoState(ctx context.Context, params *room.SetVideoStateParams) error
}

type RoomCounter interface {
	RoomCount() int
}

type iLifecycle interface {
	CreateRoom(ctx context.Context, roomID string) (domain.VideoState, error)
	JoinRoom(ctx context.Context, roomID, userID, username string) (domain.VideoState, error)
	LeaveRoom(ctx context.Context, roomID, userID string) (bool, error)
}

var _ iLifecycle = (*lifecycle.Manager)(nil)

// Relay is the socket relay: it keeps no playback logic of its own beyond
// remembering the last state of every room and fanning envelopes out.
type Relay struct {
	lifecycle iLifecycle
	videos    VideoStore
	rooms     RoomCounter
	hub       *hub
	upgrader  websocket.Upgrader
	validate  *validator.Validator
	logger    *slog.Logger

	pingInterval time.Duration
	pongWait     time.Duration

	connections atomic.Int64
	relayed     atomic.Int64
}

type Store interface {
	VideoStore
	RoomCounter
}

func New(lm iLifecycle, store Store, logger *slog.Logger) *Relay {
	return &Relay{
		lifecycle: lm,
		videos:    store,
		rooms:     store,
		hub:       newHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		validate:     validator.NewValidator(),
		logger:       logger.With("component", "relay"),
		pingInterval: defaultPingInterval,
		pongWait:     defaultPongWait,
	}
}

type Stats struct {
	Connections int64 `json:"connections"`
	Rooms       int   `json:"rooms"`
	Relayed     int64 `json:"relayed"`
}

func (r *Relay) Stats() Stats {
	return Stats{
		Connections: r.connections.Load(),
		Rooms:       r.rooms.RoomCount(),
		Relayed:     r.relayed.Load(),
	}
}
