package wsrouter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWriteDeadline = 5 * time.Second

var ErrUnknownType = errors.New("unknown message type")

type message struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Conn is a websocket connection whose writes are safe for concurrent use.
type Conn struct {
	*websocket.Conn
	mu sync.Mutex
}

func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{Conn: conn}
}

func (c *Conn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.Conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
		return err
	}

	return c.Conn.WriteJSON(v)
}

func (c *Conn) WritePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteDeadline))
}

type HandlerFunc func(ctx context.Context, conn *Conn, payload json.RawMessage)

// ErrorFunc answers frames that could not be routed.
type ErrorFunc func(ctx context.Context, conn *Conn, err error)

type WSRouter struct {
	routes  map[string]HandlerFunc
	onError ErrorFunc
}

func New() *WSRouter {
	return &WSRouter{
		routes: make(map[string]HandlerFunc),
		onError: func(ctx context.Context, conn *Conn, err error) {
			conn.WriteJSON(map[string]string{"error": err.Error()})
		},
	}
}

func (r *WSRouter) Handle(messageType string, handler HandlerFunc) {
	r.routes[messageType] = handler
}

func (r *WSRouter) HandleError(fn ErrorFunc) {
	r.onError = fn
}

// ServeConn reads frames until the connection fails and routes each one by
// its type. Handlers run on the reading goroutine, one at a time.
func (r *WSRouter) ServeConn(ctx context.Context, conn *Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			r.onError(ctx, conn, err)
			continue
		}

		handler, exists := r.routes[msg.Type]
		if !exists {
			r.onError(ctx, conn, ErrUnknownType)
			continue
		}

		hctx := context.WithValue(ctx, messageTypeKey, msg.Type)
		hctx = context.WithValue(hctx, roomIDKey, msg.RoomID)
		handler(hctx, conn, msg.Payload)
	}
}
