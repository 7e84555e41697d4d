package relay

import (
	"sync"

	"github.com/sharetube/syncroom/pkg/wsrouter"
	"golang.org/x/sync/errgroup"
)

// client is one websocket connection. roomID and userID are set once the
// connection entered a room and are only touched by its reading goroutine.
type client struct {
	id       string
	conn     *wsrouter.Conn
	roomID   string
	userID   string
	username string
}

type hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*client
}

func newHub() *hub {
	return &hub{rooms: make(map[string]map[string]*client)}
}

// add attaches c to the room under the given identity. The identity is
// written under the lock since remove reads it from other connections.
func (h *hub) add(c *client, roomID, userID, username string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.roomID = roomID
	c.userID = userID
	c.username = username

	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]*client)
		h.rooms[roomID] = members
	}
	members[c.id] = c
}

// remove detaches c and reports whether its user has no other connection
// left in the room.
func (h *hub) remove(roomID string, c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.roomID = ""

	members, ok := h.rooms[roomID]
	if !ok {
		return true
	}
	delete(members, c.id)

	if len(members) == 0 {
		delete(h.rooms, roomID)
		return true
	}

	for _, other := range members {
		if other.userID == c.userID {
			return false
		}
	}
	return true
}

func (h *hub) members(roomID string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := make([]*client, 0, len(h.rooms[roomID]))
	for _, c := range h.rooms[roomID] {
		members = append(members, c)
	}
	return members
}

// broadcast writes v to every client of the room except the one with id
// skip, concurrently. It returns the first write error.
func (h *hub) broadcast(roomID, skip string, v any) (int, error) {
	var g errgroup.Group
	sent := 0
	for _, c := range h.members(roomID) {
		if c.id == skip {
			continue
		}

		sent++
		g.Go(func() error {
			return c.conn.WriteJSON(v)
		})
	}

	return sent, g.Wait()
}
