package devserver

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/chordboard/roomsync/internal/domain"
)

// client is one websocket attachment. RoomID is empty until a join_room
// frame arrives.
type client struct {
	userID   domain.UserID
	userName string

	mu     sync.Mutex
	roomID domain.RoomID
	send   chan []byte
	closed bool
}

func newClient(userID domain.UserID) *client {
	return &client{userID: userID, send: make(chan []byte, 32)}
}

func (c *client) room() domain.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *client) setRoom(id domain.RoomID) {
	c.mu.Lock()
	c.roomID = id
	c.mu.Unlock()
}

func (c *client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

// hub fans room events out to every client attached to that room.
type hub struct {
	mu      sync.RWMutex
	byRoom  map[domain.RoomID]map[*client]bool
	clients map[*client]bool
}

func newHub() *hub {
	return &hub{
		byRoom:  make(map[domain.RoomID]map[*client]bool),
		clients: make(map[*client]bool),
	}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *hub) join(c *client, roomID domain.RoomID) {
	h.mu.Lock()
	if prev := c.room(); prev != "" {
		delete(h.byRoom[prev], c)
	}
	if h.byRoom[roomID] == nil {
		h.byRoom[roomID] = make(map[*client]bool)
	}
	h.byRoom[roomID][c] = true
	c.setRoom(roomID)
	h.mu.Unlock()
}

func (h *hub) leave(c *client) {
	h.mu.Lock()
	if roomID := c.room(); roomID != "" {
		delete(h.byRoom[roomID], c)
	}
	c.setRoom("")
	h.mu.Unlock()
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	if roomID := c.room(); roomID != "" {
		delete(h.byRoom[roomID], c)
	}
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// broadcast sends data to every member of the room. Slow clients are
// returned rather than allowed to stall the room; the caller detaches
// them so their departure reaches the roster.
func (h *hub) broadcast(roomID domain.RoomID, data []byte) []*client {
	h.mu.RLock()
	members := make([]*client, 0, len(h.byRoom[roomID]))
	for c := range h.byRoom[roomID] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	var dropped []*client
	for _, c := range members {
		if !c.trySend(data) {
			log.Warn().Str("module", "devserver.hub").Str("user", string(c.userID)).Msg("slow client dropped")
			dropped = append(dropped, c)
		}
	}
	return dropped
}
