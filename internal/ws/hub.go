package ws

import (
	"sync"

	"github.com/sirupsen/logrus"

	"codehive/internal/metrics"
	"codehive/internal/protocol"
)

// Hub owns the room registry: which connections are in which room, and
// the fan-out primitive that delivers an event to a room's occupants.
// Rooms are created lazily on first join and dropped when the last
// occupant leaves; durable state outlives them in the store.
type Hub struct {
	// Joined clients by room code
	rooms map[string]map[*Client]bool

	// Occupant lists by room code, mirroring rooms
	rosters map[string]*Roster

	// Outbound fan-out requests
	broadcast chan *Message

	// Join requests from clients
	register chan *Client

	// Disconnect/leave signals from clients
	unregister chan *Client

	mu sync.RWMutex
}

// Message is a fan-out request. A nil Sender delivers to every
// occupant; otherwise the sender is skipped (edit echoes).
type Message struct {
	RoomCode string
	Data     []byte
	Sender   *Client
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		rosters:    make(map[string]*Roster),
		broadcast:  make(chan *Message, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.rooms[client.roomCode]; !ok {
		h.rooms[client.roomCode] = make(map[*Client]bool)
		h.rosters[client.roomCode] = NewRoster()
		metrics.ActiveRooms.Inc()
	}
	h.rooms[client.roomCode][client] = true
	h.rosters[client.roomCode].Add(client.id, client.displayName)
	occupants := len(h.rooms[client.roomCode])
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"room":      client.roomCode,
		"conn":      client.id,
		"occupants": occupants,
	}).Info("client joined room")

	h.broadcastRoster(client.roomCode)
}

// removeClient is idempotent: disconnect signals can fire more than
// once per connection, and a connection that never joined has no room.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	removed := false
	empty := false
	if clients, ok := h.rooms[client.roomCode]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			h.rosters[client.roomCode].Remove(client.id)
			removed = true

			if len(clients) == 0 {
				delete(h.rooms, client.roomCode)
				delete(h.rosters, client.roomCode)
				metrics.ActiveRooms.Dec()
				empty = true
			}
		}
	}
	h.mu.Unlock()

	client.closeSend()

	if !removed {
		return
	}

	if empty {
		logrus.WithField("room", client.roomCode).Info("room closed (empty)")
		return
	}

	logrus.WithFields(logrus.Fields{
		"room": client.roomCode,
		"conn": client.id,
	}).Info("client left room")

	h.broadcastRoster(client.roomCode)
}

func (h *Hub) fanOut(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.rooms[message.RoomCode]
	if !ok {
		return
	}
	for client := range clients {
		if client == message.Sender {
			continue
		}
		select {
		case client.send <- message.Data:
		default:
			// Delivery failure to one occupant never blocks the rest.
			logrus.WithFields(logrus.Fields{
				"room": message.RoomCode,
				"conn": client.id,
			}).Warn("dropping event for slow client")
		}
	}
}

// broadcastRoster pushes the current occupant list to everyone in the
// room, sender included.
func (h *Hub) broadcastRoster(roomCode string) {
	h.mu.RLock()
	roster, ok := h.rosters[roomCode]
	h.mu.RUnlock()
	if !ok {
		return
	}

	data, err := protocol.Outbound{
		Type:    protocol.EventUpdateUsers,
		Payload: roster.Entries(),
	}.Encode()
	if err != nil {
		logrus.WithError(err).Error("encode roster")
		return
	}

	h.fanOut(&Message{RoomCode: roomCode, Data: data})
}

// Occupants returns a copy of a room's occupant list, empty if the
// room has none.
func (h *Hub) Occupants(roomCode string) []protocol.UserEntry {
	h.mu.RLock()
	roster, ok := h.rosters[roomCode]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return roster.Entries()
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.rooms {
		count += len(clients)
	}
	return count
}

// ActiveRooms maps room code to occupant count.
func (h *Hub) ActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	active := make(map[string]int, len(h.rooms))
	for code, clients := range h.rooms {
		active[code] = len(clients)
	}
	return active
}
