package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"codehive/internal/metrics"
	"codehive/internal/protocol"
	"codehive/internal/ratelimit"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Join state per connection. A connection joins at most one room for
// its lifetime and never leaves `left` once it gets there.
type joinState int

const (
	stateUnjoined joinState = iota
	stateJoined
	stateLeft
)

type Client struct {
	hub     *Hub
	router  *Router
	conn    *websocket.Conn
	send    chan []byte
	limiter *ratelimit.Limiter
	id      string

	// Written only by the reader goroutine before the client is handed
	// to the hub; immutable afterwards.
	roomCode    string
	displayName string
	state       joinState

	closeOnce sync.Once
}

func ServeWs(hub *Hub, router *Router, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Error("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:     hub,
		router:  router,
		conn:    conn,
		send:    make(chan []byte, 512),
		limiter: ratelimit.NewLimiter(messagesPerSecond, messageBurst),
		id:      uuid.NewString(),
	}

	metrics.ActiveConnections.Inc()

	go client.writePump()
	go client.readPump()
}

// closeSend shuts the outbound channel exactly once, however many
// disconnect signals arrive.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.state = stateLeft
		c.hub.unregister <- c
		c.conn.Close()
		metrics.ActiveConnections.Dec()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).WithField("conn", c.id).Warn("websocket read error")
			}
			break
		}

		if !c.limiter.Allow() {
			logrus.WithField("conn", c.id).Warn("rate limit exceeded, dropping event")
			continue
		}

		ev, err := protocol.Decode(raw)
		if err != nil {
			// Malformed payloads are dropped, never broadcast.
			logrus.WithError(err).WithField("conn", c.id).Warn("invalid event")
			continue
		}

		metrics.EventsTotal.WithLabelValues(ev.Type).Inc()

		for _, d := range c.router.Dispatch(c, ev) {
			c.deliver(d)
		}
	}
}

// deliver executes one routed delivery: unicast back to this
// connection, or fan-out through the hub.
func (c *Client) deliver(d Delivery) {
	data, err := d.Event.Encode()
	if err != nil {
		logrus.WithError(err).Error("encode outbound event")
		return
	}

	switch d.Scope {
	case ScopeSender:
		select {
		case c.send <- data:
		default:
			logrus.WithField("conn", c.id).Warn("dropping event for slow client")
		}
	case ScopeRoom:
		c.hub.broadcast <- &Message{RoomCode: d.RoomCode, Data: data}
	case ScopeRoomExceptSender:
		c.hub.broadcast <- &Message{RoomCode: d.RoomCode, Data: data, Sender: c}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
