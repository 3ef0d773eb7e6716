package ws

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"codehive/internal/db"
	"codehive/internal/metrics"
	"codehive/internal/protocol"
)

// Scope names who a routed event is delivered to.
type Scope int

const (
	// Unicast back to the originating connection
	ScopeSender Scope = iota
	// Every occupant of the room, sender included
	ScopeRoom
	// Every occupant except the sender
	ScopeRoomExceptSender
)

// Delivery is one outbound event plus its audience. Dispatch returns
// deliveries instead of transmitting inline so routing stays testable
// without sockets.
type Delivery struct {
	Scope    Scope
	RoomCode string
	Event    protocol.Outbound
}

// Router demultiplexes inbound events and applies the write-through
// discipline: every mutation persists before anything is broadcast.
type Router struct {
	store        *db.Store
	historyLimit int
	log          *logrus.Entry
}

func NewRouter(store *db.Store, historyLimit int) *Router {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Router{
		store:        store,
		historyLimit: historyLimit,
		log:          logrus.WithField("component", "router"),
	}
}

func (r *Router) Dispatch(c *Client, ev protocol.Inbound) []Delivery {
	switch ev.Type {
	case protocol.EventJoin:
		return r.handleJoin(c, ev)
	case protocol.EventFileCreated:
		return r.handleFileCreated(c, ev)
	case protocol.EventCodeChange:
		return r.handleCodeChange(c, ev)
	case protocol.EventFileDeleted:
		return r.handleFileDeleted(c, ev)
	case protocol.EventSendMessage:
		return r.handleSendMessage(c, ev)
	}
	return nil
}

// handleJoin registers the connection, then unicasts the current file
// snapshot and recent chat so a late joiner converges to room state.
// The snapshot is read from the store after registration, so it cannot
// miss a write whose broadcast raced the join.
func (r *Router) handleJoin(c *Client, ev protocol.Inbound) []Delivery {
	if ev.RoomCode == "" {
		return []Delivery{errorTo(c, "join requires a room code")}
	}
	if c.state != stateUnjoined {
		// One room per connection; repeat joins are dropped.
		r.log.WithField("conn", c.id).Warn("duplicate join ignored")
		return nil
	}

	c.roomCode = ev.RoomCode
	c.displayName = ev.DisplayName
	c.state = stateJoined
	c.hub.register <- c

	var out []Delivery

	files, err := r.store.GetFiles(ev.RoomCode)
	if err != nil {
		r.log.WithError(err).WithField("room", ev.RoomCode).Error("load files")
		out = append(out, errorTo(c, "failed to load files"))
	} else {
		if files == nil {
			files = []db.FileRecord{}
		}
		out = append(out, Delivery{
			Scope: ScopeSender,
			Event: protocol.Outbound{Type: protocol.EventInitialFiles, Payload: files},
		})
	}

	history, err := r.store.RecentMessages(ev.RoomCode, r.historyLimit)
	if err != nil {
		r.log.WithError(err).WithField("room", ev.RoomCode).Error("load chat history")
		out = append(out, errorTo(c, "failed to load chat history"))
	} else {
		if history == nil {
			history = []db.ChatMessage{}
		}
		out = append(out, Delivery{
			Scope: ScopeSender,
			Event: protocol.Outbound{Type: protocol.EventChatHistory, Payload: history},
		})
	}

	return out
}

// handleFileCreated creates an empty file if none exists. Creation is
// idempotent: an existing file keeps its content, and the broadcast
// carries whatever content the record holds.
func (r *Router) handleFileCreated(c *Client, ev protocol.Inbound) []Delivery {
	roomCode := r.roomFor(c, ev)
	if roomCode == "" || ev.Filename == "" {
		return nil
	}

	record, err := r.store.CreateFile(roomCode, ev.Filename)
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"room": roomCode, "file": ev.Filename,
		}).Error("create file")
		return []Delivery{errorTo(c, "failed to create file")}
	}

	return []Delivery{{
		Scope:    ScopeRoom,
		RoomCode: roomCode,
		Event: protocol.Outbound{
			Type:    protocol.EventFileCreated,
			Payload: protocol.FilePayload{Filename: record.Filename, Content: record.Content},
		},
	}}
}

// handleCodeChange upserts file content, last write wins. Two editors
// racing on the same file resolve by arrival order at the store; no
// lock, no merge, no stale-write rejection. The sender is excluded
// from the echo since it already holds the content locally.
func (r *Router) handleCodeChange(c *Client, ev protocol.Inbound) []Delivery {
	roomCode := r.roomFor(c, ev)
	if roomCode == "" || ev.Filename == "" {
		return nil
	}

	if err := r.store.UpsertFile(roomCode, ev.Filename, ev.Content); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"room": roomCode, "file": ev.Filename,
		}).Error("upsert file")
		return []Delivery{errorTo(c, "failed to save file")}
	}

	return []Delivery{{
		Scope:    ScopeRoomExceptSender,
		RoomCode: roomCode,
		Event: protocol.Outbound{
			Type:    protocol.EventCodeUpdate,
			Payload: protocol.CodeUpdatePayload{Filename: ev.Filename, Code: ev.Content},
		},
	}}
}

// handleFileDeleted removes a file if present. Deleting a file nobody
// ever saw broadcasts nothing.
func (r *Router) handleFileDeleted(c *Client, ev protocol.Inbound) []Delivery {
	roomCode := r.roomFor(c, ev)
	if roomCode == "" || ev.Filename == "" {
		return nil
	}

	removed, err := r.store.DeleteFile(roomCode, ev.Filename)
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"room": roomCode, "file": ev.Filename,
		}).Error("delete file")
		return []Delivery{errorTo(c, "failed to delete file")}
	}
	if !removed {
		return nil
	}

	return []Delivery{{
		Scope:    ScopeRoom,
		RoomCode: roomCode,
		Event: protocol.Outbound{
			Type:    protocol.EventFileDeleted,
			Payload: protocol.FilePayload{Filename: ev.Filename},
		},
	}}
}

// handleSendMessage persists then broadcasts a chat message to the
// whole room, sender included: the sender's own message renders via
// the broadcast path so everyone observes the same order.
func (r *Router) handleSendMessage(c *Client, ev protocol.Inbound) []Delivery {
	roomCode := r.roomFor(c, ev)
	if roomCode == "" {
		return nil
	}
	if strings.TrimSpace(ev.Text) == "" {
		// Blank chat is a no-op: nothing persisted, nothing broadcast.
		return nil
	}

	author := ev.Author
	if author == "" {
		author = c.displayName
	}
	sentAt := time.Now().UTC()

	if err := r.store.AppendMessage(roomCode, author, ev.Text, sentAt); err != nil {
		r.log.WithError(err).WithField("room", roomCode).Error("append message")
		return []Delivery{errorTo(c, "failed to send message")}
	}

	metrics.MessagesRelayed.Inc()

	return []Delivery{{
		Scope:    ScopeRoom,
		RoomCode: roomCode,
		Event: protocol.Outbound{
			Type:    protocol.EventNewMessage,
			Payload: protocol.MessagePayload{Author: author, Message: ev.Text, Timestamp: sentAt},
		},
	}}
}

// roomFor resolves the room an event targets: the payload's code when
// present, the connection's joined room otherwise. Unknown codes are
// fine; rooms exist lazily.
func (r *Router) roomFor(c *Client, ev protocol.Inbound) string {
	if ev.RoomCode != "" {
		return ev.RoomCode
	}
	return c.roomCode
}

func errorTo(c *Client, msg string) Delivery {
	return Delivery{
		Scope: ScopeSender,
		Event: protocol.Outbound{
			Type:    protocol.EventError,
			Payload: protocol.ErrorPayload{Message: msg},
		},
	}
}
