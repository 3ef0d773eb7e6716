package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound event types (connection -> server)
const (
	EventJoin        = "join"
	EventFileCreated = "file-created"
	EventCodeChange  = "code-change"
	EventFileDeleted = "file-deleted"
	EventSendMessage = "send-message"
)

// Outbound event types (server -> connection/room)
const (
	EventInitialFiles = "initial-files"
	EventChatHistory  = "chat-history"
	EventUpdateUsers  = "update-users"
	EventCodeUpdate   = "code-update"
	EventNewMessage   = "new-message"
	EventError        = "error"
	// file-created and file-deleted are echoed back under their
	// inbound names.
)

// Inbound is the flat envelope for client events. Only the fields
// relevant to a given type are populated.
type Inbound struct {
	Type        string `json:"type"`
	RoomCode    string `json:"roomCode,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Content     string `json:"content,omitempty"`
	Text        string `json:"text,omitempty"`
	Author      string `json:"author,omitempty"`
}

// Decode parses an inbound envelope and validates its type tag.
func Decode(data []byte) (Inbound, error) {
	var ev Inbound
	if err := json.Unmarshal(data, &ev); err != nil {
		return Inbound{}, fmt.Errorf("decode event: %w", err)
	}
	switch ev.Type {
	case EventJoin, EventFileCreated, EventCodeChange, EventFileDeleted, EventSendMessage:
		return ev, nil
	case "":
		return Inbound{}, fmt.Errorf("decode event: missing type")
	default:
		return Inbound{}, fmt.Errorf("decode event: unknown type %q", ev.Type)
	}
}

// Outbound is a server event ready for transmission.
type Outbound struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

func (o Outbound) Encode() ([]byte, error) {
	return json.Marshal(o)
}

// Payload shapes for outbound events.

type FilePayload struct {
	Filename string `json:"filename"`
	Content  string `json:"content,omitempty"`
}

type CodeUpdatePayload struct {
	Filename string `json:"filename"`
	Code     string `json:"code"`
}

type UserEntry struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

type MessagePayload struct {
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
