package ws

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestClient(hub *Hub, roomCode, displayName string) *Client {
	return &Client{
		hub:         hub,
		send:        make(chan []byte, 256),
		id:          uuid.NewString(),
		roomCode:    roomCode,
		displayName: displayName,
		state:       stateJoined,
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func TestRosterAddRemove(t *testing.T) {
	roster := NewRoster()

	roster.Add("conn-1", "alice")
	roster.Add("conn-2", "bob")

	entries := roster.Entries()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].DisplayName != "alice" || entries[1].DisplayName != "bob" {
		t.Error("Roster entries mismatch")
	}

	if !roster.Remove("conn-1") {
		t.Error("Remove of present entry should report true")
	}
	if roster.Remove("conn-1") {
		t.Error("Second remove should report false")
	}
	if roster.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", roster.Len())
	}
}

func TestRosterDuplicateAdd(t *testing.T) {
	roster := NewRoster()

	roster.Add("conn-1", "alice")
	roster.Add("conn-1", "alicia")

	if roster.Len() != 1 {
		t.Fatalf("Duplicate connection ID should replace, got %d entries", roster.Len())
	}
	if roster.Entries()[0].DisplayName != "alicia" {
		t.Error("Duplicate add should update display name")
	}
}

func TestRosterEntriesIsCopy(t *testing.T) {
	roster := NewRoster()
	roster.Add("conn-1", "alice")

	entries := roster.Entries()
	entries[0].DisplayName = "mallory"

	if roster.Entries()[0].DisplayName != "alice" {
		t.Error("Entries should return a copy")
	}
}

func TestHubCreation(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("Hub should not be nil")
	}
	if hub.rooms == nil {
		t.Error("Hub rooms map should be initialized")
	}
	if hub.rosters == nil {
		t.Error("Hub rosters map should be initialized")
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := newTestClient(hub, "ABC123", "alice")
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	if hub.RoomCount() != 1 {
		t.Errorf("Expected 1 room, got %d", hub.RoomCount())
	}
	if hub.ClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", hub.ClientCount())
	}

	occupants := hub.Occupants("ABC123")
	if len(occupants) != 1 || occupants[0].DisplayName != "alice" {
		t.Errorf("Unexpected occupants: %v", occupants)
	}

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	// Last occupant gone: in-memory room entry is discarded
	if hub.RoomCount() != 0 {
		t.Errorf("Expected 0 rooms after last leave, got %d", hub.RoomCount())
	}
	if len(hub.Occupants("ABC123")) != 0 {
		t.Error("Occupant list should be empty after leave")
	}
}

func TestHubDuplicateUnregister(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := newTestClient(hub, "ABC123", "alice")
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	// Disconnect signals can fire more than once
	hub.unregister <- client
	hub.unregister <- client
	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	if hub.RoomCount() != 0 {
		t.Errorf("Expected 0 rooms, got %d", hub.RoomCount())
	}
}

func TestHubUnregisterNeverJoined(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := newTestClient(hub, "", "ghost")
	client.state = stateUnjoined

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	if hub.RoomCount() != 0 {
		t.Errorf("Expected 0 rooms, got %d", hub.RoomCount())
	}
}

func TestPresenceAfterJoinsAndLeaves(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	const joins = 7
	const leaves = 3

	clients := make([]*Client, joins)
	for i := range clients {
		clients[i] = newTestClient(hub, "ABC123", fmt.Sprintf("user-%d", i))
		hub.register <- clients[i]
	}
	for i := 0; i < leaves; i++ {
		hub.unregister <- clients[i]
	}
	time.Sleep(20 * time.Millisecond)

	occupants := hub.Occupants("ABC123")
	if len(occupants) != joins-leaves {
		t.Fatalf("Expected %d occupants, got %d", joins-leaves, len(occupants))
	}

	seen := make(map[string]bool)
	for _, o := range occupants {
		if seen[o.ConnectionID] {
			t.Errorf("Duplicate occupant %s", o.ConnectionID)
		}
		seen[o.ConnectionID] = true
	}
	for i := 0; i < leaves; i++ {
		if seen[clients[i].id] {
			t.Errorf("Disconnected client %s still present", clients[i].id)
		}
	}
}

func TestFanOutExcludesSender(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	sender := newTestClient(hub, "ABC123", "alice")
	other := newTestClient(hub, "ABC123", "bob")
	hub.register <- sender
	hub.register <- other
	time.Sleep(10 * time.Millisecond)

	drain(sender)
	drain(other)

	hub.broadcast <- &Message{RoomCode: "ABC123", Data: []byte("edit"), Sender: sender}
	time.Sleep(10 * time.Millisecond)

	if len(other.send) != 1 {
		t.Errorf("Other client should receive 1 event, got %d", len(other.send))
	}
	if len(sender.send) != 0 {
		t.Errorf("Sender should be excluded, got %d events", len(sender.send))
	}
}

func TestFanOutIncludesAllWithoutSender(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	a := newTestClient(hub, "ABC123", "alice")
	b := newTestClient(hub, "ABC123", "bob")
	hub.register <- a
	hub.register <- b
	time.Sleep(10 * time.Millisecond)

	drain(a)
	drain(b)

	hub.broadcast <- &Message{RoomCode: "ABC123", Data: []byte("chat")}
	time.Sleep(10 * time.Millisecond)

	if len(a.send) != 1 || len(b.send) != 1 {
		t.Errorf("Both clients should receive the event, got %d and %d", len(a.send), len(b.send))
	}
}

func TestFanOutScopedToRoom(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	a := newTestClient(hub, "ABC123", "alice")
	b := newTestClient(hub, "XYZ789", "bob")
	hub.register <- a
	hub.register <- b
	time.Sleep(10 * time.Millisecond)

	drain(a)
	drain(b)

	hub.broadcast <- &Message{RoomCode: "ABC123", Data: []byte("x")}
	time.Sleep(10 * time.Millisecond)

	if len(a.send) != 1 {
		t.Errorf("Room member should receive the event, got %d", len(a.send))
	}
	if len(b.send) != 0 {
		t.Errorf("Other room should receive nothing, got %d", len(b.send))
	}
}

func TestFanOutUnknownRoomIsNoop(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	hub.broadcast <- &Message{RoomCode: "NOROOM", Data: []byte("x")}
	time.Sleep(10 * time.Millisecond)
	// Nothing to assert beyond not panicking; referencing an unknown
	// room code is not an error.
}

func TestSlowClientDoesNotBlockFanOut(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	slow := newTestClient(hub, "ABC123", "slow")
	slow.send = make(chan []byte) // no buffer, never read
	fast := newTestClient(hub, "ABC123", "fast")
	hub.register <- slow
	hub.register <- fast
	time.Sleep(10 * time.Millisecond)

	drain(fast)

	hub.broadcast <- &Message{RoomCode: "ABC123", Data: []byte("x")}
	time.Sleep(10 * time.Millisecond)

	if len(fast.send) != 1 {
		t.Errorf("Fast client should still receive the event, got %d", len(fast.send))
	}
}

func TestRosterBroadcastOnMembershipChange(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	a := newTestClient(hub, "ABC123", "alice")
	hub.register <- a
	time.Sleep(10 * time.Millisecond)
	drain(a)

	b := newTestClient(hub, "ABC123", "bob")
	hub.register <- b
	time.Sleep(10 * time.Millisecond)

	// Both occupants get the refreshed roster
	if len(a.send) != 1 {
		t.Errorf("Existing occupant should get roster update, got %d", len(a.send))
	}
	if len(b.send) != 1 {
		t.Errorf("Joiner should get roster update, got %d", len(b.send))
	}

	drain(a)
	hub.unregister <- b
	time.Sleep(10 * time.Millisecond)

	if len(a.send) != 1 {
		t.Errorf("Remaining occupant should get roster update after leave, got %d", len(a.send))
	}
}
