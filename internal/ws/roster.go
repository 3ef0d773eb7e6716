package ws

import (
	"sync"

	"codehive/internal/protocol"
)

// Roster is the occupant list of a single room: who is connected and
// under which display name.
type Roster struct {
	mu      sync.RWMutex
	entries []protocol.UserEntry
}

func NewRoster() *Roster {
	return &Roster{entries: make([]protocol.UserEntry, 0)}
}

// Add appends an occupant. Duplicate connection IDs are replaced, not
// duplicated.
func (r *Roster) Add(connectionID, displayName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.ConnectionID == connectionID {
			r.entries[i].DisplayName = displayName
			return
		}
	}
	r.entries = append(r.entries, protocol.UserEntry{
		ConnectionID: connectionID,
		DisplayName:  displayName,
	})
}

// Remove drops an occupant by connection ID. Removing an absent ID is
// a no-op, so duplicate disconnect signals are harmless.
func (r *Roster) Remove(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.ConnectionID == connectionID {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Entries returns a copy of the occupant list.
func (r *Roster) Entries() []protocol.UserEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]protocol.UserEntry, len(r.entries))
	copy(entries, r.entries)
	return entries
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
