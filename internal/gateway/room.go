package gateway

import "sync"

// Room is the logical set of connections currently subscribed to
// updates for one auction, per spec.md's glossary. A room does not
// decide bid acceptance — that authority lives solely in the Bid
// Processor (spec.md §4.4) — it only fans local sockets in and out and
// relays events arriving from the Cache pub/sub bus, per SPEC_FULL.md
// §4.1's implementation note.
type Room struct {
	auctionID int

	mu       sync.RWMutex
	sessions map[string]*Session
}

func newRoom(auctionID int) *Room {
	return &Room{
		auctionID: auctionID,
		sessions:  make(map[string]*Session),
	}
}

func (r *Room) add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

func (r *Room) remove(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

func (r *Room) isEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions) == 0
}

// broadcast fans an event out to every session locally attached to
// this room. This is the "room broadcast" step from the glossary: one
// instance's local half of the cross-instance "fan-out".
func (r *Room) broadcast(event string, payload any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		s.Emit(event, payload)
	}
}

// broadcastExcept fans out to every session except the one matching
// excludeSessionID. Unused by the default outbid path (spec.md §9's
// "double-bind" note specifies broadcast-to-all, client ignores its
// own identity) but kept for callers that do want an exclusion, such
// as echo suppression on intents the socket itself originated.
func (r *Room) broadcastExcept(excludeSessionID, event string, payload any) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, s := range r.sessions {
		if id == excludeSessionID {
			continue
		}
		s.Emit(event, payload)
	}
}

func (r *Room) members() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
