package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Session is the explicit per-connection session record described in
// spec.md §9 ("dynamic per-socket state bags"): an authenticated
// socket's identity, address, room membership and connect time, owned
// entirely by the Gateway rather than attached ad hoc to the
// connection object.
type Session struct {
	ID          string
	UserID      int
	Username    string
	Address     string
	ConnectedAt time.Time

	conn *websocket.Conn
	send chan []byte

	mu    sync.Mutex
	rooms map[int]struct{}
}

func newSession(id string, userID int, username, address string, conn *websocket.Conn) *Session {
	return &Session{
		ID:          id,
		UserID:      userID,
		Username:    username,
		Address:     address,
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, 64),
		rooms:       make(map[int]struct{}),
	}
}

// Emit enqueues a wire event for delivery on this socket's writer
// goroutine. Never blocks: a session whose send buffer is full is
// dropping events faster than its writer can flush them, and blocking
// here would stall whichever broadcast loop called Emit.
func (s *Session) Emit(event string, payload any) {
	data, err := json.Marshal(serverEnvelope{Event: event, Payload: payload})
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	default:
	}
}

func (s *Session) joinedRoom(auctionID int) {
	s.mu.Lock()
	s.rooms[auctionID] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) leftRoom(auctionID int) {
	s.mu.Lock()
	delete(s.rooms, auctionID)
	s.mu.Unlock()
}

// RoomIDs returns the auctions this session currently has joined.
func (s *Session) RoomIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}
