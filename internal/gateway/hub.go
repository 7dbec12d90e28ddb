package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/realtimebid/auctionserver/internal/cache"
	"github.com/realtimebid/auctionserver/internal/logging"
	"github.com/realtimebid/auctionserver/types"
)

// roomIdleTTL is how long an emptied room's subscription survives
// before the Hub unsubscribes it from the Cache bus, per spec.md §4.1:
// "late rejoins should not thrash the bus."
const roomIdleTTL = 5 * time.Minute

// AuctionReader is the narrow capability the Hub needs to validate an
// auction exists and build the join-time snapshot.
type AuctionReader interface {
	Get(ctx context.Context, id int) (types.Auction, error)
}

// BidQueue is the narrow Queue capability the Hub uses to forward a
// placeBid intent onto the bid-placed queue; satisfied structurally by
// *mq.MQ.
type BidQueue interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Hub is the Gateway's process-global registry of rooms and
// identity-to-socket sets, per spec.md §9's "process-wide singletons"
// design note: it is a field of the Gateway with an explicit
// init/teardown lifecycle, not package-level mutable state.
type Hub struct {
	auctions AuctionReader
	queue    string // bid-placed queue/channel name
	bidQ     BidQueue
	cache    *cache.Client
	demux    *cache.Demux

	mu         sync.RWMutex
	rooms      map[int]*Room
	byIdentity map[int]map[string]*Session
	cleanup    map[int]*time.Timer
}

// NewHub constructs a Hub. bidPlacedChannel is the queue name Bid
// envelopes are published to (spec.md §4.3's "bid-placed" queue).
func NewHub(c *cache.Client, auctions AuctionReader, bidQ BidQueue, bidPlacedChannel string) *Hub {
	return &Hub{
		auctions:   auctions,
		queue:      bidPlacedChannel,
		bidQ:       bidQ,
		cache:      c,
		rooms:      make(map[int]*Room),
		byIdentity: make(map[int]map[string]*Session),
		cleanup:    make(map[int]*time.Timer),
	}
}

// Start opens the single demultiplexing subscriber connection
// (spec.md §4.6/§9) and begins dispatching delivered messages by
// channel name until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) {
	h.demux = h.cache.NewDemux(ctx, h.dispatch)
	if err := h.demux.Subscribe(ctx, cache.GlobalNotificationsChannel); err != nil {
		logging.Warn("gateway: failed to subscribe to global notifications", logging.Fields{"error": err.Error()})
	}
	go func() {
		if err := h.demux.Run(ctx); err != nil && ctx.Err() == nil {
			logging.Error("gateway: demux run stopped", logging.Fields{"error": err.Error()})
		}
	}()
}

// Stop releases the demux subscription and cancels pending room
// cleanup timers.
func (h *Hub) Stop() {
	h.mu.Lock()
	for _, t := range h.cleanup {
		t.Stop()
	}
	h.mu.Unlock()
	if h.demux != nil {
		_ = h.demux.Close()
	}
}

// RegisterSession tracks a newly admitted socket under its identity,
// per spec.md §4.1 step 5.
func (h *Hub) RegisterSession(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byIdentity[s.UserID]
	if !ok {
		set = make(map[string]*Session)
		h.byIdentity[s.UserID] = set
	}
	set[s.ID] = s
}

// UnregisterSession removes a disconnected socket from every room it
// had joined and from its identity's socket set, per spec.md §4.1's
// "on disconnect, the socket is removed from all rooms."
func (h *Hub) UnregisterSession(s *Session) {
	for _, auctionID := range s.RoomIDs() {
		h.LeaveRoom(s, auctionID, false)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.byIdentity[s.UserID]; ok {
		delete(set, s.ID)
		if len(set) == 0 {
			delete(h.byIdentity, s.UserID)
		}
	}
}

// JoinRoom validates the auction exists, adds the socket to its room,
// lazily subscribes the instance to the auction's Cache channels, and
// emits the initial snapshot to the joiner plus userJoined to the rest
// of the room, per spec.md §4.1.
func (h *Hub) JoinRoom(ctx context.Context, s *Session, auctionID int) error {
	auction, err := h.auctions.Get(ctx, auctionID)
	if err != nil {
		return err
	}

	room := h.ensureRoom(ctx, auctionID)
	room.add(s)
	s.joinedRoom(auctionID)

	s.Emit(EventAuctionUpdate, auctionUpdatePayload{
		AuctionID:         auction.ID,
		CurrentHighestBid: auction.CurrentHighestBid,
		BidCount:          auction.BidCount,
		Status:            string(auction.Status),
	})

	room.broadcastExcept(s.ID, EventUserJoined, userPresencePayload{
		UserID:   s.UserID,
		Username: s.Username,
	})
	return nil
}

// LeaveRoom removes the socket from the room and emits userLeft to the
// remaining members. notify is false during disconnect teardown, where
// a flurry of userLeft events for a socket that is vanishing entirely
// adds no value.
func (h *Hub) LeaveRoom(s *Session, auctionID int, notify bool) {
	h.mu.RLock()
	room, ok := h.rooms[auctionID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	room.remove(s.ID)
	s.leftRoom(auctionID)

	if notify {
		room.broadcast(EventUserLeft, userPresencePayload{UserID: s.UserID, Username: s.Username})
	}

	if room.isEmpty() {
		h.scheduleCleanup(auctionID)
	}
}

// PlaceBid assembles the Bid Envelope from spec.md §4.1 and enqueues it
// on the bid-placed queue. The Gateway does not validate amount; that
// authority belongs solely to the Processor (spec.md §4.4).
func (h *Hub) PlaceBid(ctx context.Context, s *Session, auctionID int, amount int64) error {
	envelope := types.BidEnvelope{
		ClientRequestID: fmt.Sprintf("%s:%d:%d", s.ID, auctionID, time.Now().UnixNano()),
		AuctionID:       auctionID,
		UserID:          s.UserID,
		Username:        s.Username,
		Amount:          amount,
		SocketID:        s.ID,
		SubmittedAt:     time.Now(),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	_, err = h.bidQ.Publish(ctx, h.queue, payload, map[string]string{"auctionId": strconv.Itoa(auctionID)})
	return err
}

// EmitToIdentity delivers an event to every socket currently connected
// under identity, on this instance only. Cross-instance delivery is
// the responsibility of the global:notifications fan-out in dispatch.
func (h *Hub) EmitToIdentity(identity int, event string, payload any) {
	h.mu.RLock()
	set := h.byIdentity[identity]
	sessions := make([]*Session, 0, len(set))
	for _, s := range set {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()
	for _, s := range sessions {
		s.Emit(event, payload)
	}
}

func (h *Hub) ensureRoom(ctx context.Context, auctionID int) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.cleanup[auctionID]; ok {
		t.Stop()
		delete(h.cleanup, auctionID)
	}

	room, ok := h.rooms[auctionID]
	if ok {
		return room
	}

	room = newRoom(auctionID)
	h.rooms[auctionID] = room

	if h.demux != nil {
		if err := h.demux.Subscribe(ctx, auctionBidsChannel(auctionID), auctionEventsChannel(auctionID)); err != nil {
			logging.Warn("gateway: failed to subscribe room channels", logging.Fields{"auctionId": auctionID, "error": err.Error()})
		}
	}
	return room
}

func (h *Hub) scheduleCleanup(auctionID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.cleanup[auctionID]; ok {
		return
	}
	h.cleanup[auctionID] = time.AfterFunc(roomIdleTTL, func() { h.evictIfStillEmpty(auctionID) })
}

func (h *Hub) evictIfStillEmpty(auctionID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.cleanup, auctionID)

	room, ok := h.rooms[auctionID]
	if !ok || !room.isEmpty() {
		return
	}
	delete(h.rooms, auctionID)
	if h.demux != nil {
		_ = h.demux.Unsubscribe(context.Background(), auctionBidsChannel(auctionID), auctionEventsChannel(auctionID))
	}
}

// dispatch is the single demultiplexing subscriber callback described
// in spec.md §9: it parses the channel name and routes to the
// appropriate room or identity set, rather than registering one
// closure per auction.
func (h *Hub) dispatch(channel string, payload []byte) {
	switch {
	case channel == cache.GlobalNotificationsChannel:
		h.dispatchNotification(payload)
	case strings.HasSuffix(channel, ":bids"):
		if id, ok := parseAuctionChannel(channel, ":bids"); ok {
			h.dispatchBidUpdate(id, payload)
		}
	case strings.HasSuffix(channel, ":events"):
		if id, ok := parseAuctionChannel(channel, ":events"); ok {
			h.dispatchAuctionEvent(id, payload)
		}
	}
}

func (h *Hub) dispatchBidUpdate(auctionID int, payload []byte) {
	var update bidUpdatePayload
	if err := json.Unmarshal(payload, &update); err != nil {
		logging.Warn("gateway: malformed bid update", logging.Fields{"error": err.Error()})
		return
	}
	h.mu.RLock()
	room, ok := h.rooms[auctionID]
	h.mu.RUnlock()
	if ok {
		room.broadcast(EventBidUpdate, update)
	}
}

func (h *Hub) dispatchAuctionEvent(auctionID int, payload []byte) {
	var end auctionEndPayload
	if err := json.Unmarshal(payload, &end); err != nil {
		logging.Warn("gateway: malformed auction event", logging.Fields{"error": err.Error()})
		return
	}
	h.mu.RLock()
	room, ok := h.rooms[auctionID]
	h.mu.RUnlock()
	if ok {
		room.broadcast(EventAuctionEnd, end)
	}
	if end.WinnerID != nil {
		h.EmitToIdentity(*end.WinnerID, EventAuctionWon, auctionWonPayload{
			AuctionID:  end.AuctionID,
			WinningBid: end.WinningBid,
			Message:    "you won this auction",
		})
	}
}

// dispatchNotification handles the global:notifications fan-out.
// OUTBID is broadcast to the whole room per spec.md §9's "double-bind"
// resolution (clients ignore outbid events whose newBidUser is themselves);
// BID_FAILED surfaces as a Validation error on the originating socket
// per spec.md §7; BID_SUCCESS needs no extra wire event because the
// bid-update broadcast already confirms acceptance.
func (h *Hub) dispatchNotification(payload []byte) {
	var n types.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		logging.Warn("gateway: malformed notification", logging.Fields{"error": err.Error()})
		return
	}
	switch n.Kind {
	case types.NotifyOutbid:
		h.mu.RLock()
		room, ok := h.rooms[n.AuctionID]
		h.mu.RUnlock()
		if ok {
			room.broadcast(EventOutbid, outbidPayload{
				AuctionID:    n.AuctionID,
				NewBidAmount: n.Amount,
				NewBidUser:   n.NewBidUser,
				Message:      "you have been outbid",
			})
		}
	case types.NotifyBidFailed:
		h.EmitToIdentity(n.UserID, EventError, errorPayload{Message: n.Reason})
	}
}

func auctionBidsChannel(auctionID int) string   { return fmt.Sprintf("auction:%d:bids", auctionID) }
func auctionEventsChannel(auctionID int) string { return fmt.Sprintf("auction:%d:events", auctionID) }

func parseAuctionChannel(channel, suffix string) (int, bool) {
	if !strings.HasPrefix(channel, "auction:") {
		return 0, false
	}
	trimmed := strings.TrimPrefix(channel, "auction:")
	trimmed = strings.TrimSuffix(trimmed, suffix)
	id, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, false
	}
	return id, true
}
