package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtimebid/auctionserver/internal/cache"
	"github.com/realtimebid/auctionserver/types"
)

var errAuctionNotFound = errors.New("auction not found")

type fakeAuctionReader struct {
	auctions map[int]types.Auction
}

func (f *fakeAuctionReader) Get(ctx context.Context, id int) (types.Auction, error) {
	a, ok := f.auctions[id]
	if !ok {
		return types.Auction{}, errAuctionNotFound
	}
	return a, nil
}

type fakeBidQueue struct {
	mu        sync.Mutex
	published [][]byte
}

func (f *fakeBidQueue) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, data)
	return "id", nil
}

func newTestSession(id string, userID int, username string) *Session {
	return newSession(id, userID, username, "1.2.3.4", nil)
}

func drain(s *Session) [][]byte {
	var out [][]byte
	for {
		select {
		case data := <-s.send:
			out = append(out, data)
		default:
			return out
		}
	}
}

func TestHub_JoinRoomEmitsSnapshotAndNotifiesRoom(t *testing.T) {
	reader := &fakeAuctionReader{auctions: map[int]types.Auction{
		1: {ID: 1, CurrentHighestBid: 500, BidCount: 3, Status: types.AuctionActive},
	}}
	hub := NewHub(nil, reader, &fakeBidQueue{}, "bid-placed")

	alice := newTestSession("s1", 1, "alice")
	bob := newTestSession("s2", 2, "bob")

	require.NoError(t, hub.JoinRoom(context.Background(), alice, 1))
	drain(alice) // discard alice's own auctionUpdate

	require.NoError(t, hub.JoinRoom(context.Background(), bob, 1))

	aliceEvents := drain(alice)
	require.Len(t, aliceEvents, 1, "alice should see bob's userJoined but not her own")

	var env serverEnvelope
	require.NoError(t, json.Unmarshal(aliceEvents[0], &env))
	assert.Equal(t, EventUserJoined, env.Event)
}

func TestHub_JoinRoomRejectsUnknownAuction(t *testing.T) {
	reader := &fakeAuctionReader{auctions: map[int]types.Auction{}}
	hub := NewHub(nil, reader, &fakeBidQueue{}, "bid-placed")

	err := hub.JoinRoom(context.Background(), newTestSession("s1", 1, "alice"), 99)
	assert.Error(t, err)
}

func TestHub_LeaveRoomNotifiesRemainingMembers(t *testing.T) {
	reader := &fakeAuctionReader{auctions: map[int]types.Auction{
		1: {ID: 1, Status: types.AuctionActive},
	}}
	hub := NewHub(nil, reader, &fakeBidQueue{}, "bid-placed")

	alice := newTestSession("s1", 1, "alice")
	bob := newTestSession("s2", 2, "bob")
	require.NoError(t, hub.JoinRoom(context.Background(), alice, 1))
	require.NoError(t, hub.JoinRoom(context.Background(), bob, 1))
	drain(alice)
	drain(bob)

	hub.LeaveRoom(bob, 1, true)

	aliceEvents := drain(alice)
	require.Len(t, aliceEvents, 1)
	var env serverEnvelope
	require.NoError(t, json.Unmarshal(aliceEvents[0], &env))
	assert.Equal(t, EventUserLeft, env.Event)
}

func TestHub_LeaveRoomDuringTeardownDoesNotNotify(t *testing.T) {
	reader := &fakeAuctionReader{auctions: map[int]types.Auction{
		1: {ID: 1, Status: types.AuctionActive},
	}}
	hub := NewHub(nil, reader, &fakeBidQueue{}, "bid-placed")

	alice := newTestSession("s1", 1, "alice")
	bob := newTestSession("s2", 2, "bob")
	require.NoError(t, hub.JoinRoom(context.Background(), alice, 1))
	require.NoError(t, hub.JoinRoom(context.Background(), bob, 1))
	drain(alice)
	drain(bob)

	hub.UnregisterSession(bob)

	assert.Empty(t, drain(alice), "disconnect teardown must not emit userLeft")
}

func TestHub_PlaceBidPublishesEnvelope(t *testing.T) {
	queue := &fakeBidQueue{}
	hub := NewHub(nil, &fakeAuctionReader{auctions: map[int]types.Auction{}}, queue, "bid-placed")

	alice := newTestSession("s1", 1, "alice")
	require.NoError(t, hub.PlaceBid(context.Background(), alice, 1, 1500))

	require.Len(t, queue.published, 1)
	var envelope types.BidEnvelope
	require.NoError(t, json.Unmarshal(queue.published[0], &envelope))
	assert.Equal(t, 1, envelope.AuctionID)
	assert.Equal(t, int64(1500), envelope.Amount)
	assert.Equal(t, 1, envelope.UserID)
}

func TestHub_EmitToIdentityReachesOnlyThatIdentitysSockets(t *testing.T) {
	hub := NewHub(nil, &fakeAuctionReader{}, &fakeBidQueue{}, "bid-placed")

	alice := newTestSession("s1", 1, "alice")
	bob := newTestSession("s2", 2, "bob")
	hub.RegisterSession(alice)
	hub.RegisterSession(bob)

	hub.EmitToIdentity(1, EventError, errorPayload{Message: "boom"})

	assert.Len(t, drain(alice), 1)
	assert.Empty(t, drain(bob))
}

func TestHub_DispatchRoutesBidUpdateToRoomOnly(t *testing.T) {
	reader := &fakeAuctionReader{auctions: map[int]types.Auction{
		1: {ID: 1, Status: types.AuctionActive},
	}}
	hub := NewHub(nil, reader, &fakeBidQueue{}, "bid-placed")

	alice := newTestSession("s1", 1, "alice")
	require.NoError(t, hub.JoinRoom(context.Background(), alice, 1))
	drain(alice)

	payload, err := json.Marshal(bidUpdatePayload{AuctionID: 1, BidID: 1, UserID: 9, BidAmount: 2000})
	require.NoError(t, err)

	hub.dispatch("auction:1:bids", payload)

	events := drain(alice)
	require.Len(t, events, 1)
	var env serverEnvelope
	require.NoError(t, json.Unmarshal(events[0], &env))
	assert.Equal(t, EventBidUpdate, env.Event)
}

func TestHub_DispatchRoutesOutbidNotificationToWholeRoom(t *testing.T) {
	reader := &fakeAuctionReader{auctions: map[int]types.Auction{
		1: {ID: 1, Status: types.AuctionActive},
	}}
	hub := NewHub(nil, reader, &fakeBidQueue{}, "bid-placed")

	alice := newTestSession("s1", 1, "alice")
	bob := newTestSession("s2", 2, "bob")
	require.NoError(t, hub.JoinRoom(context.Background(), alice, 1))
	require.NoError(t, hub.JoinRoom(context.Background(), bob, 1))
	drain(alice)
	drain(bob)

	notif := types.Notification{Kind: types.NotifyOutbid, UserID: 1, AuctionID: 1, Amount: 3000, NewBidUser: "bob"}
	payload, err := json.Marshal(notif)
	require.NoError(t, err)

	hub.dispatch(cache.GlobalNotificationsChannel, payload)

	// Per spec.md's "double-bind" resolution, the outbid event is
	// broadcast to every socket in the room, including the new top
	// bidder's own session -- the client is responsible for ignoring
	// outbid events whose newBidUser is its own identity.
	assert.Len(t, drain(alice), 1)
	assert.Len(t, drain(bob), 1)
}

func TestHub_DispatchRoutesBidFailedToOriginatingSocketOnly(t *testing.T) {
	hub := NewHub(nil, &fakeAuctionReader{}, &fakeBidQueue{}, "bid-placed")

	alice := newTestSession("s1", 1, "alice")
	bob := newTestSession("s2", 2, "bob")
	hub.RegisterSession(alice)
	hub.RegisterSession(bob)

	notif := types.Notification{Kind: types.NotifyBidFailed, UserID: 1, AuctionID: 1, Reason: "below_current_highest"}
	payload, err := json.Marshal(notif)
	require.NoError(t, err)

	hub.dispatch(cache.GlobalNotificationsChannel, payload)

	assert.Len(t, drain(alice), 1)
	assert.Empty(t, drain(bob))
}
