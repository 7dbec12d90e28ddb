// Package gateway implements the Gateway component from spec.md §4.1:
// the long-lived bidirectional connection endpoint that authenticates
// connections, enforces admission, manages per-auction subscription
// rooms, forwards bids onto the Queue, and fans out pub/sub events to
// subscribed connections.
package gateway

import (
	"encoding/json"
	"time"
)

// Client->Server intents, per spec.md §6.
const (
	IntentJoinAuction  = "joinAuction"
	IntentLeaveAuction = "leaveAuction"
	IntentPlaceBid     = "placeBid"
)

// Server->Client event names, per spec.md §6.
const (
	EventConnected     = "connected"
	EventAuctionUpdate = "auctionUpdate"
	EventBidReceived   = "bidReceived"
	EventBidUpdate     = "bidUpdate"
	EventOutbid        = "outbid"
	EventAuctionEnd    = "auctionEnd"
	EventAuctionWon    = "auctionWon"
	EventUserJoined    = "userJoined"
	EventUserLeft      = "userLeft"
	EventError         = "error"
)

// clientEnvelope is the shape every inbound client message is decoded
// into first; Payload is re-decoded once the intent is known.
type clientEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type joinAuctionPayload struct {
	AuctionID string `json:"auctionId"`
}

type leaveAuctionPayload struct {
	AuctionID string `json:"auctionId"`
}

type placeBidPayload struct {
	AuctionID string  `json:"auctionId"`
	BidAmount float64 `json:"bidAmount"`
}

// serverEnvelope is the shape every outbound message is wrapped in, so
// the client-side switch on `event` mirrors the server-side switch on
// intent.
type serverEnvelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type connectedPayload struct {
	Message  string `json:"message"`
	UserID   int    `json:"userId"`
	Username string `json:"username"`
}

type auctionUpdatePayload struct {
	AuctionID         int    `json:"auctionId"`
	CurrentHighestBid int64  `json:"currentHighestBid"`
	BidCount          int    `json:"bidCount"`
	Status            string `json:"status"`
}

type bidReceivedPayload struct {
	Message string `json:"message"`
}

type bidUpdatePayload struct {
	AuctionID int       `json:"auctionId"`
	BidID     int       `json:"bidId"`
	UserID    int       `json:"userId"`
	BidAmount int64     `json:"bidAmount"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
}

type outbidPayload struct {
	AuctionID    int    `json:"auctionId"`
	NewBidAmount int64  `json:"newBidAmount"`
	NewBidUser   string `json:"newBidUser"`
	Message      string `json:"message"`
}

type auctionEndPayload struct {
	AuctionID   int    `json:"auctionId"`
	WinningBid  int64  `json:"winningBid"`
	WinnerID    *int   `json:"winnerId,omitempty"`
	Message     string `json:"message"`
}

type auctionWonPayload struct {
	AuctionID  int    `json:"auctionId"`
	WinningBid int64  `json:"winningBid"`
	Message    string `json:"message"`
}

type userPresencePayload struct {
	UserID   int    `json:"userId"`
	Username string `json:"username"`
}

type errorPayload struct {
	Message string `json:"message"`
}
