package types

import (
	"fmt"
	"time"
)

// BidStatus is the lifecycle state of a single bid.
type BidStatus string

const (
	BidPending  BidStatus = "PENDING"
	BidAccepted BidStatus = "ACCEPTED"
	BidRejected BidStatus = "REJECTED"
	BidOutbid   BidStatus = "OUTBID"
)

// Bid represents a single bid placed against an auction.
//
// Invariants: at most one bid per auction has IsWinning = true; the
// winning bid's Amount equals the auction's CurrentHighestBid; once a
// bid is ACCEPTED it is never deleted; the ACCEPTED -> OUTBID transition
// happens exactly when a strictly higher bid is ACCEPTED for the same
// auction.
type Bid struct {
	ID        int       `json:"id" db:"id"`
	UserID    int       `json:"user_id" db:"user_id"`
	AuctionID int       `json:"auction_id" db:"auction_id"`
	Amount    int64     `json:"amount" db:"amount"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	IsWinning bool      `json:"is_winning" db:"is_winning"`
	Status    BidStatus `json:"status" db:"status"`
}

// BidEnvelope is the structured message carried on the bid-placed queue,
// produced by the Gateway (or the HTTP fallback) and consumed by the
// Bid Processor. It is the only input the Processor trusts for amount
// and provenance; the Gateway does not validate it beyond shape.
type BidEnvelope struct {
	ClientRequestID string    `json:"clientRequestId"`
	AuctionID       int       `json:"auctionId"`
	UserID          int       `json:"userId"`
	Username        string    `json:"username"`
	Amount          int64     `json:"amount"`
	SocketID        string    `json:"socketId,omitempty"`
	SubmittedAt     time.Time `json:"submittedAt"`
}

// DedupKey returns the deterministic key the Processor's dedup set is
// keyed on. When the caller supplied a ClientRequestID, it is used
// directly; otherwise the fallback key buckets (userId, auctionId,
// amount) into a window-sized time bucket, so retries of the same
// submission within that window collapse to one entry but legitimate
// re-bids after the window do not (see SPEC_FULL.md §9).
func (e BidEnvelope) DedupKey(window time.Duration) string {
	if e.ClientRequestID != "" {
		return e.ClientRequestID
	}
	bucket := e.SubmittedAt
	if bucket.IsZero() {
		bucket = time.Now()
	}
	bucketed := bucket.Truncate(window)
	return fmt.Sprintf("%d:%d:%d:%d", e.UserID, e.AuctionID, e.Amount, bucketed.UnixNano())
}
