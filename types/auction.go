package types

import "time"

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionPending AuctionStatus = "PENDING"
	AuctionActive  AuctionStatus = "ACTIVE"
	AuctionEnded   AuctionStatus = "ENDED"
)

// Auction represents a car auction lot.
//
// Invariants: StartTime < EndTime; CurrentHighestBid >= StartingBid;
// status transitions are PENDING -> ACTIVE -> ENDED only; once ENDED, no
// field other than WinnerID may change; BidCount equals the number of
// ACCEPTED bids for this auction.
type Auction struct {
	ID                int           `json:"id" db:"id"`
	Title             string        `json:"title" db:"title"`
	Description       string        `json:"description" db:"description"`
	CarID             string        `json:"car_id" db:"car_id"`
	StartingBid       int64         `json:"starting_bid" db:"starting_bid"`
	CurrentHighestBid int64         `json:"current_highest_bid" db:"current_highest_bid"`
	BidCount          int           `json:"bid_count" db:"bid_count"`
	StartTime         time.Time     `json:"start_time" db:"start_time"`
	EndTime           time.Time     `json:"end_time" db:"end_time"`
	WinnerID          *int          `json:"winner_id,omitempty" db:"winner_id"`
	Status            AuctionStatus `json:"status" db:"status"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// Snapshot is the subset of auction state broadcast to clients on join
// and cached for fast reads.
type Snapshot struct {
	AuctionID         int           `json:"auctionId"`
	CurrentHighestBid int64         `json:"currentHighestBid"`
	BidCount          int           `json:"bidCount"`
	Status            AuctionStatus `json:"status"`
}

func (a Auction) Snapshot() Snapshot {
	return Snapshot{
		AuctionID:         a.ID,
		CurrentHighestBid: a.CurrentHighestBid,
		BidCount:          a.BidCount,
		Status:            a.Status,
	}
}
