package types

import "time"

// NotificationKind identifies the shape of a Notification payload.
type NotificationKind string

const (
	NotifyBidSuccess NotificationKind = "BID_SUCCESS"
	NotifyBidFailed  NotificationKind = "BID_FAILED"
	NotifyOutbid     NotificationKind = "OUTBID"
)

// Notification is published on the notifications exchange and fanned
// through every Gateway instance via the Cache's global:notifications
// channel, addressed to a single identity.
type Notification struct {
	Kind       NotificationKind `json:"kind"`
	UserID     int              `json:"userId"`
	AuctionID  int              `json:"auctionId"`
	Amount     int64            `json:"amount,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	NewBidUser string           `json:"newBidUser,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// AuditLog is published on the audit exchange. Emission is best-effort
// and must never block the bid acceptance path.
type AuditLog struct {
	Action    string    `json:"action"`
	AuctionID int       `json:"auctionId"`
	UserID    int       `json:"userId"`
	Amount    int64     `json:"amount,omitempty"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
