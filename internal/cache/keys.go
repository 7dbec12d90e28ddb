package cache

import "fmt"

// Key naming follows spec.md §4.6/§9: one namespace per auction for
// bid/event pub/sub, a global channel for cross-auction notifications,
// and per-address/per-identity socket-id sets for admission tracking.

func auctionBidsChannel(auctionID int) string {
	return fmt.Sprintf("auction:%d:bids", auctionID)
}

func auctionEventsChannel(auctionID int) string {
	return fmt.Sprintf("auction:%d:events", auctionID)
}

// GlobalNotificationsChannel carries every Processor notification
// (OUTBID, BID_SUCCESS, BID_FAILED) so it reaches a user regardless of
// which Gateway instance holds their socket. Auction-won delivery does
// not use it; it follows the auction's events channel.
const GlobalNotificationsChannel = "global:notifications"

func lockKey(auctionID int) string {
	return fmt.Sprintf("lock:auction:%d", auctionID)
}

func seenBidsKey(auctionID int) string {
	return fmt.Sprintf("auction:%d:seen-bids", auctionID)
}

func admissionAddressKey(address string) string {
	return fmt.Sprintf("admission:address:%s", address)
}

func admissionIdentityKey(identity string) string {
	return fmt.Sprintf("admission:identity:%s", identity)
}

func admissionBlockKey(kind, value string) string {
	return fmt.Sprintf("admission:blocked:%s:%s", kind, value)
}

func snapshotKey(auctionID int) string {
	return fmt.Sprintf("auction:%d:snapshot", auctionID)
}
