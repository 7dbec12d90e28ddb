package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Get returns the integer counter at key, or 0 if it doesn't exist.
// Admission tracking does not use it; it uses the sets below.
func (c *Client) Get(ctx context.Context, key string) (int64, error) {
	v, err := c.cmd.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// trackMember adds socketID to the set at key and refreshes its TTL,
// the per-socket tracking set spec.md §3/§4.2 describes: admitting a
// connection adds its socket id as a set member rather than bumping a
// counter, so a socket that disconnects twice (double Untrack, or a
// crash followed by a late cleanup) only ever removes itself once
// instead of driving the count negative.
func (c *Client) trackMember(ctx context.Context, key, socketID string, window time.Duration) error {
	if err := c.cmd.SAdd(ctx, key, socketID).Err(); err != nil {
		return err
	}
	return c.cmd.Expire(ctx, key, window).Err()
}

func (c *Client) untrackMember(ctx context.Context, key, socketID string) error {
	return c.cmd.SRem(ctx, key, socketID).Err()
}

func (c *Client) memberCount(ctx context.Context, key string) (int64, error) {
	return c.cmd.SCard(ctx, key).Result()
}

func (c *Client) AddressCount(ctx context.Context, address string) (int64, error) {
	return c.memberCount(ctx, admissionAddressKey(address))
}

func (c *Client) TrackAddress(ctx context.Context, address, socketID string, window time.Duration) error {
	return c.trackMember(ctx, admissionAddressKey(address), socketID, window)
}

func (c *Client) UntrackAddress(ctx context.Context, address, socketID string) error {
	return c.untrackMember(ctx, admissionAddressKey(address), socketID)
}

func (c *Client) IdentityCount(ctx context.Context, identity string) (int64, error) {
	return c.memberCount(ctx, admissionIdentityKey(identity))
}

func (c *Client) TrackIdentity(ctx context.Context, identity, socketID string, window time.Duration) error {
	return c.trackMember(ctx, admissionIdentityKey(identity), socketID, window)
}

func (c *Client) UntrackIdentity(ctx context.Context, identity, socketID string) error {
	return c.untrackMember(ctx, admissionIdentityKey(identity), socketID)
}

// Block marks an address or identity as blocked for the configured
// block duration after repeated admission violations.
func (c *Client) Block(ctx context.Context, kind, value string, duration time.Duration) error {
	return c.cmd.Set(ctx, admissionBlockKey(kind, value), "1", duration).Err()
}

func (c *Client) IsBlocked(ctx context.Context, kind, value string) (bool, error) {
	n, err := c.cmd.Exists(ctx, admissionBlockKey(kind, value)).Result()
	return n > 0, err
}

func (c *Client) Unblock(ctx context.Context, kind, value string) error {
	return c.cmd.Del(ctx, admissionBlockKey(kind, value)).Err()
}

// SeenBid records a dedup key in an auction's seen-bids set with a
// short TTL so retried/duplicate bid envelopes within the window
// described in SPEC_FULL.md §9 are rejected without a second trip to
// the Store. Returns true if this is the first time the key has been
// seen.
func (c *Client) SeenBid(ctx context.Context, auctionID int, dedupKey string, window time.Duration) (firstSeen bool, err error) {
	key := seenBidsKey(auctionID)
	added, err := c.cmd.SAdd(ctx, key, dedupKey).Result()
	if err != nil {
		return false, err
	}
	_ = c.cmd.Expire(ctx, key, window).Err()
	return added > 0, nil
}

// SetSnapshot caches an auction's current state for fast reads that
// don't need to hit the Store, refreshed on every accepted bid.
func (c *Client) SetSnapshot(ctx context.Context, auctionID int, payload []byte, ttl time.Duration) error {
	return c.cmd.Set(ctx, snapshotKey(auctionID), payload, ttl).Err()
}

// Snapshot returns the cached auction state. A cache miss returns
// (nil, nil), not an error, so callers check for a nil payload.
func (c *Client) Snapshot(ctx context.Context, auctionID int) ([]byte, error) {
	v, err := c.cmd.Get(ctx, snapshotKey(auctionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return v, err
}
