// Package admission implements the Admission Controller described in
// spec.md §4.2: a connection gate that limits how many concurrent
// sockets a single network address or authenticated identity may hold,
// entirely backed by the Cache component so every Gateway instance
// shares the same counters.
package admission

import (
	"context"
	"time"

	"github.com/realtimebid/auctionserver/config"
	"github.com/realtimebid/auctionserver/internal/logging"
)

// Tracker is the narrow Cache surface the controller depends on. The
// Gateway never talks to Redis directly for admission decisions; it
// goes through this interface, which is satisfied by *cache.Client.
// Address/identity membership is tracked per socketId (spec.md §3/§4.2's
// data model) rather than as a plain counter, so Untrack is idempotent.
type Tracker interface {
	AddressCount(ctx context.Context, address string) (int64, error)
	TrackAddress(ctx context.Context, address, socketID string, window time.Duration) error
	UntrackAddress(ctx context.Context, address, socketID string) error
	IdentityCount(ctx context.Context, identity string) (int64, error)
	TrackIdentity(ctx context.Context, identity, socketID string, window time.Duration) error
	UntrackIdentity(ctx context.Context, identity, socketID string) error
	IsBlocked(ctx context.Context, kind, value string) (bool, error)
	Block(ctx context.Context, kind, value string, duration time.Duration) error
	Unblock(ctx context.Context, kind, value string) error
}

// Reason explains why a connection attempt was refused.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonAddressLimit     Reason = "address_limit_exceeded"
	ReasonIdentityLimit    Reason = "identity_limit_exceeded"
	ReasonAddressBlocked   Reason = "address_blocked"
	ReasonIdentityBlocked  Reason = "identity_blocked"
)

// Decision is the result of a Check call.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Controller enforces the per-address and per-identity connection caps
// from spec.md §4.2, failing open (always allowing) when the backing
// Cache is unreachable so a Redis outage degrades admission rather than
// taking the Gateway down with it (spec.md §7's Infrastructure class).
type Controller struct {
	tracker Tracker
	cfg     config.AdmissionConfig
}

func New(tracker Tracker, cfg config.AdmissionConfig) *Controller {
	return &Controller{tracker: tracker, cfg: cfg}
}

// Check evaluates whether a new connection from address, authenticating
// as identity, should be admitted. It does not itself register the
// connection; callers that admit the connection must call Track.
func (c *Controller) Check(ctx context.Context, address, identity string) Decision {
	if blocked, err := c.tracker.IsBlocked(ctx, "address", address); err != nil {
		logging.Warn("admission: cache unavailable, failing open", logging.Fields{"error": err.Error()})
		return Decision{Allowed: true}
	} else if blocked {
		return Decision{Reason: ReasonAddressBlocked}
	}

	if identity != "" {
		if blocked, err := c.tracker.IsBlocked(ctx, "identity", identity); err != nil {
			logging.Warn("admission: cache unavailable, failing open", logging.Fields{"error": err.Error()})
			return Decision{Allowed: true}
		} else if blocked {
			return Decision{Reason: ReasonIdentityBlocked}
		}
	}

	addrCount, err := c.tracker.AddressCount(ctx, address)
	if err != nil {
		logging.Warn("admission: cache unavailable, failing open", logging.Fields{"error": err.Error()})
		return Decision{Allowed: true}
	}
	if int(addrCount) >= c.cfg.MaxPerAddress {
		_ = c.tracker.Block(ctx, "address", address, c.cfg.BlockDuration)
		return Decision{Reason: ReasonAddressLimit}
	}

	if identity != "" {
		idCount, err := c.tracker.IdentityCount(ctx, identity)
		if err != nil {
			logging.Warn("admission: cache unavailable, failing open", logging.Fields{"error": err.Error()})
			return Decision{Allowed: true}
		}
		if int(idCount) >= c.cfg.MaxPerIdentity {
			_ = c.tracker.Block(ctx, "identity", identity, c.cfg.BlockDuration)
			return Decision{Reason: ReasonIdentityLimit}
		}
	}

	return Decision{Allowed: true}
}

// Track registers an admitted connection's socketID against the
// address and (if known) identity sets.
func (c *Controller) Track(ctx context.Context, address, identity, socketID string) {
	if err := c.tracker.TrackAddress(ctx, address, socketID, c.cfg.TrackingWindow); err != nil {
		logging.Warn("admission: failed to track address", logging.Fields{"error": err.Error()})
	}
	if identity != "" {
		if err := c.tracker.TrackIdentity(ctx, identity, socketID, c.cfg.TrackingWindow); err != nil {
			logging.Warn("admission: failed to track identity", logging.Fields{"error": err.Error()})
		}
	}
}

// Untrack removes socketID from the address and identity sets for a
// connection that disconnected. Called from the Gateway's session
// teardown path; safe to call more than once for the same socketID.
func (c *Controller) Untrack(ctx context.Context, address, identity, socketID string) {
	if err := c.tracker.UntrackAddress(ctx, address, socketID); err != nil {
		logging.Warn("admission: failed to untrack address", logging.Fields{"error": err.Error()})
	}
	if identity != "" {
		if err := c.tracker.UntrackIdentity(ctx, identity, socketID); err != nil {
			logging.Warn("admission: failed to untrack identity", logging.Fields{"error": err.Error()})
		}
	}
}

// Unblock clears a block placed on an address or identity, for manual
// operator intervention.
func (c *Controller) Unblock(ctx context.Context, kind, value string) error {
	return c.tracker.Unblock(ctx, kind, value)
}
