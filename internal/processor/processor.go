// Package processor implements the Bid Processor from spec.md §4.4: the
// single authoritative arbiter of bid acceptance. It is the only
// component that writes bid records and mutates an auction's
// highest-bid state.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/realtimebid/auctionserver/internal/cache"
	"github.com/realtimebid/auctionserver/internal/logging"
	"github.com/realtimebid/auctionserver/internal/mq"
	"github.com/realtimebid/auctionserver/internal/store"
	"github.com/realtimebid/auctionserver/types"
)

// MinimumIncrement is the system constant from spec.md §4.4 step 4 and
// §9's open-question resolution: the Processor's value is authoritative;
// any Gateway-side validation is advisory only.
const MinimumIncrement int64 = 100

// SnapshotTTL and HighestBidTTL are the Cache write TTLs from step 9.
const (
	SnapshotTTL   = 300 * time.Second
	HighestBidTTL = 60 * time.Second
)

// Rejection classifies why a bid did not become the new winning bid.
// These map onto the Validation error kind in spec.md §7; a Conflict at
// the conditional update is folded into RejectionBelowHighest per §7's
// "Conflict... converted to a Validation 'bid below current highest'".
type Rejection string

const (
	RejectionAuctionNotFound Rejection = "auction_not_found"
	RejectionNotActive       Rejection = "auction_not_active"
	RejectionNotStarted      Rejection = "auction_not_started"
	RejectionEnded           Rejection = "auction_ended"
	RejectionBelowMinimum    Rejection = "below_minimum_increment"
	RejectionBelowHighest    Rejection = "below_current_highest"
	RejectionUserNotFound    Rejection = "user_not_found"
	RejectionDuplicate       Rejection = "duplicate_submission"
	RejectionInfrastructure  Rejection = "infrastructure_error"
)

// RejectedError carries a Rejection reason out of ProcessEnvelope so
// callers (the HTTP fallback handler, tests) can distinguish outcomes
// without string matching.
type RejectedError struct {
	Reason Rejection
}

func (e *RejectedError) Error() string { return string(e.Reason) }

// AuctionStore is the narrow capability the Processor needs from the
// Store, per spec.md §9's cycle-breaking design note.
type AuctionStore interface {
	FindByID(ctx context.Context, id int) (types.Auction, error)
}

// UserFinder is the narrow Store capability for loading the bidder.
type UserFinder interface {
	GetByID(ctx context.Context, id int) (types.User, error)
}

// BidTxRunner runs spec.md §4.4 steps 6-8 — inserting the new bid,
// sweeping the prior winner, and the conditional highest-bid update —
// as a single atomic transaction, satisfied by *store.UnitOfWork. A
// step-8 conflict rolls every earlier write in fn back instead of
// leaving an orphaned ACCEPTED bid with no matching auction state.
type BidTxRunner interface {
	RunBidTx(ctx context.Context, fn func(store.BidTx) error) error
}

// Locker is the distributed mutual-exclusion primitive from spec.md
// §4.4 step 1, satisfied by *cache.Client.
type Locker interface {
	AcquireLock(ctx context.Context, auctionID int) (*cache.Lock, error)
	Release(ctx context.Context, lock *cache.Lock) error
	Extend(ctx context.Context, lock *cache.Lock) error
}

// Deduper tracks submission identifiers already processed, per §8's
// idempotence requirement and SPEC_FULL.md §9's dedup key decision.
type Deduper interface {
	SeenBid(ctx context.Context, auctionID int, dedupKey string, window time.Duration) (firstSeen bool, err error)
}

// Publisher is the Cache pub/sub + snapshot-cache surface used in step 9.
type Publisher interface {
	PublishAuctionBid(ctx context.Context, auctionID int, payload []byte) error
	PublishGlobalNotification(ctx context.Context, payload []byte) error
	SetSnapshot(ctx context.Context, auctionID int, payload []byte, ttl time.Duration) error
}

// AuditQueue is the narrow Queue capability for notification and audit
// emission in step 9, best-effort per spec.md §7.
type AuditQueue interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// DedupWindow is the bucket width used for the envelope-less fallback
// dedup key described in SPEC_FULL.md §9.
const DedupWindow = 2 * time.Second

// Processor drains the bid-placed queue and is the sole writer of bid
// acceptance outcomes.
type Processor struct {
	auctions AuctionStore
	users    UserFinder
	bidTx    BidTxRunner
	locker   Locker
	dedup    Deduper
	pub      Publisher
	queue    AuditQueue
}

func New(auctions AuctionStore, users UserFinder, bidTx BidTxRunner, locker Locker, dedup Deduper, pub Publisher, queue AuditQueue) *Processor {
	return &Processor{auctions: auctions, users: users, bidTx: bidTx, locker: locker, dedup: dedup, pub: pub, queue: queue}
}

// HandleBidPlaced adapts ProcessEnvelope to the mq.Handler signature so
// it can be registered directly as the bid-placed queue's consumer.
func (p *Processor) HandleBidPlaced(ctx context.Context, msg mq.Message) error {
	var envelope types.BidEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		logging.Error("processor: malformed bid envelope", logging.Fields{"error": err.Error()})
		return nil // malformed payloads are not retried; ack and drop.
	}
	_, err := p.ProcessEnvelope(ctx, envelope)
	if err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			return nil // Validation outcomes are terminal, not nacked-for-retry.
		}
		return err // Infrastructure: nack, let the queue dead-letter.
	}
	return nil
}

// ProcessEnvelope runs the ten-step algorithm from spec.md §4.4 against
// a single bid envelope and returns the accepted bid on success, or a
// *RejectedError describing why the bid did not win.
func (p *Processor) ProcessEnvelope(ctx context.Context, envelope types.BidEnvelope) (types.Bid, error) {
	// Step 1: acquire the per-auction distributed lock.
	lock, err := p.locker.AcquireLock(ctx, envelope.AuctionID)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return types.Bid{}, &RejectedError{Reason: RejectionBelowHighest}
		}
		return types.Bid{}, err
	}
	defer func() {
		// Step 10: release the lock unconditionally in a final-action handler.
		if releaseErr := p.locker.Release(ctx, lock); releaseErr != nil {
			logging.Warn("processor: lock release failed", logging.Fields{"auctionId": envelope.AuctionID, "error": releaseErr.Error()})
		}
	}()

	bid, rejectErr := p.accept(ctx, envelope, lock)
	if rejectErr != nil {
		var rejected *RejectedError
		if errors.As(rejectErr, &rejected) {
			p.emitFailure(ctx, envelope, rejected.Reason)
		}
		return types.Bid{}, rejectErr
	}
	return bid, nil
}

func (p *Processor) accept(ctx context.Context, envelope types.BidEnvelope, lock *cache.Lock) (types.Bid, error) {
	dedupKey := envelope.DedupKey(DedupWindow)
	if p.dedup != nil {
		firstSeen, err := p.dedup.SeenBid(ctx, envelope.AuctionID, dedupKey, DedupWindow)
		if err != nil {
			logging.Warn("processor: dedup check failed, proceeding", logging.Fields{"error": err.Error()})
		} else if !firstSeen {
			return types.Bid{}, &RejectedError{Reason: RejectionDuplicate}
		}
	}

	// Step 2: load the auction.
	auction, err := p.auctions.FindByID(ctx, envelope.AuctionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Bid{}, &RejectedError{Reason: RejectionAuctionNotFound}
		}
		return types.Bid{}, err
	}
	if auction.Status != types.AuctionActive {
		return types.Bid{}, &RejectedError{Reason: RejectionNotActive}
	}

	// Step 3: check the time window.
	now := time.Now()
	if now.Before(auction.StartTime) {
		return types.Bid{}, &RejectedError{Reason: RejectionNotStarted}
	}
	if !now.Before(auction.EndTime) {
		return types.Bid{}, &RejectedError{Reason: RejectionEnded}
	}

	// Step 4: minimum increment.
	minAccepted := auction.CurrentHighestBid + MinimumIncrement
	if envelope.Amount < minAccepted {
		return types.Bid{}, &RejectedError{Reason: RejectionBelowMinimum}
	}

	// Step 5: load the user.
	user, err := p.users.GetByID(ctx, envelope.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Bid{}, &RejectedError{Reason: RejectionUserNotFound}
		}
		return types.Bid{}, err
	}

	// Steps 6-8 run as one transaction: insert the new bid as
	// ACCEPTED/winning, sweep prior winning bids to OUTBID, then the
	// conditional highest-bid update. A conflict at step 8 means another
	// worker's write landed first despite the lock (e.g. a stale
	// observation after lock-TTL expiry); RunBidTx rolls back the insert
	// and sweep along with it, so the rejection below leaves no orphaned
	// bid row behind.
	// The transactional write is the slowest step in the pass (it holds
	// a real database round-trip, unlike the earlier in-memory checks),
	// so extend the lock just before it to cover a Store write that runs
	// long enough to approach DefaultLockTTL. A failed extend is logged,
	// not fatal: Release still runs via the caller's defer either way.
	if err := p.locker.Extend(ctx, lock); err != nil {
		logging.Warn("processor: lock extend failed", logging.Fields{"auctionId": envelope.AuctionID, "error": err.Error()})
	}

	previousWinner := auction.WinnerID
	var bid types.Bid
	var updated types.Auction
	txErr := p.bidTx.RunBidTx(ctx, func(tx store.BidTx) error {
		var err error
		bid, err = tx.CreateBid(ctx, types.Bid{
			UserID:    user.ID,
			AuctionID: auction.ID,
			Amount:    envelope.Amount,
			Timestamp: now,
			IsWinning: true,
			Status:    types.BidAccepted,
		})
		if err != nil {
			return err
		}

		if err := tx.MarkOutbid(ctx, auction.ID, bid.ID); err != nil {
			return err
		}

		updated, err = tx.ConditionalUpdateHighestBid(ctx, auction.ID, auction.CurrentHighestBid, envelope.Amount, user.ID)
		return err
	})
	if txErr != nil {
		if errors.Is(txErr, store.ErrConflict) {
			return types.Bid{}, &RejectedError{Reason: RejectionBelowHighest}
		}
		return types.Bid{}, txErr
	}

	// Step 9: cache, publish, notify, audit.
	p.emitSuccess(ctx, updated, bid, envelope, previousWinner)

	return bid, nil
}

func (p *Processor) emitSuccess(ctx context.Context, auction types.Auction, bid types.Bid, envelope types.BidEnvelope, previousWinner *int) {
	snapshot := auction.Snapshot()
	if payload, err := json.Marshal(snapshot); err == nil {
		if err := p.pub.SetSnapshot(ctx, auction.ID, payload, SnapshotTTL); err != nil {
			logging.Warn("processor: snapshot cache write failed", logging.Fields{"error": err.Error()})
		}
	}

	bidUpdate := bidUpdatePayload{
		AuctionID: auction.ID,
		BidID:     bid.ID,
		UserID:    envelope.UserID,
		BidAmount: envelope.Amount,
		Timestamp: bid.Timestamp,
		User:      envelope.Username,
	}
	if payload, err := json.Marshal(bidUpdate); err == nil {
		if err := p.pub.PublishAuctionBid(ctx, auction.ID, payload); err != nil {
			logging.Warn("processor: bid-update publish failed", logging.Fields{"error": err.Error()})
		}
	}

	if previousWinner != nil && *previousWinner != envelope.UserID {
		p.notify(ctx, types.Notification{
			Kind:       types.NotifyOutbid,
			UserID:     *previousWinner,
			AuctionID:  auction.ID,
			Amount:     envelope.Amount,
			NewBidUser: envelope.Username,
			CreatedAt:  time.Now(),
		})
	}

	p.notify(ctx, types.Notification{
		Kind:      types.NotifyBidSuccess,
		UserID:    envelope.UserID,
		AuctionID: auction.ID,
		Amount:    envelope.Amount,
		CreatedAt: time.Now(),
	})

	p.audit(ctx, types.AuditLog{
		Action:    "BID_PLACED",
		AuctionID: auction.ID,
		UserID:    envelope.UserID,
		Amount:    envelope.Amount,
		Success:   true,
		CreatedAt: time.Now(),
	})
}

func (p *Processor) emitFailure(ctx context.Context, envelope types.BidEnvelope, reason Rejection) {
	p.notify(ctx, types.Notification{
		Kind:      types.NotifyBidFailed,
		UserID:    envelope.UserID,
		AuctionID: envelope.AuctionID,
		Amount:    envelope.Amount,
		Reason:    string(reason),
		CreatedAt: time.Now(),
	})
	p.audit(ctx, types.AuditLog{
		Action:    "BID_PLACED",
		AuctionID: envelope.AuctionID,
		UserID:    envelope.UserID,
		Amount:    envelope.Amount,
		Success:   false,
		Reason:    string(reason),
		CreatedAt: time.Now(),
	})
}

// notify and audit are best-effort per spec.md §7: failures are logged,
// never returned, and must not block the acceptance path they describe.
func (p *Processor) notify(ctx context.Context, n types.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		logging.Warn("processor: notification marshal failed", logging.Fields{"error": err.Error()})
		return
	}
	// All notification kinds go out on global:notifications, not just
	// OUTBID: the Gateway's dispatchNotification is what turns a
	// BID_FAILED notification into the originating socket's `error`
	// event per spec.md §7, and it can only do that if the notification
	// actually reaches the Cache bus.
	if err := p.pub.PublishGlobalNotification(ctx, payload); err != nil {
		logging.Warn("processor: notification publish failed", logging.Fields{"kind": n.Kind, "error": err.Error()})
	}
	if p.queue != nil {
		if _, err := p.queue.Publish(ctx, mq.QueueNotify, payload, nil); err != nil {
			logging.Warn("processor: notification enqueue failed", logging.Fields{"error": err.Error()})
		}
	}
}

func (p *Processor) audit(ctx context.Context, a types.AuditLog) {
	if p.queue == nil {
		return
	}
	payload, err := json.Marshal(a)
	if err != nil {
		logging.Warn("processor: audit marshal failed", logging.Fields{"error": err.Error()})
		return
	}
	if _, err := p.queue.Publish(ctx, mq.QueueAudit, payload, nil); err != nil {
		logging.Warn("processor: audit enqueue failed", logging.Fields{"error": err.Error()})
	}
}

// bidUpdatePayload is the wire shape of the bidUpdate event described
// in spec.md §6.
type bidUpdatePayload struct {
	AuctionID int       `json:"auctionId"`
	BidID     int       `json:"bidId"`
	UserID    int       `json:"userId"`
	BidAmount int64     `json:"bidAmount"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
}
