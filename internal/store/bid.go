package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/realtimebid/auctionserver/types"
)

// BidRepository handles persistence for bids. Every bid row is
// write-once: the Processor never updates Amount or Timestamp, only
// Status and IsWinning as later bids outbid it.
type BidRepository struct {
	db execer
}

func NewBidRepository(db *sql.DB) *BidRepository {
	return &BidRepository{db: db}
}

// Create inserts a bid row. Called through UnitOfWork.RunBidTx inside
// the auction-scoped lock after validation has passed (spec.md §4.4
// step 6), so a later step in the same transaction can still roll it
// back.
func (r *BidRepository) Create(ctx context.Context, bid types.Bid) (types.Bid, error) {
	if bid.Timestamp.IsZero() {
		bid.Timestamp = time.Now()
	}
	const query = `
		INSERT INTO bids (user_id, auction_id, amount, timestamp, is_winning, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx, query,
		bid.UserID, bid.AuctionID, bid.Amount, bid.Timestamp, bid.IsWinning, bid.Status,
	).Scan(&bid.ID); err != nil {
		return types.Bid{}, err
	}
	return bid, nil
}

// MarkOutbid flips every previously-winning bid on an auction to
// OUTBID/is_winning=false except newWinningBidID, satisfying the sweep
// in spec.md §4.4 step 7. Called through UnitOfWork.RunBidTx in the same
// transaction as the conditional highest-bid update so no reader
// observes two winners, and so a later conflict rolls this back too.
func (r *BidRepository) MarkOutbid(ctx context.Context, auctionID int, newWinningBidID int) error {
	const query = `
		UPDATE bids
		SET is_winning = false, status = $1
		WHERE auction_id = $2 AND id != $3 AND is_winning = true`
	_, err := r.db.ExecContext(ctx, query, types.BidOutbid, auctionID, newWinningBidID)
	return err
}

// ListByAuction returns bids for an auction ordered by amount
// descending, newest first on ties — the BidQuery side of the narrow
// interface split described in spec.md §9 to break the Auctions/Bids
// module cycle.
func (r *BidRepository) ListByAuction(ctx context.Context, auctionID int, limit int) ([]types.Bid, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id, user_id, auction_id, amount, timestamp, is_winning, status
		FROM bids
		WHERE auction_id = $1
		ORDER BY amount DESC, timestamp DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, auctionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []types.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// ListByUser returns a user's bid history, newest first. Backs the
// per-user audit trail referenced in spec.md §6.
func (r *BidRepository) ListByUser(ctx context.Context, userID int, limit int) ([]types.Bid, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id, user_id, auction_id, amount, timestamp, is_winning, status
		FROM bids
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []types.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// HighestBid returns the currently winning bid for an auction, if any.
func (r *BidRepository) HighestBid(ctx context.Context, auctionID int) (types.Bid, error) {
	const query = `
		SELECT id, user_id, auction_id, amount, timestamp, is_winning, status
		FROM bids
		WHERE auction_id = $1 AND is_winning = true
		LIMIT 1`
	return scanBid(r.db.QueryRowContext(ctx, query, auctionID))
}

func scanBid(row rowScanner) (types.Bid, error) {
	var b types.Bid
	err := row.Scan(&b.ID, &b.UserID, &b.AuctionID, &b.Amount, &b.Timestamp, &b.IsWinning, &b.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Bid{}, ErrNotFound
		}
		return types.Bid{}, err
	}
	return b, nil
}
