package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/realtimebid/auctionserver/types"
)

// ErrConflict is returned when a conditional update observes that the
// auction's highest bid has advanced past the value the caller expected,
// i.e. the caller lost the race described in spec.md §5.
var ErrConflict = errors.New("auction: highest bid advanced since read")

// AuctionRepository handles persistence for auctions. Mutation is
// narrow and conditional by design: the only writer of CurrentHighestBid,
// BidCount and WinnerID is the Bid Processor's conditional update.
type AuctionRepository struct {
	db execer
}

func NewAuctionRepository(db *sql.DB) *AuctionRepository {
	return &AuctionRepository{db: db}
}

func (r *AuctionRepository) FindByID(ctx context.Context, id int) (types.Auction, error) {
	const query = `
		SELECT id, title, description, car_id, starting_bid, current_highest_bid,
		       bid_count, start_time, end_time, winner_id, status, created_at, updated_at
		FROM auctions
		WHERE id = $1`
	return scanAuction(r.db.QueryRowContext(ctx, query, id))
}

// List returns auctions ordered by start time, newest first. Reached
// only through AuctionService.List; no HTTP route or CLI command calls
// it. Full CRUD remains an external collaborator per spec.md §1.
func (r *AuctionRepository) List(ctx context.Context, limit int) ([]types.Auction, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, title, description, car_id, starting_bid, current_highest_bid,
		       bid_count, start_time, end_time, winner_id, status, created_at, updated_at
		FROM auctions
		ORDER BY start_time DESC
		LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []types.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}

// Create inserts a new auction in PENDING status. Part of the seed
// convenience path, not a user-facing CRUD surface.
func (r *AuctionRepository) Create(ctx context.Context, a types.Auction) (types.Auction, error) {
	now := time.Now()
	a.CurrentHighestBid = a.StartingBid
	a.BidCount = 0
	a.Status = types.AuctionPending
	a.CreatedAt = now
	a.UpdatedAt = now

	const query = `
		INSERT INTO auctions (title, description, car_id, starting_bid, current_highest_bid,
			bid_count, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx, query,
		a.Title, a.Description, a.CarID, a.StartingBid, a.CurrentHighestBid,
		a.BidCount, a.StartTime, a.EndTime, a.Status, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID); err != nil {
		return types.Auction{}, err
	}
	return a, nil
}

// Activate transitions PENDING -> ACTIVE. No-op (returns nil) if the
// auction is already ACTIVE or ENDED.
func (r *AuctionRepository) Activate(ctx context.Context, id int) error {
	const query = `
		UPDATE auctions SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`
	_, err := r.db.ExecContext(ctx, query, types.AuctionActive, time.Now(), id, types.AuctionPending)
	return err
}

// End transitions ACTIVE -> ENDED. Safe to call more than once.
func (r *AuctionRepository) End(ctx context.Context, id int) error {
	const query = `
		UPDATE auctions SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`
	_, err := r.db.ExecContext(ctx, query, types.AuctionEnded, time.Now(), id, types.AuctionActive)
	return err
}

// ConditionalUpdateHighestBid is the conditional write the Bid Processor
// performs in step 8 of the algorithm in spec.md §4.4, run through
// UnitOfWork.RunBidTx in the same transaction as the step 6 insert and
// step 7 sweep. It fails (returns ErrConflict) if current_highest_bid is
// not exactly observedHighest, converting a lost race into a clean
// rejection per spec.md §5's recommended implementation and rolling
// back the bid this transaction just inserted rather than leaving it
// orphaned. On success it also sets winner_id and increments bid_count
// in the same statement.
func (r *AuctionRepository) ConditionalUpdateHighestBid(ctx context.Context, id int, observedHighest, newAmount int64, winnerID int) (types.Auction, error) {
	const query = `
		UPDATE auctions
		SET current_highest_bid = $1,
			winner_id = $2,
			bid_count = bid_count + 1,
			updated_at = $3
		WHERE id = $4 AND current_highest_bid = $5 AND status = $6
		RETURNING id, title, description, car_id, starting_bid, current_highest_bid,
		          bid_count, start_time, end_time, winner_id, status, created_at, updated_at`

	row := r.db.QueryRowContext(ctx, query, newAmount, winnerID, time.Now(), id, observedHighest, types.AuctionActive)
	auction, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return types.Auction{}, ErrConflict
		}
		return types.Auction{}, err
	}
	return auction, nil
}

// SetWinner records the auction's final winner at end-of-lifecycle. The
// scheduled ender that decides *when* an auction ends is an external
// collaborator (spec.md §4.5); this method is its write path into the
// Store.
func (r *AuctionRepository) SetWinner(ctx context.Context, id int, winnerID *int) error {
	const query = `UPDATE auctions SET winner_id = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, winnerID, time.Now(), id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (types.Auction, error) {
	var a types.Auction
	var winnerID sql.NullInt64
	err := row.Scan(
		&a.ID, &a.Title, &a.Description, &a.CarID, &a.StartingBid, &a.CurrentHighestBid,
		&a.BidCount, &a.StartTime, &a.EndTime, &winnerID, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Auction{}, ErrNotFound
		}
		return types.Auction{}, err
	}
	if winnerID.Valid {
		id := int(winnerID.Int64)
		a.WinnerID = &id
	}
	return a, nil
}
