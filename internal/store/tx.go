package store

import (
	"context"
	"database/sql"

	"github.com/realtimebid/auctionserver/types"
)

// execer is satisfied by both *sql.DB and *sql.Tx, so AuctionRepository
// and BidRepository run the same query bodies whether they are talking
// to the pool directly or to an open transaction.
type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// BidTx is the transactional surface the Bid Processor writes through
// for spec.md §4.4 steps 6-8: inserting the new bid, sweeping the prior
// winner to OUTBID, and the conditional highest-bid update must commit
// or roll back as one unit, or a step-8 conflict would leave an orphaned
// ACCEPTED bid on the books with no matching auction state.
type BidTx interface {
	CreateBid(ctx context.Context, bid types.Bid) (types.Bid, error)
	MarkOutbid(ctx context.Context, auctionID int, newWinningBidID int) error
	ConditionalUpdateHighestBid(ctx context.Context, id int, observedHighest, newAmount int64, winnerID int) (types.Auction, error)
}

// UnitOfWork opens one *sql.Tx per RunBidTx call and exposes it as a
// BidTx, committing if fn returns nil and rolling back otherwise.
type UnitOfWork struct {
	db *sql.DB
}

func NewUnitOfWork(db *sql.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

func (u *UnitOfWork) RunBidTx(ctx context.Context, fn func(BidTx) error) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	txStore := &bidTxStore{
		auctions: &AuctionRepository{db: tx},
		bids:     &BidRepository{db: tx},
	}

	if err := fn(txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// bidTxStore adapts a tx-scoped AuctionRepository/BidRepository pair to
// BidTx.
type bidTxStore struct {
	auctions *AuctionRepository
	bids     *BidRepository
}

func (s *bidTxStore) CreateBid(ctx context.Context, bid types.Bid) (types.Bid, error) {
	return s.bids.Create(ctx, bid)
}

func (s *bidTxStore) MarkOutbid(ctx context.Context, auctionID int, newWinningBidID int) error {
	return s.bids.MarkOutbid(ctx, auctionID, newWinningBidID)
}

func (s *bidTxStore) ConditionalUpdateHighestBid(ctx context.Context, id int, observedHighest, newAmount int64, winnerID int) (types.Auction, error) {
	return s.auctions.ConditionalUpdateHighestBid(ctx, id, observedHighest, newAmount, winnerID)
}
