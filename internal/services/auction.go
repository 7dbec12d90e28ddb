package services

import (
	"context"

	"github.com/realtimebid/auctionserver/types"
)

// AuctionRepository defines the persistence operations the Auction
// service depends on. Deliberately does not include
// ConditionalUpdateHighestBid: that narrow capability belongs to the
// Processor alone, per spec.md §9's cycle-breaking design note.
type AuctionRepository interface {
	FindByID(ctx context.Context, id int) (types.Auction, error)
	List(ctx context.Context, limit int) ([]types.Auction, error)
	Create(ctx context.Context, a types.Auction) (types.Auction, error)
}

// BidRepository is the BidQuery capability from spec.md §9, consumed
// here by the Auction service's bid-history reads.
type BidRepository interface {
	ListByAuction(ctx context.Context, auctionID int, limit int) ([]types.Bid, error)
}

// AuctionService backs the read-only auction surface: the Gateway's
// join-auction snapshot and the GET /auctions/{id} fallback. The seed
// CLI writes through store.AuctionRepository directly, not through
// Create here. Auction CRUD beyond Create is an external collaborator
// per spec.md §1.
type AuctionService struct {
	auctions AuctionRepository
	bids     BidRepository
}

func NewAuctionService(auctions AuctionRepository, bids BidRepository) *AuctionService {
	return &AuctionService{auctions: auctions, bids: bids}
}

func (s *AuctionService) Get(ctx context.Context, id int) (types.Auction, error) {
	return s.auctions.FindByID(ctx, id)
}

func (s *AuctionService) List(ctx context.Context, limit int) ([]types.Auction, error) {
	return s.auctions.List(ctx, limit)
}

func (s *AuctionService) Create(ctx context.Context, a types.Auction) (types.Auction, error) {
	return s.auctions.Create(ctx, a)
}

func (s *AuctionService) BidHistory(ctx context.Context, auctionID, limit int) ([]types.Bid, error) {
	return s.bids.ListByAuction(ctx, auctionID, limit)
}
