package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realtimebid/auctionserver/internal/processor"
	"github.com/realtimebid/auctionserver/internal/services"
	"github.com/realtimebid/auctionserver/internal/store"
	"github.com/realtimebid/auctionserver/types"
)

type fakeUserRepo struct {
	users map[int]types.User
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	u, ok := f.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (types.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	f.users[user.ID] = user
	return user, nil
}

// fakeBidProcessor stands in for the real Processor: the HTTP fallback
// no longer cares whether the Queue backend is reachable, so these
// tests exercise the handler's response shape for an accepted bid and
// for each outcome ProcessEnvelope can return — identical coverage
// whichever Queue backend (enabled or disabled) the real Processor was
// built against, since this path never touches the Queue at all.
type fakeBidProcessor struct {
	bid types.Bid
	err error
}

func (f *fakeBidProcessor) ProcessEnvelope(ctx context.Context, envelope types.BidEnvelope) (types.Bid, error) {
	return f.bid, f.err
}

func newBidRequest(t *testing.T, userID int, req placeBidRequest) *http.Request {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/bids/", bytes.NewReader(body))
	ctx := context.WithValue(r.Context(), contextSubjectKey, userID)
	return r.WithContext(ctx)
}

func newBidRouter(h *BidHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/bids", func(r chi.Router) {
		BidRouter(r, h, func(next http.Handler) http.Handler { return next })
	})
	return r
}

func TestPlaceBid_ReturnsCreatedBidOnAcceptance(t *testing.T) {
	users := &fakeUserRepo{users: map[int]types.User{7: {ID: 7, Username: "bob"}}}
	proc := &fakeBidProcessor{bid: types.Bid{ID: 42, AuctionID: 1, UserID: 7, Amount: 1200, IsWinning: true, Status: types.BidAccepted}}
	handler := NewBidHandler(proc, services.NewUserService(users))

	req := newBidRequest(t, 7, placeBidRequest{AuctionID: 1, BidAmount: 1200, UserID: 7})
	w := httptest.NewRecorder()
	newBidRouter(handler).ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var got types.Bid
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, 42, got.ID)
	assert.Equal(t, int64(1200), got.Amount)
	assert.True(t, got.IsWinning)
}

func TestPlaceBid_ReturnsConflictWhenBelowHighest(t *testing.T) {
	users := &fakeUserRepo{users: map[int]types.User{7: {ID: 7, Username: "bob"}}}
	proc := &fakeBidProcessor{err: &processor.RejectedError{Reason: processor.RejectionBelowHighest}}
	handler := NewBidHandler(proc, services.NewUserService(users))

	req := newBidRequest(t, 7, placeBidRequest{AuctionID: 1, BidAmount: 500, UserID: 7})
	w := httptest.NewRecorder()
	newBidRouter(handler).ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
	var got ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, string(processor.RejectionBelowHighest), got.Error)
}

func TestPlaceBid_ReturnsNotFoundForUnknownAuction(t *testing.T) {
	users := &fakeUserRepo{users: map[int]types.User{7: {ID: 7, Username: "bob"}}}
	proc := &fakeBidProcessor{err: &processor.RejectedError{Reason: processor.RejectionAuctionNotFound}}
	handler := NewBidHandler(proc, services.NewUserService(users))

	req := newBidRequest(t, 7, placeBidRequest{AuctionID: 99, BidAmount: 500, UserID: 7})
	w := httptest.NewRecorder()
	newBidRouter(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlaceBid_RejectsMismatchedIdentity(t *testing.T) {
	users := &fakeUserRepo{users: map[int]types.User{7: {ID: 7, Username: "bob"}}}
	proc := &fakeBidProcessor{}
	handler := NewBidHandler(proc, services.NewUserService(users))

	req := newBidRequest(t, 7, placeBidRequest{AuctionID: 1, BidAmount: 500, UserID: 8})
	w := httptest.NewRecorder()
	newBidRouter(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPlaceBid_RejectsMissingSubject(t *testing.T) {
	users := &fakeUserRepo{users: map[int]types.User{7: {ID: 7, Username: "bob"}}}
	handler := NewBidHandler(&fakeBidProcessor{}, services.NewUserService(users))

	body, err := json.Marshal(placeBidRequest{AuctionID: 1, BidAmount: 500, UserID: 7})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/bids/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	newBidRouter(handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPlaceBid_SucceedsRegardlessOfQueueReachability(t *testing.T) {
	// The HTTP fallback never touches the Queue, so a disabled backend
	// (spec.md §4.3) cannot affect this path — simulated here simply by
	// never wiring one into fakeBidProcessor at all.
	users := &fakeUserRepo{users: map[int]types.User{7: {ID: 7, Username: "bob"}}}
	proc := &fakeBidProcessor{bid: types.Bid{ID: 1, AuctionID: 1, UserID: 7, Amount: 1000, IsWinning: true, Status: types.BidAccepted}}
	handler := NewBidHandler(proc, services.NewUserService(users))

	req := newBidRequest(t, 7, placeBidRequest{AuctionID: 1, BidAmount: 1000, UserID: 7})
	w := httptest.NewRecorder()
	newBidRouter(handler).ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
}
