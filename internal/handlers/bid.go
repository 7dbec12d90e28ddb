package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/realtimebid/auctionserver/internal/processor"
	"github.com/realtimebid/auctionserver/internal/services"
	"github.com/realtimebid/auctionserver/internal/store"
	"github.com/realtimebid/auctionserver/types"
)

// BidProcessor is the narrow Processor capability the HTTP fallback
// needs: running a Bid Envelope through the exact acceptance algorithm
// spec.md §4.4 describes, synchronously, so the response this handler
// returns is the outcome of that run rather than a queue receipt.
type BidProcessor interface {
	ProcessEnvelope(ctx context.Context, envelope types.BidEnvelope) (types.Bid, error)
}

// BidHandler implements the HTTP fallback path from spec.md §6: used
// when the socket path is unavailable client-side, it runs the same
// Bid Envelope the Gateway would have queued directly through the
// Processor and returns the created bid record or a structured error,
// independent of whether the Queue backend is reachable (spec.md §4.3's
// "direct" placement, §8 scenario 5). This is the same Processor
// instance the bid-placed consumer drains, so acceptance runs through
// one arbiter no matter which path a bid took in.
type BidHandler struct {
	processor BidProcessor
	users     *services.UserService
}

func NewBidHandler(proc BidProcessor, users *services.UserService) *BidHandler {
	return &BidHandler{processor: proc, users: users}
}

// BidRouter registers the /bids route tree.
func BidRouter(r chi.Router, handler *BidHandler, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware).Post("/", handler.PlaceBid)
}

type placeBidRequest struct {
	AuctionID int   `json:"auctionId"`
	BidAmount int64 `json:"bidAmount"`
	UserID    int   `json:"userId"`
}

// PlaceBid validates the request's shape only — amount and auction
// status validation remains the Processor's authority, per spec.md §9's
// open-question resolution that the Gateway (and by extension this
// fallback) does not pre-validate. The authenticated subject must match
// the request's userId to prevent placing a bid under another
// identity's name. On success the response is the created bid record;
// on a Validation/Conflict outcome it is a structured error with a
// status reflecting the rejection reason, per spec.md §6.
func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.AuctionID <= 0 || req.BidAmount <= 0 || req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	authenticatedID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if authenticatedID != req.UserID {
		writeError(w, http.StatusForbidden, "userId does not match authenticated subject")
		return
	}

	user, err := h.users.GetByID(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	envelope := types.BidEnvelope{
		ClientRequestID: uuid.NewString(),
		AuctionID:       req.AuctionID,
		UserID:          req.UserID,
		Username:        user.Username,
		Amount:          req.BidAmount,
		SubmittedAt:     time.Now(),
	}

	bid, err := h.processor.ProcessEnvelope(r.Context(), envelope)
	if err != nil {
		var rejected *processor.RejectedError
		if errors.As(err, &rejected) {
			writeError(w, rejectionStatus(rejected.Reason), string(rejected.Reason))
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to process bid")
		return
	}

	writeJSON(w, http.StatusCreated, bid)
}

// rejectionStatus maps a Processor Rejection reason to the HTTP status
// that best describes it: 404 when the target doesn't exist, 409 when
// another bid already holds the position this one wanted, 400 for
// every other validation failure.
func rejectionStatus(reason processor.Rejection) int {
	switch reason {
	case processor.RejectionAuctionNotFound, processor.RejectionUserNotFound:
		return http.StatusNotFound
	case processor.RejectionBelowHighest, processor.RejectionDuplicate:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
