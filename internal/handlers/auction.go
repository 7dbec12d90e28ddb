package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/realtimebid/auctionserver/internal/services"
	"github.com/realtimebid/auctionserver/internal/store"
)

// AuctionHandler backs the minimal read-only auction surface described
// in SPEC_FULL.md §6: a single GET used by the HTTP bid fallback and
// test harnesses to fetch the snapshot the Gateway's joinAuction
// handler also serves. Auction CRUD remains an external collaborator
// per spec.md §1; no POST/PUT/DELETE is exposed here.
type AuctionHandler struct {
	auctions *services.AuctionService
}

func NewAuctionHandler(auctions *services.AuctionService) *AuctionHandler {
	return &AuctionHandler{auctions: auctions}
}

// AuctionRouter registers the /auctions route tree.
func AuctionRouter(r chi.Router, handler *AuctionHandler) {
	r.Get("/{auctionID}", handler.Get)
}

func (h *AuctionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "auctionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}

	auction, err := h.auctions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "auction not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load auction")
		return
	}

	writeJSON(w, http.StatusOK, auction)
}
