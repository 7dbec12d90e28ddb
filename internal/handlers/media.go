package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/realtimebid/auctionserver/internal/services"
	"github.com/realtimebid/auctionserver/internal/store"
)

const (
	maxMediaUploadBytes  = 16 << 20
	mediaFormFieldPhoto  = "photo"
	adminMediaRole       = "admin"
)

// MediaHandler uploads car photos for an auction through the Media
// storage backend (SPEC_FULL.md §2.2/§6). Admin-gated: auction media is
// ambient/CRUD-adjacent, not part of the bid pipeline core.
type MediaHandler struct {
	media *services.MediaService
	users *services.UserService
}

func NewMediaHandler(media *services.MediaService, users *services.UserService) *MediaHandler {
	return &MediaHandler{media: media, users: users}
}

// MediaRouter registers the /auctions/{auctionID}/media route, gated by
// authMiddleware plus an admin-role check.
func MediaRouter(r chi.Router, handler *MediaHandler, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware, handler.requireAdmin).Post("/{auctionID}/media", handler.Upload)
}

func (h *MediaHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := h.users.GetByID(r.Context(), userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to load user")
			return
		}
		if user.Role != adminMediaRole {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	auctionID, err := strconv.Atoi(chi.URLParam(r, "auctionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auction id")
		return
	}

	if err := r.ParseMultipartForm(maxMediaUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile(mediaFormFieldPhoto)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing photo field")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	key, err := h.media.Upload(r.Context(), auctionID, header.Filename, file, header.Size, contentType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to upload media")
		return
	}

	writeJSON(w, http.StatusCreated, mediaUploadResponse{ObjectKey: key})
}

type mediaUploadResponse struct {
	ObjectKey string `json:"objectKey"`
}
