package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/realtimebid/auctionserver/internal/admission"
	"github.com/realtimebid/auctionserver/internal/handlers"
	"github.com/realtimebid/auctionserver/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Authenticator verifies a bearer token presented at handshake and
// returns the authenticated user id and display name, per spec.md
// §4.1 step 3.
type Authenticator interface {
	Authenticate(tokenString string) (userID int, username string, err error)
}

// Handler is the http.Handler that upgrades a connection to a
// WebSocket and runs the admission/authentication/session lifecycle
// from spec.md §4.1.
type Handler struct {
	hub       *Hub
	admission *admission.Controller
	auth      Authenticator
}

func NewHandler(hub *Hub, admissionController *admission.Controller, auth Authenticator) *Handler {
	return &Handler{hub: hub, admission: admissionController, auth: auth}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address := clientAddress(r)

	// Step 2: admission check before authentication, address only.
	decision := h.admission.Check(ctx, address, "")
	if !decision.Allowed {
		http.Error(w, "connection refused", http.StatusTooManyRequests)
		return
	}

	// Step 3: verify the bearer credential passed at handshake.
	token := bearerTokenFromRequest(r)
	userID, username, err := h.auth.Authenticate(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	identity := strconv.Itoa(userID)

	// Step 4: admission check again with the resolved identity.
	decision = h.admission.Check(ctx, address, identity)
	if !decision.Allowed {
		http.Error(w, "connection refused", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("gateway: websocket upgrade failed", logging.Fields{"error": err.Error()})
		return
	}

	// Step 5: record the socket in per-address and per-identity tracking
	// sets, keyed on this socket's own id.
	socketID := uuid.NewString()
	h.admission.Track(ctx, address, identity, socketID)

	session := newSession(socketID, userID, username, address, conn)
	h.hub.RegisterSession(session)

	defer func() {
		h.admission.Untrack(context.Background(), address, identity, socketID)
		h.hub.UnregisterSession(session)
		_ = conn.Close()
	}()

	// Step 6: connected acknowledgement carrying identity.
	session.Emit(EventConnected, connectedPayload{
		Message:  "connected",
		UserID:   userID,
		Username: username,
	})

	done := make(chan struct{})
	go h.writePump(session, done)
	h.readPump(r.Context(), session)
	close(done)
}

// writePump is the single goroutine permitted to call conn.WriteMessage,
// draining Session.send and sending periodic pings, per the teacher
// reference's writer-goroutine-plus-ticker shape.
func (h *Handler) writePump(s *Session, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readPump decodes client intents and dispatches them per spec.md §4.1.
func (h *Handler) readPump(ctx context.Context, s *Session) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var env clientEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.Emit(EventError, errorPayload{Message: "malformed message"})
			continue
		}

		h.handleIntent(ctx, s, env)
	}
}

func (h *Handler) handleIntent(ctx context.Context, s *Session, env clientEnvelope) {
	switch env.Event {
	case IntentJoinAuction:
		var p joinAuctionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.Emit(EventError, errorPayload{Message: "invalid joinAuction payload"})
			return
		}
		auctionID, err := strconv.Atoi(p.AuctionID)
		if err != nil {
			s.Emit(EventError, errorPayload{Message: "invalid auctionId"})
			return
		}
		if err := h.hub.JoinRoom(ctx, s, auctionID); err != nil {
			s.Emit(EventError, errorPayload{Message: "auction not found"})
			return
		}

	case IntentLeaveAuction:
		var p leaveAuctionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.Emit(EventError, errorPayload{Message: "invalid leaveAuction payload"})
			return
		}
		auctionID, err := strconv.Atoi(p.AuctionID)
		if err != nil {
			s.Emit(EventError, errorPayload{Message: "invalid auctionId"})
			return
		}
		h.hub.LeaveRoom(s, auctionID, true)

	case IntentPlaceBid:
		var p placeBidPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.Emit(EventError, errorPayload{Message: "invalid placeBid payload"})
			return
		}
		auctionID, err := strconv.Atoi(p.AuctionID)
		if err != nil {
			s.Emit(EventError, errorPayload{Message: "invalid auctionId"})
			return
		}
		// The Gateway does not pre-validate amount or auction status;
		// that authority belongs to the Processor (spec.md §4.1, §9).
		if err := h.hub.PlaceBid(ctx, s, auctionID, int64(p.BidAmount)); err != nil {
			s.Emit(EventError, errorPayload{Message: "failed to queue bid"})
			return
		}
		s.Emit(EventBidReceived, bidReceivedPayload{Message: "queued for processing"})

	default:
		s.Emit(EventError, errorPayload{Message: "unknown event"})
	}
}

// clientAddress resolves the client address from forwarding headers
// then socket peer, per spec.md §4.1 step 1.
func clientAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if addr := strings.TrimSpace(parts[0]); addr != "" {
			return addr
		}
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	return r.RemoteAddr
}

func bearerTokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(strings.TrimSpace(auth), " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}

// NewJWTAuthenticator constructs an Authenticator over the shared JWT
// secret; after the subject is parsed, the username is resolved through
// the supplied UsernameResolver, so this package needs no Store
// dependency of its own.
func NewJWTAuthenticator(secret string, usernames UsernameResolver) Authenticator {
	return &resolvingAuthenticator{secret: secret, usernames: usernames}
}

// UsernameResolver looks up a display name for an authenticated user
// id, so the `connected` acknowledgement (spec.md §6) can carry it.
type UsernameResolver interface {
	Username(ctx context.Context, userID int) (string, error)
}

type resolvingAuthenticator struct {
	secret    string
	usernames UsernameResolver
}

func (a *resolvingAuthenticator) Authenticate(tokenString string) (int, string, error) {
	userID, err := handlers.ParseBearerUserID(tokenString, a.secret)
	if err != nil {
		return 0, "", err
	}
	username, err := a.usernames.Username(context.Background(), userID)
	if err != nil {
		return 0, "", err
	}
	return userID, username, nil
}
