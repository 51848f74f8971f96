package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"device-control-relay/internal/domain"
	"device-control-relay/internal/middleware"
	"device-control-relay/internal/session"
	"device-control-relay/internal/websocket"

	ws "github.com/gorilla/websocket"
)

const (
	clientTypeDevice = "device"
	clientTypeAdmin  = "admin"
)

// Authenticator resolves handshake credentials to a session identity.
type Authenticator interface {
	middleware.Authenticator
	AuthenticateDevice(ctx context.Context, deviceID, key string) (domain.Identity, error)
}

// Connector admits an authenticated identity as a live session and handles
// its traffic afterwards.
type Connector interface {
	websocket.Handler
	Connect(ctx context.Context, identity domain.Identity) (*session.Session, error)
}

type WebSocketHandler struct {
	auth     Authenticator
	relay    Connector
	upgrader ws.Upgrader
	opts     websocket.Options
	logger   *slog.Logger
}

func NewWebSocketHandler(auth Authenticator, relay Connector, upgrader ws.Upgrader, opts websocket.Options, logger *slog.Logger) *WebSocketHandler {
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool {
			return true
		}
	}
	return &WebSocketHandler{
		auth:     auth,
		relay:    relay,
		upgrader: upgrader,
		opts:     opts,
		logger:   logger.With("component", "ws_handler"),
	}
}

// HandleConnection authenticates before upgrading, so a refused handshake is
// a plain HTTP error and never a half-open socket.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authenticate(r)
	if err != nil {
		status := http.StatusUnauthorized
		if !errors.Is(err, domain.ErrAuthenticationFailed) {
			status = http.StatusServiceUnavailable
		}
		h.logger.Info("handshake refused", "remote_addr", r.RemoteAddr, "client_type", r.URL.Query().Get("type"), "error", err)
		http.Error(w, domain.ErrorCode(err), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", "identity", identity.String(), "error", err)
		return
	}

	s, err := h.relay.Connect(r.Context(), identity)
	if err != nil {
		h.logger.Warn("session refused", "identity", identity.String(), "error", err)
		closeCode := ws.CloseInternalServerErr
		if errors.Is(err, session.ErrSessionLimit) {
			closeCode = ws.ClosePolicyViolation
		}
		deadline := time.Now().Add(h.opts.WriteWait)
		conn.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(closeCode, err.Error()), deadline)
		conn.Close()
		return
	}

	client := websocket.NewClient(s, conn, h.relay, h.opts, h.logger)

	go client.WritePump()
	go client.ReadPump()
}

func (h *WebSocketHandler) authenticate(r *http.Request) (domain.Identity, error) {
	query := r.URL.Query()

	switch query.Get("type") {
	case clientTypeDevice:
		deviceID := query.Get("device_id")
		if deviceID == "" {
			deviceID = r.Header.Get("X-Device-ID")
		}
		key := r.Header.Get("X-Device-Key")
		if key == "" {
			key = query.Get("device_key")
		}
		return h.auth.AuthenticateDevice(r.Context(), deviceID, key)

	case clientTypeAdmin:
		token := query.Get("token")
		if token == "" {
			token, _ = middleware.BearerToken(r)
		}
		if token == "" {
			return domain.Identity{}, domain.ErrAuthenticationFailed
		}
		return h.auth.VerifyAdminToken(r.Context(), token)
	}

	return domain.Identity{}, domain.ErrAuthenticationFailed
}
