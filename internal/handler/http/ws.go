package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cabdesk/dispatch-notify/internal/domain/notification"
	"github.com/cabdesk/dispatch-notify/internal/domain/session"
	"github.com/cabdesk/dispatch-notify/internal/pkg/jwt"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// PushConfig holds push endpoint timings
type PushConfig struct {
	AuthTimeout    time.Duration // default: 10 seconds
	PingInterval   time.Duration // default: 30 seconds
	AllowedOrigins []string      // empty allows any origin
}

// PushHandler serves the dashboard push channel.
type PushHandler interface {
	Serve(w http.ResponseWriter, r *http.Request)
}

type pushHandlerImpl struct {
	notifService notification.Service
	jwtService   jwt.Service
	upgrader     websocket.Upgrader
	cfg          PushConfig
	logger       *slog.Logger
}

// NewPushHandler creates the push channel endpoint
func NewPushHandler(notifService notification.Service, jwtService jwt.Service, cfg PushConfig, logger *slog.Logger) PushHandler {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &pushHandlerImpl{
		notifService: notifService,
		jwtService:   jwtService,
		cfg:          cfg,
		logger:       logger.With("component", "push_endpoint"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *pushHandlerImpl) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Serve upgrades the request, runs the authenticate handshake and streams
// new-notification events for the token's scope until either side leaves.
func (h *pushHandlerImpl) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("push upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	scope, err := h.authenticate(conn)
	if err != nil {
		h.logger.Info("push authentication failed", "error", err)
		reply, _ := notification.NewPushMessage(notification.EventAuthError, notification.AuthErrorPayload{
			Message: authErrorMessage(err),
		})
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(reply)
		return
	}

	ctx := r.Context()
	events, cleanup := h.notifService.Subscribe(ctx, scope)
	defer cleanup()

	reply, err := notification.NewPushMessage(notification.EventAuthSuccess, notification.AuthSuccessPayload{
		User: notification.PushUser{ID: scope.UserID, Role: string(scope.Role), VendorID: scope.VendorID},
	})
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(reply); err != nil {
		return
	}

	logger := h.logger.With("user_id", scope.UserID, "stream", scope.StreamKey())
	logger.Info("push client connected")
	defer logger.Info("push client disconnected")

	// The dashboard never sends after authenticating; reading only detects
	// the close and keeps pong handling running.
	closed := make(chan struct{})
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * h.cfg.PingInterval))
	})
	_ = conn.SetReadDeadline(time.Now().Add(2 * h.cfg.PingInterval))
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			msg, err := notification.NewPushMessage(event.Event, event.Data)
			if err != nil {
				logger.Warn("dropping unencodable push event", "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case <-closed:
			return

		case <-ctx.Done():
			return
		}
	}
}

var errExpectedAuthenticate = errors.New("expected authenticate frame")

// authenticate waits for the first frame, which must be authenticate.
func (h *pushHandlerImpl) authenticate(conn *websocket.Conn) (session.Scope, error) {
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.AuthTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return session.Scope{}, err
	}

	var msg notification.PushMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Event != notification.EventAuthenticate {
		return session.Scope{}, errExpectedAuthenticate
	}

	var payload notification.AuthenticatePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Token == "" {
		return session.Scope{}, session.ErrMissingToken
	}

	return h.jwtService.ValidateAccessToken(payload.Token)
}

func authErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrMissingToken):
		return "Missing token"
	case errors.Is(err, jwt.ErrInvalidToken):
		return "Invalid or expired token"
	case errors.Is(err, session.ErrUnknownRole), errors.Is(err, session.ErrMissingVendorID):
		return "Token does not grant a notification scope"
	case errors.Is(err, errExpectedAuthenticate):
		return "Expected authenticate"
	default:
		return "Authentication timed out"
	}
}
