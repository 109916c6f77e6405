package realtime

import (
	"log/slog"
	"net/http"
	"time"

	errors "github.com/frahmantamala/adride-payments/internal"
	"github.com/frahmantamala/adride-payments/internal/auth"
	"github.com/frahmantamala/adride-payments/internal/notifier"
	"github.com/frahmantamala/adride-payments/internal/transport"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// TokenValidator is the slice of the auth service the websocket endpoint needs.
type TokenValidator interface {
	ValidateAccessToken(tokenString string) (*auth.Claims, error)
}

type Handler struct {
	*transport.BaseHandler
	hub      *Hub
	tokens   TokenValidator
	prefix   string
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, tokens TokenValidator, prefix string, allowedOrigins []string, logger *slog.Logger) *Handler {
	h := &Handler{
		BaseHandler: transport.NewBaseHandler(logger),
		hub:         hub,
		tokens:      tokens,
		prefix:      prefix,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// ServeWS handles GET /api/v1/ws/payments?token=JWT. The caller only ever joins its own channel.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = h.ExtractTokenFromHeader(r)
	}
	if token == "" {
		h.HandleError(w, errors.NewUnauthorizedError("token required", errors.ErrCodeInvalidToken))
		return
	}

	claims, err := h.tokens.ValidateAccessToken(token)
	if err != nil {
		h.HandleError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.WarnContext(r.Context(), "websocket upgrade failed", "user_id", claims.UserID, "error", err)
		return
	}
	defer conn.Close()

	client := NewClient(notifier.Channel(h.prefix, claims.UserID), claims.UserID, 32)
	h.hub.Register(client)
	defer client.Close()

	h.Logger.InfoContext(r.Context(), "websocket connected", "user_id", claims.UserID, "channel", client.Channel)

	go writePump(client, conn)
	readPump(conn)

	h.Logger.InfoContext(r.Context(), "websocket disconnected", "user_id", claims.UserID)
}

func writePump(c *Client, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames; the channel is server-to-client only.
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
