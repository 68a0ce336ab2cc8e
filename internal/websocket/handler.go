package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"potluck-chat/internal/gateway"
	"potluck-chat/internal/services"
	"potluck-chat/internal/transport/httpdto"
	potluck_errors "potluck-chat/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (int64, error)
}

// Gateway is the protocol side of a connection.
type Gateway interface {
	Connect(ctx context.Context, s gateway.Session) error
	Disconnect(ctx context.Context, s gateway.Session)
	Handle(ctx context.Context, s gateway.Session, frame []byte)
}

type Handler struct {
	ctx      context.Context
	verifier TokenVerifier
	gw       Gateway
	upgrader websocket.Upgrader
	log      *Logger
}

// NewHandler serves websocket upgrades. Connections live until ctx is cancelled or the
// peer goes away.
func NewHandler(ctx context.Context, verifier TokenVerifier, gw Gateway, allowedOrigins []string, log *zap.Logger) *Handler {
	return &Handler{
		ctx:      ctx,
		verifier: verifier,
		gw:       gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     makeCheckOrigin(allowedOrigins),
		},
		log: NewLogger(log),
	}
}

func (h *Handler) Connect(c *gin.Context) {
	token := extractToken(c.Request)
	if token == "" {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("missing bearer token", potluck_errors.CodeUnauthenticated))
		return
	}

	userID, err := h.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		status := services.HTTPStatus(err)
		if errors.Is(err, potluck_errors.ErrUnauthenticated) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, httpdto.NewErrorResponse("unauthorized", potluck_errors.Code(err)))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("upgrade_failed", userID, "", zap.Error(err))
		return
	}

	client := NewClient(conn, userID)
	if err := h.gw.Connect(h.ctx, client); err != nil {
		h.log.Error("connect_failed", userID, client.ID(), err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"),
			time.Now().Add(writeWait))
		client.Close()
		return
	}
	h.log.Info("connected", userID, client.ID())

	go client.WriteLoop(h.ctx)
	readErr := client.ReadLoop(func(frame []byte) {
		h.gw.Handle(h.ctx, client, frame)
	})

	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), 5*time.Second)
	h.gw.Disconnect(ctx, client)
	cancel()
	client.Close()

	if websocket.IsUnexpectedCloseError(readErr, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		h.log.Warn("disconnected", userID, client.ID(), zap.Error(readErr))
		return
	}
	h.log.Info("disconnected", userID, client.ID())
}

// extractToken reads the token from ?token= or an Authorization bearer header.
func extractToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authHeader) > len("bearer ") && strings.EqualFold(authHeader[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authHeader[len("bearer "):])
	}
	return ""
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			allowed[o] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			// non-browser clients send no origin
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		_, ok := allowed[strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))]
		return ok
	}
}
