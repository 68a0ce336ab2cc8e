package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"potluck-chat/internal/domain/user"
	"potluck-chat/internal/gateway"
	"potluck-chat/internal/realtime"
	"potluck-chat/internal/repository"
	"potluck-chat/internal/services"
)

type e2e struct {
	server         *httptest.Server
	auth           *services.AuthService
	users          []user.User
	conversationID int64
}

func newE2E(t *testing.T) *e2e {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repository.InitSchema(db))

	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	userRepo := repository.NewUserRepository(db)

	e := &e2e{auth: services.NewAuthService(userRepo, "test-secret", time.Minute)}
	for _, n := range []string{"ann", "bo"} {
		u := user.User{Username: n, FirstName: n}
		require.NoError(t, userRepo.Create(context.Background(), &u))
		e.users = append(e.users, u)
	}

	typing := realtime.NewMemoryTyping(time.Second)
	t.Cleanup(typing.Close)
	gw := gateway.New(gateway.Options{
		Members:        convRepo,
		Messages:       services.NewMessageService(msgRepo, convRepo, userRepo, nil),
		Typing:         typing,
		CoalesceWindow: time.Hour,
	})
	t.Cleanup(gw.Close)

	convs := services.NewConversationService(convRepo, msgRepo, userRepo)
	c, _, err := convs.Create(context.Background(), e.users[0].ID, services.CreateConversationInput{MemberIDs: []int64{e.users[1].ID}})
	require.NoError(t, err)
	e.conversationID = c.ID

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	router := gin.New()
	router.GET("/ws", NewHandler(ctx, e.auth, gw, []string{"*"}, zap.NewNop()).Connect)
	e.server = httptest.NewServer(router)
	t.Cleanup(e.server.Close)
	return e
}

func (e *e2e) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	token, _, err := e.auth.IssueAccessToken(userID)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })

	// a pong proves the session is registered
	emit(t, conn, gateway.EventPing, "", nil)
	readUntil(t, conn, gateway.EventPong)
	return conn
}

type frame struct {
	Event string          `json:"event"`
	Ack   string          `json:"ack"`
	Data  json.RawMessage `json:"data"`
}

// readUntil skips frames until one named event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Event == event {
			return f
		}
	}
}

func emit(t *testing.T, conn *websocket.Conn, event, ack string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame{Event: event, Ack: ack, Data: raw}))
}

func TestHandshakeRejectsMissingOrBadToken(t *testing.T) {
	e := newE2E(t)
	base := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"

	for name, url := range map[string]string{
		"missing": base,
		"invalid": base + "?token=not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(url, nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestHandshakeAcceptsBearerHeader(t *testing.T) {
	e := newE2E(t)
	token, _, err := e.auth.IssueAccessToken(e.users[0].ID)
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(e.server.URL, "http")+"/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	emit(t, conn, gateway.EventPing, "", nil)
	readUntil(t, conn, gateway.EventPong)
}

func TestSendMessageRoundTrip(t *testing.T) {
	e := newE2E(t)
	ann := e.dial(t, e.users[0].ID)
	bo := e.dial(t, e.users[1].ID)

	readUntil(t, ann, gateway.EventUserOnline)

	emit(t, ann, gateway.EventSendMessage, "1", map[string]any{
		"conversationId": e.conversationID,
		"content":        "hello",
		"type":           "TEXT",
	})

	ack := readUntil(t, ann, gateway.EventAck)
	assert.Equal(t, "1", ack.Ack)
	var reply struct {
		Message struct {
			ID      int64  `json:"id"`
			Content string `json:"content"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(ack.Data, &reply))
	assert.Equal(t, "hello", reply.Message.Content)
	assert.NotZero(t, reply.Message.ID)

	got := readUntil(t, bo, gateway.EventNewMessage)
	var msg struct {
		ID       int64 `json:"id"`
		SenderID int64 `json:"senderId"`
	}
	require.NoError(t, json.Unmarshal(got.Data, &msg))
	assert.Equal(t, reply.Message.ID, msg.ID)
	assert.Equal(t, e.users[0].ID, msg.SenderID)
}

func TestUnknownConversationAcksError(t *testing.T) {
	e := newE2E(t)
	ann := e.dial(t, e.users[0].ID)

	emit(t, ann, gateway.EventSendMessage, "x", map[string]any{
		"conversationId": e.conversationID + 100,
		"content":        "hi",
		"type":           "TEXT",
	})

	ack := readUntil(t, ann, gateway.EventAck)
	var data gateway.ErrorData
	require.NoError(t, json.Unmarshal(ack.Data, &data))
	assert.NotEmpty(t, data.Code)
	assert.NotEmpty(t, data.Error)
}

func TestDisconnectAnnouncesOffline(t *testing.T) {
	e := newE2E(t)
	ann := e.dial(t, e.users[0].ID)
	bo := e.dial(t, e.users[1].ID)
	readUntil(t, ann, gateway.EventUserOnline)

	require.NoError(t, bo.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = bo.Close()

	got := readUntil(t, ann, gateway.EventUserOffline)
	var p gateway.PresenceEvent
	require.NoError(t, json.Unmarshal(got.Data, &p))
	assert.Equal(t, e.users[1].ID, p.UserID)
}

func TestCheckOrigin(t *testing.T) {
	check := makeCheckOrigin([]string{"https://chat.example.com"})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://chat.example.com", true},
		{"https://CHAT.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, check(r))
		})
	}

	assert.True(t, makeCheckOrigin([]string{"*"})(httptest.NewRequest(http.MethodGet, "/ws", nil)))
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=abc", nil)
	assert.Equal(t, "abc", extractToken(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "bearer xyz")
	assert.Equal(t, "xyz", extractToken(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Basic xyz")
	assert.Empty(t, extractToken(r))
}
