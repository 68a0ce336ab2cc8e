package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"potluck-chat/internal/domain/user"
	"potluck-chat/internal/events"
	"potluck-chat/internal/realtime"
	"potluck-chat/internal/repository"
	"potluck-chat/internal/services"
	potluck_errors "potluck-chat/pkg/errors"
)

type frame struct {
	Event string          `json:"event"`
	Ack   string          `json:"ack"`
	Data  json.RawMessage `json:"data"`
}

type session struct {
	id      string
	userID  int64
	viewing atomic.Int64

	mu     sync.Mutex
	frames []frame
}

func newSession(userID int64) *session {
	return &session{id: uuid.NewString(), userID: userID}
}

func (s *session) ID() string { return s.id }
func (s *session) UserID() int64 { return s.userID }
func (s *session) Viewing() int64 { return s.viewing.Load() }
func (s *session) SetViewing(id int64) { s.viewing.Store(id) }
func (s *session) Send(payload []byte) bool {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return false
	}
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	return true
}

// take returns and clears the frames received so far.
func (s *session) take() []frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.frames
	s.frames = nil
	return out
}

func (s *session) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, f.Event)
	}
	return out
}

func (s *session) count(event string) int {
	n := 0
	for _, e := range s.events() {
		if e == event {
			n++
		}
	}
	return n
}

type queue struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (q *queue) Enqueue(env events.Envelope) bool {
	q.mu.Lock()
	q.envs = append(q.envs, env)
	q.mu.Unlock()
	return true
}

func (q *queue) types() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, e := range q.envs {
		out = append(out, e.EventType)
	}
	return out
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, int64) (bool, error) { return false, nil }

type harness struct {
	gw       *Gateway
	users    []user.User
	convs    *services.ConversationService
	msgs     *services.MessageService
	events   *queue
	directAB int64
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
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

	h := &harness{events: &queue{}}
	for _, n := range []string{"ann", "bo", "cy"} {
		u := user.User{Username: n, FirstName: n}
		require.NoError(t, userRepo.Create(context.Background(), &u))
		h.users = append(h.users, u)
	}

	h.msgs = services.NewMessageService(msgRepo, convRepo, userRepo, nil)
	h.convs = services.NewConversationService(convRepo, msgRepo, userRepo)

	opts.Members = convRepo
	opts.Messages = h.msgs
	opts.Events = h.events
	if opts.Typing == nil {
		typing := realtime.NewMemoryTyping(50 * time.Millisecond)
		t.Cleanup(typing.Close)
		opts.Typing = typing
	}
	if opts.CoalesceWindow == 0 {
		opts.CoalesceWindow = time.Hour
	}
	h.gw = New(opts)
	t.Cleanup(h.gw.Close)
	h.convs.SetNotifier(h.gw)

	c, _, err := h.convs.Create(context.Background(), h.users[0].ID, services.CreateConversationInput{MemberIDs: []int64{h.users[1].ID}})
	require.NoError(t, err)
	h.directAB = c.ID
	return h
}

func (h *harness) connect(t *testing.T, userID int64) *session {
	t.Helper()
	s := newSession(userID)
	require.NoError(t, h.gw.Connect(context.Background(), s))
	return s
}

func (h *harness) emit(s *session, event, ack string, data any) {
	raw, _ := json.Marshal(data)
	payload, _ := json.Marshal(Inbound{Event: event, Ack: ack, Data: raw})
	h.gw.Handle(context.Background(), s, payload)
}

func decodeData[T any](t *testing.T, f frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func find(frames []frame, event string) (frame, bool) {
	for _, f := range frames {
		if f.Event == event {
			return f, true
		}
	}
	return frame{}, false
}

func TestPresenceIsReferenceCounted(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	a, b := h.users[0].ID, h.users[1].ID

	watcher := h.connect(t, b)
	watcher.take()

	tab1 := h.connect(t, a)
	tab2 := h.connect(t, a)
	assert.Equal(t, 1, watcher.count(EventUserOnline))
	assert.True(t, h.gw.Hub().InRoom(tab1, realtime.ConversationRoom(h.directAB)))

	h.gw.Disconnect(ctx, tab1)
	assert.Equal(t, 0, watcher.count(EventUserOffline))

	h.gw.Disconnect(ctx, tab2)
	h.gw.Disconnect(ctx, tab2)
	assert.Equal(t, 1, watcher.count(EventUserOffline))

	cy := h.connect(t, h.users[2].ID)
	assert.Equal(t, 1, watcher.count(EventUserOnline), "unrelated users are not announced")
	assert.Empty(t, cy.events())
}

func TestSendMessageReachesRoom(t *testing.T) {
	h := newHarness(t, Options{})
	a, b := h.users[0].ID, h.users[1].ID
	sender := h.connect(t, a)
	otherTab := h.connect(t, a)
	peer := h.connect(t, b)
	outsider := h.connect(t, h.users[2].ID)
	for _, s := range []*session{sender, otherTab, peer, outsider} {
		s.take()
	}

	h.emit(sender, EventSendMessage, "1", SendMessagePayload{ConversationID: h.directAB, Content: "hi", Type: "TEXT"})

	frames := sender.take()
	ack, ok := find(frames, EventAck)
	require.True(t, ok)
	assert.Equal(t, "1", ack.Ack)
	reply := decodeData[SendMessageReply](t, ack)
	assert.Equal(t, "hi", reply.Message.Content)

	_, ok = find(frames, EventNewMessage)
	assert.True(t, ok, "initiating tab receives the echo")
	assert.Equal(t, 1, otherTab.count(EventNewMessage))
	assert.Equal(t, 1, peer.count(EventNewMessage))
	assert.Empty(t, outsider.events())

	n, err := h.msgs.UnreadCount(context.Background(), b, h.directAB)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Contains(t, h.events.types(), events.EventTypeMessageCreated)

	assert.Zero(t, peer.count(EventTyping))
	assert.Zero(t, peer.count(EventMessageSeen))
}

func TestErrorsGoToCallerOnly(t *testing.T) {
	h := newHarness(t, Options{})
	member := h.connect(t, h.users[0].ID)
	outsider := h.connect(t, h.users[2].ID)
	member.take()
	outsider.take()

	h.emit(outsider, EventSendMessage, "", SendMessagePayload{ConversationID: h.directAB, Content: "sneaky", Type: "TEXT"})
	frames := outsider.take()
	require.Len(t, frames, 1)
	assert.Equal(t, EventError, frames[0].Event)
	data := decodeData[ErrorData](t, frames[0])
	assert.Equal(t, potluck_errors.CodeForbidden, data.Code)
	assert.Equal(t, EventSendMessage, data.Event)
	assert.Empty(t, member.events())

	h.emit(member, EventSendMessage, "9", SendMessagePayload{ConversationID: h.directAB, Content: "", Type: "TEXT"})
	ack, ok := find(member.take(), EventAck)
	require.True(t, ok)
	assert.Equal(t, potluck_errors.CodeInvalidInput, decodeData[ErrorData](t, ack).Code)

	h.gw.Handle(context.Background(), member, []byte("not json"))
	h.emit(member, "dance", "", nil)
	frames = member.take()
	require.Len(t, frames, 2)
	assert.Equal(t, potluck_errors.CodeInvalidInput, decodeData[ErrorData](t, frames[1]).Code)
}

func TestMessageRateLimit(t *testing.T) {
	h := newHarness(t, Options{Limiter: denyLimiter{}})
	s := h.connect(t, h.users[0].ID)
	s.take()

	h.emit(s, EventSendMessage, "x", SendMessagePayload{ConversationID: h.directAB, Content: "hi", Type: "TEXT"})
	ack, ok := find(s.take(), EventAck)
	require.True(t, ok)
	assert.Equal(t, potluck_errors.CodeRateLimited, decodeData[ErrorData](t, ack).Code)
}

func TestTypingRelayAndExpiry(t *testing.T) {
	h := newHarness(t, Options{})
	a, b := h.users[0].ID, h.users[1].ID
	typist := h.connect(t, a)
	peer := h.connect(t, b)
	outsider := h.connect(t, h.users[2].ID)
	typist.take()
	peer.take()
	outsider.take()

	h.emit(typist, EventTyping, "", TypingPayload{ConversationID: h.directAB, IsTyping: true})
	frames := peer.take()
	require.Len(t, frames, 1)
	ev := decodeData[TypingEvent](t, frames[0])
	assert.Equal(t, TypingEvent{UserID: a, IsTyping: true, ConversationID: h.directAB}, ev)
	assert.Empty(t, typist.events(), "typing is not echoed to the typist")

	assert.Eventually(t, func() bool {
		for _, f := range peer.take() {
			if f.Event == EventTyping && !decodeData[TypingEvent](t, f).IsTyping {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	h.emit(outsider, EventTyping, "", TypingPayload{ConversationID: h.directAB, IsTyping: true})
	assert.Empty(t, outsider.events(), "typing failures are swallowed")
	assert.Empty(t, peer.events())
}

func TestSendClearsTyping(t *testing.T) {
	h := newHarness(t, Options{})
	typist := h.connect(t, h.users[0].ID)
	peer := h.connect(t, h.users[1].ID)

	h.emit(typist, EventTyping, "", TypingPayload{ConversationID: h.directAB, IsTyping: true})
	peer.take()
	h.emit(typist, EventSendMessage, "", SendMessagePayload{ConversationID: h.directAB, Content: "done", Type: "TEXT"})

	assert.Equal(t, []string{EventNewMessage, EventTyping}, peer.events())
}

func TestReactionToggleRoundTrip(t *testing.T) {
	h := newHarness(t, Options{})
	a, b := h.users[0].ID, h.users[1].ID
	reactor := h.connect(t, a)
	peer := h.connect(t, b)

	msg, err := h.msgs.Send(context.Background(), b, services.SendInput{ConversationID: h.directAB, Content: "soup?", Type: "TEXT"})
	require.NoError(t, err)
	reactor.take()
	peer.take()

	h.emit(reactor, EventToggleReaction, "", ReactionPayload{MessageID: msg.ID, ConversationID: h.directAB, Reaction: "👍"})
	f, ok := find(peer.take(), EventMessageReaction)
	require.True(t, ok)
	ev := decodeData[MessageReactionEvent](t, f)
	assert.Equal(t, msg.ID, ev.Result.Message.ID)
	require.Len(t, ev.Result.Message.Reactions, 1)
	assert.Equal(t, a, ev.Result.Message.Reactions[0].UserID)

	h.emit(reactor, EventToggleReaction, "", ReactionPayload{MessageID: msg.ID, ConversationID: h.directAB, Reaction: "👍"})
	f, ok = find(peer.take(), EventMessageReaction)
	require.True(t, ok)
	assert.Empty(t, decodeData[MessageReactionEvent](t, f).Result.Message.Reactions)

	reactor.take()
	h.emit(reactor, EventToggleReaction, "", ReactionPayload{MessageID: 9999, ConversationID: h.directAB, Reaction: "👍"})
	frames := reactor.take()
	require.Len(t, frames, 1)
	assert.Equal(t, potluck_errors.CodeNotFound, decodeData[ErrorData](t, frames[0]).Code)
	assert.Empty(t, peer.events())

	assert.Contains(t, h.events.types(), events.EventTypeReactionAdded)
	assert.Contains(t, h.events.types(), events.EventTypeReactionRemoved)
}

func TestMarkAsSeenBroadcastsOnce(t *testing.T) {
	h := newHarness(t, Options{})
	a, b := h.users[0].ID, h.users[1].ID
	sender := h.connect(t, a)
	reader := h.connect(t, b)

	h.emit(sender, EventSendMessage, "", SendMessagePayload{ConversationID: h.directAB, Content: "hi", Type: "TEXT"})
	sender.take()
	reader.take()

	h.emit(reader, EventMarkAsSeen, "", ConversationPayload{ConversationID: h.directAB})
	f, ok := find(sender.take(), EventMessageSeen)
	require.True(t, ok)
	ev := decodeData[MessageSeenEvent](t, f)
	assert.Equal(t, h.directAB, ev.ConversationID)
	assert.Equal(t, b, ev.User.ID)
	require.Len(t, ev.Messages, 1)
	require.Len(t, ev.Messages[0].SeenBy, 1)
	assert.Equal(t, b, ev.Messages[0].SeenBy[0].UserID)
	assert.Equal(t, 1, reader.count(EventConversationUpdate))

	h.emit(reader, EventMarkAsSeen, "", ConversationPayload{ConversationID: h.directAB})
	assert.Zero(t, sender.count(EventMessageSeen))
}

func TestDeleteMessage(t *testing.T) {
	h := newHarness(t, Options{})
	a, b := h.users[0].ID, h.users[1].ID
	author := h.connect(t, a)
	peer := h.connect(t, b)

	h.emit(author, EventSendMessage, "", SendMessagePayload{ConversationID: h.directAB, Content: "oops", Type: "TEXT"})
	f, ok := find(author.take(), EventNewMessage)
	require.True(t, ok)
	var msg struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &msg))
	peer.take()

	h.emit(peer, EventDeleteMessage, "", MessageRefPayload{MessageID: msg.ID, ConversationID: h.directAB})
	frames := peer.take()
	require.Len(t, frames, 1)
	assert.Equal(t, potluck_errors.CodeForbidden, decodeData[ErrorData](t, frames[0]).Code)
	assert.Empty(t, author.events())

	h.emit(author, EventDeleteMessage, "", MessageRefPayload{MessageID: msg.ID, ConversationID: h.directAB})
	f, ok = find(peer.take(), EventMessageDeleted)
	require.True(t, ok)
	assert.Equal(t, msg.ID, decodeData[MessageDeletedEvent](t, f).ID)
}

func TestConversationUpdateIsCoalescedAndSkipsViewers(t *testing.T) {
	h := newHarness(t, Options{CoalesceWindow: 50 * time.Millisecond})
	a, b := h.users[0].ID, h.users[1].ID
	sender := h.connect(t, a)
	viewer := h.connect(t, b)
	elsewhere := h.connect(t, b)

	h.emit(viewer, EventViewConversation, "", ViewPayload{ConversationID: &h.directAB})
	assert.Equal(t, h.directAB, viewer.Viewing())

	for i := 0; i < 5; i++ {
		h.emit(sender, EventSendMessage, "", SendMessagePayload{ConversationID: h.directAB, Content: fmt.Sprint(i), Type: "TEXT"})
	}

	assert.Eventually(t, func() bool {
		return elsewhere.count(EventConversationUpdate) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, elsewhere.count(EventConversationUpdate))
	assert.Zero(t, viewer.count(EventConversationUpdate))
	assert.Equal(t, 5, viewer.count(EventNewMessage))

	h.emit(viewer, EventViewConversation, "", ViewPayload{})
	assert.Zero(t, viewer.Viewing())
}

func TestConversationCreatedJoinsLiveMembers(t *testing.T) {
	h := newHarness(t, Options{})
	a, c := h.users[0].ID, h.users[2].ID
	creator := h.connect(t, a)
	invitee := h.connect(t, c)
	creator.take()
	invitee.take()

	conv, created, err := h.convs.Create(context.Background(), a, services.CreateConversationInput{MemberIDs: []int64{c}})
	require.NoError(t, err)
	require.True(t, created)

	assert.True(t, h.gw.Hub().InRoom(invitee, realtime.ConversationRoom(conv.ID)))
	assert.Equal(t, 1, invitee.count(EventConversationUpdate))

	h.emit(creator, EventSendMessage, "", SendMessagePayload{ConversationID: conv.ID, Content: "welcome", Type: "TEXT"})
	assert.Equal(t, 1, invitee.count(EventNewMessage))
}

func TestOnlineUsersAndPing(t *testing.T) {
	h := newHarness(t, Options{})
	s := h.connect(t, h.users[0].ID)
	h.connect(t, h.users[1].ID)
	s.take()

	h.emit(s, EventGetOnlineUsers, "q", struct{}{})
	ack, ok := find(s.take(), EventAck)
	require.True(t, ok)
	assert.ElementsMatch(t, []int64{h.users[0].ID, h.users[1].ID}, decodeData[OnlineUsersReply](t, ack).OnlineUsers)

	h.emit(s, EventGetOnlineUsers, "", nil)
	assert.Equal(t, 1, s.count(EventOnlineUsers))

	h.emit(s, EventPing, "", nil)
	assert.Equal(t, 1, s.count(EventPong))
}

func TestEphemeralEventsAreThrottled(t *testing.T) {
	h := newHarness(t, Options{EphemeralRate: 0.001, EphemeralBurst: 2})
	s := h.connect(t, h.users[0].ID)
	s.take()

	for i := 0; i < 5; i++ {
		h.emit(s, EventPing, "", nil)
	}
	assert.Equal(t, 2, s.count(EventPong))
}
