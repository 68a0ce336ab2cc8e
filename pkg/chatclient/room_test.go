package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type emitterMock struct {
	mock.Mock
	mu     sync.Mutex
	events []string
}

func (m *emitterMock) Emit(event string, data any) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

func (m *emitterMock) EmitWithAck(ctx context.Context, event string, data any) (json.RawMessage, error) {
	args := m.Called(ctx, event, data)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func TestRoomSendRollsBackText(t *testing.T) {
	em := &emitterMock{}
	em.On("EmitWithAck", mock.Anything, "send_message", mock.Anything).Return(nil, errors.New("forbidden"))

	room := NewRoom(em, 1, 7, func() {})
	_, err := room.Send(context.Background(), "hi", TypeText, nil, "")
	require.Error(t, err)
	assert.Zero(t, room.Timeline.Len())
}

func TestRoomSendMediaFailureLeavesOverlay(t *testing.T) {
	em := &emitterMock{}
	em.On("EmitWithAck", mock.Anything, "send_message", mock.Anything).Return(nil, errors.New("too large"))

	room := NewRoom(em, 1, 7, func() {})
	_, err := room.Send(context.Background(), `{"url":"u"}`, TypeMedia, nil, "cat.png")
	require.Error(t, err)

	msgs := room.Timeline.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Failed)
	assert.Equal(t, "cat.png", msgs[0].FileName)
}

func TestRoomSendMediaHasNoProvisional(t *testing.T) {
	em := &emitterMock{}
	room := NewRoom(em, 1, 7, func() {})

	em.On("EmitWithAck", mock.Anything, "send_message", mock.Anything).Run(func(mock.Arguments) {
		assert.Zero(t, room.Timeline.Len())
	}).Return(json.RawMessage(`{"message":{"id":5,"conversationId":1,"senderId":7,"type":"MEDIA"}}`), nil)

	m, err := room.Send(context.Background(), `{"url":"u"}`, TypeMedia, nil, "cat.png")
	require.NoError(t, err)
	assert.Equal(t, int64(5), m.ID)
	assert.Equal(t, 1, room.Timeline.Len())
}

func TestRoomSendFlushesTyping(t *testing.T) {
	em := &emitterMock{}
	em.On("EmitWithAck", mock.Anything, "send_message", mock.Anything).
		Return(json.RawMessage(`{"message":{"id":5,"conversationId":1,"senderId":7,"content":"hi","type":"TEXT"}}`), nil)

	room := NewRoom(em, 1, 7, func() {})
	room.Typing.Keystroke()
	_, err := room.Send(context.Background(), "hi", TypeText, nil, "")
	require.NoError(t, err)

	em.mu.Lock()
	defer em.mu.Unlock()
	assert.Equal(t, []string{"typing", "typing"}, em.events)
}

func TestRoomHandleNewMessage(t *testing.T) {
	em := &emitterMock{}
	scrolled := 0
	room := NewRoom(em, 1, 7, func() { scrolled++ })

	room.HandleNewMessage(Message{ID: 1, ConversationID: 2, SenderID: 8, Type: TypeText}, atBottom)
	assert.Zero(t, room.Timeline.Len())

	room.HandleNewMessage(Message{ID: 2, ConversationID: 1, SenderID: 8, Type: TypeText}, atBottom)
	assert.Equal(t, 1, room.Timeline.Len())
	assert.Equal(t, 1, scrolled)

	em.mu.Lock()
	assert.Equal(t, []string{"mark_as_seen"}, em.events)
	em.mu.Unlock()

	room.HandleNewMessage(Message{ID: 3, ConversationID: 1, SenderID: 8, Type: TypeText}, scrolledUp)
	assert.True(t, room.Viewport.HasNewMessages())
}

func TestRoomLoadOlderKeepsAnchor(t *testing.T) {
	room := NewRoom(&emitterMock{}, 1, 7, func() {})
	room.Timeline.Confirm(Message{ID: 10, ConversationID: 1})

	top := room.LoadOlder([]Message{{ID: 8}, {ID: 9}}, Scroll{Top: 0, Height: 800, ClientHeight: 400}, func() float64 { return 1200 })
	assert.Equal(t, float64(400), top)
	assert.Equal(t, 3, room.Timeline.Len())
}

func TestRoomHandleTyping(t *testing.T) {
	r := NewRoom(&emitterMock{}, 5, 1, func() {})
	defer r.Peers.Stop()

	r.HandleTyping(TypingEvent{UserID: 1, IsTyping: true, ConversationID: 5})
	r.HandleTyping(TypingEvent{UserID: 2, IsTyping: true, ConversationID: 6})
	assert.Empty(t, r.Peers.Users(5))

	r.HandleTyping(TypingEvent{UserID: 2, IsTyping: true, ConversationID: 5})
	assert.True(t, r.Peers.IsTyping(5, 2))
	r.HandleTyping(TypingEvent{UserID: 2, IsTyping: false, ConversationID: 5})
	assert.False(t, r.Peers.IsTyping(5, 2))
}
