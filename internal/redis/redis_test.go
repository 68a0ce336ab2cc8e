package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"potluck-chat/internal/realtime"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestPresenceStore(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)
	p := NewPresenceStore(client)

	first, err := p.Connect(ctx, 1)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = p.Connect(ctx, 1)
	require.NoError(t, err)
	assert.False(t, first)

	_, _ = p.Connect(ctx, 2)
	users, err := p.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, users)

	last, err := p.Disconnect(ctx, 1)
	require.NoError(t, err)
	assert.False(t, last)
	online, _ := p.IsOnline(ctx, 1)
	assert.True(t, online)

	last, err = p.Disconnect(ctx, 1)
	require.NoError(t, err)
	assert.True(t, last)
	online, _ = p.IsOnline(ctx, 1)
	assert.False(t, online)

	last, err = p.Disconnect(ctx, 1)
	require.NoError(t, err)
	assert.False(t, last)

	count, _ := p.GetOnlineCount(ctx)
	assert.Equal(t, int64(1), count)
}

func TestTypingStore(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)

	now := time.UnixMilli(1_700_000_000_000)
	store := NewTypingStore(client, 1500*time.Millisecond, nil)
	store.now = func() time.Time { return now }

	var expired [][2]int64
	store.OnExpire(func(conversationID, userID int64) {
		expired = append(expired, [2]int64{conversationID, userID})
	})

	changed, err := store.Start(ctx, 42, 1)
	require.NoError(t, err)
	assert.True(t, changed)

	now = now.Add(time.Second)
	changed, err = store.Start(ctx, 42, 1)
	require.NoError(t, err)
	assert.False(t, changed, "refresh is not a transition")

	_, _ = store.Start(ctx, 42, 2)
	active, err := store.Active(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, active)

	stopped, err := store.Stop(ctx, 42, 2)
	require.NoError(t, err)
	assert.True(t, stopped)

	now = now.Add(time.Second)
	store.Sweep(ctx)
	assert.Empty(t, expired, "entry was refreshed one second ago")

	now = now.Add(time.Second)
	store.Sweep(ctx)
	assert.Equal(t, [][2]int64{{42, 1}}, expired)

	store.Sweep(ctx)
	assert.Len(t, expired, 1, "expiry is reported once")

	active, _ = store.Active(ctx, 42)
	assert.Empty(t, active)
}

type mockMembership struct {
	mock.Mock
}

func (m *mockMembership) MemberIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).([]int64), args.Error(1)
}

func (m *mockMembership) ConversationIDs(ctx context.Context, userID int64) ([]int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]int64), args.Error(1)
}

func (m *mockMembership) IsMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func TestMembershipCache(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestClient(t)

	store := new(mockMembership)
	store.On("MemberIDs", mock.Anything, int64(42)).Return([]int64{1, 2}, nil).Twice()
	store.On("ConversationIDs", mock.Anything, int64(9)).Return([]int64{}, nil).Once()

	cache := NewMembershipCache(client, store, DefaultCacheConfig(), nil)

	ids, err := cache.MemberIDs(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	ok, err := cache.IsMember(ctx, 42, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = cache.IsMember(ctx, 42, 3)
	assert.False(t, ok)

	convs, err := cache.ConversationIDs(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, convs)
	convs, _ = cache.ConversationIDs(ctx, 9)
	assert.Empty(t, convs, "empty sets are cached too")

	require.NoError(t, cache.InvalidateConversation(ctx, 42, 1, 2))
	assert.False(t, mr.Exists(membersKey(42)))
	_, _ = cache.MemberIDs(ctx, 42)

	store.AssertExpectations(t)
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)
	limiter := NewRateLimiter(client, RateLimitConfig{MessageLimit: 2, MessageWindow: time.Minute})

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, 5)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	res, err := limiter.AllowMessage(ctx, 5)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	require.NoError(t, limiter.ResetUser(ctx, 5))
	ok, _ := limiter.Allow(ctx, 5)
	assert.True(t, ok)
}

type recordingConn struct {
	id     string
	userID int64

	mu     sync.Mutex
	frames []string
}

func (c *recordingConn) ID() string     { return c.id }
func (c *recordingConn) UserID() int64  { return c.userID }
func (c *recordingConn) Viewing() int64 { return 0 }

func (c *recordingConn) Send(payload []byte) bool {
	c.mu.Lock()
	c.frames = append(c.frames, string(payload))
	c.mu.Unlock()
	return true
}

func (c *recordingConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

func TestBackplaneDeliversThroughBridge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, client := newTestClient(t)

	hub := realtime.NewHub(nil)
	alice := &recordingConn{id: "a", userID: 1}
	bob := &recordingConn{id: "b", userID: 2}
	hub.Register(alice)
	hub.Register(bob)
	hub.Join(alice, realtime.ConversationRoom(42))
	hub.Join(bob, realtime.ConversationRoom(42))

	ready := make(chan struct{})
	bridge := NewBridge(NewSubscriber(client), hub, nil)
	go func() { _ = bridge.Run(ctx, ready) }()
	<-ready

	backplane := NewBackplane(NewPublisher(client))
	require.NoError(t, backplane.Publish(ctx, realtime.Envelope{
		Room:       realtime.ConversationRoom(42),
		Payload:    []byte(`{"event":"typing"}`),
		SkipUserID: 1,
	}))

	assert.Eventually(t, func() bool { return len(bob.received()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, `{"event":"typing"}`, bob.received()[0])
	assert.Empty(t, alice.received())
}
