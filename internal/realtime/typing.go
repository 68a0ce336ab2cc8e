package realtime

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing entry lives without a refresh.
const DefaultTypingTTL = 1500 * time.Millisecond

// TypingCoordinator holds the per-conversation set of typing users. Entries expire on their
// own after the TTL; expiries are reported to the OnExpire callback.
type TypingCoordinator interface {
	// Start adds or refreshes an entry and reports whether the user was not typing before.
	Start(ctx context.Context, conversationID, userID int64) (bool, error)
	// Stop removes an entry and reports whether it existed.
	Stop(ctx context.Context, conversationID, userID int64) (bool, error)
	Active(ctx context.Context, conversationID int64) ([]int64, error)
	OnExpire(fn func(conversationID, userID int64))
}

type typingKey struct {
	conversationID int64
	userID         int64
}

type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// MemoryTyping is the single-process TypingCoordinator.
type MemoryTyping struct {
	ttl time.Duration

	mu       sync.Mutex
	entries  map[typingKey]*typingEntry
	gen      uint64
	onExpire func(conversationID, userID int64)
}

func NewMemoryTyping(ttl time.Duration) *MemoryTyping {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &MemoryTyping{ttl: ttl, entries: make(map[typingKey]*typingEntry)}
}

func (t *MemoryTyping) OnExpire(fn func(conversationID, userID int64)) {
	t.mu.Lock()
	t.onExpire = fn
	t.mu.Unlock()
}

func (t *MemoryTyping) Start(_ context.Context, conversationID, userID int64) (bool, error) {
	key := typingKey{conversationID, userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	gen := t.gen
	if e, ok := t.entries[key]; ok {
		e.timer.Stop()
		e.gen = gen
		e.timer = time.AfterFunc(t.ttl, func() { t.expire(key, gen) })
		return false, nil
	}
	t.entries[key] = &typingEntry{
		gen:   gen,
		timer: time.AfterFunc(t.ttl, func() { t.expire(key, gen) }),
	}
	return true, nil
}

func (t *MemoryTyping) Stop(_ context.Context, conversationID, userID int64) (bool, error) {
	key := typingKey{conversationID, userID}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return false, nil
	}
	e.timer.Stop()
	delete(t.entries, key)
	return true, nil
}

func (t *MemoryTyping) Active(_ context.Context, conversationID int64) ([]int64, error) {
	t.mu.Lock()
	var ids []int64
	for key := range t.entries {
		if key.conversationID == conversationID {
			ids = append(ids, key.userID)
		}
	}
	t.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// expire removes the entry only if it was not refreshed since the timer was armed.
func (t *MemoryTyping) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	fn := t.onExpire
	t.mu.Unlock()

	if fn != nil {
		fn(key.conversationID, key.userID)
	}
}

// Close stops every pending expiry without reporting it.
func (t *MemoryTyping) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, key)
	}
}
