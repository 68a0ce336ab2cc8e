package chatclient

import (
	"sort"
	"sync"
	"time"
)

const (
	// TypingIdle is how long after the last keystroke typing(false) goes out.
	TypingIdle = 1500 * time.Millisecond
	// TypingRefresh re-announces typing(true) during long bursts so the server entry,
	// which expires after the same idle period, stays alive.
	TypingRefresh = time.Second
)

// TypingEmitter debounces keystrokes into typing(true)/typing(false) signals.
type TypingEmitter struct {
	emit    func(isTyping bool)
	idle    time.Duration
	refresh time.Duration
	now     func() time.Time

	mu       sync.Mutex
	typing   bool
	lastSent time.Time
	timer    *time.Timer
	gen      uint64
}

func NewTypingEmitter(emit func(isTyping bool)) *TypingEmitter {
	return &TypingEmitter{emit: emit, idle: TypingIdle, refresh: TypingRefresh, now: time.Now}
}

// Keystroke announces typing on the first keystroke and re-arms the idle timer.
func (e *TypingEmitter) Keystroke() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if !e.typing || now.Sub(e.lastSent) >= e.refresh {
		e.typing = true
		e.lastSent = now
		e.emit(true)
	}

	e.gen++
	gen := e.gen
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.idle, func() { e.expire(gen) })
}

func (e *TypingEmitter) expire(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen || !e.typing {
		return
	}
	e.typing = false
	e.emit(false)
}

// Flush stops typing at once, as when the message is sent.
func (e *TypingEmitter) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.typing {
		e.typing = false
		e.emit(false)
	}
}

func (e *TypingEmitter) Typing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.typing
}

type typingKey struct {
	conversationID int64
	userID         int64
}

// TypingState is the receiving side of typing signals. Every typing(true) re-arms an
// expiry of TypingIdle, so a peer stops showing as typing even when its typing(false)
// never arrives.
type TypingState struct {
	ttl      time.Duration
	onChange func(conversationID, userID int64, isTyping bool)

	mu      sync.Mutex
	timers  map[typingKey]*time.Timer
	gens    map[typingKey]uint64
	counter uint64
}

// NewTypingState takes an optional callback, run whenever a peer starts or stops typing.
func NewTypingState(onChange func(conversationID, userID int64, isTyping bool)) *TypingState {
	return &TypingState{
		ttl:      TypingIdle,
		onChange: onChange,
		timers:   make(map[typingKey]*time.Timer),
		gens:     make(map[typingKey]uint64),
	}
}

// Apply records one typing signal from a peer.
func (t *TypingState) Apply(conversationID, userID int64, isTyping bool) {
	key := typingKey{conversationID, userID}

	t.mu.Lock()
	timer, was := t.timers[key]
	if timer != nil {
		timer.Stop()
	}
	if !isTyping {
		delete(t.timers, key)
		delete(t.gens, key)
		t.mu.Unlock()
		if was {
			t.notify(key, false)
		}
		return
	}
	t.counter++
	gen := t.counter
	t.gens[key] = gen
	t.timers[key] = time.AfterFunc(t.ttl, func() { t.expire(key, gen) })
	t.mu.Unlock()

	if !was {
		t.notify(key, true)
	}
}

func (t *TypingState) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	if t.gens[key] != gen {
		t.mu.Unlock()
		return
	}
	delete(t.timers, key)
	delete(t.gens, key)
	t.mu.Unlock()
	t.notify(key, false)
}

func (t *TypingState) notify(key typingKey, isTyping bool) {
	if t.onChange != nil {
		t.onChange(key.conversationID, key.userID, isTyping)
	}
}

func (t *TypingState) IsTyping(conversationID, userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[typingKey{conversationID, userID}]
	return ok
}

// Users lists who is typing in a conversation, ordered by id.
func (t *TypingState) Users(conversationID int64) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []int64
	for k := range t.timers {
		if k.conversationID == conversationID {
			ids = append(ids, k.userID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Stop drops every entry without notifying.
func (t *TypingState) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, timer := range t.timers {
		timer.Stop()
		delete(t.timers, k)
		delete(t.gens, k)
	}
}
