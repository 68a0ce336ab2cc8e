package realtime

import (
	"context"
	"sort"
	"sync"
)

// PresenceTracker keeps a reference count of live connections per user. Connect reports the
// offline to online transition and Disconnect the reverse, exactly once each.
type PresenceTracker interface {
	Connect(ctx context.Context, userID int64) (first bool, err error)
	Disconnect(ctx context.Context, userID int64) (last bool, err error)
	IsOnline(ctx context.Context, userID int64) (bool, error)
	OnlineUsers(ctx context.Context) ([]int64, error)
}

// MemoryPresence keeps counts of active connections per user in this process.
type MemoryPresence struct {
	mu     sync.Mutex
	online map[int64]int
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{online: make(map[int64]int)}
}

func (p *MemoryPresence) Connect(_ context.Context, userID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID]++
	return p.online[userID] == 1, nil
}

func (p *MemoryPresence) Disconnect(_ context.Context, userID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	count, ok := p.online[userID]
	if !ok {
		return false, nil
	}
	if count <= 1 {
		delete(p.online, userID)
		return true, nil
	}
	p.online[userID] = count - 1
	return false, nil
}

func (p *MemoryPresence) IsOnline(_ context.Context, userID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID] > 0, nil
}

func (p *MemoryPresence) OnlineUsers(_ context.Context) ([]int64, error) {
	p.mu.Lock()
	ids := make([]int64, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ActiveCount returns the number of online users.
func (p *MemoryPresence) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online)
}
