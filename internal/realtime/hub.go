package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub is the process-local session registry. It maps connections to users and rooms and
// doubles as the in-memory Broadcaster for single-process deployments.
type Hub struct {
	mu sync.RWMutex

	// conns maps connection id to connection
	conns map[string]Conn

	// rooms maps room name to the set of connection ids joined to it
	rooms map[string]map[string]struct{}

	// joined maps connection id to the rooms it is in, for cleanup
	joined map[string]map[string]struct{}

	log *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		conns:  make(map[string]Conn),
		rooms:  make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
		log:    log,
	}
}

// Register adds a connection and joins it to its user room.
func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
	h.join(c.ID(), UserRoom(c.UserID()))
}

// Unregister removes a connection and all its room memberships. It reports whether the
// connection was registered.
func (h *Hub) Unregister(c Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.ID()]; !ok {
		return false
	}
	for room := range h.joined[c.ID()] {
		h.leave(c.ID(), room)
	}
	delete(h.joined, c.ID())
	delete(h.conns, c.ID())
	return true
}

func (h *Hub) Join(c Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.ID()]; !ok {
		return
	}
	h.join(c.ID(), room)
}

func (h *Hub) Leave(c Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(c.ID(), room)
}

// JoinUser joins every local connection of userID to room.
func (h *Hub) JoinUser(userID int64, room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for id := range h.rooms[UserRoom(userID)] {
		h.join(id, room)
		n++
	}
	return n
}

// Deliver sends the envelope to matching local connections and returns how many accepted it.
func (h *Hub) Deliver(env Envelope) int {
	var targets []Conn
	if env.Join != "" {
		h.mu.Lock()
		targets = h.targets(env)
		for _, c := range targets {
			h.join(c.ID(), env.Join)
		}
		h.mu.Unlock()
	} else {
		h.mu.RLock()
		targets = h.targets(env)
		h.mu.RUnlock()
	}
	if len(env.Payload) == 0 {
		return 0
	}

	delivered := 0
	for _, c := range targets {
		if c.Send(env.Payload) {
			delivered++
			continue
		}
		h.log.Warn("dropped frame for slow connection",
			zap.String("room", env.Room),
			zap.String("client_id", c.ID()),
			zap.Int64("user_id", c.UserID()))
	}
	return delivered
}

func (h *Hub) targets(env Envelope) []Conn {
	out := make([]Conn, 0, len(h.rooms[env.Room]))
	for id := range h.rooms[env.Room] {
		if c, ok := h.conns[id]; ok && env.accepts(c) {
			out = append(out, c)
		}
	}
	return out
}

// Publish implements Broadcaster for a single process.
func (h *Hub) Publish(_ context.Context, env Envelope) error {
	h.Deliver(env)
	return nil
}

// ConnectionsOf returns the local connections of a user.
func (h *Hub) ConnectionsOf(userID int64) []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := h.rooms[UserRoom(userID)]
	out := make([]Conn, 0, len(ids))
	for id := range ids {
		if c, ok := h.conns[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Rooms returns the rooms a connection is joined to.
func (h *Hub) Rooms(c Conn) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.joined[c.ID()]))
	for room := range h.joined[c.ID()] {
		out = append(out, room)
	}
	return out
}

func (h *Hub) InRoom(c Conn, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c.ID()]
	return ok
}

// GetClientCount returns the number of registered connections
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// GetRoomSize returns the number of local connections joined to a room
func (h *Hub) GetRoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) join(connID, room string) {
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[string]struct{})
	}
	h.rooms[room][connID] = struct{}{}

	if _, ok := h.joined[connID]; !ok {
		h.joined[connID] = make(map[string]struct{})
	}
	h.joined[connID][room] = struct{}{}
}

func (h *Hub) leave(connID, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.joined[connID]; ok {
		delete(rooms, room)
	}
}
