// Package chatclient is the client side of the messaging gateway: an optimistic message
// timeline, typing emission, scroll/seen orchestration and a websocket connection.
package chatclient

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TypeText   = "TEXT"
	TypeMedia  = "MEDIA"
	TypePost   = "POST"
	TypeRecipe = "RECIPE"
)

// tailWindow bounds how far back Confirm looks for a provisional text message.
const tailWindow = 20

type Reaction struct {
	UserID int64  `json:"userId"`
	Emoji  string `json:"emoji"`
}

type SeenRecord struct {
	UserID int64     `json:"userId"`
	SeenAt time.Time `json:"createdAt"`
}

type Message struct {
	ID             int64        `json:"id"`
	ConversationID int64        `json:"conversationId"`
	SenderID       int64        `json:"senderId"`
	ClientID       *string      `json:"clientId,omitempty"`
	Content        string       `json:"content"`
	Type           string       `json:"type"`
	ReplyOf        *int64       `json:"replyOf"`
	CreatedAt      time.Time    `json:"createdAt"`
	Reactions      []Reaction   `json:"reactions"`
	SeenBy         []SeenRecord `json:"seenBy"`

	// Pending is set on a provisional message until the server echo confirms it.
	Pending bool `json:"-"`
	// Failed marks a media message whose send was rejected. FileName is shown over it.
	Failed   bool   `json:"-"`
	FileName string `json:"-"`
}

// Draft is what the composer submits.
type Draft struct {
	ConversationID int64
	SenderID       int64
	Content        string
	Type           string
	ReplyOf        *int64
	FileName       string
}

// Timeline is the ordered message list of one conversation, oldest first.
type Timeline struct {
	mu       sync.Mutex
	messages []Message
	lastTemp int64
	now      func() time.Time
}

func NewTimeline() *Timeline {
	return &Timeline{now: time.Now}
}

// AddProvisional appends a pending message with a temporary id taken from the clock and a
// fresh correlation id.
func (t *Timeline) AddProvisional(d Draft) Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.now().UnixMilli()
	if id <= t.lastTemp {
		id = t.lastTemp + 1
	}
	t.lastTemp = id

	typ := d.Type
	if typ == "" {
		typ = TypeText
	}
	clientID := uuid.NewString()
	m := Message{
		ID:             id,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		ClientID:       &clientID,
		Content:        d.Content,
		Type:           typ,
		ReplyOf:        d.ReplyOf,
		CreatedAt:      t.now(),
		Pending:        true,
		FileName:       d.FileName,
	}
	t.messages = append(t.messages, m)
	return m
}

// Confirm reconciles a server message with the list. A provisional entry with the same
// correlation id is replaced in place; failing that, a text message replaces the latest
// pending entry near the tail from the same sender with the same content. Anything else
// is appended, or replaces an entry already holding its id. It reports whether an
// existing entry was replaced.
func (t *Timeline) Confirm(m Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	m.Pending = false
	m.Failed = false

	if i := t.indexByClientID(m.ClientID); i >= 0 {
		t.messages[i] = m
		return true
	}
	if m.Type == TypeText || m.Type == "" {
		if i := t.tailMatch(m); i >= 0 {
			t.messages[i] = m
			return true
		}
	}
	for i := range t.messages {
		if !t.messages[i].Pending && t.messages[i].ID == m.ID {
			t.messages[i] = m
			return true
		}
	}
	t.messages = append(t.messages, m)
	return false
}

func (t *Timeline) indexByClientID(clientID *string) int {
	if clientID == nil || *clientID == "" {
		return -1
	}
	for i := len(t.messages) - 1; i >= 0; i-- {
		c := t.messages[i].ClientID
		if t.messages[i].Pending && c != nil && *c == *clientID {
			return i
		}
	}
	return -1
}

func (t *Timeline) tailMatch(m Message) int {
	stop := len(t.messages) - tailWindow
	if stop < 0 {
		stop = 0
	}
	for i := len(t.messages) - 1; i >= stop; i-- {
		p := t.messages[i]
		if p.Pending && p.Type == TypeText && p.SenderID == m.SenderID && p.Content == m.Content {
			return i
		}
	}
	return -1
}

// Fail rolls back a rejected send. Text is removed; media stays marked Failed so the user
// sees which file did not go through.
func (t *Timeline) Fail(tempID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, m := range t.messages {
		if m.ID != tempID || !m.Pending {
			continue
		}
		if m.Type == TypeText {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return
		}
		t.messages[i].Pending = false
		t.messages[i].Failed = true
		return
	}
}

// Prepend inserts an older page ahead of the list, skipping ids already present.
func (t *Timeline) Prepend(older []Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[int64]struct{}, len(t.messages))
	for _, m := range t.messages {
		if !m.Pending {
			seen[m.ID] = struct{}{}
		}
	}
	page := make([]Message, 0, len(older))
	for _, m := range older {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		page = append(page, m)
	}
	t.messages = append(page, t.messages...)
	return len(page)
}

// Remove drops a confirmed message, as on message_deleted.
func (t *Timeline) Remove(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, m := range t.messages {
		if m.ID == id && !m.Pending {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return true
		}
	}
	return false
}

// ApplyReactions replaces the reaction set of a message with the server's.
func (t *Timeline) ApplyReactions(messageID int64, reactions []Reaction) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.messages {
		if t.messages[i].ID == messageID && !t.messages[i].Pending {
			t.messages[i].Reactions = reactions
			return true
		}
	}
	return false
}

// SeenUpdate is one message of a message_seen broadcast.
type SeenUpdate struct {
	ID     int64        `json:"id"`
	SeenBy []SeenRecord `json:"seenBy"`
}

// ApplySeen updates seen records and returns how many messages changed.
func (t *Timeline) ApplySeen(updates []SeenUpdate) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	byID := make(map[int64][]SeenRecord, len(updates))
	for _, u := range updates {
		byID[u.ID] = u.SeenBy
	}
	n := 0
	for i := range t.messages {
		if t.messages[i].Pending {
			continue
		}
		if seen, ok := byID[t.messages[i].ID]; ok {
			t.messages[i].SeenBy = seen
			n++
		}
	}
	return n
}

// Messages returns a snapshot of the list.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}
