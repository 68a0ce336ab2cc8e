package realtime

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

const (
	conversationRoomPrefix = "conversation:"
	userRoomPrefix         = "user:"
)

// ConversationRoom names the room every member connection of a conversation joins.
func ConversationRoom(conversationID int64) string {
	return conversationRoomPrefix + strconv.FormatInt(conversationID, 10)
}

// UserRoom names the room holding every connection of one user.
func UserRoom(userID int64) string {
	return userRoomPrefix + strconv.FormatInt(userID, 10)
}

// ParseConversationRoom returns the conversation id of a conversation room.
func ParseConversationRoom(room string) (int64, bool) {
	raw, ok := strings.CutPrefix(room, conversationRoomPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

// Conn is a live connection the hub delivers frames to.
type Conn interface {
	ID() string
	UserID() int64
	// Viewing is the conversation the connection currently shows, 0 for none.
	Viewing() int64
	// Send queues a frame without blocking and reports whether it was accepted.
	Send(payload []byte) bool
}

// Envelope is one room delivery. Skip filters are applied where the connections live, so
// they survive a trip through a backplane.
type Envelope struct {
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
	// SkipUserID drops every connection of this user.
	SkipUserID int64 `json:"skipUserId,omitempty"`
	// SkipViewersOf drops connections currently viewing this conversation.
	SkipViewersOf int64 `json:"skipViewersOf,omitempty"`
	// Join subscribes every receiving connection to this room before the payload is sent.
	Join string `json:"join,omitempty"`
}

func (e Envelope) accepts(c Conn) bool {
	if e.SkipUserID != 0 && c.UserID() == e.SkipUserID {
		return false
	}
	if e.SkipViewersOf != 0 && c.Viewing() == e.SkipViewersOf {
		return false
	}
	return true
}

// Broadcaster fans an envelope out to every connection in its room, wherever it is held.
type Broadcaster interface {
	Publish(ctx context.Context, env Envelope) error
}
