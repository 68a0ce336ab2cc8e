package gateway

import (
	"encoding/json"

	"potluck-chat/internal/domain/message"
	"potluck-chat/internal/domain/user"
)

// Inbound events
const (
	EventSendMessage      = "send_message"
	EventTyping           = "typing"
	EventToggleReaction   = "toggle_reaction"
	EventMarkAsSeen       = "mark_as_seen"
	EventDeleteMessage    = "delete_message"
	EventGetOnlineUsers   = "get_online_users"
	EventViewConversation = "view_conversation"
	EventPing             = "ping"
)

// Outbound events
const (
	EventNewMessage         = "new_message"
	EventMessageDeleted     = "message_deleted"
	EventMessageReaction    = "message_reaction"
	EventMessageSeen        = "message_seen"
	EventUserOnline         = "user_online"
	EventUserOffline        = "user_offline"
	EventConversationUpdate = "conversation_update"
	EventOnlineUsers        = "online_users"
	EventAck                = "ack"
	EventError              = "error"
	EventPong               = "pong"
)

// Inbound is one client frame. Ack, when set, asks for an ack frame carrying the result.
type Inbound struct {
	Event string          `json:"event"`
	Ack   string          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data"`
}

type Outbound struct {
	Event string `json:"event"`
	Ack   string `json:"ack,omitempty"`
	Data  any    `json:"data"`
}

type SendMessagePayload struct {
	ConversationID int64        `json:"conversationId"`
	Content        string       `json:"content"`
	Type           message.Type `json:"type"`
	ReplyOf        *int64       `json:"replyOf"`
	ClientID       *string      `json:"clientId"`
}

type TypingPayload struct {
	ConversationID int64 `json:"conversationId"`
	IsTyping       bool  `json:"isTyping"`
}

type ReactionPayload struct {
	MessageID      int64  `json:"messageId"`
	ConversationID int64  `json:"conversationId"`
	Reaction       string `json:"reaction"`
}

type ConversationPayload struct {
	ConversationID int64 `json:"conversationId"`
}

type MessageRefPayload struct {
	MessageID      int64 `json:"messageId"`
	ConversationID int64 `json:"conversationId"`
}

// ViewPayload names the conversation a tab shows; null clears it.
type ViewPayload struct {
	ConversationID *int64 `json:"conversationId"`
}

type SendMessageReply struct {
	Message message.Message `json:"message"`
}

type OnlineUsersReply struct {
	OnlineUsers []int64 `json:"onlineUsers"`
}

type ErrorData struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

type TypingEvent struct {
	UserID         int64 `json:"userId"`
	IsTyping       bool  `json:"isTyping"`
	ConversationID int64 `json:"conversationId"`
}

type PresenceEvent struct {
	UserID int64 `json:"userId"`
}

type MessageDeletedEvent struct {
	ID             int64 `json:"id"`
	ConversationID int64 `json:"conversationId"`
}

type ReactionMessage struct {
	ID             int64              `json:"id"`
	ConversationID int64              `json:"conversationId"`
	Reactions      []message.Reaction `json:"reactions"`
}

type ReactionResult struct {
	Message ReactionMessage `json:"message"`
}

type MessageReactionEvent struct {
	Result ReactionResult `json:"result"`
}

type SeenMessage struct {
	ID     int64                `json:"id"`
	SeenBy []message.SeenRecord `json:"seenBy"`
}

type MessageSeenEvent struct {
	ConversationID int64         `json:"conversationId"`
	User           user.User     `json:"user"`
	Messages       []SeenMessage `json:"messages"`
}

type ConversationUpdateEvent struct {
	ConversationID int64 `json:"conversationId"`
}

// Encode renders an outbound frame.
func Encode(event string, data any) ([]byte, error) {
	return json.Marshal(Outbound{Event: event, Data: data})
}

func encodeAck(ack string, data any) ([]byte, error) {
	return json.Marshal(Outbound{Event: EventAck, Ack: ack, Data: data})
}
