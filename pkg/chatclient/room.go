package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
)

// Emitter is the part of Conn a Room sends through.
type Emitter interface {
	Emit(event string, data any) error
	EmitWithAck(ctx context.Context, event string, data any) (json.RawMessage, error)
}

// Room is the open view of one conversation. It wires the timeline, typing and viewport
// to the connection.
type Room struct {
	ConversationID int64
	SelfID         int64

	Timeline *Timeline
	Typing   *TypingEmitter
	Peers    *TypingState
	Viewport *Viewport

	conn Emitter
}

func NewRoom(conn Emitter, conversationID, selfID int64, scrollToBottom func()) *Room {
	r := &Room{
		ConversationID: conversationID,
		SelfID:         selfID,
		Timeline:       NewTimeline(),
		Peers:          NewTypingState(nil),
		conn:           conn,
	}
	r.Typing = NewTypingEmitter(func(isTyping bool) {
		_ = conn.Emit("typing", map[string]any{"conversationId": conversationID, "isTyping": isTyping})
	})
	r.Viewport = NewViewport(scrollToBottom, func() {
		_ = conn.Emit("mark_as_seen", map[string]any{"conversationId": conversationID})
	})
	return r
}

type sendReply struct {
	Message Message `json:"message"`
}

// Send submits a message. Text shows up at once as a provisional entry; media appears
// only once the server accepts it, or as a failed entry when it does not.
func (r *Room) Send(ctx context.Context, content, typ string, replyOf *int64, fileName string) (Message, error) {
	r.Typing.Flush()
	if typ == "" {
		typ = TypeText
	}
	draft := Draft{
		ConversationID: r.ConversationID,
		SenderID:       r.SelfID,
		Content:        content,
		Type:           typ,
		ReplyOf:        replyOf,
		FileName:       fileName,
	}

	var clientID *string
	var provisional Message
	if typ == TypeText {
		provisional = r.Timeline.AddProvisional(draft)
		clientID = provisional.ClientID
	}

	raw, err := r.conn.EmitWithAck(ctx, "send_message", map[string]any{
		"conversationId": r.ConversationID,
		"content":        content,
		"type":           typ,
		"replyOf":        replyOf,
		"clientId":       clientID,
	})
	if err != nil {
		if typ != TypeText {
			provisional = r.Timeline.AddProvisional(draft)
		}
		r.Timeline.Fail(provisional.ID)
		return Message{}, err
	}

	var reply sendReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return Message{}, fmt.Errorf("decode send reply: %w", err)
	}
	r.Timeline.Confirm(reply.Message)
	return reply.Message, nil
}

// Open tells the server this tab shows the conversation and binds the room's handlers.
// scroll reports the current scroll region when a message arrives.
func (r *Room) Open(c *Conn, scroll func() Scroll) error {
	c.On("new_message", func(data json.RawMessage) {
		var m Message
		if json.Unmarshal(data, &m) == nil {
			r.HandleNewMessage(m, scroll())
		}
	})
	c.On("typing", func(data json.RawMessage) {
		var ev TypingEvent
		if json.Unmarshal(data, &ev) == nil {
			r.HandleTyping(ev)
		}
	})
	c.On("message_deleted", func(data json.RawMessage) {
		var ev struct {
			ID             int64 `json:"id"`
			ConversationID int64 `json:"conversationId"`
		}
		if json.Unmarshal(data, &ev) == nil && ev.ConversationID == r.ConversationID {
			r.Timeline.Remove(ev.ID)
		}
	})
	c.On("message_reaction", func(data json.RawMessage) {
		var ev struct {
			Result struct {
				Message struct {
					ID             int64      `json:"id"`
					ConversationID int64      `json:"conversationId"`
					Reactions      []Reaction `json:"reactions"`
				} `json:"message"`
			} `json:"result"`
		}
		if json.Unmarshal(data, &ev) == nil && ev.Result.Message.ConversationID == r.ConversationID {
			r.Timeline.ApplyReactions(ev.Result.Message.ID, ev.Result.Message.Reactions)
		}
	})
	c.On("message_seen", func(data json.RawMessage) {
		var ev struct {
			ConversationID int64        `json:"conversationId"`
			Messages       []SeenUpdate `json:"messages"`
		}
		if json.Unmarshal(data, &ev) == nil && ev.ConversationID == r.ConversationID {
			r.Timeline.ApplySeen(ev.Messages)
		}
	})
	return r.conn.Emit("view_conversation", map[string]any{"conversationId": r.ConversationID})
}

// HandleNewMessage reconciles a new_message broadcast and drives the viewport.
func (r *Room) HandleNewMessage(m Message, s Scroll) {
	if m.ConversationID != r.ConversationID {
		return
	}
	r.Timeline.Confirm(m)
	r.Viewport.OnNewMessage(s, m.SenderID == r.SelfID)
}

// TypingEvent is an inbound typing frame from a peer.
type TypingEvent struct {
	UserID         int64 `json:"userId"`
	IsTyping       bool  `json:"isTyping"`
	ConversationID int64 `json:"conversationId"`
}

// HandleTyping records a peer's typing signal. The room's own user is ignored.
func (r *Room) HandleTyping(ev TypingEvent) {
	if ev.ConversationID != r.ConversationID || ev.UserID == r.SelfID {
		return
	}
	r.Peers.Apply(ev.ConversationID, ev.UserID, ev.IsTyping)
}

// LoadOlder prepends a page and returns the scroll offset that keeps the view steady.
func (r *Room) LoadOlder(older []Message, before Scroll, heightAfter func() float64) float64 {
	anchor := CaptureAnchor(before)
	r.Timeline.Prepend(older)
	return anchor.Restore(heightAfter())
}
