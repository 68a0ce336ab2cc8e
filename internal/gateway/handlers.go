package gateway

import (
	"context"
	"fmt"
	"time"

	"potluck-chat/internal/domain/message"
	"potluck-chat/internal/events"
	"potluck-chat/internal/realtime"
	"potluck-chat/internal/services"
	potluck_errors "potluck-chat/pkg/errors"

	"go.uber.org/zap"
)

const backgroundTimeout = 5 * time.Second

func (g *Gateway) sendMessage(ctx context.Context, s Session, p SendMessagePayload) (any, error) {
	userID := s.UserID()
	if g.limiter != nil {
		ok, err := g.limiter.Allow(ctx, userID)
		if err != nil {
			g.log.Warn("message rate limiter unavailable", zap.Int64("user_id", userID), zap.Error(err))
		} else if !ok {
			return nil, potluck_errors.ErrRateLimited
		}
	}

	msg, err := g.messages.Send(ctx, userID, services.SendInput{
		ConversationID: p.ConversationID,
		Content:        p.Content,
		Type:           p.Type,
		ReplyOf:        p.ReplyOf,
		ClientID:       p.ClientID,
	})
	if err != nil {
		return nil, err
	}

	g.publish(ctx, realtime.Envelope{Room: realtime.ConversationRoom(msg.ConversationID)}, EventNewMessage, msg)
	g.stopTyping(ctx, msg.ConversationID, userID)
	g.updates.Trigger(msg.ConversationID)
	g.emitEvent(events.EventTypeMessageCreated, events.AggregateTypeMessage, msg.ID, msg)

	return SendMessageReply{Message: msg}, nil
}

// relayTyping forwards the signal to the other members of the room. It is never persisted.
func (g *Gateway) relayTyping(ctx context.Context, s Session, p TypingPayload) error {
	userID := s.UserID()
	if err := g.authorize(ctx, p.ConversationID, userID); err != nil {
		return err
	}

	if p.IsTyping {
		if _, err := g.typing.Start(ctx, p.ConversationID, userID); err != nil {
			return err
		}
	} else {
		changed, err := g.typing.Stop(ctx, p.ConversationID, userID)
		if err != nil || !changed {
			return err
		}
	}

	g.publishTyping(ctx, p.ConversationID, userID, p.IsTyping)
	return nil
}

func (g *Gateway) publishTyping(ctx context.Context, conversationID, userID int64, isTyping bool) {
	g.publish(ctx,
		realtime.Envelope{Room: realtime.ConversationRoom(conversationID), SkipUserID: userID},
		EventTyping,
		TypingEvent{UserID: userID, IsTyping: isTyping, ConversationID: conversationID})
}

// stopTyping clears a typing entry and tells the room when one existed.
func (g *Gateway) stopTyping(ctx context.Context, conversationID, userID int64) {
	changed, err := g.typing.Stop(ctx, conversationID, userID)
	if err != nil {
		g.log.Debug("typing stop failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
		return
	}
	if changed {
		g.publishTyping(ctx, conversationID, userID, false)
	}
}

func (g *Gateway) typingExpired(conversationID, userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()
	g.publishTyping(ctx, conversationID, userID, false)
}

func (g *Gateway) toggleReaction(ctx context.Context, s Session, p ReactionPayload) (any, error) {
	if p.MessageID <= 0 {
		return nil, fmt.Errorf("message id required: %w", potluck_errors.ErrInvalidInput)
	}
	res, err := g.messages.ToggleReaction(ctx, s.UserID(), p.ConversationID, p.MessageID, p.Reaction)
	if err != nil {
		return nil, err
	}

	event := MessageReactionEvent{Result: ReactionResult{Message: ReactionMessage{
		ID:             res.MessageID,
		ConversationID: res.ConversationID,
		Reactions:      nonNilReactions(res.Reactions),
	}}}
	g.publish(ctx, realtime.Envelope{Room: realtime.ConversationRoom(res.ConversationID)}, EventMessageReaction, event)
	g.emitEvent(reactionEventType(res.Change), events.AggregateTypeReaction, res.MessageID, map[string]any{
		"messageId":      res.MessageID,
		"conversationId": res.ConversationID,
		"userId":         s.UserID(),
		"emoji":          res.Emoji,
	})
	return event.Result, nil
}

func reactionEventType(change message.ReactionChange) string {
	switch change {
	case message.ReactionRemoved:
		return events.EventTypeReactionRemoved
	case message.ReactionReplaced:
		return events.EventTypeReactionReplaced
	default:
		return events.EventTypeReactionAdded
	}
}

func nonNilReactions(r []message.Reaction) []message.Reaction {
	if r == nil {
		return []message.Reaction{}
	}
	return r
}

func (g *Gateway) markAsSeen(ctx context.Context, s Session, p ConversationPayload) (any, error) {
	userID := s.UserID()
	res, err := g.messages.MarkSeen(ctx, userID, p.ConversationID)
	if err != nil {
		return nil, err
	}
	if !res.Changed {
		return nil, nil
	}

	event := MessageSeenEvent{ConversationID: res.ConversationID, User: res.User}
	for _, m := range res.Messages {
		event.Messages = append(event.Messages, SeenMessage{ID: m.ID, SeenBy: m.SeenBy})
	}
	g.publish(ctx, realtime.Envelope{Room: realtime.ConversationRoom(res.ConversationID)}, EventMessageSeen, event)
	// the user's other tabs refresh their unread badge
	g.publish(ctx, realtime.Envelope{Room: realtime.UserRoom(userID)}, EventConversationUpdate,
		ConversationUpdateEvent{ConversationID: res.ConversationID})
	g.emitEvent(events.EventTypeReceiptRead, events.AggregateTypeMessageReceipt, res.ConversationID, map[string]any{
		"conversationId": res.ConversationID,
		"userId":         userID,
	})
	return nil, nil
}

func (g *Gateway) deleteMessage(ctx context.Context, s Session, p MessageRefPayload) (any, error) {
	if p.MessageID <= 0 {
		return nil, fmt.Errorf("message id required: %w", potluck_errors.ErrInvalidInput)
	}
	msg, err := g.messages.Delete(ctx, s.UserID(), p.ConversationID, p.MessageID)
	if err != nil {
		return nil, err
	}

	event := MessageDeletedEvent{ID: msg.ID, ConversationID: msg.ConversationID}
	g.publish(ctx, realtime.Envelope{Room: realtime.ConversationRoom(msg.ConversationID)}, EventMessageDeleted, event)
	g.updates.Trigger(msg.ConversationID)
	g.emitEvent(events.EventTypeMessageDeleted, events.AggregateTypeMessage, msg.ID, event)
	return event, nil
}

// onlineUsers answers through the ack when one was requested, otherwise with an
// online_users frame.
func (g *Gateway) onlineUsers(ctx context.Context, s Session, pushFrame bool) (any, error) {
	ids, err := g.presence.OnlineUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", potluck_errors.ErrStoreUnavailable, err)
	}
	if ids == nil {
		ids = []int64{}
	}
	reply := OnlineUsersReply{OnlineUsers: ids}
	if pushFrame {
		g.send(s, EventOnlineUsers, reply)
		return nil, nil
	}
	return reply, nil
}

func (g *Gateway) viewConversation(ctx context.Context, s Session, p ViewPayload) error {
	if p.ConversationID == nil || *p.ConversationID == 0 {
		s.SetViewing(0)
		return nil
	}
	if err := g.authorize(ctx, *p.ConversationID, s.UserID()); err != nil {
		return err
	}
	s.SetViewing(*p.ConversationID)
	return nil
}

func (g *Gateway) authorize(ctx context.Context, conversationID, userID int64) error {
	if conversationID <= 0 {
		return fmt.Errorf("conversation id required: %w", potluck_errors.ErrInvalidInput)
	}
	ok, err := g.members.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return potluck_errors.ErrForbidden
	}
	return nil
}

// announcePresence tells every user sharing a conversation with userID.
func (g *Gateway) announcePresence(ctx context.Context, userID int64, conversationIDs []int64, event string) {
	peers := make(map[int64]struct{})
	for _, convID := range conversationIDs {
		ids, err := g.members.MemberIDs(ctx, convID)
		if err != nil {
			g.log.Warn("load peers failed", zap.Int64("conversation_id", convID), zap.Error(err))
			continue
		}
		for _, id := range ids {
			if id != userID {
				peers[id] = struct{}{}
			}
		}
	}
	for id := range peers {
		g.publish(ctx, realtime.Envelope{Room: realtime.UserRoom(id)}, event, PresenceEvent{UserID: userID})
	}
}

// flushConversationUpdate runs once per coalescing window and skips tabs already
// showing the conversation.
func (g *Gateway) flushConversationUpdate(conversationID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()
	g.publish(ctx,
		realtime.Envelope{Room: realtime.ConversationRoom(conversationID), SkipViewersOf: conversationID},
		EventConversationUpdate,
		ConversationUpdateEvent{ConversationID: conversationID})
}

// ConversationCreated joins every live connection of the members to the new room,
// wherever it is held, and asks them to refresh their lists.
func (g *Gateway) ConversationCreated(ctx context.Context, conversationID int64, memberIDs []int64) {
	room := realtime.ConversationRoom(conversationID)
	for _, id := range memberIDs {
		g.publish(ctx,
			realtime.Envelope{Room: realtime.UserRoom(id), Join: room},
			EventConversationUpdate,
			ConversationUpdateEvent{ConversationID: conversationID})
	}
	g.emitEvent(events.EventTypeConversationCreated, events.AggregateTypeConversation, conversationID, map[string]any{
		"conversationId": conversationID,
		"memberIds":      memberIDs,
	})
}

func (g *Gateway) ConversationUpdated(ctx context.Context, conversationID int64) {
	g.publish(ctx,
		realtime.Envelope{Room: realtime.ConversationRoom(conversationID)},
		EventConversationUpdate,
		ConversationUpdateEvent{ConversationID: conversationID})
	g.emitEvent(events.EventTypeConversationUpdated, events.AggregateTypeConversation, conversationID, map[string]any{
		"conversationId": conversationID,
	})
}
