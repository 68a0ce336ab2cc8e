package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"potluck-chat/internal/domain/message"
	"potluck-chat/internal/domain/user"
	"potluck-chat/internal/repository"
	potluck_errors "potluck-chat/pkg/errors"

	"go.uber.org/zap"
)

type MessageService struct {
	messages      repository.MessageRepository
	conversations repository.ConversationRepository
	users         repository.UserRepository
	members       repository.MembershipStore
	log           *zap.Logger
	now           func() time.Time
}

// NewMessageService wires the stores. members answers authorization checks and may be a
// cache in front of conversations; nil falls back to the conversation repository.
func NewMessageService(messages repository.MessageRepository, conversations repository.ConversationRepository, users repository.UserRepository, members repository.MembershipStore) *MessageService {
	if members == nil {
		members = conversations
	}
	return &MessageService{
		messages:      messages,
		conversations: conversations,
		users:         users,
		members:       members,
		log:           zap.NewNop(),
		now:           time.Now,
	}
}

func (s *MessageService) SetLogger(l *zap.Logger) {
	s.log = l
}

type SendInput struct {
	ConversationID int64
	Content        string
	Type           message.Type
	ReplyOf        *int64
	ClientID       *string
}

// ReactionResult is the post-toggle reaction aggregate of one message.
type ReactionResult struct {
	MessageID      int64
	ConversationID int64
	Change         message.ReactionChange
	Emoji          string
	Reactions      []message.Reaction
}

// SeenResult carries what changed when a user's watermark moved. Changed is false when
// there was nothing new to mark.
type SeenResult struct {
	ConversationID int64
	User           user.User
	Messages       []message.Message
	Changed        bool
}

// Authorize fails with ErrForbidden unless userID belongs to the conversation.
func (s *MessageService) Authorize(ctx context.Context, conversationID, userID int64) error {
	if conversationID <= 0 {
		return fmt.Errorf("conversation id required: %w", potluck_errors.ErrInvalidInput)
	}
	ok, err := s.members.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return potluck_errors.ErrForbidden
	}
	return nil
}

func (s *MessageService) Send(ctx context.Context, senderID int64, in SendInput) (message.Message, error) {
	if err := message.ValidateContent(in.Type, in.Content); err != nil {
		return message.Message{}, err
	}
	if err := s.Authorize(ctx, in.ConversationID, senderID); err != nil {
		return message.Message{}, err
	}

	replyOf, err := s.resolveReply(ctx, in.ConversationID, in.ReplyOf)
	if err != nil {
		return message.Message{}, err
	}

	if in.ClientID != nil && strings.TrimSpace(*in.ClientID) == "" {
		in.ClientID = nil
	}

	now := s.now()
	msg := message.Message{
		ConversationID: in.ConversationID,
		SenderID:       senderID,
		ClientID:       in.ClientID,
		Content:        in.Content,
		Type:           in.Type,
		ReplyOf:        replyOf,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.messages.Create(ctx, &msg); err != nil {
		return message.Message{}, err
	}

	if err := s.conversations.RecordActivity(ctx, in.ConversationID, senderID, now); err != nil {
		s.log.Warn("record conversation activity failed",
			zap.Int64("conversation_id", in.ConversationID), zap.Int64("user_id", senderID), zap.Error(err))
	}

	return s.messages.GetByID(ctx, msg.ID)
}

// resolveReply points replies-to-replies at the single original message.
func (s *MessageService) resolveReply(ctx context.Context, conversationID int64, replyOf *int64) (*int64, error) {
	if replyOf == nil || *replyOf <= 0 {
		return nil, nil
	}
	original, err := s.messages.GetByID(ctx, *replyOf)
	if err != nil {
		return nil, err
	}
	if original.ConversationID != conversationID {
		return nil, fmt.Errorf("reply target belongs to another conversation: %w", potluck_errors.ErrInvalidInput)
	}
	if original.ReplyOf != nil {
		root := *original.ReplyOf
		return &root, nil
	}
	id := original.ID
	return &id, nil
}

func (s *MessageService) ToggleReaction(ctx context.Context, userID, conversationID, messageID int64, emoji string) (ReactionResult, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return ReactionResult{}, fmt.Errorf("reaction required: %w", potluck_errors.ErrInvalidInput)
	}
	if err := s.Authorize(ctx, conversationID, userID); err != nil {
		return ReactionResult{}, err
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return ReactionResult{}, err
	}
	if msg.ConversationID != conversationID {
		return ReactionResult{}, potluck_errors.ErrNotFound
	}

	_, change := message.ToggleReaction(msg.Reactions, messageID, userID, emoji, s.now())

	var next *message.Reaction
	if change != message.ReactionRemoved {
		next = &message.Reaction{Emoji: emoji, CreatedAt: s.now()}
	}
	if err := s.messages.SetUserReaction(ctx, messageID, userID, next); err != nil {
		return ReactionResult{}, err
	}

	reactions, err := s.messages.GetReactions(ctx, messageID)
	if err != nil {
		return ReactionResult{}, err
	}
	return ReactionResult{
		MessageID:      messageID,
		ConversationID: conversationID,
		Change:         change,
		Emoji:          emoji,
		Reactions:      reactions,
	}, nil
}

// MarkSeen moves the user's watermark to the latest message of the conversation. Calling
// it again without new messages changes nothing.
func (s *MessageService) MarkSeen(ctx context.Context, userID, conversationID int64) (SeenResult, error) {
	result := SeenResult{ConversationID: conversationID}
	if err := s.Authorize(ctx, conversationID, userID); err != nil {
		return result, err
	}

	latest, err := s.messages.GetLatestMessage(ctx, conversationID)
	if errors.Is(err, potluck_errors.ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return result, err
	}

	moved, err := s.conversations.AdvanceSeenWatermark(ctx, conversationID, userID, latest.ID)
	if err != nil || !moved {
		return result, err
	}

	changed, err := s.messages.MoveSeenRecord(ctx, conversationID, userID, latest.ID, s.now())
	if err != nil {
		return result, err
	}
	msgs, err := s.messages.GetByIDs(ctx, changed)
	if err != nil {
		return result, err
	}
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return result, err
	}

	result.User = u
	result.Messages = msgs
	result.Changed = true
	return result, nil
}

// Delete removes a message its caller sent. Replies keep their dangling replyOf.
func (s *MessageService) Delete(ctx context.Context, userID, conversationID, messageID int64) (message.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if conversationID != 0 && msg.ConversationID != conversationID {
		return message.Message{}, potluck_errors.ErrNotFound
	}
	if msg.SenderID != userID {
		return message.Message{}, potluck_errors.ErrForbidden
	}
	if err := s.messages.Delete(ctx, messageID); err != nil {
		return message.Message{}, err
	}
	return msg, nil
}

// History returns one page of the conversation ordered oldest to newest.
func (s *MessageService) History(ctx context.Context, userID, conversationID int64, page, limit int) ([]message.Message, int64, error) {
	if err := s.Authorize(ctx, conversationID, userID); err != nil {
		return nil, 0, err
	}
	msgs, total, err := s.messages.GetConversationMessages(ctx, conversationID, page, limit)
	if err != nil {
		return nil, 0, err
	}
	reverse(msgs)
	return msgs, total, nil
}

func (s *MessageService) Search(ctx context.Context, userID, conversationID int64, query string, page, limit int) ([]message.Message, int64, error) {
	if strings.TrimSpace(query) == "" {
		return nil, 0, fmt.Errorf("search query required: %w", potluck_errors.ErrInvalidInput)
	}
	if err := s.Authorize(ctx, conversationID, userID); err != nil {
		return nil, 0, err
	}
	return s.messages.SearchMessages(ctx, conversationID, query, page, limit)
}

// UnreadCount counts messages from others after the user's watermark.
func (s *MessageService) UnreadCount(ctx context.Context, userID, conversationID int64) (int64, error) {
	member, err := s.conversations.GetMember(ctx, conversationID, userID)
	if errors.Is(err, potluck_errors.ErrNotFound) {
		return 0, potluck_errors.ErrForbidden
	}
	if err != nil {
		return 0, err
	}
	return s.messages.CountUnread(ctx, conversationID, userID, member.LastSeenMessageID)
}

func reverse(msgs []message.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
