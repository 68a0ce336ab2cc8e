package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"potluck-chat/internal/domain/conversation"
	"potluck-chat/internal/repository"
	potluck_errors "potluck-chat/pkg/errors"

	"go.uber.org/zap"
)

// ConversationNotifier is told about membership and metadata changes so live
// connections can follow them.
type ConversationNotifier interface {
	ConversationCreated(ctx context.Context, conversationID int64, memberIDs []int64)
	ConversationUpdated(ctx context.Context, conversationID int64)
}

// MembershipInvalidator drops cached membership after it changes.
type MembershipInvalidator interface {
	InvalidateConversation(ctx context.Context, conversationID int64, userIDs ...int64) error
}

type ConversationService struct {
	repo        repository.ConversationRepository
	messages    repository.MessageRepository
	users       repository.UserRepository
	notifier    ConversationNotifier
	invalidator MembershipInvalidator
	log         *zap.Logger
}

func NewConversationService(repo repository.ConversationRepository, messages repository.MessageRepository, users repository.UserRepository) *ConversationService {
	return &ConversationService{repo: repo, messages: messages, users: users, log: zap.NewNop()}
}

func (s *ConversationService) SetLogger(l *zap.Logger) {
	s.log = l
}

func (s *ConversationService) SetNotifier(n ConversationNotifier) {
	s.notifier = n
}

func (s *ConversationService) SetInvalidator(inv MembershipInvalidator) {
	s.invalidator = inv
}

type CreateConversationInput struct {
	Name      *string
	Avatar    *string
	MemberIDs []int64
}

type UpdateConversationInput struct {
	Name   *string
	Avatar *string
}

// List returns the viewer's conversations, most recently active first, with the
// per-viewer projections filled.
func (s *ConversationService) List(ctx context.Context, viewerID int64) ([]conversation.Conversation, error) {
	convs, err := s.repo.GetUserConversations(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	for i := range convs {
		if err := s.project(ctx, &convs[i], viewerID); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

func (s *ConversationService) Get(ctx context.Context, viewerID, conversationID int64) (conversation.Conversation, error) {
	c, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if !c.HasMember(viewerID) {
		return conversation.Conversation{}, potluck_errors.ErrForbidden
	}
	if err := s.project(ctx, &c, viewerID); err != nil {
		return conversation.Conversation{}, err
	}
	return c, nil
}

// Create opens a conversation between the creator and the given users. An unnamed
// conversation between two users that already exists is returned as is, with created
// reported false.
func (s *ConversationService) Create(ctx context.Context, creatorID int64, in CreateConversationInput) (conversation.Conversation, bool, error) {
	ids := conversation.NormalizeMemberIDs(creatorID, in.MemberIDs)
	if len(ids) < 2 {
		return conversation.Conversation{}, false, fmt.Errorf("a conversation needs another member: %w", potluck_errors.ErrInvalidInput)
	}

	users, err := s.users.GetUsersByIDs(ctx, ids)
	if err != nil {
		return conversation.Conversation{}, false, err
	}
	if len(users) != len(ids) {
		return conversation.Conversation{}, false, fmt.Errorf("unknown member: %w", potluck_errors.ErrNotFound)
	}

	name := trimmedOrNil(in.Name)
	if name == nil && len(ids) == 2 {
		existing, err := s.repo.FindDirect(ctx, ids[0], ids[1])
		switch {
		case err == nil:
			c, err := s.Get(ctx, creatorID, existing.ID)
			return c, false, err
		case !errors.Is(err, potluck_errors.ErrNotFound):
			return conversation.Conversation{}, false, err
		}
	}

	c := conversation.Conversation{Name: name, Avatar: trimmedOrNil(in.Avatar)}
	for _, id := range ids {
		c.Members = append(c.Members, conversation.Member{UserID: id})
	}
	if err := s.repo.Create(ctx, &c); err != nil {
		return conversation.Conversation{}, false, err
	}

	if s.invalidator != nil {
		if err := s.invalidator.InvalidateConversation(ctx, c.ID, ids...); err != nil {
			s.log.Warn("membership cache invalidation failed", zap.Int64("conversation_id", c.ID), zap.Error(err))
		}
	}
	if s.notifier != nil {
		s.notifier.ConversationCreated(ctx, c.ID, ids)
	}

	created, err := s.Get(ctx, creatorID, c.ID)
	return created, true, err
}

// Update renames or re-avatars a conversation. A blank name clears it.
func (s *ConversationService) Update(ctx context.Context, viewerID, conversationID int64, in UpdateConversationInput) (conversation.Conversation, error) {
	c, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if !c.HasMember(viewerID) {
		return conversation.Conversation{}, potluck_errors.ErrForbidden
	}

	if in.Name != nil {
		c.Name = trimmedOrNil(in.Name)
	}
	if in.Avatar != nil {
		c.Avatar = trimmedOrNil(in.Avatar)
	}
	if err := s.repo.Update(ctx, c); err != nil {
		return conversation.Conversation{}, err
	}

	if s.notifier != nil {
		s.notifier.ConversationUpdated(ctx, conversationID)
	}
	return s.Get(ctx, viewerID, conversationID)
}

func (s *ConversationService) project(ctx context.Context, c *conversation.Conversation, viewerID int64) error {
	c.SortMembersByRecency()
	c.Title = c.DisplayName(viewerID)

	latest, err := s.messages.GetLatestMessage(ctx, c.ID)
	switch {
	case err == nil:
		c.LastMessage = &latest
	case errors.Is(err, potluck_errors.ErrNotFound):
		c.LastMessage = nil
	default:
		return err
	}

	var watermark int64
	for _, m := range c.Members {
		if m.UserID == viewerID {
			watermark = m.LastSeenMessageID
			break
		}
	}
	unread, err := s.messages.CountUnread(ctx, c.ID, viewerID, watermark)
	if err != nil {
		return err
	}
	c.UnreadCount = unread
	return nil
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
