package repository

import (
	"context"
	"time"

	"potluck-chat/internal/domain/conversation"
	"potluck-chat/internal/domain/message"
	"potluck-chat/internal/domain/user"
)

// MembershipStore answers who belongs to a conversation. It is the only view of
// conversations the real-time gateway needs.
type MembershipStore interface {
	MemberIDs(ctx context.Context, conversationID int64) ([]int64, error)
	ConversationIDs(ctx context.Context, userID int64) ([]int64, error)
	IsMember(ctx context.Context, conversationID, userID int64) (bool, error)
}

type ConversationRepository interface {
	MembershipStore

	Create(ctx context.Context, c *conversation.Conversation) error
	GetByID(ctx context.Context, id int64) (conversation.Conversation, error)
	Update(ctx context.Context, c conversation.Conversation) error
	GetUserConversations(ctx context.Context, userID int64) ([]conversation.Conversation, error)
	FindDirect(ctx context.Context, userID1, userID2 int64) (conversation.Conversation, error)

	GetMember(ctx context.Context, conversationID, userID int64) (conversation.Member, error)
	RecordActivity(ctx context.Context, conversationID, userID int64, at time.Time) error
	// AdvanceSeenWatermark moves the member's watermark forward only. It reports false
	// when messageID is not newer than the stored watermark.
	AdvanceSeenWatermark(ctx context.Context, conversationID, userID, messageID int64) (bool, error)
}

type MessageRepository interface {
	Create(ctx context.Context, m *message.Message) error
	GetByID(ctx context.Context, id int64) (message.Message, error)
	GetByIDs(ctx context.Context, ids []int64) ([]message.Message, error)
	Delete(ctx context.Context, id int64) error

	// GetConversationMessages returns one page ordered newest first.
	GetConversationMessages(ctx context.Context, conversationID int64, page, limit int) ([]message.Message, int64, error)
	SearchMessages(ctx context.Context, conversationID int64, query string, page, limit int) ([]message.Message, int64, error)
	GetLatestMessage(ctx context.Context, conversationID int64) (message.Message, error)
	CountUnread(ctx context.Context, conversationID, userID, afterMessageID int64) (int64, error)

	GetReactions(ctx context.Context, messageID int64) ([]message.Reaction, error)
	// SetUserReaction replaces the user's reaction on a message; nil removes it.
	SetUserReaction(ctx context.Context, messageID, userID int64, r *message.Reaction) error

	// MoveSeenRecord keeps a single seen record per user and conversation, pointing at
	// messageID. It returns the message ids whose seen lists changed.
	MoveSeenRecord(ctx context.Context, conversationID, userID, messageID int64, at time.Time) ([]int64, error)
	GetSeenRecords(ctx context.Context, messageIDs []int64) ([]message.SeenRecord, error)
}

type UserRepository interface {
	Create(ctx context.Context, u *user.User) error
	GetUserByID(ctx context.Context, id int64) (user.User, error)
	GetUsersByIDs(ctx context.Context, ids []int64) ([]user.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]user.User, error)
}
