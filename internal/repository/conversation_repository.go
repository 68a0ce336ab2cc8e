package repository

import (
	"context"
	"time"

	"potluck-chat/internal/domain/conversation"
	potluck_errors "potluck-chat/pkg/errors"

	"gorm.io/gorm"
)

type PostgresConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &PostgresConversationRepository{db: db}
}

func (r *PostgresConversationRepository) Create(ctx context.Context, c *conversation.Conversation) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		members := c.Members
		c.Members = nil
		if err := tx.Omit("Members").Create(c).Error; err != nil {
			c.Members = members
			return err
		}
		now := c.CreatedAt
		for i := range members {
			members[i].ConversationID = c.ID
			if members[i].JoinedAt.IsZero() {
				members[i].JoinedAt = now
			}
			if members[i].LastActiveAt.IsZero() {
				members[i].LastActiveAt = now
			}
		}
		c.Members = members
		if len(members) == 0 {
			return nil
		}
		return tx.Omit("User").Create(&c.Members).Error
	})
	return mapError(err)
}

func (r *PostgresConversationRepository) GetByID(ctx context.Context, id int64) (conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("user_id ASC") }).
		Preload("Members.User").
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return conversation.Conversation{}, mapError(err)
	}
	return c, nil
}

func (r *PostgresConversationRepository) Update(ctx context.Context, c conversation.Conversation) error {
	res := r.db.WithContext(ctx).
		Model(&conversation.Conversation{}).
		Where("id = ?", c.ID).
		Updates(map[string]any{
			"name":       c.Name,
			"avatar":     c.Avatar,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return potluck_errors.ErrNotFound
	}
	return nil
}

// GetUserConversations lists the user's conversations, most recently active first.
func (r *PostgresConversationRepository) GetUserConversations(ctx context.Context, userID int64) ([]conversation.Conversation, error) {
	var convs []conversation.Conversation
	err := r.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("user_id ASC") }).
		Preload("Members.User").
		Joins("JOIN conversation_members cm ON cm.conversation_id = conversations.id").
		Where("cm.user_id = ?", userID).
		Order("conversations.updated_at DESC").
		Order("conversations.id DESC").
		Find(&convs).Error
	if err != nil {
		return nil, mapError(err)
	}
	return convs, nil
}

// FindDirect returns the unnamed conversation whose members are exactly the two users.
func (r *PostgresConversationRepository) FindDirect(ctx context.Context, userID1, userID2 int64) (conversation.Conversation, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Table("conversation_members AS cm").
		Select("cm.conversation_id").
		Joins("JOIN conversations c ON c.id = cm.conversation_id").
		Where("c.name IS NULL OR c.name = ''").
		Group("cm.conversation_id").
		Having("COUNT(*) = 2 AND SUM(CASE WHEN cm.user_id IN (?, ?) THEN 1 ELSE 0 END) = 2", userID1, userID2).
		Order("cm.conversation_id").
		Limit(1).
		Pluck("cm.conversation_id", &ids).Error
	if err != nil {
		return conversation.Conversation{}, mapError(err)
	}
	if len(ids) == 0 {
		return conversation.Conversation{}, potluck_errors.ErrNotFound
	}
	return r.GetByID(ctx, ids[0])
}

func (r *PostgresConversationRepository) MemberIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&conversation.Member{}).
		Where("conversation_id = ?", conversationID).
		Order("joined_at ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, mapError(err)
	}
	return ids, nil
}

func (r *PostgresConversationRepository) ConversationIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&conversation.Member{}).
		Where("user_id = ?", userID).
		Order("conversation_id ASC").
		Pluck("conversation_id", &ids).Error
	if err != nil {
		return nil, mapError(err)
	}
	return ids, nil
}

func (r *PostgresConversationRepository) IsMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&conversation.Member{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, mapError(err)
	}
	return count > 0, nil
}

func (r *PostgresConversationRepository) GetMember(ctx context.Context, conversationID, userID int64) (conversation.Member, error) {
	var m conversation.Member
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&m).Error
	if err != nil {
		return conversation.Member{}, mapError(err)
	}
	return m, nil
}

// RecordActivity bumps the conversation's updated_at and the member's last_active_at.
func (r *PostgresConversationRepository) RecordActivity(ctx context.Context, conversationID, userID int64, at time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&conversation.Conversation{}).
			Where("id = ?", conversationID).
			UpdateColumn("updated_at", at)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return potluck_errors.ErrNotFound
		}
		return tx.Model(&conversation.Member{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			UpdateColumn("last_active_at", at).Error
	})
	return mapError(err)
}

func (r *PostgresConversationRepository) AdvanceSeenWatermark(ctx context.Context, conversationID, userID, messageID int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&conversation.Member{}).
		Where("conversation_id = ? AND user_id = ? AND last_seen_message_id < ?", conversationID, userID, messageID).
		UpdateColumn("last_seen_message_id", messageID)
	if res.Error != nil {
		return false, mapError(res.Error)
	}
	return res.RowsAffected > 0, nil
}
