package repository

import (
	"context"
	"strings"
	"time"

	"potluck-chat/internal/domain/message"
	potluck_errors "potluck-chat/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) withRelations(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Sender").
		Preload("Reactions", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Reactions.User").
		Preload("SeenBy", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("SeenBy.User")
}

func (r *PostgresMessageRepository) Create(ctx context.Context, m *message.Message) error {
	res := r.db.WithContext(ctx).
		Omit("Sender", "Reactions", "SeenBy").
		Create(m)
	if res.Error != nil {
		return mapError(res.Error)
	}
	return nil
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id int64) (message.Message, error) {
	var m message.Message
	err := r.withRelations(r.db.WithContext(ctx)).
		Where("id = ?", id).
		First(&m).Error
	if err != nil {
		return message.Message{}, mapError(err)
	}
	msgs := []message.Message{m}
	if err := r.attachReplies(ctx, msgs); err != nil {
		return message.Message{}, err
	}
	return msgs[0], nil
}

func (r *PostgresMessageRepository) GetByIDs(ctx context.Context, ids []int64) ([]message.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var msgs []message.Message
	err := r.withRelations(r.db.WithContext(ctx)).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, mapError(err)
	}
	if err := r.attachReplies(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Delete removes the message with its reactions and seen records. Replies keep their
// reply_of pointer.
func (r *PostgresMessageRepository) Delete(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", id).Delete(&message.Reaction{}).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id = ?", id).Delete(&message.SeenRecord{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&message.Message{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return potluck_errors.ErrNotFound
		}
		return nil
	})
	return mapError(err)
}

func (r *PostgresMessageRepository) GetConversationMessages(ctx context.Context, conversationID int64, page, limit int) ([]message.Message, int64, error) {
	return r.page(ctx, r.db.WithContext(ctx).Where("conversation_id = ?", conversationID), page, limit)
}

func (r *PostgresMessageRepository) SearchMessages(ctx context.Context, conversationID int64, query string, page, limit int) ([]message.Message, int64, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	scope := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Where("LOWER(content) LIKE ? ESCAPE '\\'", pattern)
	return r.page(ctx, scope, page, limit)
}

func (r *PostgresMessageRepository) page(ctx context.Context, scope *gorm.DB, page, limit int) ([]message.Message, int64, error) {
	page, limit = normalizePage(page, limit)

	var total int64
	if err := scope.Session(&gorm.Session{}).Model(&message.Message{}).Count(&total).Error; err != nil {
		return nil, 0, mapError(err)
	}

	var msgs []message.Message
	err := r.withRelations(scope.Session(&gorm.Session{})).
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, 0, mapError(err)
	}
	if err := r.attachReplies(ctx, msgs); err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

func (r *PostgresMessageRepository) GetLatestMessage(ctx context.Context, conversationID int64) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).
		Preload("Sender").
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Order("id DESC").
		First(&m).Error
	if err != nil {
		return message.Message{}, mapError(err)
	}
	return m, nil
}

// CountUnread counts messages from other senders newer than the watermark.
func (r *PostgresMessageRepository) CountUnread(ctx context.Context, conversationID, userID, afterMessageID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("conversation_id = ? AND id > ? AND sender_id <> ?", conversationID, afterMessageID, userID).
		Count(&count).Error
	if err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

func (r *PostgresMessageRepository) GetReactions(ctx context.Context, messageID int64) ([]message.Reaction, error) {
	var reactions []message.Reaction
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("message_id = ?", messageID).
		Order("id ASC").
		Find(&reactions).Error
	if err != nil {
		return nil, mapError(err)
	}
	return reactions, nil
}

func (r *PostgresMessageRepository) SetUserReaction(ctx context.Context, messageID, userID int64, reaction *message.Reaction) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ? AND user_id = ?", messageID, userID).
			Delete(&message.Reaction{}).Error; err != nil {
			return err
		}
		if reaction == nil {
			return nil
		}
		reaction.ID = 0
		reaction.MessageID = messageID
		reaction.UserID = userID
		return tx.Omit("User").Create(reaction).Error
	})
	return mapError(err)
}

func (r *PostgresMessageRepository) MoveSeenRecord(ctx context.Context, conversationID, userID, messageID int64, at time.Time) ([]int64, error) {
	var changed []int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var previous []int64
		err := tx.Model(&message.SeenRecord{}).
			Where("user_id = ? AND message_id IN (?)", userID,
				tx.Model(&message.Message{}).Select("id").Where("conversation_id = ?", conversationID)).
			Pluck("message_id", &previous).Error
		if err != nil {
			return err
		}
		if len(previous) > 0 {
			if err := tx.Where("user_id = ? AND message_id IN ?", userID, previous).
				Delete(&message.SeenRecord{}).Error; err != nil {
				return err
			}
		}
		rec := message.SeenRecord{MessageID: messageID, UserID: userID, CreatedAt: at}
		if err := tx.Omit("User").
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&rec).Error; err != nil {
			return err
		}
		changed = mergeIDs(previous, messageID)
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return changed, nil
}

func (r *PostgresMessageRepository) GetSeenRecords(ctx context.Context, messageIDs []int64) ([]message.SeenRecord, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var records []message.SeenRecord
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("message_id IN ?", messageIDs).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, mapError(err)
	}
	return records, nil
}

// attachReplies resolves ReplyTo for messages whose original still exists.
func (r *PostgresMessageRepository) attachReplies(ctx context.Context, msgs []message.Message) error {
	var ids []int64
	for _, m := range msgs {
		if m.ReplyOf != nil {
			ids = append(ids, *m.ReplyOf)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	var originals []message.Message
	err := r.db.WithContext(ctx).
		Preload("Sender").
		Where("id IN ?", ids).
		Find(&originals).Error
	if err != nil {
		return mapError(err)
	}
	byID := make(map[int64]*message.Message, len(originals))
	for i := range originals {
		byID[originals[i].ID] = &originals[i]
	}
	for i := range msgs {
		if msgs[i].ReplyOf == nil {
			continue
		}
		if orig, ok := byID[*msgs[i].ReplyOf]; ok {
			msgs[i].ReplyTo = orig
		}
	}
	return nil
}

func mergeIDs(ids []int64, id int64) []int64 {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
