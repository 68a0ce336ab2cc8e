package message

import (
	"time"

	"potluck-chat/internal/domain/user"
)

type Type string

const (
	TypeText   Type = "TEXT"
	TypeMedia  Type = "MEDIA"
	TypePost   Type = "POST"
	TypeRecipe Type = "RECIPE"
)

// Valid reports whether t is one of the four message kinds.
func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeMedia, TypePost, TypeRecipe:
		return true
	}
	return false
}

// Message represents the messages table. A message is immutable after creation except
// for its reactions and seen records.
type Message struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	ConversationID int64     `gorm:"index:idx_messages_conversation_id_id,priority:1;not null" json:"conversationId"`
	SenderID       int64     `gorm:"index;not null" json:"senderId"`
	ClientID       *string   `gorm:"type:text;index" json:"clientId,omitempty"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Type           Type      `gorm:"type:varchar(16);not null" json:"type"`
	ReplyOf        *int64    `gorm:"index" json:"replyOf"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`

	Sender    user.User    `gorm:"foreignKey:SenderID" json:"sender"`
	Reactions []Reaction   `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"reactions"`
	SeenBy    []SeenRecord `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"seenBy"`

	// ReplyTo is the original message when it still exists. A deleted original leaves
	// ReplyOf set and ReplyTo nil.
	ReplyTo *Message `gorm:"-" json:"replyTo"`
}

// Reaction represents message_reactions. At most one row per (message, user).
type Reaction struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	MessageID int64     `gorm:"uniqueIndex:idx_reactions_message_user,priority:1;not null" json:"messageId"`
	UserID    int64     `gorm:"uniqueIndex:idx_reactions_message_user,priority:2;not null" json:"userId"`
	Emoji     string    `gorm:"type:text;not null" json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`

	User user.User `gorm:"foreignKey:UserID" json:"user"`
}

// SeenRecord represents message_seen: the watermark event of one user in a conversation.
type SeenRecord struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	MessageID int64     `gorm:"uniqueIndex:idx_seen_message_user,priority:1;not null" json:"messageId"`
	UserID    int64     `gorm:"uniqueIndex:idx_seen_message_user,priority:2;not null" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`

	User user.User `gorm:"foreignKey:UserID" json:"user"`
}

func (Message) TableName() string {
	return "messages"
}

func (Reaction) TableName() string {
	return "message_reactions"
}

func (SeenRecord) TableName() string {
	return "message_seen"
}
