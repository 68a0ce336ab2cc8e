package conversation

import (
	"sort"
	"strings"
	"time"

	"potluck-chat/internal/domain/message"
	"potluck-chat/internal/domain/user"
)

// Conversation represents the conversations table
type Conversation struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      *string   `gorm:"type:text" json:"name"`
	Avatar    *string   `gorm:"type:text" json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Relationships
	Members []Member `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"members"`

	// Per-viewer projections, filled by the service layer.
	Title       string           `gorm:"-" json:"title"`
	LastMessage *message.Message `gorm:"-" json:"lastMessage"`
	UnreadCount int64            `gorm:"-" json:"unreadCount"`
}

// Member represents conversation_members. The user projection is owned by the user
// aggregate and only referenced here.
type Member struct {
	ConversationID    int64     `gorm:"primaryKey;autoIncrement:false" json:"-"`
	UserID            int64     `gorm:"primaryKey;autoIncrement:false;index" json:"userId"`
	JoinedAt          time.Time `json:"joinedAt"`
	LastActiveAt      time.Time `gorm:"index" json:"lastActiveAt"`
	LastSeenMessageID int64     `gorm:"default:0" json:"lastSeenMessageId"`

	User user.User `gorm:"foreignKey:UserID" json:"user"`
}

func (Conversation) TableName() string {
	return "conversations"
}

func (Member) TableName() string {
	return "conversation_members"
}

// MemberIDs returns the member user ids in membership order.
func (c Conversation) MemberIDs() []int64 {
	ids := make([]int64, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// HasMember reports whether userID belongs to the conversation.
func (c Conversation) HasMember(userID int64) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// IsDirect reports whether this is an unnamed two-person conversation.
func (c Conversation) IsDirect() bool {
	return (c.Name == nil || strings.TrimSpace(*c.Name) == "") && len(c.Members) == 2
}

// DisplayName derives the title a viewer sees. A direct conversation always shows the
// other member; unnamed groups join the names of everyone but the viewer.
func (c Conversation) DisplayName(viewerID int64) string {
	if !c.IsDirect() && c.Name != nil && strings.TrimSpace(*c.Name) != "" {
		return *c.Name
	}
	var names []string
	for _, m := range c.Members {
		if m.UserID == viewerID {
			continue
		}
		names = append(names, m.User.FullName())
	}
	return strings.Join(names, ", ")
}

// SortMembersByRecency orders members most recently active first.
func (c *Conversation) SortMembersByRecency() {
	sort.SliceStable(c.Members, func(i, j int) bool {
		return c.Members[i].LastActiveAt.After(c.Members[j].LastActiveAt)
	})
}

// NormalizeMemberIDs deduplicates ids, drops non-positive ones and ensures the creator is
// present as the first member.
func NormalizeMemberIDs(creatorID int64, ids []int64) []int64 {
	seen := map[int64]struct{}{creatorID: {}}
	out := []int64{creatorID}
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
