package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"potluck-chat/internal/domain/conversation"
	"potluck-chat/internal/domain/message"
	"potluck-chat/internal/domain/user"

	"gorm.io/gorm"
)

// SeedResult holds the rows created by a development seed.
type SeedResult struct {
	Users         []user.User
	Conversations []conversation.Conversation
	Messages      []message.Message
}

// SeedDevelopment inserts a handful of users, a direct conversation and a group with a
// short history. Existing users are reused by username.
func SeedDevelopment(ctx context.Context, db *gorm.DB) (*SeedResult, error) {
	testUsers := []user.User{
		{Username: "alice", FirstName: "Alice", LastName: "Johnson"},
		{Username: "bob", FirstName: "Bob", LastName: "Smith"},
		{Username: "charlie", FirstName: "Charlie", LastName: "Brown"},
		{Username: "diana", FirstName: "Diana", LastName: "Prince"},
	}

	result := &SeedResult{}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range testUsers {
			var existing user.User
			err := tx.Where("username = ?", u.Username).First(&existing).Error
			if err == nil {
				log.Printf("Test user %s already exists, skipping", u.Username)
				result.Users = append(result.Users, existing)
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if err := tx.Create(&u).Error; err != nil {
				return fmt.Errorf("failed to create test user %s: %w", u.Username, err)
			}
			result.Users = append(result.Users, u)
			log.Printf("Test user seeded: %s", u.Username)
		}

		users := result.Users
		groupName := "Sunday potluck"
		convs := []conversation.Conversation{
			{Members: members(users[0], users[1])},
			{Name: &groupName, Members: members(users...)},
		}
		for i := range convs {
			if err := tx.Create(&convs[i]).Error; err != nil {
				return fmt.Errorf("failed to create conversation: %w", err)
			}
		}
		result.Conversations = convs

		now := time.Now().Add(-time.Hour)
		lines := []struct {
			conv   int
			sender int
			text   string
		}{
			{0, 0, "Are you bringing dessert?"},
			{0, 1, "Yes, a lemon tart"},
			{1, 2, "I'll handle drinks"},
			{1, 3, "Salad from me"},
		}
		for i, l := range lines {
			m := message.Message{
				ConversationID: convs[l.conv].ID,
				SenderID:       users[l.sender].ID,
				Content:        l.text,
				Type:           message.TypeText,
				CreatedAt:      now.Add(time.Duration(i) * time.Minute),
			}
			if err := tx.Omit("Sender", "Reactions", "SeenBy").Create(&m).Error; err != nil {
				return fmt.Errorf("failed to create message: %w", err)
			}
			result.Messages = append(result.Messages, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func members(users ...user.User) []conversation.Member {
	now := time.Now()
	out := make([]conversation.Member, 0, len(users))
	for _, u := range users {
		out = append(out, conversation.Member{UserID: u.ID, JoinedAt: now, LastActiveAt: now})
	}
	return out
}
