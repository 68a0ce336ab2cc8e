package repository

import (
	"fmt"

	"potluck-chat/internal/domain/conversation"
	"potluck-chat/internal/domain/message"
	"potluck-chat/internal/domain/user"

	"gorm.io/gorm"
)

// Models lists every table the messaging core owns or reads, in dependency order.
func Models() []any {
	return []any{
		&user.User{},
		&conversation.Conversation{},
		&conversation.Member{},
		&message.Message{},
		&message.Reaction{},
		&message.SeenRecord{},
	}
}

// InitSchema creates or updates the tables and indexes.
func InitSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}

// DropSchema drops all tables in reverse dependency order.
func DropSchema(db *gorm.DB) error {
	models := Models()
	for i := len(models) - 1; i >= 0; i-- {
		if err := db.Migrator().DropTable(models[i]); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}
	return nil
}
