package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"potluck-chat/config"
	"potluck-chat/internal/repository"
	"potluck-chat/pkg/database"

	"gorm.io/gorm"
)

const usage = `
Potluck Chat - Database CLI Tool

Usage:
  migrate [command]

Commands:
  up          Create or update all tables
  down        Drop all tables owned by the messaging core
  status      Show database connection status and row counts
  seed-dev    Seed with development/test data
  reset       Drop all tables and re-run migrations (DANGEROUS)

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go seed-dev
`

func main() {
	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	cfg := config.LoadConfig()
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer database.Close(db)

	switch command {
	case "up":
		runMigrationsUp(db)
	case "down":
		runMigrationsDown(db)
	case "status":
		showStatus(db)
	case "seed-dev":
		runSeedDevelopment(db)
	case "reset":
		runMigrationsDown(db)
		runMigrationsUp(db)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func runMigrationsUp(db *gorm.DB) {
	log.Println("🚀 Running migrations UP...")
	if err := repository.InitSchema(db); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Migrations completed successfully!")
}

func runMigrationsDown(db *gorm.DB) {
	log.Println("⬇️  Dropping tables...")
	if err := repository.DropSchema(db); err != nil {
		log.Fatalf("❌ Rollback failed: %v", err)
	}
	log.Println("✅ Rollback completed successfully!")
}

func showStatus(db *gorm.DB) {
	log.Println("🔍 Checking database status...")

	if err := database.Ping(context.Background(), db); err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	log.Println("✅ Database connection: OK")

	tables := []string{"users", "conversations", "conversation_members", "messages", "message_reactions", "message_seen"}
	for _, table := range tables {
		if !db.Migrator().HasTable(table) {
			log.Printf("❌ Table %-22s does not exist", table)
			continue
		}
		var count int64
		db.Table(table).Count(&count)
		log.Printf("✅ Table %-22s exists (%d rows)", table, count)
	}
}

func runSeedDevelopment(db *gorm.DB) {
	log.Println("🌱 Seeding database (development mode)...")

	result, err := database.SeedDevelopment(context.Background(), db)
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Println("📊 Seed Summary:")
	log.Printf("   - Users: %d", len(result.Users))
	log.Printf("   - Conversations: %d", len(result.Conversations))
	log.Printf("   - Messages: %d", len(result.Messages))
	log.Println("✅ Development seeding completed!")
}
