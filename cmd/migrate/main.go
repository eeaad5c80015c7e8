package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"orgmessenger/internal/config"
	"orgmessenger/internal/domain/chat"
	"orgmessenger/internal/domain/message"
	"orgmessenger/internal/domain/user"
	"orgmessenger/pkg/database"

	"gorm.io/gorm"
)

const usage = `
Org Messenger - Database CLI Tool

Usage:
  migrate [command]

Commands:
  up          Run schema migrations
  status      Show database connection status
  reset       Drop all tables and re-run migrations (DANGEROUS)

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go status
  go run cmd/migrate/main.go reset
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

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}

	switch flag.Arg(0) {
	case "up":
		runMigrations(db)
	case "status":
		showStatus(db)
	case "reset":
		runReset(db)
	default:
		fmt.Printf("Unknown command: %s\n", flag.Arg(0))
		flag.Usage()
		os.Exit(1)
	}
}

func runMigrations(db *gorm.DB) {
	if err := db.AutoMigrate(allModels()...); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	// AutoMigrate cannot express the single-target rule, so it is enforced
	// with a raw check constraint.
	const xorCheck = `
		ALTER TABLE messages DROP CONSTRAINT IF EXISTS chk_messages_single_target;
		ALTER TABLE messages ADD CONSTRAINT chk_messages_single_target CHECK (
			(CASE WHEN receiver_id IS NOT NULL THEN 1 ELSE 0 END +
			 CASE WHEN group_id    IS NOT NULL THEN 1 ELSE 0 END +
			 CASE WHEN channel_id  IS NOT NULL THEN 1 ELSE 0 END) = 1
		);`
	if err := db.Exec(xorCheck).Error; err != nil {
		log.Fatalf("Constraint migration failed: %v", err)
	}

	log.Println("Migrations applied")
}

func showStatus(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to acquire connection: %v", err)
	}
	if err := sqlDB.Ping(); err != nil {
		log.Fatalf("Database unreachable: %v", err)
	}
	log.Println("Database connection OK")
}

func runReset(db *gorm.DB) {
	if err := db.Migrator().DropTable(allModels()...); err != nil {
		log.Fatalf("Drop failed: %v", err)
	}
	runMigrations(db)
}

func allModels() []interface{} {
	return []interface{}{
		&user.User{},
		&chat.Group{},
		&chat.GroupMember{},
		&chat.Channel{},
		&chat.ChannelMember{},
		&message.Message{},
		&message.Attachment{},
		&message.ReadMarker{},
		&message.Reaction{},
	}
}
