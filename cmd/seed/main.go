// Command main runs the database seeder for Parley.
package main

import (
	"flag"
	"log"

	"parley/internal/config"
	"parley/internal/database"
	"parley/internal/seed"
)

func main() {
	// Parse command line flags
	numUsers := flag.Int("users", 50, "Number of users to create")
	legacyPairs := flag.Int("legacy-pairs", 20, "Number of user pairs given pre-conversation message history")
	perPair := flag.Int("messages-per-pair", 10, "Legacy messages written per pair")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	fast := flag.Bool("fast", false, "Store plaintext passwords to skip bcrypt (local use only)")
	dryRun := flag.Bool("dry-run", false, "Log what would be created without writing")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")
	log.Printf("Target: %d users, %d legacy pairs x %d messages, clean=%v\n", *numUsers, *legacyPairs, *perPair, *shouldClean)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("❌ Refusing to seed a production database")
	}

	// Connect to database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	res, err := seed.Seed(db, seed.Options{
		NumUsers:        *numUsers,
		LegacyPairs:     *legacyPairs,
		MessagesPerPair: *perPair,
		ShouldClean:     *shouldClean && !*dryRun,
		SkipBcrypt:      *fast,
		DryRun:          *dryRun,
		BatchSize:       200,
		MaxDays:         90,
	})
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Printf("✨ All done! users=%d friendships=%d legacy_messages=%d", res.Users, res.Friendships, res.LegacyMessages)
	log.Println("📧 All test users have the password: " + seed.DefaultPassword)
	log.Println("➡️  Run `go run ./cmd/migrate chat-backfill` to move the legacy history into conversations")
}
