package seed

import (
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"parley/internal/models"

	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	NumUsers        int
	LegacyPairs     int
	MessagesPerPair int
	ShouldClean     bool
	SkipBcrypt      bool
	DryRun          bool
	BatchSize       int
	MaxDays         int
}

// Result counts what a seeding run wrote.
type Result struct {
	Users          int
	Friendships    int
	LegacyMessages int
}

// tables in delete order; children first.
var seededTables = []string{
	"message_reads",
	"message_requests",
	"conversation_deletions",
	"conversation_members",
	"messages",
	"conversations",
	"friendships",
	"users",
}

var (
	firstNames = []string{
		"James", "Mary", "John", "Patricia", "Robert", "Jennifer", "Michael", "Linda",
		"William", "Elizabeth", "David", "Barbara", "Richard", "Susan", "Joseph", "Jessica",
		"Thomas", "Sarah", "Charles", "Karen", "Christopher", "Nancy", "Daniel", "Lisa",
		"Matthew", "Betty", "Anthony", "Margaret", "Mark", "Sandra", "Donald", "Ashley",
		"Steven", "Kimberly", "Paul", "Emily", "Andrew", "Donna", "Joshua", "Michelle",
		"Nicholas", "Shirley", "Eric", "Angela", "Jonathan", "Helen", "Stephen", "Anna",
		"Benjamin", "Samantha", "Samuel", "Katherine", "Gregory", "Christine", "Frank", "Debra",
	}

	lastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis",
		"Rodriguez", "Martinez", "Hernandez", "Lopez", "Gonzalez", "Wilson", "Anderson", "Thomas",
		"Taylor", "Moore", "Jackson", "Martin", "Lee", "Perez", "Thompson", "White",
		"Harris", "Sanchez", "Clark", "Ramirez", "Lewis", "Robinson", "Walker", "Young",
		"Cook", "Rogers", "Gutierrez", "Ortiz", "Morgan", "Cooper", "Peterson", "Bailey",
	}
)

// Seeder writes demo users, friendships and pre-conversation message history.
type Seeder struct {
	db      *gorm.DB
	opts    Options
	factory *Factory
	rng     *rand.Rand
}

// NewSeeder creates a seeder bound to db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	//nolint:gosec // Weak random number generator is fine for seeding
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Seeder{db: db, opts: opts, factory: NewFactory(db, opts), rng: rng}
}

// Seed populates the database with test data
func Seed(db *gorm.DB, opts Options) (*Result, error) {
	log.Printf("🌱 Starting database seeding with %d users and %d legacy pairs...", opts.NumUsers, opts.LegacyPairs)

	s := NewSeeder(db, opts)

	// Clear existing data to avoid conflicts if requested
	if opts.ShouldClean {
		if err := s.ClearAll(); err != nil {
			log.Println("⚠️  Warning: Could not clear all existing data, but continuing anyway...")
		}
	}
	return s.Run()
}

// Run seeds users, a friendship mesh and legacy history for the configured pairs.
func (s *Seeder) Run() (*Result, error) {
	res := &Result{}

	users, err := s.SeedUsers(s.opts.NumUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to create users: %w", err)
	}
	res.Users = len(users)
	log.Printf("✓ %d test users created", res.Users)

	res.Friendships, err = s.SeedFriendships(users)
	if err != nil {
		return nil, fmt.Errorf("failed to create friendships: %w", err)
	}
	log.Printf("✓ %d friendships created", res.Friendships)

	res.LegacyMessages, err = s.SeedLegacyHistory(users, s.opts.LegacyPairs, s.opts.MessagesPerPair)
	if err != nil {
		return nil, fmt.Errorf("failed to create legacy history: %w", err)
	}
	log.Printf("✓ %d legacy messages created", res.LegacyMessages)

	log.Println("🎉 Database seeding completed successfully!")
	return res, nil
}

// ClearAll removes every row the seeder can write.
func (s *Seeder) ClearAll() error {
	log.Println("🗑️  Clearing existing data...")
	if s.db.Dialector.Name() == "postgres" {
		sql := fmt.Sprintf(`TRUNCATE TABLE %s RESTART IDENTITY CASCADE;`, strings.Join(seededTables, ", "))
		return s.db.Exec(sql).Error
	}
	for _, table := range seededTables {
		if err := s.db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// SeedUsers creates count users. The first three have fixed names so demo logins
// are predictable.
func (s *Seeder) SeedUsers(count int) ([]*models.User, error) {
	users := make([]*models.User, 0, count)

	if count >= 3 {
		for _, name := range []string{"alice", "bob", "test"} {
			u, err := s.factory.CreateUser(func(u *models.User) {
				u.Username = name
				u.Email = name + "@example.com"
				u.Bio = "One of the OGs."
				u.Avatar = fmt.Sprintf("https://i.pravatar.cc/150?u=%s", name)
			})
			if err != nil {
				log.Printf("Failed to create user %s: %v", name, err)
				continue
			}
			users = append(users, u)
		}
	}

	for i := len(users); i < count; i++ {
		first, last := s.randomName()
		// Suffix keeps usernames unique across the run
		username := fmt.Sprintf("%s%d", s.usernameFor(first, last), i)

		u, err := s.factory.CreateUser(func(u *models.User) {
			u.Username = username
			u.Email = username + "@example.com"
		})
		if err != nil {
			log.Printf("Failed to create user %s: %v", username, err)
			continue
		}
		users = append(users, u)

		if i%100 == 0 {
			log.Printf("Created %d users...", i)
		}
	}
	return users, nil
}

// SeedFriendships links each user to the next few users in the list. Roughly one
// link in five is left pending so message requests have something to gate.
func (s *Seeder) SeedFriendships(users []*models.User) (int, error) {
	created := 0
	for i, u := range users {
		for step := 1; step <= 3 && i+step < len(users); step++ {
			status := models.FriendshipStatusAccepted
			if s.rng.Intn(5) == 0 {
				status = models.FriendshipStatusPending
			}
			if err := s.factory.CreateFriendship(u, users[i+step], status); err != nil {
				return created, err
			}
			created++
		}
	}
	return created, nil
}

// SeedLegacyHistory writes flat sender/receiver messages for up to pairs distinct
// user pairs, the shape the chat migration backfill consumes.
func (s *Seeder) SeedLegacyHistory(users []*models.User, pairs, perPair int) (int, error) {
	if len(users) < 2 || pairs <= 0 {
		return 0, nil
	}
	if perPair <= 0 {
		perPair = 10
	}

	maxPairs := len(users) * (len(users) - 1) / 2
	if pairs > maxPairs {
		pairs = maxPairs
	}

	seen := make(map[[2]uint]bool, pairs)
	total := 0
	for len(seen) < pairs {
		a := users[s.rng.Intn(len(users))]
		b := users[s.rng.Intn(len(users))]
		if a.ID == b.ID {
			continue
		}
		key := pairKey(a.ID, b.ID)
		if seen[key] {
			continue
		}
		seen[key] = true

		msgs, err := s.factory.CreateLegacyHistory(a, b, perPair)
		if err != nil {
			return total, err
		}
		total += len(msgs)
	}
	return total, nil
}

func pairKey(a, b uint) [2]uint {
	if a > b {
		a, b = b, a
	}
	return [2]uint{a, b}
}

func (s *Seeder) randomName() (string, string) {
	return firstNames[s.rng.Intn(len(firstNames))], lastNames[s.rng.Intn(len(lastNames))]
}

func (s *Seeder) usernameFor(first, last string) string {
	formats := []string{"%s%s", "%s.%s", "%s_%s", "%s%d", "%s_%d"}
	format := formats[s.rng.Intn(len(formats))]

	switch format {
	case "%s%d", "%s_%d":
		return strings.ToLower(fmt.Sprintf(format, first, s.rng.Intn(1000)))
	default:
		return strings.ToLower(fmt.Sprintf(format, first, last))
	}
}
