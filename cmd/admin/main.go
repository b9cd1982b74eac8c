// Package main provides admin management utilities for Parley.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"parley/internal/config"
	"parley/internal/database"
	"parley/internal/models"
	"parley/internal/repository"
	"parley/internal/service"

	"gorm.io/gorm"
)

// Promotes, demotes and lists admin accounts. Admins can reach the chat migration routes.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage:")
		fmt.Println("  go run ./cmd/admin/main.go promote <username>    - Promote user to admin")
		fmt.Println("  go run ./cmd/admin/main.go demote <username>     - Demote user from admin")
		fmt.Println("  go run ./cmd/admin/main.go list-admins           - List all admins")
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	repos := repository.NewRepositories(db)
	users := service.NewUserService(repos.Users, repos.Conversations)
	command := os.Args[1]

	switch command {
	case "promote", "demote":
		if len(os.Args) < 3 {
			fmt.Printf("Usage: go run ./cmd/admin/main.go %s <username>\n", command)
			os.Exit(1)
		}
		setAdmin(users, os.Args[2], command == "promote")

	case "list-admins":
		listAdmins(db)

	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
}

func setAdmin(users *service.UserService, username string, isAdmin bool) {
	user, err := users.SetAdmin(context.Background(), username, isAdmin)
	if err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) && appErr.Code == models.CodeNotFound {
			fmt.Printf("User %s not found\n", username)
			os.Exit(1)
		}
		log.Fatalf("Failed to update admin flag: %v", err)
	}

	verb := "promoted"
	if !isAdmin {
		verb = "demoted"
	}
	fmt.Printf("✅ Successfully %s %s (ID: %d)\n", verb, user.Username, user.ID)
}

func listAdmins(db *gorm.DB) {
	var admins []models.User
	if err := db.Where("is_admin = ?", true).Find(&admins).Error; err != nil {
		log.Fatalf("Failed to fetch admins: %v", err)
	}

	if len(admins) == 0 {
		fmt.Println("No admins found in the system")
		return
	}

	fmt.Println("\n📋 Current Admins:")
	fmt.Println("─────────────────────────────────────")
	for _, admin := range admins {
		fmt.Printf("ID: %d | Username: %s | Email: %s\n", admin.ID, admin.Username, admin.Email)
	}
	fmt.Println("─────────────────────────────────────")
}
