// Package main prints schema and chat migration diagnostics for a Parley database.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"parley/internal/config"
	"parley/internal/database"
	"parley/internal/repository"

	"gorm.io/gorm"
)

var chatTables = []string{
	"users",
	"friendships",
	"conversations",
	"conversation_members",
	"conversation_deletions",
	"messages",
	"message_reads",
	"message_requests",
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage:")
		fmt.Println("  go run ./cmd/dbinspect tables                - Row counts for the chat tables")
		fmt.Println("  go run ./cmd/dbinspect columns <table>       - Columns of a table")
		fmt.Println("  go run ./cmd/dbinspect constraints [table]   - Constraints in the public schema")
		fmt.Println("  go run ./cmd/dbinspect legacy                - Legacy rows still awaiting chat-backfill")
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: false})
	if err != nil {
		log.Fatal(err)
	}

	switch os.Args[1] {
	case "tables":
		printTables(db)
	case "columns":
		if len(os.Args) < 3 {
			log.Fatal("columns requires a table name")
		}
		printColumns(db, os.Args[2])
	case "constraints":
		table := ""
		if len(os.Args) > 2 {
			table = os.Args[2]
		}
		printConstraints(db, table)
	case "legacy":
		n, err := repository.NewRepositories(db).LegacyMessages.CountUnmigrated(context.Background())
		if err != nil {
			log.Fatalf("count legacy rows: %v", err)
		}
		fmt.Printf("Legacy messages awaiting backfill: %d\n", n)
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func printTables(db *gorm.DB) {
	fmt.Println("Rows per chat table:")
	for _, table := range chatTables {
		var count int64
		if err := db.Table(table).Count(&count).Error; err != nil {
			fmt.Printf(" - %s: error: %v\n", table, err)
			continue
		}
		fmt.Printf(" - %s: %d\n", table, count)
	}
}

func printColumns(db *gorm.DB, table string) {
	var columns []struct {
		ColumnName string `gorm:"column:column_name"`
		DataType   string `gorm:"column:data_type"`
		IsNullable string `gorm:"column:is_nullable"`
	}
	db.Raw("SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_name = ? ORDER BY ordinal_position", table).Scan(&columns)
	fmt.Printf("Columns in %s:\n", table)
	for _, c := range columns {
		fmt.Printf(" - %s: %s (nullable=%s)\n", c.ColumnName, c.DataType, c.IsNullable)
	}
}

func printConstraints(db *gorm.DB, table string) {
	var result []struct {
		Relname string `gorm:"column:relname"`
		Conname string `gorm:"column:conname"`
		Def     string `gorm:"column:def"`
	}
	query := db.Raw("SELECT r.relname, c.conname, pg_get_constraintdef(c.oid) as def FROM pg_constraint c JOIN pg_class r ON c.conrelid = r.oid JOIN pg_namespace n ON n.oid = r.relnamespace WHERE n.nspname = 'public'")
	if table != "" {
		query = db.Raw("SELECT r.relname, c.conname, pg_get_constraintdef(c.oid) as def FROM pg_constraint c JOIN pg_class r ON c.conrelid = r.oid JOIN pg_namespace n ON n.oid = r.relnamespace WHERE n.nspname = 'public' AND r.relname = ?", table)
	}
	query.Scan(&result)

	fmt.Println("Constraints (public schema):")
	for _, r := range result {
		fmt.Printf(" - %s on %s: %s\n", r.Conname, r.Relname, r.Def)
	}
}
