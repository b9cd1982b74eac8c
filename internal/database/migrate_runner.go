package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"parley/internal/middleware"
	"parley/internal/models"
	"parley/internal/observability"

	"gorm.io/gorm"
)

// MigrationStore records which embedded migrations a database has applied.
type MigrationStore interface {
	GetAppliedMigrations(ctx context.Context) ([]int, error)
	ApplyMigration(ctx context.Context, version int, name, sql string) error
	RemoveMigration(ctx context.Context, version int) error
}

// MigrationLog is one row of migration_logs.
type MigrationLog struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255;not null"`
	AppliedAt time.Time `gorm:"autoCreateTime;index"`
}

// TableName specifies the table name for GORM
func (MigrationLog) TableName() string {
	return "migration_logs"
}

type migrationStore struct {
	db *gorm.DB
}

// NewMigrationStore returns a MigrationStore backed by migration_logs.
func NewMigrationStore(db *gorm.DB) MigrationStore {
	return &migrationStore{db: db}
}

func (s *migrationStore) GetAppliedMigrations(ctx context.Context) ([]int, error) {
	var versions []int
	err := s.db.WithContext(ctx).Model(&MigrationLog{}).Order("version ASC").Pluck("version", &versions).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || models.IsSchemaMissingError(err) {
			return []int{}, nil
		}
		return nil, fmt.Errorf("read migration_logs: %w", err)
	}
	return versions, nil
}

// ApplyMigration runs sql and records version in one transaction, so a failed script
// never leaves a log row behind.
func (s *migrationStore) ApplyMigration(ctx context.Context, version int, name, sql string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(sql).Error; err != nil {
			return fmt.Errorf("apply migration %06d_%s: %w", version, name, err)
		}
		if err := tx.Create(&MigrationLog{Version: version, Name: name}).Error; err != nil {
			return fmt.Errorf("record migration %06d: %w", version, err)
		}
		return nil
	})
}

func (s *migrationStore) RemoveMigration(ctx context.Context, version int) error {
	if err := s.db.WithContext(ctx).Where("version = ?", version).Delete(&MigrationLog{}).Error; err != nil {
		return fmt.Errorf("remove migration record %06d: %w", version, err)
	}
	return nil
}

// MessagingFootprint is a row count of the messaging tables taken after a schema
// change. Tables that do not exist yet are reported as -1.
type MessagingFootprint struct {
	Conversations   int64
	Messages        int64
	MessageRequests int64
	LegacyBacklog   int64
}

// Runner applies the embedded migrations in version order.
type Runner struct {
	db         *gorm.DB
	store      MigrationStore
	registered []Migration
}

// NewRunner returns a Runner over the embedded migrations.
func NewRunner(db *gorm.DB) *Runner {
	return newRunner(db, migrations)
}

func newRunner(db *gorm.DB, registered []Migration) *Runner {
	return &Runner{db: db, store: NewMigrationStore(db), registered: registered}
}

func (r *Runner) ensureLogTable(ctx context.Context) error {
	db := r.db.WithContext(ctx)
	if db.Dialector.Name() != "postgres" {
		return db.AutoMigrate(&MigrationLog{})
	}
	const ddl = `
CREATE TABLE IF NOT EXISTS migration_logs (
	version BIGINT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_migration_logs_applied_at ON migration_logs (applied_at);`
	return db.Exec(ddl).Error
}

// Pending returns registered migrations the database has not applied, oldest first.
func (r *Runner) Pending(ctx context.Context) ([]Migration, error) {
	applied, err := r.store.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateAppliedVersions(applied, r.registered); err != nil {
		return nil, err
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}
	var pending []Migration
	for _, m := range r.registered {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Up applies every pending migration and returns the ones it ran.
func (r *Runner) Up(ctx context.Context) ([]Migration, error) {
	if err := r.ensureLogTable(ctx); err != nil {
		return nil, fmt.Errorf("ensure migration_logs: %w", err)
	}
	pending, err := r.Pending(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		middleware.Logger.Debug("Schema is up to date", slog.Int("registered", len(r.registered)))
		return nil, nil
	}

	var ran []Migration
	for _, m := range pending {
		start := time.Now()
		if err := r.store.ApplyMigration(ctx, m.Version, m.Name, m.UpScript); err != nil {
			return ran, err
		}
		observability.SchemaMigrations.WithLabelValues("up").Inc()
		middleware.Logger.Info("Migration applied",
			slog.String("migration", m.String()),
			slog.Duration("took", time.Since(start)),
		)
		ran = append(ran, m)
	}

	r.reportFootprint(ctx)
	return ran, nil
}

// Down runs the down script of an applied migration and forgets it.
func (r *Runner) Down(ctx context.Context, version int) error {
	var target *Migration
	for i := range r.registered {
		if r.registered[i].Version == version {
			target = &r.registered[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migration version %d not found", version)
	}

	applied, err := r.store.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}
	if !containsVersion(applied, version) {
		return fmt.Errorf("migration %d has not been applied", version)
	}

	middleware.Logger.Warn("Rolling back migration", slog.String("migration", target.String()))
	if err := r.db.WithContext(ctx).Exec(target.DownScript).Error; err != nil {
		return fmt.Errorf("rollback %s: %w", target.String(), err)
	}
	if err := r.store.RemoveMigration(ctx, version); err != nil {
		return err
	}
	observability.SchemaMigrations.WithLabelValues("down").Inc()
	r.reportFootprint(ctx)
	return nil
}

// Footprint counts rows in the messaging tables. The legacy backlog is the number of
// messages attached to neither a conversation nor a request.
func (r *Runner) Footprint(ctx context.Context) (MessagingFootprint, error) {
	db := r.db.WithContext(ctx)
	fp := MessagingFootprint{Conversations: -1, Messages: -1, MessageRequests: -1, LegacyBacklog: -1}

	counts := []struct {
		table string
		dst   *int64
	}{
		{"conversations", &fp.Conversations},
		{"messages", &fp.Messages},
		{"message_requests", &fp.MessageRequests},
	}
	for _, c := range counts {
		if !db.Migrator().HasTable(c.table) {
			continue
		}
		if err := db.Table(c.table).Count(c.dst).Error; err != nil {
			return fp, fmt.Errorf("count %s: %w", c.table, err)
		}
	}

	if fp.Messages >= 0 && db.Migrator().HasColumn("messages", "request_id") {
		if err := db.Table("messages").
			Where("conversation_id IS NULL AND request_id IS NULL").
			Count(&fp.LegacyBacklog).Error; err != nil {
			return fp, fmt.Errorf("count legacy backlog: %w", err)
		}
	}
	return fp, nil
}

func (r *Runner) reportFootprint(ctx context.Context) {
	fp, err := r.Footprint(ctx)
	if err != nil {
		middleware.Logger.Warn("Could not sample messaging tables", slog.String("error", err.Error()))
		return
	}
	middleware.Logger.Info("Messaging tables after migration",
		slog.Int64("conversations", fp.Conversations),
		slog.Int64("messages", fp.Messages),
		slog.Int64("message_requests", fp.MessageRequests),
		slog.Int64("legacy_backlog", fp.LegacyBacklog),
	)
	if fp.LegacyBacklog >= 0 {
		observability.LegacyMessageBacklog.Set(float64(fp.LegacyBacklog))
	}
	if fp.LegacyBacklog > 0 {
		middleware.Logger.Warn("Legacy messages await chat-backfill", slog.Int64("count", fp.LegacyBacklog))
	}
}

// RunMigrations applies all pending embedded migrations.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	_, err := NewRunner(db).Up(ctx)
	return err
}

// RollbackMigration reverts one applied embedded migration.
func RollbackMigration(ctx context.Context, db *gorm.DB, version int) error {
	return NewRunner(db).Down(ctx, version)
}

func containsVersion(versions []int, version int) bool {
	for _, v := range versions {
		if v == version {
			return true
		}
	}
	return false
}

func validateAppliedVersions(applied []int, registered []Migration) error {
	known := make(map[int]struct{}, len(registered))
	for _, m := range registered {
		known[m.Version] = struct{}{}
	}
	var unknown []int
	for _, version := range applied {
		if _, ok := known[version]; !ok {
			unknown = append(unknown, version)
		}
	}
	if len(unknown) == 0 {
		return nil
	}

	sort.Ints(unknown)
	parts := make([]string, len(unknown))
	for i, version := range unknown {
		parts[i] = fmt.Sprintf("%06d", version)
	}
	return fmt.Errorf("migration_logs has versions this build does not know: %s (migrated by a newer build?)", strings.Join(parts, ", "))
}
