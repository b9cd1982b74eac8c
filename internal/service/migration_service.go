package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"parley/internal/middleware"
	"parley/internal/models"
	"parley/internal/observability"
	"parley/internal/repository"
)

// BackfillReport counts what BackfillConversations did. Failed counts pairs whose
// conversation could not be built; their rows stay unmigrated for the next run.
type BackfillReport struct {
	Processed            int64 `json:"processed"`
	Skipped              int64 `json:"skipped"`
	ConversationsCreated int64 `json:"conversations_created"`
	ConversationsReused  int64 `json:"conversations_reused"`
	MessagesMigrated     int64 `json:"messages_migrated"`
	ReadsMigrated        int64 `json:"reads_migrated"`
	Failed               int64 `json:"failed"`
}

func (r BackfillReport) String() string {
	return fmt.Sprintf(
		"processed=%d skipped=%d conversations_created=%d conversations_reused=%d messages_migrated=%d reads_migrated=%d failed=%d",
		r.Processed, r.Skipped, r.ConversationsCreated, r.ConversationsReused, r.MessagesMigrated, r.ReadsMigrated, r.Failed,
	)
}

// CleanupReport counts rows whose deprecated columns were cleared.
type CleanupReport struct {
	Cleared int64 `json:"cleared"`
}

func (r CleanupReport) String() string {
	return fmt.Sprintf("cleared=%d", r.Cleared)
}

// ChatMigrationService moves flat sender/receiver messages onto direct conversations
// and then retires the legacy columns. Both phases can be re-run safely.
type ChatMigrationService struct {
	tx        repository.Transactor
	repos     repository.Repositories
	batchSize int
}

// NewChatMigrationService returns a new ChatMigrationService. batchSize bounds each
// legacy read; zero uses the repository default.
func NewChatMigrationService(tx repository.Transactor, repos repository.Repositories, batchSize int) *ChatMigrationService {
	return &ChatMigrationService{tx: tx, repos: repos, batchSize: batchSize}
}

type legacyGroup struct {
	key  string
	rows []models.LegacyMessage
}

func (g *legacyGroup) first() *models.LegacyMessage { return &g.rows[0] }
func (g *legacyGroup) last() *models.LegacyMessage  { return &g.rows[len(g.rows)-1] }

// BackfillConversations groups unmigrated legacy messages by user pair and attaches
// each group to the pair's direct conversation.
func (s *ChatMigrationService) BackfillConversations(ctx context.Context) (report BackfillReport, err error) {
	ctx, span := observability.StartSpan(ctx, "migration.backfill")
	defer func() { observability.EndSpan(span, err) }()
	start := time.Now()

	groups, err := s.loadGroups(ctx, &report)
	if err != nil {
		return report, fmt.Errorf("load legacy messages: %w", err)
	}
	middleware.Logger.InfoContext(ctx, "Chat backfill started",
		"rows", report.Processed,
		"pairs", len(groups),
		"skipped", report.Skipped,
	)

	for _, g := range groups {
		if err := s.migrateGroup(ctx, g, &report); err != nil {
			var appErr *models.AppError
			if errors.As(err, &appErr) && appErr.Code != models.CodeInternal {
				report.Failed++
				observability.ChatMigrationRecords.WithLabelValues("backfill", "failed").Add(float64(len(g.rows)))
				middleware.Logger.WarnContext(ctx, "Chat backfill skipped pair",
					"pair", g.key,
					"rows", len(g.rows),
					"error", err,
				)
				continue
			}
			return report, fmt.Errorf("migrate pair %s: %w", g.key, err)
		}
	}

	if err := s.migrateReads(ctx, &report); err != nil {
		return report, fmt.Errorf("migrate read flags: %w", err)
	}

	middleware.Logger.InfoContext(ctx, "Chat backfill finished",
		"processed", report.Processed,
		"skipped", report.Skipped,
		"conversations_created", report.ConversationsCreated,
		"conversations_reused", report.ConversationsReused,
		"messages_migrated", report.MessagesMigrated,
		"reads_migrated", report.ReadsMigrated,
		"failed", report.Failed,
		"elapsed", time.Since(start),
	)
	return report, nil
}

// loadGroups reads every unmigrated row and returns the pair groups ordered by their
// earliest message, each sorted by created_at then id.
func (s *ChatMigrationService) loadGroups(ctx context.Context, report *BackfillReport) ([]*legacyGroup, error) {
	byKey := make(map[string]*legacyGroup)
	err := s.repos.LegacyMessages.EachUnmigrated(ctx, s.batchSize, func(batch []models.LegacyMessage) error {
		for _, row := range batch {
			report.Processed++
			sender, receiver, ok := row.Pair()
			if !ok || sender == receiver {
				report.Skipped++
				observability.ChatMigrationRecords.WithLabelValues("backfill", "skipped").Inc()
				continue
			}
			key := models.PairKey(sender, receiver)
			g, exists := byKey[key]
			if !exists {
				g = &legacyGroup{key: key}
				byKey[key] = g
			}
			g.rows = append(g.rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	groups := make([]*legacyGroup, 0, len(byKey))
	for _, g := range byKey {
		sort.SliceStable(g.rows, func(i, j int) bool {
			a, b := g.rows[i], g.rows[j]
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		})
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i].first(), groups[j].first()
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return groups[i].key < groups[j].key
	})
	return groups, nil
}

func (s *ChatMigrationService) migrateGroup(ctx context.Context, g *legacyGroup, report *BackfillReport) error {
	first, last := g.first(), g.last()
	preview, err := models.PreviewOfLegacy(last)
	if err != nil {
		return err
	}
	sender, receiver, _ := first.Pair()

	var (
		created  bool
		migrated int64
	)
	err = s.tx.WithinTx(ctx, func(repos repository.Repositories) error {
		conv, isNew, err := repos.Conversations.FindOrCreateDirect(ctx, sender, receiver)
		if err != nil {
			return err
		}
		created = isNew

		createdAt, updatedAt := first.CreatedAt.UTC(), last.CreatedAt.UTC()
		if !isNew {
			if conv.CreatedAt.Before(createdAt) {
				createdAt = conv.CreatedAt
			}
			if conv.UpdatedAt.After(updatedAt) {
				updatedAt = conv.UpdatedAt
			}
		}
		if err := repos.Conversations.SetTimestamps(ctx, conv.ID, createdAt, updatedAt); err != nil {
			return err
		}
		if _, err := repos.Conversations.UpdateLastMessage(ctx, conv.ID, preview); err != nil {
			return err
		}

		ids := make([]uint, len(g.rows))
		for i := range g.rows {
			ids[i] = g.rows[i].ID
		}
		res, err := repos.Messages.Reparent(ctx, ids, conv.ID)
		if err != nil {
			return err
		}
		migrated = res.Updated
		return nil
	})
	if err != nil {
		return err
	}

	if created {
		report.ConversationsCreated++
	} else {
		report.ConversationsReused++
	}
	report.MessagesMigrated += migrated
	observability.ChatMigrationRecords.WithLabelValues("backfill", "migrated").Add(float64(migrated))
	return nil
}

// migrateReads turns legacy is_read flags on parented rows into a read receipt for the
// receiver. Rows that already carry any receipt are skipped.
func (s *ChatMigrationService) migrateReads(ctx context.Context, report *BackfillReport) error {
	return s.repos.LegacyMessages.ReadMarked(ctx, s.batchSize, func(batch []models.LegacyMessage) error {
		for _, row := range batch {
			if !row.WasRead() || row.ReceiverID == nil {
				continue
			}
			fresh, err := s.repos.Messages.MarkRead(ctx, row.ID, *row.ReceiverID)
			if err != nil {
				return err
			}
			if fresh {
				report.ReadsMigrated++
				observability.ChatMigrationRecords.WithLabelValues("backfill", "read").Inc()
			}
		}
		return nil
	})
}

// CleanupDeprecatedFields clears receiver_id and is_read on rows that already belong to
// a conversation. Unmigrated rows keep them, so running it before the backfill changes
// nothing.
func (s *ChatMigrationService) CleanupDeprecatedFields(ctx context.Context) (report CleanupReport, err error) {
	ctx, span := observability.StartSpan(ctx, "migration.cleanup")
	defer func() { observability.EndSpan(span, err) }()

	remaining, err := s.repos.LegacyMessages.CountUnmigrated(ctx)
	if err != nil {
		return report, fmt.Errorf("count unmigrated messages: %w", err)
	}
	cleared, err := s.repos.LegacyMessages.ClearDeprecatedFields(ctx)
	if err != nil {
		return report, fmt.Errorf("clear deprecated fields: %w", err)
	}
	report.Cleared = cleared
	observability.ChatMigrationRecords.WithLabelValues("cleanup", "cleared").Add(float64(cleared))

	if remaining > 0 {
		middleware.Logger.WarnContext(ctx, "Chat cleanup ran with unmigrated messages left",
			"unmigrated", remaining,
		)
	}
	middleware.Logger.InfoContext(ctx, "Chat cleanup finished", "cleared", cleared)
	return report, nil
}
