// Package progress implements the durable record of completed work that
// makes interrupted runs resumable.
package progress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mwirth/immoharvest/internal/config"
	"github.com/mwirth/immoharvest/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Store is the durability contract the coordinators and the asset
// downloader share. Implementations must be safe for concurrent use and
// must not acknowledge a mark before it is durably written.
type Store interface {
	// IsCompleted reports whether a Completed entry exists for the key.
	IsCompleted(ctx context.Context, source string, kind domain.EntryKind, key string) (bool, error)

	// MarkCompleted appends a Completed entry. The call returns only after
	// the entry is durable; re-marking an already completed key is a no-op.
	MarkCompleted(ctx context.Context, source string, kind domain.EntryKind, key string, attempts int) error

	// MarkFailed appends a FailedPermanently entry with the failure reason.
	MarkFailed(ctx context.Context, source string, kind domain.EntryKind, key string, attempts int, reason string) error

	// MarkPending appends a Pending entry recording discovered work and the
	// remote locator it came from, before the work itself is attempted. A
	// crash after the parent unit completed can then be repaired on resume.
	MarkPending(ctx context.Context, source string, kind domain.EntryKind, key, ref string) error

	// LoadCompleted streams the completed keys of one source in batches so
	// startup never loads the whole table into memory.
	LoadCompleted(ctx context.Context, source string, kind domain.EntryKind, fn func(key string) error) error

	// LoadPending streams keys that were discovered but never reached a
	// terminal state, with the remote locator recorded at discovery.
	LoadPending(ctx context.Context, source string, kind domain.EntryKind, fn func(key, ref string) error) error

	// SaveReport persists a finished source report.
	SaveReport(ctx context.Context, report *domain.SourceReport) error
}

// GormStore is the gorm-backed Store, sqlite by default.
type GormStore struct {
	db *gorm.DB
}

// loadBatchSize bounds how many completed keys one LoadCompleted query pulls.
const loadBatchSize = 1000

// Open initializes the backing database and runs migrations.
func Open(cfg *config.ProgressConfig) (*GormStore, error) {
	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var db *gorm.DB
	var err error

	switch cfg.Driver {
	case "postgres":
		db, err = openPostgres(cfg, gormConfig)
	default:
		db, err = openSQLite(cfg, gormConfig)
	}
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&domain.ProgressEntry{}, &domain.SourceReport{}); err != nil {
			return nil, fmt.Errorf("failed to migrate progress store: %w", err)
		}
	}

	return &GormStore{db: db}, nil
}

func openPostgres(cfg *config.ProgressConfig, gormConfig *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	}), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return db, nil
}

func openSQLite(cfg *config.ProgressConfig, gormConfig *gorm.Config) (*gorm.DB, error) {
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create progress store directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	// WAL keeps concurrent appends from coordinators and the downloader
	// from serializing on the whole file, and commits are durable on return.
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA synchronous=NORMAL")
	db.Exec("PRAGMA busy_timeout=5000")

	return db, nil
}

func (s *GormStore) IsCompleted(ctx context.Context, source string, kind domain.EntryKind, key string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.ProgressEntry{}).
		Where("source = ? AND kind = ? AND key = ? AND status = ?",
			source, kind, key, domain.ProgressCompleted).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to query progress entry: %w", err)
	}
	return count > 0, nil
}

func (s *GormStore) MarkCompleted(ctx context.Context, source string, kind domain.EntryKind, key string, attempts int) error {
	return s.append(ctx, &domain.ProgressEntry{
		Source:   source,
		Kind:     kind,
		Key:      key,
		Status:   domain.ProgressCompleted,
		Attempts: attempts,
	})
}

func (s *GormStore) MarkFailed(ctx context.Context, source string, kind domain.EntryKind, key string, attempts int, reason string) error {
	return s.append(ctx, &domain.ProgressEntry{
		Source:   source,
		Kind:     kind,
		Key:      key,
		Status:   domain.ProgressFailed,
		Attempts: attempts,
		Reason:   reason,
	})
}

func (s *GormStore) MarkPending(ctx context.Context, source string, kind domain.EntryKind, key, ref string) error {
	return s.append(ctx, &domain.ProgressEntry{
		Source: source,
		Kind:   kind,
		Key:    key,
		Status: domain.ProgressPending,
		Ref:    ref,
	})
}

// append inserts an entry, ignoring conflicts on the unique key. Entries
// are never updated in place; the insert either lands whole or not at all,
// so a crash mid-write can never surface as a false completion.
func (s *GormStore) append(ctx context.Context, entry *domain.ProgressEntry) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to append progress entry: %w", err)
	}
	return nil
}

func (s *GormStore) LoadCompleted(ctx context.Context, source string, kind domain.EntryKind, fn func(key string) error) error {
	lastID := uint(0)
	for {
		var batch []domain.ProgressEntry
		err := s.db.WithContext(ctx).
			Where("source = ? AND kind = ? AND status = ? AND id > ?",
				source, kind, domain.ProgressCompleted, lastID).
			Order("id ASC").
			Limit(loadBatchSize).
			Find(&batch).Error
		if err != nil {
			return fmt.Errorf("failed to load completed entries: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		for i := range batch {
			if err := fn(batch[i].Key); err != nil {
				return err
			}
		}
		lastID = batch[len(batch)-1].ID
	}
}

// LoadPending yields pending keys whose key never got a Completed or
// Failed entry. Entries are append-only, so "still pending" is a query
// over the whole history, not a row state.
func (s *GormStore) LoadPending(ctx context.Context, source string, kind domain.EntryKind, fn func(key, ref string) error) error {
	terminal := []domain.ProgressStatus{domain.ProgressCompleted, domain.ProgressFailed}
	lastID := uint(0)
	for {
		var batch []domain.ProgressEntry
		err := s.db.WithContext(ctx).
			Where("source = ? AND kind = ? AND status = ? AND id > ?",
				source, kind, domain.ProgressPending, lastID).
			Where("NOT EXISTS (SELECT 1 FROM progress_entries done"+
				" WHERE done.source = progress_entries.source"+
				" AND done.kind = progress_entries.kind"+
				" AND done.key = progress_entries.key"+
				" AND done.status IN ?)", terminal).
			Order("id ASC").
			Limit(loadBatchSize).
			Find(&batch).Error
		if err != nil {
			return fmt.Errorf("failed to load pending entries: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		for i := range batch {
			if err := fn(batch[i].Key, batch[i].Ref); err != nil {
				return err
			}
		}
		lastID = batch[len(batch)-1].ID
	}
}

func (s *GormStore) SaveReport(ctx context.Context, report *domain.SourceReport) error {
	if err := s.db.WithContext(ctx).Create(report).Error; err != nil {
		return fmt.Errorf("failed to save source report: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
