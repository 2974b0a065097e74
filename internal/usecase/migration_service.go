package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gorm.io/gorm"

	"docvault-service/internal/domain"
)

// MigrationRepository はマイグレーション履歴を管理するリポジトリのインターフェース。
type MigrationRepository interface {
	EnsureHistoryTable(ctx context.Context) error
	FindAllApplied(ctx context.Context) ([]*domain.Migration, error)
	IsMigrationApplied(ctx context.Context, version string) (bool, error)
}

// MigrationService はマイグレーション実行のビジネスロジックを提供する。
type MigrationService struct {
	repo          MigrationRepository
	db            *gorm.DB
	migrationsDir string
}

// NewMigrationService は新しいMigrationServiceを生成する。
func NewMigrationService(repo MigrationRepository, db *gorm.DB, migrationsDir string) *MigrationService {
	return &MigrationService{
		repo:          repo,
		db:            db,
		migrationsDir: migrationsDir,
	}
}

// scanMigrationFiles はmigrationsディレクトリから.sqlファイルをスキャンする。
func (s *MigrationService) scanMigrationFiles() ([]*domain.Migration, error) {
	entries, err := os.ReadDir(s.migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []*domain.Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, name, err := parseMigrationFileName(entry.Name())
		if err != nil {
			return nil, err
		}

		migrations = append(migrations, &domain.Migration{
			Version:  version,
			Name:     name,
			FilePath: filepath.Join(s.migrationsDir, entry.Name()),
			Status:   domain.MigrationStatusPending,
		})
	}

	// バージョン順にソート
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseMigrationFileName はファイル名からバージョンと名前を抽出する。
// ファイル名のフォーマット: {version}_{name}.sql (例: 001_create_keys.sql)
func parseMigrationFileName(filename string) (version, name string, err error) {
	nameWithoutExt := strings.TrimSuffix(filename, ".sql")
	parts := strings.SplitN(nameWithoutExt, "_", 2)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("%w: %s (expected format: {version}_{name}.sql)", domain.ErrInvalidMigrationFile, filename)
	}
	return parts[0], parts[1], nil
}

// ApplyMigrations は未適用マイグレーションを番号順に実行する。
func (s *MigrationService) ApplyMigrations(ctx context.Context) (int, error) {
	if err := s.repo.EnsureHistoryTable(ctx); err != nil {
		return 0, fmt.Errorf("failed to prepare migration history table: %w", err)
	}

	allMigrations, err := s.scanMigrationFiles()
	if err != nil {
		slog.ErrorContext(ctx, "failed to scan migration files",
			"operation", "apply_migrations",
			"error", err,
		)
		return 0, err
	}

	var pending []*domain.Migration
	for _, migration := range allMigrations {
		applied, err := s.repo.IsMigrationApplied(ctx, migration.Version)
		if err != nil {
			return 0, fmt.Errorf("failed to check migration status: %w", err)
		}
		if !applied {
			pending = append(pending, migration)
		}
	}

	appliedCount := 0
	for _, migration := range pending {
		if err := s.applyMigration(ctx, migration); err != nil {
			slog.ErrorContext(ctx, "failed to apply migration",
				"operation", "apply_migrations",
				"version", migration.Version,
				"error", err,
			)
			return appliedCount, fmt.Errorf("%w: version %s: %v", domain.ErrMigrationFailed, migration.Version, err)
		}
		appliedCount++
	}
	return appliedCount, nil
}

// applyMigration は単一のマイグレーションをトランザクション内で実行する。
func (s *MigrationService) applyMigration(ctx context.Context, migration *domain.Migration) error {
	sqlBytes, err := os.ReadFile(migration.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(string(sqlBytes)).Error; err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}

		// 履歴記録はSQL実行と同一トランザクションで行う
		model := struct {
			Version string `gorm:"column:version;primaryKey;type:varchar(14)"`
		}{
			Version: migration.Version,
		}
		if err := tx.Table("schema_migrations").Create(&model).Error; err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	})
}

// GetMigrationStatus は現在のマイグレーション状況を取得する。
func (s *MigrationService) GetMigrationStatus(ctx context.Context) ([]*domain.Migration, error) {
	if err := s.repo.EnsureHistoryTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare migration history table: %w", err)
	}

	allMigrations, err := s.scanMigrationFiles()
	if err != nil {
		return nil, err
	}

	applied, err := s.repo.FindAllApplied(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch applied migrations: %w", err)
	}

	appliedMap := make(map[string]*domain.Migration, len(applied))
	for _, migration := range applied {
		appliedMap[migration.Version] = migration
	}

	for _, migration := range allMigrations {
		if a, ok := appliedMap[migration.Version]; ok {
			migration.Status = domain.MigrationStatusApplied
			migration.AppliedAt = a.AppliedAt
		}
	}
	return allMigrations, nil
}
