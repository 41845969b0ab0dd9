// Package gormdb implements storage.Store on top of GORM with postgres,
// mysql and sqlite drivers.
package gormdb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"depsync/pkg/storage"
)

// Config selects the database driver and connection string.
type Config struct {
	Driver      string
	DSN         string
	Dialect     string
	AutoMigrate bool
}

type store struct {
	db *gorm.DB
}

// Open connects to the configured database and optionally migrates the
// schema. The returned Store is safe for concurrent use.
func Open(cfg Config) (storage.Store, error) {
	driver, err := normalizeDriver(cfg.Driver, cfg.Dialect)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage dsn is required")
	}

	db, err := openGorm(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if cfg.AutoMigrate {
		err = db.AutoMigrate(
			&organizationRow{},
			&projectRow{},
			&repositoryRow{},
			&repositoryUpdateRow{},
			&updateJobRow{},
			&pullRequestRow{},
			&dependencySnapshotRow{},
		)
		if err != nil {
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	return &store{db: db}, nil
}

func normalizeDriver(driver, dialect string) (string, error) {
	name := driver
	if name == "" {
		name = dialect
	}
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return "postgres", nil
	case "mysql":
		return "mysql", nil
	case "sqlite", "sqlite3":
		return "sqlite", nil
	case "":
		return "", fmt.Errorf("storage driver is required")
	default:
		return "", fmt.Errorf("unsupported storage driver: %s", name)
	}
}

func openGorm(driver, dsn string) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), gormCfg)
	case "mysql":
		return gorm.Open(mysql.Open(dsn), gormCfg)
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}

func upsertColumns(cols ...string) clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}
}

func (s *store) GetOrganization(ctx context.Context, id string) (*storage.OrganizationRecord, error) {
	var row organizationRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := fromOrganizationRow(row)
	return &record, nil
}

func (s *store) UpsertOrganization(ctx context.Context, record storage.OrganizationRecord) error {
	row := toOrganizationRow(record)
	return s.db.WithContext(ctx).Clauses(upsertColumns(
		"name", "provider_type", "base_url", "credential_key", "webhook_secret", "updated_at",
	)).Create(&row).Error
}

func (s *store) GetProject(ctx context.Context, id string) (*storage.ProjectRecord, error) {
	var row projectRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := fromProjectRow(row)
	return &record, nil
}

func (s *store) GetProjectByProviderID(ctx context.Context, organizationID, providerID string) (*storage.ProjectRecord, error) {
	var row projectRow
	err := s.db.WithContext(ctx).
		First(&row, "organization_id = ? AND provider_id = ?", organizationID, providerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := fromProjectRow(row)
	return &record, nil
}

func (s *store) ListProjects(ctx context.Context, organizationID string) ([]storage.ProjectRecord, error) {
	var rows []projectRow
	err := s.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]storage.ProjectRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, fromProjectRow(row))
	}
	return records, nil
}

func (s *store) UpsertProject(ctx context.Context, record storage.ProjectRecord) error {
	row := toProjectRow(record)
	return s.db.WithContext(ctx).Clauses(upsertColumns(
		"organization_id", "provider_id", "name", "slug", "url", "sync_status", "synced_at", "updated_at",
	)).Create(&row).Error
}

func (s *store) GetRepository(ctx context.Context, id string) (*storage.RepositoryRecord, error) {
	var row repositoryRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := fromRepositoryRow(row)
	return &record, nil
}

func (s *store) GetRepositoryByProviderID(ctx context.Context, projectID, providerID string) (*storage.RepositoryRecord, error) {
	var row repositoryRow
	err := s.db.WithContext(ctx).
		First(&row, "project_id = ? AND provider_id = ?", projectID, providerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := fromRepositoryRow(row)
	return &record, nil
}

func (s *store) ListRepositories(ctx context.Context, projectID string) ([]storage.RepositoryRecord, error) {
	var rows []repositoryRow
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]storage.RepositoryRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, fromRepositoryRow(row))
	}
	return records, nil
}

func (s *store) UpsertRepository(ctx context.Context, record storage.RepositoryRecord) error {
	row := toRepositoryRow(record)
	return s.db.WithContext(ctx).Clauses(upsertColumns(
		"project_id", "provider_id", "name", "slug", "url", "permalink",
		"latest_commit", "config_file_path", "config_file_contents",
		"sync_status", "sync_error", "synced_at", "updated_at",
	)).Create(&row).Error
}

func (s *store) DeleteRepository(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var updateIDs []string
		err := tx.Model(&repositoryUpdateRow{}).
			Where("repository_id = ?", id).
			Pluck("id", &updateIDs).Error
		if err != nil {
			return err
		}
		if len(updateIDs) > 0 {
			if err := tx.Where("repository_update_id IN ?", updateIDs).Delete(&dependencySnapshotRow{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("repository_id = ?", id).Delete(&updateJobRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("repository_id = ?", id).Delete(&pullRequestRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("repository_id = ?", id).Delete(&repositoryUpdateRow{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&repositoryRow{}).Error
	})
}

func (s *store) ListRepositoryUpdates(ctx context.Context, repositoryID string) ([]storage.RepositoryUpdateRecord, error) {
	var rows []repositoryUpdateRow
	err := s.db.WithContext(ctx).
		Where("repository_id = ?", repositoryID).
		Order("ecosystem ASC, directory ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]storage.RepositoryUpdateRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, fromRepositoryUpdateRow(row))
	}
	return records, nil
}

func (s *store) GetRepositoryUpdate(ctx context.Context, id string) (*storage.RepositoryUpdateRecord, error) {
	var row repositoryUpdateRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := fromRepositoryUpdateRow(row)
	return &record, nil
}

func (s *store) ReplaceRepositoryUpdates(ctx context.Context, repositoryID string, updates []storage.RepositoryUpdateRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var staleIDs []string
		err := tx.Model(&repositoryUpdateRow{}).
			Where("repository_id = ?", repositoryID).
			Pluck("id", &staleIDs).Error
		if err != nil {
			return err
		}
		if len(staleIDs) > 0 {
			if err := tx.Where("repository_update_id IN ?", staleIDs).Delete(&dependencySnapshotRow{}).Error; err != nil {
				return err
			}
			if err := tx.Where("repository_id = ?", repositoryID).Delete(&repositoryUpdateRow{}).Error; err != nil {
				return err
			}
		}
		for _, update := range updates {
			row := toRepositoryUpdateRow(update)
			row.RepositoryID = repositoryID
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *store) SetRepositoryUpdateFiles(ctx context.Context, id string, files []string) error {
	return s.db.WithContext(ctx).Model(&repositoryUpdateRow{}).
		Where("id = ?", id).
		Update("files", marshalJSON(files)).Error
}

func (s *store) GetUpdateJob(ctx context.Context, id string) (*storage.UpdateJobRecord, error) {
	var row updateJobRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := fromUpdateJobRow(row)
	return &record, nil
}

func (s *store) CreateUpdateJob(ctx context.Context, record storage.UpdateJobRecord) error {
	row := toUpdateJobRow(record)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *store) SaveUpdateJob(ctx context.Context, record storage.UpdateJobRecord) error {
	row := toUpdateJobRow(record)
	return s.db.WithContext(ctx).Clauses(upsertColumns(
		"status", "job_trigger", "job_config", "credentials", "warnings", "errors",
		"affected_pr_ids", "started_at", "finished_at", "duration_ms", "updated_at",
	)).Create(&row).Error
}

func (s *store) GetPullRequest(ctx context.Context, repositoryID, packageManager string, providerPRID int64) (*storage.PullRequestRecord, error) {
	var row pullRequestRow
	err := s.db.WithContext(ctx).
		First(&row, "repository_id = ? AND package_manager = ? AND provider_pr_id = ?",
			repositoryID, packageManager, providerPRID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := fromPullRequestRow(row)
	return &record, nil
}

func (s *store) ListOpenPullRequests(ctx context.Context, repositoryID, packageManager string) ([]storage.PullRequestRecord, error) {
	var rows []pullRequestRow
	err := s.db.WithContext(ctx).
		Where("repository_id = ? AND package_manager = ? AND status = ?",
			repositoryID, packageManager, storage.PROpen).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]storage.PullRequestRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, fromPullRequestRow(row))
	}
	return records, nil
}

func (s *store) CountOpenPullRequests(ctx context.Context, repositoryID, packageManager string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&pullRequestRow{}).
		Where("repository_id = ? AND package_manager = ? AND status = ?",
			repositoryID, packageManager, storage.PROpen).
		Count(&count).Error
	return count, err
}

func (s *store) SavePullRequest(ctx context.Context, record storage.PullRequestRecord) error {
	row := toPullRequestRow(record)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "repository_id"}, {Name: "package_manager"}, {Name: "provider_pr_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"status", "source_branch", "data", "updated_at"}),
	}).Create(&row).Error
}

func (s *store) UpsertDependencySnapshot(ctx context.Context, record storage.DependencySnapshotRecord) error {
	row := dependencySnapshotRow{
		RepositoryUpdateID: record.RepositoryUpdateID,
		Ecosystem:          record.Ecosystem,
		Dependencies:       string(record.Dependencies),
		UpdatedAt:          record.UpdatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "repository_update_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"ecosystem", "dependencies", "updated_at"}),
	}).Create(&row).Error
}

func (s *store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
