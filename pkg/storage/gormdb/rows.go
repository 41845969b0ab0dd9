package gormdb

import (
	"encoding/json"
	"time"

	"depsync/pkg/storage"
)

type organizationRow struct {
	ID            string    `gorm:"column:id;size:64;primaryKey"`
	Name          string    `gorm:"column:name;size:255"`
	ProviderType  string    `gorm:"column:provider_type;size:32;not null;uniqueIndex:idx_org_provider,priority:2"`
	BaseURL       string    `gorm:"column:base_url;size:512;not null;uniqueIndex:idx_org_provider,priority:1"`
	CredentialKey string    `gorm:"column:credential_key;size:255"`
	WebhookSecret string    `gorm:"column:webhook_secret;size:255"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (organizationRow) TableName() string { return "organizations" }

type projectRow struct {
	ID             string     `gorm:"column:id;size:64;primaryKey"`
	OrganizationID string     `gorm:"column:organization_id;size:64;not null;uniqueIndex:idx_project_provider,priority:1"`
	ProviderID     string     `gorm:"column:provider_id;size:128;not null;uniqueIndex:idx_project_provider,priority:2"`
	Name           string     `gorm:"column:name;size:255"`
	Slug           string     `gorm:"column:slug;size:255"`
	URL            string     `gorm:"column:url;size:512"`
	SyncStatus     string     `gorm:"column:sync_status;size:16"`
	SyncedAt       *time.Time `gorm:"column:synced_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (projectRow) TableName() string { return "projects" }

type repositoryRow struct {
	ID                 string     `gorm:"column:id;size:64;primaryKey"`
	ProjectID          string     `gorm:"column:project_id;size:64;not null;uniqueIndex:idx_repo_provider,priority:1;index:idx_repo_project"`
	ProviderID         string     `gorm:"column:provider_id;size:128;not null;uniqueIndex:idx_repo_provider,priority:2"`
	Name               string     `gorm:"column:name;size:255"`
	Slug               string     `gorm:"column:slug;size:255"`
	URL                string     `gorm:"column:url;size:512"`
	Permalink          string     `gorm:"column:permalink;size:512"`
	LatestCommit       string     `gorm:"column:latest_commit;size:64"`
	ConfigFilePath     string     `gorm:"column:config_file_path;size:255"`
	ConfigFileContents string     `gorm:"column:config_file_contents;type:text"`
	SyncStatus         string     `gorm:"column:sync_status;size:16"`
	SyncError          string     `gorm:"column:sync_error;type:text"`
	SyncedAt           *time.Time `gorm:"column:synced_at"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (repositoryRow) TableName() string { return "repositories" }

type repositoryUpdateRow struct {
	ID           string    `gorm:"column:id;size:64;primaryKey"`
	RepositoryID string    `gorm:"column:repository_id;size:64;not null;index:idx_update_repo"`
	Ecosystem    string    `gorm:"column:ecosystem;size:64;not null"`
	Directory    string    `gorm:"column:directory;size:255;not null"`
	Schedule     string    `gorm:"column:schedule;size:64"`
	Files        string    `gorm:"column:files;type:text"`
	ConfigJSON   string    `gorm:"column:config_json;type:text"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (repositoryUpdateRow) TableName() string { return "repository_updates" }

type updateJobRow struct {
	ID                 string     `gorm:"column:id;size:64;primaryKey"`
	RepositoryID       string     `gorm:"column:repository_id;size:64;not null;index:idx_job_repo"`
	RepositoryUpdateID string     `gorm:"column:repository_update_id;size:64;not null"`
	Status             string     `gorm:"column:status;size:16"`
	Trigger            string     `gorm:"column:job_trigger;size:32"`
	JobConfig          string     `gorm:"column:job_config;type:text"`
	Credentials        string     `gorm:"column:credentials;type:text"`
	Warnings           string     `gorm:"column:warnings;type:text"`
	Errors             string     `gorm:"column:errors;type:text"`
	AffectedPRIDs      string     `gorm:"column:affected_pr_ids;type:text"`
	JobToken           string     `gorm:"column:job_token;size:128"`
	CredentialsToken   string     `gorm:"column:credentials_token;size:128"`
	StartedAt          *time.Time `gorm:"column:started_at"`
	FinishedAt         *time.Time `gorm:"column:finished_at"`
	DurationMS         int64      `gorm:"column:duration_ms"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (updateJobRow) TableName() string { return "update_jobs" }

type pullRequestRow struct {
	ID             string    `gorm:"column:id;size:64;primaryKey"`
	RepositoryID   string    `gorm:"column:repository_id;size:64;not null;uniqueIndex:idx_pr,priority:1"`
	PackageManager string    `gorm:"column:package_manager;size:64;not null;uniqueIndex:idx_pr,priority:2"`
	ProviderPRID   int64     `gorm:"column:provider_pr_id;not null;uniqueIndex:idx_pr,priority:3"`
	Status         string    `gorm:"column:status;size:16"`
	SourceBranch   string    `gorm:"column:source_branch;size:512"`
	Data           string    `gorm:"column:data;type:text"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (pullRequestRow) TableName() string { return "pull_requests" }

type dependencySnapshotRow struct {
	RepositoryUpdateID string    `gorm:"column:repository_update_id;size:64;primaryKey"`
	Ecosystem          string    `gorm:"column:ecosystem;size:64"`
	Dependencies       string    `gorm:"column:dependencies;type:text"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (dependencySnapshotRow) TableName() string { return "dependency_snapshots" }

func marshalJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

func unmarshalStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func toOrganizationRow(r storage.OrganizationRecord) organizationRow {
	return organizationRow{
		ID:            r.ID,
		Name:          r.Name,
		ProviderType:  r.ProviderType,
		BaseURL:       r.BaseURL,
		CredentialKey: r.CredentialKey,
		WebhookSecret: r.WebhookSecret,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func fromOrganizationRow(d organizationRow) storage.OrganizationRecord {
	return storage.OrganizationRecord{
		ID:            d.ID,
		Name:          d.Name,
		ProviderType:  d.ProviderType,
		BaseURL:       d.BaseURL,
		CredentialKey: d.CredentialKey,
		WebhookSecret: d.WebhookSecret,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func toProjectRow(r storage.ProjectRecord) projectRow {
	return projectRow{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		ProviderID:     r.ProviderID,
		Name:           r.Name,
		Slug:           r.Slug,
		URL:            r.URL,
		SyncStatus:     r.SyncStatus,
		SyncedAt:       r.SyncedAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func fromProjectRow(d projectRow) storage.ProjectRecord {
	return storage.ProjectRecord{
		ID:             d.ID,
		OrganizationID: d.OrganizationID,
		ProviderID:     d.ProviderID,
		Name:           d.Name,
		Slug:           d.Slug,
		URL:            d.URL,
		SyncStatus:     d.SyncStatus,
		SyncedAt:       d.SyncedAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func toRepositoryRow(r storage.RepositoryRecord) repositoryRow {
	return repositoryRow{
		ID:                 r.ID,
		ProjectID:          r.ProjectID,
		ProviderID:         r.ProviderID,
		Name:               r.Name,
		Slug:               r.Slug,
		URL:                r.URL,
		Permalink:          r.Permalink,
		LatestCommit:       r.LatestCommit,
		ConfigFilePath:     r.ConfigFilePath,
		ConfigFileContents: r.ConfigFileContents,
		SyncStatus:         r.SyncStatus,
		SyncError:          r.SyncError,
		SyncedAt:           r.SyncedAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func fromRepositoryRow(d repositoryRow) storage.RepositoryRecord {
	return storage.RepositoryRecord{
		ID:                 d.ID,
		ProjectID:          d.ProjectID,
		ProviderID:         d.ProviderID,
		Name:               d.Name,
		Slug:               d.Slug,
		URL:                d.URL,
		Permalink:          d.Permalink,
		LatestCommit:       d.LatestCommit,
		ConfigFilePath:     d.ConfigFilePath,
		ConfigFileContents: d.ConfigFileContents,
		SyncStatus:         d.SyncStatus,
		SyncError:          d.SyncError,
		SyncedAt:           d.SyncedAt,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

func toRepositoryUpdateRow(r storage.RepositoryUpdateRecord) repositoryUpdateRow {
	return repositoryUpdateRow{
		ID:           r.ID,
		RepositoryID: r.RepositoryID,
		Ecosystem:    r.Ecosystem,
		Directory:    r.Directory,
		Schedule:     r.Schedule,
		Files:        marshalJSON(r.Files),
		ConfigJSON:   string(r.ConfigJSON),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func fromRepositoryUpdateRow(d repositoryUpdateRow) storage.RepositoryUpdateRecord {
	return storage.RepositoryUpdateRecord{
		ID:           d.ID,
		RepositoryID: d.RepositoryID,
		Ecosystem:    d.Ecosystem,
		Directory:    d.Directory,
		Schedule:     d.Schedule,
		Files:        unmarshalStrings(d.Files),
		ConfigJSON:   []byte(d.ConfigJSON),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func toUpdateJobRow(r storage.UpdateJobRecord) updateJobRow {
	return updateJobRow{
		ID:                 r.ID,
		RepositoryID:       r.RepositoryID,
		RepositoryUpdateID: r.RepositoryUpdateID,
		Status:             r.Status,
		Trigger:            r.Trigger,
		JobConfig:          string(r.JobConfig),
		Credentials:        string(r.Credentials),
		Warnings:           marshalJSON(r.Warnings),
		Errors:             marshalJSON(r.Errors),
		AffectedPRIDs:      marshalJSON(r.AffectedPRIDs),
		JobToken:           r.JobToken,
		CredentialsToken:   r.CredentialsToken,
		StartedAt:          r.StartedAt,
		FinishedAt:         r.FinishedAt,
		DurationMS:         r.DurationMS,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func fromUpdateJobRow(d updateJobRow) storage.UpdateJobRecord {
	record := storage.UpdateJobRecord{
		ID:                 d.ID,
		RepositoryID:       d.RepositoryID,
		RepositoryUpdateID: d.RepositoryUpdateID,
		Status:             d.Status,
		Trigger:            d.Trigger,
		JobConfig:          []byte(d.JobConfig),
		Credentials:        []byte(d.Credentials),
		JobToken:           d.JobToken,
		CredentialsToken:   d.CredentialsToken,
		StartedAt:          d.StartedAt,
		FinishedAt:         d.FinishedAt,
		DurationMS:         d.DurationMS,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
	if d.Warnings != "" {
		_ = json.Unmarshal([]byte(d.Warnings), &record.Warnings)
	}
	if d.Errors != "" {
		_ = json.Unmarshal([]byte(d.Errors), &record.Errors)
	}
	if d.AffectedPRIDs != "" {
		_ = json.Unmarshal([]byte(d.AffectedPRIDs), &record.AffectedPRIDs)
	}
	return record
}

func toPullRequestRow(r storage.PullRequestRecord) pullRequestRow {
	return pullRequestRow{
		ID:             r.ID,
		RepositoryID:   r.RepositoryID,
		PackageManager: r.PackageManager,
		ProviderPRID:   r.ProviderPRID,
		Status:         r.Status,
		SourceBranch:   r.SourceBranch,
		Data:           string(r.Data),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func fromPullRequestRow(d pullRequestRow) storage.PullRequestRecord {
	return storage.PullRequestRecord{
		ID:             d.ID,
		RepositoryID:   d.RepositoryID,
		PackageManager: d.PackageManager,
		ProviderPRID:   d.ProviderPRID,
		Status:         d.Status,
		SourceBranch:   d.SourceBranch,
		Data:           []byte(d.Data),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}
