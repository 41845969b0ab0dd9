package storage

import (
	"context"
	"time"
)

// Synchronization statuses shared by projects and repositories.
const (
	SyncPending = "pending"
	SyncSuccess = "success"
	SyncFailed  = "failed"
)

// Update-job statuses. A job is mutated exclusively by the callback handler
// while running and becomes immutable once terminal.
const (
	JobScheduled = "scheduled"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Update-job triggers.
const (
	TriggerSynchronization = "synchronization"
	TriggerManual          = "manual"
	TriggerSchedule        = "schedule"
)

// Pull-request statuses.
const (
	PROpen   = "open"
	PRClosed = "closed"
	PRMerged = "merged"
)

// OrganizationRecord is a tenant: one provider type, one base URL, opaque
// credential and webhook-secret references. (BaseURL, ProviderType) is unique
// across organizations.
type OrganizationRecord struct {
	ID            string
	Name          string
	ProviderType  string
	BaseURL       string
	CredentialKey string
	WebhookSecret string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProjectRecord is a provider-side grouping owned by an organization. Never
// auto-deleted; disconnecting is an explicit operation outside this core.
type ProjectRecord struct {
	ID             string
	OrganizationID string
	ProviderID     string
	Name           string
	Slug           string
	URL            string
	SyncStatus     string
	SyncedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RepositoryRecord exists only while the provider reports a configuration
// file with both a commit ID and content for the repository.
type RepositoryRecord struct {
	ID                 string
	ProjectID          string
	ProviderID         string
	Name               string
	Slug               string
	URL                string
	Permalink          string
	LatestCommit       string
	ConfigFilePath     string
	ConfigFileContents string
	SyncStatus         string
	SyncError          string
	SyncedAt           *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// RepositoryUpdateRecord is one ecosystem/directory pairing declared in a
// repository's configuration file. Derived by full re-parse on each detected
// change, never incrementally patched.
type RepositoryUpdateRecord struct {
	ID           string
	RepositoryID string
	Ecosystem    string
	Directory    string
	Schedule     string
	Files        []string
	ConfigJSON   []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// JobWarning is a warning the runner reported for an update job.
type JobWarning struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// JobError is an error the runner reported for an update job.
type JobError struct {
	Type    string                 `json:"type"`
	Details map[string]interface{} `json:"details,omitempty"`
	Unknown bool                   `json:"unknown,omitempty"`
}

// UpdateJobRecord is one execution of the external job runner for a
// RepositoryUpdate.
type UpdateJobRecord struct {
	ID                 string
	RepositoryID       string
	RepositoryUpdateID string
	Status             string
	Trigger            string
	JobConfig          []byte
	Credentials        []byte
	Warnings           []JobWarning
	Errors             []JobError
	AffectedPRIDs      []int64
	JobToken           string
	CredentialsToken   string
	StartedAt          *time.Time
	FinishedAt         *time.Time
	DurationMS         int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// PullRequestRecord tracks one provider pull request per
// (repository, package manager, provider PR ID). Closed PRs are kept as
// historical records.
type PullRequestRecord struct {
	ID             string
	RepositoryID   string
	PackageManager string
	ProviderPRID   int64
	Status         string
	SourceBranch   string
	Data           []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DependencySnapshotRecord is the raw dependency list the runner reported,
// keyed by RepositoryUpdate. Idempotent upsert.
type DependencySnapshotRecord struct {
	RepositoryUpdateID string
	Ecosystem          string
	Dependencies       []byte
	UpdatedAt          time.Time
}

// Store is the persistence interface for the synchronization and
// orchestration core. Getters return (nil, nil) when the record is absent.
type Store interface {
	GetOrganization(ctx context.Context, id string) (*OrganizationRecord, error)
	UpsertOrganization(ctx context.Context, record OrganizationRecord) error

	GetProject(ctx context.Context, id string) (*ProjectRecord, error)
	GetProjectByProviderID(ctx context.Context, organizationID, providerID string) (*ProjectRecord, error)
	ListProjects(ctx context.Context, organizationID string) ([]ProjectRecord, error)
	UpsertProject(ctx context.Context, record ProjectRecord) error

	GetRepository(ctx context.Context, id string) (*RepositoryRecord, error)
	GetRepositoryByProviderID(ctx context.Context, projectID, providerID string) (*RepositoryRecord, error)
	ListRepositories(ctx context.Context, projectID string) ([]RepositoryRecord, error)
	UpsertRepository(ctx context.Context, record RepositoryRecord) error
	// DeleteRepository cascades to the repository's updates, jobs, pull
	// requests and snapshots.
	DeleteRepository(ctx context.Context, id string) error

	ListRepositoryUpdates(ctx context.Context, repositoryID string) ([]RepositoryUpdateRecord, error)
	GetRepositoryUpdate(ctx context.Context, id string) (*RepositoryUpdateRecord, error)
	ReplaceRepositoryUpdates(ctx context.Context, repositoryID string, updates []RepositoryUpdateRecord) error
	SetRepositoryUpdateFiles(ctx context.Context, id string, files []string) error

	GetUpdateJob(ctx context.Context, id string) (*UpdateJobRecord, error)
	CreateUpdateJob(ctx context.Context, record UpdateJobRecord) error
	SaveUpdateJob(ctx context.Context, record UpdateJobRecord) error

	GetPullRequest(ctx context.Context, repositoryID, packageManager string, providerPRID int64) (*PullRequestRecord, error)
	ListOpenPullRequests(ctx context.Context, repositoryID, packageManager string) ([]PullRequestRecord, error)
	CountOpenPullRequests(ctx context.Context, repositoryID, packageManager string) (int64, error)
	SavePullRequest(ctx context.Context, record PullRequestRecord) error

	UpsertDependencySnapshot(ctx context.Context, record DependencySnapshotRecord) error

	Close() error
}
