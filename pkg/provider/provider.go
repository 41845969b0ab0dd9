// Package provider defines the capability contract every git provider
// adapter implements. Adapters proxy 1:1 to provider APIs and hold no
// persisted state; retry policy belongs to the caller.
package provider

import (
	"context"
	"errors"
)

// Type identifies a supported git provider.
type Type string

const (
	TypeAzureDevOps Type = "azure_devops"
	TypeGitLab      Type = "gitlab"
	TypeBitbucket   Type = "bitbucket"
)

// ErrNotFound reports that the provider does not know the requested entity.
// Callers distinguish absence from transient failures with errors.Is.
var ErrNotFound = errors.New("provider: not found")

// ConfigFilePaths are the well-known configuration file locations, tried in
// order. The first existing file wins.
var ConfigFilePaths = []string{
	".azuredevops/dependabot.yml",
	".azuredevops/dependabot.yaml",
	".github/dependabot.yml",
	".github/dependabot.yaml",
}

// Credentials authenticate against one provider instance.
type Credentials struct {
	Username string
	Token    string
}

// Project is a provider-side grouping of repositories.
type Project struct {
	ID   string
	Name string
	Slug string
	URL  string
}

// Repository is a provider-side git repository.
type Repository struct {
	ID            string
	Name          string
	Slug          string
	URL           string
	Permalink     string
	DefaultBranch string
	Disabled      bool
	Fork          bool
}

// ConfigurationFile is the outcome of probing the well-known config paths.
type ConfigurationFile struct {
	Path     string
	Content  string
	CommitID string
	Slug     string
}

// HasConfiguration reports whether a usable configuration was found: both a
// commit ID and content must be present.
func (f *ConfigurationFile) HasConfiguration() bool {
	return f != nil && f.CommitID != "" && f.Content != ""
}

// FileChange is one file to create or replace in a pull-request branch.
type FileChange struct {
	Path    string
	Content string
}

// PullRequest is the provider's view of a created pull request.
type PullRequest struct {
	ID           int64
	Title        string
	SourceBranch string
	TargetBranch string
	URL          string
}

// CreatePullRequestInput carries everything needed to open a pull request,
// including the branch content.
type CreatePullRequestInput struct {
	ProjectID     string
	RepositoryID  string
	Title         string
	Description   string
	SourceBranch  string
	TargetBranch  string
	CommitMessage string
	Changes       []FileChange
	Labels        []string
	Assignees     []string
	Milestone     int
	Properties    map[string]string
}

// UpdatePullRequestInput replaces the content of an existing open pull
// request by pushing a fresh commit to its source branch.
type UpdatePullRequestInput struct {
	ProjectID     string
	RepositoryID  string
	PullRequestID int64
	Title         string
	Description   string
	SourceBranch  string
	CommitMessage string
	Changes       []FileChange
}

// AbandonPullRequestInput closes a pull request with an explanatory comment
// and optionally deletes its source branch.
type AbandonPullRequestInput struct {
	ProjectID          string
	RepositoryID       string
	PullRequestID      int64
	Comment            string
	SourceBranch       string
	DeleteSourceBranch bool
}

// SyncProvider is the capability set the synchronization core needs from a
// provider. Get operations report absence via ErrNotFound.
type SyncProvider interface {
	GetProject(ctx context.Context, projectID string) (*Project, error)
	GetRepositories(ctx context.Context, projectID string) ([]Repository, error)
	GetRepository(ctx context.Context, projectID, repositoryID string) (*Repository, error)
	GetConfigurationFile(ctx context.Context, project Project, repository Repository) (*ConfigurationFile, error)
	GetDefaultBranch(ctx context.Context, projectID, repositoryID string) (string, error)

	CreatePullRequest(ctx context.Context, input CreatePullRequestInput) (*PullRequest, error)
	UpdatePullRequest(ctx context.Context, input UpdatePullRequestInput) error
	AbandonPullRequest(ctx context.Context, input AbandonPullRequestInput) error
	AddCommentThread(ctx context.Context, projectID, repositoryID string, pullRequestID int64, comment string) error
}
