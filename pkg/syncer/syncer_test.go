package syncer

import (
	"context"
	"testing"

	"depsync/pkg/provider"
	"depsync/pkg/storage"
	"depsync/pkg/storage/storagetest"
)

const goodConfig = `
version: 2
updates:
  - package-ecosystem: npm
    directory: /
    schedule:
      interval: daily
`

type fakeProvider struct {
	project *provider.Project
	repos   []provider.Repository
	files   map[string]*provider.ConfigurationFile
}

func (f *fakeProvider) GetProject(_ context.Context, id string) (*provider.Project, error) {
	if f.project == nil {
		return nil, provider.ErrNotFound
	}
	return f.project, nil
}

func (f *fakeProvider) GetRepositories(_ context.Context, _ string) ([]provider.Repository, error) {
	return f.repos, nil
}

func (f *fakeProvider) GetRepository(_ context.Context, _, id string) (*provider.Repository, error) {
	for i := range f.repos {
		if f.repos[i].ID == id {
			return &f.repos[i], nil
		}
	}
	return nil, provider.ErrNotFound
}

func (f *fakeProvider) GetConfigurationFile(_ context.Context, _ provider.Project, repo provider.Repository) (*provider.ConfigurationFile, error) {
	if file, ok := f.files[repo.ID]; ok {
		return file, nil
	}
	return &provider.ConfigurationFile{Slug: repo.Slug}, nil
}

func (f *fakeProvider) GetDefaultBranch(_ context.Context, _, _ string) (string, error) {
	return "main", nil
}

func (f *fakeProvider) CreatePullRequest(_ context.Context, _ provider.CreatePullRequestInput) (*provider.PullRequest, error) {
	return nil, nil
}
func (f *fakeProvider) UpdatePullRequest(_ context.Context, _ provider.UpdatePullRequestInput) error {
	return nil
}
func (f *fakeProvider) AbandonPullRequest(_ context.Context, _ provider.AbandonPullRequestInput) error {
	return nil
}
func (f *fakeProvider) AddCommentThread(_ context.Context, _, _ string, _ int64, _ string) error {
	return nil
}

func newSynchronizer(store *storagetest.Store, fake *fakeProvider) *Synchronizer {
	return &Synchronizer{
		Store: store,
		ProviderFor: func(_ context.Context, _ storage.OrganizationRecord) (provider.SyncProvider, error) {
			return fake, nil
		},
	}
}

func seed(store *storagetest.Store) (storage.OrganizationRecord, storage.ProjectRecord) {
	org := storage.OrganizationRecord{ID: "org-1", ProviderType: "azure_devops", BaseURL: "https://dev.azure.com/contoso"}
	project := storage.ProjectRecord{ID: "proj-1", OrganizationID: "org-1", ProviderID: "prov-proj-1", Name: "Fabrikam"}
	store.Organizations[org.ID] = org
	store.Projects[project.ID] = project
	return org, project
}

func TestSyncRepositoriesCreatesRepository(t *testing.T) {
	store := storagetest.New()
	org, project := seed(store)
	fake := &fakeProvider{
		repos: []provider.Repository{{ID: "r1", Name: "app", Slug: "Fabrikam/app", URL: "https://x/app"}},
		files: map[string]*provider.ConfigurationFile{
			"r1": {Path: ".github/dependabot.yml", Content: goodConfig, CommitID: "c1", Slug: "Fabrikam/app"},
		},
	}
	sync := newSynchronizer(store, fake)

	stats, err := sync.SyncRepositories(context.Background(), org, project)
	if err != nil {
		t.Fatalf("SyncRepositories: %v", err)
	}
	if stats.Count != 1 || stats.Updated != 1 || stats.Deleted != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	repos, _ := store.ListRepositories(context.Background(), project.ID)
	if len(repos) != 1 {
		t.Fatalf("expected 1 repository, got %d", len(repos))
	}
	repo := repos[0]
	if repo.LatestCommit != "c1" || repo.SyncStatus != storage.SyncSuccess {
		t.Fatalf("unexpected repository: %+v", repo)
	}

	updates, _ := store.ListRepositoryUpdates(context.Background(), repo.ID)
	if len(updates) != 1 || updates[0].Ecosystem != "npm" || updates[0].Directory != "/" {
		t.Fatalf("unexpected updates: %+v", updates)
	}
}

func TestSyncRepositoriesIdempotent(t *testing.T) {
	store := storagetest.New()
	org, project := seed(store)
	fake := &fakeProvider{
		repos: []provider.Repository{{ID: "r1", Name: "app", Slug: "Fabrikam/app", URL: "https://x/app"}},
		files: map[string]*provider.ConfigurationFile{
			"r1": {Path: ".github/dependabot.yml", Content: goodConfig, CommitID: "c1", Slug: "Fabrikam/app"},
		},
	}
	sync := newSynchronizer(store, fake)

	if _, err := sync.SyncRepositories(context.Background(), org, project); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	stats, err := sync.SyncRepositories(context.Background(), org, project)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if stats.Updated != 0 || stats.Deleted != 0 {
		t.Fatalf("second sync should be a no-op, got %+v", stats)
	}
}

func TestRenameForcesUpdateWithoutNewCommit(t *testing.T) {
	store := storagetest.New()
	org, project := seed(store)
	fake := &fakeProvider{
		repos: []provider.Repository{{ID: "r1", Name: "app", Slug: "Fabrikam/app", URL: "https://x/app"}},
		files: map[string]*provider.ConfigurationFile{
			"r1": {Path: ".github/dependabot.yml", Content: goodConfig, CommitID: "c1", Slug: "Fabrikam/app"},
		},
	}
	sync := newSynchronizer(store, fake)
	if _, err := sync.SyncRepositories(context.Background(), org, project); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	fake.repos[0].Name = "app-renamed"
	fake.files["r1"].Slug = "Fabrikam/app-renamed"
	stats, err := sync.SyncRepositories(context.Background(), org, project)
	if err != nil {
		t.Fatalf("rename sync: %v", err)
	}
	if stats.Updated != 1 {
		t.Fatalf("rename should count as update, got %+v", stats)
	}

	repos, _ := store.ListRepositories(context.Background(), project.ID)
	if repos[0].Name != "app-renamed" {
		t.Fatalf("name not refreshed: %+v", repos[0])
	}
}

func TestMissingConfigurationDeletesRepository(t *testing.T) {
	store := storagetest.New()
	org, project := seed(store)
	fake := &fakeProvider{
		repos: []provider.Repository{{ID: "r1", Name: "app", Slug: "Fabrikam/app"}},
		files: map[string]*provider.ConfigurationFile{
			"r1": {Path: ".github/dependabot.yml", Content: goodConfig, CommitID: "c1", Slug: "Fabrikam/app"},
		},
	}
	sync := newSynchronizer(store, fake)
	if _, err := sync.SyncRepositories(context.Background(), org, project); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	delete(fake.files, "r1")
	stats, err := sync.SyncRepositories(context.Background(), org, project)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if stats.Deleted != 1 {
		t.Fatalf("expected 1 deletion, got %+v", stats)
	}
	repos, _ := store.ListRepositories(context.Background(), project.ID)
	if len(repos) != 0 {
		t.Fatalf("repository should be gone, got %+v", repos)
	}
}

func TestBulkSyncDeletesVanishedRepository(t *testing.T) {
	store := storagetest.New()
	org, project := seed(store)
	fake := &fakeProvider{
		repos: []provider.Repository{{ID: "r1", Name: "app", Slug: "Fabrikam/app"}},
		files: map[string]*provider.ConfigurationFile{
			"r1": {Path: ".github/dependabot.yml", Content: goodConfig, CommitID: "c1", Slug: "Fabrikam/app"},
		},
	}
	sync := newSynchronizer(store, fake)
	if _, err := sync.SyncRepositories(context.Background(), org, project); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	fake.repos = nil
	stats, err := sync.SyncRepositories(context.Background(), org, project)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if stats.Deleted != 1 {
		t.Fatalf("vanished repository should be deleted, got %+v", stats)
	}
}

func TestDisabledAndForkedRepositoriesSkipped(t *testing.T) {
	store := storagetest.New()
	org, project := seed(store)
	fake := &fakeProvider{
		repos: []provider.Repository{{ID: "r1", Name: "app", Slug: "Fabrikam/app"}},
		files: map[string]*provider.ConfigurationFile{
			"r1": {Path: ".github/dependabot.yml", Content: goodConfig, CommitID: "c1", Slug: "Fabrikam/app"},
		},
	}
	sync := newSynchronizer(store, fake)
	if _, err := sync.SyncRepositories(context.Background(), org, project); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	fake.repos[0].Disabled = true
	stats, err := sync.SyncRepositories(context.Background(), org, project)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if stats.Deleted != 0 || stats.Updated != 0 {
		t.Fatalf("disabled repository must be skipped, not deleted: %+v", stats)
	}
	repos, _ := store.ListRepositories(context.Background(), project.ID)
	if len(repos) != 1 {
		t.Fatalf("record should survive the skip, got %d", len(repos))
	}
}

func TestParseFailureKeepsRecordWithError(t *testing.T) {
	store := storagetest.New()
	org, project := seed(store)
	fake := &fakeProvider{
		repos: []provider.Repository{{ID: "r1", Name: "app", Slug: "Fabrikam/app"}},
		files: map[string]*provider.ConfigurationFile{
			"r1": {Path: ".github/dependabot.yml", Content: "version: 1\n", CommitID: "c1", Slug: "Fabrikam/app"},
		},
	}
	sync := newSynchronizer(store, fake)

	if _, err := sync.SyncRepositories(context.Background(), org, project); err != nil {
		t.Fatalf("SyncRepositories: %v", err)
	}
	repos, _ := store.ListRepositories(context.Background(), project.ID)
	if len(repos) != 1 {
		t.Fatalf("record must be kept on parse failure, got %d", len(repos))
	}
	if repos[0].SyncStatus != storage.SyncFailed || repos[0].SyncError == "" {
		t.Fatalf("expected failed status with error, got %+v", repos[0])
	}
}

func TestSyncProjectRefreshesName(t *testing.T) {
	store := storagetest.New()
	org, project := seed(store)
	fake := &fakeProvider{
		project: &provider.Project{ID: "prov-proj-1", Name: "Fabrikam Renamed", Slug: "fabrikam"},
	}
	sync := newSynchronizer(store, fake)

	if err := sync.SyncProject(context.Background(), org, project); err != nil {
		t.Fatalf("SyncProject: %v", err)
	}
	stored, _ := store.GetProject(context.Background(), project.ID)
	if stored.Name != "Fabrikam Renamed" || stored.SyncStatus != storage.SyncSuccess {
		t.Fatalf("unexpected project: %+v", stored)
	}
	if stored.SyncedAt == nil {
		t.Fatal("expected synced timestamp")
	}
}

func TestSyncProjectAbsentIsNotAnError(t *testing.T) {
	store := storagetest.New()
	org, project := seed(store)
	sync := newSynchronizer(store, &fakeProvider{})

	if err := sync.SyncProject(context.Background(), org, project); err != nil {
		t.Fatalf("absent project must not error: %v", err)
	}
}

func TestSyncRepositoryDeletesWhenProviderDropsIt(t *testing.T) {
	store := storagetest.New()
	org, project := seed(store)
	fake := &fakeProvider{
		repos: []provider.Repository{{ID: "r1", Name: "app", Slug: "Fabrikam/app"}},
		files: map[string]*provider.ConfigurationFile{
			"r1": {Path: ".github/dependabot.yml", Content: goodConfig, CommitID: "c1", Slug: "Fabrikam/app"},
		},
	}
	sync := newSynchronizer(store, fake)
	if _, err := sync.SyncRepository(context.Background(), org, project, "r1"); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	fake.repos = nil
	if _, err := sync.SyncRepository(context.Background(), org, project, "r1"); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	repos, _ := store.ListRepositories(context.Background(), project.ID)
	if len(repos) != 0 {
		t.Fatalf("repository should be deleted, got %+v", repos)
	}
}
