// Package storagetest provides an in-memory storage.Store used by tests.
package storagetest

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"depsync/pkg/storage"
)

// Store keeps every record in maps guarded by one mutex. It mirrors the
// database-backed implementation's absence semantics: getters return
// (nil, nil) for missing records.
type Store struct {
	mu sync.Mutex

	Organizations map[string]storage.OrganizationRecord
	Projects      map[string]storage.ProjectRecord
	Repositories  map[string]storage.RepositoryRecord
	Updates       map[string]storage.RepositoryUpdateRecord
	Jobs          map[string]storage.UpdateJobRecord
	PullRequests  map[string]storage.PullRequestRecord
	Snapshots     map[string]storage.DependencySnapshotRecord

	DeletedRepositories []string
}

func New() *Store {
	return &Store{
		Organizations: map[string]storage.OrganizationRecord{},
		Projects:      map[string]storage.ProjectRecord{},
		Repositories:  map[string]storage.RepositoryRecord{},
		Updates:       map[string]storage.RepositoryUpdateRecord{},
		Jobs:          map[string]storage.UpdateJobRecord{},
		PullRequests:  map[string]storage.PullRequestRecord{},
		Snapshots:     map[string]storage.DependencySnapshotRecord{},
	}
}

func prKey(repositoryID, packageManager string, providerPRID int64) string {
	return repositoryID + "|" + packageManager + "|" + strconv.FormatInt(providerPRID, 10)
}

func (s *Store) GetOrganization(_ context.Context, id string) (*storage.OrganizationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.Organizations[id]; ok {
		return &record, nil
	}
	return nil, nil
}

func (s *Store) UpsertOrganization(_ context.Context, record storage.OrganizationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Organizations[record.ID] = record
	return nil
}

func (s *Store) GetProject(_ context.Context, id string) (*storage.ProjectRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.Projects[id]; ok {
		return &record, nil
	}
	return nil, nil
}

func (s *Store) GetProjectByProviderID(_ context.Context, organizationID, providerID string) (*storage.ProjectRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.Projects {
		if record.OrganizationID == organizationID && record.ProviderID == providerID {
			found := record
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) ListProjects(_ context.Context, organizationID string) ([]storage.ProjectRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.ProjectRecord
	for _, record := range s.Projects {
		if record.OrganizationID == organizationID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertProject(_ context.Context, record storage.ProjectRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Projects[record.ID] = record
	return nil
}

func (s *Store) GetRepository(_ context.Context, id string) (*storage.RepositoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.Repositories[id]; ok {
		return &record, nil
	}
	return nil, nil
}

func (s *Store) GetRepositoryByProviderID(_ context.Context, projectID, providerID string) (*storage.RepositoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.Repositories {
		if record.ProjectID == projectID && record.ProviderID == providerID {
			found := record
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) ListRepositories(_ context.Context, projectID string) ([]storage.RepositoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.RepositoryRecord
	for _, record := range s.Repositories {
		if record.ProjectID == projectID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertRepository(_ context.Context, record storage.RepositoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Repositories[record.ID] = record
	return nil
}

func (s *Store) DeleteRepository(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Repositories, id)
	for updateID, update := range s.Updates {
		if update.RepositoryID == id {
			delete(s.Updates, updateID)
			delete(s.Snapshots, updateID)
		}
	}
	for jobID, job := range s.Jobs {
		if job.RepositoryID == id {
			delete(s.Jobs, jobID)
		}
	}
	for key, pr := range s.PullRequests {
		if pr.RepositoryID == id {
			delete(s.PullRequests, key)
		}
	}
	s.DeletedRepositories = append(s.DeletedRepositories, id)
	return nil
}

func (s *Store) ListRepositoryUpdates(_ context.Context, repositoryID string) ([]storage.RepositoryUpdateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.RepositoryUpdateRecord
	for _, record := range s.Updates {
		if record.RepositoryID == repositoryID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ecosystem != out[j].Ecosystem {
			return out[i].Ecosystem < out[j].Ecosystem
		}
		return out[i].Directory < out[j].Directory
	})
	return out, nil
}

func (s *Store) GetRepositoryUpdate(_ context.Context, id string) (*storage.RepositoryUpdateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.Updates[id]; ok {
		return &record, nil
	}
	return nil, nil
}

func (s *Store) ReplaceRepositoryUpdates(_ context.Context, repositoryID string, updates []storage.RepositoryUpdateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for updateID, update := range s.Updates {
		if update.RepositoryID == repositoryID {
			delete(s.Updates, updateID)
			delete(s.Snapshots, updateID)
		}
	}
	for _, update := range updates {
		update.RepositoryID = repositoryID
		s.Updates[update.ID] = update
	}
	return nil
}

func (s *Store) SetRepositoryUpdateFiles(_ context.Context, id string, files []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.Updates[id]
	if !ok {
		return nil
	}
	record.Files = files
	s.Updates[id] = record
	return nil
}

func (s *Store) GetUpdateJob(_ context.Context, id string) (*storage.UpdateJobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.Jobs[id]; ok {
		return &record, nil
	}
	return nil, nil
}

func (s *Store) CreateUpdateJob(_ context.Context, record storage.UpdateJobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Jobs[record.ID] = record
	return nil
}

func (s *Store) SaveUpdateJob(_ context.Context, record storage.UpdateJobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Jobs[record.ID] = record
	return nil
}

func (s *Store) GetPullRequest(_ context.Context, repositoryID, packageManager string, providerPRID int64) (*storage.PullRequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.PullRequests {
		if record.RepositoryID == repositoryID &&
			record.PackageManager == packageManager &&
			record.ProviderPRID == providerPRID {
			found := record
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) ListOpenPullRequests(_ context.Context, repositoryID, packageManager string) ([]storage.PullRequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.PullRequestRecord
	for _, record := range s.PullRequests {
		if record.RepositoryID == repositoryID &&
			record.PackageManager == packageManager &&
			record.Status == storage.PROpen {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderPRID < out[j].ProviderPRID })
	return out, nil
}

func (s *Store) CountOpenPullRequests(ctx context.Context, repositoryID, packageManager string) (int64, error) {
	open, err := s.ListOpenPullRequests(ctx, repositoryID, packageManager)
	if err != nil {
		return 0, err
	}
	return int64(len(open)), nil
}

func (s *Store) SavePullRequest(_ context.Context, record storage.PullRequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PullRequests[prKey(record.RepositoryID, record.PackageManager, record.ProviderPRID)] = record
	return nil
}

func (s *Store) UpsertDependencySnapshot(_ context.Context, record storage.DependencySnapshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Snapshots[record.RepositoryUpdateID] = record
	return nil
}

func (s *Store) Close() error { return nil }
