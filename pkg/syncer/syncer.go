// Package syncer reconciles persisted repositories with the provider's view
// of their dependency-update configuration files.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"depsync/internal"
	"depsync/pkg/jobs"
	"depsync/pkg/provider"
	"depsync/pkg/storage"
	"depsync/pkg/updateconfig"
)

// Stats aggregates one bulk synchronization run.
type Stats struct {
	Count   int
	Deleted int
	Updated int
}

// Synchronizer drives all reconciliation variants over one shared core,
// synchronizeInner. Reconciliation is idempotent and keyed on the
// configuration file's commit ID, so re-running after a partial failure
// converges.
type Synchronizer struct {
	Store       storage.Store
	Secrets     internal.SecretResolver
	Trigger     jobs.Trigger
	Logger      *log.Logger
	ProviderFor func(ctx context.Context, org storage.OrganizationRecord) (provider.SyncProvider, error)

	// ThrottleEvery and ThrottlePause pace configuration-file fetches during
	// bulk sync. TriggerJobs enqueues update jobs after configuration
	// changes.
	ThrottleEvery int
	ThrottlePause time.Duration
	TriggerJobs   bool
}

func (s *Synchronizer) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// synchronizeInner reconciles one repository against the fetched
// configuration file. It is the sole deletion path for repository records.
func (s *Synchronizer) synchronizeInner(
	ctx context.Context,
	project storage.ProjectRecord,
	repo provider.Repository,
	file *provider.ConfigurationFile,
	triggerJobs bool,
) (updated, deleted bool, err error) {
	local, err := s.Store.GetRepositoryByProviderID(ctx, project.ID, repo.ID)
	if err != nil {
		return false, false, err
	}

	if !file.HasConfiguration() {
		if local != nil {
			if err := s.Store.DeleteRepository(ctx, local.ID); err != nil {
				return false, false, err
			}
			s.logger().Printf("repository %s (%s) lost its configuration, deleted", local.Slug, local.ID)
			return false, true, nil
		}
		return false, false, nil
	}

	commitChanged := local == nil ||
		local.LatestCommit != file.CommitID ||
		local.Name != repo.Name ||
		local.Slug != file.Slug ||
		local.URL != repo.URL

	now := time.Now().UTC()
	if local == nil {
		// Create eagerly so the repository is visible even if parsing the
		// configuration fails below.
		local = &storage.RepositoryRecord{
			ID:         watermill.NewUUID(),
			ProjectID:  project.ID,
			ProviderID: repo.ID,
			Name:       repo.Name,
			Slug:       file.Slug,
			URL:        repo.URL,
			Permalink:  repo.Permalink,
			SyncStatus: storage.SyncPending,
			CreatedAt:  now,
		}
		if err := s.Store.UpsertRepository(ctx, *local); err != nil {
			return false, false, err
		}
	}

	if !commitChanged {
		return false, false, nil
	}

	cfg, parseErr := updateconfig.Parse(ctx, file.Content, file.Path, updateconfig.VariableFinder(s.Secrets))

	local.Name = repo.Name
	local.Slug = file.Slug
	local.URL = repo.URL
	local.Permalink = repo.Permalink
	local.LatestCommit = file.CommitID
	local.ConfigFilePath = file.Path
	local.ConfigFileContents = file.Content
	local.SyncedAt = &now
	local.UpdatedAt = now
	if parseErr != nil {
		local.SyncStatus = storage.SyncFailed
		local.SyncError = parseErr.Error()
	} else {
		local.SyncStatus = storage.SyncSuccess
		local.SyncError = ""
	}
	if err := s.Store.UpsertRepository(ctx, *local); err != nil {
		return false, false, err
	}

	if parseErr != nil {
		s.logger().Printf("repository %s configuration invalid: %v", local.Slug, parseErr)
		return true, false, nil
	}

	if err := s.replaceUpdates(ctx, local.ID, cfg); err != nil {
		return false, false, err
	}

	if triggerJobs && s.Trigger != nil {
		// Fire-and-forget: the sync call never blocks on job scheduling.
		repositoryID := local.ID
		background := context.WithoutCancel(ctx)
		go func() {
			if err := s.Trigger.TriggerRepositoryUpdates(background, repositoryID, storage.TriggerSynchronization); err != nil {
				s.logger().Printf("trigger update jobs for repository %s failed: %v", repositoryID, err)
			}
		}()
	}
	return true, false, nil
}

// replaceUpdates derives RepositoryUpdate records by full re-parse, one per
// ecosystem/directory pairing.
func (s *Synchronizer) replaceUpdates(ctx context.Context, repositoryID string, cfg *updateconfig.Config) error {
	now := time.Now().UTC()
	var records []storage.RepositoryUpdateRecord
	for _, update := range cfg.Updates {
		configJSON, err := json.Marshal(update)
		if err != nil {
			return err
		}
		for _, dir := range update.EffectiveDirectories() {
			records = append(records, storage.RepositoryUpdateRecord{
				ID:           watermill.NewUUID(),
				RepositoryID: repositoryID,
				Ecosystem:    update.PackageEcosystem,
				Directory:    dir,
				Schedule:     update.Schedule.Interval,
				ConfigJSON:   configJSON,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
		}
	}
	return s.Store.ReplaceRepositoryUpdates(ctx, repositoryID, records)
}

// SyncRepository reconciles a single repository identified by its provider
// ID. A repository the provider no longer returns, or reports as disabled or
// forked, goes through the deletion path.
func (s *Synchronizer) SyncRepository(ctx context.Context, org storage.OrganizationRecord, project storage.ProjectRecord, repositoryProviderID string) (bool, error) {
	p, err := s.ProviderFor(ctx, org)
	if err != nil {
		return false, err
	}

	repo, err := p.GetRepository(ctx, project.ProviderID, repositoryProviderID)
	if errors.Is(err, provider.ErrNotFound) {
		updated, _, err := s.synchronizeInner(ctx, project, provider.Repository{ID: repositoryProviderID}, &provider.ConfigurationFile{}, s.TriggerJobs)
		return updated, err
	}
	if err != nil {
		return false, err
	}
	if repo.Disabled || repo.Fork {
		updated, _, err := s.synchronizeInner(ctx, project, *repo, &provider.ConfigurationFile{}, s.TriggerJobs)
		return updated, err
	}

	file, err := p.GetConfigurationFile(ctx, provider.Project{ID: project.ProviderID}, *repo)
	if err != nil {
		return false, err
	}
	updated, _, err := s.synchronizeInner(ctx, project, *repo, file, s.TriggerJobs)
	return updated, err
}

// SyncRepositories reconciles every repository of a project. Disabled and
// forked repositories are skipped entirely: not synced, not deleted.
// Fetches are paced sequentially, per-item failures isolated, and persisted
// repositories absent from the valid-configuration set are deleted.
func (s *Synchronizer) SyncRepositories(ctx context.Context, org storage.OrganizationRecord, project storage.ProjectRecord) (Stats, error) {
	p, err := s.ProviderFor(ctx, org)
	if err != nil {
		return Stats{}, err
	}

	repos, err := p.GetRepositories(ctx, project.ProviderID)
	if errors.Is(err, provider.ErrNotFound) {
		// No accessible repositories is distinct from an empty list; without
		// a trustworthy listing nothing is deleted.
		s.logger().Printf("project %s has no accessible repositories, skipping", project.ID)
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Count: len(repos)}
	// retained holds every provider ID the deletion pass must leave alone:
	// repositories with a valid configuration, skipped ones, and ones whose
	// fetch failed this run.
	retained := map[string]bool{}
	fetches := 0

	for _, repo := range repos {
		if repo.Disabled || repo.Fork {
			retained[repo.ID] = true
			continue
		}

		file, err := p.GetConfigurationFile(ctx, provider.Project{ID: project.ProviderID}, repo)
		fetches++
		if s.ThrottleEvery > 0 && fetches%s.ThrottleEvery == 0 {
			time.Sleep(s.ThrottlePause)
		}
		if err != nil {
			s.logger().Printf("fetch configuration for %s failed: %v", repo.Slug, err)
			retained[repo.ID] = true
			continue
		}
		if file.HasConfiguration() {
			retained[repo.ID] = true
		}

		updated, deleted, err := s.synchronizeInner(ctx, project, repo, file, s.TriggerJobs)
		if err != nil {
			s.logger().Printf("synchronize %s failed: %v", repo.Slug, err)
			continue
		}
		if updated {
			stats.Updated++
		}
		if deleted {
			stats.Deleted++
		}
	}

	persisted, err := s.Store.ListRepositories(ctx, project.ID)
	if err != nil {
		return stats, err
	}
	for _, record := range persisted {
		if retained[record.ProviderID] {
			continue
		}
		if err := s.Store.DeleteRepository(ctx, record.ID); err != nil {
			s.logger().Printf("delete repository %s failed: %v", record.ID, err)
			continue
		}
		stats.Deleted++
	}
	return stats, nil
}

// SyncProject refetches the provider project and refreshes the cached name.
// A project the provider no longer reports is treated as transient, not an
// error.
func (s *Synchronizer) SyncProject(ctx context.Context, org storage.OrganizationRecord, project storage.ProjectRecord) error {
	p, err := s.ProviderFor(ctx, org)
	if err != nil {
		return err
	}

	remote, err := p.GetProject(ctx, project.ProviderID)
	if errors.Is(err, provider.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	project.Name = remote.Name
	project.Slug = remote.Slug
	project.URL = remote.URL
	project.SyncStatus = storage.SyncSuccess
	project.SyncedAt = &now
	project.UpdatedAt = now
	return s.Store.UpsertProject(ctx, project)
}
