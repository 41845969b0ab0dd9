package jobs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"depsync/internal"
	"depsync/pkg/provider"
	"depsync/pkg/storage"
	"depsync/pkg/updateconfig"
)

// Trigger starts update jobs. The Synchronizer calls it fire-and-forget
// after a configuration change.
type Trigger interface {
	TriggerRepositoryUpdates(ctx context.Context, repositoryID, trigger string) error
}

// Orchestrator builds one update job per configured update entry of a
// repository, persists the job records and enqueues them for the external
// runner.
type Orchestrator struct {
	Store       storage.Store
	Secrets     internal.SecretResolver
	Enqueuer    Enqueuer
	Logger      *log.Logger
	Experiments map[string]interface{}
	Debug       bool
}

// TriggerRepositoryUpdates creates and enqueues jobs for every update entry
// in the repository's stored configuration. Per-entry failures are isolated:
// remaining entries still get their jobs.
func (o *Orchestrator) TriggerRepositoryUpdates(ctx context.Context, repositoryID, trigger string) error {
	repo, err := o.Store.GetRepository(ctx, repositoryID)
	if err != nil {
		return err
	}
	if repo == nil {
		return fmt.Errorf("repository %s not found", repositoryID)
	}
	project, err := o.Store.GetProject(ctx, repo.ProjectID)
	if err != nil {
		return err
	}
	if project == nil {
		return fmt.Errorf("project %s not found", repo.ProjectID)
	}
	org, err := o.Store.GetOrganization(ctx, project.OrganizationID)
	if err != nil {
		return err
	}
	if org == nil {
		return fmt.Errorf("organization %s not found", project.OrganizationID)
	}

	cfg, err := updateconfig.Parse(ctx, repo.ConfigFileContents, repo.ConfigFilePath, updateconfig.VariableFinder(o.Secrets))
	if err != nil {
		return fmt.Errorf("parse configuration: %w", err)
	}

	gitCred, err := o.gitCredentials(ctx, org)
	if err != nil {
		return err
	}

	records, err := o.Store.ListRepositoryUpdates(ctx, repositoryID)
	if err != nil {
		return err
	}

	logger := o.Logger
	if logger == nil {
		logger = log.Default()
	}

	var errs error
	for _, record := range records {
		update, ok := matchUpdate(cfg, record)
		if !ok {
			logger.Printf("no configuration entry for update %s (%s %s), skipping",
				record.ID, record.Ecosystem, record.Directory)
			continue
		}
		if err := o.startJob(ctx, *org, *repo, record, update, cfg, gitCred, trigger); err != nil {
			logger.Printf("start job for update %s failed: %v", record.ID, err)
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func matchUpdate(cfg *updateconfig.Config, record storage.RepositoryUpdateRecord) (updateconfig.Update, bool) {
	for _, update := range cfg.Updates {
		if update.PackageEcosystem != record.Ecosystem {
			continue
		}
		for _, dir := range update.EffectiveDirectories() {
			if dir == record.Directory {
				return update, true
			}
		}
	}
	return updateconfig.Update{}, false
}

func (o *Orchestrator) startJob(
	ctx context.Context,
	org storage.OrganizationRecord,
	repo storage.RepositoryRecord,
	record storage.RepositoryUpdateRecord,
	update updateconfig.Update,
	cfg *updateconfig.Config,
	gitCred provider.Credentials,
	trigger string,
) error {
	existing, err := o.Store.ListOpenPullRequests(ctx, repo.ID, update.PackageEcosystem)
	if err != nil {
		return err
	}

	spec := BuildJobSpec(org, repo, update, cfg, existing, gitCred, o.Experiments, o.Debug)

	jobConfig, err := json.Marshal(spec.Job)
	if err != nil {
		return err
	}
	credentials, err := json.Marshal(spec.Credentials)
	if err != nil {
		return err
	}
	jobToken, err := newToken()
	if err != nil {
		return err
	}
	credentialsToken, err := newToken()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	job := storage.UpdateJobRecord{
		ID:                 watermill.NewUUID(),
		RepositoryID:       repo.ID,
		RepositoryUpdateID: record.ID,
		Status:             storage.JobScheduled,
		Trigger:            trigger,
		JobConfig:          jobConfig,
		Credentials:        credentials,
		JobToken:           jobToken,
		CredentialsToken:   credentialsToken,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := o.Store.CreateUpdateJob(ctx, job); err != nil {
		return err
	}

	if o.Enqueuer == nil {
		return nil
	}
	return o.Enqueuer.EnqueueUpdateJob(ctx, job.ID, spec)
}

// gitCredentials resolves the organization's git credential. A "user:secret"
// value carries an explicit username (Bitbucket app passwords).
func (o *Orchestrator) gitCredentials(ctx context.Context, org *storage.OrganizationRecord) (provider.Credentials, error) {
	if o.Secrets == nil || org.CredentialKey == "" {
		return provider.Credentials{}, nil
	}
	secret, err := o.Secrets(ctx, org.CredentialKey)
	if err != nil {
		return provider.Credentials{}, fmt.Errorf("resolve credential %s: %w", org.CredentialKey, err)
	}
	if username, token, found := strings.Cut(secret, ":"); found {
		return provider.Credentials{Username: username, Token: token}, nil
	}
	return provider.Credentials{Token: secret}, nil
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
