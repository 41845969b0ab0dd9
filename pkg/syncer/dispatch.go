package syncer

import (
	"context"
	"fmt"
	"log"

	"depsync/internal"
	"depsync/pkg/storage"
)

// Dispatcher resolves the entities referenced by a bus event and hands them
// to the Synchronizer. It implements internal.Dispatcher.
type Dispatcher struct {
	Store  storage.Store
	Sync   *Synchronizer
	Logger *log.Logger
}

func (d *Dispatcher) resolve(ctx context.Context, evt internal.Event) (*storage.OrganizationRecord, *storage.ProjectRecord, error) {
	org, err := d.Store.GetOrganization(ctx, evt.OrganizationID)
	if err != nil {
		return nil, nil, err
	}
	if org == nil {
		return nil, nil, fmt.Errorf("organization %s not found", evt.OrganizationID)
	}
	project, err := d.Store.GetProjectByProviderID(ctx, org.ID, evt.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	if project == nil {
		return nil, nil, fmt.Errorf("project %s not found in organization %s", evt.ProjectID, org.ID)
	}
	return org, project, nil
}

func (d *Dispatcher) SyncRepository(ctx context.Context, evt internal.Event) error {
	org, project, err := d.resolve(ctx, evt)
	if err != nil {
		return err
	}
	_, err = d.Sync.SyncRepository(ctx, *org, *project, evt.RepositoryID)
	return err
}

func (d *Dispatcher) SyncRepositories(ctx context.Context, evt internal.Event) error {
	org, project, err := d.resolve(ctx, evt)
	if err != nil {
		return err
	}
	stats, err := d.Sync.SyncRepositories(ctx, *org, *project)
	if err != nil {
		return err
	}
	if d.Logger != nil {
		d.Logger.Printf("synced project %s: count=%d updated=%d deleted=%d",
			project.ID, stats.Count, stats.Updated, stats.Deleted)
	}
	return nil
}

func (d *Dispatcher) SyncProject(ctx context.Context, evt internal.Event) error {
	org, project, err := d.resolve(ctx, evt)
	if err != nil {
		return err
	}
	return d.Sync.SyncProject(ctx, *org, *project)
}
