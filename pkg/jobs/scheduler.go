package jobs

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"depsync/internal"
)

// Enqueuer hands a built job document to the external runner's queue.
type Enqueuer interface {
	EnqueueUpdateJob(ctx context.Context, jobID string, spec JobSpec) error
}

// UpdateJobArgs is the river job payload the external runner consumes.
type UpdateJobArgs struct {
	JobID string  `json:"job_id"`
	Spec  JobSpec `json:"spec"`
}

func (UpdateJobArgs) Kind() string { return "depsync.update_job" }

// Scheduler enqueues update jobs on a river queue. The client is insert-only;
// the external runner hosts the workers.
type Scheduler struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	cfg    internal.RiverConfig
}

// NewScheduler connects to the river database. The queue name defaults to
// "update_jobs".
func NewScheduler(ctx context.Context, cfg internal.RiverConfig) (*Scheduler, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("river dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("river pool: %w", err)
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("river client: %w", err)
	}
	return &Scheduler{pool: pool, client: client, cfg: cfg}, nil
}

func (s *Scheduler) EnqueueUpdateJob(ctx context.Context, jobID string, spec JobSpec) error {
	opts := &river.InsertOpts{
		Queue:       s.cfg.Queue,
		MaxAttempts: s.cfg.MaxAttempts,
		Priority:    s.cfg.Priority,
		Tags:        s.cfg.Tags,
	}
	_, err := s.client.Insert(ctx, UpdateJobArgs{JobID: jobID, Spec: spec}, opts)
	if err != nil {
		internal.IncEnqueueError(s.cfg.Queue)
	}
	return err
}

func (s *Scheduler) Close() error {
	s.pool.Close()
	return nil
}
