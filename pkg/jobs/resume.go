package jobs

import (
	"context"
	"sync"
	"time"
)

// ResumeRegistry lets a workflow block until the external runner reports a
// job as processed. Each job ID maps to a channel closed exactly once by
// Resolve.
type ResumeRegistry struct {
	mu      sync.Mutex
	waiters map[string]chan struct{}
}

func NewResumeRegistry() *ResumeRegistry {
	return &ResumeRegistry{waiters: map[string]chan struct{}{}}
}

// Register returns the completion channel for jobID, creating it on first
// use.
func (r *ResumeRegistry) Register(jobID string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.waiters[jobID]
	if !ok {
		ch = make(chan struct{})
		r.waiters[jobID] = ch
	}
	return ch
}

// Resolve marks jobID as completed, waking every waiter. Resolving an
// unknown or already-resolved job is a no-op.
func (r *ResumeRegistry) Resolve(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.waiters[jobID]
	if !ok {
		return
	}
	delete(r.waiters, jobID)
	close(ch)
}

// Await blocks until the job resolves, the timeout elapses or the context is
// canceled.
func (r *ResumeRegistry) Await(ctx context.Context, jobID string, timeout time.Duration) error {
	ch := r.Register(jobID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drop discards the waiter for jobID without waking anyone.
func (r *ResumeRegistry) Drop(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, jobID)
}
