package jobs

import "sync"

// Affected lists the provider pull-request IDs a job touched, by kind.
type Affected struct {
	Created []int64
	Updated []int64
	Closed  []int64
}

// AffectedTracker accumulates affected pull requests per job ID. It is an
// explicit registry rather than ambient per-request state so concurrent
// callbacks for different jobs never interleave.
type AffectedTracker struct {
	mu   sync.Mutex
	jobs map[string]*Affected
}

func NewAffectedTracker() *AffectedTracker {
	return &AffectedTracker{jobs: map[string]*Affected{}}
}

func (t *AffectedTracker) entry(jobID string) *Affected {
	affected, ok := t.jobs[jobID]
	if !ok {
		affected = &Affected{}
		t.jobs[jobID] = affected
	}
	return affected
}

func (t *AffectedTracker) RecordCreated(jobID string, prID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.entry(jobID)
	entry.Created = append(entry.Created, prID)
}

func (t *AffectedTracker) RecordUpdated(jobID string, prID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.entry(jobID)
	entry.Updated = append(entry.Updated, prID)
}

func (t *AffectedTracker) RecordClosed(jobID string, prID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.entry(jobID)
	entry.Closed = append(entry.Closed, prID)
}

// Snapshot returns a copy of the job's affected IDs.
func (t *AffectedTracker) Snapshot(jobID string) Affected {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.jobs[jobID]
	if !ok {
		return Affected{}
	}
	return Affected{
		Created: append([]int64(nil), entry.Created...),
		Updated: append([]int64(nil), entry.Updated...),
		Closed:  append([]int64(nil), entry.Closed...),
	}
}

// All returns every affected ID in one slice, creation order first.
func (a Affected) All() []int64 {
	out := make([]int64, 0, len(a.Created)+len(a.Updated)+len(a.Closed))
	out = append(out, a.Created...)
	out = append(out, a.Updated...)
	out = append(out, a.Closed...)
	return out
}

// Drop forgets a finished job.
func (t *AffectedTracker) Drop(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, jobID)
}
