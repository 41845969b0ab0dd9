// Package api implements the HTTP callback protocol the external job runner
// drives while executing an update job.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"depsync/internal"
	"depsync/pkg/jobs"
	"depsync/pkg/provider"
	"depsync/pkg/storage"
)

const defaultDescriptionMaxLength = 4000

// CallbackHandler serves POST {prefix}{jobID}/{type} plus the GET details
// and credentials endpoints. Every request authenticates with a per-job
// token before any entity is resolved.
type CallbackHandler struct {
	Store       storage.Store
	ProviderFor func(ctx context.Context, org storage.OrganizationRecord) (provider.SyncProvider, error)
	Resume      *jobs.ResumeRegistry
	Affected    *jobs.AffectedTracker
	Supersedes  jobs.SupersessionPredicate
	Logger      *log.Logger

	PathPrefix           string
	DescriptionMaxLength int
	MaxBodyBytes         int64
}

// jobContext is the fully resolved entity chain for one callback.
type jobContext struct {
	job     *storage.UpdateJobRecord
	update  *storage.RepositoryUpdateRecord
	repo    *storage.RepositoryRecord
	project *storage.ProjectRecord
	org     *storage.OrganizationRecord
	details jobs.JobDetails
}

func (h *CallbackHandler) logger() *log.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return log.Default()
}

func (h *CallbackHandler) prefix() string {
	if h.PathPrefix != "" {
		return h.PathPrefix
	}
	return "/update_jobs/"
}

func (h *CallbackHandler) descriptionLimit() int {
	if h.DescriptionMaxLength > 0 {
		return h.DescriptionMaxLength
	}
	return defaultDescriptionMaxLength
}

func (h *CallbackHandler) supersedes() jobs.SupersessionPredicate {
	if h.Supersedes != nil {
		return h.Supersedes
	}
	return jobs.DefaultSupersession
}

func writeResult(w http.ResponseWriter, status int, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]bool{"success": ok})
}

func bearerToken(r *http.Request) string {
	token := r.Header.Get("Authorization")
	token = strings.TrimPrefix(token, "Bearer ")
	token = strings.TrimPrefix(token, "token ")
	return strings.TrimSpace(token)
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, h.prefix())
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.NotFound(w, r)
		return
	}
	jobID, kind := parts[0], parts[1]

	ctx := r.Context()
	job, err := h.Store.GetUpdateJob(ctx, jobID)
	if err != nil {
		h.logger().Printf("load job %s: %v", jobID, err)
		writeResult(w, http.StatusInternalServerError, false)
		return
	}

	// Authentication failure and unknown job are indistinguishable to the
	// caller.
	expected := ""
	if job != nil {
		expected = job.JobToken
		if kind == "credentials" {
			expected = job.CredentialsToken
		}
	}
	token := bearerToken(r)
	if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		writeResult(w, http.StatusUnauthorized, false)
		return
	}

	if r.Method == http.MethodGet {
		switch kind {
		case "details":
			h.writeData(w, job.JobConfig)
		case "credentials":
			h.writeData(w, job.Credentials)
		default:
			http.NotFound(w, r)
		}
		return
	}
	if r.Method != http.MethodPost && r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	jc, ok := h.resolve(ctx, job)
	if !ok {
		writeResult(w, http.StatusUnprocessableEntity, false)
		return
	}
	if job.Status == storage.JobSucceeded || job.Status == storage.JobFailed {
		h.logger().Printf("job %s is terminal, rejecting %s", job.ID, kind)
		writeResult(w, http.StatusUnprocessableEntity, false)
		return
	}
	if job.Status == storage.JobScheduled {
		now := time.Now().UTC()
		job.Status = storage.JobRunning
		job.StartedAt = &now
		if err := h.Store.SaveUpdateJob(ctx, *job); err != nil {
			h.logger().Printf("mark job %s running: %v", job.ID, err)
			writeResult(w, http.StatusInternalServerError, false)
			return
		}
	}

	maxBody := h.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 16 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeResult(w, http.StatusBadRequest, false)
		return
	}

	request, err := DecodeRequest(kind, body)
	if err != nil {
		h.logger().Printf("job %s: %v", job.ID, err)
		writeResult(w, http.StatusBadRequest, false)
		return
	}

	internal.IncCallback(kind)
	if err := h.dispatch(ctx, jc, request); err != nil {
		h.logger().Printf("job %s %s failed: %v", job.ID, kind, err)
		writeResult(w, http.StatusUnprocessableEntity, false)
		return
	}
	writeResult(w, http.StatusOK, true)
}

func (h *CallbackHandler) writeData(w http.ResponseWriter, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	payload := map[string]json.RawMessage{"data": raw}
	json.NewEncoder(w).Encode(payload)
}

// resolve loads the job's full entity chain. Any absent link makes the whole
// request fail before side effects.
func (h *CallbackHandler) resolve(ctx context.Context, job *storage.UpdateJobRecord) (*jobContext, bool) {
	update, err := h.Store.GetRepositoryUpdate(ctx, job.RepositoryUpdateID)
	if err != nil || update == nil {
		return nil, false
	}
	repo, err := h.Store.GetRepository(ctx, job.RepositoryID)
	if err != nil || repo == nil {
		return nil, false
	}
	project, err := h.Store.GetProject(ctx, repo.ProjectID)
	if err != nil || project == nil {
		return nil, false
	}
	org, err := h.Store.GetOrganization(ctx, project.OrganizationID)
	if err != nil || org == nil {
		return nil, false
	}

	var details jobs.JobDetails
	if err := json.Unmarshal(job.JobConfig, &details); err != nil {
		h.logger().Printf("job %s has unreadable config: %v", job.ID, err)
		return nil, false
	}
	return &jobContext{
		job:     job,
		update:  update,
		repo:    repo,
		project: project,
		org:     org,
		details: details,
	}, true
}

func (h *CallbackHandler) dispatch(ctx context.Context, jc *jobContext, request Request) error {
	switch req := request.(type) {
	case *CreatePullRequest:
		return h.createPullRequest(ctx, jc, req)
	case *UpdatePullRequest:
		return h.updatePullRequest(ctx, jc, req)
	case *ClosePullRequest:
		return h.closePullRequest(ctx, jc, req)
	case *UpdateDependencyList:
		return h.updateDependencyList(ctx, jc, req)
	case *MarkAsProcessed:
		return h.markAsProcessed(ctx, jc)
	case *RecordUpdateJobWarning:
		return h.recordWarning(ctx, jc, req)
	case *RecordUpdateJobError:
		return h.recordError(ctx, jc, req)
	case InertRequest:
		return nil
	case UnknownRequest:
		h.logger().Printf("job %s: unrecognized request type %q acknowledged", jc.job.ID, req.Type)
		return nil
	default:
		h.logger().Printf("job %s: unhandled request %T acknowledged", jc.job.ID, request)
		return nil
	}
}

func (h *CallbackHandler) updateDependencyList(ctx context.Context, jc *jobContext, req *UpdateDependencyList) error {
	snapshot := storage.DependencySnapshotRecord{
		RepositoryUpdateID: jc.update.ID,
		Ecosystem:          jc.details.PackageManager,
		Dependencies:       req.Data.Dependencies,
		UpdatedAt:          time.Now().UTC(),
	}
	if err := h.Store.UpsertDependencySnapshot(ctx, snapshot); err != nil {
		return err
	}
	if len(req.Data.DependencyFiles) > 0 {
		return h.Store.SetRepositoryUpdateFiles(ctx, jc.update.ID, req.Data.DependencyFiles)
	}
	return nil
}

func (h *CallbackHandler) markAsProcessed(ctx context.Context, jc *jobContext) error {
	now := time.Now().UTC()
	job := jc.job
	job.FinishedAt = &now
	if job.StartedAt != nil {
		job.DurationMS = now.Sub(*job.StartedAt).Milliseconds()
	}
	if len(job.Errors) > 0 {
		job.Status = storage.JobFailed
	} else {
		job.Status = storage.JobSucceeded
	}
	if h.Affected != nil {
		job.AffectedPRIDs = mergePRIDs(job.AffectedPRIDs, h.Affected.Snapshot(job.ID).All())
	}
	if err := h.Store.SaveUpdateJob(ctx, *job); err != nil {
		return err
	}
	if h.Affected != nil {
		h.Affected.Drop(job.ID)
	}
	if h.Resume != nil {
		h.Resume.Resolve(job.ID)
	}
	return nil
}

// mergePRIDs unions the persisted IDs with the tracker's, keeping first-seen
// order. The tracker is empty after a restart, so the persisted list wins.
func mergePRIDs(persisted, tracked []int64) []int64 {
	seen := make(map[int64]struct{}, len(persisted)+len(tracked))
	merged := make([]int64, 0, len(persisted)+len(tracked))
	for _, ids := range [][]int64{persisted, tracked} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}
	return merged
}

func (h *CallbackHandler) recordWarning(ctx context.Context, jc *jobContext, req *RecordUpdateJobWarning) error {
	jc.job.Warnings = append(jc.job.Warnings, storage.JobWarning{
		Type:        req.Data.WarnType,
		Title:       req.Data.WarnTitle,
		Description: req.Data.WarnDescription,
	})
	return h.Store.SaveUpdateJob(ctx, *jc.job)
}

func (h *CallbackHandler) recordError(ctx context.Context, jc *jobContext, req *RecordUpdateJobError) error {
	jc.job.Errors = append(jc.job.Errors, storage.JobError{
		Type:    req.Data.ErrorType,
		Details: req.Data.ErrorDetails,
		Unknown: req.Unknown,
	})
	return h.Store.SaveUpdateJob(ctx, *jc.job)
}
