package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"depsync/pkg/jobs"
	"depsync/pkg/provider"
	"depsync/pkg/storage"
	"depsync/pkg/storage/storagetest"
)

type fakeProvider struct {
	created   []provider.CreatePullRequestInput
	updated   []provider.UpdatePullRequestInput
	abandoned []provider.AbandonPullRequestInput
	comments  []string
	nextPRID  int64
}

func (f *fakeProvider) GetProject(context.Context, string) (*provider.Project, error) {
	return nil, provider.ErrNotFound
}
func (f *fakeProvider) GetRepositories(context.Context, string) ([]provider.Repository, error) {
	return nil, nil
}
func (f *fakeProvider) GetRepository(context.Context, string, string) (*provider.Repository, error) {
	return nil, provider.ErrNotFound
}
func (f *fakeProvider) GetConfigurationFile(context.Context, provider.Project, provider.Repository) (*provider.ConfigurationFile, error) {
	return &provider.ConfigurationFile{}, nil
}
func (f *fakeProvider) GetDefaultBranch(context.Context, string, string) (string, error) {
	return "main", nil
}

func (f *fakeProvider) CreatePullRequest(_ context.Context, input provider.CreatePullRequestInput) (*provider.PullRequest, error) {
	f.created = append(f.created, input)
	f.nextPRID++
	return &provider.PullRequest{
		ID:           f.nextPRID,
		Title:        input.Title,
		SourceBranch: input.SourceBranch,
		TargetBranch: input.TargetBranch,
	}, nil
}

func (f *fakeProvider) UpdatePullRequest(_ context.Context, input provider.UpdatePullRequestInput) error {
	f.updated = append(f.updated, input)
	return nil
}

func (f *fakeProvider) AbandonPullRequest(_ context.Context, input provider.AbandonPullRequestInput) error {
	f.abandoned = append(f.abandoned, input)
	return nil
}

func (f *fakeProvider) AddCommentThread(_ context.Context, _, _ string, _ int64, comment string) error {
	f.comments = append(f.comments, comment)
	return nil
}

type fixture struct {
	store    *storagetest.Store
	provider *fakeProvider
	handler  *CallbackHandler
	job      storage.UpdateJobRecord
}

func newFixture(t *testing.T, details jobs.JobDetails) *fixture {
	t.Helper()
	store := storagetest.New()
	store.Organizations["org-1"] = storage.OrganizationRecord{ID: "org-1", ProviderType: "azure_devops", BaseURL: "https://dev.azure.com/contoso"}
	store.Projects["proj-1"] = storage.ProjectRecord{ID: "proj-1", OrganizationID: "org-1", ProviderID: "prov-proj"}
	store.Repositories["repo-1"] = storage.RepositoryRecord{ID: "repo-1", ProjectID: "proj-1", ProviderID: "prov-repo", Slug: "contoso/app"}
	store.Updates["update-1"] = storage.RepositoryUpdateRecord{ID: "update-1", RepositoryID: "repo-1", Ecosystem: details.PackageManager, Directory: "/"}

	jobConfig, err := json.Marshal(details)
	if err != nil {
		t.Fatalf("marshal details: %v", err)
	}
	job := storage.UpdateJobRecord{
		ID:                 "job-1",
		RepositoryID:       "repo-1",
		RepositoryUpdateID: "update-1",
		Status:             storage.JobScheduled,
		Trigger:            storage.TriggerSynchronization,
		JobConfig:          jobConfig,
		Credentials:        []byte(`[{"type":"git_source"}]`),
		JobToken:           "job-token",
		CredentialsToken:   "cred-token",
	}
	store.Jobs[job.ID] = job

	fake := &fakeProvider{}
	handler := &CallbackHandler{
		Store: store,
		ProviderFor: func(_ context.Context, _ storage.OrganizationRecord) (provider.SyncProvider, error) {
			return fake, nil
		},
		Resume:   jobs.NewResumeRegistry(),
		Affected: jobs.NewAffectedTracker(),
	}
	return &fixture{store: store, provider: fake, handler: handler, job: job}
}

func defaultDetails() jobs.JobDetails {
	return jobs.JobDetails{
		PackageManager:        "npm",
		Source:                jobs.Source{Repo: "contoso/app", Directory: "/"},
		OpenPullRequestsLimit: 5,
		TargetBranch:          "main",
		BranchSeparator:       "/",
	}
}

func (f *fixture) post(t *testing.T, kind, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/update_jobs/job-1/"+kind, strings.NewReader(body))
	req.Header.Set("Authorization", token)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func success(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var envelope map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !envelope["success"] {
		t.Fatalf("expected success envelope, got %s", rec.Body.String())
	}
}

func TestCallbackRejectsBadToken(t *testing.T) {
	f := newFixture(t, defaultDetails())

	rec := f.post(t, "mark_as_processed", "wrong-token", `{"data":{}}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/update_jobs/no-such-job/mark_as_processed", strings.NewReader(`{"data":{}}`))
	req.Header.Set("Authorization", "job-token")
	rec2 := httptest.NewRecorder()
	f.handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("unknown job must look identical to bad token, got %d", rec2.Code)
	}
	if rec.Body.String() != rec2.Body.String() {
		t.Fatalf("responses must not leak which part failed: %q vs %q", rec.Body.String(), rec2.Body.String())
	}
}

func TestCredentialsEndpointUsesOwnToken(t *testing.T) {
	f := newFixture(t, defaultDetails())

	req := httptest.NewRequest(http.MethodGet, "/update_jobs/job-1/credentials", nil)
	req.Header.Set("Authorization", "job-token")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("job token must not unlock credentials, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/update_jobs/job-1/credentials", nil)
	req.Header.Set("Authorization", "cred-token")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "git_source") {
		t.Fatalf("expected credentials payload, got %s", rec.Body.String())
	}
}

func TestUnknownTypeAcknowledged(t *testing.T) {
	f := newFixture(t, defaultDetails())
	rec := f.post(t, "some_future_type", "job-token", `{"data":{}}`)
	success(t, rec)
}

func TestInertTypeAcknowledged(t *testing.T) {
	f := newFixture(t, defaultDetails())
	rec := f.post(t, "increment_metric", "job-token", `{"data":{"metric":"updater.started"}}`)
	success(t, rec)

	job, _ := f.store.GetUpdateJob(context.Background(), "job-1")
	if job.Status != storage.JobRunning {
		t.Fatalf("first callback should mark the job running, got %s", job.Status)
	}
}

func TestCreatePullRequest(t *testing.T) {
	f := newFixture(t, defaultDetails())
	body := `{"data":{
		"base-commit-sha":"abc",
		"dependencies":[{"name":"lodash","version":"4.17.21"}],
		"updated-dependency-files":[{"name":"package.json","directory":"/","content":"{}"}],
		"pr-title":"Bump lodash",
		"pr-body":"Bumps lodash.",
		"commit-message":"Bump lodash to 4.17.21"
	}}`
	rec := f.post(t, "create_pull_request", "job-token", body)
	success(t, rec)

	if len(f.provider.created) != 1 {
		t.Fatalf("expected 1 provider creation, got %d", len(f.provider.created))
	}
	input := f.provider.created[0]
	if input.SourceBranch != "dependabot/npm/main/lodash-4.17.21" {
		t.Fatalf("unexpected branch: %q", input.SourceBranch)
	}
	if input.TargetBranch != "main" {
		t.Fatalf("unexpected target: %q", input.TargetBranch)
	}

	open, _ := f.store.ListOpenPullRequests(context.Background(), "repo-1", "npm")
	if len(open) != 1 || open[0].ProviderPRID != 1 {
		t.Fatalf("expected persisted open PR, got %+v", open)
	}
	job, _ := f.store.GetUpdateJob(context.Background(), "job-1")
	if len(job.AffectedPRIDs) != 1 || job.AffectedPRIDs[0] != 1 {
		t.Fatalf("expected affected PR id, got %v", job.AffectedPRIDs)
	}
}

func TestCreatePullRequestLimitSkips(t *testing.T) {
	details := defaultDetails()
	details.OpenPullRequestsLimit = 1
	f := newFixture(t, details)
	f.store.SavePullRequest(context.Background(), storage.PullRequestRecord{
		ID: "pr-1", RepositoryID: "repo-1", PackageManager: "npm",
		ProviderPRID: 7, Status: storage.PROpen,
		Data: []byte(`[{"name":"react"}]`),
	})

	body := `{"data":{"dependencies":[{"name":"lodash"}],"updated-dependency-files":[],"pr-title":"x","pr-body":"y"}}`
	rec := f.post(t, "create_pull_request", "job-token", body)
	success(t, rec)

	if len(f.provider.created) != 0 {
		t.Fatalf("limit reached: provider must not be called, got %d creations", len(f.provider.created))
	}
}

func TestCreatePullRequestZeroLimitIsNotACap(t *testing.T) {
	details := defaultDetails()
	details.OpenPullRequestsLimit = 0
	f := newFixture(t, details)
	f.store.SavePullRequest(context.Background(), storage.PullRequestRecord{
		ID: "pr-1", RepositoryID: "repo-1", PackageManager: "npm",
		ProviderPRID: 7, Status: storage.PROpen,
		Data: []byte(`[{"name":"react"}]`),
	})

	body := `{"data":{"dependencies":[{"name":"lodash","version":"1.0.0"}],"updated-dependency-files":[],"pr-title":"x","pr-body":"y"}}`
	rec := f.post(t, "create_pull_request", "job-token", body)
	success(t, rec)

	if len(f.provider.created) != 1 {
		t.Fatalf("limit 0 is the security-only sentinel, not a cap; got %d creations", len(f.provider.created))
	}
}

func TestCreatePullRequestSupersedesCoveredPR(t *testing.T) {
	f := newFixture(t, defaultDetails())
	f.store.SavePullRequest(context.Background(), storage.PullRequestRecord{
		ID: "pr-old", RepositoryID: "repo-1", PackageManager: "npm",
		ProviderPRID: 7, Status: storage.PROpen,
		Data: []byte(`[{"name":"lodash","version":"4.17.20"}]`),
	})

	body := `{"data":{
		"dependencies":[{"name":"lodash","version":"4.17.21"},{"name":"react","version":"18.0.0"}],
		"dependency-group":{"name":"frontend"},
		"updated-dependency-files":[],
		"pr-title":"Bump the frontend group","pr-body":"..."
	}}`
	rec := f.post(t, "create_pull_request", "job-token", body)
	success(t, rec)

	if len(f.provider.abandoned) != 1 || f.provider.abandoned[0].PullRequestID != 7 {
		t.Fatalf("expected old PR abandoned, got %+v", f.provider.abandoned)
	}
	if !strings.Contains(f.provider.abandoned[0].Comment, "Superseded by pull request #1") {
		t.Fatalf("unexpected supersession comment: %q", f.provider.abandoned[0].Comment)
	}

	old, _ := f.store.GetPullRequest(context.Background(), "repo-1", "npm", 7)
	if old.Status != storage.PRClosed {
		t.Fatalf("superseded PR should be closed, got %s", old.Status)
	}
}

func TestUpdatePullRequestMatchesBySet(t *testing.T) {
	f := newFixture(t, defaultDetails())
	f.store.SavePullRequest(context.Background(), storage.PullRequestRecord{
		ID: "pr-1", RepositoryID: "repo-1", PackageManager: "npm",
		ProviderPRID: 9, Status: storage.PROpen,
		Data: []byte(`[{"name":"a"},{"name":"b"}]`),
	})

	body := `{"data":{"dependency-names":["b","a"],"updated-dependency-files":[],"pr-title":"t","pr-body":"b"}}`
	rec := f.post(t, "update_pull_request", "job-token", body)
	success(t, rec)
	if len(f.provider.updated) != 1 || f.provider.updated[0].PullRequestID != 9 {
		t.Fatalf("expected PR 9 updated, got %+v", f.provider.updated)
	}

	body = `{"data":{"dependency-names":["a"],"updated-dependency-files":[]}}`
	rec = f.post(t, "update_pull_request", "job-token", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("subset must not match, got %d", rec.Code)
	}
}

func TestClosePullRequestReasonMapping(t *testing.T) {
	f := newFixture(t, defaultDetails())
	f.store.SavePullRequest(context.Background(), storage.PullRequestRecord{
		ID: "pr-1", RepositoryID: "repo-1", PackageManager: "npm",
		ProviderPRID: 5, Status: storage.PROpen,
		Data: []byte(`[{"name":"lodash"}]`),
	})

	body := `{"data":{"dependency-names":["lodash"],"reason":"up_to_date"}}`
	rec := f.post(t, "close_pull_request", "job-token", body)
	success(t, rec)

	if len(f.provider.abandoned) != 1 {
		t.Fatalf("expected abandonment, got %+v", f.provider.abandoned)
	}
	if f.provider.abandoned[0].Comment != closeReasons["up_to_date"] {
		t.Fatalf("unexpected close comment: %q", f.provider.abandoned[0].Comment)
	}
	if !f.provider.abandoned[0].DeleteSourceBranch {
		t.Fatal("expected source branch deletion")
	}
}

func TestRecordWarningAppends(t *testing.T) {
	f := newFixture(t, defaultDetails())
	body := `{"data":{"warn-type":"deprecation","warn-title":"t","warn-description":"d"}}`
	success(t, f.post(t, "record_update_job_warning", "job-token", body))
	success(t, f.post(t, "record_update_job_warning", "job-token", body))

	job, _ := f.store.GetUpdateJob(context.Background(), "job-1")
	if len(job.Warnings) != 2 || job.Warnings[0].Type != "deprecation" {
		t.Fatalf("unexpected warnings: %+v", job.Warnings)
	}
}

func TestRecordUnknownErrorTagged(t *testing.T) {
	f := newFixture(t, defaultDetails())
	body := `{"data":{"error-type":"boom","error-details":{"message":"x"}}}`
	success(t, f.post(t, "record_update_job_unknown_error", "job-token", body))

	job, _ := f.store.GetUpdateJob(context.Background(), "job-1")
	if len(job.Errors) != 1 || !job.Errors[0].Unknown {
		t.Fatalf("expected unknown-tagged error, got %+v", job.Errors)
	}
}

func TestMarkAsProcessedFinishesJobAndResumes(t *testing.T) {
	f := newFixture(t, defaultDetails())

	resumed := f.handler.Resume.Register("job-1")

	success(t, f.post(t, "mark_as_processed", "job-token", `{"data":{"base-commit-sha":"abc"}}`))

	select {
	case <-resumed:
	case <-time.After(time.Second):
		t.Fatal("expected waiter to be resumed")
	}
	job, _ := f.store.GetUpdateJob(context.Background(), "job-1")
	if job.Status != storage.JobSucceeded {
		t.Fatalf("expected succeeded, got %s", job.Status)
	}
	if job.FinishedAt == nil {
		t.Fatal("expected finish timestamp")
	}

	rec := f.post(t, "record_update_job_warning", "job-token", `{"data":{}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("terminal job must reject further mutations, got %d", rec.Code)
	}
}

func TestMarkAsProcessedKeepsPersistedAffectedIDs(t *testing.T) {
	f := newFixture(t, defaultDetails())
	body := `{"data":{
		"dependencies":[{"name":"lodash","version":"4.17.21"}],
		"updated-dependency-files":[{"name":"package.json","directory":"/","content":"{}"}],
		"pr-title":"Bump lodash","pr-body":"..."
	}}`
	success(t, f.post(t, "create_pull_request", "job-token", body))

	// A fresh tracker stands in for a process restart between the creation
	// and the final callback.
	f.handler.Affected = jobs.NewAffectedTracker()
	success(t, f.post(t, "mark_as_processed", "job-token", `{"data":{}}`))

	job, _ := f.store.GetUpdateJob(context.Background(), "job-1")
	if len(job.AffectedPRIDs) != 1 || job.AffectedPRIDs[0] != 1 {
		t.Fatalf("persisted affected IDs must survive, got %v", job.AffectedPRIDs)
	}
}

func TestMarkAsProcessedWithErrorsFails(t *testing.T) {
	f := newFixture(t, defaultDetails())
	success(t, f.post(t, "record_update_job_error", "job-token", `{"data":{"error-type":"boom"}}`))
	success(t, f.post(t, "mark_as_processed", "job-token", `{"data":{}}`))

	job, _ := f.store.GetUpdateJob(context.Background(), "job-1")
	if job.Status != storage.JobFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
}

func TestSupersededPRUsesItsOwnBranch(t *testing.T) {
	details := defaultDetails()
	details.Source = jobs.Source{Repo: "contoso/app", Directories: []string{"/frontend", "/backend"}}
	f := newFixture(t, details)

	const oldBranch = "dependabot/npm/main/backend/lodash-4.17.20"
	f.store.SavePullRequest(context.Background(), storage.PullRequestRecord{
		ID: "pr-old", RepositoryID: "repo-1", PackageManager: "npm",
		ProviderPRID: 7, Status: storage.PROpen,
		SourceBranch: oldBranch,
		Data:         []byte(`[{"name":"lodash","version":"4.17.20"}]`),
	})

	body := `{"data":{
		"dependencies":[{"name":"lodash","version":"4.17.21"}],
		"updated-dependency-files":[{"name":"package.json","directory":"/frontend","content":"{}"}],
		"pr-title":"Bump lodash","pr-body":"..."
	}}`
	success(t, f.post(t, "create_pull_request", "job-token", body))

	if len(f.provider.abandoned) != 1 {
		t.Fatalf("expected old PR abandoned, got %+v", f.provider.abandoned)
	}
	if f.provider.abandoned[0].SourceBranch != oldBranch {
		t.Fatalf("must delete the old PR's own branch, got %q", f.provider.abandoned[0].SourceBranch)
	}
}

func TestTruncateBacksOffToRuneBoundary(t *testing.T) {
	text := "naïve"
	got := truncate(text, 3)
	if got != "na" {
		t.Fatalf("expected cut before the split rune, got %q", got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncated text must stay valid UTF-8: %q", got)
	}
	if truncate(text, len(text)) != text {
		t.Fatalf("text within the limit must pass through unchanged")
	}
}

func TestUpdateDependencyList(t *testing.T) {
	f := newFixture(t, defaultDetails())
	body := `{"data":{"dependencies":[{"name":"lodash","version":"4.17.21"}],"dependency_files":["/package.json"]}}`
	success(t, f.post(t, "update_dependency_list", "job-token", body))

	snapshot, ok := f.store.Snapshots["update-1"]
	if !ok {
		t.Fatal("expected dependency snapshot")
	}
	if snapshot.Ecosystem != "npm" {
		t.Fatalf("unexpected ecosystem: %s", snapshot.Ecosystem)
	}
	update, _ := f.store.GetRepositoryUpdate(context.Background(), "update-1")
	if len(update.Files) != 1 || update.Files[0] != "/package.json" {
		t.Fatalf("unexpected files: %v", update.Files)
	}
}
