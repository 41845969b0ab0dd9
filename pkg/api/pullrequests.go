package api

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ThreeDotsLabs/watermill"

	"depsync/pkg/jobs"
	"depsync/pkg/provider"
	"depsync/pkg/storage"
)

// closeReasons maps the runner's machine reason codes to the sentences
// posted on the pull request before it is abandoned.
var closeReasons = map[string]string{
	"dependencies_changed":      "Looks like the dependencies have changed, so this is no longer needed. The pull request will be closed.",
	"dependency_group_empty":    "Looks like the dependencies in this group are now empty, so this is no longer needed. The pull request will be closed.",
	"dependency_removed":        "Looks like the dependency is no longer used in this project, so this is no longer needed. The pull request will be closed.",
	"up_to_date":                "Looks like the dependencies are up-to-date now, so this is no longer needed. The pull request will be closed.",
	"update_no_longer_possible": "Looks like this update is no longer possible, so this is no longer needed. The pull request will be closed.",
}

func closeReasonComment(reason string) string {
	if sentence, ok := closeReasons[reason]; ok {
		return sentence
	}
	return "This pull request is no longer needed and will be closed."
}

func (h *CallbackHandler) providerFor(ctx context.Context, jc *jobContext) (provider.SyncProvider, error) {
	return h.ProviderFor(ctx, *jc.org)
}

// targetBranch resolves the branch pull requests merge into: explicit config
// first, then the provider's default branch.
func (h *CallbackHandler) targetBranch(ctx context.Context, p provider.SyncProvider, jc *jobContext) (string, error) {
	if jc.details.TargetBranch != "" {
		return jc.details.TargetBranch, nil
	}
	return p.GetDefaultBranch(ctx, jc.project.ProviderID, jc.repo.ProviderID)
}

func fileChanges(files []DependencyFile) []provider.FileChange {
	changes := make([]provider.FileChange, 0, len(files))
	for _, file := range files {
		if file.Deleted {
			continue
		}
		changes = append(changes, provider.FileChange{
			Path:    path.Join("/", file.Directory, file.Name),
			Content: file.Content,
		})
	}
	return changes
}

func changedPaths(changes []provider.FileChange) []string {
	paths := make([]string, 0, len(changes))
	for _, change := range changes {
		paths = append(paths, change.Path)
	}
	return paths
}

// truncate cuts text to at most limit bytes, backing off to the nearest rune
// boundary so a multi-byte character is never split.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

func (h *CallbackHandler) sourceDirectories(jc *jobContext) []string {
	if len(jc.details.Source.Directories) > 0 {
		return jc.details.Source.Directories
	}
	if jc.details.Source.Directory != "" {
		return []string{jc.details.Source.Directory}
	}
	return []string{jc.update.Directory}
}

func (h *CallbackHandler) createPullRequest(ctx context.Context, jc *jobContext, req *CreatePullRequest) error {
	packageManager := jc.details.PackageManager

	// An exhausted open-PR budget is an intentionally throttled no-op, not a
	// failure. A limit of zero means security-only updates, never a hard cap.
	limit := jc.details.OpenPullRequestsLimit
	if limit > 0 {
		count, err := h.Store.CountOpenPullRequests(ctx, jc.repo.ID, packageManager)
		if err != nil {
			return err
		}
		if count >= int64(limit) {
			h.logger().Printf("job %s: open pull request limit (%d) reached, skipping creation", jc.job.ID, limit)
			return nil
		}
	}

	p, err := h.providerFor(ctx, jc)
	if err != nil {
		return err
	}
	target, err := h.targetBranch(ctx, p, jc)
	if err != nil {
		return err
	}

	deps := jobs.DependenciesFromData(req.Data.Dependencies)
	group := ""
	if req.Data.DependencyGroup != nil {
		group = req.Data.DependencyGroup.Name
	}
	changes := fileChanges(req.Data.UpdatedDependencyFiles)
	directory := jobs.DirectoryHint(h.sourceDirectories(jc), changedPaths(changes))
	branch := jobs.BranchName(packageManager, target, directory, group, deps, jc.details.BranchSeparator)

	data := prData(group, req.Data.Dependencies)
	created, err := p.CreatePullRequest(ctx, provider.CreatePullRequestInput{
		ProjectID:     jc.project.ProviderID,
		RepositoryID:  jc.repo.ProviderID,
		Title:         req.Data.PRTitle,
		Description:   truncate(req.Data.PRBody, h.descriptionLimit()),
		SourceBranch:  branch,
		TargetBranch:  target,
		CommitMessage: req.Data.CommitMessage,
		Changes:       changes,
		Labels:        jc.details.Labels,
		Assignees:     jc.details.Assignees,
		Milestone:     jc.details.Milestone,
		Properties: map[string]string{
			"packageManager": packageManager,
			"dependencies":   string(data),
		},
	})
	if err != nil {
		return fmt.Errorf("create pull request: %w", err)
	}

	for _, warning := range jc.job.Warnings {
		comment := strings.TrimSpace(warning.Title + "\n\n" + warning.Description)
		if err := p.AddCommentThread(ctx, jc.project.ProviderID, jc.repo.ProviderID, created.ID, comment); err != nil {
			return fmt.Errorf("post warning comment: %w", err)
		}
	}

	now := time.Now().UTC()
	record := storage.PullRequestRecord{
		ID:             watermill.NewUUID(),
		RepositoryID:   jc.repo.ID,
		PackageManager: packageManager,
		ProviderPRID:   created.ID,
		Status:         storage.PROpen,
		SourceBranch:   branch,
		Data:           data,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.Store.SavePullRequest(ctx, record); err != nil {
		return err
	}
	h.recordAffected(ctx, jc, created.ID, "created")

	h.supersede(ctx, p, jc, record, target, deps)
	return nil
}

// prData is the payload stored for set-based matching: grouped payloads keep
// their group name, plain ones are the dependency array itself.
func prData(group string, dependencies json.RawMessage) []byte {
	if group == "" {
		return dependencies
	}
	data, err := json.Marshal(map[string]interface{}{
		"dependency-group-name": group,
		"dependencies":          dependencies,
	})
	if err != nil {
		return dependencies
	}
	return data
}

// supersede abandons every other open pull request made redundant by the new
// one. Failures are logged and swallowed: the new PR already exists and is
// authoritative.
func (h *CallbackHandler) supersede(ctx context.Context, p provider.SyncProvider, jc *jobContext, created storage.PullRequestRecord, target string, createdDeps []jobs.Dependency) {
	open, err := h.Store.ListOpenPullRequests(ctx, jc.repo.ID, created.PackageManager)
	if err != nil {
		h.logger().Printf("job %s: list open pull requests: %v", jc.job.ID, err)
		return
	}
	predicate := h.supersedes()

	for _, other := range open {
		if other.ProviderPRID == created.ProviderPRID {
			continue
		}
		if !predicate(jobs.DependenciesFromData(other.Data), createdDeps) {
			continue
		}

		// Records created before the branch was stored fall back to a
		// recomputation, which assumes the other PR shares this job's
		// directory.
		branch := other.SourceBranch
		if branch == "" {
			branch = jobs.BranchName(
				other.PackageManager,
				target,
				jobs.DirectoryHint(h.sourceDirectories(jc), nil),
				jobs.GroupNameFromData(other.Data),
				jobs.DependenciesFromData(other.Data),
				jc.details.BranchSeparator,
			)
		}
		err := p.AbandonPullRequest(ctx, provider.AbandonPullRequestInput{
			ProjectID:          jc.project.ProviderID,
			RepositoryID:       jc.repo.ProviderID,
			PullRequestID:      other.ProviderPRID,
			Comment:            fmt.Sprintf("Superseded by pull request #%d.", created.ProviderPRID),
			SourceBranch:       branch,
			DeleteSourceBranch: true,
		})
		if err != nil {
			h.logger().Printf("job %s: abandon superseded pull request %d: %v", jc.job.ID, other.ProviderPRID, err)
			continue
		}
		other.Status = storage.PRClosed
		other.UpdatedAt = time.Now().UTC()
		if err := h.Store.SavePullRequest(ctx, other); err != nil {
			h.logger().Printf("job %s: mark pull request %d closed: %v", jc.job.ID, other.ProviderPRID, err)
			continue
		}
		h.recordAffected(ctx, jc, other.ProviderPRID, "closed")
	}
}

// matchOpenPullRequest finds the open pull request whose stored dependency
// names equal the request's names as sets.
func (h *CallbackHandler) matchOpenPullRequest(ctx context.Context, jc *jobContext, names []string) (*storage.PullRequestRecord, error) {
	open, err := h.Store.ListOpenPullRequests(ctx, jc.repo.ID, jc.details.PackageManager)
	if err != nil {
		return nil, err
	}
	for i := range open {
		if jobs.SameNameSet(names, jobs.DependencyNameSet(open[i].Data)) {
			return &open[i], nil
		}
	}
	return nil, nil
}

func (h *CallbackHandler) updatePullRequest(ctx context.Context, jc *jobContext, req *UpdatePullRequest) error {
	match, err := h.matchOpenPullRequest(ctx, jc, req.Data.DependencyNames)
	if err != nil {
		return err
	}
	if match == nil {
		return fmt.Errorf("no open pull request for dependencies %v", req.Data.DependencyNames)
	}

	p, err := h.providerFor(ctx, jc)
	if err != nil {
		return err
	}
	target, err := h.targetBranch(ctx, p, jc)
	if err != nil {
		return err
	}

	changes := fileChanges(req.Data.UpdatedDependencyFiles)
	branch := match.SourceBranch
	if branch == "" {
		branch = jobs.BranchName(
			match.PackageManager,
			target,
			jobs.DirectoryHint(h.sourceDirectories(jc), changedPaths(changes)),
			jobs.GroupNameFromData(match.Data),
			jobs.DependenciesFromData(match.Data),
			jc.details.BranchSeparator,
		)
		match.SourceBranch = branch
	}
	err = p.UpdatePullRequest(ctx, provider.UpdatePullRequestInput{
		ProjectID:     jc.project.ProviderID,
		RepositoryID:  jc.repo.ProviderID,
		PullRequestID: match.ProviderPRID,
		Title:         req.Data.PRTitle,
		Description:   truncate(req.Data.PRBody, h.descriptionLimit()),
		SourceBranch:  branch,
		CommitMessage: req.Data.CommitMessage,
		Changes:       changes,
	})
	if err != nil {
		return fmt.Errorf("update pull request %d: %w", match.ProviderPRID, err)
	}

	match.UpdatedAt = time.Now().UTC()
	if err := h.Store.SavePullRequest(ctx, *match); err != nil {
		return err
	}
	h.recordAffected(ctx, jc, match.ProviderPRID, "updated")
	return nil
}

func (h *CallbackHandler) closePullRequest(ctx context.Context, jc *jobContext, req *ClosePullRequest) error {
	match, err := h.matchOpenPullRequest(ctx, jc, req.Data.DependencyNames)
	if err != nil {
		return err
	}
	if match == nil {
		return fmt.Errorf("no open pull request for dependencies %v", req.Data.DependencyNames)
	}

	p, err := h.providerFor(ctx, jc)
	if err != nil {
		return err
	}
	target, err := h.targetBranch(ctx, p, jc)
	if err != nil {
		return err
	}

	branch := match.SourceBranch
	if branch == "" {
		branch = jobs.BranchName(
			match.PackageManager,
			target,
			jobs.DirectoryHint(h.sourceDirectories(jc), nil),
			jobs.GroupNameFromData(match.Data),
			jobs.DependenciesFromData(match.Data),
			jc.details.BranchSeparator,
		)
	}
	err = p.AbandonPullRequest(ctx, provider.AbandonPullRequestInput{
		ProjectID:          jc.project.ProviderID,
		RepositoryID:       jc.repo.ProviderID,
		PullRequestID:      match.ProviderPRID,
		Comment:            closeReasonComment(req.Data.Reason),
		SourceBranch:       branch,
		DeleteSourceBranch: true,
	})
	if err != nil {
		return fmt.Errorf("close pull request %d: %w", match.ProviderPRID, err)
	}

	match.Status = storage.PRClosed
	match.UpdatedAt = time.Now().UTC()
	if err := h.Store.SavePullRequest(ctx, *match); err != nil {
		return err
	}
	h.recordAffected(ctx, jc, match.ProviderPRID, "closed")
	return nil
}

// recordAffected appends the provider PR ID to both the in-flight tracker
// and the persisted job record.
func (h *CallbackHandler) recordAffected(ctx context.Context, jc *jobContext, prID int64, kind string) {
	if h.Affected != nil {
		switch kind {
		case "created":
			h.Affected.RecordCreated(jc.job.ID, prID)
		case "updated":
			h.Affected.RecordUpdated(jc.job.ID, prID)
		case "closed":
			h.Affected.RecordClosed(jc.job.ID, prID)
		}
	}
	jc.job.AffectedPRIDs = append(jc.job.AffectedPRIDs, prID)
	if err := h.Store.SaveUpdateJob(ctx, *jc.job); err != nil {
		h.logger().Printf("job %s: persist affected pull request %d: %v", jc.job.ID, prID, err)
	}
}
