// Package bitbucket implements provider.SyncProvider for Bitbucket Cloud.
// A provider "project" maps to a workspace. The SDK covers most calls; the
// src and refs endpoints it does not expose are called directly.
package bitbucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	bb "github.com/ktrysmt/go-bitbucket"

	"depsync/pkg/provider"
)

const apiBase = "https://api.bitbucket.org/2.0"

type Client struct {
	bb       *bb.Client
	username string
	password string
	http     *http.Client
}

func New(username, password string) (*Client, error) {
	client, err := bb.NewBasicAuth(username, password)
	if err != nil {
		return nil, err
	}
	return &Client{
		bb:       client,
		username: username,
		password: password,
		http:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *Client) GetProject(ctx context.Context, projectID string) (*provider.Project, error) {
	workspace, err := c.bb.Workspaces.Get(projectID)
	if err != nil {
		if isNotFound(err) {
			return nil, provider.ErrNotFound
		}
		return nil, err
	}
	return &provider.Project{
		ID:   workspace.Slug,
		Name: workspace.Name,
		Slug: workspace.Slug,
		URL:  "https://bitbucket.org/" + workspace.Slug,
	}, nil
}

func (c *Client) GetRepositories(ctx context.Context, projectID string) ([]provider.Repository, error) {
	res, err := c.bb.Repositories.ListForAccount(&bb.RepositoriesOptions{Owner: projectID})
	if err != nil {
		if isNotFound(err) {
			return nil, provider.ErrNotFound
		}
		return nil, err
	}
	repos := make([]provider.Repository, 0, len(res.Items))
	for i := range res.Items {
		repos = append(repos, toRepository(&res.Items[i]))
	}
	return repos, nil
}

func (c *Client) GetRepository(ctx context.Context, projectID, repositoryID string) (*provider.Repository, error) {
	repo, err := c.bb.Repositories.Repository.Get(&bb.RepositoryOptions{
		Owner:    projectID,
		RepoSlug: repositoryID,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, provider.ErrNotFound
		}
		return nil, err
	}
	mapped := toRepository(repo)
	return &mapped, nil
}

func toRepository(repo *bb.Repository) provider.Repository {
	return provider.Repository{
		ID:            repo.Slug,
		Name:          repo.Name,
		Slug:          repo.Full_name,
		URL:           "https://bitbucket.org/" + repo.Full_name + ".git",
		Permalink:     "https://bitbucket.org/" + repo.Full_name,
		DefaultBranch: repo.Mainbranch.Name,
		Fork:          repo.Parent != nil,
	}
}

// GetConfigurationFile probes the well-known paths. The meta call supplies
// the last commit that touched the file, the blob call the raw content.
func (c *Client) GetConfigurationFile(ctx context.Context, project provider.Project, repository provider.Repository) (*provider.ConfigurationFile, error) {
	ref := repository.DefaultBranch
	if ref == "" {
		return &provider.ConfigurationFile{Slug: repository.Slug}, nil
	}

	for _, path := range provider.ConfigFilePaths {
		commitID, err := c.fileCommit(ctx, project.ID, repository.ID, ref, path)
		if errors.Is(err, provider.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		blob, err := c.bb.Repositories.Repository.GetFileBlob(&bb.RepositoryBlobOptions{
			Owner:    project.ID,
			RepoSlug: repository.ID,
			Ref:      ref,
			Path:     path,
		})
		if err != nil {
			return nil, err
		}
		return &provider.ConfigurationFile{
			Path:     path,
			Content:  blob.String(),
			CommitID: commitID,
			Slug:     repository.Slug,
		}, nil
	}
	return &provider.ConfigurationFile{Slug: repository.Slug}, nil
}

func (c *Client) GetDefaultBranch(ctx context.Context, projectID, repositoryID string) (string, error) {
	repo, err := c.GetRepository(ctx, projectID, repositoryID)
	if err != nil {
		return "", err
	}
	return repo.DefaultBranch, nil
}

func (c *Client) CreatePullRequest(ctx context.Context, input provider.CreatePullRequestInput) (*provider.PullRequest, error) {
	baseSHA, err := c.branchHead(ctx, input.ProjectID, input.RepositoryID, input.TargetBranch)
	if err != nil {
		return nil, fmt.Errorf("resolve target branch %s: %w", input.TargetBranch, err)
	}
	if err := c.pushFiles(ctx, input.ProjectID, input.RepositoryID, input.SourceBranch, baseSHA, input.CommitMessage, input.Changes); err != nil {
		return nil, fmt.Errorf("push changes: %w", err)
	}

	raw, err := c.bb.Repositories.PullRequests.Create(&bb.PullRequestsOptions{
		Owner:             input.ProjectID,
		RepoSlug:          input.RepositoryID,
		Title:             input.Title,
		Description:       input.Description,
		SourceBranch:      input.SourceBranch,
		DestinationBranch: input.TargetBranch,
		CloseSourceBranch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}
	id, err := pullRequestID(raw)
	if err != nil {
		return nil, err
	}
	return &provider.PullRequest{
		ID:           id,
		Title:        input.Title,
		SourceBranch: input.SourceBranch,
		TargetBranch: input.TargetBranch,
		URL:          fmt.Sprintf("https://bitbucket.org/%s/%s/pull-requests/%d", input.ProjectID, input.RepositoryID, id),
	}, nil
}

func (c *Client) UpdatePullRequest(ctx context.Context, input provider.UpdatePullRequestInput) error {
	if len(input.Changes) > 0 {
		headSHA, err := c.branchHead(ctx, input.ProjectID, input.RepositoryID, input.SourceBranch)
		if err != nil {
			return fmt.Errorf("resolve source branch %s: %w", input.SourceBranch, err)
		}
		if err := c.pushFiles(ctx, input.ProjectID, input.RepositoryID, input.SourceBranch, headSHA, input.CommitMessage, input.Changes); err != nil {
			return fmt.Errorf("push changes: %w", err)
		}
	}
	if input.Title == "" && input.Description == "" {
		return nil
	}
	_, err := c.bb.Repositories.PullRequests.Update(&bb.PullRequestsOptions{
		Owner:       input.ProjectID,
		RepoSlug:    input.RepositoryID,
		ID:          strconv.FormatInt(input.PullRequestID, 10),
		Title:       input.Title,
		Description: input.Description,
	})
	return err
}

func (c *Client) AbandonPullRequest(ctx context.Context, input provider.AbandonPullRequestInput) error {
	if input.Comment != "" {
		if err := c.AddCommentThread(ctx, input.ProjectID, input.RepositoryID, input.PullRequestID, input.Comment); err != nil {
			return err
		}
	}
	_, err := c.bb.Repositories.PullRequests.Decline(&bb.PullRequestsOptions{
		Owner:    input.ProjectID,
		RepoSlug: input.RepositoryID,
		ID:       strconv.FormatInt(input.PullRequestID, 10),
	})
	if err != nil {
		return err
	}
	if input.DeleteSourceBranch && input.SourceBranch != "" {
		err := c.deleteBranch(ctx, input.ProjectID, input.RepositoryID, input.SourceBranch)
		if errors.Is(err, provider.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (c *Client) AddCommentThread(ctx context.Context, projectID, repositoryID string, pullRequestID int64, comment string) error {
	_, err := c.bb.Repositories.PullRequests.AddComment(&bb.PullRequestCommentOptions{
		Owner:         projectID,
		RepoSlug:      repositoryID,
		PullRequestID: strconv.FormatInt(pullRequestID, 10),
		Content:       comment,
	})
	return err
}

func pullRequestID(raw interface{}) (int64, error) {
	body, ok := raw.(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("bitbucket: unexpected pull request response %T", raw)
	}
	id, ok := body["id"].(float64)
	if !ok {
		return 0, fmt.Errorf("bitbucket: pull request response has no id")
	}
	return int64(id), nil
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "404")
}

// The src and refs endpoints below are not covered by the SDK.

func (c *Client) raw(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, apiBase+path, body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return provider.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bitbucket: %s %s: status %d: %s", method, path, resp.StatusCode, string(snippet))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) fileCommit(ctx context.Context, workspace, repoSlug, ref, path string) (string, error) {
	var meta struct {
		Commit struct {
			Hash string `json:"hash"`
		} `json:"commit"`
	}
	endpoint := fmt.Sprintf("/repositories/%s/%s/src/%s/%s?format=meta",
		url.PathEscape(workspace), url.PathEscape(repoSlug), url.PathEscape(ref), path)
	if err := c.raw(ctx, http.MethodGet, endpoint, nil, &meta); err != nil {
		return "", err
	}
	return meta.Commit.Hash, nil
}

func (c *Client) branchHead(ctx context.Context, workspace, repoSlug, branch string) (string, error) {
	var ref struct {
		Target struct {
			Hash string `json:"hash"`
		} `json:"target"`
	}
	endpoint := fmt.Sprintf("/repositories/%s/%s/refs/branches/%s",
		url.PathEscape(workspace), url.PathEscape(repoSlug), url.PathEscape(branch))
	if err := c.raw(ctx, http.MethodGet, endpoint, nil, &ref); err != nil {
		return "", err
	}
	return ref.Target.Hash, nil
}

// pushFiles commits the given files on branch via the src endpoint, creating
// the branch off parent when it does not exist yet.
func (c *Client) pushFiles(ctx context.Context, workspace, repoSlug, branch, parent, message string, changes []provider.FileChange) error {
	form := url.Values{}
	form.Set("branch", branch)
	form.Set("message", message)
	if parent != "" {
		form.Set("parents", parent)
	}
	for _, change := range changes {
		form.Set("/"+strings.TrimPrefix(change.Path, "/"), change.Content)
	}
	endpoint := fmt.Sprintf("/repositories/%s/%s/src", url.PathEscape(workspace), url.PathEscape(repoSlug))
	return c.raw(ctx, http.MethodPost, endpoint, form, nil)
}

func (c *Client) deleteBranch(ctx context.Context, workspace, repoSlug, branch string) error {
	endpoint := fmt.Sprintf("/repositories/%s/%s/refs/branches/%s",
		url.PathEscape(workspace), url.PathEscape(repoSlug), url.PathEscape(branch))
	return c.raw(ctx, http.MethodDelete, endpoint, nil, nil)
}
