// Package azuredevops implements provider.SyncProvider against the Azure
// DevOps REST API.
package azuredevops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"depsync/pkg/provider"
)

const (
	apiVersion   = "7.1"
	zeroObjectID = "0000000000000000000000000000000000000000"
)

// Client talks to one Azure DevOps organization, e.g.
// https://dev.azure.com/contoso.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type projectResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
	Links struct {
		Web struct {
			Href string `json:"href"`
		} `json:"web"`
	} `json:"_links"`
}

type repositoryResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	WebURL        string `json:"webUrl"`
	DefaultBranch string `json:"defaultBranch"`
	IsDisabled    bool   `json:"isDisabled"`
	IsFork        bool   `json:"isFork"`
	Project       struct {
		Name string `json:"name"`
	} `json:"project"`
}

type repositoryListResponse struct {
	Count int                  `json:"count"`
	Value []repositoryResponse `json:"value"`
}

type itemResponse struct {
	Path                  string `json:"path"`
	Content               string `json:"content"`
	LatestProcessedChange struct {
		CommitID string `json:"commitId"`
	} `json:"latestProcessedChange"`
}

type refResponse struct {
	Name     string `json:"name"`
	ObjectID string `json:"objectId"`
}

type refListResponse struct {
	Count int           `json:"count"`
	Value []refResponse `json:"value"`
}

type pullRequestResponse struct {
	PullRequestID int64  `json:"pullRequestId"`
	Title         string `json:"title"`
	SourceRefName string `json:"sourceRefName"`
	TargetRefName string `json:"targetRefName"`
	URL           string `json:"url"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", apiVersion)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query.Encode(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth("", c.token)

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
		return fmt.Errorf("azure devops: %s %s: status %d: %s", method, path, resp.StatusCode, string(snippet))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) GetProject(ctx context.Context, projectID string) (*provider.Project, error) {
	var resp projectResponse
	err := c.do(ctx, http.MethodGet, "/_apis/projects/"+url.PathEscape(projectID), nil, nil, &resp)
	if err != nil {
		return nil, err
	}
	permalink := resp.Links.Web.Href
	if permalink == "" {
		permalink = resp.URL
	}
	return &provider.Project{
		ID:   resp.ID,
		Name: resp.Name,
		Slug: resp.Name,
		URL:  permalink,
	}, nil
}

func (c *Client) GetRepositories(ctx context.Context, projectID string) ([]provider.Repository, error) {
	var resp repositoryListResponse
	err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(projectID)+"/_apis/git/repositories", nil, nil, &resp)
	if err != nil {
		return nil, err
	}
	repos := make([]provider.Repository, 0, len(resp.Value))
	for _, repo := range resp.Value {
		repos = append(repos, toRepository(repo))
	}
	return repos, nil
}

func (c *Client) GetRepository(ctx context.Context, projectID, repositoryID string) (*provider.Repository, error) {
	var resp repositoryResponse
	err := c.do(ctx, http.MethodGet, c.repoPath(projectID, repositoryID), nil, nil, &resp)
	if err != nil {
		return nil, err
	}
	repo := toRepository(resp)
	return &repo, nil
}

func toRepository(resp repositoryResponse) provider.Repository {
	slug := resp.Name
	if resp.Project.Name != "" {
		slug = resp.Project.Name + "/" + resp.Name
	}
	return provider.Repository{
		ID:            resp.ID,
		Name:          resp.Name,
		Slug:          slug,
		URL:           resp.URL,
		Permalink:     resp.WebURL,
		DefaultBranch: strings.TrimPrefix(resp.DefaultBranch, "refs/heads/"),
		Disabled:      resp.IsDisabled,
		Fork:          resp.IsFork,
	}
}

// GetConfigurationFile probes the well-known paths in order and returns the
// first file found, with the commit that last touched it.
func (c *Client) GetConfigurationFile(ctx context.Context, project provider.Project, repository provider.Repository) (*provider.ConfigurationFile, error) {
	for _, path := range provider.ConfigFilePaths {
		query := url.Values{}
		query.Set("path", "/"+path)
		query.Set("includeContent", "true")
		query.Set("latestProcessedChange", "true")

		var resp itemResponse
		err := c.do(ctx, http.MethodGet, c.repoPath(project.ID, repository.ID)+"/items", query, nil, &resp)
		if errors.Is(err, provider.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &provider.ConfigurationFile{
			Path:     path,
			Content:  resp.Content,
			CommitID: resp.LatestProcessedChange.CommitID,
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

func (c *Client) branchHead(ctx context.Context, projectID, repositoryID, branch string) (string, error) {
	query := url.Values{}
	query.Set("filter", "heads/"+branch)

	var resp refListResponse
	err := c.do(ctx, http.MethodGet, c.repoPath(projectID, repositoryID)+"/refs", query, nil, &resp)
	if err != nil {
		return "", err
	}
	for _, ref := range resp.Value {
		if ref.Name == "refs/heads/"+branch {
			return ref.ObjectID, nil
		}
	}
	return "", provider.ErrNotFound
}

func (c *Client) updateRef(ctx context.Context, projectID, repositoryID, branch, oldObjectID, newObjectID string) error {
	body := []map[string]string{{
		"name":        "refs/heads/" + branch,
		"oldObjectId": oldObjectID,
		"newObjectId": newObjectID,
	}}
	return c.do(ctx, http.MethodPost, c.repoPath(projectID, repositoryID)+"/refs", nil, body, nil)
}

func (c *Client) pushChanges(ctx context.Context, projectID, repositoryID, branch, headObjectID, message string, changes []provider.FileChange) error {
	commitChanges := make([]map[string]interface{}, 0, len(changes))
	for _, change := range changes {
		commitChanges = append(commitChanges, map[string]interface{}{
			"changeType": "edit",
			"item":       map[string]string{"path": "/" + strings.TrimPrefix(change.Path, "/")},
			"newContent": map[string]string{
				"content":     change.Content,
				"contentType": "rawtext",
			},
		})
	}
	body := map[string]interface{}{
		"refUpdates": []map[string]string{{
			"name":        "refs/heads/" + branch,
			"oldObjectId": headObjectID,
		}},
		"commits": []map[string]interface{}{{
			"comment": message,
			"changes": commitChanges,
		}},
	}
	return c.do(ctx, http.MethodPost, c.repoPath(projectID, repositoryID)+"/pushes", nil, body, nil)
}

// CreatePullRequest creates the source branch from the target branch head,
// pushes the file changes and opens the pull request.
func (c *Client) CreatePullRequest(ctx context.Context, input provider.CreatePullRequestInput) (*provider.PullRequest, error) {
	baseSHA, err := c.branchHead(ctx, input.ProjectID, input.RepositoryID, input.TargetBranch)
	if err != nil {
		return nil, fmt.Errorf("resolve target branch %s: %w", input.TargetBranch, err)
	}
	if err := c.updateRef(ctx, input.ProjectID, input.RepositoryID, input.SourceBranch, zeroObjectID, baseSHA); err != nil {
		return nil, fmt.Errorf("create branch %s: %w", input.SourceBranch, err)
	}
	if err := c.pushChanges(ctx, input.ProjectID, input.RepositoryID, input.SourceBranch, baseSHA, input.CommitMessage, input.Changes); err != nil {
		return nil, fmt.Errorf("push changes: %w", err)
	}

	body := map[string]interface{}{
		"sourceRefName": "refs/heads/" + input.SourceBranch,
		"targetRefName": "refs/heads/" + input.TargetBranch,
		"title":         input.Title,
		"description":   input.Description,
	}
	var resp pullRequestResponse
	if err := c.do(ctx, http.MethodPost, c.repoPath(input.ProjectID, input.RepositoryID)+"/pullrequests", nil, body, &resp); err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}

	for _, label := range input.Labels {
		labelBody := map[string]string{"name": label}
		if err := c.do(ctx, http.MethodPost, c.prPath(input.ProjectID, input.RepositoryID, resp.PullRequestID)+"/labels", nil, labelBody, nil); err != nil {
			return nil, fmt.Errorf("add label %s: %w", label, err)
		}
	}
	if len(input.Properties) > 0 {
		patch := make([]map[string]interface{}, 0, len(input.Properties))
		for key, value := range input.Properties {
			patch = append(patch, map[string]interface{}{
				"op":    "add",
				"path":  "/" + key,
				"value": value,
			})
		}
		if err := c.do(ctx, http.MethodPatch, c.prPath(input.ProjectID, input.RepositoryID, resp.PullRequestID)+"/properties", nil, patch, nil); err != nil {
			return nil, fmt.Errorf("set properties: %w", err)
		}
	}

	return &provider.PullRequest{
		ID:           resp.PullRequestID,
		Title:        resp.Title,
		SourceBranch: strings.TrimPrefix(resp.SourceRefName, "refs/heads/"),
		TargetBranch: strings.TrimPrefix(resp.TargetRefName, "refs/heads/"),
		URL:          resp.URL,
	}, nil
}

// UpdatePullRequest pushes a fresh commit to the source branch and refreshes
// title and description.
func (c *Client) UpdatePullRequest(ctx context.Context, input provider.UpdatePullRequestInput) error {
	headSHA, err := c.branchHead(ctx, input.ProjectID, input.RepositoryID, input.SourceBranch)
	if err != nil {
		return fmt.Errorf("resolve source branch %s: %w", input.SourceBranch, err)
	}
	if len(input.Changes) > 0 {
		if err := c.pushChanges(ctx, input.ProjectID, input.RepositoryID, input.SourceBranch, headSHA, input.CommitMessage, input.Changes); err != nil {
			return fmt.Errorf("push changes: %w", err)
		}
	}

	body := map[string]string{}
	if input.Title != "" {
		body["title"] = input.Title
	}
	if input.Description != "" {
		body["description"] = input.Description
	}
	if len(body) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPatch, c.prPath(input.ProjectID, input.RepositoryID, input.PullRequestID), nil, body, nil)
}

// AbandonPullRequest comments, abandons and optionally deletes the source
// branch.
func (c *Client) AbandonPullRequest(ctx context.Context, input provider.AbandonPullRequestInput) error {
	if input.Comment != "" {
		if err := c.AddCommentThread(ctx, input.ProjectID, input.RepositoryID, input.PullRequestID, input.Comment); err != nil {
			return err
		}
	}
	body := map[string]string{"status": "abandoned"}
	if err := c.do(ctx, http.MethodPatch, c.prPath(input.ProjectID, input.RepositoryID, input.PullRequestID), nil, body, nil); err != nil {
		return err
	}
	if input.DeleteSourceBranch && input.SourceBranch != "" {
		headSHA, err := c.branchHead(ctx, input.ProjectID, input.RepositoryID, input.SourceBranch)
		if errors.Is(err, provider.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return c.updateRef(ctx, input.ProjectID, input.RepositoryID, input.SourceBranch, headSHA, zeroObjectID)
	}
	return nil
}

func (c *Client) AddCommentThread(ctx context.Context, projectID, repositoryID string, pullRequestID int64, comment string) error {
	body := map[string]interface{}{
		"status": 1,
		"comments": []map[string]interface{}{{
			"parentCommentId": 0,
			"commentType":     1,
			"content":         comment,
		}},
	}
	return c.do(ctx, http.MethodPost, c.prPath(projectID, repositoryID, pullRequestID)+"/threads", nil, body, nil)
}

func (c *Client) repoPath(projectID, repositoryID string) string {
	return "/" + url.PathEscape(projectID) + "/_apis/git/repositories/" + url.PathEscape(repositoryID)
}

func (c *Client) prPath(projectID, repositoryID string, pullRequestID int64) string {
	return fmt.Sprintf("%s/pullrequests/%d", c.repoPath(projectID, repositoryID), pullRequestID)
}
