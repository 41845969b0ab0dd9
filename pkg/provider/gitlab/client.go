// Package gitlab implements provider.SyncProvider for GitLab. A provider
// "project" maps to a GitLab group, a provider "repository" to a GitLab
// project.
package gitlab

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"

	gitlab "github.com/xanzy/go-gitlab"

	"depsync/pkg/provider"
)

type Client struct {
	gl *gitlab.Client
}

func New(baseURL, token string) (*Client, error) {
	gl, err := gitlab.NewClient(token, gitlab.WithBaseURL(baseURL))
	if err != nil {
		return nil, err
	}
	return &Client{gl: gl}, nil
}

func notFound(resp *gitlab.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}

func (c *Client) GetProject(ctx context.Context, projectID string) (*provider.Project, error) {
	group, resp, err := c.gl.Groups.GetGroup(projectID, &gitlab.GetGroupOptions{}, gitlab.WithContext(ctx))
	if notFound(resp) {
		return nil, provider.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &provider.Project{
		ID:   strconv.Itoa(group.ID),
		Name: group.Name,
		Slug: group.FullPath,
		URL:  group.WebURL,
	}, nil
}

func (c *Client) GetRepositories(ctx context.Context, projectID string) ([]provider.Repository, error) {
	var repos []provider.Repository
	opts := &gitlab.ListGroupProjectsOptions{
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}
	for {
		projects, resp, err := c.gl.Groups.ListGroupProjects(projectID, opts, gitlab.WithContext(ctx))
		if notFound(resp) {
			return nil, provider.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		for _, project := range projects {
			repos = append(repos, toRepository(project))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return repos, nil
}

func (c *Client) GetRepository(ctx context.Context, _ string, repositoryID string) (*provider.Repository, error) {
	project, resp, err := c.gl.Projects.GetProject(repositoryID, &gitlab.GetProjectOptions{}, gitlab.WithContext(ctx))
	if notFound(resp) {
		return nil, provider.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	repo := toRepository(project)
	return &repo, nil
}

func toRepository(project *gitlab.Project) provider.Repository {
	return provider.Repository{
		ID:            strconv.Itoa(project.ID),
		Name:          project.Name,
		Slug:          project.PathWithNamespace,
		URL:           project.HTTPURLToRepo,
		Permalink:     project.WebURL,
		DefaultBranch: project.DefaultBranch,
		Disabled:      project.Archived,
		Fork:          project.ForkedFromProject != nil,
	}
}

func (c *Client) GetConfigurationFile(ctx context.Context, _ provider.Project, repository provider.Repository) (*provider.ConfigurationFile, error) {
	ref := repository.DefaultBranch
	if ref == "" {
		branch, err := c.GetDefaultBranch(ctx, "", repository.ID)
		if err != nil {
			return nil, err
		}
		ref = branch
	}

	for _, path := range provider.ConfigFilePaths {
		file, resp, err := c.gl.RepositoryFiles.GetFile(repository.ID, path, &gitlab.GetFileOptions{
			Ref: gitlab.Ptr(ref),
		}, gitlab.WithContext(ctx))
		if notFound(resp) {
			continue
		}
		if err != nil {
			return nil, err
		}
		content, err := base64.StdEncoding.DecodeString(file.Content)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return &provider.ConfigurationFile{
			Path:     path,
			Content:  string(content),
			CommitID: file.LastCommitID,
			Slug:     repository.Slug,
		}, nil
	}
	return &provider.ConfigurationFile{Slug: repository.Slug}, nil
}

func (c *Client) GetDefaultBranch(ctx context.Context, _ string, repositoryID string) (string, error) {
	project, resp, err := c.gl.Projects.GetProject(repositoryID, &gitlab.GetProjectOptions{}, gitlab.WithContext(ctx))
	if notFound(resp) {
		return "", provider.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return project.DefaultBranch, nil
}

func (c *Client) CreatePullRequest(ctx context.Context, input provider.CreatePullRequestInput) (*provider.PullRequest, error) {
	_, _, err := c.gl.Branches.CreateBranch(input.RepositoryID, &gitlab.CreateBranchOptions{
		Branch: gitlab.Ptr(input.SourceBranch),
		Ref:    gitlab.Ptr(input.TargetBranch),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create branch %s: %w", input.SourceBranch, err)
	}

	if err := c.commitChanges(ctx, input.RepositoryID, input.SourceBranch, input.CommitMessage, input.Changes); err != nil {
		return nil, fmt.Errorf("commit changes: %w", err)
	}

	opts := &gitlab.CreateMergeRequestOptions{
		Title:        gitlab.Ptr(input.Title),
		Description:  gitlab.Ptr(input.Description),
		SourceBranch: gitlab.Ptr(input.SourceBranch),
		TargetBranch: gitlab.Ptr(input.TargetBranch),
	}
	if len(input.Labels) > 0 {
		labels := gitlab.LabelOptions(input.Labels)
		opts.Labels = &labels
	}
	mr, _, err := c.gl.MergeRequests.CreateMergeRequest(input.RepositoryID, opts, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create merge request: %w", err)
	}
	return &provider.PullRequest{
		ID:           int64(mr.IID),
		Title:        mr.Title,
		SourceBranch: mr.SourceBranch,
		TargetBranch: mr.TargetBranch,
		URL:          mr.WebURL,
	}, nil
}

func (c *Client) commitChanges(ctx context.Context, repositoryID, branch, message string, changes []provider.FileChange) error {
	if len(changes) == 0 {
		return nil
	}
	actions := make([]*gitlab.CommitActionOptions, 0, len(changes))
	for _, change := range changes {
		actions = append(actions, &gitlab.CommitActionOptions{
			Action:   gitlab.Ptr(gitlab.FileUpdate),
			FilePath: gitlab.Ptr(change.Path),
			Content:  gitlab.Ptr(change.Content),
		})
	}
	_, _, err := c.gl.Commits.CreateCommit(repositoryID, &gitlab.CreateCommitOptions{
		Branch:        gitlab.Ptr(branch),
		CommitMessage: gitlab.Ptr(message),
		Actions:       actions,
	}, gitlab.WithContext(ctx))
	return err
}

func (c *Client) UpdatePullRequest(ctx context.Context, input provider.UpdatePullRequestInput) error {
	if err := c.commitChanges(ctx, input.RepositoryID, input.SourceBranch, input.CommitMessage, input.Changes); err != nil {
		return fmt.Errorf("commit changes: %w", err)
	}

	opts := &gitlab.UpdateMergeRequestOptions{}
	if input.Title != "" {
		opts.Title = gitlab.Ptr(input.Title)
	}
	if input.Description != "" {
		opts.Description = gitlab.Ptr(input.Description)
	}
	if opts.Title == nil && opts.Description == nil {
		return nil
	}
	_, _, err := c.gl.MergeRequests.UpdateMergeRequest(input.RepositoryID, int(input.PullRequestID), opts, gitlab.WithContext(ctx))
	return err
}

func (c *Client) AbandonPullRequest(ctx context.Context, input provider.AbandonPullRequestInput) error {
	if input.Comment != "" {
		if err := c.AddCommentThread(ctx, input.ProjectID, input.RepositoryID, input.PullRequestID, input.Comment); err != nil {
			return err
		}
	}
	_, _, err := c.gl.MergeRequests.UpdateMergeRequest(input.RepositoryID, int(input.PullRequestID), &gitlab.UpdateMergeRequestOptions{
		StateEvent: gitlab.Ptr("close"),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return err
	}
	if input.DeleteSourceBranch && input.SourceBranch != "" {
		resp, err := c.gl.Branches.DeleteBranch(input.RepositoryID, input.SourceBranch, gitlab.WithContext(ctx))
		if notFound(resp) {
			return nil
		}
		return err
	}
	return nil
}

func (c *Client) AddCommentThread(ctx context.Context, _ string, repositoryID string, pullRequestID int64, comment string) error {
	_, _, err := c.gl.Notes.CreateMergeRequestNote(repositoryID, int(pullRequestID), &gitlab.CreateMergeRequestNoteOptions{
		Body: gitlab.Ptr(comment),
	}, gitlab.WithContext(ctx))
	return err
}
