package webhook

import (
	"bytes"
	"io"
	"log"
	"net/http"

	"github.com/go-playground/webhooks/v6/gitlab"

	"depsync/internal"
	"depsync/pkg/storage"
)

// GitLabHandler handles incoming webhooks from GitLab. The token check uses
// the organization's webhook secret; deliveries that fail it are acknowledged
// with 200 and dropped.
type GitLabHandler struct {
	store     storage.Store
	rules     *internal.RuleEngine
	publisher internal.Publisher
	logger    *log.Logger
	maxBody   int64
}

var gitlabEvents = []gitlab.Event{
	gitlab.PushEvents,
	gitlab.TagEvents,
	gitlab.MergeRequestEvents,
	gitlab.SystemHookEvents,
}

// NewGitLabHandler creates a new GitLabHandler.
func NewGitLabHandler(store storage.Store, rules *internal.RuleEngine, publisher internal.Publisher, logger *log.Logger, maxBody int64) *GitLabHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &GitLabHandler{store: store, rules: rules, publisher: publisher, logger: logger, maxBody: maxBody}
}

// ServeHTTP handles an incoming HTTP request.
func (h *GitLabHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(rawBody))

	org := lookupOrganization(r.Context(), h.store, r)
	if org == nil {
		h.logger.Printf("gitlab delivery for unknown organization dropped")
		w.WriteHeader(http.StatusOK)
		return
	}

	options := make([]gitlab.Option, 0, 1)
	if org.WebhookSecret != "" {
		options = append(options, gitlab.Options.Secret(org.WebhookSecret))
	}
	hook, err := gitlab.New(options...)
	if err != nil {
		h.logger.Printf("gitlab hook init failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if _, err := hook.Parse(r, gitlabEvents...); err != nil {
		h.logger.Printf("gitlab delivery for organization %s failed verification, dropped: %v", org.ID, err)
		w.WriteHeader(http.StatusOK)
		return
	}

	data := flattenBody(rawBody)
	event := internal.Event{
		Provider:       "gitlab",
		Name:           r.Header.Get("X-Gitlab-Event"),
		OrganizationID: org.ID,
		ProjectID:      stringField(data, "project.namespace", "project_id"),
		RepositoryID:   stringField(data, "project.id", "project_id"),
		Data:           data,
	}
	internal.IncWebhook(event.Provider)
	emit(r.Context(), h.rules, h.publisher, h.logger, event)

	w.WriteHeader(http.StatusOK)
}
