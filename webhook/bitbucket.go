package webhook

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-playground/webhooks/v6/bitbucket"

	"depsync/internal"
	"depsync/pkg/storage"
)

// BitbucketHandler handles incoming webhooks from Bitbucket Cloud. The hook
// UUID check uses the organization's webhook secret; deliveries that fail it
// are acknowledged with 200 and dropped.
type BitbucketHandler struct {
	store     storage.Store
	rules     *internal.RuleEngine
	publisher internal.Publisher
	logger    *log.Logger
	maxBody   int64
}

var bitbucketEvents = []bitbucket.Event{
	bitbucket.RepoPushEvent,
	bitbucket.RepoUpdatedEvent,
	bitbucket.PullRequestMergedEvent,
	bitbucket.PullRequestDeclinedEvent,
}

// NewBitbucketHandler creates a new BitbucketHandler.
func NewBitbucketHandler(store storage.Store, rules *internal.RuleEngine, publisher internal.Publisher, logger *log.Logger, maxBody int64) *BitbucketHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &BitbucketHandler{store: store, rules: rules, publisher: publisher, logger: logger, maxBody: maxBody}
}

// ServeHTTP handles an incoming HTTP request.
func (h *BitbucketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
		h.logger.Printf("bitbucket delivery for unknown organization dropped")
		w.WriteHeader(http.StatusOK)
		return
	}

	options := make([]bitbucket.Option, 0, 1)
	if org.WebhookSecret != "" {
		options = append(options, bitbucket.Options.UUID(org.WebhookSecret))
	}
	hook, err := bitbucket.New(options...)
	if err != nil {
		h.logger.Printf("bitbucket hook init failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if _, err := hook.Parse(r, bitbucketEvents...); err != nil {
		h.logger.Printf("bitbucket delivery for organization %s failed verification, dropped: %v", org.ID, err)
		w.WriteHeader(http.StatusOK)
		return
	}

	data := flattenBody(rawBody)
	workspace, repo, _ := strings.Cut(stringField(data, "repository.full_name"), "/")
	event := internal.Event{
		Provider:       "bitbucket",
		Name:           r.Header.Get("X-Event-Key"),
		OrganizationID: org.ID,
		ProjectID:      stringField(data, "repository.workspace.slug", "workspace.slug"),
		RepositoryID:   repo,
		Data:           data,
	}
	if event.ProjectID == "" {
		event.ProjectID = workspace
	}
	internal.IncWebhook(event.Provider)
	emit(r.Context(), h.rules, h.publisher, h.logger, event)

	w.WriteHeader(http.StatusOK)
}
