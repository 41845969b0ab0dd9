package webhook

import (
	"bytes"
	"crypto/subtle"
	"io"
	"log"
	"net/http"

	"depsync/internal"
	"depsync/pkg/storage"
)

// AzureDevOpsHandler handles incoming service hooks from Azure DevOps.
// Deliveries authenticate with basic auth against the organization's webhook
// secret. Failed verification is acknowledged with 200 and dropped so the
// response never tells a prober whether the organization or secret exists.
type AzureDevOpsHandler struct {
	store     storage.Store
	rules     *internal.RuleEngine
	publisher internal.Publisher
	logger    *log.Logger
	maxBody   int64
}

// NewAzureDevOpsHandler creates a new AzureDevOpsHandler.
func NewAzureDevOpsHandler(store storage.Store, rules *internal.RuleEngine, publisher internal.Publisher, logger *log.Logger, maxBody int64) *AzureDevOpsHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &AzureDevOpsHandler{store: store, rules: rules, publisher: publisher, logger: logger, maxBody: maxBody}
}

// ServeHTTP handles an incoming HTTP request.
func (h *AzureDevOpsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
		h.logger.Printf("azuredevops delivery for unknown organization dropped")
		w.WriteHeader(http.StatusOK)
		return
	}
	if org.WebhookSecret != "" {
		_, password, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(password), []byte(org.WebhookSecret)) != 1 {
			h.logger.Printf("azuredevops delivery for organization %s failed verification, dropped", org.ID)
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	data := flattenBody(rawBody)
	eventName := stringField(data, "eventType")

	event := internal.Event{
		Provider:       "azure_devops",
		Name:           eventName,
		OrganizationID: org.ID,
		ProjectID:      stringField(data, "resource.repository.project.id", "resourceContainers.project.id"),
		RepositoryID:   stringField(data, "resource.repository.id"),
		Data:           data,
	}
	internal.IncWebhook(event.Provider)
	emit(r.Context(), h.rules, h.publisher, h.logger, event)

	w.WriteHeader(http.StatusOK)
}
