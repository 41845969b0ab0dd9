package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"depsync/internal"
	"depsync/pkg/storage"
	"depsync/pkg/storage/storagetest"
)

type capturingPublisher struct {
	topics []string
	events []internal.Event
}

func (p *capturingPublisher) Publish(_ context.Context, topic string, event internal.Event) error {
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

const pushPayload = `{
	"eventType": "git.push",
	"resource": {
		"repository": {
			"id": "repo-guid",
			"name": "app",
			"project": {"id": "proj-guid", "name": "Contoso"}
		}
	}
}`

func newAzureHandler(t *testing.T) (*AzureDevOpsHandler, *capturingPublisher) {
	t.Helper()
	store := storagetest.New()
	store.Organizations["org-1"] = storage.OrganizationRecord{
		ID:            "org-1",
		ProviderType:  "azure_devops",
		WebhookSecret: "hook-secret",
	}
	rules, err := internal.NewRuleEngine(internal.RulesConfig{})
	if err != nil {
		t.Fatalf("rule engine: %v", err)
	}
	pub := &capturingPublisher{}
	return NewAzureDevOpsHandler(store, rules, pub, nil, 0), pub
}

func TestAzureDevOpsPushPublishesTrigger(t *testing.T) {
	handler, pub := newAzureHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/azuredevops?organization=org-1", strings.NewReader(pushPayload))
	req.SetBasicAuth("", "hook-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(pub.topics) != 1 || pub.topics[0] != internal.TopicSyncRepository {
		t.Fatalf("expected one sync.repository publish, got %v", pub.topics)
	}
	event := pub.events[0]
	if event.OrganizationID != "org-1" || event.ProjectID != "proj-guid" || event.RepositoryID != "repo-guid" {
		t.Fatalf("unexpected identifiers: %+v", event)
	}
}

func TestAzureDevOpsBadSecretDroppedSilently(t *testing.T) {
	handler, pub := newAzureHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/azuredevops?organization=org-1", strings.NewReader(pushPayload))
	req.SetBasicAuth("", "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("verification failures must still acknowledge, got %d", rec.Code)
	}
	if len(pub.topics) != 0 {
		t.Fatalf("expected no publishes, got %v", pub.topics)
	}
}

func TestAzureDevOpsUnknownOrganizationDropped(t *testing.T) {
	handler, pub := newAzureHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/azuredevops?organization=nope", strings.NewReader(pushPayload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(pub.topics) != 0 {
		t.Fatalf("expected no publishes, got %v", pub.topics)
	}
}

func TestAzureDevOpsNonPushEventIgnoredByRules(t *testing.T) {
	handler, pub := newAzureHandler(t)

	payload := `{"eventType":"git.pullrequest.created","resource":{"repository":{"id":"r"}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/azuredevops?organization=org-1", strings.NewReader(payload))
	req.SetBasicAuth("", "hook-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(pub.topics) != 0 {
		t.Fatalf("expected rules to skip non-push events, got %v", pub.topics)
	}
}
