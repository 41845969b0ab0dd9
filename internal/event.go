package internal

// Event is a synchronization trigger flowing from webhook ingestion (or a
// manual/scheduled caller) to the Synchronizer consumer. Identifiers are the
// provider's native IDs; the dispatcher maps them onto persisted records.
type Event struct {
	Provider       string                 `json:"provider"`
	Name           string                 `json:"name"`
	OrganizationID string                 `json:"organization_id,omitempty"`
	ProjectID      string                 `json:"project_id,omitempty"`
	RepositoryID   string                 `json:"repository_id,omitempty"`
	Data           map[string]interface{} `json:"data,omitempty"`
}

// Topics the Synchronizer consumer subscribes to.
const (
	TopicSyncRepository   = "sync.repository"
	TopicSyncRepositories = "sync.repositories"
	TopicSyncProject      = "sync.project"
)
