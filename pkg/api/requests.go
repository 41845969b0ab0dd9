package api

import (
	"encoding/json"
	"fmt"
)

// Request is one typed callback from the external job runner. The set of
// implementations is closed; DecodeRequest maps every other type string to
// UnknownRequest.
type Request interface {
	requestType() string
}

// DependencyFile is one changed manifest or lock file.
type DependencyFile struct {
	Name      string `json:"name"`
	Directory string `json:"directory"`
	Content   string `json:"content"`
	Deleted   bool   `json:"deleted,omitempty"`
	Operation string `json:"operation,omitempty"`
}

// CreatePullRequest asks for a new provider pull request.
type CreatePullRequest struct {
	Data struct {
		BaseCommitSHA   string          `json:"base-commit-sha"`
		Dependencies    json.RawMessage `json:"dependencies"`
		DependencyGroup *struct {
			Name string `json:"name"`
		} `json:"dependency-group"`
		UpdatedDependencyFiles []DependencyFile `json:"updated-dependency-files"`
		PRTitle                string           `json:"pr-title"`
		PRBody                 string           `json:"pr-body"`
		CommitMessage          string           `json:"commit-message"`
	} `json:"data"`
}

func (CreatePullRequest) requestType() string { return "create_pull_request" }

// UpdatePullRequest refreshes the content of an existing open pull request,
// identified by its dependency-name set.
type UpdatePullRequest struct {
	Data struct {
		BaseCommitSHA          string           `json:"base-commit-sha"`
		DependencyNames        []string         `json:"dependency-names"`
		UpdatedDependencyFiles []DependencyFile `json:"updated-dependency-files"`
		PRTitle                string           `json:"pr-title"`
		PRBody                 string           `json:"pr-body"`
		CommitMessage          string           `json:"commit-message"`
	} `json:"data"`
}

func (UpdatePullRequest) requestType() string { return "update_pull_request" }

// ClosePullRequest abandons an existing open pull request with a
// machine-readable reason code.
type ClosePullRequest struct {
	Data struct {
		DependencyNames []string `json:"dependency-names"`
		Reason          string   `json:"reason"`
	} `json:"data"`
}

func (ClosePullRequest) requestType() string { return "close_pull_request" }

// UpdateDependencyList persists the raw dependency snapshot for the job's
// RepositoryUpdate.
type UpdateDependencyList struct {
	Data struct {
		Dependencies    json.RawMessage `json:"dependencies"`
		DependencyFiles []string        `json:"dependency_files"`
	} `json:"data"`
}

func (UpdateDependencyList) requestType() string { return "update_dependency_list" }

// MarkAsProcessed signals job completion.
type MarkAsProcessed struct {
	Data struct {
		BaseCommitSHA string `json:"base-commit-sha"`
	} `json:"data"`
}

func (MarkAsProcessed) requestType() string { return "mark_as_processed" }

// RecordUpdateJobWarning appends a warning to the job.
type RecordUpdateJobWarning struct {
	Data struct {
		WarnType        string `json:"warn-type"`
		WarnTitle       string `json:"warn-title"`
		WarnDescription string `json:"warn-description"`
	} `json:"data"`
}

func (RecordUpdateJobWarning) requestType() string { return "record_update_job_warning" }

// RecordUpdateJobError appends an error to the job. Unknown marks errors the
// runner itself could not classify.
type RecordUpdateJobError struct {
	Unknown bool `json:"-"`
	Data    struct {
		ErrorType    string                 `json:"error-type"`
		ErrorDetails map[string]interface{} `json:"error-details"`
	} `json:"data"`
}

func (RecordUpdateJobError) requestType() string { return "record_update_job_error" }

// InertRequest covers types that are accepted and acknowledged without any
// persisted effect. Reserved for future use.
type InertRequest struct {
	Type string
}

func (r InertRequest) requestType() string { return r.Type }

// UnknownRequest covers unrecognized types; always acknowledged as success
// so a harmless new runner type never fails a job.
type UnknownRequest struct {
	Type string
}

func (r UnknownRequest) requestType() string { return r.Type }

var inertTypes = map[string]bool{
	"create_dependency_submission": true,
	"record_ecosystem_versions":    true,
	"increment_metric":             true,
	"record_ecosystem_meta":        true,
	"record_cooldown_meta":         true,
	"record_metrics":               true,
}

// DecodeRequest parses the body for the given type string.
func DecodeRequest(requestType string, body []byte) (Request, error) {
	decode := func(into Request) (Request, error) {
		if err := json.Unmarshal(body, into); err != nil {
			return nil, fmt.Errorf("decode %s: %w", requestType, err)
		}
		return into, nil
	}

	switch requestType {
	case "create_pull_request":
		return decode(&CreatePullRequest{})
	case "update_pull_request":
		return decode(&UpdatePullRequest{})
	case "close_pull_request":
		return decode(&ClosePullRequest{})
	case "update_dependency_list":
		return decode(&UpdateDependencyList{})
	case "mark_as_processed":
		return decode(&MarkAsProcessed{})
	case "record_update_job_warning":
		return decode(&RecordUpdateJobWarning{})
	case "record_update_job_error":
		return decode(&RecordUpdateJobError{})
	case "record_update_job_unknown_error":
		req := &RecordUpdateJobError{Unknown: true}
		return decode(req)
	default:
		if inertTypes[requestType] {
			return InertRequest{Type: requestType}, nil
		}
		return UnknownRequest{Type: requestType}, nil
	}
}
