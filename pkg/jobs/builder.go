package jobs

import (
	"fmt"
	"net/url"
	"sort"

	"depsync/pkg/provider"
	"depsync/pkg/storage"
	"depsync/pkg/updateconfig"
)

// Source identifies the repository the runner operates on.
type Source struct {
	Provider    string   `json:"provider"`
	Hostname    string   `json:"hostname,omitempty"`
	APIEndpoint string   `json:"api-endpoint,omitempty"`
	Repo        string   `json:"repo"`
	Directory   string   `json:"directory,omitempty"`
	Directories []string `json:"directories,omitempty"`
	Branch      string   `json:"branch,omitempty"`
}

// DependencyGroup is one named group definition handed to the runner.
type DependencyGroup struct {
	Name  string             `json:"name"`
	Rules updateconfig.Group `json:"rules"`
}

// JobDetails is the job section of the runner document. It also carries the
// pull-request presentation options the callback handler needs later, so the
// configuration file never has to be re-parsed during callbacks.
type JobDetails struct {
	PackageManager        string                     `json:"package-manager"`
	Source                Source                     `json:"source"`
	AllowedUpdates        []updateconfig.Condition   `json:"allowed-updates,omitempty"`
	IgnoreConditions      []updateconfig.Condition   `json:"ignore-conditions,omitempty"`
	DependencyGroups      []DependencyGroup          `json:"dependency-groups,omitempty"`
	ExistingPullRequests  [][]Dependency             `json:"existing-pull-requests,omitempty"`
	Experiments           map[string]interface{}     `json:"experiments,omitempty"`
	Debug                 bool                       `json:"debug,omitempty"`
	OpenPullRequestsLimit int                        `json:"open-pull-requests-limit"`
	SecurityUpdatesOnly   bool                       `json:"security-updates-only"`
	TargetBranch          string                     `json:"target-branch,omitempty"`
	BranchSeparator       string                     `json:"pull-request-branch-name-separator,omitempty"`
	Labels                []string                   `json:"labels,omitempty"`
	Assignees             []string                   `json:"assignees,omitempty"`
	Milestone             int                        `json:"milestone,omitempty"`
	VersioningStrategy    string                     `json:"versioning-strategy,omitempty"`
	CommitMessageOptions  updateconfig.CommitMessage `json:"commit-message-options,omitempty"`
}

// JobSpec is the immutable document handed to the external runner: the job
// section plus git and registry credentials.
type JobSpec struct {
	Job         JobDetails          `json:"job"`
	Credentials []map[string]string `json:"credentials,omitempty"`
}

// BuildJobSpec assembles the runner document for one update entry. existing
// seeds the runner's view of already-open pull requests.
func BuildJobSpec(
	org storage.OrganizationRecord,
	repo storage.RepositoryRecord,
	update updateconfig.Update,
	cfg *updateconfig.Config,
	existing []storage.PullRequestRecord,
	gitCred provider.Credentials,
	experiments map[string]interface{},
	debug bool,
) JobSpec {
	directories := update.EffectiveDirectories()
	source := Source{
		Provider:    org.ProviderType,
		Hostname:    hostname(org.BaseURL),
		APIEndpoint: org.BaseURL,
		Repo:        repo.Slug,
		Branch:      update.TargetBranch,
	}
	if len(directories) == 1 {
		source.Directory = directories[0]
	} else {
		source.Directories = directories
	}

	var groups []DependencyGroup
	if len(update.Groups) > 0 {
		names := make([]string, 0, len(update.Groups))
		for name := range update.Groups {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			groups = append(groups, DependencyGroup{Name: name, Rules: update.Groups[name]})
		}
	}

	var existingPRs [][]Dependency
	for _, pr := range existing {
		if deps := DependenciesFromData(pr.Data); len(deps) > 0 {
			existingPRs = append(existingPRs, deps)
		}
	}

	details := JobDetails{
		PackageManager:        update.PackageEcosystem,
		Source:                source,
		AllowedUpdates:        update.Allow,
		IgnoreConditions:      update.Ignore,
		DependencyGroups:      groups,
		ExistingPullRequests:  existingPRs,
		Experiments:           experiments,
		Debug:                 debug,
		OpenPullRequestsLimit: update.PullRequestLimit(),
		SecurityUpdatesOnly:   update.PullRequestLimit() == 0,
		TargetBranch:          update.TargetBranch,
		BranchSeparator:       update.BranchSeparator(),
		Labels:                update.Labels,
		Assignees:             update.Assignees,
		Milestone:             update.Milestone,
		VersioningStrategy:    update.VersioningStrategy,
		CommitMessageOptions:  update.CommitMessage,
	}

	credentials := []map[string]string{{
		"type":     "git_source",
		"host":     hostname(org.BaseURL),
		"username": gitCred.Username,
		"password": gitCred.Token,
	}}
	for _, name := range update.Registries {
		registry, ok := cfg.Registries[name]
		if !ok {
			continue
		}
		credentials = append(credentials, registryCredential(registry))
	}

	return JobSpec{Job: details, Credentials: credentials}
}

func registryCredential(registry updateconfig.Registry) map[string]string {
	cred := make(map[string]string, len(registry))
	for key, value := range registry {
		switch v := value.(type) {
		case string:
			cred[key] = v
		case bool:
			cred[key] = fmt.Sprintf("%t", v)
		case int:
			cred[key] = fmt.Sprintf("%d", v)
		default:
			cred[key] = fmt.Sprintf("%v", v)
		}
	}
	return cred
}

func hostname(baseURL string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return baseURL
	}
	return parsed.Host
}
