// Package factory constructs the provider adapter for an organization.
package factory

import (
	"fmt"

	"depsync/pkg/provider"
	"depsync/pkg/provider/azuredevops"
	"depsync/pkg/provider/bitbucket"
	"depsync/pkg/provider/gitlab"
	"depsync/pkg/storage"
)

// ForOrganization returns the adapter matching the organization's provider
// type, wired with its base URL and resolved credentials.
func ForOrganization(org storage.OrganizationRecord, creds provider.Credentials) (provider.SyncProvider, error) {
	switch provider.Type(org.ProviderType) {
	case provider.TypeAzureDevOps:
		return azuredevops.New(org.BaseURL, creds.Token), nil
	case provider.TypeGitLab:
		return gitlab.New(org.BaseURL, creds.Token)
	case provider.TypeBitbucket:
		return bitbucket.New(creds.Username, creds.Token)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", org.ProviderType)
	}
}
