package jobs

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

const branchPrefix = "dependabot"

// Dependency is one name/version pair from a runner payload.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

var branchSanitizer = strings.NewReplacer(
	":", "-",
	"/", "-",
	"#", "-",
	"@", "",
	"\"", "",
	"'", "",
)

// BranchName derives the source branch for a pull request. It is pure: the
// same inputs always produce the same name, so re-running a job for the same
// dependency set reuses the existing branch instead of creating a duplicate.
func BranchName(ecosystem, targetBranch, directory, group string, deps []Dependency, separator string) string {
	if separator == "" {
		separator = "/"
	}

	parts := []string{branchPrefix, ecosystem}
	if targetBranch != "" {
		parts = append(parts, targetBranch)
	}
	if dir := sanitizeDirectory(directory); dir != "" {
		parts = append(parts, dir)
	}

	switch {
	case group != "":
		parts = append(parts, group)
	case len(deps) == 1:
		leaf := deps[0].Name
		if deps[0].Version != "" {
			leaf += "-" + deps[0].Version
		}
		parts = append(parts, branchSanitizer.Replace(leaf))
	default:
		parts = append(parts, dependencyDigest(deps))
	}
	return strings.Join(parts, separator)
}

// DirectoryHint picks the branch-name directory component. Single-directory
// configurations use that directory; multi-directory ones use the first
// configured directory that prefixes the first changed file's path.
func DirectoryHint(directories []string, changedFiles []string) string {
	if len(directories) == 0 {
		return ""
	}
	if len(directories) == 1 {
		return directories[0]
	}
	if len(changedFiles) > 0 {
		first := "/" + strings.TrimPrefix(changedFiles[0], "/")
		for _, dir := range directories {
			prefix := "/" + strings.Trim(dir, "/")
			if prefix == "/" || strings.HasPrefix(first, prefix+"/") || first == prefix {
				return dir
			}
		}
	}
	return directories[0]
}

func sanitizeDirectory(directory string) string {
	trimmed := strings.Trim(directory, "/")
	if trimmed == "" {
		return ""
	}
	return strings.ReplaceAll(trimmed, "/", "-")
}

func dependencyDigest(deps []Dependency) string {
	names := make([]string, 0, len(deps))
	for _, dep := range deps {
		names = append(names, dep.Name)
	}
	sort.Strings(names)

	digest := sha1.Sum([]byte(strings.Join(names, ",")))
	return fmt.Sprintf("multi-%s", hex.EncodeToString(digest[:])[:10])
}
