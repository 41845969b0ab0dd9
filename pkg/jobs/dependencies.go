package jobs

import (
	"encoding/json"
)

// DependenciesFromData extracts the dependency list from a stored
// pull-request payload. Grouped payloads carry a dependency-group-name and
// nest the list under "dependencies"; plain payloads are the list itself.
func DependenciesFromData(data []byte) []Dependency {
	if len(data) == 0 {
		return nil
	}

	var grouped struct {
		GroupName    string            `json:"dependency-group-name"`
		Dependencies []json.RawMessage `json:"dependencies"`
	}
	if err := json.Unmarshal(data, &grouped); err == nil && grouped.GroupName != "" {
		return decodeDependencies(grouped.Dependencies)
	}

	var plain []json.RawMessage
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil
	}
	return decodeDependencies(plain)
}

func decodeDependencies(raw []json.RawMessage) []Dependency {
	deps := make([]Dependency, 0, len(raw))
	for _, item := range raw {
		var dep struct {
			Name           string `json:"name"`
			DependencyName string `json:"dependency-name"`
			Version        string `json:"version"`
		}
		if err := json.Unmarshal(item, &dep); err != nil {
			continue
		}
		name := dep.Name
		if name == "" {
			name = dep.DependencyName
		}
		if name == "" {
			continue
		}
		deps = append(deps, Dependency{Name: name, Version: dep.Version})
	}
	return deps
}

// GroupNameFromData returns the dependency-group name carried by a stored
// pull-request payload, or "" for ungrouped payloads.
func GroupNameFromData(data []byte) string {
	var grouped struct {
		GroupName string `json:"dependency-group-name"`
	}
	if err := json.Unmarshal(data, &grouped); err != nil {
		return ""
	}
	return grouped.GroupName
}

// DependencyNameSet returns the set of dependency names in data.
func DependencyNameSet(data []byte) map[string]bool {
	set := map[string]bool{}
	for _, dep := range DependenciesFromData(data) {
		set[dep.Name] = true
	}
	return set
}

// SameNameSet reports whether both slices contain exactly the same names,
// order and duplicates ignored.
func SameNameSet(names []string, set map[string]bool) bool {
	want := map[string]bool{}
	for _, name := range names {
		want[name] = true
	}
	if len(want) != len(set) {
		return false
	}
	for name := range want {
		if !set[name] {
			return false
		}
	}
	return true
}
