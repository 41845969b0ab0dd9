// Package updateconfig parses and validates repository-committed
// dependency-update configuration files (dependabot.yml).
package updateconfig

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultPullRequestLimit applies when open-pull-requests-limit is omitted.
const defaultPullRequestLimit = 5

// VariableFinder resolves placeholder references found in registry
// definitions, e.g. "secrets.NPM_TOKEN".
type VariableFinder func(ctx context.Context, name string) (string, error)

// Config is a parsed configuration file. Registries are interpolated.
type Config struct {
	Version    int                 `yaml:"version"`
	Updates    []Update            `yaml:"updates"`
	Registries map[string]Registry `yaml:"registries"`
}

// Registry is one credential definition from the registries block. Values
// are kept as-is apart from placeholder interpolation on string fields.
type Registry map[string]interface{}

// Update is one entry of the updates list.
type Update struct {
	PackageEcosystem      string            `yaml:"package-ecosystem"`
	Directory             string            `yaml:"directory"`
	Directories           []string          `yaml:"directories"`
	Schedule              Schedule          `yaml:"schedule"`
	OpenPullRequestsLimit *int              `yaml:"open-pull-requests-limit"`
	Registries            []string          `yaml:"registries"`
	Allow                 []Condition       `yaml:"allow"`
	Ignore                []Condition       `yaml:"ignore"`
	Groups                map[string]Group  `yaml:"groups"`
	Labels                []string          `yaml:"labels"`
	Assignees             []string          `yaml:"assignees"`
	Milestone             int               `yaml:"milestone"`
	TargetBranch          string            `yaml:"target-branch"`
	Vendor                bool              `yaml:"vendor"`
	VersioningStrategy    string            `yaml:"versioning-strategy"`
	RebaseStrategy        string            `yaml:"rebase-strategy"`
	InsecureExecution     string            `yaml:"insecure-external-code-execution"`
	CommitMessage         CommitMessage     `yaml:"commit-message"`
	PullRequestBranchName BranchNameOptions `yaml:"pull-request-branch-name"`
}

// Schedule controls when scheduled update jobs run for an entry.
type Schedule struct {
	Interval string `yaml:"interval"`
	Day      string `yaml:"day"`
	Time     string `yaml:"time"`
	Timezone string `yaml:"timezone"`
}

// Condition is an allow or ignore rule. The json tags match the runner's
// job document format.
type Condition struct {
	DependencyName string   `yaml:"dependency-name" json:"dependency-name,omitempty"`
	DependencyType string   `yaml:"dependency-type" json:"dependency-type,omitempty"`
	Versions       []string `yaml:"versions" json:"versions,omitempty"`
	UpdateTypes    []string `yaml:"update-types" json:"update-types,omitempty"`
}

// Group is a named dependency group.
type Group struct {
	AppliesTo       string   `yaml:"applies-to" json:"applies-to,omitempty"`
	DependencyType  string   `yaml:"dependency-type" json:"dependency-type,omitempty"`
	Patterns        []string `yaml:"patterns" json:"patterns,omitempty"`
	ExcludePatterns []string `yaml:"exclude-patterns" json:"exclude-patterns,omitempty"`
	UpdateTypes     []string `yaml:"update-types" json:"update-types,omitempty"`
}

// CommitMessage customizes commit and pull-request titles.
type CommitMessage struct {
	Prefix            string `yaml:"prefix" json:"prefix,omitempty"`
	PrefixDevelopment string `yaml:"prefix-development" json:"prefix-development,omitempty"`
	Include           string `yaml:"include" json:"include,omitempty"`
}

// BranchNameOptions customizes generated branch names.
type BranchNameOptions struct {
	Separator string `yaml:"separator"`
}

var (
	globChars   = "*?[]{}"
	variableRef = regexp.MustCompile(`\$\{\{\s*([^}\s]+)\s*\}\}`)
)

// Parse decodes contents and validates it. path is used only in error
// messages. vars resolves ${{ ... }} placeholders in registry values; a nil
// finder leaves placeholders untouched.
func Parse(ctx context.Context, contents, path string, vars VariableFinder) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(contents), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Version != 2 {
		return nil, fmt.Errorf("unsupported configuration version: %d, only version 2 is supported", cfg.Version)
	}
	if len(cfg.Updates) == 0 {
		return nil, fmt.Errorf("%s declares no updates", path)
	}

	referenced := map[string]bool{}
	for i, update := range cfg.Updates {
		if update.PackageEcosystem == "" {
			return nil, fmt.Errorf("updates[%d]: package-ecosystem is required", i)
		}
		dirs := update.EffectiveDirectories()
		if len(dirs) == 0 {
			return nil, fmt.Errorf("updates[%d]: directory or directories is required", i)
		}
		for _, dir := range dirs {
			if strings.ContainsAny(dir, globChars) {
				return nil, fmt.Errorf("updates[%d]: directory %q must not contain the glob characters '*?[]{}'", i, dir)
			}
		}
		for _, name := range update.Registries {
			referenced[name] = true
		}
	}

	if err := validateRegistries(cfg.Registries, referenced); err != nil {
		return nil, err
	}

	if vars != nil {
		for name, registry := range cfg.Registries {
			interpolated, err := interpolateRegistry(ctx, registry, vars)
			if err != nil {
				return nil, fmt.Errorf("registry %s: %w", name, err)
			}
			cfg.Registries[name] = interpolated
		}
	}

	return &cfg, nil
}

// validateRegistries checks the reference relation in both directions: every
// referenced registry must be declared, and every declared registry must be
// referenced by at least one update.
func validateRegistries(declared map[string]Registry, referenced map[string]bool) error {
	var missing []string
	for name := range referenced {
		if _, ok := declared[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("Referenced registries: '%s' have not been configured in the root of dependabot.yml", strings.Join(missing, ","))
	}

	var unused []string
	for name := range declared {
		if !referenced[name] {
			unused = append(unused, name)
		}
	}
	if len(unused) > 0 {
		sort.Strings(unused)
		return fmt.Errorf("Registries: '%s' have not been referenced by any update", strings.Join(unused, ","))
	}
	return nil
}

func interpolateRegistry(ctx context.Context, registry Registry, vars VariableFinder) (Registry, error) {
	out := make(Registry, len(registry))
	for key, value := range registry {
		text, ok := value.(string)
		if !ok {
			out[key] = value
			continue
		}
		interpolated, err := interpolate(ctx, text, vars)
		if err != nil {
			return nil, err
		}
		out[key] = interpolated
	}
	return out, nil
}

func interpolate(ctx context.Context, text string, vars VariableFinder) (string, error) {
	var resolveErr error
	result := variableRef.ReplaceAllStringFunc(text, func(match string) string {
		if resolveErr != nil {
			return match
		}
		name := variableRef.FindStringSubmatch(match)[1]
		value, err := vars(ctx, name)
		if err != nil {
			resolveErr = err
			return match
		}
		return value
	})
	return result, resolveErr
}

// EffectiveDirectories returns directories if set, else the single directory.
func (u Update) EffectiveDirectories() []string {
	if len(u.Directories) > 0 {
		return u.Directories
	}
	if u.Directory != "" {
		return []string{u.Directory}
	}
	return nil
}

// PullRequestLimit returns the configured open-pull-requests-limit. Zero
// means version updates are disabled and only security updates run.
func (u Update) PullRequestLimit() int {
	if u.OpenPullRequestsLimit == nil {
		return defaultPullRequestLimit
	}
	return *u.OpenPullRequestsLimit
}

// BranchSeparator returns the configured branch-name separator, "/" when
// unset.
func (u Update) BranchSeparator() string {
	if u.PullRequestBranchName.Separator != "" {
		return u.PullRequestBranchName.Separator
	}
	return "/"
}
