package updateconfig

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

const validConfig = `
version: 2
registries:
  npm-private:
    type: npm-registry
    url: https://npm.example.com
    token: ${{ secrets.NPM_TOKEN }}
updates:
  - package-ecosystem: npm
    directory: /
    schedule:
      interval: daily
    registries:
      - npm-private
    open-pull-requests-limit: 7
  - package-ecosystem: gomod
    directories:
      - /cmd
      - /pkg
    schedule:
      interval: weekly
`

func resolver(values map[string]string) VariableFinder {
	return func(_ context.Context, name string) (string, error) {
		value, ok := values[name]
		if !ok {
			return "", fmt.Errorf("unknown variable: %s", name)
		}
		return value, nil
	}
}

func TestParseValid(t *testing.T) {
	cfg, err := Parse(context.Background(), validConfig, "dependabot.yml", resolver(map[string]string{
		"secrets.NPM_TOKEN": "s3cret",
	}))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(cfg.Updates))
	}
	if got := cfg.Updates[0].PullRequestLimit(); got != 7 {
		t.Fatalf("expected limit 7, got %d", got)
	}
	if got := cfg.Updates[1].PullRequestLimit(); got != 5 {
		t.Fatalf("expected default limit 5, got %d", got)
	}
	if got := cfg.Updates[1].EffectiveDirectories(); len(got) != 2 || got[0] != "/cmd" {
		t.Fatalf("unexpected directories: %v", got)
	}
	if got := cfg.Registries["npm-private"]["token"]; got != "s3cret" {
		t.Fatalf("expected interpolated token, got %v", got)
	}
}

func TestParseRejectsWrongVersion(t *testing.T) {
	_, err := Parse(context.Background(), "version: 1\nupdates:\n  - package-ecosystem: npm\n    directory: /\n", "dependabot.yml", nil)
	if err == nil || !strings.Contains(err.Error(), "version") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestParseRejectsGlobDirectory(t *testing.T) {
	config := `
version: 2
updates:
  - package-ecosystem: npm
    directory: /packages/*
`
	_, err := Parse(context.Background(), config, "dependabot.yml", nil)
	if err == nil || !strings.Contains(err.Error(), "glob") {
		t.Fatalf("expected glob rejection, got %v", err)
	}
}

func TestParseRejectsUndeclaredRegistry(t *testing.T) {
	config := `
version: 2
updates:
  - package-ecosystem: npm
    directory: /
    registries:
      - dummy3
`
	_, err := Parse(context.Background(), config, "dependabot.yml", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	want := "Referenced registries: 'dummy3' have not been configured in the root of dependabot.yml"
	if err.Error() != want {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestParseRejectsUnreferencedRegistry(t *testing.T) {
	config := `
version: 2
registries:
  dummy1:
    type: npm-registry
    url: https://npm.example.com
  dummy2:
    type: maven-repository
    url: https://maven.example.com
updates:
  - package-ecosystem: npm
    directory: /
`
	_, err := Parse(context.Background(), config, "dependabot.yml", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	want := "Registries: 'dummy1,dummy2' have not been referenced by any update"
	if err.Error() != want {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestParseResolverFailure(t *testing.T) {
	_, err := Parse(context.Background(), validConfig, "dependabot.yml", resolver(nil))
	if err == nil || !strings.Contains(err.Error(), "unknown variable") {
		t.Fatalf("expected resolver error, got %v", err)
	}
}

func TestBranchSeparatorDefault(t *testing.T) {
	update := Update{}
	if got := update.BranchSeparator(); got != "/" {
		t.Fatalf("expected default separator, got %q", got)
	}
	update.PullRequestBranchName.Separator = "-"
	if got := update.BranchSeparator(); got != "-" {
		t.Fatalf("expected configured separator, got %q", got)
	}
}
