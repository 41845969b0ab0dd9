package internal

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadConfigDefaults tests that the default values are applied correctly when loading a config.
func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		t.Fatalf("write app config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.AppConfig.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.AppConfig.Server.Port)
	}
	if cfg.AppConfig.Webhooks.AzureDevOps.Path != "/webhooks/azuredevops" {
		t.Fatalf("expected default azuredevops path, got %q", cfg.AppConfig.Webhooks.AzureDevOps.Path)
	}
	if cfg.AppConfig.Webhooks.GitLab.Path != "/webhooks/gitlab" {
		t.Fatalf("expected default gitlab path, got %q", cfg.AppConfig.Webhooks.GitLab.Path)
	}
	if cfg.AppConfig.Webhooks.Bitbucket.Path != "/webhooks/bitbucket" {
		t.Fatalf("expected default bitbucket path, got %q", cfg.AppConfig.Webhooks.Bitbucket.Path)
	}
	if cfg.AppConfig.Callback.PathPrefix != "/update_jobs/" {
		t.Fatalf("expected default callback prefix, got %q", cfg.AppConfig.Callback.PathPrefix)
	}
	if cfg.AppConfig.Callback.DescriptionMaxLength != 4000 {
		t.Fatalf("expected default description limit, got %d", cfg.AppConfig.Callback.DescriptionMaxLength)
	}
	if cfg.AppConfig.Watermill.Driver != "gochannel" {
		t.Fatalf("expected default watermill driver, got %q", cfg.AppConfig.Watermill.Driver)
	}
	if cfg.AppConfig.Watermill.GoChannel.OutputChannelBuffer != 64 {
		t.Fatalf("expected default gochannel output buffer, got %d", cfg.AppConfig.Watermill.GoChannel.OutputChannelBuffer)
	}
	if cfg.AppConfig.River.Queue != "update_jobs" {
		t.Fatalf("expected default river queue, got %q", cfg.AppConfig.River.Queue)
	}
	if cfg.AppConfig.Sync.ThrottleEvery != 10 {
		t.Fatalf("expected default throttle interval, got %d", cfg.AppConfig.Sync.ThrottleEvery)
	}
	if cfg.AppConfig.Sync.ThrottlePauseMS != 1000 {
		t.Fatalf("expected default throttle pause, got %d", cfg.AppConfig.Sync.ThrottlePauseMS)
	}
}

// TestLoadConfigInvalidRule tests that loading a config with an invalid rule returns an error.
func TestLoadConfigInvalidRule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "rules:\n  - when: eventType == \"git.push\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for missing emit")
	}
}

// TestLoadConfigTrimsFields tests that the fields in a rule are trimmed correctly.
func TestLoadConfigTrimsFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "rules:\n  - when: \"  eventType == \\\"git.push\\\"  \"\n    emit: \"  sync.repository  \"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load rules config: %v", err)
	}
	if cfg.Rules[0].When != "eventType == \"git.push\"" {
		t.Fatalf("expected trimmed when, got %q", cfg.Rules[0].When)
	}
	if cfg.Rules[0].Emit != "sync.repository" {
		t.Fatalf("expected trimmed emit, got %q", cfg.Rules[0].Emit)
	}
}

// TestLoadConfigExpandsEnv tests that environment variables in the config are expanded.
func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("DEPSYNC_TEST_DSN", "host=db user=app")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "storage:\n  driver: postgres\n  dsn: ${DEPSYNC_TEST_DSN}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Storage.DSN != "host=db user=app" {
		t.Fatalf("expected expanded dsn, got %q", cfg.Storage.DSN)
	}
}
