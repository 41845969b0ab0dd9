package internal

import (
	"context"
	"testing"
)

// TestEnvSecretResolver tests the mapping from secret references to
// environment variable names.
func TestEnvSecretResolver(t *testing.T) {
	t.Setenv("DEPSYNC_SECRET_NPM_TOKEN", "hunter2")
	t.Setenv("DEPSYNC_SECRET_MY_FEED_KEY", "feed")

	resolve := EnvSecretResolver("")

	value, err := resolve(context.Background(), "secrets.NPM_TOKEN")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if value != "hunter2" {
		t.Fatalf("expected hunter2, got %q", value)
	}

	value, err = resolve(context.Background(), "my-feed.key")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if value != "feed" {
		t.Fatalf("expected feed, got %q", value)
	}

	if _, err := resolve(context.Background(), "secrets.ABSENT"); err == nil {
		t.Fatalf("expected error for unconfigured secret")
	}
}
