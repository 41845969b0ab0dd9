package internal

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// SecretResolver resolves an opaque secret reference (a `secrets.NAME`
// placeholder from a configuration file, or an organization credential key)
// to its value. The vaulting mechanics live outside this core.
type SecretResolver func(ctx context.Context, name string) (string, error)

// EnvSecretResolver resolves secret references from the process environment.
// `secrets.NPM_TOKEN` becomes `DEPSYNC_SECRET_NPM_TOKEN`.
func EnvSecretResolver(prefix string) SecretResolver {
	if prefix == "" {
		prefix = "DEPSYNC_SECRET_"
	}
	return func(ctx context.Context, name string) (string, error) {
		key := strings.TrimPrefix(name, "secrets.")
		key = strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(key))
		value, ok := os.LookupEnv(prefix + key)
		if !ok {
			return "", fmt.Errorf("secret %q is not configured", name)
		}
		return value, nil
	}
}
