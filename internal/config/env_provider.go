package config

import (
	"context"
	"os"
	"strings"
)

// EnvPrefix namespaces this service's variables. SALESQ_DB_HOST shadows DB_HOST
// so the processor can share a shell or pod with other Postgres clients.
const EnvPrefix = "SALESQ_"

// EnvProvider reads settings from the process environment, trying the
// prefixed name before the bare one.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider returns an EnvProvider using EnvPrefix
func NewEnvProvider() *EnvProvider {
	return NewEnvProviderWithPrefix(EnvPrefix)
}

// NewEnvProviderWithPrefix returns an EnvProvider using prefix; an empty
// prefix reads bare names only.
func NewEnvProviderWithPrefix(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

// GetSecret returns the trimmed value of prefix+key, falling back to key.
// A variable that is set but blank counts as unset.
func (e *EnvProvider) GetSecret(ctx context.Context, key string) (string, error) {
	if e.prefix != "" {
		if value := strings.TrimSpace(os.Getenv(e.prefix + key)); value != "" {
			return value, nil
		}
	}
	return strings.TrimSpace(os.Getenv(key)), nil
}

func (e *EnvProvider) Name() string {
	return "env"
}

func (e *EnvProvider) IsAvailable(ctx context.Context) bool {
	return true
}
