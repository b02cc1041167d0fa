package config

import (
	"context"
	"errors"
	"fmt"
)

// SecretProvider is one source of configuration values. Every setting the
// loader reads goes through a provider, not only credentials, so the LLM API
// key can live in the OS keyring while table names and timeouts come from the
// environment.
type SecretProvider interface {
	// GetSecret returns the value for key, or "" when the provider has none
	GetSecret(ctx context.Context, key string) (string, error)

	// Name identifies the provider in logs
	Name() string

	// IsAvailable reports whether the backing store can be read at all
	IsAvailable(ctx context.Context) bool
}

// ErrSecretNotFound is returned when no available provider holds a value.
var ErrSecretNotFound = errors.New("secret not found")

// ChainProvider resolves a key against an ordered list of providers.
//
// The default chain is keyring, then mounted files, then the environment, so a
// key stored on the operator's keyring wins over a stale exported variable.
// Unavailable providers are skipped and an empty value counts as a miss; a
// provider error is remembered but does not stop the walk.
type ChainProvider struct {
	providers []SecretProvider
}

// NewChainProvider builds a chain that consults providers in the given order
func NewChainProvider(providers ...SecretProvider) *ChainProvider {
	return &ChainProvider{providers: providers}
}

// Lookup returns the value for key and the name of the provider that supplied it.
func (c *ChainProvider) Lookup(ctx context.Context, key string) (string, string, error) {
	var errs []error
	for _, provider := range c.providers {
		if !provider.IsAvailable(ctx) {
			continue
		}
		value, err := provider.GetSecret(ctx, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", provider.Name(), err))
			continue
		}
		if value != "" {
			return value, provider.Name(), nil
		}
	}

	if len(errs) > 0 {
		return "", "", fmt.Errorf("%w: %s: %w", ErrSecretNotFound, key, errors.Join(errs...))
	}
	return "", "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
}

// GetSecret implements SecretProvider
func (c *ChainProvider) GetSecret(ctx context.Context, key string) (string, error) {
	value, _, err := c.Lookup(ctx, key)
	return value, err
}

func (c *ChainProvider) Name() string {
	return "chain"
}

// IsAvailable reports whether any provider in the chain can be read
func (c *ChainProvider) IsAvailable(ctx context.Context) bool {
	for _, provider := range c.providers {
		if provider.IsAvailable(ctx) {
			return true
		}
	}
	return false
}
