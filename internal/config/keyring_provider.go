package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/99designs/keyring"
)

// KeyringServiceName is the service under which secrets are stored in the OS keyring
const KeyringServiceName = "salesq"

// KeyringProvider reads secrets stored in the operating system keyring
// (macOS Keychain, Windows Credential Manager, Secret Service, pass).
// Keys are stored lower-cased with hyphens: OPENAI_API_KEY -> openai-api-key.
type KeyringProvider struct {
	open func() (keyring.Keyring, error)

	once sync.Once
	ring keyring.Keyring
	err  error
}

// NewKeyringProvider creates a provider that opens the keyring lazily on first use
func NewKeyringProvider(serviceName string) *KeyringProvider {
	return &KeyringProvider{
		open: func() (keyring.Keyring, error) {
			return keyring.Open(keyring.Config{
				ServiceName: serviceName,
				AllowedBackends: []keyring.BackendType{
					keyring.KeychainBackend,
					keyring.WinCredBackend,
					keyring.SecretServiceBackend,
					keyring.PassBackend,
				},
				PassPrefix:    serviceName,
				WinCredPrefix: serviceName,
			})
		},
	}
}

// NewKeyringProviderWith wraps an already opened keyring
func NewKeyringProviderWith(ring keyring.Keyring) *KeyringProvider {
	return &KeyringProvider{
		open: func() (keyring.Keyring, error) { return ring, nil },
	}
}

func (k *KeyringProvider) keyring() (keyring.Keyring, error) {
	k.once.Do(func() {
		k.ring, k.err = k.open()
	})
	return k.ring, k.err
}

// GetSecret retrieves a secret from the keyring. A missing item is not an error.
func (k *KeyringProvider) GetSecret(ctx context.Context, key string) (string, error) {
	ring, err := k.keyring()
	if err != nil {
		return "", fmt.Errorf("keyring unavailable: %w", err)
	}

	item, err := ring.Get(keyringKey(key))
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read keyring item %s: %w", keyringKey(key), err)
	}
	return strings.TrimSpace(string(item.Data)), nil
}

// SetSecret stores a secret, used by the CLI to save API keys
func (k *KeyringProvider) SetSecret(key, value string) error {
	ring, err := k.keyring()
	if err != nil {
		return fmt.Errorf("keyring unavailable: %w", err)
	}
	return ring.Set(keyring.Item{
		Key:   keyringKey(key),
		Data:  []byte(value),
		Label: KeyringServiceName + " " + key,
	})
}

// Name returns the provider name
func (k *KeyringProvider) Name() string {
	return "keyring"
}

// IsAvailable reports whether a keyring backend could be opened
func (k *KeyringProvider) IsAvailable(ctx context.Context) bool {
	_, err := k.keyring()
	return err == nil
}

func keyringKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", "-"))
}
