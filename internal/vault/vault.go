// Package vault stores the provider credential in the OS keychain.
package vault

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zalando/go-keyring"

	"github.com/allaspectsdev/modelbench/internal/store"
)

const serviceName = "modelbench"

// EnvAPIKey is consulted when the keychain has no credential.
const EnvAPIKey = "MODELBENCH_API_KEY"

// ErrNoKey is returned by Get when no source holds a key.
var ErrNoKey = errors.New("vault: no key found")

// Vault provides secure API key storage using the OS keychain,
// with fallback to environment variables.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// envVar names the environment fallback for an account. The credential
// slot uses EnvAPIKey; any other account uses MODELBENCH_KEY_<ACCOUNT>.
func envVar(account string) string {
	if account == store.SlotAPIKey {
		return EnvAPIKey
	}
	return "MODELBENCH_KEY_" + strings.ToUpper(account)
}

// Set stores a secret for account in the OS keychain.
func (v *Vault) Set(account, secret string) error {
	return keyring.Set(serviceName, account, secret)
}

// Get retrieves the secret for account. It first checks the OS keychain,
// then falls back to the account's environment variable.
func (v *Vault) Get(account string) (string, error) {
	secret, err := keyring.Get(serviceName, account)
	if err == nil && secret != "" {
		return secret, nil
	}

	env := envVar(account)
	if val := os.Getenv(env); val != "" {
		return val, nil
	}

	return "", fmt.Errorf("%w for %q: not in keychain and %s not set", ErrNoKey, account, env)
}

// Delete removes the secret for account from the OS keychain. A missing
// entry is not an error.
func (v *Vault) Delete(account string) error {
	err := keyring.Delete(serviceName, account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}

// ResolveKeyRef parses a key reference and retrieves the corresponding key.
// Supported formats:
//   - "keyring://modelbench/<account>"
//   - "env:VARIABLE_NAME" (environment variable)
//   - "file:///path/to/key" (plain-text file)
func (v *Vault) ResolveKeyRef(keyRef string) (string, error) {
	if strings.HasPrefix(keyRef, "keyring://") {
		path := strings.TrimPrefix(keyRef, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://modelbench/<account>\")", keyRef)
		}
		return v.Get(parts[1])
	}

	if strings.HasPrefix(keyRef, "env:") {
		name := strings.TrimPrefix(keyRef, "env:")
		if val := os.Getenv(name); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("environment variable %q is not set", name)
	}

	if strings.HasPrefix(keyRef, "file://") {
		filePath := strings.TrimPrefix(keyRef, "file://")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("reading key file %q: %w", filePath, err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("key file %q is empty", filePath)
		}
		return key, nil
	}

	return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://modelbench/<account>\", \"env:VARIABLE_NAME\", or \"file:///path/to/key\")", keyRef)
}

// KV exposes the vault as a store.KV. When the keychain is unavailable
// (headless hosts without a secret service) reads and writes go to the
// fallback store instead.
type KV struct {
	vault    *Vault
	fallback store.KV
}

var _ store.KV = (*KV)(nil)

// NewKV wraps v. fallback may be nil.
func NewKV(v *Vault, fallback store.KV) *KV {
	return &KV{vault: v, fallback: fallback}
}

// Get reads key from the keychain, then the fallback store, then the
// environment.
func (k *KV) Get(key string) (string, bool, error) {
	secret, err := keyring.Get(serviceName, key)
	switch {
	case err == nil && secret != "":
		return secret, true, nil
	case err != nil && !errors.Is(err, keyring.ErrNotFound):
		log.Debug().Err(err).Str("key", key).Msg("keychain unavailable, trying fallback")
	}

	if k.fallback != nil {
		v, ok, err := k.fallback.Get(key)
		if err != nil {
			return "", false, err
		}
		if ok && v != "" {
			return v, true, nil
		}
	}

	if val := os.Getenv(envVar(key)); val != "" {
		return val, true, nil
	}
	return "", false, nil
}

// Set writes key to the keychain, or to the fallback store if the
// keychain rejects it. An empty value removes the key.
func (k *KV) Set(key, value string) error {
	if value == "" {
		return k.Remove(key)
	}
	err := k.vault.Set(key, value)
	if err == nil {
		return nil
	}
	if k.fallback == nil {
		return fmt.Errorf("vault: store %s: %w", key, err)
	}
	log.Warn().Err(err).Str("key", key).Msg("keychain unavailable, storing credential in local database")
	return k.fallback.Set(key, value)
}

// Remove deletes key from the keychain and the fallback store.
func (k *KV) Remove(key string) error {
	if err := k.vault.Delete(key); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("keychain delete failed")
	}
	if k.fallback != nil {
		return k.fallback.Remove(key)
	}
	return nil
}
