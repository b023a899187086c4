// Package credential stores secrets in the system keyring and resolves
// keyring:<key> references found in configuration values.
package credential

import (
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "calmirror"

// refPrefix marks a configuration value as a keyring reference instead of
// a literal secret.
const refPrefix = "keyring:"

// Well-known credential keys.
const (
	KeyWorkspaceToken = "workspace-token"
	KeyCalDAVPassword = "caldav-password"
	KeyGoogleToken    = "google-oauth"
	KeyAdminToken     = "admin-token"
	KeyWebhookSeed    = "webhook-seed"
)

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/calmirror/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("calmirror-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// Ref builds the configuration reference for a credential key.
func Ref(key string) string {
	return refPrefix + key
}

// Resolve expands a configuration value: keyring:<key> values are looked
// up in the keyring, anything else is returned as-is.
func Resolve(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, refPrefix) {
		return value, nil
	}
	key := strings.TrimSpace(strings.TrimPrefix(trimmed, refPrefix))
	if key == "" {
		return "", fmt.Errorf("blank keyring reference %q", value)
	}
	return Get(key)
}
