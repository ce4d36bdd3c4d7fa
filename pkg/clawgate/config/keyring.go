package config

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

// keyringService is the service name all ClawGate secrets are stored under.
const keyringService = "clawgate"

// StoreKeyring saves a secret in the OS keyring.
func StoreKeyring(key, value string) error {
	if err := keyring.Set(keyringService, key, value); err != nil {
		return fmt.Errorf("store %q in keyring: %w", key, err)
	}
	return nil
}

// GetKeyring reads a secret from the OS keyring.
func GetKeyring(key string) (string, error) {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return "", fmt.Errorf("read %q from keyring: %w", key, err)
	}
	return val, nil
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	if err := keyring.Delete(keyringService, key); err != nil {
		return fmt.Errorf("delete %q from keyring: %w", key, err)
	}
	return nil
}

// KeyringAvailable probes the keyring with a throwaway write/delete cycle.
// Headless hosts usually have no backend.
func KeyringAvailable() bool {
	const probe = "clawgate-keyring-probe"
	if err := keyring.Set(keyringService, probe, "ok"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, probe)
	return true
}
