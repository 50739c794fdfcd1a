// Package keychain stores per-host passwords in the operating system
// credential store. Passwords never touch the config file or logs.
package keychain

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const service = "sshore"

// account builds the keyring account key for a host login.
func account(user, host string, port int) string {
	return fmt.Sprintf("%s@%s:%d", user, host, port)
}

// Set saves or replaces the password for a host login.
func Set(user, host string, port int, password string) error {
	if err := keyring.Set(service, account(user, host, port), password); err != nil {
		return fmt.Errorf("failed to store password in keychain: %w", err)
	}
	return nil
}

// Get retrieves the password for a host login. The second return value is
// false when no entry exists, which is not an error.
func Get(user, host string, port int) (string, bool, error) {
	secret, err := keyring.Get(service, account(user, host, port))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read password from keychain: %w", err)
	}
	return secret, true, nil
}

// Delete removes the stored password for a host login. Deleting a missing
// entry is not an error.
func Delete(user, host string, port int) error {
	err := keyring.Delete(service, account(user, host, port))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete password from keychain: %w", err)
	}
	return nil
}
