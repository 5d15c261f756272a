// Package credentials resolves the password of the remote database user.
package credentials

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringServicePrefix is the prefix for all tasksync keyring entries
	KeyringServicePrefix = "tasksync"
)

// ErrNotFound is returned when the keyring holds no password for the user
var ErrNotFound = errors.New("credentials not found in keyring")

// getServiceName returns the keyring service name for a remote host
func getServiceName(host string) string {
	return fmt.Sprintf("%s-%s", KeyringServicePrefix, host)
}

// Set stores the password of username on host in the OS keyring
func Set(host, username, password string) error {
	if host == "" {
		return fmt.Errorf("remote host cannot be empty")
	}
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if err := keyring.Set(getServiceName(host), username, password); err != nil {
		return fmt.Errorf("failed to store credentials in keyring: %w", err)
	}
	return nil
}

// Get retrieves a password from the OS keyring
func Get(host, username string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("remote host cannot be empty")
	}
	if username == "" {
		return "", fmt.Errorf("username cannot be empty")
	}

	password, err := keyring.Get(getServiceName(host), username)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w for %s on %s", ErrNotFound, username, host)
		}
		return "", fmt.Errorf("failed to retrieve credentials from keyring: %w", err)
	}
	return password, nil
}

// Delete removes a password from the OS keyring
func Delete(host, username string) error {
	if host == "" {
		return fmt.Errorf("remote host cannot be empty")
	}
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	if err := keyring.Delete(getServiceName(host), username); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w for %s on %s", ErrNotFound, username, host)
		}
		return fmt.Errorf("failed to delete credentials from keyring: %w", err)
	}
	return nil
}

// IsAvailable checks if the keyring is accessible
func IsAvailable() bool {
	// A working keyring answers ErrNotFound for an entry that never exists
	_, err := keyring.Get(KeyringServicePrefix+"-keyring-test", "test")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
