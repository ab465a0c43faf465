// Package auth stores the API client secret in the OS keychain so it never
// has to live in the config file.
package auth

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

const service = "redd-harvest"

// Store saves the client secret for the given client ID.
func Store(clientID, secret string) error {
	if clientID == "" {
		return fmt.Errorf("client id is required")
	}
	if err := keyring.Set(service, clientID, secret); err != nil {
		return fmt.Errorf("failed to store secret in keychain: %w", err)
	}
	return nil
}

// Retrieve fetches the client secret for the given client ID.
func Retrieve(clientID string) (string, error) {
	secret, err := keyring.Get(service, clientID)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve secret from keychain: %w", err)
	}
	return secret, nil
}

// Delete removes the stored secret for the given client ID.
func Delete(clientID string) error {
	if err := keyring.Delete(service, clientID); err != nil {
		return fmt.Errorf("failed to delete secret from keychain: %w", err)
	}
	return nil
}
