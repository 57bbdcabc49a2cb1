// Package credstore resolves provider credentials that reference an OS
// keyring entry instead of carrying a plaintext secret in the operator
// config file. A value is a keyring reference iff it has the form
// "keyring:<service>/<account>"; anything else passes through unchanged.
package credstore

import (
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const refPrefix = "keyring:"

// IsRef reports whether value looks like a keyring reference.
func IsRef(value string) bool {
	return strings.HasPrefix(value, refPrefix)
}

// parseRef splits "keyring:<service>/<account>" into its service and
// account parts.
func parseRef(value string) (service, account string, err error) {
	body := strings.TrimPrefix(value, refPrefix)
	service, account, ok := strings.Cut(body, "/")
	if !ok || service == "" || account == "" {
		return "", "", fmt.Errorf("credstore: malformed keyring reference %q, want keyring:<service>/<account>", value)
	}
	return service, account, nil
}

// Resolve returns value unchanged unless it is a keyring reference, in
// which case it looks the secret up via the OS keyring (Keychain on
// macOS, Secret Service on Linux, Credential Manager on Windows).
func Resolve(value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}
	service, account, err := parseRef(value)
	if err != nil {
		return "", err
	}
	secret, err := keyring.Get(service, account)
	if err != nil {
		return "", fmt.Errorf("credstore: resolving %s/%s: %w", service, account, err)
	}
	return secret, nil
}

// Store writes secret into the OS keyring under service/account, for
// operators provisioning a keyring entry that a config file will later
// reference as "keyring:<service>/<account>".
func Store(service, account, secret string) error {
	return keyring.Set(service, account, secret)
}

// Delete removes a previously stored keyring entry.
func Delete(service, account string) error {
	return keyring.Delete(service, account)
}

// ResolvePair resolves a username/password pair, short-circuiting on the
// first error.
func ResolvePair(username, password string) (resolvedUsername, resolvedPassword string, err error) {
	resolvedUsername, err = Resolve(username)
	if err != nil {
		return "", "", err
	}
	resolvedPassword, err = Resolve(password)
	if err != nil {
		return "", "", err
	}
	return resolvedUsername, resolvedPassword, nil
}
