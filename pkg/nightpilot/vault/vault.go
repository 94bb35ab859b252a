// Package vault implements CredentialStore (SPEC_FULL §2 ambient
// component VAULT): resolving the agent CLI's own auth token, when the
// agent needs one passed through its environment, via the OS keyring and
// falling back to an environment variable. Grounded on the teacher's
// copilot.GetKeyring/StoreKeyring, trimmed to the single credential this
// system actually needs to carry — there is no multi-secret encrypted
// vault file here, since the agent CLI manages its own provider keys.
package vault

import (
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	keyringService = "nightpilot"
	keyringKey     = "agent_token"

	// EnvVar is the fallback environment variable carrying the agent's
	// auth token when no keyring entry exists.
	EnvVar = "CNP_AGENT_TOKEN"
)

// Store sets the agent token in the OS keyring.
func Store(token string) error {
	return keyring.Set(keyringService, keyringKey, token)
}

// Delete removes the agent token from the OS keyring.
func Delete() error {
	return keyring.Delete(keyringService, keyringKey)
}

// Resolve returns the agent token, preferring the OS keyring and falling
// back to CNP_AGENT_TOKEN. The empty string means no token is configured,
// which is valid: most agent CLIs manage their own session credentials
// and never need one passed through.
func Resolve() string {
	if val, err := keyring.Get(keyringService, keyringKey); err == nil && val != "" {
		return val
	}
	return os.Getenv(EnvVar)
}

// Available reports whether the OS keyring backend is reachable, via a
// write+delete probe.
func Available() bool {
	const probeKey = "__nightpilot_probe__"
	if err := keyring.Set(keyringService, probeKey, "probe"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, probeKey)
	return true
}

// PromptMasked reads a token from the terminal without echoing it, for
// the CLI's interactive `vault set` flow.
func PromptMasked(prompt string) (string, error) {
	fmt.Print(prompt)
	defer fmt.Println()
	data, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return string(data), nil
}
