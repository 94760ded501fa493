package secrets

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Hooks for tests.
var (
	keySourceReadFile      = os.ReadFile
	keySourceUserConfigDir = os.UserConfigDir
	keySourceMkdirAll      = os.MkdirAll
)

// DefaultKeySource returns a 32-byte key from PROMOAGENT_SECRETS_PASSPHRASE or, on Linux, /etc/machine-id.
// Callers must not modify the returned slice.
func DefaultKeySource() ([]byte, error) {
	if s := os.Getenv("PROMOAGENT_SECRETS_PASSPHRASE"); s != "" {
		return deriveKey(s), nil
	}
	const machineIDPath = "/etc/machine-id"
	b, err := keySourceReadFile(machineIDPath)
	if err != nil {
		return nil, fmt.Errorf("secrets: set PROMOAGENT_SECRETS_PASSPHRASE or ensure %s exists: %w", machineIDPath, err)
	}
	for i, c := range b {
		if c == '\n' || c == '\r' {
			b = b[:i]
			break
		}
	}
	if len(b) == 0 {
		return nil, errors.New("secrets: machine-id is empty")
	}
	return deriveKey(string(b)), nil
}

// DeriveKeyFromPassphrase returns the 32-byte key DefaultKeySource would
// derive from passphrase.
func DeriveKeyFromPassphrase(passphrase string) []byte {
	return deriveKey(passphrase)
}

func deriveKey(input string) []byte {
	const salt = "promoagent-secrets-v1"
	h := sha256.Sum256([]byte(salt + input))
	return h[:]
}

// SecretsDir returns UserConfigDir/promoagent, creating it with mode 0700.
func SecretsDir() (string, error) {
	base, err := keySourceUserConfigDir()
	if err != nil {
		return "", fmt.Errorf("secrets dir: %w", err)
	}
	dir := filepath.Join(base, "promoagent")
	if err := keySourceMkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("secrets dir mkdir: %w", err)
	}
	return dir, nil
}

// DefaultSecretsPath returns the path to the default .secrets file.
func DefaultSecretsPath() (string, error) {
	dir, err := SecretsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".secrets"), nil
}
