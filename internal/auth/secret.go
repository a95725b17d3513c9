package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LoadOrCreateSecret returns the HMAC secret stored under dataDir, creating
// one on first start so tokens survive restarts.
func LoadOrCreateSecret(dataDir string) ([]byte, error) {
	if dataDir == "" {
		return nil, errors.New("data dir required for capability secret")
	}
	secretPath := filepath.Join(dataDir, "secrets", "capability_hmac.key")
	secret, err := os.ReadFile(secretPath)
	if err == nil {
		if len(secret) < minSecretBytes {
			return nil, fmt.Errorf("capability secret must be at least %d bytes", minSecretBytes)
		}
		return secret, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	secret = make([]byte, minSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(secretPath), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(secretPath, secret, 0o600); err != nil {
		return nil, err
	}
	return secret, nil
}

// ValidateSecret rejects configured secrets that are too short to sign with.
func ValidateSecret(secret []byte) error {
	if len(secret) < minSecretBytes {
		return fmt.Errorf("capability secret must be at least %d bytes", minSecretBytes)
	}
	return nil
}
