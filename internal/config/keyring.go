package config

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"

	"github.com/rohankatakam/devgraph/internal/errors"
)

const (
	// KeyringService is the service name in the OS keychain
	KeyringService = "devgraph"

	// KeyringGitHubTokenItem is the key for the GitHub token
	KeyringGitHubTokenItem = "github-token"
)

// KeyringManager handles secure credential storage in OS keychain
type KeyringManager struct {
	logger logrus.FieldLogger
}

// NewKeyringManager creates a new keyring manager. A nil logger uses the standard logger.
func NewKeyringManager(logger logrus.FieldLogger) *KeyringManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &KeyringManager{logger: logger.WithField("component", "keyring")}
}

// GetGitHubToken retrieves the GitHub token from the OS keychain.
// A missing entry returns "" without error.
func (km *KeyringManager) GetGitHubToken() (string, error) {
	token, err := keyring.Get(KeyringService, KeyringGitHubTokenItem)
	if stderrors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		km.logger.WithError(err).Error("failed to get GitHub token from keychain")
		return "", errors.ConfigErrorf("failed to read from OS keychain: %v", err)
	}

	km.logger.Debug("github token retrieved from keychain")
	return token, nil
}

// SetGitHubToken stores the GitHub token in the OS keychain
func (km *KeyringManager) SetGitHubToken(token string) error {
	if token == "" {
		return errors.ValidationErrorf("github token cannot be empty")
	}

	if err := keyring.Set(KeyringService, KeyringGitHubTokenItem, token); err != nil {
		km.logger.WithError(err).Error("failed to save GitHub token to keychain")
		return errors.ConfigErrorf("failed to save to OS keychain: %v", err)
	}

	km.logger.WithField("service", KeyringService).Info("github token saved to keychain")
	return nil
}

// DeleteGitHubToken removes the GitHub token from the OS keychain
func (km *KeyringManager) DeleteGitHubToken() error {
	err := keyring.Delete(KeyringService, KeyringGitHubTokenItem)
	if stderrors.Is(err, keyring.ErrNotFound) {
		// Already deleted, not an error
		return nil
	}
	if err != nil {
		km.logger.WithError(err).Error("failed to delete GitHub token from keychain")
		return errors.ConfigErrorf("failed to delete from OS keychain: %v", err)
	}

	km.logger.Info("github token deleted from keychain")
	return nil
}

// IsAvailable checks if OS keychain is available.
// Returns false on headless systems (CI/CD) where keychain isn't available.
func (km *KeyringManager) IsAvailable() bool {
	_, err := keyring.Get(KeyringService, "test-availability")
	if err == nil || stderrors.Is(err, keyring.ErrNotFound) {
		return true
	}
	km.logger.WithError(err).Debug("keychain not available")
	return false
}

// TokenSource reports where the GitHub token of cfg comes from: env, keychain, config or none
func (km *KeyringManager) TokenSource(cfg *Config) string {
	if os.Getenv("GITHUB_TOKEN") != "" {
		return "env"
	}
	if token, _ := km.GetGitHubToken(); token != "" && token == cfg.GitHub.Token {
		return "keychain"
	}
	if cfg.GitHub.Token != "" {
		return "config"
	}
	return "none"
}

// MaskToken masks a token for display, keeping the first 4 and last 4 characters
func MaskToken(token string) string {
	if token == "" {
		return "(not set)"
	}
	if len(token) < 12 {
		return "***"
	}
	return fmt.Sprintf("%s...%s", token[:4], token[len(token)-4:])
}
