package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/models"
)

// targetsFile is the layout of targets.yaml:
//
//	targets:
//	  - organization: acme
//	    repository: acme/api
//	    token_env: ACME_GITHUB_TOKEN # optional, defaults to the configured token
type targetsFile struct {
	Targets []targetEntry `yaml:"targets"`
}

type targetEntry struct {
	Organization string `yaml:"organization"`
	Repository   string `yaml:"repository"`
	TokenEnv     string `yaml:"token_env"`
}

// LoadTargets reads the chains listed in path. Each target gets the token named by
// its token_env, or defaultToken.
func LoadTargets(path, defaultToken string) ([]models.Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigErrorf("failed to read targets file %s: %v", path, err)
	}
	return ParseTargets(data, defaultToken)
}

// ParseTargets decodes a targets document
func ParseTargets(data []byte, defaultToken string) ([]models.Target, error) {
	var file targetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.ConfigErrorf("invalid targets file: %v", err)
	}
	if len(file.Targets) == 0 {
		return nil, errors.ConfigError("targets file lists no targets")
	}

	seen := make(map[string]bool, len(file.Targets))
	targets := make([]models.Target, 0, len(file.Targets))
	for i, entry := range file.Targets {
		repository := strings.TrimSpace(entry.Repository)
		organization := strings.TrimSpace(entry.Organization)
		if organization == "" {
			organization, _, _ = strings.Cut(repository, "/")
		}
		if organization == "" || !strings.Contains(repository, "/") {
			return nil, errors.ConfigErrorf("target %d: repository must be owner/name, got %q", i, entry.Repository)
		}

		token := defaultToken
		if entry.TokenEnv != "" {
			token = os.Getenv(entry.TokenEnv)
			if token == "" {
				return nil, errors.ConfigErrorf("target %s: %s is not set", repository, entry.TokenEnv)
			}
		}

		target := models.Target{Organization: organization, Repository: repository, Token: token}
		if seen[target.String()] {
			return nil, errors.ConfigErrorf("target %s is listed twice", target)
		}
		seen[target.String()] = true
		targets = append(targets, target)
	}
	return targets, nil
}
