package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron"

	"github.com/rohankatakam/devgraph/internal/errors"
)

// ValidationContext specifies what configuration is required
type ValidationContext string

const (
	// ValidationContextRun - a one-off run needs the sink and a GitHub token
	ValidationContextRun ValidationContext = "run"
	// ValidationContextSchedule - periodic runs also need a valid cron spec and registry
	ValidationContextSchedule ValidationContext = "schedule"
	// ValidationContextCheck - connector checks only need GitHub access
	ValidationContextCheck ValidationContext = "check"
	// ValidationContextStats - graph statistics only need the sink
	ValidationContextStats ValidationContext = "stats"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}
	return sb.String()
}

// Err returns the result as a permanent config error, or nil when valid
func (vr *ValidationResult) Err() error {
	if !vr.HasErrors() {
		return nil
	}
	return errors.ConfigError(vr.Error())
}

// Validate validates configuration for the given context
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	result := &ValidationResult{Valid: true}

	switch ctx {
	case ValidationContextRun:
		c.validateSink(result)
		c.validateGitHub(result)
		c.validatePipeline(result)
		c.validateDLQ(result)
	case ValidationContextSchedule:
		c.validateSink(result)
		c.validateGitHub(result)
		c.validatePipeline(result)
		c.validateDLQ(result)
		c.validateSchedule(result)
	case ValidationContextCheck:
		c.validateGitHub(result)
	case ValidationContextStats:
		c.validateSink(result)
	default:
		result.AddError("unknown validation context %q", ctx)
	}

	return result
}

func (c *Config) validateSink(result *ValidationResult) {
	switch c.Sink.Type {
	case "neo4j":
		if c.Sink.Neo4jURI == "" {
			result.AddError("NEO4J_URI is required but not set")
		} else if u, err := url.Parse(c.Sink.Neo4jURI); err != nil || u.Scheme == "" {
			result.AddError("NEO4J_URI is invalid: %q", c.Sink.Neo4jURI)
		}
		if c.Sink.Neo4jUser == "" {
			result.AddError("NEO4J_USER is required but not set")
		}
		if c.Sink.Neo4jPassword == "" {
			result.AddError("NEO4J_PASSWORD is required but not set. Set it via environment variable or .env file.")
		} else if c.Sink.Neo4jPassword == "password" || c.Sink.Neo4jPassword == "neo4j" {
			result.AddWarning("NEO4J_PASSWORD is set to a very common password")
		}
		if c.Sink.Neo4jDatabase == "" {
			result.AddWarning("NEO4J_DATABASE is not set, will use 'neo4j' as default")
		}
	case "postgres":
		if c.Sink.PostgresDSN == "" {
			result.AddError("POSTGRES_DSN is required but not set")
		} else if !strings.HasPrefix(c.Sink.PostgresDSN, "postgres://") && !strings.HasPrefix(c.Sink.PostgresDSN, "postgresql://") {
			result.AddError("POSTGRES_DSN must start with postgres:// or postgresql://")
		} else if strings.Contains(c.Sink.PostgresDSN, "sslmode=disable") {
			result.AddWarning("POSTGRES_DSN has sslmode=disable")
		}
	case "sqlite":
		if c.Sink.SQLitePath == "" {
			result.AddError("sink.sqlite_path is required for the sqlite sink")
		}
	default:
		result.AddError("sink type must be neo4j, postgres or sqlite, got %q", c.Sink.Type)
	}
}

func (c *Config) validateGitHub(result *ValidationResult) {
	if c.GitHub.Token == "" {
		result.AddError("GITHUB_TOKEN is required but not set. Run: devgraph login")
	}
	if c.GitHub.RateLimit <= 0 {
		result.AddWarning("GITHUB_RATE_LIMIT is invalid, will use default (10 req/s)")
	}
	if c.GitHub.BaseURL != "" {
		if _, err := url.Parse(c.GitHub.BaseURL); err != nil {
			result.AddError("github.base_url is invalid: %v", err)
		}
	}
}

func (c *Config) validatePipeline(result *ValidationResult) {
	p := c.Pipeline
	if p.MaxAttempts < 1 {
		result.AddError("pipeline.max_attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialInterval <= 0 {
		result.AddError("pipeline.initial_interval must be positive")
	}
	if p.MaxInterval < p.InitialInterval {
		result.AddError("pipeline.max_interval (%s) is below initial_interval (%s)", p.MaxInterval, p.InitialInterval)
	}
	if p.MaxConcurrentChains < 1 {
		result.AddError("pipeline.max_concurrent_chains must be at least 1, got %d", p.MaxConcurrentChains)
	}
	if p.ArtifactWorkers < 0 || p.ArtifactQueueSize < 0 {
		result.AddError("artifact worker and queue sizes cannot be negative")
	}
	if p.ArtifactWorkers > 0 && p.ArtifactMaxAttempts < 1 {
		result.AddError("pipeline.artifact_max_attempts must be at least 1 when artifact workers run")
	}
}

func (c *Config) validateDLQ(result *ValidationResult) {
	switch c.DLQ.Driver {
	case "postgres", "sqlite3":
	default:
		result.AddError("dlq.driver must be postgres or sqlite3, got %q", c.DLQ.Driver)
	}
	if c.DLQ.DSN == "" {
		result.AddError("dlq.dsn is required")
	}
}

func (c *Config) validateSchedule(result *ValidationResult) {
	if _, err := cron.Parse(c.Schedule.Spec); err != nil {
		result.AddError("schedule.spec %q is invalid: %v", c.Schedule.Spec, err)
	}
	if c.Schedule.RegistryPath == "" {
		result.AddError("schedule.registry_path is required")
	}
}
