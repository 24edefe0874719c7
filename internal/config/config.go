package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rohankatakam/devgraph/internal/errors"
)

// Config holds all configuration settings
type Config struct {
	// Graph store configuration
	Sink SinkConfig `mapstructure:"sink" yaml:"sink"`

	// GitHub configuration
	GitHub GitHubConfig `mapstructure:"github" yaml:"github"`

	// Chain retry and concurrency settings
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`

	// Raw record staging cache
	Staging StagingConfig `mapstructure:"staging" yaml:"staging"`

	// Dead letter queue for exhausted stages
	DLQ DLQConfig `mapstructure:"dlq" yaml:"dlq"`

	// Periodic runs
	Schedule ScheduleConfig `mapstructure:"schedule" yaml:"schedule"`

	Log LogConfig `mapstructure:"log" yaml:"log"`

	// TargetsFile lists the organization/repository chains
	TargetsFile string `mapstructure:"targets_file" yaml:"targets_file"`
}

type SinkConfig struct {
	Type              string `mapstructure:"type" yaml:"type"` // "neo4j", "postgres", "sqlite"
	Neo4jURI          string `mapstructure:"neo4j_uri" yaml:"neo4j_uri"`
	Neo4jUser         string `mapstructure:"neo4j_user" yaml:"neo4j_user"`
	Neo4jPassword     string `mapstructure:"neo4j_password" yaml:"neo4j_password"`
	Neo4jDatabase     string `mapstructure:"neo4j_database" yaml:"neo4j_database"`
	Neo4jMaxPoolSize  int    `mapstructure:"neo4j_max_pool_size" yaml:"neo4j_max_pool_size"`
	PostgresDSN       string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
	SQLitePath        string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	EnsureConstraints bool   `mapstructure:"ensure_constraints" yaml:"ensure_constraints"`
}

type GitHubConfig struct {
	Token     string  `mapstructure:"token" yaml:"token"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
	PerPage   int     `mapstructure:"per_page" yaml:"per_page"`
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url"` // GitHub Enterprise
}

type PipelineConfig struct {
	MaxAttempts         int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialInterval     time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval         time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	MaxConcurrentChains int           `mapstructure:"max_concurrent_chains" yaml:"max_concurrent_chains"`
	ArtifactWorkers     int           `mapstructure:"artifact_workers" yaml:"artifact_workers"`
	ArtifactQueueSize   int           `mapstructure:"artifact_queue_size" yaml:"artifact_queue_size"`
	ArtifactMaxAttempts int           `mapstructure:"artifact_max_attempts" yaml:"artifact_max_attempts"`
}

type StagingConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"` // empty disables staging
}

type DLQConfig struct {
	Driver     string `mapstructure:"driver" yaml:"driver"` // "postgres", "sqlite3"
	DSN        string `mapstructure:"dsn" yaml:"dsn"`
	MaxRetries int    `mapstructure:"max_retries" yaml:"max_retries"`
}

type ScheduleConfig struct {
	Spec         string `mapstructure:"spec" yaml:"spec"` // cron spec with seconds
	RegistryPath string `mapstructure:"registry_path" yaml:"registry_path"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// Default returns default configuration
func Default() *Config {
	dir := dataDir()
	return &Config{
		Sink: SinkConfig{
			Type:              "sqlite",
			Neo4jURI:          "bolt://localhost:7687",
			Neo4jUser:         "neo4j",
			Neo4jDatabase:     "neo4j",
			Neo4jMaxPoolSize:  50,
			SQLitePath:        filepath.Join(dir, "graph.db"),
			EnsureConstraints: true,
		},
		GitHub: GitHubConfig{
			RateLimit: 10, // 10 requests per second
			PerPage:   100,
		},
		Pipeline: PipelineConfig{
			MaxAttempts:         5,
			InitialInterval:     2 * time.Second,
			MaxInterval:         time.Minute,
			MaxConcurrentChains: 4,
			ArtifactWorkers:     4,
			ArtifactQueueSize:   1000,
			ArtifactMaxAttempts: 3,
		},
		DLQ: DLQConfig{
			Driver:     "sqlite3",
			DSN:        filepath.Join(dir, "dlq.db"),
			MaxRetries: 3,
		},
		Schedule: ScheduleConfig{
			Spec:         "0 0 2 * * *", // daily at 02:00
			RegistryPath: filepath.Join(dir, "schedules.db"),
		},
		Log: LogConfig{
			Level: "info",
		},
		TargetsFile: "targets.yaml",
	}
}

// Load loads configuration from file, .env files and the environment.
// Precedence: env var > config file > defaults.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	setDefaults(v, cfg)

	// DEVGRAPH_SINK_TYPE overrides sink.type
	v.SetEnvPrefix("DEVGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".devgraph")
		v.AddConfigPath(".")
		v.AddConfigPath(dataDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.ConfigErrorf("failed to read config: %v", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.ConfigErrorf("failed to unmarshal config: %v", err)
	}

	applyEnvOverrides(cfg)
	cfg.GitHub.Token = resolveGitHubToken(cfg.GitHub.Token, NewKeyringManager(nil))

	cfg.Sink.SQLitePath = expandPath(cfg.Sink.SQLitePath)
	cfg.Schedule.RegistryPath = expandPath(cfg.Schedule.RegistryPath)
	if cfg.DLQ.Driver == "sqlite3" {
		cfg.DLQ.DSN = expandPath(cfg.DLQ.DSN)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	defaults := map[string]any{
		"sink.type":                      cfg.Sink.Type,
		"sink.neo4j_uri":                 cfg.Sink.Neo4jURI,
		"sink.neo4j_user":                cfg.Sink.Neo4jUser,
		"sink.neo4j_password":            cfg.Sink.Neo4jPassword,
		"sink.neo4j_database":            cfg.Sink.Neo4jDatabase,
		"sink.neo4j_max_pool_size":       cfg.Sink.Neo4jMaxPoolSize,
		"sink.postgres_dsn":              cfg.Sink.PostgresDSN,
		"sink.sqlite_path":               cfg.Sink.SQLitePath,
		"sink.ensure_constraints":        cfg.Sink.EnsureConstraints,
		"github.token":                   cfg.GitHub.Token,
		"github.rate_limit":              cfg.GitHub.RateLimit,
		"github.per_page":                cfg.GitHub.PerPage,
		"github.base_url":                cfg.GitHub.BaseURL,
		"pipeline.max_attempts":          cfg.Pipeline.MaxAttempts,
		"pipeline.initial_interval":      cfg.Pipeline.InitialInterval,
		"pipeline.max_interval":          cfg.Pipeline.MaxInterval,
		"pipeline.max_concurrent_chains": cfg.Pipeline.MaxConcurrentChains,
		"pipeline.artifact_workers":      cfg.Pipeline.ArtifactWorkers,
		"pipeline.artifact_queue_size":   cfg.Pipeline.ArtifactQueueSize,
		"pipeline.artifact_max_attempts": cfg.Pipeline.ArtifactMaxAttempts,
		"staging.dsn":                    cfg.Staging.DSN,
		"dlq.driver":                     cfg.DLQ.Driver,
		"dlq.dsn":                        cfg.DLQ.DSN,
		"dlq.max_retries":                cfg.DLQ.MaxRetries,
		"schedule.spec":                  cfg.Schedule.Spec,
		"schedule.registry_path":         cfg.Schedule.RegistryPath,
		"log.level":                      cfg.Log.Level,
		"log.file":                       cfg.Log.File,
		"log.json":                       cfg.Log.JSON,
		"targets_file":                   cfg.TargetsFile,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// applyEnvOverrides applies the conventional unprefixed variables
func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	}
	if rateLimit := os.Getenv("GITHUB_RATE_LIMIT"); rateLimit != "" {
		if rate, err := strconv.ParseFloat(rateLimit, 64); err == nil {
			cfg.GitHub.RateLimit = rate
		}
	}

	if sinkType := os.Getenv("SINK_TYPE"); sinkType != "" {
		cfg.Sink.Type = sinkType
	}
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Sink.Neo4jURI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		cfg.Sink.Neo4jUser = user
	}
	if password := os.Getenv("NEO4J_PASSWORD"); password != "" {
		cfg.Sink.Neo4jPassword = password
	}
	if database := os.Getenv("NEO4J_DATABASE"); database != "" {
		cfg.Sink.Neo4jDatabase = database
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Sink.PostgresDSN = dsn
	}
	if dsn := os.Getenv("STAGING_DSN"); dsn != "" {
		cfg.Staging.DSN = dsn
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

// resolveGitHubToken applies token precedence: env/config value first, then the keychain
func resolveGitHubToken(current string, km *KeyringManager) string {
	if current != "" {
		return current
	}
	if !km.IsAvailable() {
		return ""
	}
	token, err := km.GetGitHubToken()
	if err != nil {
		return ""
	}
	return token
}

// dataDir is the per-user state directory
func dataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".devgraph")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file. The GitHub token is never written.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	saved := *c
	saved.GitHub.Token = ""
	setDefaults(v, &saved)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.ConfigErrorf("failed to create config directory: %v", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return errors.ConfigErrorf("failed to write config: %v", err)
	}
	return nil
}
