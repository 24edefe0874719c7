package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/errors"
)

// Neo4jConfig holds the connection settings of the Neo4j backend
type Neo4jConfig struct {
	URI         string
	User        string
	Password    string
	Database    string
	MaxPoolSize int
}

// newDriver creates a pooled Neo4j driver shared by every chain of the process
func newDriver(ctx context.Context, cfg Neo4jConfig, logger logrus.FieldLogger) (neo4j.DriverWithContext, error) {
	if cfg.URI == "" || cfg.User == "" || cfg.Password == "" {
		return nil, errors.ConfigErrorf("neo4j credentials missing: uri=%s, user=%s", cfg.URI, cfg.User)
	}
	poolSize := cfg.MaxPoolSize
	if poolSize <= 0 {
		poolSize = 50
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.User, cfg.Password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = poolSize
			config.ConnectionAcquisitionTimeout = 60 * time.Second
			config.MaxConnectionLifetime = 3600 * time.Second
			config.ConnectionLivenessCheckTimeout = 5 * time.Second
			config.SocketConnectTimeout = 5 * time.Second
			config.SocketKeepalive = true
		})
	if err != nil {
		return nil, errors.ConfigError("failed to create neo4j driver: " + err.Error())
	}

	// Fail fast on startup
	checkCtx, cancel := context.WithTimeout(ctx, GetConfigForOperation("health_check").Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(checkCtx); err != nil {
		driver.Close(ctx)
		return nil, errors.StoreErrorf(err, "failed to connect to neo4j at %s", cfg.URI)
	}

	logger.WithFields(logrus.Fields{
		"uri":           cfg.URI,
		"user":          cfg.User,
		"database":      cfg.Database,
		"max_pool_size": poolSize,
	}).Info("neo4j driver connected")

	return driver, nil
}
