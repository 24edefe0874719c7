package graph

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// TransactionConfig defines timeout and metadata for transactions.
// Transaction metadata is logged by Neo4j and visible in query.log.
type TransactionConfig struct {
	Timeout  time.Duration
	Metadata map[string]any
}

// DefaultTransactionConfigs returns the config per sink operation
func DefaultTransactionConfigs() map[string]TransactionConfig {
	return map[string]TransactionConfig{
		"node_upsert": {
			Timeout: 30 * time.Second,
			Metadata: map[string]any{
				"operation": "node_upsert",
				"type":      "write",
			},
		},
		"relationship_upsert": {
			Timeout: 30 * time.Second,
			Metadata: map[string]any{
				"operation": "relationship_upsert",
				"type":      "write",
			},
		},
		"node_lookup": {
			Timeout: 15 * time.Second,
			Metadata: map[string]any{
				"operation": "node_lookup",
				"type":      "read",
			},
		},
		// Constraint creation can be slow on large graphs
		"schema": {
			Timeout: 5 * time.Minute,
			Metadata: map[string]any{
				"operation": "schema",
				"type":      "schema",
			},
		},
		"health_check": {
			Timeout: 5 * time.Second,
			Metadata: map[string]any{
				"operation": "health_check",
				"type":      "read",
			},
		},
	}
}

// AsNeo4jConfig converts to Neo4j transaction config functions.
// Use with ExecuteRead/ExecuteWrite on a session.
func (tc TransactionConfig) AsNeo4jConfig() []func(*neo4j.TransactionConfig) {
	configs := []func(*neo4j.TransactionConfig){}
	if tc.Timeout > 0 {
		configs = append(configs, neo4j.WithTxTimeout(tc.Timeout))
	}
	if len(tc.Metadata) > 0 {
		configs = append(configs, neo4j.WithTxMetadata(tc.Metadata))
	}
	return configs
}

// GetConfigForOperation retrieves the config of an operation, or a 60s default
func GetConfigForOperation(operation string) TransactionConfig {
	if config, ok := DefaultTransactionConfigs()[operation]; ok {
		return config
	}
	return TransactionConfig{
		Timeout: 60 * time.Second,
		Metadata: map[string]any{
			"operation": operation,
			"type":      "unknown",
		},
	}
}

// WithCustomMetadata returns a copy of the config with one more metadata entry
func (tc TransactionConfig) WithCustomMetadata(key string, value any) TransactionConfig {
	newConfig := TransactionConfig{
		Timeout:  tc.Timeout,
		Metadata: make(map[string]any, len(tc.Metadata)+1),
	}
	for k, v := range tc.Metadata {
		newConfig.Metadata[k] = v
	}
	newConfig.Metadata[key] = value
	return newConfig
}
