package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// RoutingMode defines read/write routing for cluster deployments.
// For local single-node deployments, routing has no effect.
type RoutingMode string

const (
	// RoutingRead routes to read replicas (for lookups)
	RoutingRead RoutingMode = "read"

	// RoutingWrite routes to cluster leader (for upserts)
	RoutingWrite RoutingMode = "write"
)

// ExecuteWithRouting executes a query with explicit routing
func ExecuteWithRouting(
	ctx context.Context,
	driver neo4j.DriverWithContext,
	query string,
	params map[string]any,
	mode RoutingMode,
	database string,
) (*neo4j.EagerResult, error) {
	options := []neo4j.ExecuteQueryConfigurationOption{
		neo4j.ExecuteQueryWithDatabase(database),
	}

	switch mode {
	case RoutingRead:
		options = append(options, neo4j.ExecuteQueryWithReadersRouting())
	case RoutingWrite:
		options = append(options, neo4j.ExecuteQueryWithWritersRouting())
	}

	return neo4j.ExecuteQuery(ctx, driver, query, params,
		neo4j.EagerResultTransformer,
		options...)
}

// SessionWithRouting creates a session with explicit routing
func SessionWithRouting(
	ctx context.Context,
	driver neo4j.DriverWithContext,
	mode RoutingMode,
	database string,
) neo4j.SessionWithContext {
	config := neo4j.SessionConfig{
		DatabaseName: database,
	}

	switch mode {
	case RoutingRead:
		config.AccessMode = neo4j.AccessModeRead
	case RoutingWrite:
		config.AccessMode = neo4j.AccessModeWrite
	}

	return driver.NewSession(ctx, config)
}

// RoutingForOperation returns RoutingRead for read operations and RoutingWrite otherwise
func RoutingForOperation(operation string) RoutingMode {
	if GetConfigForOperation(operation).Metadata["type"] == "read" {
		return RoutingRead
	}
	return RoutingWrite
}
