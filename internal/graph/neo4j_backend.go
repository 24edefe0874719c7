package graph

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/models"
)

// Neo4jSink implements Sink with parameterized Cypher MERGE queries.
// The driver is pooled and shared; every call opens its own session.
type Neo4jSink struct {
	driver   neo4j.DriverWithContext
	database string
	logger   logrus.FieldLogger
}

// NewNeo4jSink connects to Neo4j and verifies connectivity
func NewNeo4jSink(ctx context.Context, cfg Neo4jConfig, logger logrus.FieldLogger) (*Neo4jSink, error) {
	logger = logger.WithField("component", "neo4j_sink")
	driver, err := newDriver(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jSink{driver: driver, database: database, logger: logger}, nil
}

// EnsureConstraints creates one uniqueness constraint per label on its natural key,
// plus range indexes on the non-key properties links are resolved by.
// MERGE relies on the constraints to stay race-free across concurrent chains.
func (s *Neo4jSink) EnsureConstraints(ctx context.Context) error {
	for _, label := range models.Labels {
		query, err := BuildUniqueConstraint(label, models.KeyField(label))
		if err != nil {
			return errors.InternalErrorf("constraint for %s: %v", label, err)
		}
		if _, err := s.write(ctx, "schema", label, query, nil); err != nil {
			return err
		}
	}
	for _, idx := range neo4jLookupIndexes {
		query, err := BuildPropertyIndex(idx.label, idx.property)
		if err != nil {
			return errors.InternalErrorf("index for %s.%s: %v", idx.label, idx.property, err)
		}
		if _, err := s.write(ctx, "schema", idx.label, query, nil); err != nil {
			return err
		}
	}
	s.logger.WithFields(logrus.Fields{
		"labels":  len(models.Labels),
		"indexes": len(neo4jLookupIndexes),
	}).Info("uniqueness constraints and lookup indexes ensured")
	return nil
}

// neo4jLookupIndexes cover the non-key properties extractors match on
var neo4jLookupIndexes = []struct{ label, property string }{
	{models.LabelPullRequest, "url"},
	{models.LabelPullRequest, "number"},
	{models.LabelCommit, "sha"},
	{models.LabelTeam, "slug"},
}

// UpsertNode merges a node on its natural key
func (s *Neo4jSink) UpsertNode(ctx context.Context, label, keyField string, props map[string]any) (NodeRef, error) {
	key, err := KeyOf(keyField, props)
	if err != nil {
		return NodeRef{}, err
	}
	props = withKey(keyField, key, props)

	builder := NewCypherBuilder()
	cypher, err := builder.BuildMergeNode(label, keyField, key, props)
	if err != nil {
		return NodeRef{}, errors.ValidationErrorf("failed to build node query: %v", err)
	}

	records, err := s.write(ctx, "node_upsert", label, cypher, builder.Params())
	if err != nil {
		return NodeRef{}, err
	}

	stored := props
	if len(records) > 0 {
		if m, ok := records[0].Get("props"); ok {
			if typed, ok := m.(map[string]any); ok {
				stored = typed
			}
		}
	}
	return NodeRef{Label: label, KeyField: keyField, Key: key, Properties: stored}, nil
}

// UpsertRelationship merges (from)-[relType]->(to)
func (s *Neo4jSink) UpsertRelationship(ctx context.Context, from NodeRef, relType string, to NodeRef, props map[string]any) (RelRef, error) {
	builder := NewCypherBuilder()
	cypher, err := builder.BuildMergeEdge(
		from.Label, keyFieldOf(from), from.Key,
		to.Label, keyFieldOf(to), to.Key,
		relType,
		props,
	)
	if err != nil {
		return RelRef{}, errors.ValidationErrorf("failed to build edge query: %v", err)
	}

	records, err := s.write(ctx, "relationship_upsert", relType, cypher, builder.Params())
	if err != nil {
		return RelRef{}, err
	}

	// No row means one of the MATCH clauses found nothing
	if len(records) == 0 {
		return RelRef{}, errors.MissingReferenceErrorf("cannot link %s -[%s]-> %s: endpoint not found", from, relType, to)
	}

	return RelRef{From: from, Type: relType, To: to, Properties: props}, nil
}

// GetNode returns the first node of label matching every property in match
func (s *Neo4jSink) GetNode(ctx context.Context, label string, match map[string]any) (*NodeRef, error) {
	keyField := models.KeyField(label)
	normalized := make(map[string]any, len(match))
	for k, v := range match {
		normalized[k] = v
	}
	if _, ok := normalized[keyField]; ok {
		key, err := KeyOf(keyField, normalized)
		if err != nil {
			return nil, err
		}
		normalized[keyField] = key
	}

	builder := NewCypherBuilder()
	cypher, err := builder.BuildMatchNode(label, normalized)
	if err != nil {
		return nil, errors.ValidationErrorf("failed to build lookup query: %v", err)
	}

	records, err := s.read(ctx, "node_lookup", cypher, builder.Params())
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	raw, _ := records[0].Get("props")
	props, _ := raw.(map[string]any)
	node := ref(label, fmt.Sprint(props[keyField]), props)
	return &node, nil
}

// GetConfiguration reads the Configuration node of (target, domain)
func (s *Neo4jSink) GetConfiguration(ctx context.Context, target models.Target, domain string) (*models.Checkpoint, error) {
	node, err := s.GetNode(ctx, models.LabelConfiguration, map[string]any{
		"id": models.ConfigurationKey(target, domain),
	})
	if err != nil || node == nil {
		return nil, err
	}

	var ts time.Time
	switch v := node.Properties["last_retrieve_date"].(type) {
	case time.Time:
		ts = v
	case string:
		ts, err = time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, errors.MalformedRecordError(err, "invalid last_retrieve_date on "+node.String())
		}
	default:
		return nil, nil
	}
	return &models.Checkpoint{
		Organization:     target.Organization,
		Repository:       target.Repository,
		Domain:           domain,
		LastRetrieveDate: ts.UTC(),
	}, nil
}

// SaveConfiguration replaces the timestamp of the (target, domain) Configuration node
func (s *Neo4jSink) SaveConfiguration(ctx context.Context, target models.Target, domain string, ts time.Time) error {
	_, err := s.UpsertNode(ctx, models.LabelConfiguration, "id", map[string]any{
		"id":                 models.ConfigurationKey(target, domain),
		"organization":       target.Organization,
		"repository":         target.Repository,
		"domain":             domain,
		"last_retrieve_date": ts.UTC().Format(time.RFC3339Nano),
	})
	return err
}

// Close closes the driver and its pool
func (s *Neo4jSink) Close(ctx context.Context) error {
	if err := s.driver.Close(ctx); err != nil {
		return errors.StoreError(err, "failed to close neo4j driver")
	}
	s.logger.Info("neo4j driver closed")
	return nil
}

// write runs one query in its own write transaction with the operation's timeout.
// target (a label or relationship type) is added to the transaction metadata.
func (s *Neo4jSink) write(ctx context.Context, operation, target, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := SessionWithRouting(ctx, s.driver, RoutingForOperation(operation), s.database)
	defer session.Close(ctx)

	txConfig := GetConfigForOperation(operation).WithCustomMetadata("target", target)
	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	}, txConfig.AsNeo4jConfig()...)
	if err != nil {
		return nil, classify(err, operation)
	}
	records, _ := out.([]*neo4j.Record)
	return records, nil
}

// read runs one lookup routed to readers
func (s *Neo4jSink) read(ctx context.Context, operation, query string, params map[string]any) ([]*neo4j.Record, error) {
	queryCtx := ctx
	if timeout := GetConfigForOperation(operation).Timeout; timeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := ExecuteWithRouting(queryCtx, s.driver, query, params, RoutingForOperation(operation), s.database)
	if err != nil {
		return nil, classify(err, operation)
	}
	return result.Records, nil
}

// classify turns a driver error into a store error. Security and syntax errors
// cannot succeed on retry.
func classify(err error, operation string) error {
	storeErr := errors.StoreErrorf(err, "neo4j %s failed", operation)
	var neoErr *neo4j.Neo4jError
	if stderrors.As(err, &neoErr) {
		// A property value Neo4j cannot store fails only the record that carries it
		if neoErr.Code == "Neo.ClientError.Statement.TypeError" {
			return errors.MalformedRecordError(err, fmt.Sprintf("neo4j %s rejected a property value", operation))
		}
		if strings.HasPrefix(neoErr.Code, "Neo.ClientError.Security.") ||
			strings.HasPrefix(neoErr.Code, "Neo.ClientError.Statement.") {
			storeErr.AsPermanent()
		}
	}
	return storeErr
}

// keyFieldOf returns the key field of a reference, defaulting to the label's
func keyFieldOf(n NodeRef) string {
	if n.KeyField != "" {
		return n.KeyField
	}
	return models.KeyField(n.Label)
}

var _ Sink = (*Neo4jSink)(nil)
