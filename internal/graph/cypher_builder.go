package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	identifierPattern  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	propertyKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.\-]*$`)
)

// CypherBuilder builds safe, parameterized Cypher queries.
// Labels, relationship types and key fields are validated identifiers; every value
// (including whole property maps) travels as a parameter.
type CypherBuilder struct {
	params  map[string]any
	counter int
}

// NewCypherBuilder creates a query builder
func NewCypherBuilder() *CypherBuilder {
	return &CypherBuilder{
		params:  make(map[string]any),
		counter: 0,
	}
}

// AddParam adds a parameter and returns its placeholder
func (b *CypherBuilder) AddParam(value any) string {
	paramName := fmt.Sprintf("p%d", b.counter)
	b.counter++
	b.params[paramName] = value
	return "$" + paramName
}

// Params returns all parameters for the query
func (b *CypherBuilder) Params() map[string]any {
	return b.params
}

// BuildMergeNode creates a MERGE on the natural key followed by a property map merge.
// Flattened property names contain "." so properties are set with "+=" from a map
// parameter instead of one SET clause per key.
func (b *CypherBuilder) BuildMergeNode(label, keyField string, keyValue any, properties map[string]any) (string, error) {
	if !isValidIdentifier(label) {
		return "", fmt.Errorf("invalid node label: %s (must be alphanumeric + underscore)", label)
	}
	if !isValidIdentifier(keyField) {
		return "", fmt.Errorf("invalid key field: %s (must be alphanumeric + underscore)", keyField)
	}

	keyParam := b.AddParam(keyValue)
	propsParam := b.AddParam(properties)

	return fmt.Sprintf(
		"MERGE (n:%s {%s: %s}) SET n += %s RETURN properties(n) AS props",
		label, keyField, keyParam, propsParam,
	), nil
}

// BuildMergeEdge creates a MERGE between two existing nodes.
// No row is returned when either endpoint is missing.
func (b *CypherBuilder) BuildMergeEdge(
	fromLabel, fromKey string, fromValue any,
	toLabel, toKey string, toValue any,
	relType string,
	properties map[string]any,
) (string, error) {
	for _, id := range []string{fromLabel, fromKey, toLabel, toKey, relType} {
		if !isValidIdentifier(id) {
			return "", fmt.Errorf("invalid identifier in edge query: %s", id)
		}
	}

	fromParam := b.AddParam(fromValue)
	toParam := b.AddParam(toValue)

	var setClause string
	if len(properties) > 0 {
		setClause = "SET r += " + b.AddParam(properties) + " "
	}

	return fmt.Sprintf(
		"MATCH (from:%s {%s: %s}) MATCH (to:%s {%s: %s}) MERGE (from)-[r:%s]->(to) %sRETURN properties(r) AS props",
		fromLabel, fromKey, fromParam,
		toLabel, toKey, toParam,
		relType,
		setClause,
	), nil
}

// BuildMatchNode creates a lookup of the first node of label matching every property
func (b *CypherBuilder) BuildMatchNode(label string, match map[string]any) (string, error) {
	if !isValidIdentifier(label) {
		return "", fmt.Errorf("invalid node label: %s", label)
	}

	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conditions := make([]string, 0, len(keys))
	for _, k := range keys {
		if !propertyKeyPattern.MatchString(k) {
			return "", fmt.Errorf("invalid property key: %s", k)
		}
		conditions = append(conditions, fmt.Sprintf("n.`%s` = %s", k, b.AddParam(match[k])))
	}

	query := fmt.Sprintf("MATCH (n:%s)", label)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	return query + " RETURN properties(n) AS props LIMIT 1", nil
}

// BuildUniqueConstraint creates the uniqueness constraint on a label's natural key
func BuildUniqueConstraint(label, keyField string) (string, error) {
	if !isValidIdentifier(label) || !isValidIdentifier(keyField) {
		return "", fmt.Errorf("invalid constraint target: %s.%s", label, keyField)
	}
	return fmt.Sprintf(
		"CREATE CONSTRAINT %s_%s_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
		strings.ToLower(label), keyField, label, keyField,
	), nil
}

// BuildPropertyIndex creates a range index on a non-key property that links match on
func BuildPropertyIndex(label, property string) (string, error) {
	if !isValidIdentifier(label) || !isValidIdentifier(property) {
		return "", fmt.Errorf("invalid index target: %s.%s", label, property)
	}
	return fmt.Sprintf(
		"CREATE INDEX %s_%s_index IF NOT EXISTS FOR (n:%s) ON (n.%s)",
		strings.ToLower(label), property, label, property,
	), nil
}

// isValidIdentifier validates that a string can be safely used as a Cypher identifier.
// Only allows alphanumeric characters and underscores (prevents injection).
func isValidIdentifier(s string) bool {
	return s != "" && identifierPattern.MatchString(s)
}
