// Package graph stores the engineering-activity graph behind a single Sink
// interface with a Neo4j backend and a relational (Postgres/SQLite) backend.
package graph

import (
	"context"
	"time"

	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/models"
	"github.com/rohankatakam/devgraph/internal/transform"
)

// Sink defines the graph store operations used by extractors.
// Every call is its own session/transaction; implementations keep no state
// between calls and are safe for concurrent use.
type Sink interface {
	// UpsertNode creates the (label, key) node or sets the supplied properties on it.
	// Properties not supplied are left untouched.
	UpsertNode(ctx context.Context, label, keyField string, props map[string]any) (NodeRef, error)

	// UpsertRelationship merges the (from, type, to) relationship and overwrites the
	// supplied properties. Both endpoints must already exist.
	UpsertRelationship(ctx context.Context, from NodeRef, relType string, to NodeRef, props map[string]any) (RelRef, error)

	// GetNode returns the first node of label matching every property in match,
	// or nil when there is none.
	GetNode(ctx context.Context, label string, match map[string]any) (*NodeRef, error)

	// GetConfiguration returns the checkpoint of (target, domain), or nil
	GetConfiguration(ctx context.Context, target models.Target, domain string) (*models.Checkpoint, error)

	// SaveConfiguration replaces the checkpoint of (target, domain)
	SaveConfiguration(ctx context.Context, target models.Target, domain string, ts time.Time) error

	// Close releases the underlying driver or connection pool
	Close(ctx context.Context) error
}

// NodeRef identifies a stored node
type NodeRef struct {
	Label      string
	KeyField   string
	Key        string
	Properties map[string]any
}

// String returns "Label:key", the form used in logs
func (n NodeRef) String() string {
	return n.Label + ":" + n.Key
}

// Bool reports whether a boolean property is set to true
func (n NodeRef) Bool(name string) bool {
	b, ok := n.Properties[name].(bool)
	return ok && b
}

// RelRef identifies a stored relationship
type RelRef struct {
	From       NodeRef
	Type       string
	To         NodeRef
	Properties map[string]any
}

// KeyOf returns the normalized natural key in props.
// Keys are always stored as strings so that an id decoded as a number by one
// stream and as a string by another still address the same node.
func KeyOf(keyField string, props map[string]any) (string, error) {
	key := transform.ToString(props[keyField])
	if key == "" {
		return "", errors.ValidationErrorf("missing natural key %q", keyField)
	}
	return key, nil
}

// withKey returns a copy of props carrying the normalized key
func withKey(keyField, key string, props map[string]any) map[string]any {
	out := make(map[string]any, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out[keyField] = key
	return out
}

// ref builds a NodeRef for a node of label
func ref(label, key string, props map[string]any) NodeRef {
	return NodeRef{
		Label:      label,
		KeyField:   models.KeyField(label),
		Key:        key,
		Properties: props,
	}
}

// Ref addresses an existing node by label and natural key without reading it
func Ref(label, key string) NodeRef {
	return ref(label, key, nil)
}

// sameValue compares a stored property with a match value independent of numeric type
func sameValue(stored, want any) bool {
	if stored == nil || want == nil {
		return stored == nil && want == nil
	}
	if sb, ok := stored.(bool); ok {
		wb, ok := want.(bool)
		return ok && sb == wb
	}
	return transform.ToString(stored) == transform.ToString(want)
}
