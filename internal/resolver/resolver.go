// Package resolver looks up referenced entities by natural key and, for the links
// that require a target, synthesizes placeholder or payload-built nodes on a miss.
package resolver

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/graph"
	"github.com/rohankatakam/devgraph/internal/models"
	"github.com/rohankatakam/devgraph/internal/transform"
)

// Placeholder markers set on nodes created before their own record was ingested
const (
	PropProblem    = "problem"
	PropIncomplete = "incomplete"
	PropCreatedAt  = "created_node_at"
)

// Resolver resolves references against the store. It keeps no cache: the store is
// the source of truth and each chain re-resolves independently.
type Resolver struct {
	sink   graph.Sink
	logger logrus.FieldLogger
}

// New creates a resolver over sink
func New(sink graph.Sink, logger logrus.FieldLogger) *Resolver {
	return &Resolver{sink: sink, logger: logger.WithField("component", "resolver")}
}

// Resolve returns the node of label matching match, or nil on a miss.
// Callers decide whether a miss skips the link.
func (r *Resolver) Resolve(ctx context.Context, label string, match map[string]any) (*graph.NodeRef, error) {
	node, err := r.sink.GetNode(ctx, label, match)
	if err != nil {
		return nil, err
	}
	if node == nil {
		r.logger.WithFields(logrus.Fields{"label": label, "match": match}).Debug("reference not found")
	}
	return node, nil
}

// ResolveOrPlaceholder returns the node of label matching match or, on a miss, persists
// a placeholder keyed by key carrying fallback plus the problem/incomplete markers.
// The bool result reports whether a placeholder was created.
func (r *Resolver) ResolveOrPlaceholder(ctx context.Context, label string, match map[string]any, key string, fallback map[string]any) (graph.NodeRef, bool, error) {
	node, err := r.sink.GetNode(ctx, label, match)
	if err != nil {
		return graph.NodeRef{}, false, err
	}
	if node != nil {
		return *node, false, nil
	}
	if key == "" {
		return graph.NodeRef{}, false, errors.ValidationErrorf("placeholder %s needs a key", label)
	}

	keyField := models.KeyField(label)
	props := make(map[string]any, len(fallback)+4)
	for k, v := range fallback {
		props[k] = v
	}
	props[keyField] = key
	props[PropProblem] = true
	props[PropIncomplete] = true
	props[PropCreatedAt] = time.Now().UTC().Format(time.RFC3339)

	placeholder, err := r.sink.UpsertNode(ctx, label, keyField, props)
	if err != nil {
		return graph.NodeRef{}, false, err
	}
	r.logger.WithFields(logrus.Fields{"label": label, "key": key}).Warn("created placeholder for missing reference")
	return placeholder, true, nil
}

// ResolvePerson resolves the Person of an upstream user payload by login. On a miss
// the Person is created from the payload (it is a full entity, not a placeholder)
// and linked PRESENT_IN the organization. A payload without login returns nil.
func (r *Resolver) ResolvePerson(ctx context.Context, user map[string]any, org graph.NodeRef) (*graph.NodeRef, error) {
	login := transform.String(user, "login")
	if login == "" {
		return nil, nil
	}

	node, err := r.sink.GetNode(ctx, models.LabelPerson, map[string]any{"id": login})
	if err != nil {
		return nil, err
	}
	if node != nil {
		return node, nil
	}

	props := transform.Properties(transform.Transform(user))
	props["id"] = login
	if transform.String(props, "name") == "" {
		props["name"] = login
	}
	props[PropCreatedAt] = time.Now().UTC().Format(time.RFC3339)

	person, err := r.sink.UpsertNode(ctx, models.LabelPerson, "id", props)
	if err != nil {
		return nil, err
	}
	if _, err := r.sink.UpsertRelationship(ctx, person, models.RelPresentIn, org, nil); err != nil {
		return nil, err
	}
	r.logger.WithField("login", login).Debug("person created from payload")
	return &person, nil
}

// Organization loads the Organization node of name, creating it on first use
func (r *Resolver) Organization(ctx context.Context, name string) (graph.NodeRef, error) {
	if name == "" {
		return graph.NodeRef{}, errors.ValidationErrorf("organization name is empty")
	}
	node, err := r.sink.GetNode(ctx, models.LabelOrganization, map[string]any{"id": name})
	if err != nil {
		return graph.NodeRef{}, err
	}
	if node != nil {
		return *node, nil
	}
	org, err := r.sink.UpsertNode(ctx, models.LabelOrganization, "id", map[string]any{
		"id":   name,
		"name": name,
	})
	if err != nil {
		return graph.NodeRef{}, err
	}
	r.logger.WithField("organization", name).Info("organization node created")
	return org, nil
}
