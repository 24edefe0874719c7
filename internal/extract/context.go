package extract

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/graph"
	"github.com/rohankatakam/devgraph/internal/models"
	"github.com/rohankatakam/devgraph/internal/resolver"
	"github.com/rohankatakam/devgraph/internal/transform"
)

// record is one connector row with its transformed properties
type record struct {
	raw   map[string]any
	props map[string]any
}

func (r record) string(key string) string {
	return transform.String(r.raw, key)
}

// runContext carries the state of one linking step
type runContext struct {
	target    models.Target
	org       graph.NodeRef
	records   map[string][]record
	sink      graph.Sink
	resolver  *resolver.Resolver
	artifacts ArtifactQueue
	report    *RunReport
	logger    logrus.FieldLogger
}

// each calls fn for every record of stream. Cancellation is checked between
// records; a record already started is written with a context that ignores
// cancellation so it is never left half linked. Skippable errors are logged and the
// loop goes on; anything else aborts the stage.
func (rc *runContext) each(ctx context.Context, stream string, fn func(ctx context.Context, r record) error) error {
	for _, r := range rc.records[stream] {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, errors.SeverityHigh, "stage cancelled").AsPermanent()
		}
		if err := fn(context.WithoutCancel(ctx), r); err != nil {
			if !skippable(err) {
				return err
			}
			rc.report.Skipped++
			rc.logger.WithFields(logrus.Fields{
				"stream": stream,
				"id":     transform.String(r.raw, "id"),
				"error":  err.Error(),
			}).Warn("record skipped")
		}
	}
	return nil
}

// skippable reports whether err concerns a single record rather than the store
func skippable(err error) bool {
	return errors.IsType(err, errors.ErrorTypeMalformedRecord) ||
		errors.IsType(err, errors.ErrorTypeMissingReference) ||
		errors.IsType(err, errors.ErrorTypeValidation)
}

// upsert writes a node of label keyed by its natural key field
func (rc *runContext) upsert(ctx context.Context, label string, props map[string]any) (graph.NodeRef, error) {
	node, err := rc.sink.UpsertNode(ctx, label, models.KeyField(label), props)
	if err != nil {
		return graph.NodeRef{}, err
	}
	rc.report.Nodes++
	return node, nil
}

// relate writes from -relType-> to
func (rc *runContext) relate(ctx context.Context, from graph.NodeRef, relType string, to graph.NodeRef) error {
	if _, err := rc.sink.UpsertRelationship(ctx, from, relType, to, nil); err != nil {
		return err
	}
	rc.report.Relationships++
	return nil
}

// lookup resolves a link target; nil means the caller applies its missing-target
// policy. A match with an empty value is a miss.
func (rc *runContext) lookup(ctx context.Context, label string, match map[string]any) (*graph.NodeRef, error) {
	for _, v := range match {
		if transform.ToString(v) == "" {
			return nil, nil
		}
	}
	return rc.resolver.Resolve(ctx, label, match)
}

// linkTo relates from to the node matching match, skipping the link at level when
// the target is missing
func (rc *runContext) linkTo(ctx context.Context, from graph.NodeRef, relType, label string, match map[string]any, level logrus.Level) error {
	to, err := rc.lookup(ctx, label, match)
	if err != nil {
		return err
	}
	if to == nil {
		rc.skip(level, from, relType, label, match)
		return nil
	}
	return rc.relate(ctx, from, relType, *to)
}

// linkFrom relates the node matching match to to, skipping the link at level when
// the source is missing
func (rc *runContext) linkFrom(ctx context.Context, label string, match map[string]any, relType string, to graph.NodeRef, level logrus.Level) error {
	from, err := rc.lookup(ctx, label, match)
	if err != nil {
		return err
	}
	if from == nil {
		rc.skip(level, to, relType, label, match)
		return nil
	}
	return rc.relate(ctx, *from, relType, to)
}

// person links node -relType-> the Person of a user payload, creating the Person
// from the payload when it is not yet known
func (rc *runContext) person(ctx context.Context, node graph.NodeRef, relType string, user map[string]any) error {
	if user == nil {
		return nil
	}
	p, err := rc.resolver.ResolvePerson(ctx, user, rc.org)
	if err != nil {
		return err
	}
	if p == nil {
		rc.logger.WithFields(logrus.Fields{"node": node.String(), "rel": relType}).Debug("user payload without login")
		return nil
	}
	return rc.relate(ctx, node, relType, *p)
}

// people links node to every user payload in the list field key
func (rc *runContext) people(ctx context.Context, node graph.NodeRef, relType string, r record, key string) error {
	users, err := transform.Slice(r.raw, key)
	if err != nil {
		return err
	}
	for _, user := range users {
		if err := rc.person(ctx, node, relType, user); err != nil {
			return err
		}
	}
	return nil
}

// skip records a link left out because its other endpoint is missing
func (rc *runContext) skip(level logrus.Level, node graph.NodeRef, relType, label string, match map[string]any) {
	rc.report.Skipped++
	rc.logger.WithFields(logrus.Fields{
		"node":   node.String(),
		"rel":    relType,
		"target": label,
		"match":  match,
	}).Log(level, "link target not found, skipping")
}

// withKey copies props and sets the natural key fields
func withKey(props map[string]any, fields map[string]any) map[string]any {
	out := make(map[string]any, len(props)+len(fields))
	for k, v := range props {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}
