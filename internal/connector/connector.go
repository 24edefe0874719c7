// Package connector reads tabular records per named stream from the upstream
// platform. Records are normalized to map[string]any at this boundary.
package connector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/models"
	"github.com/rohankatakam/devgraph/internal/transform"
)

// Record is one row of a stream
type Record = map[string]any

// Connector is the bulk-connector capability used by extractors
type Connector interface {
	// SelectStreams chooses the streams returned by Read
	SelectStreams(streams []string) error

	// Check verifies credentials and stream configuration
	Check(ctx context.Context) error

	// Read fetches every selected stream, restricted to records at or after since
	// when since is set.
	Read(ctx context.Context, since *time.Time) (map[string][]Record, error)
}

// Factory creates the connector of one target. A new connector is created for
// each stage so stream selection is never shared between chains.
type Factory func(target models.Target) (Connector, error)

// FileFetcher fetches per-commit file details on demand
type FileFetcher interface {
	FetchCommitFiles(ctx context.Context, repository, sha string) ([]Record, error)
}

// validateStreams returns a permanent connector error for unknown stream names
func validateStreams(streams []string) error {
	if len(streams) == 0 {
		return errors.New(errors.ErrorTypeConnector, errors.SeverityHigh, "no streams selected").AsPermanent()
	}
	for _, s := range streams {
		if _, ok := Catalog[s]; !ok {
			return errors.New(errors.ErrorTypeConnector, errors.SeverityHigh, "unknown stream "+s).AsPermanent()
		}
	}
	return nil
}

// ToRecord converts an upstream API object to a Record and adds the extra fields.
// Numbers are decoded as int64 where integral.
func ToRecord(v any, extra map[string]any) (Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.MalformedRecordError(err, "cannot encode upstream object")
	}
	decoded, err := transform.ParseEmbedded(string(b))
	if err != nil {
		return nil, err
	}
	record, ok := decoded.(map[string]any)
	if !ok {
		return nil, errors.MalformedRecordErrorf("upstream object is %T, want object", decoded)
	}
	for k, val := range extra {
		record[k] = val
	}
	return record, nil
}
