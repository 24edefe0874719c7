package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/models"
	"github.com/rohankatakam/devgraph/internal/transform"
)

// relationalSchema is valid for both Postgres and SQLite. Timestamps are stored as
// RFC 3339 text so both drivers round-trip them identically.
const relationalSchema = `
CREATE TABLE IF NOT EXISTS graph_nodes (
	label TEXT NOT NULL,
	node_key TEXT NOT NULL,
	properties TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (label, node_key)
);

CREATE TABLE IF NOT EXISTS graph_relationships (
	from_label TEXT NOT NULL,
	from_key TEXT NOT NULL,
	rel_type TEXT NOT NULL,
	to_label TEXT NOT NULL,
	to_key TEXT NOT NULL,
	properties TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (from_label, from_key, rel_type, to_label, to_key)
);

CREATE INDEX IF NOT EXISTS idx_graph_relationships_type ON graph_relationships(rel_type);
CREATE INDEX IF NOT EXISTS idx_graph_relationships_to ON graph_relationships(to_label, to_key);

CREATE TABLE IF NOT EXISTS graph_configurations (
	organization TEXT NOT NULL,
	repository TEXT NOT NULL,
	domain TEXT NOT NULL,
	last_retrieve_date TEXT NOT NULL,
	PRIMARY KEY (organization, repository, domain)
);
`

// lookupProperties are the non-key node properties extractors match on
var lookupProperties = []string{"slug", "url", "repository", "number"}

// RelationalSink implements Sink on two tables: graph_nodes and graph_relationships.
// Properties are a JSON document merged in Go inside the upsert transaction: the row
// is inserted empty if absent, then locked, merged and updated.
type RelationalSink struct {
	db     *sqlx.DB
	logger logrus.FieldLogger
}

type nodeRow struct {
	Label      string `db:"label"`
	NodeKey    string `db:"node_key"`
	Properties string `db:"properties"`
}

type relationshipRow struct {
	FromLabel  string `db:"from_label"`
	FromKey    string `db:"from_key"`
	RelType    string `db:"rel_type"`
	ToLabel    string `db:"to_label"`
	ToKey      string `db:"to_key"`
	Properties string `db:"properties"`
}

// NewRelationalSink opens driverName ("postgres" or "sqlite3") and creates the schema
func NewRelationalSink(ctx context.Context, driverName, dsn string, logger logrus.FieldLogger) (*RelationalSink, error) {
	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, errors.StoreErrorf(err, "failed to open %s store", driverName)
	}
	if driverName == "sqlite3" {
		// One connection serializes writers; an in-memory database also exists only per connection
		db.SetMaxOpenConns(1)
	}
	return NewRelationalSinkFromDB(ctx, db, logger)
}

// NewRelationalSinkFromDB wraps an open connection pool and creates the schema
func NewRelationalSinkFromDB(ctx context.Context, db *sqlx.DB, logger logrus.FieldLogger) (*RelationalSink, error) {
	if _, err := db.ExecContext(ctx, relationalSchema); err != nil {
		return nil, errors.StoreError(err, "failed to create graph schema")
	}
	logger = logger.WithFields(logrus.Fields{"component": "relational_sink", "driver": db.DriverName()})
	s := &RelationalSink{db: db, logger: logger}
	if _, err := db.ExecContext(ctx, s.lookupIndexes()); err != nil {
		return nil, errors.StoreError(err, "failed to create lookup indexes")
	}
	logger.Debug("graph schema ready")
	return s, nil
}

// DB exposes the connection pool to components sharing the store (dead-letter queue)
func (s *RelationalSink) DB() *sqlx.DB {
	return s.db
}

// UpsertNode merges props into the (label, key) row
func (s *RelationalSink) UpsertNode(ctx context.Context, label, keyField string, props map[string]any) (NodeRef, error) {
	key, err := KeyOf(keyField, props)
	if err != nil {
		return NodeRef{}, err
	}

	var merged map[string]any
	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		now := timestamp(time.Now())
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO graph_nodes (label, node_key, properties, created_at, updated_at)
			VALUES (?, ?, '{}', ?, ?)
			ON CONFLICT (label, node_key) DO NOTHING`),
			label, key, now, now); err != nil {
			return err
		}

		var existing string
		query := tx.Rebind(`SELECT properties FROM graph_nodes WHERE label = ? AND node_key = ?` + s.lockClause())
		if err := tx.GetContext(ctx, &existing, query, label, key); err != nil {
			return err
		}
		var err error
		if merged, err = decodeProperties(existing); err != nil {
			return err
		}
		for k, v := range props {
			merged[k] = v
		}
		merged[keyField] = key

		encoded, err := encodeProperties(merged)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE graph_nodes SET properties = ?, updated_at = ?
			WHERE label = ? AND node_key = ?`),
			encoded, now, label, key)
		return err
	})
	if err != nil {
		return NodeRef{}, wrapStoreError(err, "upsert node %s:%s", label, key)
	}
	return NodeRef{Label: label, KeyField: keyField, Key: key, Properties: merged}, nil
}

// UpsertRelationship merges the (from, type, to) row after checking both endpoints exist
func (s *RelationalSink) UpsertRelationship(ctx context.Context, from NodeRef, relType string, to NodeRef, props map[string]any) (RelRef, error) {
	if !isValidIdentifier(relType) {
		return RelRef{}, errors.ValidationErrorf("invalid relationship type: %s", relType)
	}

	var merged map[string]any
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, end := range []NodeRef{from, to} {
			var n int
			if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM graph_nodes WHERE label = ? AND node_key = ?`), end.Label, end.Key); err != nil {
				return err
			}
			if n == 0 {
				return errors.MissingReferenceErrorf("cannot link %s -[%s]-> %s: %s not found", from, relType, to, end)
			}
		}

		now := timestamp(time.Now())
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO graph_relationships (from_label, from_key, rel_type, to_label, to_key, properties, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, '{}', ?, ?)
			ON CONFLICT (from_label, from_key, rel_type, to_label, to_key) DO NOTHING`),
			from.Label, from.Key, relType, to.Label, to.Key, now, now); err != nil {
			return err
		}

		var existing string
		if err := tx.GetContext(ctx, &existing, tx.Rebind(`
			SELECT properties FROM graph_relationships
			WHERE from_label = ? AND from_key = ? AND rel_type = ? AND to_label = ? AND to_key = ?`+s.lockClause()),
			from.Label, from.Key, relType, to.Label, to.Key); err != nil {
			return err
		}
		var err error
		if merged, err = decodeProperties(existing); err != nil {
			return err
		}
		for k, v := range props {
			merged[k] = v
		}

		encoded, err := encodeProperties(merged)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE graph_relationships SET properties = ?, updated_at = ?
			WHERE from_label = ? AND from_key = ? AND rel_type = ? AND to_label = ? AND to_key = ?`),
			encoded, now, from.Label, from.Key, relType, to.Label, to.Key)
		return err
	})
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeMissingReference) {
			return RelRef{}, err
		}
		return RelRef{}, wrapStoreError(err, "upsert relationship %s -[%s]-> %s", from, relType, to)
	}
	return RelRef{From: from, Type: relType, To: to, Properties: merged}, nil
}

// GetNode looks the node up by key when match carries the label's key field.
// Otherwise the match is pushed into SQL on the JSON properties and the rows found
// are checked again in Go, which compares every value by its string form.
func (s *RelationalSink) GetNode(ctx context.Context, label string, match map[string]any) (*NodeRef, error) {
	keyField := models.KeyField(label)

	var rows []nodeRow
	var err error
	if _, ok := match[keyField]; ok {
		key, keyErr := KeyOf(keyField, match)
		if keyErr != nil {
			return nil, keyErr
		}
		err = s.db.SelectContext(ctx, &rows, s.db.Rebind(
			`SELECT label, node_key, properties FROM graph_nodes WHERE label = ? AND node_key = ?`), label, key)
	} else {
		where, args := s.propertyFilter(match)
		err = s.db.SelectContext(ctx, &rows, s.db.Rebind(
			`SELECT label, node_key, properties FROM graph_nodes WHERE label = ?`+where+` ORDER BY node_key`),
			append([]any{label}, args...)...)
	}
	if err != nil {
		return nil, wrapStoreError(err, "lookup %s", label)
	}

	for _, row := range rows {
		props, err := decodeProperties(row.Properties)
		if err != nil {
			return nil, wrapStoreError(err, "decode %s:%s", row.Label, row.NodeKey)
		}
		if matches(props, match) {
			node := ref(row.Label, row.NodeKey, props)
			return &node, nil
		}
	}
	return nil, nil
}

// propertyFilter turns match into SQL conditions on the JSON properties. Values that
// cannot be compared in SQL are left to the Go filter.
func (s *RelationalSink) propertyFilter(match map[string]any) (string, []any) {
	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var where strings.Builder
	var args []any
	for _, k := range keys {
		if !isValidIdentifier(k) {
			continue
		}
		v := match[k]
		if s.db.DriverName() == "postgres" {
			// ->> renders strings unquoted and numbers in their JSON form
			if _, ok := sqlComparable(v); !ok {
				continue
			}
			where.WriteString(" AND " + s.jsonProperty(k) + " = ?")
			args = append(args, transform.ToString(v))
			continue
		}
		// json_extract keeps the JSON type, so integers may be stored as numbers or text
		n, ok := sqlComparable(v)
		switch {
		case !ok:
		case n != nil:
			where.WriteString(" AND " + s.jsonProperty(k) + " IN (?, ?)")
			args = append(args, *n, transform.ToString(v))
		default:
			where.WriteString(" AND " + s.jsonProperty(k) + " = ?")
			args = append(args, v)
		}
	}
	return where.String(), args
}

// jsonProperty is the SQL expression reading one top-level property. It must match
// the expression of the lookup indexes for them to be used.
func (s *RelationalSink) jsonProperty(key string) string {
	if s.db.DriverName() == "postgres" {
		return "(properties::jsonb ->> '" + key + "')"
	}
	return "json_extract(properties, '$." + key + "')"
}

// sqlComparable reports whether v is a string or an integer, returning the integer
func sqlComparable(v any) (*int64, bool) {
	switch val := v.(type) {
	case string:
		return nil, true
	case int:
		n := int64(val)
		return &n, true
	case int32:
		n := int64(val)
		return &n, true
	case int64:
		return &val, true
	case float64:
		if val != float64(int64(val)) {
			return nil, false
		}
		n := int64(val)
		return &n, true
	default:
		return nil, false
	}
}

// lookupIndexes cover the non-key properties extractors link by
func (s *RelationalSink) lookupIndexes() string {
	var ddl strings.Builder
	for _, prop := range lookupProperties {
		fmt.Fprintf(&ddl, "CREATE INDEX IF NOT EXISTS idx_graph_nodes_%s ON graph_nodes (label, %s);\n", prop, s.jsonProperty(prop))
	}
	return ddl.String()
}

// GetConfiguration reads the checkpoint row of (target, domain)
func (s *RelationalSink) GetConfiguration(ctx context.Context, target models.Target, domain string) (*models.Checkpoint, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, s.db.Rebind(`
		SELECT last_retrieve_date FROM graph_configurations
		WHERE organization = ? AND repository = ? AND domain = ?`),
		target.Organization, target.Repository, domain)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(err, "read configuration %s", models.ConfigurationKey(target, domain))
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, errors.MalformedRecordError(err, "invalid last_retrieve_date for "+models.ConfigurationKey(target, domain))
	}
	return &models.Checkpoint{
		Organization:     target.Organization,
		Repository:       target.Repository,
		Domain:           domain,
		LastRetrieveDate: ts,
	}, nil
}

// SaveConfiguration replaces the checkpoint row of (target, domain)
func (s *RelationalSink) SaveConfiguration(ctx context.Context, target models.Target, domain string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO graph_configurations (organization, repository, domain, last_retrieve_date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (organization, repository, domain) DO UPDATE SET
			last_retrieve_date = excluded.last_retrieve_date`),
		target.Organization, target.Repository, domain, timestamp(ts))
	if err != nil {
		return wrapStoreError(err, "save configuration %s", models.ConfigurationKey(target, domain))
	}
	return nil
}

// CountNodes returns the number of nodes of label, or of every label when label is ""
func (s *RelationalSink) CountNodes(ctx context.Context, label string) (int, error) {
	var n int
	var err error
	if label == "" {
		err = s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM graph_nodes`)
	} else {
		err = s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM graph_nodes WHERE label = ?`), label)
	}
	if err != nil {
		return 0, wrapStoreError(err, "count nodes %s", label)
	}
	return n, nil
}

// CountRelationships returns the number of relationships of relType, or of every type when relType is ""
func (s *RelationalSink) CountRelationships(ctx context.Context, relType string) (int, error) {
	var n int
	var err error
	if relType == "" {
		err = s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM graph_relationships`)
	} else {
		err = s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM graph_relationships WHERE rel_type = ?`), relType)
	}
	if err != nil {
		return 0, wrapStoreError(err, "count relationships %s", relType)
	}
	return n, nil
}

// Neighbors returns the targets of relType relationships leaving from, ordered by key
func (s *RelationalSink) Neighbors(ctx context.Context, from NodeRef, relType string) ([]NodeRef, error) {
	var rows []nodeRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT n.label, n.node_key, n.properties
		FROM graph_relationships r
		JOIN graph_nodes n ON n.label = r.to_label AND n.node_key = r.to_key
		WHERE r.from_label = ? AND r.from_key = ? AND r.rel_type = ?
		ORDER BY n.node_key`),
		from.Label, from.Key, relType)
	if err != nil {
		return nil, wrapStoreError(err, "neighbors of %s", from)
	}

	out := make([]NodeRef, 0, len(rows))
	for _, row := range rows {
		props, err := decodeProperties(row.Properties)
		if err != nil {
			return nil, wrapStoreError(err, "decode %s:%s", row.Label, row.NodeKey)
		}
		out = append(out, ref(row.Label, row.NodeKey, props))
	}
	return out, nil
}

// Relationship returns the stored properties of (from, type, to), or nil
func (s *RelationalSink) Relationship(ctx context.Context, from NodeRef, relType string, to NodeRef) (*RelRef, error) {
	var row relationshipRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT from_label, from_key, rel_type, to_label, to_key, properties
		FROM graph_relationships
		WHERE from_label = ? AND from_key = ? AND rel_type = ? AND to_label = ? AND to_key = ?`),
		from.Label, from.Key, relType, to.Label, to.Key)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError(err, "read relationship %s -[%s]-> %s", from, relType, to)
	}
	props, err := decodeProperties(row.Properties)
	if err != nil {
		return nil, wrapStoreError(err, "decode relationship")
	}
	return &RelRef{From: from, Type: relType, To: to, Properties: props}, nil
}

// LabelCounts returns the node count per label, for the stats command
func (s *RelationalSink) LabelCounts(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Label string `db:"label"`
		Count int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT label, COUNT(*) AS count FROM graph_nodes GROUP BY label`); err != nil {
		return nil, wrapStoreError(err, "count labels")
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Label] = r.Count
	}
	return out, nil
}

// Close closes the connection pool
func (s *RelationalSink) Close(ctx context.Context) error {
	if err := s.db.Close(); err != nil {
		return errors.StoreError(err, "failed to close relational store")
	}
	return nil
}

func (s *RelationalSink) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// lockClause locks the row being merged where the driver supports it
func (s *RelationalSink) lockClause() string {
	if s.db.DriverName() == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}

func encodeProperties(props map[string]any) (string, error) {
	b, err := json.Marshal(props)
	if err != nil {
		return "", errors.MalformedRecordError(err, "properties are not JSON-safe")
	}
	return string(b), nil
}

func decodeProperties(raw string) (map[string]any, error) {
	decoded, err := transform.ParseEmbedded(raw)
	if err != nil {
		return nil, err
	}
	props, ok := decoded.(map[string]any)
	if !ok {
		return nil, errors.MalformedRecordErrorf("properties are %T, want object", decoded)
	}
	return props, nil
}

func matches(props, match map[string]any) bool {
	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !sameValue(props[k], match[k]) {
			return false
		}
	}
	return true
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// wrapStoreError keeps taxonomy errors as they are and wraps driver errors as retryable store errors
func wrapStoreError(err error, format string, args ...interface{}) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return err
	}
	return errors.StoreErrorf(err, format, args...)
}

var _ Sink = (*RelationalSink)(nil)
