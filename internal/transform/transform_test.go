package transform

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/devgraph/internal/errors"
)

func TestTransform_FlattensAndNullsNaN(t *testing.T) {
	raw := map[string]any{"a": map[string]any{"b": 1, "c": math.NaN()}}

	first := Transform(raw)
	assert.Equal(t, map[string]any{"a.b": 1, "a.c": nil}, first)

	// Idempotent: transforming the flat output is a no-op
	second := Transform(first)
	assert.Equal(t, first, second)
}

func TestTransform(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  map[string]any
		want map[string]any
	}{
		{
			name: "drops connector metadata",
			raw: map[string]any{
				"_airbyte_raw_id":       "x",
				"_airbyte_extracted_at": "y",
				"_connector_stream":     "commits",
				"sha":                   "abc",
			},
			want: map[string]any{"sha": "abc"},
		},
		{
			name: "keeps lists for the caller",
			raw: map[string]any{
				"labels": []any{map[string]any{"id": 1.0, "name": "bug"}},
			},
			want: map[string]any{
				"labels": []any{map[string]any{"id": 1.0, "name": "bug"}},
			},
		},
		{
			name: "deep nesting",
			raw: map[string]any{
				"commit": map[string]any{
					"author": map[string]any{"name": "Ada", "date": "2024-01-01"},
				},
			},
			want: map[string]any{"commit.author.name": "Ada", "commit.author.date": "2024-01-01"},
		},
		{
			name: "infinite floats become null",
			raw:  map[string]any{"ratio": math.Inf(1), "score": 0.5},
			want: map[string]any{"ratio": nil, "score": 0.5},
		},
		{
			name: "times are formatted",
			raw:  map[string]any{"created_at": ts},
			want: map[string]any{"created_at": "2024-03-01T12:00:00Z"},
		},
		{
			name: "unknown types are stringified",
			raw:  map[string]any{"size": uint64(42)},
			want: map[string]any{"size": "42"},
		},
		{
			name: "nested metadata-looking keys are kept",
			raw:  map[string]any{"meta": map[string]any{"_airbyte": "kept"}},
			want: map[string]any{"meta._airbyte": "kept"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Transform(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Transform(got), "transform must be idempotent")
		})
	}
}

func TestIsAbsent(t *testing.T) {
	var nilString *string
	assert.True(t, IsAbsent(nil))
	assert.True(t, IsAbsent(math.NaN()))
	assert.True(t, IsAbsent(float32(math.Inf(-1))))
	assert.True(t, IsAbsent(nilString))
	assert.False(t, IsAbsent(""))
	assert.False(t, IsAbsent(0))
	assert.False(t, IsAbsent(false))
}

func TestProperties_DropsRelationshipLists(t *testing.T) {
	flat := map[string]any{
		"title":     "Fix login",
		"assignees": []any{map[string]any{"login": "ada"}},
		"tags":      []any{"a", nil, "b"},
	}

	props := Properties(flat)
	assert.Equal(t, "Fix login", props["title"])
	assert.NotContains(t, props, "assignees")
	assert.Equal(t, []any{"a", "b"}, props["tags"])
}

func TestAccessors(t *testing.T) {
	record := map[string]any{
		"id":        12345.0,
		"number":    "7",
		"title":     "Add parser",
		"milestone": `{"id": 99, "title": "v1"}`,
		"labels":    `[{"id": 1, "name": "bug"}]`,
		"user":      map[string]any{"login": "ada"},
		"broken":    `{"id": `,
		"nan":       math.NaN(),
	}

	assert.Equal(t, "12345", String(record, "id"))
	assert.Equal(t, "", String(record, "nan"))
	assert.Equal(t, "", String(record, "missing"))

	n, ok := Int64(record, "number")
	require.True(t, ok)
	assert.Equal(t, int64(7), n)

	milestone, err := Map(record, "milestone")
	require.NoError(t, err)
	assert.Equal(t, int64(99), milestone["id"])

	user, err := Map(record, "user")
	require.NoError(t, err)
	assert.Equal(t, "ada", user["login"])

	labels, err := Slice(record, "labels")
	require.NoError(t, err)
	require.Len(t, labels, 1)
	assert.Equal(t, "bug", labels[0]["name"])

	single, err := Slice(record, "user")
	require.NoError(t, err)
	assert.Len(t, single, 1)

	_, err = Map(record, "broken")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeMalformedRecord))

	missing, err := Map(record, "missing")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}
