package resolver

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/devgraph/internal/graph"
	"github.com/rohankatakam/devgraph/internal/models"
)

func setupResolver(t *testing.T) (*Resolver, *graph.RelationalSink) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	sink, err := graph.NewRelationalSink(context.Background(), "sqlite3", ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close(context.Background()) })
	return New(sink, logger), sink
}

func TestResolve_Miss(t *testing.T) {
	r, _ := setupResolver(t)

	node, err := r.Resolve(context.Background(), models.LabelMilestone, map[string]any{"id": "404"})
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestResolveOrPlaceholder(t *testing.T) {
	ctx := context.Background()
	r, sink := setupResolver(t)
	url := "https://api.github.com/repos/acme/api/pulls/7"

	node, created, err := r.ResolveOrPlaceholder(ctx, models.LabelPullRequest,
		map[string]any{"url": url}, url, map[string]any{"url": url})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, url, node.Key)
	assert.True(t, node.Bool(PropProblem))
	assert.True(t, node.Bool(PropIncomplete))

	// A second reference finds the placeholder instead of creating another
	again, created, err := r.ResolveOrPlaceholder(ctx, models.LabelPullRequest,
		map[string]any{"url": url}, url, map[string]any{"url": url})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, node.Key, again.Key)

	count, err := sink.CountNodes(ctx, models.LabelPullRequest)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestResolveOrPlaceholder_ExistingNode(t *testing.T) {
	ctx := context.Background()
	r, sink := setupResolver(t)
	url := "https://api.github.com/repos/acme/api/pulls/8"

	_, err := sink.UpsertNode(ctx, models.LabelPullRequest, "id", map[string]any{"id": "555", "url": url})
	require.NoError(t, err)

	node, created, err := r.ResolveOrPlaceholder(ctx, models.LabelPullRequest,
		map[string]any{"url": url}, url, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "555", node.Key)
	assert.False(t, node.Bool(PropProblem))
}

func TestResolvePerson(t *testing.T) {
	ctx := context.Background()
	r, sink := setupResolver(t)

	org, err := r.Organization(ctx, "acme")
	require.NoError(t, err)

	user := map[string]any{"login": "ada", "type": "User", "site_admin": false}
	person, err := r.ResolvePerson(ctx, user, org)
	require.NoError(t, err)
	require.NotNil(t, person)
	assert.Equal(t, "ada", person.Key)
	assert.Equal(t, "ada", person.Properties["name"])
	assert.False(t, person.Bool(PropProblem), "persons built from a payload are full entities")

	orgs, err := sink.Neighbors(ctx, *person, models.RelPresentIn)
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, "acme", orgs[0].Key)

	// Resolving again reuses the node
	_, err = r.ResolvePerson(ctx, map[string]any{"login": "ada", "name": "Ada"}, org)
	require.NoError(t, err)
	count, err := sink.CountNodes(ctx, models.LabelPerson)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	none, err := r.ResolvePerson(ctx, map[string]any{"name": "ghost"}, org)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestOrganization_Idempotent(t *testing.T) {
	ctx := context.Background()
	r, sink := setupResolver(t)

	for i := 0; i < 3; i++ {
		org, err := r.Organization(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, "acme", org.Key)
	}
	count, err := sink.CountNodes(ctx, models.LabelOrganization)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = r.Organization(ctx, "")
	assert.Error(t, err)
}
