package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/models"
)

func TestAfter(t *testing.T) {
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		stream string
		record Record
		since  *time.Time
		want   bool
	}{
		{"no start date", StreamIssues, Record{"updated_at": "2020-01-01T00:00:00Z"}, nil, true},
		{"newer record", StreamIssues, Record{"updated_at": "2024-03-02T00:00:00Z"}, &since, true},
		{"cursor equal to start", StreamIssues, Record{"updated_at": "2024-03-01T00:00:00Z"}, &since, true},
		{"older record", StreamIssues, Record{"updated_at": "2024-02-01T00:00:00Z"}, &since, false},
		{"full refresh stream", StreamBranches, Record{"updated_at": "2020-01-01T00:00:00Z"}, &since, true},
		{"missing cursor", StreamCommits, Record{"sha": "a"}, &since, true},
		{"unparseable cursor", StreamCommits, Record{"created_at": "yesterday"}, &since, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, After(tt.stream, tt.record, tt.since))
		})
	}
}

func TestValidateStreams(t *testing.T) {
	assert.NoError(t, validateStreams([]string{StreamCommits, StreamBranches}))

	err := validateStreams([]string{"deployments"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnector))
	assert.False(t, errors.IsRetryable(err), "a bad stream configuration cannot be fixed by retrying")

	assert.Error(t, validateStreams(nil))
}

func TestToRecord(t *testing.T) {
	type user struct {
		Login string `json:"login"`
		ID    int64  `json:"id"`
	}
	r, err := ToRecord(user{Login: "ada", ID: 7}, map[string]any{"team_slug": "core"})
	require.NoError(t, err)
	assert.Equal(t, Record{"login": "ada", "id": int64(7), "team_slug": "core"}, r)
}

func TestMemory_Read(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(map[string][]Record{
		StreamIssues: {
			{"id": 1, "updated_at": "2024-01-01T00:00:00Z", "labels": []any{map[string]any{"id": 9}}},
			{"id": 2, "updated_at": "2024-06-01T00:00:00Z"},
		},
		StreamBranches: {{"name": "main"}},
	})

	_, err := m.Read(ctx, nil)
	require.Error(t, err, "read without stream selection")

	require.NoError(t, m.SelectStreams([]string{StreamIssues}))
	since := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out, err := m.Read(ctx, &since)
	require.NoError(t, err)
	require.Len(t, out[StreamIssues], 1)
	assert.Equal(t, 2, out[StreamIssues][0]["id"])
	assert.NotContains(t, out, StreamBranches)

	// Mutating a returned record leaves the fixture intact
	all, err := m.Read(ctx, nil)
	require.NoError(t, err)
	all[StreamIssues][0]["labels"].([]any)[0].(map[string]any)["id"] = 100
	again, err := m.Read(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 9, again[StreamIssues][0]["labels"].([]any)[0].(map[string]any)["id"])

	reads, sinces := m.Reads()
	assert.Equal(t, 4, reads)
	assert.Equal(t, &since, sinces[1])
}

func TestMemory_FailReads(t *testing.T) {
	m := NewMemory(map[string][]Record{StreamBranches: {{"name": "main"}}})
	m.FailReads = 1
	require.NoError(t, m.SelectStreams([]string{StreamBranches}))

	_, err := m.Read(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))

	out, err := m.Read(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, out[StreamBranches], 1)
}

func TestMemoryFactory_IndependentSelection(t *testing.T) {
	m := NewMemory(map[string][]Record{
		StreamBranches: {{"name": "main"}},
		StreamIssues:   {{"id": 1}},
	})
	factory := MemoryFactory(map[string]*Memory{"acme/api": m})

	a, err := factory(models.Target{Organization: "acme", Repository: "acme/api"})
	require.NoError(t, err)
	b, err := factory(models.Target{Organization: "acme", Repository: "acme/api"})
	require.NoError(t, err)

	require.NoError(t, a.SelectStreams([]string{StreamBranches}))
	require.NoError(t, b.SelectStreams([]string{StreamIssues}))

	outA, err := a.Read(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, outA, StreamBranches)
	assert.NotContains(t, outA, StreamIssues)

	_, err = factory(models.Target{Organization: "acme", Repository: "acme/unknown"})
	assert.Error(t, err)
}

func newTestGitHub(t *testing.T, handler http.Handler) *GitHub {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger, _ := test.NewNullLogger()
	g, err := NewGitHub(
		models.Target{Organization: "acme", Repository: "acme/api", Token: "t0ken"},
		ClientOptions{RateLimit: 1000, BaseURL: server.URL + "/"},
		logger,
	)
	require.NoError(t, err)
	return g
}

func TestGitHub_ReadMilestonesAndLabels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/api/milestones", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		assert.Contains(t, r.Header.Get("Authorization"), "t0ken")
		fmt.Fprint(w, `[
			{"id": 11, "number": 1, "title": "v1", "updated_at": "2024-05-01T00:00:00Z"},
			{"id": 12, "number": 2, "title": "v0", "updated_at": "2023-01-01T00:00:00Z"}
		]`)
	})
	mux.HandleFunc("/api/v3/repos/acme/api/labels", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id": 21, "name": "bug", "color": "f00"}]`)
	})
	g := newTestGitHub(t, mux)

	require.NoError(t, g.SelectStreams([]string{StreamIssueMilestones, StreamIssueLabels}))
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out, err := g.Read(context.Background(), &since)
	require.NoError(t, err)

	require.Len(t, out[StreamIssueMilestones], 1)
	milestone := out[StreamIssueMilestones][0]
	assert.Equal(t, int64(11), milestone["id"])
	assert.Equal(t, "acme/api", milestone["repository"])

	require.Len(t, out[StreamIssueLabels], 1)
	assert.Equal(t, "bug", out[StreamIssueLabels][0]["name"])
}

func TestGitHub_ReadTeamMembersCarriesRole(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/orgs/acme/teams", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id": 1, "slug": "core", "name": "Core"}]`)
	})
	mux.HandleFunc("/api/v3/orgs/acme/teams/core/members", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("role") {
		case "maintainer":
			fmt.Fprint(w, `[{"login": "alice", "id": 1}]`)
		case "member":
			fmt.Fprint(w, `[{"login": "bob", "id": 2}]`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	g := newTestGitHub(t, mux)

	require.NoError(t, g.SelectStreams([]string{StreamTeamMembers}))
	out, err := g.Read(context.Background(), nil)
	require.NoError(t, err)

	roles := map[string]any{}
	for _, r := range out[StreamTeamMembers] {
		assert.Equal(t, "core", r["team_slug"])
		roles[r["login"].(string)] = r["role"]
	}
	assert.Equal(t, map[string]any{"alice": "maintainer", "bob": "member"}, roles)
}

func TestGitHub_CheckUnauthorizedIsPermanent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/api", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message": "Bad credentials"}`)
	})
	g := newTestGitHub(t, mux)

	err := g.Check(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnector))
	assert.False(t, errors.IsRetryable(err))
}

func TestGitHub_ServerErrorIsRetryable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/api/labels", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	g := newTestGitHub(t, mux)

	require.NoError(t, g.SelectStreams([]string{StreamIssueLabels}))
	_, err := g.Read(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
}

func TestGitHub_FetchCommitFiles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/api/commits/abc", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sha": "abc", "files": [
			{"sha": "f1", "filename": "main.go", "status": "modified", "additions": 3, "deletions": 1, "changes": 4}
		]}`)
	})
	g := newTestGitHub(t, mux)

	files, err := g.FetchCommitFiles(context.Background(), "acme/api", "abc")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "main.go", files[0]["filename"])
	assert.Equal(t, int64(3), files[0]["additions"])
	assert.Equal(t, "abc", files[0]["commit_sha"])
}

func TestNewGitHub_Validation(t *testing.T) {
	logger, _ := test.NewNullLogger()

	_, err := NewGitHub(models.Target{Organization: "acme", Repository: "api", Token: "x"}, ClientOptions{}, logger)
	assert.Error(t, err)

	_, err = NewGitHub(models.Target{Organization: "acme", Repository: "acme/api"}, ClientOptions{}, logger)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
