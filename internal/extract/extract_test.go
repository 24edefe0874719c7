package extract

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/devgraph/internal/checkpoint"
	"github.com/rohankatakam/devgraph/internal/connector"
	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/graph"
	"github.com/rohankatakam/devgraph/internal/models"
	"github.com/rohankatakam/devgraph/internal/resolver"
)

const apiPulls = "https://api.github.com/repos/acme/api/pulls/"

// orgTeams keeps an organization's team identical across its repositories' fixtures
var orgTeams = map[string]int{"acme": 1, "globex": 5001}

// fixture returns one repository's streams with upstream ids offset by base.
// Cursor fields lie in the future so a second run re-reads every record.
func fixture(org, repo string, base int) map[string][]connector.Record {
	pulls := "https://api.github.com/repos/" + repo + "/pulls/"
	updated := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	commit := func(sha string, parents ...string) connector.Record {
		list := make([]any, 0, len(parents))
		for _, p := range parents {
			list = append(list, map[string]any{"sha": p})
		}
		return connector.Record{
			"sha":        sha,
			"repository": repo,
			"branch":     "main",
			"created_at": updated,
			"commit": map[string]any{
				"message": "change " + sha,
				"author":  map[string]any{"name": "Alice", "date": updated},
			},
			"author":    map[string]any{"login": "alice"},
			"committer": map[string]any{"login": "bob"},
			"parents":   list,
		}
	}

	return map[string][]connector.Record{
		connector.StreamTeams: {
			{"id": orgTeams[org], "slug": "core", "name": "Core", "organization": org},
		},
		connector.StreamTeamMembers: {
			{"login": "alice", "organization": org, "team_slug": "core", "role": "maintainer", "site_admin": false},
			{"login": "bob", "organization": org, "team_slug": "ghost", "role": "member"},
		},
		connector.StreamProjects: {
			{"id": base + 10, "name": "Roadmap", "repository": repo, "updated_at": updated},
		},
		connector.StreamRepositories: {
			{"id": base + 100, "full_name": repo, "name": "api"},
		},
		connector.StreamBranches: {
			{"name": "main", "repository": repo},
		},
		// Children before parents: linking must not depend on order
		connector.StreamCommits: {
			commit("ccc", "bbb"),
			commit("bbb", "aaa"),
			commit("aaa", "zzz"),
		},
		connector.StreamIssueLabels: {
			{"id": base + 500, "name": "bug", "repository": repo},
		},
		connector.StreamPullRequests: {
			{
				"id":                  base + 200,
				"number":              7,
				"url":                 pulls + "7",
				"title":               "Fix login",
				"repository":          repo,
				"updated_at":          updated,
				"user":                map[string]any{"login": "alice"},
				"assignees":           []any{map[string]any{"login": "bob"}},
				"requested_reviewers": []any{map[string]any{"login": "carol"}},
				"labels":              []any{map[string]any{"id": base + 500}},
				"milestone":           map[string]any{"id": base + 900},
				"merge_commit_sha":    "ccc",
			},
		},
		connector.StreamPullRequestCommits: {
			{"sha": "ccc", "repository": repo, "pull_number": 7},
			{"sha": "ccc", "repository": repo, "pull_number": 70},
		},
		connector.StreamIssues: {
			{
				"id":           base + 300,
				"number":       8,
				"repository":   repo,
				"updated_at":   updated,
				"user":         map[string]any{"login": "bob"},
				"labels":       []any{map[string]any{"id": base + 500}},
				"milestone":    map[string]any{"id": base + 900},
				"pull_request": map[string]any{"url": pulls + "7"},
			},
			{
				"id":           base + 301,
				"number":       9,
				"repository":   repo,
				"updated_at":   updated,
				"user":         map[string]any{"login": "dave"},
				"pull_request": map[string]any{"url": pulls + "99"},
			},
		},
		connector.StreamIssueMilestones: {
			{"id": base + 900, "title": "v1", "repository": repo, "updated_at": updated},
		},
	}
}

type harness struct {
	sink     *graph.RelationalSink
	memories map[string]*connector.Memory
	deps     Deps
	hook     *test.Hook
}

func newHarness(t *testing.T, targets ...models.Target) *harness {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	sink, err := graph.NewRelationalSink(context.Background(), "sqlite3", ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close(context.Background()) })

	memories := map[string]*connector.Memory{}
	for i, target := range targets {
		memories[target.Repository] = connector.NewMemory(fixture(target.Organization, target.Repository, i*1000))
	}
	return &harness{
		sink:     sink,
		memories: memories,
		hook:     hook,
		deps: Deps{
			Sink:        sink,
			Connectors:  connector.MemoryFactory(memories),
			Checkpoints: checkpoint.NewTracker(sink, logger),
			Logger:      logger,
		},
	}
}

func (h *harness) run(t *testing.T, domain string, target models.Target) *RunReport {
	t.Helper()
	e, err := ForDomain(domain, h.deps)
	require.NoError(t, err)
	report, err := e.Run(context.Background(), target)
	require.NoError(t, err)
	require.Equal(t, StateDone, report.State())
	return report
}

func (h *harness) chain(t *testing.T, target models.Target) {
	t.Helper()
	for _, domain := range models.ChainOrder {
		h.run(t, domain, target)
	}
}

func (h *harness) neighbors(t *testing.T, from graph.NodeRef, rel string) []string {
	t.Helper()
	nodes, err := h.sink.Neighbors(context.Background(), from, rel)
	require.NoError(t, err)
	keys := make([]string, 0, len(nodes))
	for _, n := range nodes {
		keys = append(keys, n.String())
	}
	return keys
}

// snapshot counts nodes per label and relationships per type
func (h *harness) snapshot(t *testing.T) (map[string]int, map[string]int) {
	t.Helper()
	ctx := context.Background()
	labels, err := h.sink.LabelCounts(ctx)
	require.NoError(t, err)
	rels := map[string]int{}
	for _, rel := range []string{
		models.RelHas, models.RelCreatedBy, models.RelCommittedBy, models.RelAssignedTo,
		models.RelReviewedBy, models.RelLabeled, models.RelMerged, models.RelIsParent,
		models.RelPresentIn, models.RelAllocates, models.RelAllocated, models.RelDoneFor,
		models.RelComposedOf, models.RelCommittedIn,
	} {
		n, err := h.sink.CountRelationships(ctx, rel)
		require.NoError(t, err)
		rels[rel] = n
	}
	return labels, rels
}

// withHistory adds to repo's fixture a commit older than any checkpoint a run writes
func (h *harness) withHistory(t *testing.T, target models.Target, base int) {
	t.Helper()
	data := fixture(target.Organization, target.Repository, base)
	data[connector.StreamCommits] = append(data[connector.StreamCommits], connector.Record{
		"sha":        "old",
		"repository": target.Repository,
		"created_at": "2020-01-01T00:00:00Z",
		"commit":     map[string]any{"message": "initial import"},
		"author":     map[string]any{"login": "alice"},
	})
	h.memories[target.Repository] = connector.NewMemory(data)
}

var acme = models.Target{Organization: "acme", Repository: "acme/api"}

func TestChain_BuildsGraph(t *testing.T) {
	h := newHarness(t, acme)
	h.chain(t, acme)

	org := graph.Ref(models.LabelOrganization, "acme")
	repo := graph.Ref(models.LabelSourceRepository, "acme/api")
	team := graph.Ref(models.LabelTeam, "1")
	member := graph.Ref(models.LabelTeamMember, models.TeamMemberKey("alice", "core"))
	alice := graph.Ref(models.LabelPerson, "alice")
	pr := graph.Ref(models.LabelPullRequest, "200")
	issue := graph.Ref(models.LabelDevelopmentTask, "300")
	milestone := graph.Ref(models.LabelMilestone, "900")
	ccc := graph.Ref(models.LabelCommit, models.CommitKey("ccc", "acme/api"))

	assert.ElementsMatch(t, []string{"Team:1", "Project:10", "SourceRepository:acme/api"}, h.neighbors(t, org, models.RelHas))
	assert.Equal(t, []string{member.String()}, h.neighbors(t, team, models.RelComposedOf))
	assert.Equal(t, []string{team.String()}, h.neighbors(t, member, models.RelDoneFor))
	assert.Equal(t, []string{alice.String()}, h.neighbors(t, member, models.RelAllocates))
	assert.Equal(t, []string{member.String()}, h.neighbors(t, alice, models.RelAllocated))
	assert.Equal(t, []string{"Organization:acme"}, h.neighbors(t, alice, models.RelPresentIn))
	assert.Equal(t, []string{"Organization:acme"}, h.neighbors(t, graph.Ref(models.LabelPerson, "bob"), models.RelPresentIn),
		"membership of a missing team still places the person in the organization")

	membership, err := h.sink.GetNode(context.Background(), models.LabelTeamMember, map[string]any{"id": member.Key})
	require.NoError(t, err)
	require.NotNil(t, membership)
	assert.Equal(t, "maintainer", membership.Properties["role"])
	person, err := h.sink.GetNode(context.Background(), models.LabelPerson, map[string]any{"id": "alice"})
	require.NoError(t, err)
	require.NotNil(t, person)
	assert.Equal(t, "alice", person.Properties["name"])
	assert.NotContains(t, person.Properties, "role")
	assert.NotContains(t, person.Properties, "team_slug")
	assert.Equal(t, []string{repo.String()}, h.neighbors(t, graph.Ref(models.LabelProject, "10"), models.RelHas))

	assert.Contains(t, h.neighbors(t, repo, models.RelHas), ccc.String())
	assert.Contains(t, h.neighbors(t, graph.Ref(models.LabelBranch, models.BranchKey("main", "acme/api")), models.RelHas), ccc.String())
	assert.Equal(t, []string{alice.String()}, h.neighbors(t, ccc, models.RelCreatedBy))
	assert.Equal(t, []string{"Person:bob"}, h.neighbors(t, ccc, models.RelCommittedBy))

	assert.Equal(t, []string{"Label:500"}, h.neighbors(t, pr, models.RelLabeled))
	assert.Equal(t, []string{ccc.String()}, h.neighbors(t, pr, models.RelMerged))
	assert.Equal(t, []string{"Person:carol"}, h.neighbors(t, pr, models.RelReviewedBy))
	assert.Equal(t, []string{"Person:bob"}, h.neighbors(t, pr, models.RelAssignedTo))
	assert.Equal(t, []string{pr.String()}, h.neighbors(t, ccc, models.RelCommittedIn))
	assert.Contains(t, h.neighbors(t, pr, models.RelHas), issue.String())
	assert.Equal(t, []string{"Label:500"}, h.neighbors(t, issue, models.RelLabeled))

	// Milestones load after issues, so the issue link only appears on the next run
	assert.Empty(t, h.neighbors(t, milestone, models.RelHas))
	assert.Contains(t, h.neighbors(t, repo, models.RelHas), milestone.String())

	node, err := h.sink.GetNode(context.Background(), models.LabelCommit, map[string]any{"id": ccc.Key})
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "change ccc", node.Properties["message"])
	assert.Equal(t, "ccc", node.Properties["sha"])
}

func TestChain_Idempotent(t *testing.T) {
	h := newHarness(t, acme)

	// The first pass leaves cross-domain links for the second one
	h.chain(t, acme)
	h.chain(t, acme)
	labels, rels := h.snapshot(t)

	h.chain(t, acme)
	labelsAgain, relsAgain := h.snapshot(t)

	assert.Equal(t, labels, labelsAgain)
	assert.Equal(t, rels, relsAgain)
	assert.Equal(t, 3, labels[models.LabelCommit])
	assert.Equal(t, 1, labels[models.LabelSourceRepository])

	// The second pass finds the milestone written by the first
	assert.Equal(t, []string{"DevelopmentTask:300"}, h.neighbors(t, graph.Ref(models.LabelMilestone, "900"), models.RelHas))
}

func TestSocial_MissingMilestoneSkipped(t *testing.T) {
	h := newHarness(t, acme)
	h.run(t, models.DomainCode, acme)
	report := h.run(t, models.DomainSocial, acme)

	assert.Positive(t, report.Skipped)
	count, err := h.sink.CountNodes(context.Background(), models.LabelDevelopmentTask)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var warned bool
	for _, entry := range h.hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["target"] == models.LabelMilestone {
			warned = true
		}
	}
	assert.True(t, warned, "missing milestone should be logged as a warning")
}

func TestSocial_PlaceholderPullRequest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, acme)
	h.run(t, models.DomainCode, acme)
	report := h.run(t, models.DomainSocial, acme)

	assert.Equal(t, 1, report.Placeholders)

	placeholder, err := h.sink.GetNode(ctx, models.LabelPullRequest, map[string]any{"id": apiPulls + "99"})
	require.NoError(t, err)
	require.NotNil(t, placeholder)
	assert.True(t, placeholder.Bool(resolver.PropProblem))
	assert.True(t, placeholder.Bool(resolver.PropIncomplete))
	assert.Equal(t, []string{"DevelopmentTask:301"}, h.neighbors(t, *placeholder, models.RelHas))

	// The real pull request is not marked
	merged, err := h.sink.GetNode(ctx, models.LabelPullRequest, map[string]any{"id": "200"})
	require.NoError(t, err)
	require.NotNil(t, merged)
	assert.False(t, merged.Bool(resolver.PropProblem))

	// A commit linked to an unknown pull request number is skipped
	assert.Len(t, h.neighbors(t, graph.Ref(models.LabelCommit, models.CommitKey("ccc", "acme/api")), models.RelCommittedIn), 1)
}

func TestCode_ParentChain(t *testing.T) {
	h := newHarness(t, acme)
	report := h.run(t, models.DomainCode, acme)

	key := func(sha string) graph.NodeRef {
		return graph.Ref(models.LabelCommit, models.CommitKey(sha, "acme/api"))
	}
	assert.Equal(t, []string{key("bbb").String()}, h.neighbors(t, key("aaa"), models.RelIsParent))
	assert.Equal(t, []string{key("ccc").String()}, h.neighbors(t, key("bbb"), models.RelIsParent))
	assert.Empty(t, h.neighbors(t, key("ccc"), models.RelIsParent))

	n, err := h.sink.CountRelationships(context.Background(), models.RelIsParent)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "parent zzz is outside the window")
	assert.Positive(t, report.Skipped)
}

func TestRun_CheckpointOnlyOnSuccess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, acme)
	memory := h.memories[acme.Repository]
	memory.FailReads = 1

	e, err := NewMilestone(h.deps)
	require.NoError(t, err)

	report, err := e.Run(ctx, acme)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, StateFailed, report.State())
	assert.Equal(t, StateFetching, report.FailedIn())

	cp, err := h.deps.Checkpoints.Get(ctx, acme, models.DomainMilestone)
	require.NoError(t, err)
	assert.Nil(t, cp, "failed run must not advance the checkpoint")

	report, err = e.Run(ctx, acme)
	require.NoError(t, err)
	assert.Nil(t, report.Since)
	assert.Equal(t, []State{StateFetching, StateTransforming, StateLinking, StateCheckpointing, StateDone}, report.States)

	cp, err = h.deps.Checkpoints.Get(ctx, acme, models.DomainMilestone)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.WithinDuration(t, report.StartedAt, cp.LastRetrieveDate, time.Second)

	report, err = e.Run(ctx, acme)
	require.NoError(t, err)
	require.NotNil(t, report.Since)
	assert.WithinDuration(t, cp.LastRetrieveDate, *report.Since, time.Second)

	reads, sinces := memory.Reads()
	assert.Equal(t, 3, reads)
	assert.Nil(t, sinces[1])
	assert.NotNil(t, sinces[2])
}

func TestRun_FailedCodeStageKeepsCheckpoint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, acme)
	seeded := time.Date(2024, 3, 1, 12, 0, 0, 987654321, time.UTC)
	require.NoError(t, h.deps.Checkpoints.Advance(ctx, acme, models.DomainCode, seeded))
	before, err := h.deps.Checkpoints.Get(ctx, acme, models.DomainCode)
	require.NoError(t, err)
	require.NotNil(t, before)

	memory := h.memories[acme.Repository]
	memory.FailReads = 3
	e, err := NewCode(h.deps)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		report, err := e.Run(ctx, acme)
		require.Error(t, err)
		assert.Equal(t, StateFailed, report.State())
		require.NotNil(t, report.Since)
		assert.True(t, seeded.Equal(*report.Since))
	}

	after, err := h.deps.Checkpoints.Get(ctx, acme, models.DomainCode)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, before.LastRetrieveDate.Format(time.RFC3339Nano), after.LastRetrieveDate.Format(time.RFC3339Nano))

	// A stage failing while linking leaves it too
	deps := h.deps
	deps.Sink = failingSink{h.sink}
	e, err = NewCode(deps)
	require.NoError(t, err)
	report, err := e.Run(ctx, acme)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, StateLinking, report.FailedIn())

	after, err = h.deps.Checkpoints.Get(ctx, acme, models.DomainCode)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, before.LastRetrieveDate.Format(time.RFC3339Nano), after.LastRetrieveDate.Format(time.RFC3339Nano))
}

// failingSink rejects node writes, failing a stage while it links
type failingSink struct {
	*graph.RelationalSink
}

func (failingSink) UpsertNode(context.Context, string, string, map[string]any) (graph.NodeRef, error) {
	return graph.NodeRef{}, errors.New(errors.ErrorTypeStore, errors.SeverityHigh, "disk full")
}

func TestRun_ReplayLeavesCheckpoint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, acme)
	seeded := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, h.deps.Checkpoints.Advance(ctx, acme, models.DomainMilestone, seeded))

	deps := h.deps
	deps.Replay = true
	e, err := NewMilestone(deps)
	require.NoError(t, err)
	report, err := e.Run(ctx, acme)
	require.NoError(t, err)
	assert.Equal(t, []State{StateFetching, StateTransforming, StateLinking, StateCheckpointing, StateDone}, report.States)
	assert.Equal(t, 1, report.Nodes)

	cp, err := h.deps.Checkpoints.Get(ctx, acme, models.DomainMilestone)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, seeded.Equal(cp.LastRetrieveDate), "replay must not move the checkpoint")

	var logged bool
	for _, entry := range h.hook.AllEntries() {
		if entry.Message == "replay, checkpoint left unchanged" {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestOrganizational_PersonPresentInEveryOrganization(t *testing.T) {
	globex := models.Target{Organization: "globex", Repository: "globex/web"}
	h := newHarness(t, acme, globex)

	// globex's chain creates alice before acme's team members are loaded
	h.chain(t, globex)
	h.run(t, models.DomainOrganizational, acme)

	alice := graph.Ref(models.LabelPerson, "alice")
	assert.ElementsMatch(t, []string{"Organization:acme", "Organization:globex"}, h.neighbors(t, alice, models.RelPresentIn))

	// Each organization's membership links its own team
	member := graph.Ref(models.LabelTeamMember, models.TeamMemberKey("alice", "core"))
	assert.ElementsMatch(t, []string{"Team:1", "Team:5001"}, h.neighbors(t, member, models.RelDoneFor))

	// Running the stage again adds no edge
	_, before := h.snapshot(t)
	h.run(t, models.DomainOrganizational, acme)
	_, after := h.snapshot(t)
	assert.Equal(t, before[models.RelPresentIn], after[models.RelPresentIn])
}

func TestRun_CancelledBetweenRecords(t *testing.T) {
	h := newHarness(t, acme)
	ctx, cancel := context.WithCancel(context.Background())

	rc := &runContext{
		records: map[string][]record{
			"s": {{raw: map[string]any{"id": "1"}}, {raw: map[string]any{"id": "2"}}, {raw: map[string]any{"id": "3"}}},
		},
		sink:   h.sink,
		report: newReport("run", acme, models.DomainCode),
		logger: h.deps.Logger,
	}

	var seen []string
	err := rc.each(ctx, "s", func(inner context.Context, r record) error {
		seen = append(seen, r.string("id"))
		cancel()
		// The record in flight keeps a live context
		assert.NoError(t, inner.Err())
		return nil
	})
	require.Error(t, err)
	assert.False(t, errors.IsRetryable(err))
	assert.Equal(t, []string{"1"}, seen)
}

func TestRun_SkipsMalformedRecords(t *testing.T) {
	h := newHarness(t, acme)
	memory := connector.NewMemory(map[string][]connector.Record{
		connector.StreamIssueMilestones: {
			{"title": "no id", "repository": "acme/api"},
			{"id": 901, "title": "v2", "repository": "acme/api"},
		},
	})
	h.deps.Connectors = connector.MemoryFactory(map[string]*connector.Memory{"acme/api": memory})

	report := h.run(t, models.DomainMilestone, acme)
	assert.Equal(t, 1, report.Nodes)
	assert.Equal(t, 2, report.Skipped, "malformed record and missing repository")
}

func TestConcurrentChains_MatchSequential(t *testing.T) {
	ctx := context.Background()
	api := models.Target{Organization: "acme", Repository: "acme/api"}
	web := models.Target{Organization: "acme", Repository: "acme/web"}
	shop := models.Target{Organization: "globex", Repository: "globex/shop"}
	targets := []models.Target{api, web, shop}

	newRun := func() *harness {
		h := newHarness(t, targets...)
		h.withHistory(t, web, 1000)
		return h
	}

	sequential := newRun()
	for _, target := range targets {
		sequential.chain(t, target)
	}

	concurrent := newRun()
	var wg sync.WaitGroup
	errs := make(chan error, len(targets))
	for _, target := range targets {
		wg.Add(1)
		go func(target models.Target) {
			defer wg.Done()
			for _, domain := range models.ChainOrder {
				e, err := ForDomain(domain, concurrent.deps)
				if err != nil {
					errs <- err
					return
				}
				if _, err := e.Run(ctx, target); err != nil {
					errs <- fmt.Errorf("%s %s: %w", target, domain, err)
					return
				}
			}
		}(target)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	seqLabels, seqRels := sequential.snapshot(t)
	conLabels, conRels := concurrent.snapshot(t)
	assert.Equal(t, seqLabels, conLabels)
	assert.Equal(t, seqRels, conRels)
	assert.Equal(t, 10, seqLabels[models.LabelCommit])

	for _, h := range []*harness{sequential, concurrent} {
		// The second repository of an organization still gets its full history
		old, err := h.sink.GetNode(ctx, models.LabelCommit, map[string]any{"id": models.CommitKey("old", web.Repository)})
		require.NoError(t, err)
		assert.NotNil(t, old)

		for _, target := range targets {
			repo := graph.Ref(models.LabelSourceRepository, target.Repository)
			has := h.neighbors(t, repo, models.RelHas)
			for _, other := range targets {
				key := graph.Ref(models.LabelCommit, models.CommitKey("aaa", other.Repository)).String()
				if other == target {
					assert.Contains(t, has, key)
				} else {
					assert.NotContains(t, has, key)
				}
			}
			for _, domain := range models.ChainOrder {
				cp, err := h.deps.Checkpoints.Get(ctx, target, domain)
				require.NoError(t, err)
				assert.NotNil(t, cp, "%s %s", target, domain)
			}
		}
	}
}

func TestForDomain(t *testing.T) {
	h := newHarness(t)

	extractors, err := All(h.deps)
	require.NoError(t, err)
	require.Len(t, extractors, 4)
	for i, e := range extractors {
		assert.Equal(t, models.ChainOrder[i], e.Domain())
		assert.NotEmpty(t, e.Streams())
	}

	_, err = ForDomain("bogus", h.deps)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = NewCode(Deps{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
