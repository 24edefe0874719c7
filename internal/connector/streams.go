package connector

import (
	"sort"
	"time"

	"github.com/rohankatakam/devgraph/internal/transform"
)

// GitHub stream names
const (
	StreamRepositories       = "repositories"
	StreamProjects           = "projects_v2"
	StreamTeams              = "teams"
	StreamTeamMembers        = "team_members"
	StreamBranches           = "branches"
	StreamCommits            = "commits"
	StreamPullRequests       = "pull_requests"
	StreamPullRequestCommits = "pull_request_commits"
	StreamIssues             = "issues"
	StreamIssueLabels        = "issue_labels"
	StreamIssueMilestones    = "issue_milestones"
)

// Stream describes one stream of the catalog
type Stream struct {
	Name string
	// CursorField is the record field compared with the incremental start date.
	// Empty for full-refresh streams.
	CursorField string
}

// Incremental reports whether the stream honours a start date
func (s Stream) Incremental() bool {
	return s.CursorField != ""
}

// Catalog lists every supported stream
var Catalog = map[string]Stream{
	StreamRepositories:       {Name: StreamRepositories},
	StreamProjects:           {Name: StreamProjects, CursorField: "updated_at"},
	StreamTeams:              {Name: StreamTeams},
	StreamTeamMembers:        {Name: StreamTeamMembers},
	StreamBranches:           {Name: StreamBranches},
	StreamCommits:            {Name: StreamCommits, CursorField: "created_at"},
	StreamPullRequests:       {Name: StreamPullRequests, CursorField: "updated_at"},
	StreamPullRequestCommits: {Name: StreamPullRequestCommits},
	StreamIssues:             {Name: StreamIssues, CursorField: "updated_at"},
	StreamIssueLabels:        {Name: StreamIssueLabels},
	StreamIssueMilestones:    {Name: StreamIssueMilestones, CursorField: "updated_at"},
}

// StreamNames returns the catalog's stream names in sorted order
func StreamNames() []string {
	names := make([]string, 0, len(Catalog))
	for name := range Catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// After reports whether record belongs to the incremental window of stream.
// Records of full-refresh streams, records without a parseable cursor and
// reads without a start date are always kept.
func After(stream string, record Record, since *time.Time) bool {
	if since == nil {
		return true
	}
	s, ok := Catalog[stream]
	if !ok || !s.Incremental() {
		return true
	}
	raw := transform.String(record, s.CursorField)
	if raw == "" {
		return true
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return true
	}
	return !ts.Before(*since)
}
