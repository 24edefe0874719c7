package connector

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/models"
)

// GitHub reads the catalog streams of one organization/repository
type GitHub struct {
	client  *Client
	target  models.Target
	owner   string
	name    string
	streams []string
	logger  logrus.FieldLogger
}

// readState carries objects shared by streams within one Read
type readState struct {
	repo  *github.Repository
	teams []*github.Team
	pulls []*github.PullRequest
}

// NewGitHub creates the connector of target
func NewGitHub(target models.Target, opts ClientOptions, logger logrus.FieldLogger) (*GitHub, error) {
	owner, name, err := splitRepository(target.Repository)
	if err != nil {
		return nil, err
	}
	if target.Token == "" {
		return nil, errors.ConfigErrorf("no GitHub token for %s", target)
	}
	client, err := NewClient(target.Token, opts)
	if err != nil {
		return nil, err
	}
	return &GitHub{
		client: client,
		target: target,
		owner:  owner,
		name:   name,
		logger: logger.WithFields(logrus.Fields{
			"component":    "github_connector",
			"organization": target.Organization,
			"repository":   target.Repository,
		}),
	}, nil
}

// GitHubFactory returns a Factory building GitHub connectors with opts
func GitHubFactory(opts ClientOptions, logger logrus.FieldLogger) Factory {
	return func(target models.Target) (Connector, error) {
		return NewGitHub(target, opts, logger)
	}
}

// SelectStreams chooses the streams returned by Read
func (g *GitHub) SelectStreams(streams []string) error {
	if err := validateStreams(streams); err != nil {
		return err
	}
	g.streams = append([]string(nil), streams...)
	return nil
}

// Check verifies the token can read the repository
func (g *GitHub) Check(ctx context.Context) error {
	if err := g.client.wait(ctx); err != nil {
		return err
	}
	if _, _, err := g.client.client.Repositories.Get(ctx, g.owner, g.name); err != nil {
		return classifyAPIError(err, "repository "+g.target.Repository)
	}
	g.logger.Debug("connector check passed")
	return nil
}

// Read fetches every selected stream
func (g *GitHub) Read(ctx context.Context, since *time.Time) (map[string][]Record, error) {
	if len(g.streams) == 0 {
		return nil, validateStreams(nil)
	}

	state := &readState{}
	out := make(map[string][]Record, len(g.streams))
	for _, stream := range g.streams {
		records, err := g.readStream(ctx, stream, since, state)
		if err != nil {
			return nil, err
		}
		kept := records[:0]
		for _, r := range records {
			if After(stream, r, since) {
				kept = append(kept, r)
			}
		}
		out[stream] = kept
		g.logger.WithFields(logrus.Fields{"stream": stream, "records": len(kept)}).Info("stream read")
	}
	return out, nil
}

// FetchCommitFiles returns the changed files of one commit
func (g *GitHub) FetchCommitFiles(ctx context.Context, repository, sha string) ([]Record, error) {
	return g.client.FetchCommitFiles(ctx, repository, sha)
}

func (g *GitHub) readStream(ctx context.Context, stream string, since *time.Time, state *readState) ([]Record, error) {
	api := g.client.client
	perPage := g.client.perPage
	repoFields := map[string]any{"repository": g.target.Repository}

	switch stream {
	case StreamRepositories:
		repo, err := g.repository(ctx, state)
		if err != nil {
			return nil, err
		}
		return toRecords([]*github.Repository{repo}, nil)

	case StreamProjects:
		projects, err := paginate(ctx, g.client, stream, func(page int) ([]*github.Project, *github.Response, error) {
			return api.Repositories.ListProjects(ctx, g.owner, g.name, &github.ProjectListOptions{
				State:       "all",
				ListOptions: github.ListOptions{Page: page, PerPage: perPage},
			})
		})
		if isNotFound(err) {
			g.logger.WithField("stream", stream).Warn("projects not available, skipping")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return toRecords(projects, repoFields)

	case StreamTeams:
		teams, err := g.teams(ctx, state)
		if err != nil {
			return nil, err
		}
		return toRecords(teams, map[string]any{"organization": g.target.Organization})

	case StreamTeamMembers:
		teams, err := g.teams(ctx, state)
		if err != nil {
			return nil, err
		}
		var records []Record
		for _, team := range teams {
			// Listing per role is the only way the members endpoint reports a role
			for _, role := range []string{"maintainer", "member"} {
				members, err := paginate(ctx, g.client, stream, func(page int) ([]*github.User, *github.Response, error) {
					return api.Teams.ListTeamMembersBySlug(ctx, g.target.Organization, team.GetSlug(), &github.TeamListTeamMembersOptions{
						Role:        role,
						ListOptions: github.ListOptions{Page: page, PerPage: perPage},
					})
				})
				if err != nil {
					return nil, err
				}
				batch, err := toRecords(members, map[string]any{
					"organization": g.target.Organization,
					"team_slug":    team.GetSlug(),
					"role":         role,
				})
				if err != nil {
					return nil, err
				}
				records = append(records, batch...)
			}
		}
		return records, nil

	case StreamBranches:
		branches, err := paginate(ctx, g.client, stream, func(page int) ([]*github.Branch, *github.Response, error) {
			return api.Repositories.ListBranches(ctx, g.owner, g.name, &github.BranchListOptions{
				ListOptions: github.ListOptions{Page: page, PerPage: perPage},
			})
		})
		if err != nil {
			return nil, err
		}
		return toRecords(branches, repoFields)

	case StreamCommits:
		repo, err := g.repository(ctx, state)
		if err != nil {
			return nil, err
		}
		opts := &github.CommitsListOptions{SHA: repo.GetDefaultBranch()}
		if since != nil {
			opts.Since = *since
		}
		commits, err := paginate(ctx, g.client, stream, func(page int) ([]*github.RepositoryCommit, *github.Response, error) {
			opts.ListOptions = github.ListOptions{Page: page, PerPage: perPage}
			return api.Repositories.ListCommits(ctx, g.owner, g.name, opts)
		})
		if err != nil {
			return nil, err
		}
		records := make([]Record, 0, len(commits))
		for _, c := range commits {
			r, err := ToRecord(c, map[string]any{
				"repository": g.target.Repository,
				"branch":     repo.GetDefaultBranch(),
				"created_at": c.GetCommit().GetAuthor().GetDate().Format(time.RFC3339),
			})
			if err != nil {
				return nil, err
			}
			records = append(records, r)
		}
		return records, nil

	case StreamPullRequests:
		pulls, err := g.pulls(ctx, state)
		if err != nil {
			return nil, err
		}
		return toRecords(pulls, repoFields)

	case StreamPullRequestCommits:
		pulls, err := g.pulls(ctx, state)
		if err != nil {
			return nil, err
		}
		var records []Record
		for _, pr := range pulls {
			if since != nil && pr.GetUpdatedAt().Before(*since) {
				continue
			}
			commits, err := paginate(ctx, g.client, stream, func(page int) ([]*github.RepositoryCommit, *github.Response, error) {
				return api.PullRequests.ListCommits(ctx, g.owner, g.name, pr.GetNumber(), &github.ListOptions{Page: page, PerPage: perPage})
			})
			if err != nil {
				return nil, err
			}
			batch, err := toRecords(commits, map[string]any{
				"repository":  g.target.Repository,
				"pull_number": pr.GetNumber(),
			})
			if err != nil {
				return nil, err
			}
			records = append(records, batch...)
		}
		return records, nil

	case StreamIssues:
		opts := &github.IssueListByRepoOptions{State: "all"}
		if since != nil {
			opts.Since = *since
		}
		issues, err := paginate(ctx, g.client, stream, func(page int) ([]*github.Issue, *github.Response, error) {
			opts.ListOptions = github.ListOptions{Page: page, PerPage: perPage}
			return api.Issues.ListByRepo(ctx, g.owner, g.name, opts)
		})
		if err != nil {
			return nil, err
		}
		return toRecords(issues, repoFields)

	case StreamIssueLabels:
		labels, err := paginate(ctx, g.client, stream, func(page int) ([]*github.Label, *github.Response, error) {
			return api.Issues.ListLabels(ctx, g.owner, g.name, &github.ListOptions{Page: page, PerPage: perPage})
		})
		if err != nil {
			return nil, err
		}
		return toRecords(labels, repoFields)

	case StreamIssueMilestones:
		milestones, err := paginate(ctx, g.client, stream, func(page int) ([]*github.Milestone, *github.Response, error) {
			return api.Issues.ListMilestones(ctx, g.owner, g.name, &github.MilestoneListOptions{
				State:       "all",
				ListOptions: github.ListOptions{Page: page, PerPage: perPage},
			})
		})
		if err != nil {
			return nil, err
		}
		return toRecords(milestones, repoFields)

	default:
		return nil, validateStreams([]string{stream})
	}
}

func (g *GitHub) repository(ctx context.Context, state *readState) (*github.Repository, error) {
	if state.repo != nil {
		return state.repo, nil
	}
	if err := g.client.wait(ctx); err != nil {
		return nil, err
	}
	repo, _, err := g.client.client.Repositories.Get(ctx, g.owner, g.name)
	if err != nil {
		return nil, classifyAPIError(err, "repository "+g.target.Repository)
	}
	state.repo = repo
	return repo, nil
}

// teams lists the organization's teams. Repositories owned by a user have none.
func (g *GitHub) teams(ctx context.Context, state *readState) ([]*github.Team, error) {
	if state.teams != nil {
		return state.teams, nil
	}
	teams, err := paginate(ctx, g.client, StreamTeams, func(page int) ([]*github.Team, *github.Response, error) {
		return g.client.client.Teams.ListTeams(ctx, g.target.Organization, &github.ListOptions{Page: page, PerPage: g.client.perPage})
	})
	if isNotFound(err) {
		g.logger.Warn("organization has no visible teams")
		teams, err = []*github.Team{}, nil
	}
	if err != nil {
		return nil, err
	}
	state.teams = teams
	return teams, nil
}

func (g *GitHub) pulls(ctx context.Context, state *readState) ([]*github.PullRequest, error) {
	if state.pulls != nil {
		return state.pulls, nil
	}
	pulls, err := paginate(ctx, g.client, StreamPullRequests, func(page int) ([]*github.PullRequest, *github.Response, error) {
		return g.client.client.PullRequests.List(ctx, g.owner, g.name, &github.PullRequestListOptions{
			State:       "all",
			Sort:        "updated",
			Direction:   "desc",
			ListOptions: github.ListOptions{Page: page, PerPage: g.client.perPage},
		})
	})
	if err != nil {
		return nil, err
	}
	state.pulls = pulls
	return pulls, nil
}

func toRecords[T any](items []T, extra map[string]any) ([]Record, error) {
	records := make([]Record, 0, len(items))
	for _, item := range items {
		r, err := ToRecord(item, extra)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func isNotFound(err error) bool {
	var respErr *github.ErrorResponse
	return stderrors.As(err, &respErr) && respErr.Response != nil &&
		respErr.Response.StatusCode == http.StatusNotFound
}

var (
	_ Connector   = (*GitHub)(nil)
	_ FileFetcher = (*GitHub)(nil)
	_ FileFetcher = (*Client)(nil)
)
