package extract

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/connector"
	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/graph"
	"github.com/rohankatakam/devgraph/internal/models"
	"github.com/rohankatakam/devgraph/internal/transform"
)

// NewSocial returns the extractor of pull requests, issues and labels
func NewSocial(deps Deps) (Extractor, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &base{
		domain: models.DomainSocial,
		streams: []string{
			connector.StreamPullRequests,
			connector.StreamPullRequestCommits,
			connector.StreamIssues,
			connector.StreamIssueLabels,
		},
		deps: deps,
		link: linkSocial,
	}, nil
}

// linkSocial writes labels first so pull requests and issues can link to them, and
// pull requests before the issues that reference them.
func linkSocial(ctx context.Context, rc *runContext) error {
	if err := rc.each(ctx, connector.StreamIssueLabels, func(ctx context.Context, r record) error {
		if r.string("id") == "" {
			return errors.MalformedRecordErrorf("label without id")
		}
		_, err := rc.upsert(ctx, models.LabelLabel, r.props)
		return err
	}); err != nil {
		return err
	}

	if err := rc.each(ctx, connector.StreamPullRequests, func(ctx context.Context, r record) error {
		return linkPullRequest(ctx, rc, r)
	}); err != nil {
		return err
	}

	if err := rc.each(ctx, connector.StreamPullRequestCommits, func(ctx context.Context, r record) error {
		sha, repository := r.string("sha"), r.string("repository")
		number, ok := transform.Int64(r.raw, "pull_number")
		if sha == "" || repository == "" || !ok {
			return errors.MalformedRecordErrorf("pull request commit without sha, repository or pull_number")
		}
		pr, err := rc.lookup(ctx, models.LabelPullRequest, map[string]any{"repository": repository, "number": number})
		if err != nil {
			return err
		}
		key := models.CommitKey(sha, repository)
		if pr == nil {
			rc.skip(logrus.WarnLevel, graph.Ref(models.LabelCommit, key), models.RelCommittedIn, models.LabelPullRequest,
				map[string]any{"repository": repository, "number": number})
			return nil
		}
		return rc.linkFrom(ctx, models.LabelCommit, map[string]any{"id": key}, models.RelCommittedIn, *pr, logrus.WarnLevel)
	}); err != nil {
		return err
	}

	return rc.each(ctx, connector.StreamIssues, func(ctx context.Context, r record) error {
		return linkIssue(ctx, rc, r)
	})
}

func linkPullRequest(ctx context.Context, rc *runContext, r record) error {
	if r.string("id") == "" {
		return errors.MalformedRecordErrorf("pull request without id")
	}
	repository := r.string("repository")
	pr, err := rc.upsert(ctx, models.LabelPullRequest, r.props)
	if err != nil {
		return err
	}
	if err := rc.linkFrom(ctx, models.LabelSourceRepository, map[string]any{"full_name": repository}, models.RelHas, pr, logrus.WarnLevel); err != nil {
		return err
	}
	if err := linkLabels(ctx, rc, pr, r); err != nil {
		return err
	}

	milestone, err := transform.Map(r.raw, "milestone")
	if err != nil {
		return err
	}
	if id := transform.String(milestone, "id"); id != "" {
		if err := rc.linkTo(ctx, pr, models.RelHas, models.LabelMilestone, map[string]any{"id": id}, logrus.WarnLevel); err != nil {
			return err
		}
	}

	if sha := r.string("merge_commit_sha"); sha != "" {
		match := map[string]any{"id": models.CommitKey(sha, repository)}
		if err := rc.linkTo(ctx, pr, models.RelMerged, models.LabelCommit, match, logrus.DebugLevel); err != nil {
			return err
		}
	}

	if err := linkUsers(ctx, rc, pr, r); err != nil {
		return err
	}
	return rc.people(ctx, pr, models.RelReviewedBy, r, "requested_reviewers")
}

func linkIssue(ctx context.Context, rc *runContext, r record) error {
	if r.string("id") == "" {
		return errors.MalformedRecordErrorf("issue without id")
	}
	repository := r.string("repository")
	issue, err := rc.upsert(ctx, models.LabelDevelopmentTask, r.props)
	if err != nil {
		return err
	}
	if err := rc.linkFrom(ctx, models.LabelSourceRepository, map[string]any{"full_name": repository}, models.RelHas, issue, logrus.WarnLevel); err != nil {
		return err
	}

	milestone, err := transform.Map(r.raw, "milestone")
	if err != nil {
		return err
	}
	if id := transform.String(milestone, "id"); id != "" {
		if err := rc.linkFrom(ctx, models.LabelMilestone, map[string]any{"id": id}, models.RelHas, issue, logrus.WarnLevel); err != nil {
			return err
		}
	}

	if err := linkUsers(ctx, rc, issue, r); err != nil {
		return err
	}
	if err := linkLabels(ctx, rc, issue, r); err != nil {
		return err
	}

	ref, err := transform.Map(r.raw, "pull_request")
	if err != nil {
		return err
	}
	url := transform.String(ref, "url")
	if url == "" {
		return nil
	}
	pr, created, err := rc.resolver.ResolveOrPlaceholder(ctx, models.LabelPullRequest,
		map[string]any{"url": url}, url,
		map[string]any{"url": url, "repository": repository})
	if err != nil {
		return err
	}
	if created {
		rc.report.Placeholders++
		rc.report.Nodes++
	}
	return rc.relate(ctx, pr, models.RelHas, issue)
}

// linkUsers links the creator and assignees of an issue or pull request
func linkUsers(ctx context.Context, rc *runContext, node graph.NodeRef, r record) error {
	user, err := transform.Map(r.raw, "user")
	if err != nil {
		return err
	}
	if err := rc.person(ctx, node, models.RelCreatedBy, user); err != nil {
		return err
	}
	assignee, err := transform.Map(r.raw, "assignee")
	if err != nil {
		return err
	}
	if err := rc.person(ctx, node, models.RelAssignedTo, assignee); err != nil {
		return err
	}
	return rc.people(ctx, node, models.RelAssignedTo, r, "assignees")
}

func linkLabels(ctx context.Context, rc *runContext, node graph.NodeRef, r record) error {
	labels, err := transform.Slice(r.raw, "labels")
	if err != nil {
		return err
	}
	for _, label := range labels {
		id := transform.String(label, "id")
		if id == "" {
			continue
		}
		if err := rc.linkTo(ctx, node, models.RelLabeled, models.LabelLabel, map[string]any{"id": id}, logrus.WarnLevel); err != nil {
			return err
		}
	}
	return nil
}
