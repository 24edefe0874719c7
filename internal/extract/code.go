package extract

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/connector"
	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/graph"
	"github.com/rohankatakam/devgraph/internal/models"
	"github.com/rohankatakam/devgraph/internal/transform"
)

// NewCode returns the extractor of repositories, branches and commits
func NewCode(deps Deps) (Extractor, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &base{
		domain: models.DomainCode,
		streams: []string{
			connector.StreamRepositories,
			connector.StreamProjects,
			connector.StreamBranches,
			connector.StreamCommits,
		},
		deps: deps,
		link: linkCode,
	}, nil
}

func linkCode(ctx context.Context, rc *runContext) error {
	if err := rc.each(ctx, connector.StreamRepositories, func(ctx context.Context, r record) error {
		if r.string("full_name") == "" {
			return errors.MalformedRecordErrorf("repository without full_name")
		}
		repo, err := rc.upsert(ctx, models.LabelSourceRepository, r.props)
		if err != nil {
			return err
		}
		return rc.relate(ctx, rc.org, models.RelHas, repo)
	}); err != nil {
		return err
	}

	if err := rc.each(ctx, connector.StreamProjects, func(ctx context.Context, r record) error {
		return linkProject(ctx, rc, r)
	}); err != nil {
		return err
	}

	if err := rc.each(ctx, connector.StreamBranches, func(ctx context.Context, r record) error {
		name, repository := r.string("name"), r.string("repository")
		if name == "" || repository == "" {
			return errors.MalformedRecordErrorf("branch without name or repository")
		}
		branch, err := rc.upsert(ctx, models.LabelBranch, withKey(r.props, map[string]any{
			"id": models.BranchKey(name, repository),
		}))
		if err != nil {
			return err
		}
		return rc.linkFrom(ctx, models.LabelSourceRepository, map[string]any{"full_name": repository}, models.RelHas, branch, logrus.WarnLevel)
	}); err != nil {
		return err
	}

	if err := rc.each(ctx, connector.StreamCommits, func(ctx context.Context, r record) error {
		return linkCommit(ctx, rc, r)
	}); err != nil {
		return err
	}

	// Parents are linked once every commit of the batch exists, so the order the
	// connector returned commits in does not matter.
	return rc.each(ctx, connector.StreamCommits, func(ctx context.Context, r record) error {
		return linkParents(ctx, rc, r)
	})
}

// linkProject relates an existing Project to its repository
func linkProject(ctx context.Context, rc *runContext, r record) error {
	id := r.string("id")
	repository, err := repositoryName(r)
	if err != nil {
		return err
	}
	if id == "" || repository == "" {
		rc.logger.WithField("project", id).Info("project without repository, skipping link")
		return nil
	}
	project, err := rc.lookup(ctx, models.LabelProject, map[string]any{"id": id})
	if err != nil {
		return err
	}
	if project == nil {
		rc.skip(logrus.InfoLevel, graph.Ref(models.LabelSourceRepository, repository), models.RelHas, models.LabelProject, map[string]any{"id": id})
		return nil
	}
	return rc.linkTo(ctx, *project, models.RelHas, models.LabelSourceRepository, map[string]any{"full_name": repository}, logrus.InfoLevel)
}

// repositoryName reads the repository of a project, given either as a full name or
// as an embedded repository object.
func repositoryName(r record) (string, error) {
	switch v := r.raw["repository"].(type) {
	case string:
		if !strings.HasPrefix(strings.TrimSpace(v), "{") {
			return v, nil
		}
	case map[string]any:
		return transform.String(v, "full_name"), nil
	}
	repo, err := transform.Map(r.raw, "repository")
	if err != nil || repo == nil {
		return "", err
	}
	return transform.String(repo, "full_name"), nil
}

// commitProps keys a commit by sha and repository and lifts the nested git commit
// fields (message, author.date...) to the top level without overriding.
func commitProps(r record) (map[string]any, error) {
	sha, repository := r.string("sha"), r.string("repository")
	if sha == "" || repository == "" {
		return nil, errors.MalformedRecordErrorf("commit without sha or repository")
	}
	props := withKey(r.props, map[string]any{
		"id":         models.CommitKey(sha, repository),
		"sha":        sha,
		"repository": repository,
	})
	for k, v := range r.props {
		rest, ok := strings.CutPrefix(k, "commit"+transform.Separator)
		if !ok {
			continue
		}
		if _, exists := props[rest]; !exists {
			props[rest] = v
		}
	}
	return props, nil
}

func linkCommit(ctx context.Context, rc *runContext, r record) error {
	props, err := commitProps(r)
	if err != nil {
		return err
	}
	key := props["id"].(string)
	repository := props["repository"].(string)

	isNew := false
	if rc.artifacts != nil {
		existing, err := rc.sink.GetNode(ctx, models.LabelCommit, map[string]any{"id": key})
		if err != nil {
			return err
		}
		isNew = existing == nil
	}

	commit, err := rc.upsert(ctx, models.LabelCommit, props)
	if err != nil {
		return err
	}
	if err := rc.linkFrom(ctx, models.LabelSourceRepository, map[string]any{"full_name": repository}, models.RelHas, commit, logrus.WarnLevel); err != nil {
		return err
	}

	author, err := transform.Map(r.raw, "author")
	if err != nil {
		return err
	}
	if err := rc.person(ctx, commit, models.RelCreatedBy, author); err != nil {
		return err
	}
	committer, err := transform.Map(r.raw, "committer")
	if err != nil {
		return err
	}
	if err := rc.person(ctx, commit, models.RelCommittedBy, committer); err != nil {
		return err
	}

	if branch := r.string("branch"); branch != "" {
		if err := rc.linkFrom(ctx, models.LabelBranch, map[string]any{"id": models.BranchKey(branch, repository)}, models.RelHas, commit, logrus.WarnLevel); err != nil {
			return err
		}
	}

	if isNew {
		task := ArtifactTask{Target: rc.target, SHA: props["sha"].(string)}
		if err := rc.artifacts.Enqueue(ctx, task); err != nil {
			rc.logger.WithError(err).WithField("sha", task.SHA).Warn("failed to enqueue artifact task")
			return nil
		}
		rc.report.ArtifactsQueued++
	}
	return nil
}

// linkParents writes parent -IS_PARENT-> child for every parent sha of a commit.
// A parent outside the fetched window is skipped and never retried.
func linkParents(ctx context.Context, rc *runContext, r record) error {
	props, err := commitProps(r)
	if err != nil {
		return err
	}
	parents, err := transform.Slice(r.raw, "parents")
	if err != nil {
		return err
	}
	child := graph.Ref(models.LabelCommit, props["id"].(string))
	repository := props["repository"].(string)
	for _, p := range parents {
		sha := transform.String(p, "sha")
		if sha == "" {
			continue
		}
		match := map[string]any{"id": models.CommitKey(sha, repository)}
		if err := rc.linkFrom(ctx, models.LabelCommit, match, models.RelIsParent, child, logrus.InfoLevel); err != nil {
			return err
		}
	}
	return nil
}
