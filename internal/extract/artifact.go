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

// ArtifactTask asks for the changed files of one commit to be loaded
type ArtifactTask struct {
	Target models.Target
	SHA    string
}

// ArtifactQueue accepts artifact tasks for asynchronous processing
type ArtifactQueue interface {
	Enqueue(ctx context.Context, task ArtifactTask) error
}

// artifactFields are the file properties kept on a SoftwareArtifact
var artifactFields = []string{
	"filename", "status", "additions", "deletions", "changes", "patch", "raw_url", "blob_url", "sha",
}

// ArtifactProcessor loads the SoftwareArtifact nodes of a commit
type ArtifactProcessor struct {
	sink       graph.Sink
	connectors connector.Factory
	logger     logrus.FieldLogger
}

// NewArtifactProcessor creates a processor fetching file lists through the
// connectors of factory, which must implement connector.FileFetcher.
func NewArtifactProcessor(sink graph.Sink, factory connector.Factory, logger logrus.FieldLogger) *ArtifactProcessor {
	return &ArtifactProcessor{
		sink:       sink,
		connectors: factory,
		logger:     logger.WithField("component", "artifacts"),
	}
}

// Process writes one SoftwareArtifact per changed file of the task's commit, linked
// Commit -HAS-> artifact and artifact -COMMITTED-> Commit. It returns the number of
// artifacts written.
func (p *ArtifactProcessor) Process(ctx context.Context, task ArtifactTask) (int, error) {
	repository := task.Target.Repository
	key := models.CommitKey(task.SHA, repository)
	commit, err := p.sink.GetNode(ctx, models.LabelCommit, map[string]any{"id": key})
	if err != nil {
		return 0, err
	}
	if commit == nil {
		return 0, errors.MissingReferenceErrorf("commit %s not found", key)
	}

	conn, err := p.connectors(task.Target)
	if err != nil {
		return 0, err
	}
	fetcher, ok := conn.(connector.FileFetcher)
	if !ok {
		return 0, errors.ConfigErrorf("connector of %s cannot fetch commit files", task.Target)
	}
	files, err := fetcher.FetchCommitFiles(ctx, repository, task.SHA)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, file := range files {
		sha := transform.String(file, "sha")
		if sha == "" {
			continue
		}
		props := make(map[string]any, len(artifactFields)+1)
		for _, field := range artifactFields {
			if v, ok := file[field]; ok {
				props[field] = transform.Scalar(v)
			}
		}
		props["id"] = sha

		artifact, err := p.sink.UpsertNode(ctx, models.LabelSoftwareArtifact, "id", props)
		if err != nil {
			return written, err
		}
		if _, err := p.sink.UpsertRelationship(ctx, *commit, models.RelHas, artifact, nil); err != nil {
			return written, err
		}
		if _, err := p.sink.UpsertRelationship(ctx, artifact, models.RelCommitted, *commit, nil); err != nil {
			return written, err
		}
		written++
	}

	p.logger.WithFields(logrus.Fields{
		"repository": repository,
		"sha":        task.SHA,
		"artifacts":  written,
	}).Debug("commit artifacts loaded")
	return written, nil
}
