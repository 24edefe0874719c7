package extract

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/connector"
	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/models"
)

// NewMilestone returns the extractor of repository milestones
func NewMilestone(deps Deps) (Extractor, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &base{
		domain:  models.DomainMilestone,
		streams: []string{connector.StreamIssueMilestones},
		deps:    deps,
		link:    linkMilestones,
	}, nil
}

func linkMilestones(ctx context.Context, rc *runContext) error {
	return rc.each(ctx, connector.StreamIssueMilestones, func(ctx context.Context, r record) error {
		if r.string("id") == "" {
			return errors.MalformedRecordErrorf("milestone without id")
		}
		milestone, err := rc.upsert(ctx, models.LabelMilestone, r.props)
		if err != nil {
			return err
		}
		match := map[string]any{"full_name": r.string("repository")}
		return rc.linkFrom(ctx, models.LabelSourceRepository, match, models.RelHas, milestone, logrus.WarnLevel)
	})
}
