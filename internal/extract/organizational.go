package extract

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/connector"
	"github.com/rohankatakam/devgraph/internal/errors"
	"github.com/rohankatakam/devgraph/internal/models"
	"github.com/rohankatakam/devgraph/internal/transform"
)

// NewOrganizational returns the extractor of teams, team members and projects
func NewOrganizational(deps Deps) (Extractor, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &base{
		domain:  models.DomainOrganizational,
		streams: []string{connector.StreamTeams, connector.StreamTeamMembers, connector.StreamProjects},
		deps:    deps,
		link:    linkOrganizational,
	}, nil
}

// linkOrganizational writes teams and projects before memberships, which look
// their team up by slug.
func linkOrganizational(ctx context.Context, rc *runContext) error {
	if err := rc.each(ctx, connector.StreamTeams, func(ctx context.Context, r record) error {
		team, err := rc.upsert(ctx, models.LabelTeam, r.props)
		if err != nil {
			return err
		}
		return rc.relate(ctx, rc.org, models.RelHas, team)
	}); err != nil {
		return err
	}

	if err := rc.each(ctx, connector.StreamProjects, func(ctx context.Context, r record) error {
		project, err := rc.upsert(ctx, models.LabelProject, r.props)
		if err != nil {
			return err
		}
		return rc.relate(ctx, rc.org, models.RelHas, project)
	}); err != nil {
		return err
	}

	return rc.each(ctx, connector.StreamTeamMembers, func(ctx context.Context, r record) error {
		return linkTeamMember(ctx, rc, r)
	})
}

// membershipFields belong to the team membership, not to the Person
var membershipFields = map[string]bool{"team_slug": true, "organization": true, "role": true}

// linkTeamMember merges the member payload onto the Person and links it PRESENT_IN
// this organization even when another organization's chain created it first.
func linkTeamMember(ctx context.Context, rc *runContext, r record) error {
	login := r.string("login")
	if login == "" {
		return errors.MalformedRecordErrorf("team member without login")
	}
	user := make(map[string]any, len(r.raw))
	for k, v := range r.raw {
		if !membershipFields[k] {
			user[k] = v
		}
	}
	if _, err := rc.resolver.ResolvePerson(ctx, user, rc.org); err != nil {
		return err
	}
	person, err := rc.upsert(ctx, models.LabelPerson, withKey(transform.Properties(transform.Transform(user)), map[string]any{"id": login}))
	if err != nil {
		return err
	}
	if err := rc.relate(ctx, person, models.RelPresentIn, rc.org); err != nil {
		return err
	}

	slug := r.string("team_slug")
	if slug == "" {
		return nil
	}
	// Slugs are unique only within an organization
	match := map[string]any{"slug": slug, "organization": rc.target.Organization}
	team, err := rc.lookup(ctx, models.LabelTeam, match)
	if err != nil {
		return err
	}
	if team == nil {
		rc.skip(logrus.WarnLevel, person, models.RelAllocated, models.LabelTeam, match)
		return nil
	}

	props := map[string]any{
		"id":        models.TeamMemberKey(login, slug),
		"name":      login,
		"team_slug": slug,
	}
	if role := r.string("role"); role != "" {
		props["role"] = role
	}
	member, err := rc.upsert(ctx, models.LabelTeamMember, props)
	if err != nil {
		return err
	}
	if err := rc.relate(ctx, member, models.RelDoneFor, *team); err != nil {
		return err
	}
	if err := rc.relate(ctx, *team, models.RelComposedOf, member); err != nil {
		return err
	}
	if err := rc.relate(ctx, member, models.RelAllocates, person); err != nil {
		return err
	}
	return rc.relate(ctx, person, models.RelAllocated, member)
}
