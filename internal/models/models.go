package models

import (
	"fmt"
	"time"
)

// Node labels of the engineering-activity graph
const (
	LabelOrganization     = "Organization"
	LabelSourceRepository = "SourceRepository"
	LabelProject          = "Project"
	LabelPerson           = "Person"
	LabelTeam             = "Team"
	LabelTeamMember       = "TeamMember"
	LabelCommit           = "Commit"
	LabelBranch           = "Branch"
	LabelMilestone        = "Milestone"
	LabelDevelopmentTask  = "DevelopmentTask"
	LabelPullRequest      = "PullRequest"
	LabelLabel            = "Label"
	LabelSoftwareArtifact = "SoftwareArtifact"
	LabelConfiguration    = "Configuration"
)

// Labels lists every node label written by the pipeline
var Labels = []string{
	LabelOrganization, LabelSourceRepository, LabelProject, LabelPerson,
	LabelTeam, LabelTeamMember, LabelCommit, LabelBranch, LabelMilestone,
	LabelDevelopmentTask, LabelPullRequest, LabelLabel, LabelSoftwareArtifact,
	LabelConfiguration,
}

// Relationship types
const (
	RelHas         = "HAS"
	RelCreatedBy   = "CREATED_BY"
	RelCommittedBy = "COMMITTED_BY"
	RelAssignedTo  = "ASSIGNED_TO"
	RelReviewedBy  = "REVIEWED_BY"
	RelLabeled     = "LABELED"
	RelMerged      = "MERGED"
	RelIsParent    = "IS_PARENT"
	RelPresentIn   = "PRESENT_IN"
	RelAllocates   = "ALLOCATES"
	RelAllocated   = "ALLOCATED"
	RelDoneFor     = "DONE_FOR"
	RelComposedOf  = "COMPOSED_OF"
	RelCommittedIn = "COMMITTED_IN"
	RelCommitted   = "COMMITTED"
)

// Extraction domains. The short names match the checkpoint records written by
// earlier deployments, so they must not change.
const (
	DomainOrganizational = "eo"
	DomainCode           = "cmpo"
	DomainSocial         = "sro"
	DomainMilestone      = "smpo"
)

// ChainOrder is the dependency order of the extraction stages.
// Commits and milestones must exist before issues and pull requests link to them.
var ChainOrder = []string{DomainOrganizational, DomainCode, DomainSocial, DomainMilestone}

// KeyField is the property holding the natural key of every label.
// Only SourceRepository is keyed by something other than "id".
func KeyField(label string) string {
	switch label {
	case LabelSourceRepository:
		return "full_name"
	default:
		return "id"
	}
}

// CommitKey builds the natural key of a commit. SHAs are only unique per repository.
func CommitKey(sha, repository string) string {
	return fmt.Sprintf("%s-%s", sha, repository)
}

// BranchKey builds the natural key of a branch
func BranchKey(name, repository string) string {
	return fmt.Sprintf("%s-%s", name, repository)
}

// TeamMemberKey builds the natural key of a team membership
func TeamMemberKey(login, teamSlug string) string {
	return fmt.Sprintf("%s-%s", login, teamSlug)
}

// ConfigurationKey builds the natural key of a checkpoint record. Checkpoints are
// scoped per repository: two repositories of one organization advance independently.
func ConfigurationKey(target Target, domain string) string {
	return fmt.Sprintf("%s:%s:%s", target.Organization, target.Repository, domain)
}

// Target identifies one organization/repository chain
type Target struct {
	Organization string `json:"organization" yaml:"organization"`
	Repository   string `json:"repository" yaml:"repository"` // owner/name
	Token        string `json:"-" yaml:"-"`
}

// String returns the chain identifier used in logs and schedule names
func (t Target) String() string {
	return fmt.Sprintf("%s/%s", t.Organization, t.Repository)
}

// Checkpoint is the last successful extraction of one domain for one target
type Checkpoint struct {
	Organization     string    `json:"organization" db:"organization"`
	Repository       string    `json:"repository" db:"repository"`
	Domain           string    `json:"domain" db:"domain"`
	LastRetrieveDate time.Time `json:"last_retrieve_date" db:"last_retrieve_date"`
}
