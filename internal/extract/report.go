package extract

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/models"
)

// State is a step of a stage run
type State string

const (
	StateFetching      State = "fetching"
	StateTransforming  State = "transforming"
	StateLinking       State = "linking"
	StateCheckpointing State = "checkpointing"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// RunReport describes one stage run
type RunReport struct {
	RunID        string
	Organization string
	Repository   string
	Domain       string
	StartedAt    time.Time
	FinishedAt   time.Time
	// Since is the incremental start date, nil for a full extraction
	Since *time.Time

	// States lists every state entered, in order
	States []State
	Err    error

	// Records is the number of records read per stream
	Records       map[string]int
	Nodes         int
	Relationships int
	// Skipped counts links and records left out because a target was missing or a field malformed
	Skipped         int
	Placeholders    int
	ArtifactsQueued int

	failedIn State
}

func newReport(runID string, target models.Target, domain string) *RunReport {
	return &RunReport{
		RunID:        runID,
		Organization: target.Organization,
		Repository:   target.Repository,
		Domain:       domain,
		Records:      map[string]int{},
	}
}

// State returns the current state
func (r *RunReport) State() State {
	if len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1]
}

// FailedIn returns the state the run failed in, or ""
func (r *RunReport) FailedIn() State {
	return r.failedIn
}

// Fields returns the report counters as log fields
func (r *RunReport) Fields() logrus.Fields {
	fields := logrus.Fields{
		"nodes":         r.Nodes,
		"relationships": r.Relationships,
		"skipped":       r.Skipped,
		"placeholders":  r.Placeholders,
	}
	if r.ArtifactsQueued > 0 {
		fields["artifacts_queued"] = r.ArtifactsQueued
	}
	if !r.FinishedAt.IsZero() {
		fields["duration"] = r.FinishedAt.Sub(r.StartedAt).String()
	}
	return fields
}

func (r *RunReport) transition(s State, logger logrus.FieldLogger) {
	r.States = append(r.States, s)
	logger.WithField("state", s).Debug("stage state changed")
}

func (r *RunReport) fail(err error) {
	r.failedIn = r.State()
	r.Err = err
	r.FinishedAt = time.Now().UTC()
	r.States = append(r.States, StateFailed)
}
