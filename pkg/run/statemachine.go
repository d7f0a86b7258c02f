package run

import (
	"context"
	"fmt"

	"github.com/apsviz/workflow-supervisor/pkg/catalog"
	"github.com/apsviz/workflow-supervisor/pkg/log"
	"github.com/apsviz/workflow-supervisor/pkg/metrics"
	"github.com/apsviz/workflow-supervisor/pkg/types"
)

var stateLog = log.WithComponent("run")

// InspectResult is what the Job Inspector (spec §4.E) reports back for one
// step: whether the job was found at all, its abstract job status, and
// the raw pod phase string behind it.
type InspectResult struct {
	Found     bool
	JobStatus types.JobStatus
	PodStatus types.PodStatus
}

// JobCreator is the subset of the Cluster Translator (spec §4.D) the
// state machine needs: populate a step's run-config, submit it to the
// cluster, and delete it later. Declared here rather than imported from
// pkg/translator so this package stays free of any Kubernetes dependency;
// pkg/translator implements this interface.
type JobCreator interface {
	// CreateStep populates tmpl into run.Step(jobType) and submits the
	// resulting job (and Service, if the template declares a PORT_RANGE)
	// to the cluster.
	CreateStep(ctx context.Context, r *Run, jobType types.JobType, tmpl *catalog.StepTemplate) error

	// DeleteStep removes jobType's job and, if forced, its Service. Debug
	// and Error runs are expected to skip deletion (spec §4.D.8); that
	// policy lives in the translator, not here.
	DeleteStep(ctx context.Context, r *Run, jobType types.JobType, forced bool) error

	// CleanupSweep force-deletes every lingering server-process step on
	// the run (spec §4.D.9), called by finalize for both terminal outcomes
	// (Complete and a finalized Error).
	CleanupSweep(ctx context.Context, r *Run) error
}

// JobInspector is the subset of the Job Inspector (spec §4.E) the state
// machine needs.
type JobInspector interface {
	Inspect(ctx context.Context, r *Run, jobType types.JobType) (InspectResult, error)
}

// ProvenanceWriter persists a run's accumulated provenance text. Declared
// here so the state machine does not depend on database/sql directly;
// pkg/db implements it.
type ProvenanceWriter interface {
	UpdateProvenance(ctx context.Context, runID types.RunID, provenance string) error
}

// Machine is the Run State Machine (spec §4.F). A single Machine handles
// every active run; the Catalog is swapped out at the top of each
// supervisor-loop iteration (spec §4.G step 1) since it is refreshed from
// the database every tick.
type Machine struct {
	Catalog    *catalog.Catalog
	Translator JobCreator
	Inspector  JobInspector
	DB         ProvenanceWriter
}

// Tick advances one run by exactly one step of the state machine and
// persists its provenance if it changed this tick. terminal reports
// whether the run reached a terminal status (Complete or a finalized
// Error, spec §8 scenarios C/D: "terminal status = Error") and should be
// dropped from the active-run list; activity reports whether anything
// happened this tick, feeding the supervisor's no_activity_counter (spec
// §4.G step 5).
func (m *Machine) Tick(ctx context.Context, r *Run) (terminal bool, activity bool, err error) {
	before := r.Provenance()

	switch r.Status {
	case types.RunStatusNew:
		activity, err = true, m.handleNew(ctx, r)
	case types.RunStatusRunning:
		activity, err = m.handleRunning(ctx, r)
	case types.RunStatusError:
		activity = true
		terminal, err = m.handleError(ctx, r)
	case types.RunStatusComplete:
		terminal, err = true, m.handleComplete(ctx, r)
	default:
		err = fmt.Errorf("run %s: unknown status %q", r.ID, r.Status)
	}

	if r.Provenance() != before {
		activity = true
		if werr := m.DB.UpdateProvenance(ctx, r.ID, r.Provenance()); werr != nil {
			stateLog.Error().Err(werr).Str("run_id", r.ID.String()).Msg("failed to persist provenance")
		}
	}

	return terminal, activity, err
}

// handleNew implements transition 1 (spec §4.F): creates the current step
// plus every sibling named in its PARALLEL list, in the same tick.
func (m *Machine) handleNew(ctx context.Context, r *Run) error {
	tmpl, err := m.Catalog.Step(r.WorkflowType, r.JobType)
	if err != nil {
		r.Status = types.RunStatusError
		r.ErrorDetected = true
		r.AppendProvenance("error resolving step %s: %v", r.JobType, err)
		return err
	}

	toCreate := append([]types.JobType{r.JobType}, tmpl.Parallel...)

	for _, jobType := range toCreate {
		stepTmpl := tmpl
		if jobType != r.JobType {
			stepTmpl, err = m.Catalog.Step(r.WorkflowType, jobType)
			if err != nil {
				r.Status = types.RunStatusError
				r.ErrorDetected = true
				r.AppendProvenance("error resolving parallel step %s: %v", jobType, err)
				return err
			}
		}

		if err := m.Translator.CreateStep(ctx, r, jobType, stepTmpl); err != nil {
			r.Status = types.RunStatusError
			r.ErrorDetected = true
			r.AppendProvenance("%s failed to create, error detected", jobType)
			return err
		}
		r.AppendProvenance("%s running", jobType)
		metrics.JobsCreatedTotal.WithLabelValues(string(jobType)).Inc()
	}

	r.Status = types.RunStatusRunning
	return nil
}

// handleRunning implements transition 2 (spec §4.F). It inspects every
// live step on the run, not only the driving job_type pointer: PARALLEL
// siblings are independent step records that terminate in any order
// (spec §5), so each is drained as it completes. Only the driving step's
// completion advances job_type to NEXT_JOB_TYPE; the run does not reach
// Complete until every live step (driving plus siblings) has been
// deleted (spec scenario B).
func (m *Machine) handleRunning(ctx context.Context, r *Run) (activity bool, err error) {
	driving := r.JobType

	for jobType, step := range r.Steps {
		if !step.Created || step.Deleted {
			continue
		}

		result, ierr := m.inspectStep(ctx, r, jobType, step)
		if ierr != nil {
			return activity, ierr
		}
		step.LastJobStatus = result.JobStatus
		step.LastPodStatus = result.PodStatus

		switch {
		case !result.Found:
			r.Status = types.RunStatusError
			r.ErrorDetected = true
			r.AppendProvenance("%s not found on cluster, error detected", jobType)
			return true, nil

		case result.JobStatus == types.JobStatusTimeout || result.JobStatus == types.JobStatusFailed:
			_ = m.Translator.DeleteStep(ctx, r, jobType, false)
			r.Status = types.RunStatusError
			r.ErrorDetected = true
			r.AppendProvenance("%s failed, error detected", jobType)
			return true, nil

		case result.PodStatus.HasFailed():
			_ = m.Translator.DeleteStep(ctx, r, jobType, false)
			r.Status = types.RunStatusError
			r.ErrorDetected = true
			r.AppendProvenance("%s pod failed, error detected", jobType)
			return true, nil

		case result.JobStatus == types.JobStatusComplete:
			if err := m.Translator.DeleteStep(ctx, r, jobType, false); err != nil {
				r.Status = types.RunStatusError
				r.ErrorDetected = true
				r.AppendProvenance("%s failed to delete, error detected", jobType)
				return true, err
			}
			metrics.JobsDeletedTotal.WithLabelValues(string(jobType), "non-forced").Inc()
			activity = true

			if step.IsServerProcess() {
				r.AppendProvenance("%s configuring", jobType)
			} else {
				r.AppendProvenance("%s complete", jobType)
			}

			if jobType == driving {
				next := step.Template.NextJobType
				r.JobType = next
				if next != types.JobTypeComplete && !r.HasStep(next) {
					r.Status = types.RunStatusNew
				}
			}

		default:
			// Still Pending/Running: no activity for this step.
		}
	}

	if r.Status == types.RunStatusRunning && r.JobType == types.JobTypeComplete && len(r.LiveJobs()) == 0 {
		r.Status = types.RunStatusComplete
	}

	return activity, nil
}

// inspectStep wraps the Job Inspector call, overriding the result to
// Complete for server-process steps (spec §9, Open Questions point 3):
// any step whose template declares a PORT_RANGE is considered complete
// immediately once its Service exists, rather than polled.
func (m *Machine) inspectStep(ctx context.Context, r *Run, jobType types.JobType, step *StepRuntime) (InspectResult, error) {
	if step.IsServerProcess() {
		return InspectResult{Found: true, JobStatus: types.JobStatusComplete, PodStatus: types.PodStatusSucceeded}, nil
	}
	return m.Inspector.Inspect(ctx, r, jobType)
}

// handleError implements transition 3 (spec §4.F): routes through
// final-staging exactly once if the workflow defines one, per invariant 5.
// Both terminal outcomes (no cleanup step defined, or final-staging itself
// just failed) leave the run in Error, not Complete (spec §8 scenarios C
// and D: "terminal status = Error"); finalized reports whether the run is
// done and should be dropped from the active-run list, in which case
// finalize has already run the same cleanup-sweep/duration-provenance work
// handleComplete performs for a successful run.
func (m *Machine) handleError(ctx context.Context, r *Run) (finalized bool, err error) {
	wf, ok := m.Catalog.Workflows[r.WorkflowType]
	hasCleanup := false
	if ok {
		_, hasCleanup = wf.Steps[types.JobTypeFinalStaging]
	}

	switch {
	case !hasCleanup:
		r.AppendProvenance("No cleanup occurred.")
		return true, m.finalize(ctx, r)

	case r.JobType == types.JobTypeFinalStaging:
		r.AppendProvenance("incomplete cleanup")
		return true, m.finalize(ctx, r)

	default:
		r.JobType = types.JobTypeFinalStaging
		r.Status = types.RunStatusNew
		return false, nil
	}
}

// handleComplete implements transition 4 (spec §4.F) for a run that
// reached Complete via a successful final step. If any step on this run
// ever failed, final-staging's own success still leaves the run's terminal
// status at Error (spec §8 scenario C: "terminal status = Error" even
// though the workflow's last step completed); handleRunning's generic
// "workflow reached NEXT_JOB_TYPE == complete" transition cannot see that
// history, so it is corrected here before finalize runs.
func (m *Machine) handleComplete(ctx context.Context, r *Run) error {
	if r.ErrorDetected {
		r.Status = types.RunStatusError
	}
	return m.finalize(ctx, r)
}

// finalize force-removes any lingering server-process jobs/services and
// writes the final duration line, shared by both terminal outcomes of the
// state machine: a successful run reaching Complete, and a failed run
// whose Error handling has exhausted cleanup (spec §4.D.9, §8 scenarios
// A/C/D). Debug and Error-origin runs retain their jobs per spec §4.D.8;
// that policy lives inside CleanupSweep.
func (m *Machine) finalize(ctx context.Context, r *Run) error {
	if err := m.Translator.CleanupSweep(ctx, r); err != nil {
		stateLog.Error().Err(err).Str("run_id", r.ID.String()).Msg("cleanup sweep failed")
	}
	r.AppendProvenance("run complete in %s", FormatDuration(r.Duration()))
	metrics.RunsTerminatedTotal.WithLabelValues(string(r.Status)).Inc()
	return nil
}

// Recover is called by the supervisor loop when handle_run panics or
// returns an unexpected error outside the normal transition table (spec
// §7 "Supervisor-internal exception", §4.G step 4). It force-errors the
// run and attempts a best-effort, non-forced delete of its current step.
func (m *Machine) Recover(ctx context.Context, r *Run, cause error) {
	runLog := log.WithWorkflowType(log.WithJobType(log.WithRunID(stateLog, r.ID.String()), string(r.JobType)), r.WorkflowType)
	runLog.Error().Err(cause).Msg("run handler error detected")
	r.AppendProvenance("Run handler error detected")
	if err := m.Translator.DeleteStep(ctx, r, r.JobType, false); err != nil {
		runLog.Warn().Err(err).Msg("best-effort delete after handler error failed")
	}
	r.Status = types.RunStatusError
	r.ErrorDetected = true
}

// IsTerminal reports whether status is a terminal run status. Error is
// terminal alongside Complete (spec §8 scenarios C/D): handleError routes
// through final-staging while Status == Error, but the moment it reaches
// either terminal branch it runs finalize and leaves the run at Error for
// good, never transitioning it back to New or Running.
func IsTerminal(status types.RunStatus) bool {
	return status == types.RunStatusComplete || status == types.RunStatusError
}

// DescribeWorkflowJobs derives the WorkflowJobs set (spec §3) from a
// catalog workflow, used by intake when a run is first admitted.
func DescribeWorkflowJobs(wf *catalog.Workflow) map[types.JobType]bool {
	jobs := make(map[types.JobType]bool, len(wf.Steps))
	for jobType := range wf.Steps {
		jobs[jobType] = true
	}
	return jobs
}
