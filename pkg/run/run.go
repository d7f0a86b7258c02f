// Package run owns the Run State Machine (spec §4.F): the Run and
// StepRuntime types that replace the source's dictionary-of-dictionaries
// run object (spec §9), and the per-tick transition logic that advances a
// run from acceptance to a terminal state.
package run

import (
	"fmt"
	"strings"
	"time"

	"github.com/apsviz/workflow-supervisor/pkg/catalog"
	"github.com/apsviz/workflow-supervisor/pkg/types"
)

// StepRuntime holds both the populated template for one job-type (the
// "run-config" of spec §3) and the cluster handles created for it (the
// "job-config"). It is the Go replacement for the source's pervasive
// string-keyed run-object lookups (spec §9).
type StepRuntime struct {
	// Template is the step template cloned and substituted for this run
	// (spec §4.D.1): run-id appended to JOB_NAME/DATA_VOLUME_NAME, command
	// line extended, SUB_PATH extended.
	Template *catalog.StepTemplate

	// JobName is the generated, run-scoped job name used as both the
	// "app" and "job-name" pod labels (spec §6).
	JobName string

	// ControllerUID is recovered by listing jobs after Create and matching
	// on the "app" label (spec §4.D.7, §9 point 4).
	ControllerUID string

	// ServiceCreated records whether a cluster Service was constructed for
	// this step (PORT_RANGE non-empty, spec §3).
	ServiceCreated bool

	// ContainerCount is len(COMMAND_MATRIX): the number of containers in
	// this step's pod, recorded for later completion checking (spec
	// §4.D.4).
	ContainerCount int

	// Created reports whether Create-Job succeeded for this step.
	Created bool

	// Deleted reports whether the step's job (and Service, if any) has
	// been removed from the cluster.
	Deleted bool

	// LastJobStatus and LastPodStatus cache the most recent inspection
	// result for this step.
	LastJobStatus types.JobStatus
	LastPodStatus types.PodStatus
}

// IsServerProcess reports whether this step's template declared a
// PORT_RANGE (spec §9: such steps are considered complete as soon as
// their Service exists, not on self-termination).
func (s *StepRuntime) IsServerProcess() bool {
	return s.Template != nil && s.Template.IsServerProcess()
}

// Run is one workflow execution, owned by the supervisor's active-run
// list from acceptance to terminal state (spec §3).
type Run struct {
	ID           types.RunID
	WorkflowType string

	// JobType is the current step; RunStatus is the FSM state. Spec §9
	// models these as an explicit pair inspected at the top of each
	// per-tick handler rather than ad-hoc map keys.
	JobType types.JobType
	Status  types.RunStatus

	// ErrorDetected latches true the first time any step on this run fails
	// (spec §8 scenarios C/D: terminal status must read Error even when the
	// cleanup step itself, final-staging, completes successfully). Transition
	// 2's normal "workflow reached NEXT_JOB_TYPE == complete" path flips
	// Status to Complete regardless of how it got there; handleComplete
	// consults this flag to report the run's true terminal status.
	ErrorDetected bool

	RunStart time.Time
	Debug    bool
	FakeJobs bool

	// WorkflowJobs is the set of job-types present in this run's
	// workflow, used to pass boolean flags to containers (spec §3).
	WorkflowJobs map[types.JobType]bool

	// RequestParams carries the workflow-family-specific fields off the
	// original run_data mapping (e.g. downloadurl, adcirc.gridname) that
	// the translator substitutes into command lines (spec §4.F).
	RequestParams map[string]string

	// Steps maps every job-type this run has touched to its runtime
	// record. Per spec invariant 3, the subset with Created && !Deleted
	// must be a subset of {current step} ∪ {server steps already
	// completed}.
	Steps map[types.JobType]*StepRuntime

	provenance strings.Builder
}

// New creates a Run in state New with the given id, workflow type, and
// first job type, validated and ready for admission onto the active-run
// list.
func New(id types.RunID, workflowType string, firstJobType types.JobType, requestParams map[string]string, debug, fakeJobs bool, workflowJobs map[types.JobType]bool) *Run {
	return &Run{
		ID:            id,
		WorkflowType:  workflowType,
		JobType:       firstJobType,
		Status:        types.RunStatusNew,
		RunStart:      time.Now(),
		Debug:         debug,
		FakeJobs:      fakeJobs,
		WorkflowJobs:  workflowJobs,
		RequestParams: requestParams,
		Steps:         make(map[types.JobType]*StepRuntime),
	}
}

// AppendProvenance extends the run's status-provenance string. Provenance
// is append-only for the lifetime of the run (spec invariant 2); the
// accumulated text is what the state machine hands to the database
// adapter's UpdateProvenance call.
func (r *Run) AppendProvenance(format string, args ...any) {
	if r.provenance.Len() > 0 {
		r.provenance.WriteString(", ")
	}
	fmt.Fprintf(&r.provenance, format, args...)
}

// Provenance returns the full accumulated provenance text.
func (r *Run) Provenance() string {
	return r.provenance.String()
}

// Step returns the runtime record for jobType, creating an empty one if
// this is the first time the run has touched it.
func (r *Run) Step(jobType types.JobType) *StepRuntime {
	step, ok := r.Steps[jobType]
	if !ok {
		step = &StepRuntime{}
		r.Steps[jobType] = step
	}
	return step
}

// HasStep reports whether jobType has already been created on this run
// (used to decide whether advancing to NEXT_JOB_TYPE requires a fresh
// Create or re-enters an already-running step, spec §4.F transition 2).
func (r *Run) HasStep(jobType types.JobType) bool {
	_, ok := r.Steps[jobType]
	return ok
}

// LiveJobs returns every step that has been created but not yet deleted,
// used by the cleanup sweep and by invariant-checking tests (spec
// invariant 3).
func (r *Run) LiveJobs() []types.JobType {
	var live []types.JobType
	for jobType, step := range r.Steps {
		if step.Created && !step.Deleted {
			live = append(live, jobType)
		}
	}
	return live
}

// Duration returns the elapsed wall-clock time since RunStart, used to
// build the "run complete in X minutes Y seconds" provenance line (spec
// scenario A).
func (r *Run) Duration() time.Duration {
	return time.Since(r.RunStart)
}

// FormatDuration renders d as "X minutes Y seconds", matching the
// provenance text scenario A expects verbatim.
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	minutes := total / 60
	seconds := total % 60
	return fmt.Sprintf("%d minutes %d seconds", minutes, seconds)
}
