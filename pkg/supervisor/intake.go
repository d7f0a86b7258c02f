package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/apsviz/workflow-supervisor/pkg/run"
	"github.com/apsviz/workflow-supervisor/pkg/types"
)

// sentinelNoRows is the literal value get_new_runs returns when the
// queue is empty (spec §4.B, §6): "-1" rather than an empty array.
var sentinelNoRows = []byte("-1")

// rawNewRun mirrors one {run_id, run_data} entry returned by
// get_new_runs (spec §4.B).
type rawNewRun struct {
	RunID   string            `json:"run_id"`
	RunData map[string]string `json:"run_data"`
}

// decodeNewRuns parses the raw get_new_runs document into rawNewRun
// entries. A bare "-1" sentinel (with or without surrounding whitespace)
// yields an empty, non-error result (spec §4.B: "callers must treat
// [-1] as 'no work'").
func decodeNewRuns(raw []byte) ([]rawNewRun, error) {
	if bytes.Equal(bytes.TrimSpace(raw), sentinelNoRows) {
		return nil, nil
	}
	var runs []rawNewRun
	if err := json.Unmarshal(raw, &runs); err != nil {
		return nil, fmt.Errorf("decoding get_new_runs: %w", err)
	}
	return runs, nil
}

// requiredParamsByFamily enumerates the workflow-family-specific request
// parameters a run must carry before admission (spec §4.F). Families not
// listed here require only "workflow-type", which is validated
// unconditionally below.
var requiredParamsByFamily = map[string][]string{
	"ASGS":   {"downloadurl", "adcirc.gridname", "instancename", "stormnumber", "physical_location"},
	"HSOFS":  {"downloadurl", "adcirc.gridname", "instancename", "stormnumber", "physical_location"},
	"NSEM":   {"downloadurl", "adcirc.gridname", "instancename"},
	"ECFLOW": {"instancename", "physical_location"},
}

const supervisorJobStatusKey = "supervisor_job_status"

// admissionStatuses are the only supervisor_job_status values that admit
// a queued row onto the active-run list (spec §3: "created: on first
// sighting in the DB queue with status new or debug").
var admissionStatuses = map[string]bool{"new": true, "debug": true}

// validateRequiredParams checks runData against the family's required
// parameter list, returning the names of every missing key (spec §4.F:
// "A missing required parameter yields a single provenance update").
func validateRequiredParams(workflowType string, runData map[string]string) []string {
	required := append([]string{"workflow-type"}, requiredParamsByFamily[workflowType]...)
	var missing []string
	for _, key := range required {
		if runData[key] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// admit validates and constructs a *run.Run from one queued request. The
// returned provenance string, when non-empty, must be written to the DB
// for raw.RunID even though the run is not (or not yet) on the active
// list — duplicate rejection and validation failures are both
// drop-before-admission outcomes that still need one provenance line
// (spec §4.F, §4.G step 3).
func (s *Supervisor) admit(ctx context.Context, raw rawNewRun) (r *run.Run, provenance string, ok bool) {
	status := raw.RunData[supervisorJobStatusKey]
	if !admissionStatuses[status] {
		return nil, "", false
	}

	runID, err := types.ParseRunID(raw.RunID)
	if err != nil {
		supervisorLog.Warn().Err(err).Str("run_id", raw.RunID).Msg("rejecting run with malformed run id")
		return nil, "", false
	}

	if _, active := s.activeRuns[runID.String()]; active {
		return nil, "Duplicate run rejected.", false
	}

	workflowType := raw.RunData["workflow-type"]
	if missing := validateRequiredParams(workflowType, raw.RunData); len(missing) > 0 {
		return nil, fmt.Sprintf("Error - Run lacks the required run properties (%v)", missing), false
	}

	wf, ok := s.catalog.Workflows[workflowType]
	if !ok {
		return nil, fmt.Sprintf("Error - unknown workflow type %q", workflowType), false
	}

	firstJob, err := s.db.GetFirstJob(ctx, workflowType)
	if err != nil {
		return nil, fmt.Sprintf("Error - could not resolve first job for workflow %q: %v", workflowType, err), false
	}

	if err := s.catalog.ValidateParallel(workflowType, firstJob); err != nil {
		return nil, fmt.Sprintf("Error - %v", err), false
	}

	debug := status == "debug"
	workflowJobs := run.DescribeWorkflowJobs(wf)
	newRun := run.New(runID, workflowType, firstJob, raw.RunData, debug, s.cfg.FakeJobs, workflowJobs)

	return newRun, "New run accepted for processing.", true
}
