package translator

import (
	"fmt"
	"path"
	"strings"

	"github.com/apsviz/workflow-supervisor/pkg/catalog"
	"github.com/apsviz/workflow-supervisor/pkg/run"
	"github.com/apsviz/workflow-supervisor/pkg/types"
)

// Known job-type families whose command line is built rather than taken
// verbatim from the template (spec §4.D command-line table).
const (
	jobTypeInitialStaging    = types.JobType("initial-staging")
	jobTypeFinalStaging      = types.JobType("final-staging")
	jobTypeForensics         = types.JobType("forensics")
	jobTypeAdcirc2CogTiff    = types.JobType("adcirc2cog-tiff")
	jobTypeGeotiff2Cog       = types.JobType("geotiff2cog")
	jobTypeAdcircTimeToCog   = types.JobType("adcirctime-to-cog")
	jobTypeObsModAST         = types.JobType("obs-mod-ast")
	jobTypeASTRunHarvester   = types.JobType("ast-run-harvester")
	jobTypeLoadGeoServer     = types.JobType("load-geo-server")
)

// commandLineAdditions returns the workflow-specific arguments appended
// to a step's base COMMAND_LINE, per the table in spec §4.D. Job types
// not named in the table (DB/server/consumer steps) get no additions:
// their command is fully defined by the template.
func commandLineAdditions(r *run.Run, jobType types.JobType, tmpl *catalog.StepTemplate) []string {
	switch jobType {
	case jobTypeInitialStaging:
		return append(runIDAndDir(r, tmpl), "--step_type", "initial", "--workflow_type", r.WorkflowType)

	case jobTypeFinalStaging:
		return append(runIDAndDir(r, tmpl), "--step_type", "final", "--workflow_type", r.WorkflowType)

	case jobTypeForensics:
		return runIDAndDir(r, tmpl)

	case jobTypeAdcirc2CogTiff, jobTypeAdcircTimeToCog:
		return []string{
			"--inputDir", runScopedPath(tmpl, r, "input"),
			"--outputDir", runScopedPath(tmpl, r, "output"),
			"--finalDir", runScopedPath(tmpl, r, "final"),
			"--inputFile",
		}

	case jobTypeGeotiff2Cog:
		return []string{
			"--inputDir", runScopedPath(tmpl, r, "input"),
			"--outputDir", runScopedPath(tmpl, r, "output"),
			"--finalDir", runScopedPath(tmpl, r, "final"),
			"--inputParam",
		}

	case jobTypeObsModAST, jobTypeASTRunHarvester:
		threddsURL := rewriteTHREDDSURL(r.RequestParams["downloadurl"])
		finalDir := runScopedPath(tmpl, r, "final")
		return []string{
			"--inputURL", threddsURL,
			"--grid", r.RequestParams["adcirc.gridname"],
			"--finalDir", finalDir,
		}

	case jobTypeLoadGeoServer:
		return []string{"--instanceId", r.ID.String()}

	default:
		return nil
	}
}

// runIDAndDir builds the --run_id/--run_dir pair shared by the staging
// and forensics families. run_dir is DATA_MOUNT_PATH/<request_group>
// (spec §4.D table); request_group is a workflow-specific request
// parameter carried on the run (spec §4.F).
func runIDAndDir(r *run.Run, tmpl *catalog.StepTemplate) []string {
	runDir := path.Join(tmpl.DataMountPath, r.RequestParams["request_group"])
	return []string{"--run_id", r.ID.String(), "--run_dir", runDir}
}

// runScopedPath joins DATA_MOUNT_PATH, the run id, SUB_PATH, and a
// caller-supplied leaf directory name, matching the "input/output/final
// dir paths derived from DATA_MOUNT_PATH, run-id, and SUB_PATH" wording
// of spec §4.D's command-line table.
func runScopedPath(tmpl *catalog.StepTemplate, r *run.Run, leaf string) string {
	return path.Join(tmpl.DataMountPath, r.ID.String(), tmpl.SubPath, leaf)
}

// rewriteTHREDDSURL rewrites a run's downloadurl request parameter's
// "fileServer" path segment to "dodsC" and appends "/fort.63.nc" (spec
// §4.D table, §9 supplemented-feature point 6: always derive from
// downloadurl, never hard-code).
func rewriteTHREDDSURL(downloadURL string) string {
	rewritten := strings.Replace(downloadURL, "fileServer", "dodsC", 1)
	return rewritten + "/fort.63.nc"
}

// runDirPath builds the DATA_MOUNT_PATH + SUB_PATH + ADDITIONAL_PATH
// path appended to the command line when a step's SUB_PATH is extended
// with the run id (spec §4.D.1).
func runDirPath(tmpl *catalog.StepTemplate, runID string) string {
	subPath := tmpl.SubPath
	if subPath != "" {
		subPath = path.Join(subPath, runID)
	}
	return fmt.Sprintf("%s%s%s", tmpl.DataMountPath, subPath, tmpl.AdditionalPath)
}
