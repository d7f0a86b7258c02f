// Package catalog normalizes the job-definition rows returned by
// get_job_defs into an in-memory map: workflow-type -> job-type -> step
// template (spec §3, §4.C). JSON-encoded array columns are decoded once
// here; nothing downstream re-parses them. The order in which the
// database lists a workflow's job types is not kept.
package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/apsviz/workflow-supervisor/pkg/types"
)

// CompleteJobType is the sentinel NEXT_JOB_TYPE value that marks the end
// of a workflow.
const CompleteJobType = types.JobType("complete")

// PortRange is one [lo, hi] inclusive port pair from a step template's
// PORT_RANGE column.
type PortRange struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

// StepTemplate is the decoded, immutable per-workflow record described in
// spec §3. FileServer* are parallel slices: index i of each describes one
// attached volume.
type StepTemplate struct {
	JobType       types.JobType
	JobName       string
	Image         string
	CommandLine   []string
	CommandMatrix [][]string
	NextJobType   types.JobType
	Parallel      []types.JobType

	CPUs            string
	Memory          string
	Ephemeral       string
	RestartPolicy   string
	NodeType        map[string]string
	BackoffLimit    int32

	DataVolumeName string
	DataMountPath  string
	SubPath        string
	AdditionalPath string

	FileServerVolumeName []string
	FileServerMountPath  []string
	FileServerVolumeSize []string

	PortRange []PortRange
}

// IsServerProcess reports whether this step declares a non-empty
// PORT_RANGE and therefore requires a cluster Service and is treated as
// complete once that Service exists (spec §9).
func (s *StepTemplate) IsServerProcess() bool {
	return len(s.PortRange) > 0
}

// Workflow is the job-type -> step template mapping for one
// workflow-type. Steps is a Go map and does not keep the database order.
type Workflow struct {
	Steps map[types.JobType]*StepTemplate
}

// Catalog is the full, refreshed-every-tick set of workflow definitions.
type Catalog struct {
	Workflows map[string]*Workflow
}

// Step looks up a single step template by workflow-type and job-type.
func (c *Catalog) Step(workflowType string, jobType types.JobType) (*StepTemplate, error) {
	wf, ok := c.Workflows[workflowType]
	if !ok {
		return nil, fmt.Errorf("catalog: unknown workflow type %q", workflowType)
	}
	step, ok := wf.Steps[jobType]
	if !ok {
		return nil, fmt.Errorf("catalog: workflow %q has no job type %q", workflowType, jobType)
	}
	return step, nil
}

// ValidateParallel fails closed if any job-type named in a step's
// PARALLEL list does not exist in the same workflow (spec §4.C: "Unknown
// job-type strings in PARALLEL fail closed").
func (c *Catalog) ValidateParallel(workflowType string, jobType types.JobType) error {
	step, err := c.Step(workflowType, jobType)
	if err != nil {
		return err
	}
	for _, sibling := range step.Parallel {
		if _, ok := c.Workflows[workflowType].Steps[sibling]; !ok {
			return fmt.Errorf("catalog: workflow %q step %q names unknown PARALLEL job type %q", workflowType, jobType, sibling)
		}
	}
	return nil
}

// rawStepTemplate mirrors one job-type's row exactly as the database
// returns it: the four array columns arrive as JSON-encoded strings and
// need a second unmarshal pass.
type rawStepTemplate struct {
	JobName       string          `json:"JOB_NAME"`
	Image         string          `json:"IMAGE"`
	CommandLine   string          `json:"COMMAND_LINE"`
	CommandMatrix string          `json:"COMMAND_MATRIX"`
	NextJobType   string          `json:"NEXT_JOB_TYPE"`
	Parallel      string          `json:"PARALLEL"`

	CPUs          string            `json:"CPUS"`
	Memory        string            `json:"MEMORY"`
	Ephemeral     string            `json:"EPHEMERAL"`
	RestartPolicy string            `json:"RESTART_POLICY"`
	NodeType      map[string]string `json:"NODE_TYPE"`
	BackoffLimit  int32             `json:"BACKOFF_LIMIT"`

	DataVolumeName string `json:"DATA_VOLUME_NAME"`
	DataMountPath  string `json:"DATA_MOUNT_PATH"`
	SubPath        string `json:"SUB_PATH"`
	AdditionalPath string `json:"ADDITIONAL_PATH"`

	FileServerVolumeName string `json:"FILESVR_VOLUME_NAME"`
	FileServerMountPath  string `json:"FILESVR_MOUNT_PATH"`
	FileServerVolumeSize string `json:"FILESVR_VOLUME_SIZE"`

	PortRange string `json:"PORT_RANGE"`
}

// rawJobEntry is one {job_type: step_template} object from the array
// under a workflow type.
type rawJobEntry map[types.JobType]rawStepTemplate

// rawWorkflowEntry is one {workflow_type: [job entries]} object from the
// top-level get_job_defs array.
type rawWorkflowEntry map[string][]rawJobEntry

// Load parses the raw get_job_defs_json document into a Catalog,
// decoding the JSON-encoded array columns exactly once.
func Load(raw []byte) (*Catalog, error) {
	var entries []rawWorkflowEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("catalog: decoding job defs: %w", err)
	}

	cat := &Catalog{Workflows: make(map[string]*Workflow)}

	for _, entry := range entries {
		for workflowType, jobEntries := range entry {
			wf, ok := cat.Workflows[workflowType]
			if !ok {
				wf = &Workflow{Steps: make(map[types.JobType]*StepTemplate)}
				cat.Workflows[workflowType] = wf
			}
			for _, jobEntry := range jobEntries {
				for jobType, raw := range jobEntry {
					step, err := decodeStep(jobType, raw)
					if err != nil {
						return nil, fmt.Errorf("catalog: workflow %q job %q: %w", workflowType, jobType, err)
					}
					wf.Steps[jobType] = step
				}
			}
		}
	}

	return cat, nil
}

func decodeStep(jobType types.JobType, raw rawStepTemplate) (*StepTemplate, error) {
	step := &StepTemplate{
		JobType:        jobType,
		JobName:        raw.JobName,
		Image:          raw.Image,
		NextJobType:    types.JobType(raw.NextJobType),
		CPUs:           raw.CPUs,
		Memory:         raw.Memory,
		Ephemeral:      raw.Ephemeral,
		RestartPolicy:  raw.RestartPolicy,
		NodeType:       raw.NodeType,
		BackoffLimit:   raw.BackoffLimit,
		DataVolumeName: raw.DataVolumeName,
		DataMountPath:  raw.DataMountPath,
		SubPath:        raw.SubPath,
		AdditionalPath: raw.AdditionalPath,
	}

	if err := decodeJSONField(raw.CommandLine, &step.CommandLine); err != nil {
		return nil, fmt.Errorf("COMMAND_LINE: %w", err)
	}
	if err := decodeJSONField(raw.CommandMatrix, &step.CommandMatrix); err != nil {
		return nil, fmt.Errorf("COMMAND_MATRIX: %w", err)
	}

	var parallel []string
	if err := decodeJSONField(raw.Parallel, &parallel); err != nil {
		return nil, fmt.Errorf("PARALLEL: %w", err)
	}
	for _, p := range parallel {
		step.Parallel = append(step.Parallel, types.JobType(p))
	}

	var ranges [][2]int
	if err := decodeJSONField(raw.PortRange, &ranges); err != nil {
		return nil, fmt.Errorf("PORT_RANGE: %w", err)
	}
	for _, r := range ranges {
		step.PortRange = append(step.PortRange, PortRange{Low: r[0], High: r[1]})
	}

	step.FileServerVolumeName = splitCommaList(raw.FileServerVolumeName)
	step.FileServerMountPath = splitCommaList(raw.FileServerMountPath)
	step.FileServerVolumeSize = splitCommaList(raw.FileServerVolumeSize)

	return step, nil
}

// decodeJSONField unmarshals a column whose value is itself a JSON
// document encoded as a string. An empty column is treated as "absent",
// not an error.
func decodeJSONField(raw string, out any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

// splitCommaList splits a FILESVR_* comma-list column; an empty string
// yields a nil slice rather than a single empty entry.
func splitCommaList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] == ',' {
			out = append(out, raw[start:i])
			start = i + 1
		}
	}
	out = append(out, raw[start:])
	return out
}
