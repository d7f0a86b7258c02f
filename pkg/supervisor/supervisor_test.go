package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/apsviz/workflow-supervisor/pkg/catalog"
	"github.com/apsviz/workflow-supervisor/pkg/config"
	"github.com/apsviz/workflow-supervisor/pkg/run"
	"github.com/apsviz/workflow-supervisor/pkg/types"
)

type fakeDBAdapter struct {
	firstJob    types.JobType
	firstJobErr error
	provenance  map[string]string
}

func (f *fakeDBAdapter) UpdateProvenance(ctx context.Context, runID types.RunID, provenance string) error {
	if f.provenance == nil {
		f.provenance = make(map[string]string)
	}
	f.provenance[runID.String()] = provenance
	return nil
}

func (f *fakeDBAdapter) GetJobDefs(ctx context.Context) ([]byte, error) { return nil, nil }
func (f *fakeDBAdapter) GetNewRuns(ctx context.Context) ([]byte, error) { return nil, nil }
func (f *fakeDBAdapter) GetFirstJob(ctx context.Context, workflowType string) (types.JobType, error) {
	return f.firstJob, f.firstJobErr
}

func asgsCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Workflows: map[string]*catalog.Workflow{
			"ASGS": {
				Steps: map[types.JobType]*catalog.StepTemplate{
					"initial-staging": {JobType: "initial-staging", JobName: "initial-staging", NextJobType: types.JobTypeComplete},
				},
			},
		},
	}
}

func testSupervisor(db *fakeDBAdapter, cat *catalog.Catalog) *Supervisor {
	return &Supervisor{
		cfg:        &config.Config{},
		db:         db,
		catalog:    cat,
		activeRuns: make(map[string]*run.Run),
	}
}

func validASGSRunData() map[string]string {
	return map[string]string{
		"supervisor_job_status": "new",
		"workflow-type":         "ASGS",
		"downloadurl":           "https://example.org/thredds/fileServer/ASGS/2026",
		"adcirc.gridname":       "hsofs",
		"instancename":          "run1",
		"stormnumber":           "09",
		"physical_location":     "renci",
	}
}

func TestAdmitRejectsMissingRequiredParams(t *testing.T) {
	db := &fakeDBAdapter{firstJob: "initial-staging"}
	s := testSupervisor(db, asgsCatalog())

	raw := rawNewRun{RunID: "1-x-y", RunData: map[string]string{
		"supervisor_job_status": "new",
		"workflow-type":         "ASGS",
	}}

	r, provenance, ok := s.admit(context.Background(), raw)
	if ok || r != nil {
		t.Fatalf("admit() ok=%v r=%v, want rejected", ok, r)
	}
	if provenance == "" {
		t.Error("admit() returned no provenance for a validation failure")
	}
}

func TestAdmitRejectsDuplicateRun(t *testing.T) {
	db := &fakeDBAdapter{firstJob: "initial-staging"}
	s := testSupervisor(db, asgsCatalog())

	id, err := types.ParseRunID("1-x-y")
	if err != nil {
		t.Fatalf("ParseRunID error: %v", err)
	}
	s.activeRuns[id.String()] = run.New(id, "ASGS", "initial-staging", nil, false, false, nil)

	raw := rawNewRun{RunID: "1-x-y", RunData: validASGSRunData()}
	r, provenance, ok := s.admit(context.Background(), raw)
	if ok || r != nil {
		t.Fatalf("admit() ok=%v r=%v, want rejected as duplicate", ok, r)
	}
	if provenance != "Duplicate run rejected." {
		t.Errorf("provenance = %q, want %q", provenance, "Duplicate run rejected.")
	}
}

func TestAdmitAcceptsValidRun(t *testing.T) {
	db := &fakeDBAdapter{firstJob: "initial-staging"}
	s := testSupervisor(db, asgsCatalog())

	raw := rawNewRun{RunID: "1-x-y", RunData: validASGSRunData()}
	r, provenance, ok := s.admit(context.Background(), raw)
	if !ok || r == nil {
		t.Fatalf("admit() ok=%v r=%v, want accepted", ok, r)
	}
	if r.JobType != "initial-staging" {
		t.Errorf("r.JobType = %v, want initial-staging", r.JobType)
	}
	if provenance != "New run accepted for processing." {
		t.Errorf("provenance = %q, want acceptance text", provenance)
	}
}

func TestAdmitIgnoresRowsNotAwaitingAdmission(t *testing.T) {
	db := &fakeDBAdapter{firstJob: "initial-staging"}
	s := testSupervisor(db, asgsCatalog())

	data := validASGSRunData()
	data["supervisor_job_status"] = "running"
	raw := rawNewRun{RunID: "1-x-y", RunData: data}

	_, provenance, ok := s.admit(context.Background(), raw)
	if ok || provenance != "" {
		t.Errorf("admit() on a non-admission status: ok=%v provenance=%q, want silently ignored", ok, provenance)
	}
}

func TestDecodeNewRunsTreatsSentinelAsEmpty(t *testing.T) {
	runs, err := decodeNewRuns([]byte("-1"))
	if err != nil {
		t.Fatalf("decodeNewRuns error: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("decodeNewRuns(-1) = %v, want empty", runs)
	}
}

func TestDecodeNewRunsParsesArray(t *testing.T) {
	raw := []byte(`[{"run_id":"1-x-y","run_data":{"workflow-type":"ASGS"}}]`)
	runs, err := decodeNewRuns(raw)
	if err != nil {
		t.Fatalf("decodeNewRuns error: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "1-x-y" {
		t.Errorf("decodeNewRuns = %+v, want one entry with run_id 1-x-y", runs)
	}
}

func TestValidateRequiredParamsByFamily(t *testing.T) {
	if missing := validateRequiredParams("ASGS", map[string]string{"workflow-type": "ASGS"}); len(missing) == 0 {
		t.Error("validateRequiredParams(ASGS) with no family params reported nothing missing")
	}
	full := validASGSRunData()
	if missing := validateRequiredParams("ASGS", full); len(missing) != 0 {
		t.Errorf("validateRequiredParams(ASGS) = %v, want none missing for a complete request", missing)
	}
}

func TestPaceAndWatchdogCompressesPollCadence(t *testing.T) {
	s := &Supervisor{
		cfg: &config.Config{
			MaxNoActivityCount: 2,
			PollShortSleep:     1 * time.Second,
			PollLongSleep:      10 * time.Second,
		},
		lastRunTime: time.Now(),
	}

	if got := s.paceAndWatchdog(true); got != s.cfg.PollShortSleep {
		t.Errorf("active tick sleep = %v, want PollShortSleep", got)
	}
	if s.noActivityCounter != 0 {
		t.Errorf("noActivityCounter after activity = %d, want 0", s.noActivityCounter)
	}

	s.paceAndWatchdog(false)
	if got := s.paceAndWatchdog(false); got != s.cfg.PollLongSleep {
		t.Errorf("sleep after %d idle ticks = %v, want PollLongSleep", s.noActivityCounter, got)
	}
}

func TestAnnouncePauseTransitionOnlyLogsOnChange(t *testing.T) {
	s := &Supervisor{cfg: &config.Config{}}

	s.announcePauseTransition(true)
	if !s.wasAnnouncedPaused {
		t.Error("wasAnnouncedPaused not set after first pause announcement")
	}

	s.announcePauseTransition(true)
	if !s.wasAnnouncedPaused {
		t.Error("wasAnnouncedPaused flipped on a repeated announcement with no change")
	}

	s.announcePauseTransition(false)
	if s.wasAnnouncedPaused {
		t.Error("wasAnnouncedPaused still true after the sentinel was removed")
	}
}
