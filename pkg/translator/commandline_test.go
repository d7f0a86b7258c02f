package translator

import (
	"strings"
	"testing"

	"github.com/apsviz/workflow-supervisor/pkg/catalog"
	"github.com/apsviz/workflow-supervisor/pkg/run"
	"github.com/apsviz/workflow-supervisor/pkg/types"
)

func newTestRunWithParams(t *testing.T, params map[string]string) *run.Run {
	t.Helper()
	id, err := types.ParseRunID("1-x-y")
	if err != nil {
		t.Fatalf("ParseRunID error: %v", err)
	}
	return run.New(id, "ASGS", "obs-mod-ast", params, false, false, nil)
}

func TestCommandLineAdditionsRewritesTHREDDSURL(t *testing.T) {
	r := newTestRunWithParams(t, map[string]string{
		"downloadurl":     "https://example.org/thredds/fileServer/ASGS/2026",
		"adcirc.gridname": "hsofs",
	})
	tmpl := &catalog.StepTemplate{DataMountPath: "/data", SubPath: "runs"}

	additions := commandLineAdditions(r, "obs-mod-ast", tmpl)

	joined := strings.Join(additions, " ")
	if !strings.Contains(joined, "https://example.org/thredds/dodsC/ASGS/2026/fort.63.nc") {
		t.Errorf("commandLineAdditions = %v, want a rewritten dodsC URL ending in /fort.63.nc", additions)
	}
	if !strings.Contains(joined, "hsofs") {
		t.Errorf("commandLineAdditions = %v, want the grid name carried through", additions)
	}
}

func TestCommandLineAdditionsInitialStagingCarriesRunID(t *testing.T) {
	r := newTestRunWithParams(t, map[string]string{"request_group": "asgs2026"})
	tmpl := &catalog.StepTemplate{DataMountPath: "/data"}

	additions := commandLineAdditions(r, jobTypeInitialStaging, tmpl)

	joined := strings.Join(additions, " ")
	if !strings.Contains(joined, "--run_id 1-x-y") {
		t.Errorf("commandLineAdditions = %v, want --run_id 1-x-y", additions)
	}
	if !strings.Contains(joined, "--run_dir /data/asgs2026") {
		t.Errorf("commandLineAdditions = %v, want --run_dir /data/asgs2026", additions)
	}
	if !strings.Contains(joined, "--step_type initial") {
		t.Errorf("commandLineAdditions = %v, want --step_type initial", additions)
	}
}

func TestCommandLineAdditionsGeotiff2CogUsesInputParam(t *testing.T) {
	r := newTestRunWithParams(t, nil)
	tmpl := &catalog.StepTemplate{DataMountPath: "/data", SubPath: "runs"}

	additions := commandLineAdditions(r, jobTypeGeotiff2Cog, tmpl)

	joined := strings.Join(additions, " ")
	if !strings.Contains(joined, "--inputParam") {
		t.Errorf("commandLineAdditions(geotiff2cog) = %v, want --inputParam", additions)
	}
	if strings.Contains(joined, "--inputFile") {
		t.Errorf("commandLineAdditions(geotiff2cog) = %v, want no --inputFile (only adcirc2cog-tiff/adcirctime-to-cog use it)", additions)
	}
}

func TestCommandLineAdditionsAdcirc2CogTiffUsesInputFile(t *testing.T) {
	r := newTestRunWithParams(t, nil)
	tmpl := &catalog.StepTemplate{DataMountPath: "/data", SubPath: "runs"}

	additions := commandLineAdditions(r, jobTypeAdcirc2CogTiff, tmpl)

	joined := strings.Join(additions, " ")
	if !strings.Contains(joined, "--inputFile") {
		t.Errorf("commandLineAdditions(adcirc2cog-tiff) = %v, want --inputFile", additions)
	}
}

func TestCommandLineAdditionsUnknownJobTypeIsNil(t *testing.T) {
	r := newTestRunWithParams(t, nil)
	tmpl := &catalog.StepTemplate{}
	if additions := commandLineAdditions(r, "pgsql-server", tmpl); additions != nil {
		t.Errorf("commandLineAdditions(pgsql-server) = %v, want nil (command fully defined by template)", additions)
	}
}

func TestRewriteTHREDDSURLAppendsFort63(t *testing.T) {
	got := rewriteTHREDDSURL("https://host/thredds/fileServer/x")
	want := "https://host/thredds/dodsC/x/fort.63.nc"
	if got != want {
		t.Errorf("rewriteTHREDDSURL = %q, want %q", got, want)
	}
}
