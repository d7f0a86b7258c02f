package translator

import (
	"context"
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"github.com/apsviz/workflow-supervisor/pkg/catalog"
	"github.com/apsviz/workflow-supervisor/pkg/config"
	"github.com/apsviz/workflow-supervisor/pkg/run"
	"github.com/apsviz/workflow-supervisor/pkg/types"
)

func testConfig() *config.Config {
	return &config.Config{
		Namespace:          "apsviz",
		DataPVCClaim:       "apsviz-data",
		JobBackoffLimit:    2,
		JobLimitMultiplier: 0.5,
	}
}

func newRun(t *testing.T, rawID string) *run.Run {
	t.Helper()
	id, err := types.ParseRunID(rawID)
	if err != nil {
		t.Fatalf("ParseRunID(%q) error: %v", rawID, err)
	}
	return run.New(id, "ASGS", "staging", map[string]string{"request_group": "asgs2026"}, false, false, nil)
}

func TestCreateStepBuildsJobWithExpectedLabelsAndContainers(t *testing.T) {
	clientset := k8sfake.NewSimpleClientset()
	tr := New(clientset, testConfig())
	r := newRun(t, "1-x-y")

	tmpl := &catalog.StepTemplate{
		JobName:        "staging",
		Image:          "asgs/staging:latest",
		CommandLine:    []string{"/bin/run-staging"},
		CommandMatrix:  [][]string{{""}},
		DataVolumeName: "data",
		DataMountPath:  "/data",
		CPUs:           "500m",
		Memory:         "1Gi",
	}

	if err := tr.CreateStep(context.Background(), r, "staging", tmpl); err != nil {
		t.Fatalf("CreateStep error: %v", err)
	}

	step := r.Steps[types.JobType("staging")]
	if !step.Created {
		t.Fatal("step.Created = false, want true")
	}
	wantJobName := "staging-1-x-y"
	if step.JobName != wantJobName {
		t.Errorf("step.JobName = %q, want %q", step.JobName, wantJobName)
	}

	job, err := clientset.BatchV1().Jobs("apsviz").Get(context.Background(), wantJobName, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("job %q not found in cluster: %v", wantJobName, err)
	}
	if job.Labels["app"] != wantJobName || job.Labels["job-name"] != wantJobName {
		t.Errorf("job labels = %v, want app and job-name both %q", job.Labels, wantJobName)
	}
	if len(job.Spec.Template.Spec.Containers) != 1 {
		t.Fatalf("containers = %d, want 1", len(job.Spec.Template.Spec.Containers))
	}
}

func TestCreateStepServerProcessAlsoCreatesService(t *testing.T) {
	clientset := k8sfake.NewSimpleClientset()
	tr := New(clientset, testConfig())
	r := newRun(t, "1-x-y")

	tmpl := &catalog.StepTemplate{
		JobName:        "pgsql-server",
		Image:          "postgres:16",
		CommandMatrix:  [][]string{{""}},
		DataVolumeName: "data",
		DataMountPath:  "/data",
		Memory:         "512Mi",
		PortRange:      []catalog.PortRange{{Low: 5432, High: 5432}},
	}

	if err := tr.CreateStep(context.Background(), r, "pgsql-server", tmpl); err != nil {
		t.Fatalf("CreateStep error: %v", err)
	}

	step := r.Steps[types.JobType("pgsql-server")]
	if !step.ServiceCreated {
		t.Fatal("step.ServiceCreated = false, want true for a PORT_RANGE step")
	}

	svc, err := clientset.CoreV1().Services("apsviz").Get(context.Background(), step.JobName, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("service %q not found: %v", step.JobName, err)
	}
	if len(svc.Spec.Ports) != 1 || svc.Spec.Ports[0].Port != 5432 {
		t.Errorf("service ports = %v, want one port 5432", svc.Spec.Ports)
	}
}

func TestDeleteStepSkipsServerProcessUnlessForced(t *testing.T) {
	clientset := k8sfake.NewSimpleClientset()
	tr := New(clientset, testConfig())
	r := newRun(t, "1-x-y")

	tmpl := &catalog.StepTemplate{
		JobName: "pgsql-server", Image: "postgres:16", CommandMatrix: [][]string{{""}},
		DataVolumeName: "data", DataMountPath: "/data", Memory: "512Mi",
		PortRange: []catalog.PortRange{{Low: 5432, High: 5432}},
	}
	if err := tr.CreateStep(context.Background(), r, "pgsql-server", tmpl); err != nil {
		t.Fatalf("CreateStep error: %v", err)
	}

	if err := tr.DeleteStep(context.Background(), r, "pgsql-server", false); err != nil {
		t.Fatalf("DeleteStep (non-forced) error: %v", err)
	}
	if r.Steps["pgsql-server"].Deleted {
		t.Error("non-forced DeleteStep removed a server-process step, want it left alone until CleanupSweep")
	}

	if err := tr.DeleteStep(context.Background(), r, "pgsql-server", true); err != nil {
		t.Fatalf("DeleteStep (forced) error: %v", err)
	}
	if !r.Steps["pgsql-server"].Deleted {
		t.Error("forced DeleteStep left a server-process step undeleted")
	}
}

func TestDeleteStepSkipsDebugRuns(t *testing.T) {
	clientset := k8sfake.NewSimpleClientset()
	tr := New(clientset, testConfig())
	r := newRun(t, "1-x-y")
	r.Debug = true

	tmpl := &catalog.StepTemplate{JobName: "staging", Image: "x", CommandMatrix: [][]string{{""}}, DataVolumeName: "data", DataMountPath: "/data", Memory: "512Mi"}
	if err := tr.CreateStep(context.Background(), r, "staging", tmpl); err != nil {
		t.Fatalf("CreateStep error: %v", err)
	}

	if err := tr.DeleteStep(context.Background(), r, "staging", false); err != nil {
		t.Fatalf("DeleteStep error: %v", err)
	}
	if r.Steps["staging"].Deleted {
		t.Error("DeleteStep removed a step on a Debug run, want it left alone for inspection")
	}
}

func TestCleanupSweepForceDeletesLingeringServerSteps(t *testing.T) {
	clientset := k8sfake.NewSimpleClientset()
	tr := New(clientset, testConfig())
	r := newRun(t, "1-x-y")

	tmpl := &catalog.StepTemplate{
		JobName: "pgsql-server", Image: "postgres:16", CommandMatrix: [][]string{{""}},
		DataVolumeName: "data", DataMountPath: "/data", Memory: "512Mi",
		PortRange: []catalog.PortRange{{Low: 5432, High: 5432}},
	}
	if err := tr.CreateStep(context.Background(), r, "pgsql-server", tmpl); err != nil {
		t.Fatalf("CreateStep error: %v", err)
	}

	if err := tr.CleanupSweep(context.Background(), r); err != nil {
		t.Fatalf("CleanupSweep error: %v", err)
	}
	if !r.Steps["pgsql-server"].Deleted {
		t.Error("CleanupSweep left a server-process step undeleted")
	}

	if _, err := clientset.BatchV1().Jobs("apsviz").Get(context.Background(), r.Steps["pgsql-server"].JobName, metav1.GetOptions{}); err == nil {
		t.Error("job still present in cluster after CleanupSweep")
	}
}
