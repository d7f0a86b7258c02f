// Package translator is the Cluster Translator (spec §4.D): it
// materializes a job template plus per-run parameters into a batch-job
// manifest, submits it to the cluster, and tears it down again. It is
// the one component whose contract is coupled tightly enough to the Run
// State Machine that both live in this module's core (spec §1).
package translator

import (
	"context"
	"fmt"
	"strings"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/apsviz/workflow-supervisor/pkg/catalog"
	"github.com/apsviz/workflow-supervisor/pkg/config"
	"github.com/apsviz/workflow-supervisor/pkg/log"
	"github.com/apsviz/workflow-supervisor/pkg/run"
	"github.com/apsviz/workflow-supervisor/pkg/types"
)

var translatorLog = log.WithComponent("translator")

// supervisorSecretName is the cluster Secret every env-var in
// config.Config.Secrets is sourced from (spec §4.A: "Secret lookups are
// a fixed list of (env-var-name, secret-key-name) pairs").
const supervisorSecretName = "supervisor-secrets"

// secretsVolumeSize is the size of the /dev/shm tmpfs mount attached to
// DB-like server steps (spec §4.D.3).
const secretsVolumeSize = dbShmVolumeSize

// Translator implements run.JobCreator against a real Kubernetes batch +
// core API.
type Translator struct {
	clientset kubernetes.Interface
	cfg       *config.Config
}

// New builds a Translator bound to clientset and cfg.
func New(clientset kubernetes.Interface, cfg *config.Config) *Translator {
	return &Translator{clientset: clientset, cfg: cfg}
}

// CreateStep implements run.JobCreator. It clones tmpl with the run's
// substitutions applied, builds the Job (and Service, if PORT_RANGE is
// non-empty) manifest, submits it, and records the resulting cluster
// handles on the run's StepRuntime (spec §4.D.1-§4.D.7).
func (t *Translator) CreateStep(ctx context.Context, r *run.Run, jobType types.JobType, tmpl *catalog.StepTemplate) error {
	step := r.Step(jobType)
	step.Template = tmpl
	step.ContainerCount = len(tmpl.CommandMatrix)
	if step.ContainerCount == 0 {
		step.ContainerCount = 1
	}

	jobName := fmt.Sprintf("%s-%s", tmpl.JobName, r.ID.String())
	step.JobName = jobName

	job, err := t.buildJob(r, jobType, tmpl, jobName)
	if err != nil {
		return fmt.Errorf("building job manifest for %s: %w", jobType, err)
	}

	if _, err := t.clientset.BatchV1().Jobs(t.cfg.Namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("creating job %s: %w", jobName, err)
	}

	var svc *corev1.Service
	if tmpl.IsServerProcess() {
		svc = t.buildService(jobName, tmpl)
		if _, err := t.clientset.CoreV1().Services(t.cfg.Namespace).Create(ctx, svc, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("creating service %s: %w", jobName, err)
		}
		step.ServiceCreated = true
	}

	// Sleep CREATE_SLEEP then list jobs by the "app" label to recover the
	// controller-uid assigned by the Job controller (spec §4.D.7, §9
	// supplemented-feature point 4).
	time.Sleep(t.cfg.CreateSleep)

	jobs, err := t.clientset.BatchV1().Jobs(t.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("app=%s", jobName),
	})
	if err != nil {
		translatorLog.Warn().Err(err).Str("job_name", jobName).Msg("failed to list jobs to recover controller-uid")
	} else if len(jobs.Items) > 0 {
		step.ControllerUID = jobs.Items[0].Labels["controller-uid"]
	}

	step.Created = true
	return nil
}

// DeleteStep implements run.JobCreator. Non-forced deletes remove only
// non-server-process jobs, leaving server steps alive until the cleanup
// sweep (spec invariant 3); forced deletes also remove the Service. Debug
// and Error runs skip deletion entirely so operators can inspect the live
// job (spec §4.D.8).
func (t *Translator) DeleteStep(ctx context.Context, r *run.Run, jobType types.JobType, forced bool) error {
	step, ok := r.Steps[jobType]
	if !ok || step.Deleted {
		return nil
	}

	if r.Debug || r.Status == types.RunStatusError {
		return nil
	}

	if step.IsServerProcess() && !forced {
		return nil
	}

	if err := t.deleteJob(ctx, step.JobName); err != nil {
		return err
	}

	if step.ServiceCreated && forced {
		if err := t.deleteService(ctx, step.JobName); err != nil {
			return err
		}
	}

	step.Deleted = true
	return nil
}

// CleanupSweep implements run.JobCreator. It force-deletes every
// server-process step still live on the run, when the run is finalized
// (spec §4.D.9). On Debug and Error runs DeleteStep skips every step, so
// the sweep deletes nothing there.
func (t *Translator) CleanupSweep(ctx context.Context, r *run.Run) error {
	var lastErr error
	for jobType, step := range r.Steps {
		if !step.IsServerProcess() || step.Deleted {
			continue
		}
		if err := t.DeleteStep(ctx, r, jobType, true); err != nil {
			translatorLog.Error().Err(err).Str("run_id", r.ID.String()).Str("job_type", string(jobType)).Msg("cleanup sweep failed to delete step")
			lastErr = err
		}
	}
	return lastErr
}

// deleteJob deletes a Job with foreground propagation and a short grace
// period, swallowing "already deleted" errors (spec §4.D.8).
func (t *Translator) deleteJob(ctx context.Context, jobName string) error {
	propagation := metav1.DeletePropagationForeground
	gracePeriod := int64(5)
	err := t.clientset.BatchV1().Jobs(t.cfg.Namespace).Delete(ctx, jobName, metav1.DeleteOptions{
		PropagationPolicy:  &propagation,
		GracePeriodSeconds: &gracePeriod,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting job %s: %w", jobName, err)
	}
	return nil
}

// deleteService deletes a Service, swallowing "already deleted" errors.
func (t *Translator) deleteService(ctx context.Context, name string) error {
	err := t.clientset.CoreV1().Services(t.cfg.Namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting service %s: %w", name, err)
	}
	return nil
}

// buildJob constructs the batchv1.Job manifest for one step (spec
// §4.D.1-§4.D.6).
func (t *Translator) buildJob(r *run.Run, jobType types.JobType, tmpl *catalog.StepTemplate, jobName string) (*batchv1.Job, error) {
	resources, err := computeResources(tmpl.CPUs, tmpl.Memory, tmpl.Ephemeral, t.cfg.JobLimitMultiplier, t.cfg.CPULimits)
	if err != nil {
		return nil, err
	}
	resourceReqs, err := resources.toResourceRequirements()
	if err != nil {
		return nil, err
	}

	volumes, mounts, err := t.buildVolumes(r, jobType, tmpl)
	if err != nil {
		return nil, err
	}

	additions := commandLineAdditions(r, jobType, tmpl)
	baseCommand := append(append([]string{}, tmpl.CommandLine...), additions...)
	if tmpl.SubPath != "" || tmpl.AdditionalPath != "" {
		baseCommand = append(baseCommand, runDirPath(tmpl, r.ID.String()))
	}

	var env []corev1.EnvVar
	if tmpl.IsServerProcess() {
		env = serverEnv(jobType, dbJobName(r), t.secretEnvVars())
	}
	containers := t.buildContainers(jobName, tmpl, baseCommand, resourceReqs, mounts, env)

	backoffLimit := tmpl.BackoffLimit
	if backoffLimit == 0 {
		backoffLimit = t.cfg.JobBackoffLimit
	}

	labels := map[string]string{
		"app":      jobName,
		"job-name": jobName,
	}

	var nodeSelector map[string]string
	if len(tmpl.NodeType) > 0 {
		nodeSelector = tmpl.NodeType
	}

	podSpec := corev1.PodSpec{
		RestartPolicy: restartPolicy(tmpl.RestartPolicy),
		Containers:    containers,
		Volumes:       volumes,
		NodeSelector:  nodeSelector,
	}

	if tmpl.IsServerProcess() {
		podSpec.SecurityContext = &corev1.PodSecurityContext{
			RunAsUser:  &t.cfg.SecurityContext.RunAsUser,
			RunAsGroup: &t.cfg.SecurityContext.RunAsGroup,
			FSGroup:    &t.cfg.SecurityContext.FSGroup,
		}
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: t.cfg.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       podSpec,
			},
		},
	}

	return job, nil
}

// buildContainers constructs one container per COMMAND_MATRIX entry,
// with empty strings stripped from the assembled command (spec §4.D.4).
func (t *Translator) buildContainers(jobName string, tmpl *catalog.StepTemplate, baseCommand []string, resources corev1.ResourceRequirements, mounts []corev1.VolumeMount, env []corev1.EnvVar) []corev1.Container {
	matrix := tmpl.CommandMatrix
	if len(matrix) == 0 {
		matrix = [][]string{nil}
	}

	containers := make([]corev1.Container, 0, len(matrix))
	for i, entry := range matrix {
		name := jobName
		if len(matrix) > 1 {
			name = fmt.Sprintf("%s-%d", jobName, i)
		}
		command := stripEmpty(append(append([]string{}, baseCommand...), entry...))
		containers = append(containers, corev1.Container{
			Name:         name,
			Image:        tmpl.Image,
			Command:      command,
			Env:          env,
			Resources:    resources,
			VolumeMounts: mounts,
		})
	}
	return containers
}

// stripEmpty removes empty strings from a command-line slice (spec
// §4.D.4: "with empty strings stripped").
func stripEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// restartPolicy maps a template's RESTART_POLICY string onto the
// corev1.RestartPolicy enum, defaulting to Never.
func restartPolicy(raw string) corev1.RestartPolicy {
	switch corev1.RestartPolicy(raw) {
	case corev1.RestartPolicyAlways, corev1.RestartPolicyOnFailure:
		return corev1.RestartPolicy(raw)
	default:
		return corev1.RestartPolicyNever
	}
}

// buildService constructs a ClusterIP Service exposing every port in
// every PORT_RANGE entry, selecting the job's own label (spec §4.D.5).
func (t *Translator) buildService(jobName string, tmpl *catalog.StepTemplate) *corev1.Service {
	var ports []corev1.ServicePort
	for _, pr := range tmpl.PortRange {
		for p := pr.Low; p <= pr.High; p++ {
			ports = append(ports, corev1.ServicePort{
				Name: fmt.Sprintf("p-%d", p),
				Port: int32(p),
			})
		}
	}

	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: t.cfg.Namespace,
			Labels:    map[string]string{"app": jobName},
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: map[string]string{"app": jobName},
			Ports:    ports,
		},
	}
}

// toResourceRequirements converts a resourceSpec into the corev1 type,
// parsing each quantity string (spec §4.D.2).
func (r resourceSpec) toResourceRequirements() (corev1.ResourceRequirements, error) {
	requests := corev1.ResourceList{}
	limits := corev1.ResourceList{}

	cpuReq, err := resource.ParseQuantity(r.CPURequest)
	if err != nil {
		return corev1.ResourceRequirements{}, fmt.Errorf("parsing CPU request %q: %w", r.CPURequest, err)
	}
	requests[corev1.ResourceCPU] = cpuReq

	if r.CPULimit != "" {
		cpuLimit, err := resource.ParseQuantity(r.CPULimit)
		if err != nil {
			return corev1.ResourceRequirements{}, fmt.Errorf("parsing CPU limit %q: %w", r.CPULimit, err)
		}
		limits[corev1.ResourceCPU] = cpuLimit
	}

	memReq, err := resource.ParseQuantity(r.MemoryRequest)
	if err != nil {
		return corev1.ResourceRequirements{}, fmt.Errorf("parsing memory request %q: %w", r.MemoryRequest, err)
	}
	requests[corev1.ResourceMemory] = memReq

	memLimit, err := resource.ParseQuantity(r.MemoryLimit)
	if err != nil {
		return corev1.ResourceRequirements{}, fmt.Errorf("parsing memory limit %q: %w", r.MemoryLimit, err)
	}
	limits[corev1.ResourceMemory] = memLimit

	ephReq, err := resource.ParseQuantity(r.EphemeralRequest)
	if err != nil {
		return corev1.ResourceRequirements{}, fmt.Errorf("parsing ephemeral-storage request %q: %w", r.EphemeralRequest, err)
	}
	requests[corev1.ResourceEphemeralStorage] = ephReq

	ephLimit, err := resource.ParseQuantity(r.EphemeralLimit)
	if err != nil {
		return corev1.ResourceRequirements{}, fmt.Errorf("parsing ephemeral-storage limit %q: %w", r.EphemeralLimit, err)
	}
	limits[corev1.ResourceEphemeralStorage] = ephLimit

	return corev1.ResourceRequirements{Requests: requests, Limits: limits}, nil
}

// secretEnvVars builds the fixed table of (env-var -> secret key)
// references from config (spec §4.A) as corev1.EnvVar SecretKeyRefs,
// never dereferencing the secret value itself.
func (t *Translator) secretEnvVars() []corev1.EnvVar {
	vars := make([]corev1.EnvVar, 0, len(t.cfg.Secrets))
	for _, s := range t.cfg.Secrets {
		vars = append(vars, corev1.EnvVar{
			Name: s.EnvVar,
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: supervisorSecretName},
					Key:                  s.SecretKey,
				},
			},
		})
	}
	return vars
}

// isDBFamily reports whether jobType names a DB-like server process,
// which additionally gets a tmpfs /dev/shm mount (spec §4.D.3). The
// source's job-type families are not a closed enum; this heuristic
// matches any job type whose name starts with "pgsql" or "mysql" or ends
// with "db-server", case-insensitively.
func isDBFamily(jobType types.JobType) bool {
	s := strings.ToLower(string(jobType))
	return strings.HasPrefix(s, "pgsql") || strings.HasPrefix(s, "mysql") || strings.HasSuffix(s, "db-server")
}

// dbJobName returns the generated job name of the sibling DB step in the
// same run, used as DB_HOST for server processes that depend on it (spec
// §4.D.6).
func dbJobName(r *run.Run) string {
	for jobType, step := range r.Steps {
		if isDBFamily(jobType) && step.JobName != "" {
			return step.JobName
		}
	}
	return ""
}

