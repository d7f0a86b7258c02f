// Package config loads the supervisor's base configuration: poll
// intervals, timeouts, cluster identity, and the secret lookup table.
// Configuration is a single static JSON document read once at startup;
// there is no hot reload and no environment-variable override layer
// beyond the documented APP_VERSION/SYSTEM/LOG_LEVEL/LOG_PATH and the
// secret table itself (spec §4.A, §6).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the decoded base configuration document.
type Config struct {
	// Namespace is the Kubernetes namespace the cluster translator
	// operates in.
	Namespace string `json:"namespace"`

	// ClusterContext is decoded from cluster_context. The Kubernetes
	// client built in cmd/supervisor does not read it; an out-of-cluster
	// client uses the kubeconfig's current context.
	ClusterContext string `json:"cluster_context"`

	// DataPVCClaim is the name of the shared data PVC mounted by every
	// step.
	DataPVCClaim string `json:"data_pvc_claim"`

	// NFSServer, NFSPath and NFSMountPath describe the NFS export mounted
	// by server-process steps.
	NFSServer    string `json:"nfs_server"`
	NFSPath      string `json:"nfs_path"`
	NFSMountPath string `json:"nfs_mount_path"`

	// PauseFilePath is the sentinel file whose presence pauses DB intake.
	PauseFilePath string `json:"pause_file_path"`

	// PollShortSleep is the poll interval used until no_activity_counter
	// reaches MaxNoActivityCount.
	PollShortSleep time.Duration `json:"-"`
	// PollLongSleep is the poll interval used once no_activity_counter
	// reaches MaxNoActivityCount.
	PollLongSleep time.Duration `json:"-"`
	// MaxNoActivityCount is the number of consecutive idle ticks before
	// switching to PollLongSleep.
	MaxNoActivityCount int `json:"max_no_activity_count"`
	// CreateSleep is the pause between submitting a job and listing jobs
	// to recover its controller-uid.
	CreateSleep time.Duration `json:"-"`
	// SVInactivity is the threshold, in hours, after which the watchdog
	// emits an inactivity alert if nothing has run.
	SVInactivity time.Duration `json:"-"`

	// JobBackoffLimit is the default Kubernetes Job backoffLimit applied
	// to every step unless the step template overrides it.
	JobBackoffLimit int32 `json:"job_backoff_limit"`
	// JobTimeout bounds how long a single step may run before the
	// inspector reports Timeout.
	JobTimeout time.Duration `json:"-"`
	// JobLimitMultiplier scales a step's resource request into its
	// resource limit: limit = request * (1 + JobLimitMultiplier).
	JobLimitMultiplier float64 `json:"job_limit_multiplier"`
	// CPULimits controls whether a CPU limit is set at all; when false,
	// only a CPU request is applied (spec §4.D.2).
	CPULimits bool `json:"cpu_limits"`

	// SecurityContext carries the fixed run-as-user/group/fs-group
	// applied to server-process pods that mount the NFS export.
	SecurityContext SecurityContext `json:"security_context"`

	// Secrets is the fixed table of (env var name -> secret key name)
	// pairs exposed to the cluster translator (spec §4.A).
	Secrets []SecretRef `json:"secrets"`

	// FakeJobs, when true, makes the job inspector report every job
	// Complete/Succeeded immediately rather than querying the cluster.
	// Used for dry-run / debug workflows (spec §4.E).
	FakeJobs bool `json:"fake_jobs"`

	rawDurations rawDurations
}

// SecurityContext holds the fixed pod security settings applied to
// server-process steps that mount the NFS share.
type SecurityContext struct {
	RunAsUser  int64 `json:"run_as_user"`
	RunAsGroup int64 `json:"run_as_group"`
	FSGroup    int64 `json:"fs_group"`
}

// SecretRef names one entry in the secret lookup table: EnvVar is the
// environment variable name injected into cluster pods, SecretKey is the
// key within the cluster secret store it is sourced from.
type SecretRef struct {
	EnvVar    string `json:"env_var"`
	SecretKey string `json:"secret_key"`
}

// rawDurations mirrors the JSON-numeric (seconds) fields that are decoded
// into time.Duration after unmarshal, since the wire format stores plain
// integers, not Go duration strings.
type rawDurations struct {
	PollShortSleep     int `json:"poll_short_sleep"`
	PollLongSleep      int `json:"poll_long_sleep"`
	CreateSleep        int `json:"create_sleep"`
	SVInactivityHours  int `json:"sv_inactivity_hours"`
	JobTimeoutSeconds  int `json:"job_timeout_seconds"`
}

// requiredKeys are checked for presence before a decoded Config is
// considered valid; their values are not checked. Missing any
// one of them aborts the process (spec §4.A: "Fails fast if any key is
// missing").
var requiredKeys = []string{
	"namespace",
	"data_pvc_claim",
	"pause_file_path",
	"max_no_activity_count",
	"job_backoff_limit",
}

// Load reads and validates the base configuration document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := checkRequiredKeys(data); err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}

	var raw rawDurations
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding config durations %s: %w", path, err)
	}
	cfg.rawDurations = raw
	cfg.PollShortSleep = time.Duration(raw.PollShortSleep) * time.Second
	cfg.PollLongSleep = time.Duration(raw.PollLongSleep) * time.Second
	cfg.CreateSleep = time.Duration(raw.CreateSleep) * time.Second
	cfg.SVInactivity = time.Duration(raw.SVInactivityHours) * time.Hour
	cfg.JobTimeout = time.Duration(raw.JobTimeoutSeconds) * time.Second

	return &cfg, nil
}

// checkRequiredKeys fails fast if any required top-level key is absent
// from the raw document, rather than silently defaulting it to a Go zero
// value.
func checkRequiredKeys(data []byte) error {
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("decoding config as a JSON object: %w", err)
	}

	var missing []string
	for _, key := range requiredKeys {
		if _, ok := generic[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config is missing required keys: %v", missing)
	}
	return nil
}
