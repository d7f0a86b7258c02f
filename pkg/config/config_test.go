package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, `{
		"namespace": "apsviz",
		"data_pvc_claim": "apsviz-data",
		"pause_file_path": "/var/run/supervisor.pause",
		"max_no_activity_count": 10,
		"job_backoff_limit": 2,
		"poll_short_sleep": 5,
		"poll_long_sleep": 60,
		"create_sleep": 3,
		"sv_inactivity_hours": 24,
		"job_timeout_seconds": 3600,
		"job_limit_multiplier": 0.5,
		"cpu_limits": false,
		"secrets": [
			{"env_var": "PGPASSWORD", "secret_key": "pg-password"}
		]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Namespace != "apsviz" {
		t.Errorf("Namespace = %q, want apsviz", cfg.Namespace)
	}
	if cfg.PollShortSleep != 5*time.Second {
		t.Errorf("PollShortSleep = %v, want 5s", cfg.PollShortSleep)
	}
	if cfg.SVInactivity != 24*time.Hour {
		t.Errorf("SVInactivity = %v, want 24h", cfg.SVInactivity)
	}
	if len(cfg.Secrets) != 1 || cfg.Secrets[0].EnvVar != "PGPASSWORD" {
		t.Errorf("Secrets = %+v, want one PGPASSWORD entry", cfg.Secrets)
	}
}

func TestLoadMissingRequiredKey(t *testing.T) {
	path := writeTempConfig(t, `{
		"namespace": "apsviz",
		"data_pvc_claim": "apsviz-data"
	}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() with missing required keys returned no error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err == nil {
		t.Fatal("Load() of a missing file returned no error")
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeTempConfig(t, `{ not valid json`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() of malformed JSON returned no error")
	}
}
