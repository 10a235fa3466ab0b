package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/adcm-test")
	t.Setenv("WORKER_HOSTNAME", "node-1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/adcm-test/adcm.db", cfg.DBPath)
	assert.Equal(t, "/tmp/adcm-test/log", cfg.LogDir)
	assert.Equal(t, "/tmp/adcm-test/run", cfg.JobsDir)
	assert.Equal(t, QueuerLocal, cfg.Queuer)
	assert.Equal(t, time.Second, cfg.LauncherInterval)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatStale)
	assert.Equal(t, "node-1", cfg.WorkerHostname)
	assert.True(t, cfg.SupervisorEnabled())

	assert.Equal(t, "/tmp/adcm-test/log/task_runner.err", cfg.RunnerErrPath())
	assert.Equal(t, "/tmp/adcm-test/log/scheduler.log", cfg.SchedulerLogPath())
	assert.Equal(t, "/tmp/adcm-test/run/12", cfg.JobDir(12))
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("DB_NAME", "cm")
	t.Setenv("DATA_DIR", "/srv")
	t.Setenv("LOG_DIR", "/var/log/adcm")
	t.Setenv("QUEUER", "worker")
	t.Setenv("MONITOR_INTERVAL", "250ms")
	t.Setenv("FEATURE_JOB_SCHEDULER", "legacy")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/srv/cm.db", cfg.DBPath)
	assert.Equal(t, "/var/log/adcm", cfg.LogDir)
	assert.Equal(t, QueuerWorker, cfg.Queuer)
	assert.Equal(t, 250*time.Millisecond, cfg.MonitorInterval)
	assert.False(t, cfg.SupervisorEnabled())
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adcm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: /data/jobs.db\nlaunch_rate: 2.5\ncancel_grace: 3s\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/jobs.db", cfg.DBPath)
	assert.Equal(t, 2.5, cfg.LaunchRate)
	assert.Equal(t, 3*time.Second, cfg.CancelGrace)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown queuer", env: map[string]string{"QUEUER": "celery"}},
		{name: "zero interval", env: map[string]string{"LAUNCHER_INTERVAL": "0s"}},
		{name: "stale below interval", env: map[string]string{"HEARTBEAT_STALE": "1s", "HEARTBEAT_INTERVAL": "5s"}},
		{name: "negative grace", env: map[string]string{"CANCEL_GRACE": "-1s"}},
		{name: "zero launch rate", env: map[string]string{"LAUNCH_RATE": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
