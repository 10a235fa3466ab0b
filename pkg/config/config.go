package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Queuer names
const (
	QueuerLocal  = "local"
	QueuerWorker = "worker"
)

// SchedulerEngineNew is the only supported FEATURE_JOB_SCHEDULER value
const SchedulerEngineNew = "new"

// Config is the resolved process configuration shared by every binary
type Config struct {
	DataDir string
	DBPath  string

	// Accepted for compatibility with external database settings; the
	// embedded store only uses DBName when DBPath is unset.
	DBHost string
	DBPort int
	DBUser string
	DBPass string
	DBName string

	LogLevel string
	LogJSON  bool
	LogDir   string
	JobsDir  string
	RunDir   string

	SchedulerEngine string
	Queuer          string

	LauncherInterval  time.Duration
	MonitorInterval   time.Duration
	LaunchRate        float64
	HeartbeatInterval time.Duration
	HeartbeatStale    time.Duration
	CancelGrace       time.Duration
	ClaimTTL          time.Duration
	StoreLockTimeout  time.Duration
	RestartBackoff    time.Duration

	RunnerBin  string
	AnsibleBin string
	VenvRoot   string
	BundleRoot string

	MetricsAddr string
	GRPCAddr    string

	WorkerHostname string
}

var keys = []string{
	"data_dir", "db_path", "db_host", "db_port", "db_user", "db_pass", "db_name",
	"log_level", "log_json", "log_dir", "jobs_dir", "run_dir",
	"feature_job_scheduler", "queuer",
	"launcher_interval", "monitor_interval", "launch_rate",
	"heartbeat_interval", "heartbeat_stale", "cancel_grace", "claim_ttl",
	"store_lock_timeout", "restart_backoff",
	"runner_bin", "ansible_bin", "venv_root", "bundle_root",
	"metrics_addr", "grpc_addr", "worker_hostname",
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "/adcm/data")
	v.SetDefault("db_name", "adcm")
	v.SetDefault("db_port", 5432)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetDefault("feature_job_scheduler", SchedulerEngineNew)
	v.SetDefault("queuer", QueuerLocal)

	v.SetDefault("launcher_interval", "1s")
	v.SetDefault("monitor_interval", "5s")
	v.SetDefault("launch_rate", 10.0)
	v.SetDefault("heartbeat_interval", "5s")
	v.SetDefault("heartbeat_stale", "30s")
	v.SetDefault("cancel_grace", "10s")
	v.SetDefault("claim_ttl", "1m")
	v.SetDefault("store_lock_timeout", "10s")
	v.SetDefault("restart_backoff", "2s")

	v.SetDefault("runner_bin", "task_runner")
	v.SetDefault("ansible_bin", "ansible-playbook")
	v.SetDefault("venv_root", "/adcm/venv")

	v.SetDefault("metrics_addr", "127.0.0.1:9180")
	v.SetDefault("grpc_addr", "127.0.0.1:9181")
}

// New returns a viper instance with defaults, environment binding and, when
// path is non-empty, the given config file loaded
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Load builds a Config from the environment and an optional config file
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper resolves a Config and fills in paths derived from DataDir
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DataDir: v.GetString("data_dir"),
		DBPath:  v.GetString("db_path"),
		DBHost:  v.GetString("db_host"),
		DBPort:  v.GetInt("db_port"),
		DBUser:  v.GetString("db_user"),
		DBPass:  v.GetString("db_pass"),
		DBName:  v.GetString("db_name"),

		LogLevel: v.GetString("log_level"),
		LogJSON:  v.GetBool("log_json"),
		LogDir:   v.GetString("log_dir"),
		JobsDir:  v.GetString("jobs_dir"),
		RunDir:   v.GetString("run_dir"),

		SchedulerEngine: v.GetString("feature_job_scheduler"),
		Queuer:          v.GetString("queuer"),

		LauncherInterval:  v.GetDuration("launcher_interval"),
		MonitorInterval:   v.GetDuration("monitor_interval"),
		LaunchRate:        v.GetFloat64("launch_rate"),
		HeartbeatInterval: v.GetDuration("heartbeat_interval"),
		HeartbeatStale:    v.GetDuration("heartbeat_stale"),
		CancelGrace:       v.GetDuration("cancel_grace"),
		ClaimTTL:          v.GetDuration("claim_ttl"),
		StoreLockTimeout:  v.GetDuration("store_lock_timeout"),
		RestartBackoff:    v.GetDuration("restart_backoff"),

		RunnerBin:  v.GetString("runner_bin"),
		AnsibleBin: v.GetString("ansible_bin"),
		VenvRoot:   v.GetString("venv_root"),
		BundleRoot: v.GetString("bundle_root"),

		MetricsAddr: v.GetString("metrics_addr"),
		GRPCAddr:    v.GetString("grpc_addr"),

		WorkerHostname: v.GetString("worker_hostname"),
	}

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, cfg.DBName+".db")
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.DataDir, "log")
	}
	if cfg.JobsDir == "" {
		cfg.JobsDir = filepath.Join(cfg.DataDir, "run")
	}
	if cfg.BundleRoot == "" {
		cfg.BundleRoot = filepath.Join(cfg.DataDir, "bundle")
	}
	if cfg.RunDir == "" {
		cfg.RunDir = filepath.Join(cfg.DataDir, "var")
	}
	if cfg.WorkerHostname == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve hostname: %w", err)
		}
		cfg.WorkerHostname = host
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	switch c.Queuer {
	case QueuerLocal, QueuerWorker:
	default:
		return fmt.Errorf("invalid QUEUER %q: expected %s or %s", c.Queuer, QueuerLocal, QueuerWorker)
	}
	for name, d := range map[string]time.Duration{
		"LAUNCHER_INTERVAL":  c.LauncherInterval,
		"MONITOR_INTERVAL":   c.MonitorInterval,
		"HEARTBEAT_INTERVAL": c.HeartbeatInterval,
		"HEARTBEAT_STALE":    c.HeartbeatStale,
		"CLAIM_TTL":          c.ClaimTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s %s: must be positive", name, d)
		}
	}
	if c.CancelGrace < 0 {
		return fmt.Errorf("invalid CANCEL_GRACE %s: must not be negative", c.CancelGrace)
	}
	if c.HeartbeatStale <= c.HeartbeatInterval {
		return fmt.Errorf("HEARTBEAT_STALE (%s) must exceed HEARTBEAT_INTERVAL (%s)", c.HeartbeatStale, c.HeartbeatInterval)
	}
	if c.LaunchRate <= 0 {
		return fmt.Errorf("invalid LAUNCH_RATE %v: must be positive", c.LaunchRate)
	}
	return nil
}

// SupervisorEnabled reports whether FEATURE_JOB_SCHEDULER selects the supervisor engine
func (c *Config) SupervisorEnabled() bool {
	return c.SchedulerEngine == SchedulerEngineNew
}

// RunnerErrPath is the shared runner stderr file
func (c *Config) RunnerErrPath() string {
	return filepath.Join(c.LogDir, "task_runner.err")
}

// SchedulerLogPath is the supervisor log file
func (c *Config) SchedulerLogPath() string {
	return filepath.Join(c.LogDir, "scheduler.log")
}

// JobDir is the per-job working directory
func (c *Config) JobDir(jobID int64) string {
	return filepath.Join(c.JobsDir, fmt.Sprintf("%d", jobID))
}
