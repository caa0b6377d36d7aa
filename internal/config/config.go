package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"cronguard/internal/core"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
	// Mode selects the served surfaces: http, mcp (stdio) or both.
	Mode string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level     string
	Format    string
	Retention int
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
}

// SchedulerConfig holds the guard and tick loop settings.
type SchedulerConfig struct {
	Tick              string
	Owner             string
	FailureErrorLevel core.Severity
	JobsFile          string
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Notification NotificationConfig
	Scheduler    SchedulerConfig

	StateDir      string
	ShutdownGrace time.Duration
}

const (
	defaultAddr          = "127.0.0.1:7070"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultMode          = "http"
	defaultRunLogKeep    = 20
	defaultShutdownGrace = 5 * time.Second
)

const envPrefix = "CRONGUARD_"

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) (int, error) {
	val, ok := os.LookupEnv(envPrefix + key)
	if !ok || val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return i, nil
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val, ok := os.LookupEnv(envPrefix + key)
	if !ok || val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return d, nil
}

// RegisterFlags defines the command-line overrides on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("addr", defaultAddr, "HTTP listen address")
	fs.String("auth-token", "", "Bearer token required by the admin API")
	fs.String("mode", defaultMode, "Served surfaces: http, mcp or both")
	fs.String("state-dir", "", "Directory to store database and run logs")
	fs.String("log-level", defaultLogLevel, "Log level (debug, info, warn, error, critical)")
	fs.String("log-format", defaultLogFormat, "Log format (text, json)")
	fs.Int("run-log-keep", defaultRunLogKeep, "Number of recent run logs to retain per job")
	fs.Duration("shutdown-grace", defaultShutdownGrace, "Grace period when shutting down")
	fs.String("tick", core.DefaultTick, "Cron expression driving the scheduler loop")
	fs.String("owner", "", "Lock owner identity (default host:pid:random)")
	fs.String("fail-on-error-level", core.DefaultFailureLevel.String(), "Diagnostic severities that fail a run")
	fs.String("jobs-file", "", "YAML job definitions imported at startup")
}

// Load builds the configuration.
// Priority: CLI flags > Environment variables > .env file > defaults
// fs may be nil; only flags that were explicitly set override the environment.
func Load(fs *pflag.FlagSet) (*Config, error) {
	envFiles := []string{}
	if _, err := os.Stat(".env"); err == nil {
		envFiles = append(envFiles, ".env")
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(configDir, "cronguard", ".env")
		if _, err := os.Stat(path); err == nil {
			envFiles = append(envFiles, path)
		}
	}
	if len(envFiles) > 0 {
		// godotenv never overrides variables already present in the process.
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	retention, err := getEnvInt("RUN_LOG_KEEP", defaultRunLogKeep)
	if err != nil {
		return nil, err
	}
	grace, err := getEnvDuration("SHUTDOWN_GRACE", defaultShutdownGrace)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("ADDR", defaultAddr),
			AuthToken: getEnvString("AUTH_TOKEN", ""),
			Mode:      getEnvString("MODE", defaultMode),
		},
		Log: LogConfig{
			Level:     getEnvString("LOG_LEVEL", defaultLogLevel),
			Format:    getEnvString("LOG_FORMAT", defaultLogFormat),
			Retention: retention,
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("BARK_URL", ""),
				Enabled: getEnvBool("BARK_ENABLED", false),
			},
		},
		Scheduler: SchedulerConfig{
			Tick:     getEnvString("TICK", core.DefaultTick),
			Owner:    getEnvString("OWNER", ""),
			JobsFile: getEnvString("JOBS_FILE", ""),
		},
		StateDir:      getEnvString("STATE_DIR", ""),
		ShutdownGrace: grace,
	}
	failureLevel := getEnvString("FAIL_ON_ERROR_LEVEL", "")

	if fs != nil {
		var flagErr error
		fs.Visit(func(f *pflag.Flag) {
			if flagErr != nil {
				return
			}
			flagErr = applyFlag(cfg, &failureLevel, fs, f.Name)
		})
		if flagErr != nil {
			return nil, flagErr
		}
	}

	cfg.Scheduler.FailureErrorLevel, err = core.ParseSeverityMask(failureLevel)
	if err != nil {
		return nil, fmt.Errorf("fail-on-error-level: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if cfg.Log.Retention < 1 {
		cfg.Log.Retention = defaultRunLogKeep
	}
	return cfg, nil
}

func applyFlag(cfg *Config, failureLevel *string, fs *pflag.FlagSet, name string) error {
	var err error
	switch name {
	case "addr":
		cfg.Server.Addr, err = fs.GetString(name)
	case "auth-token":
		cfg.Server.AuthToken, err = fs.GetString(name)
	case "mode":
		cfg.Server.Mode, err = fs.GetString(name)
	case "state-dir":
		cfg.StateDir, err = fs.GetString(name)
	case "log-level":
		cfg.Log.Level, err = fs.GetString(name)
	case "log-format":
		cfg.Log.Format, err = fs.GetString(name)
	case "run-log-keep":
		cfg.Log.Retention, err = fs.GetInt(name)
	case "shutdown-grace":
		cfg.ShutdownGrace, err = fs.GetDuration(name)
	case "tick":
		cfg.Scheduler.Tick, err = fs.GetString(name)
	case "owner":
		cfg.Scheduler.Owner, err = fs.GetString(name)
	case "fail-on-error-level":
		*failureLevel, err = fs.GetString(name)
	case "jobs-file":
		cfg.Scheduler.JobsFile, err = fs.GetString(name)
	}
	if err != nil {
		return fmt.Errorf("flag --%s: %w", name, err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Server.Mode {
	case "http", "mcp", "both":
	default:
		return fmt.Errorf("invalid mode %q (want http, mcp or both)", c.Server.Mode)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", c.Log.Format)
	}
	if _, err := core.ParseTick(c.Scheduler.Tick); err != nil {
		return err
	}
	if c.Notification.Bark.Enabled && c.Notification.Bark.URL == "" {
		return fmt.Errorf("bark notifications enabled without %sBARK_URL", envPrefix)
	}
	return nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "cronguard")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
