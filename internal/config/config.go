// Package config loads and validates scout configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Auth      AuthConfig          `mapstructure:"auth"`
	State     StateConfig         `mapstructure:"state"`
	Probe     ProbeConfig         `mapstructure:"probe"`
	LinkCheck LinkCheckConfig     `mapstructure:"linkcheck"`
	Oracle    OracleConfig        `mapstructure:"oracle"`
	SMTP      SMTPConfig          `mapstructure:"smtp"`
	Run       RunConfig           `mapstructure:"run"`
	Keywords  map[string][]string `mapstructure:"keywords"`
	Sources   []SourceConfig      `mapstructure:"sources"`
	Faculty   []SourceConfig      `mapstructure:"faculty_sources"`
	Logging   LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig controls the dashboard HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// StateConfig sets where persisted run state lives. All four artifacts share
// one directory: the history map, the lock object, the queue array, and the
// per-job status files.
type StateConfig struct {
	Dir          string `mapstructure:"dir"`
	HistoryFile  string `mapstructure:"history_file"`
	LockFile     string `mapstructure:"lock_file"`
	QueueFile    string `mapstructure:"queue_file"`
	JobsDir      string `mapstructure:"jobs_dir"`
	LockTTLHours int    `mapstructure:"lock_ttl_hours"`
}

// ProbeConfig configures the liveness prober.
type ProbeConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// LinkCheckConfig configures the reachability pre-filter.
type LinkCheckConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	Concurrency    int     `mapstructure:"concurrency"`
	RPS            float64 `mapstructure:"rps"`
	Burst          int     `mapstructure:"burst"`
}

// OracleConfig points at the external relevance judge.
type OracleConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	BatchSize int    `mapstructure:"batch_size"`
}

// SMTPConfig carries digest delivery credentials.
type SMTPConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	Recipient string `mapstructure:"recipient"`
}

// RunConfig governs pipeline execution behavior.
type RunConfig struct {
	TerminateGraceSeconds int    `mapstructure:"terminate_grace_seconds"`
	DefaultPositionType   string `mapstructure:"default_position_type"`
}

// SourceConfig describes one selector-driven portal listing source.
type SourceConfig struct {
	Name                string `mapstructure:"name"`
	URL                 string `mapstructure:"url"`
	ItemSelector        string `mapstructure:"item_selector"`
	TitleSelector       string `mapstructure:"title_selector"`
	LinkSelector        string `mapstructure:"link_selector"`
	InstitutionSelector string `mapstructure:"institution_selector"`
	Country             string `mapstructure:"country"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCHOLARHUNT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("state.dir", ".")
	v.SetDefault("state.history_file", "job_history.json")
	v.SetDefault("state.lock_file", "job_lock.json")
	v.SetDefault("state.queue_file", "job_queue.json")
	v.SetDefault("state.jobs_dir", "jobs")
	v.SetDefault("state.lock_ttl_hours", 4)
	v.SetDefault("probe.timeout_seconds", 15)
	v.SetDefault("probe.user_agent", "scholarhunt-bot/1.2")
	v.SetDefault("probe.max_body_bytes", 1<<20)
	v.SetDefault("linkcheck.timeout_seconds", 10)
	v.SetDefault("linkcheck.concurrency", 10)
	v.SetDefault("linkcheck.rps", 4)
	v.SetDefault("linkcheck.burst", 2)
	v.SetDefault("oracle.enabled", false)
	v.SetDefault("oracle.model", "gpt-4o-mini")
	v.SetDefault("oracle.batch_size", 20)
	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("run.terminate_grace_seconds", 5)
	v.SetDefault("run.default_position_type", "phd")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.State.LockTTLHours <= 0 {
		return fmt.Errorf("state.lock_ttl_hours must be > 0")
	}
	if c.Probe.TimeoutSeconds <= 0 {
		return fmt.Errorf("probe.timeout_seconds must be > 0")
	}
	if c.LinkCheck.Concurrency <= 0 {
		return fmt.Errorf("linkcheck.concurrency must be > 0")
	}
	if c.Oracle.Enabled && c.Oracle.Endpoint == "" {
		return fmt.Errorf("oracle.endpoint must be set when oracle is enabled")
	}
	if c.SMTP.Enabled && (c.SMTP.User == "" || c.SMTP.Password == "") {
		return fmt.Errorf("smtp.user and smtp.password must be set when smtp is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Run.DefaultPositionType {
	case "phd", "postdoc":
	default:
		return fmt.Errorf("run.default_position_type must be phd or postdoc")
	}
	return nil
}

// HistoryPath is the full path of the posting history file.
func (c Config) HistoryPath() string {
	return filepath.Join(c.State.Dir, c.State.HistoryFile)
}

// LockTTL converts the configured hour count into a duration.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.State.LockTTLHours) * time.Hour
}

// ProbeTimeout converts the probe timeout into a duration.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutSeconds) * time.Second
}

// TerminateGrace is how long terminate waits between SIGTERM and SIGKILL.
func (c Config) TerminateGrace() time.Duration {
	return time.Duration(c.Run.TerminateGraceSeconds) * time.Second
}
