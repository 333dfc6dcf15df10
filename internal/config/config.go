// Package config handles TOML configuration loading with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/setevik/vllmscope/internal/compose"
	"github.com/setevik/vllmscope/internal/logtail"
	"github.com/setevik/vllmscope/internal/metrics"
)

// Config is the top-level configuration for vllmscope.
type Config struct {
	Instance InstanceConfig `toml:"instance"`
	Target   TargetConfig   `toml:"target"`
	Tail     TailConfig     `toml:"tail"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Enrich   EnrichConfig   `toml:"enrich"`
	Ntfy     NtfyConfig     `toml:"ntfy"`
	Cooldown CooldownConfig `toml:"cooldown"`
	DB       DBConfig       `toml:"db"`
	Log      LogConfig      `toml:"log"`
}

// InstanceConfig identifies this monitor.
type InstanceConfig struct {
	ID string `toml:"id"`
}

// TargetConfig names the vLLM server being observed. An empty Container
// runs commands on the local host. When ComposeFile is set, Container and
// Port default to what the compose service declares.
type TargetConfig struct {
	Container   string `toml:"container"`
	LogPath     string `toml:"log_path"`
	Port        int    `toml:"port"`
	ComposeFile string `toml:"compose_file"`
	Service     string `toml:"service"`
}

// TailConfig controls log reads and the live follower.
type TailConfig struct {
	RecentTimeout Duration `toml:"recent_timeout"`
	ReadTimeout   Duration `toml:"read_timeout"`
	MaxIdleReads  int      `toml:"max_idle_reads"`
	StartGrace    Duration `toml:"start_grace"`
	Backlog       int      `toml:"backlog"`
	RestartWait   Duration `toml:"restart_wait"`
	MaxRestarts   int      `toml:"max_restarts"`
}

// MetricsConfig controls metrics polling. When URL is set the endpoint is
// fetched directly over HTTP instead of through the target.
type MetricsConfig struct {
	URL      string   `toml:"url"`
	Interval Duration `toml:"interval"`
	Timeout  Duration `toml:"timeout"`
}

// EnrichConfig controls event enrichment.
type EnrichConfig struct {
	ContextLines int `toml:"context_lines"`
}

// NtfyConfig controls the ntfy notification target.
type NtfyConfig struct {
	URL         string            `toml:"url"`
	DigestURL   string            `toml:"digest_url"`
	PriorityMap map[string]string `toml:"priority_map"`
	AlertKinds  []string          `toml:"alert_kinds"`
	MinInterval Duration          `toml:"min_interval"`
	Burst       int               `toml:"burst"`
}

// CooldownConfig controls dedup/cooldown behavior.
type CooldownConfig struct {
	Window             Duration `toml:"window"`
	AggregateThreshold int      `toml:"aggregate_threshold"`
}

// DBConfig controls the event store.
type DBConfig struct {
	Path          string   `toml:"path"`
	Retention     Duration `toml:"retention"`
	PurgeSchedule string   `toml:"purge_schedule"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration wraps time.Duration for TOML string parsing (e.g. "5m", "1h").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	tp := logtail.DefaultPolicy()
	return &Config{
		Instance: InstanceConfig{
			ID: hostname,
		},
		Target: TargetConfig{
			LogPath: "/tmp/vllm.log",
			Port:    metrics.DefaultPort,
		},
		Tail: TailConfig{
			RecentTimeout: Duration{tp.RecentTimeout},
			ReadTimeout:   Duration{tp.ReadTimeout},
			MaxIdleReads:  tp.MaxIdleReads,
			StartGrace:    Duration{tp.StartGrace},
			RestartWait:   Duration{5 * time.Second},
		},
		Metrics: MetricsConfig{
			Interval: Duration{time.Second},
			Timeout:  Duration{5 * time.Second},
		},
		Enrich: EnrichConfig{
			ContextLines: 10,
		},
		Ntfy: NtfyConfig{
			PriorityMap: map[string]string{
				"critical": "urgent",
				"high":     "high",
				"medium":   "default",
				"warning":  "default",
				"info":     "low",
			},
			AlertKinds:  []string{"cuda_oom", "engine_dead", "nccl_error", "health_degraded", "metrics_lost"},
			MinInterval: Duration{10 * time.Second},
			Burst:       5,
		},
		Cooldown: CooldownConfig{
			Window:             Duration{5 * time.Minute},
			AggregateThreshold: 3,
		},
		DB: DBConfig{
			Retention:     Duration{90 * 24 * time.Hour},
			PurgeSchedule: "@daily",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, "vllmscope", "config.toml")
}

// Load reads configuration from the given path, falling back to defaults
// for any unset fields. If the file does not exist, returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Target.ComposeFile != "" {
		if err := cfg.applyCompose(md.IsDefined("target", "port")); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if cfg.Target.Port <= 0 || cfg.Target.Port > 65535 {
		return nil, fmt.Errorf("parsing config %s: target.port %d out of range", path, cfg.Target.Port)
	}
	if cfg.Target.LogPath == "" {
		return nil, fmt.Errorf("parsing config %s: target.log_path is empty", path)
	}

	return cfg, nil
}

// applyCompose fills the target from the compose service. Explicit
// container and port settings win.
func (c *Config) applyCompose(portSet bool) error {
	f, err := compose.Parse(c.Target.ComposeFile)
	if err != nil {
		return err
	}
	tgt, err := f.Resolve(c.Target.Service)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Target.ComposeFile, err)
	}
	if c.Target.Container == "" {
		c.Target.Container = tgt.Container
	}
	if !portSet {
		c.Target.Port = tgt.Port
	}
	return nil
}

// DBPath returns the configured database path or the default under the
// user's data directory.
func (c *Config) DBPath() string {
	if c.DB.Path != "" {
		return c.DB.Path
	}
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		dataDir = filepath.Join(os.Getenv("HOME"), ".local", "share")
	}
	return filepath.Join(dataDir, "vllmscope", "events.db")
}

// DigestTopic returns the ntfy URL for digests, defaulting to the alert URL.
func (c *Config) DigestTopic() string {
	if c.Ntfy.DigestURL != "" {
		return c.Ntfy.DigestURL
	}
	return c.Ntfy.URL
}

// TargetName returns a display name for the target.
func (c *Config) TargetName() string {
	if c.Target.Container != "" {
		return c.Target.Container
	}
	return "local"
}

// TailPolicy converts the tail section to a logtail.Policy.
func (c *Config) TailPolicy() logtail.Policy {
	return logtail.Policy{
		RecentTimeout: c.Tail.RecentTimeout.Duration,
		ReadTimeout:   c.Tail.ReadTimeout.Duration,
		MaxIdleReads:  c.Tail.MaxIdleReads,
		StartGrace:    c.Tail.StartGrace.Duration,
		Backlog:       c.Tail.Backlog,
	}
}

// ShouldAlert returns true if the given kind is in the configured alert kinds.
func (c *Config) ShouldAlert(kind string) bool {
	for _, k := range c.Ntfy.AlertKinds {
		if strings.EqualFold(k, kind) {
			return true
		}
	}
	return false
}

// NtfyPriority maps a severity string to an ntfy priority string.
func (c *Config) NtfyPriority(severity string) string {
	if p, ok := c.Ntfy.PriorityMap[severity]; ok {
		return p
	}
	return "default"
}
