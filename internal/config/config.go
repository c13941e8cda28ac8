package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/shirou/gopsutil/v4/host"
)

const (
	defaultLogLevel        = "info"
	defaultLogFormat       = "line"
	defaultFlushInterval   = 10 * time.Second
	defaultMaxPending      = 1024
	defaultMaxRecentErrors = 50
	defaultInfluxURL       = "http://localhost:8086"
	defaultInfluxTimeout   = 5 * time.Second
	defaultPprofListen     = "127.0.0.1:6060"
)

// Duration wraps time.Duration for TOML parsing.
// Params: text duration string (e.g. "5s", "1m").
// Returns: parse error on invalid duration.
type Duration struct {
	time.Duration
}

// UnmarshalText parses TOML duration values.
// Params: text is raw duration bytes from TOML.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// Config represents the root relay configuration.
// Params: TOML document sections.
// Returns: validated runtime configuration.
type Config struct {
	Global GlobalConfig `toml:"global"`
	Log    LogConfig    `toml:"log"`
	Pprof  PprofConfig  `toml:"pprof"`
	Relay  RelayConfig  `toml:"relay"`
	Influx InfluxConfig `toml:"influx"`
	Errors ErrorsConfig `toml:"errors"`
}

// GlobalConfig contains tags attached to every written point.
// Params: host tag and optional extra tag map.
// Returns: global tag settings.
type GlobalConfig struct {
	Host string            `toml:"host"`
	Tags map[string]string `toml:"tags"`
}

// LogConfig contains console/file logging configuration.
// Params: console and file sink options.
// Returns: logger sink settings.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink options from TOML.
// Returns: sink setup.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// PprofConfig defines optional runtime pprof HTTP endpoint.
// Params: enabled flag and listen address in host:port format.
// Returns: pprof runtime settings.
type PprofConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// RelayConfig controls the read/aggregate/flush loop.
// Params: flush interval, queue bound, run-boundary and verbosity options.
// MaxRecentErrors caps retained per-item errors; 0 takes the default and
// -1 disables retention entirely (errors are still counted).
// Returns: relay runtime settings.
type RelayConfig struct {
	Interval        Duration `toml:"interval"`
	MaxPending      int      `toml:"max_pending"`
	MultiRun        bool     `toml:"multi_run"`
	Cumulative      bool     `toml:"cumulative"`
	MaxRecentErrors int      `toml:"max_recent_errors"`
	DryRun          bool     `toml:"dry_run"`
	Verbose         bool     `toml:"verbose"`
}

// InfluxConfig contains InfluxDB 1.x write endpoint settings.
// Params: URL, credentials, database, and transport options.
// Returns: sink connection settings.
type InfluxConfig struct {
	URL             string   `toml:"url"`
	Username        string   `toml:"username"`
	Password        string   `toml:"password"`
	Database        string   `toml:"database"`
	RetentionPolicy string   `toml:"retention_policy"`
	Timeout         Duration `toml:"timeout"`
}

// ErrorsConfig controls retention of per-item backup errors.
// Params: wildcard patterns for items excluded from error points.
// Returns: error filtering settings.
type ErrorsConfig struct {
	Drop []string `toml:"drop"`
}

// Overrides carries command-line values that take precedence over the
// config file. Nil pointer means the flag was not set.
// Params: optional flag values.
// Returns: override set consumed by Load.
type Overrides struct {
	DryRun   *bool
	Verbose  *bool
	Interval *time.Duration
	URL      *string
	Username *string
	Password *string
	Database *string
	HostTag  *string
}

// Load reads, expands, overrides, defaults, and validates configuration.
// An empty path starts from built-in defaults (flag-only operation).
// Params: path to TOML config file or directory with *.toml files;
// overrides from command-line flags.
// Returns: validated config pointer or error.
func Load(path string, overrides Overrides) (*Config, error) {
	var cfg Config

	if strings.TrimSpace(path) != "" {
		raw, err := readConfigSource(path)
		if err != nil {
			return nil, err
		}

		expanded := os.ExpandEnv(string(raw))
		if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("decode TOML %q: %w", path, err)
		}
	}

	cfg.applyOverrides(overrides)

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// readConfigSource reads one TOML file or concatenates *.toml files from directory.
// Params: path to config file or directory.
// Returns: raw TOML bytes or error.
func readConfigSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config %q: %w", path, err)
	}

	if !info.IsDir() {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", path, readErr)
		}
		return raw, nil
	}

	return readConfigDir(path)
}

// readConfigDir concatenates config snippets from one directory.
// Params: path to directory that contains *.toml files.
// Returns: concatenated TOML content or error.
func readConfigDir(path string) ([]byte, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %q: %w", path, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".toml") {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("read config dir %q: no *.toml files", path)
	}

	var builder strings.Builder
	for _, name := range files {
		filePath := filepath.Join(path, name)
		raw, readErr := os.ReadFile(filePath)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", filePath, readErr)
		}
		builder.Write(raw)
		if len(raw) == 0 || raw[len(raw)-1] != '\n' {
			builder.WriteByte('\n')
		}
		builder.WriteByte('\n')
	}

	return []byte(builder.String()), nil
}

// applyOverrides replaces file values with set command-line flags.
// Params: overrides from the CLI layer.
// Returns: none.
func (c *Config) applyOverrides(overrides Overrides) {
	if overrides.DryRun != nil {
		c.Relay.DryRun = *overrides.DryRun
	}
	if overrides.Verbose != nil {
		c.Relay.Verbose = *overrides.Verbose
	}
	if overrides.Interval != nil {
		c.Relay.Interval.Duration = *overrides.Interval
	}
	if overrides.URL != nil {
		c.Influx.URL = *overrides.URL
	}
	if overrides.Username != nil {
		c.Influx.Username = *overrides.Username
	}
	if overrides.Password != nil {
		c.Influx.Password = *overrides.Password
	}
	if overrides.Database != nil {
		c.Influx.Database = *overrides.Database
	}
	if overrides.HostTag != nil {
		c.Global.Host = *overrides.HostTag
	}
}

// applyDefaults fills defaults for optional configuration fields.
// Params: receiver config pointer.
// Returns: error if defaulting needs host lookup and it fails.
func (c *Config) applyDefaults() error {
	c.Log.Console.Level = lowerOrDefault(c.Log.Console.Level, defaultLogLevel)
	c.Log.Console.Format = lowerOrDefault(c.Log.Console.Format, defaultLogFormat)
	c.Log.File.Level = lowerOrDefault(c.Log.File.Level, defaultLogLevel)
	c.Log.File.Format = lowerOrDefault(c.Log.File.Format, "json")

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}

	if strings.TrimSpace(c.Global.Host) == "" {
		name, err := resolveHostname()
		if err != nil {
			return fmt.Errorf("resolve hostname: %w", err)
		}
		c.Global.Host = name
	}

	if c.Relay.Interval.Duration == 0 {
		c.Relay.Interval.Duration = defaultFlushInterval
	}
	if c.Relay.MaxPending == 0 {
		c.Relay.MaxPending = defaultMaxPending
	}
	if c.Relay.MaxRecentErrors == 0 {
		c.Relay.MaxRecentErrors = defaultMaxRecentErrors
	}

	if strings.TrimSpace(c.Influx.URL) == "" {
		c.Influx.URL = defaultInfluxURL
	}
	if c.Influx.Timeout.Duration <= 0 {
		c.Influx.Timeout.Duration = defaultInfluxTimeout
	}

	if c.Pprof.Enabled && strings.TrimSpace(c.Pprof.Listen) == "" {
		c.Pprof.Listen = defaultPprofListen
	}

	return nil
}

// resolveHostname resolves the default host tag via gopsutil with an OS fallback.
// Params: none.
// Returns: hostname or lookup error.
func resolveHostname() (string, error) {
	if info, err := host.Info(); err == nil && strings.TrimSpace(info.Hostname) != "" {
		return info.Hostname, nil
	}
	return os.Hostname()
}

// validate checks config consistency and required fields.
// Params: receiver config pointer.
// Returns: validation error for invalid or incomplete config.
func (c *Config) validate() error {
	if strings.TrimSpace(c.Global.Host) == "" {
		return fmt.Errorf("global.host resolved to empty value")
	}
	for key := range c.Global.Tags {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("global.tags contains an empty tag key")
		}
	}

	if err := validateLogSink("log.console", c.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", c.Log.File, true); err != nil {
		return err
	}

	if c.Relay.Interval.Duration <= 0 {
		return fmt.Errorf("relay.interval must be > 0")
	}
	if c.Relay.MaxPending < 0 {
		return fmt.Errorf("relay.max_pending must be >= 0")
	}
	if c.Relay.MaxRecentErrors < -1 {
		return fmt.Errorf("relay.max_recent_errors must be -1 (retain nothing), or a positive cap")
	}
	if c.Relay.Cumulative && !c.Relay.MultiRun {
		return fmt.Errorf("relay.cumulative requires relay.multi_run")
	}

	if !c.Relay.DryRun {
		parsed, err := url.Parse(c.Influx.URL)
		if err != nil {
			return fmt.Errorf("influx.url %q: %w", c.Influx.URL, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("influx.url %q: scheme must be http or https", c.Influx.URL)
		}
		if parsed.Host == "" {
			return fmt.Errorf("influx.url %q: host is required", c.Influx.URL)
		}
		if strings.TrimSpace(c.Influx.Database) == "" {
			return fmt.Errorf("influx.database is required unless dry-run is set")
		}
	}

	return nil
}

// validateLogSink checks one logging sink section.
// Params: path config section name; sink settings; needsPath whether a file path is mandatory.
// Returns: validation error or nil.
func validateLogSink(path string, sink LogSinkConfig, needsPath bool) error {
	switch sink.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level %q: must be debug, info, warn, or error", path, sink.Level)
	}

	switch sink.Format {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format %q: must be line or json", path, sink.Format)
	}

	if needsPath && sink.Enabled && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when the file sink is enabled", path)
	}

	return nil
}

// lowerOrDefault lowercases value or falls back to def when blank.
// Params: value raw config text; def default value.
// Returns: normalized value.
func lowerOrDefault(value, def string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return def
	}
	return v
}
