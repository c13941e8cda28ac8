package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"resticflux/internal/config"
)

// writeConfig writes one temporary TOML file and returns its path.
// Params: testing.T and raw TOML content.
// Returns: file path inside a test temp dir.
func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// writeConfigDir writes a temp directory with named TOML snippets.
// Params: testing.T and name->content map.
// Returns: directory path.
func writeConfigDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

// TestLoad_ExpandsEnvAndAppliesDefaults verifies env expansion and defaulting.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_INFLUX_PASSWORD", "s3cret")

	path := writeConfig(t, `
[influx]
database = "restic"
password = "${TEST_INFLUX_PASSWORD}"
`)

	cfg, err := config.Load(path, config.Overrides{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Influx.Password != "s3cret" {
		t.Fatalf("unexpected password: %q", cfg.Influx.Password)
	}
	if cfg.Global.Host == "" {
		t.Fatalf("expected host default")
	}
	if !cfg.Log.Console.Enabled {
		t.Fatalf("expected console logging to be enabled by default")
	}
	if got := cfg.Relay.Interval.Duration; got != 10*time.Second {
		t.Fatalf("unexpected default interval: %v", got)
	}
	if got := cfg.Relay.MaxPending; got != 1024 {
		t.Fatalf("unexpected default max_pending: %d", got)
	}
	if got := cfg.Relay.MaxRecentErrors; got != 50 {
		t.Fatalf("unexpected default max_recent_errors: %d", got)
	}
	if got := cfg.Influx.URL; got != "http://localhost:8086" {
		t.Fatalf("unexpected default influx url: %q", got)
	}
	if got := cfg.Influx.Timeout.Duration; got != 5*time.Second {
		t.Fatalf("unexpected default influx timeout: %v", got)
	}
}

// TestLoad_ConfigDirMergesTomlFiles verifies config directory loading and file-order merge.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirMergesTomlFiles(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"00-relay.toml": `
[relay]
interval = "30s"
`,
		"10-influx.toml": `
[influx]
database = "restic"
url = "http://influx.internal:8086"
`,
		"notes.txt": "ignored",
	})

	cfg, err := config.Load(dir, config.Overrides{})
	if err != nil {
		t.Fatalf("load config dir: %v", err)
	}

	if got := cfg.Relay.Interval.Duration; got != 30*time.Second {
		t.Fatalf("unexpected interval: %v", got)
	}
	if got := cfg.Influx.URL; got != "http://influx.internal:8086" {
		t.Fatalf("unexpected influx url: %q", got)
	}
}

// TestLoad_FlagOverridesWinOverFile verifies CLI precedence over file values.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_FlagOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, `
[relay]
interval = "30s"
dry_run = false

[influx]
database = "from_file"
url = "http://file.example:8086"
`)

	interval := 5 * time.Second
	dryRun := true
	database := "from_flag"

	cfg, err := config.Load(path, config.Overrides{
		Interval: &interval,
		DryRun:   &dryRun,
		Database: &database,
	})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if got := cfg.Relay.Interval.Duration; got != 5*time.Second {
		t.Fatalf("flag interval must win: %v", got)
	}
	if !cfg.Relay.DryRun {
		t.Fatalf("flag dry_run must win")
	}
	if cfg.Influx.Database != "from_flag" {
		t.Fatalf("flag database must win: %q", cfg.Influx.Database)
	}
	if cfg.Influx.URL != "http://file.example:8086" {
		t.Fatalf("unset flag must not clobber file value: %q", cfg.Influx.URL)
	}
}

// TestLoad_EmptyPathUsesDefaults verifies flag-only operation without a file.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	database := "restic"

	cfg, err := config.Load("", config.Overrides{Database: &database})
	if err != nil {
		t.Fatalf("load without file: %v", err)
	}
	if cfg.Influx.Database != "restic" {
		t.Fatalf("unexpected database: %q", cfg.Influx.Database)
	}
}

// TestLoad_ValidationFailures verifies rejection of inconsistent configs.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		content string
		errPart string
	}{
		{
			name: "negative interval",
			content: `
[relay]
interval = "-1s"
[influx]
database = "restic"
`,
			errPart: "relay.interval",
		},
		{
			name: "missing database",
			content: `
[influx]
url = "http://localhost:8086"
`,
			errPart: "influx.database",
		},
		{
			name: "bad influx scheme",
			content: `
[influx]
database = "restic"
url = "ftp://localhost:8086"
`,
			errPart: "scheme",
		},
		{
			name: "bad log level",
			content: `
[log.console]
enabled = true
level = "chatty"
[influx]
database = "restic"
`,
			errPart: "log.console.level",
		},
		{
			name: "file sink without path",
			content: `
[log.file]
enabled = true
[influx]
database = "restic"
`,
			errPart: "log.file.path",
		},
		{
			name: "cumulative without multi_run",
			content: `
[relay]
cumulative = true
[influx]
database = "restic"
`,
			errPart: "relay.cumulative",
		},
		{
			name: "max_recent_errors below -1",
			content: `
[relay]
max_recent_errors = -2
[influx]
database = "restic"
`,
			errPart: "relay.max_recent_errors",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.content), config.Overrides{})
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.errPart) {
				t.Fatalf("error %q must mention %q", err.Error(), tc.errPart)
			}
		})
	}
}

// TestLoad_DisabledErrorRetention verifies -1 turns retention off instead
// of being replaced by the default cap.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_DisabledErrorRetention(t *testing.T) {
	path := writeConfig(t, `
[relay]
max_recent_errors = -1
[influx]
database = "restic"
`)

	cfg, err := config.Load(path, config.Overrides{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got := cfg.Relay.MaxRecentErrors; got != -1 {
		t.Fatalf("disabled retention must survive defaulting: got %d", got)
	}
}

// TestLoad_DryRunSkipsInfluxValidation verifies dry-run needs no database.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_DryRunSkipsInfluxValidation(t *testing.T) {
	path := writeConfig(t, `
[relay]
dry_run = true
`)

	cfg, err := config.Load(path, config.Overrides{})
	if err != nil {
		t.Fatalf("dry-run config must load: %v", err)
	}
	if !cfg.Relay.DryRun {
		t.Fatalf("expected dry_run")
	}
}
