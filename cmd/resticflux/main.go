package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resticflux/internal/app"
	"resticflux/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// run parses flags, wires signals, and starts the relay process.
// Params: none.
// Returns: process exit code.
func run() int {
	var (
		configPath string
		showInfo   bool
		dryRun     bool
		verbose    bool
		interval   uint
		influxURL  string
		username   string
		password   string
		database   string
		hostTag    string
	)

	flag.StringVar(&configPath, "config", "", "path to TOML config file or directory")
	flag.BoolVar(&showInfo, "version", false, "show build information")
	flag.BoolVar(&dryRun, "dry-run", false, "print points instead of writing to InfluxDB")
	flag.BoolVar(&verbose, "verbose", false, "enable per-event logging")
	flag.BoolVar(&verbose, "v", false, "enable per-event logging (shorthand)")
	flag.UintVar(&interval, "interval", 10, "flush interval in seconds")
	flag.UintVar(&interval, "i", 10, "flush interval in seconds (shorthand)")
	flag.StringVar(&influxURL, "host", "", "InfluxDB base URL")
	flag.StringVar(&username, "user", "", "InfluxDB user")
	flag.StringVar(&username, "u", "", "InfluxDB user (shorthand)")
	flag.StringVar(&password, "password", "", "InfluxDB password")
	flag.StringVar(&password, "p", "", "InfluxDB password (shorthand)")
	flag.StringVar(&database, "database", "", "InfluxDB database")
	flag.StringVar(&database, "d", "", "InfluxDB database (shorthand)")
	flag.StringVar(&hostTag, "host-tag", "", "host tag value for written points")
	flag.Parse()

	if showInfo {
		fmt.Printf("resticflux version=%s commit=%s date=%s\n", version, commit, date)
		return 0
	}

	var overrides config.Overrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dry-run":
			overrides.DryRun = &dryRun
		case "verbose", "v":
			overrides.Verbose = &verbose
		case "interval", "i":
			d := time.Duration(interval) * time.Second
			overrides.Interval = &d
		case "host":
			overrides.URL = &influxURL
		case "user", "u":
			overrides.Username = &username
		case "password", "p":
			overrides.Password = &password
		case "database", "d":
			overrides.Database = &database
		case "host-tag":
			overrides.HostTag = &hostTag
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Runtime{ConfigPath: configPath, Overrides: overrides}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return app.ExitCode(err)
	}

	return 0
}

func main() {
	os.Exit(run())
}
