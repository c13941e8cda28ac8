package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"resticflux/internal/config"
	"resticflux/internal/logging"
	"resticflux/internal/match"
	"resticflux/internal/pipeline"
)

// ErrSinkUnavailable marks a sink that could not be reached at startup.
var ErrSinkUnavailable = errors.New("sink unavailable")

// Process exit codes. Distinct values let wrappers tell an unreachable
// database from a broken input pipe.
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitSinkUnavailable = 2
	ExitStreamFailed    = 3
	ExitInterrupted     = 4
)

// Runtime defines runtime inputs required to start the relay.
// Params: config path, CLI overrides, and optional stream overrides for
// tests (nil Input/Output default to stdin/stdout).
// Returns: Runtime value used by Run.
type Runtime struct {
	ConfigPath string
	Overrides  config.Overrides
	Input      io.Reader
	Output     io.Writer
}

type runDeps struct {
	loadConfig    func(string, config.Overrides) (*config.Config, error)
	newLogger     func(config.LogConfig) (*slog.Logger, func(), error)
	startPprof    func(context.Context, config.PprofConfig, *slog.Logger) (func(), error)
	newInfluxSink func(pipeline.InfluxSinkConfig) (pipeline.Sink, func() error, error)
}

// Run loads configuration, assembles the pipeline, and drives the relay
// until the input ends or ctx is canceled.
// Params: ctx controls lifecycle; rt provides runtime inputs.
// Returns: error classified for ExitCode, nil on clean end of input.
func Run(ctx context.Context, rt Runtime) error {
	return runWithDeps(ctx, rt, defaultRunDeps())
}

// runWithDeps executes the runtime lifecycle with injectable dependencies.
// Params: ctx controls lifecycle; rt runtime inputs; deps assembly hooks.
// Returns: runtime error or nil on clean end of input.
func runWithDeps(ctx context.Context, rt Runtime, deps runDeps) error {
	cfg, err := deps.loadConfig(rt.ConfigPath, rt.Overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Relay.Verbose {
		cfg.Log.Console.Level = "debug"
	}

	logger, closeLogger, err := deps.newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLogger()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopPprof, err := deps.startPprof(runCtx, cfg.Pprof, logger)
	if err != nil {
		return fmt.Errorf("start pprof: %w", err)
	}
	defer stopPprof()

	sink, closeSink, err := buildSink(cfg, rt, logger, deps)
	if err != nil {
		return err
	}
	if closeSink != nil {
		defer func() { _ = closeSink() }()
	}

	aggregator := pipeline.NewAggregator(pipeline.AggregatorConfig{
		MaxRecentErrors: cfg.Relay.MaxRecentErrors,
		DropItems:       match.CompileList(cfg.Errors.Drop),
		Cumulative:      cfg.Relay.Cumulative,
	})
	builder := pipeline.NewPointBuilder(pipeline.PointBuilderConfig{
		Host: cfg.Global.Host,
		Tags: cfg.Global.Tags,
	})

	relay, err := pipeline.NewRelay(
		pipeline.RelayConfig{
			Interval:   cfg.Relay.Interval.Duration,
			MaxPending: cfg.Relay.MaxPending,
			MultiRun:   cfg.Relay.MultiRun,
			Verbose:    cfg.Relay.Verbose,
		},
		aggregator,
		builder,
		sink,
		logger,
	)
	if err != nil {
		return fmt.Errorf("build relay: %w", err)
	}

	input := rt.Input
	if input == nil {
		input = os.Stdin
	}

	logStartup(logger, cfg)
	if err := relay.Run(runCtx, input); err != nil {
		logger.Error("relay stopped", slog.String("error", err.Error()))
		return err
	}

	logger.Info("relay stopped", slog.String("reason", "end of input"))
	return nil
}

// buildSink selects the dry-run print path or the network sink.
// Params: cfg loaded config; rt runtime streams; logger root logger;
// deps provides the influx constructor.
// Returns: active sink, optional closer, or ErrSinkUnavailable-wrapped error.
func buildSink(
	cfg *config.Config,
	rt Runtime,
	logger *slog.Logger,
	deps runDeps,
) (pipeline.Sink, func() error, error) {
	if cfg.Relay.DryRun {
		out := rt.Output
		if out == nil {
			out = os.Stdout
		}
		logger.Info("dry-run mode: printing points instead of writing")
		return pipeline.NewPrintSink(out), nil, nil
	}

	sink, closeFn, err := deps.newInfluxSink(pipeline.InfluxSinkConfig{
		URL:             cfg.Influx.URL,
		Username:        cfg.Influx.Username,
		Password:        cfg.Influx.Password,
		Database:        cfg.Influx.Database,
		RetentionPolicy: cfg.Influx.RetentionPolicy,
		Timeout:         cfg.Influx.Timeout.Duration,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}

	if cfg.Relay.Verbose {
		return pipeline.NewMultiSink(sink, pipeline.NewLogSink(logger)), closeFn, nil
	}
	return sink, closeFn, nil
}

// defaultRunDeps provides production runtime dependencies.
// Params: none.
// Returns: dependency set used by Run.
func defaultRunDeps() runDeps {
	return runDeps{
		loadConfig: config.Load,
		newLogger:  logging.New,
		startPprof: startPprofServer,
		newInfluxSink: func(cfg pipeline.InfluxSinkConfig) (pipeline.Sink, func() error, error) {
			sink, err := pipeline.NewInfluxSink(cfg)
			if err != nil {
				return nil, nil, err
			}
			return sink, sink.Close, nil
		},
	}
}

// logStartup reports effective runtime settings once.
// Params: logger root logger; cfg loaded config.
// Returns: none.
func logStartup(logger *slog.Logger, cfg *config.Config) {
	logger.Info(
		"relay started",
		slog.String("host", cfg.Global.Host),
		slog.Duration("interval", cfg.Relay.Interval.Duration),
		slog.Bool("dry_run", cfg.Relay.DryRun),
		slog.Bool("multi_run", cfg.Relay.MultiRun),
		slog.String("influx", cfg.Influx.URL),
	)
}

// ExitCode maps a Run error to the process exit code.
// Params: err error returned by Run, may be nil.
// Returns: exit code per the failure class.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrSinkUnavailable):
		return ExitSinkUnavailable
	case errors.Is(err, pipeline.ErrInputStream):
		return ExitStreamFailed
	case errors.Is(err, pipeline.ErrInterrupted):
		return ExitInterrupted
	default:
		return ExitFailure
	}
}
