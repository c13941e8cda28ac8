package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"resticflux/internal/restic"
)

const drainFlushTimeout = 5 * time.Second

var (
	// ErrInputStream marks a failure of the input stream itself, as
	// opposed to a single undecodable line.
	ErrInputStream = errors.New("input stream failed")
	// ErrInterrupted marks cancellation before the input ended.
	ErrInterrupted = errors.New("interrupted before input ended")
)

// RelayConfig controls the read/aggregate/flush loop.
// Params: flush interval, line queue bound, run-boundary and verbosity flags.
// Returns: relay runtime configuration.
type RelayConfig struct {
	Interval   time.Duration
	MaxPending int
	MultiRun   bool
	Verbose    bool
}

// Relay drives the read→decode→aggregate loop and flushes snapshots on a
// fixed interval independent of input arrival. It is the only active
// component; the aggregator and point builder are invoked synchronously
// from its goroutine.
// Params: configuration and wired pipeline components.
// Returns: scheduler instance.
type Relay struct {
	cfg        RelayConfig
	aggregator *Aggregator
	builder    *PointBuilder
	sink       Sink
	logger     *slog.Logger
	now        func() time.Time

	flushes       uint64
	flushFailures uint64
}

// NewRelay validates configuration and wires the pipeline components.
// Params: cfg runtime settings; aggregator/builder/sink pipeline parts;
// logger root logger.
// Returns: relay instance or configuration error.
func NewRelay(
	cfg RelayConfig,
	aggregator *Aggregator,
	builder *PointBuilder,
	sink Sink,
	logger *slog.Logger,
) (*Relay, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("flush interval must be > 0")
	}
	if cfg.MaxPending <= 0 {
		return nil, fmt.Errorf("max_pending must be > 0")
	}
	if aggregator == nil || builder == nil || sink == nil {
		return nil, fmt.Errorf("aggregator, builder, and sink are required")
	}

	return &Relay{
		cfg:        cfg,
		aggregator: aggregator,
		builder:    builder,
		sink:       sink,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Run executes the loop until the input ends, the run completes, or the
// context is canceled. Input reading happens on a dedicated goroutine
// feeding a bounded channel: a full channel blocks the reader instead of
// dropping lines, and a slow sink never stalls decoding of buffered input.
// Params: ctx controls lifecycle; input line stream, typically stdin.
// Returns: nil on clean end of input after the final flush,
// ErrInputStream-wrapped error on a terminal read failure, or
// ErrInterrupted-wrapped error on cancellation. Both failure paths still
// attempt a best-effort final flush.
func (r *Relay) Run(ctx context.Context, input io.Reader) error {
	lines := make(chan string, r.cfg.MaxPending)
	readFailure := make(chan error, 1)
	go readLines(ctx, input, lines, readFailure)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx))
		case line, ok := <-lines:
			if !ok {
				return r.terminate(readFailure)
			}
			if done := r.consume(ctx, line, ticker); done {
				return nil
			}
		case <-ticker.C:
			// Lines already buffered are applied first so the snapshot
			// reflects them.
			finished, err := r.consumeReady(ctx, lines, readFailure, ticker)
			if finished {
				return err
			}
			r.flush(ctx)
		}
	}
}

// consume applies one line and handles run completion.
// Params: ctx flush context; line raw input; ticker reset on run boundary.
// Returns: true when the relay must terminate (run completed outside
// multi-run mode).
func (r *Relay) consume(ctx context.Context, line string, ticker *time.Ticker) bool {
	effect := r.handleLine(line)
	if effect.Kind != EffectRunCompleted {
		return false
	}

	// The summary must not sit unflushed until the next tick: the
	// producing process may exit right after emitting it.
	r.flush(ctx)

	if !r.cfg.MultiRun {
		// Draining: one final flush so end-of-run state is recorded.
		r.flush(ctx)
		return true
	}

	r.aggregator.ResetRun()
	ticker.Reset(r.cfg.Interval)
	return false
}

// consumeReady applies all immediately available lines without blocking.
// Params: ctx flush context; lines input channel; readFailure terminal
// read error channel; ticker reset on run boundary.
// Returns: finished=true with the terminal error when input ended or the
// run completed during the sweep.
func (r *Relay) consumeReady(
	ctx context.Context,
	lines <-chan string,
	readFailure <-chan error,
	ticker *time.Ticker,
) (bool, error) {
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return true, r.terminate(readFailure)
			}
			if done := r.consume(ctx, line, ticker); done {
				return true, nil
			}
		default:
			return false, nil
		}
	}
}

// terminate performs the draining flush once the input channel closed.
// Params: readFailure holds the terminal read error, if any.
// Returns: nil on clean end-of-stream, wrapped ErrInputStream otherwise.
func (r *Relay) terminate(readFailure <-chan error) error {
	var readErr error
	select {
	case readErr = <-readFailure:
	default:
	}

	r.drain()

	if readErr != nil {
		return fmt.Errorf("%w: %w", ErrInputStream, readErr)
	}
	return nil
}

// drain performs the best-effort final flush with its own deadline,
// independent of the (possibly canceled) run context.
// Params: none.
// Returns: none.
func (r *Relay) drain() {
	flushCtx, cancel := context.WithTimeout(context.Background(), drainFlushTimeout)
	defer cancel()
	r.flush(flushCtx)
}

// flush snapshots current state and hands the batch to the sink. A sink
// failure is counted and logged but never stops the loop; the cursor is
// committed only on success so the next snapshot supersedes lost points.
// Params: ctx bounds the sink write.
// Returns: none.
func (r *Relay) flush(ctx context.Context) {
	now := r.now()
	state := r.aggregator.State()
	batch := r.builder.Snapshot(state, now)

	r.flushes++
	if err := r.sink.WriteBatch(ctx, batch); err != nil {
		r.flushFailures++
		r.logger.Error(
			"flush failed",
			slog.Int("points", len(batch)),
			slog.Uint64("failures", r.flushFailures),
			slog.String("error", err.Error()),
		)
		return
	}

	r.builder.Commit(state, now)
	if r.cfg.Verbose {
		r.logger.Debug("flushed batch", slog.Int("points", len(batch)))
	}
}

// handleLine decodes and applies one line. Decode failures are line-local:
// they are logged and skipped, never terminating the loop.
// Params: line raw input text.
// Returns: aggregation effect, EffectIgnored for skipped lines.
func (r *Relay) handleLine(line string) Effect {
	if strings.TrimSpace(line) == "" {
		return Effect{Kind: EffectIgnored}
	}

	event, err := restic.Decode([]byte(line))
	if err != nil {
		r.logger.Warn("skipping undecodable line", slog.String("error", err.Error()))
		return Effect{Kind: EffectIgnored}
	}

	effect := r.aggregator.Apply(event, r.now())
	switch effect.Kind {
	case EffectWarning:
		r.logger.Warn(
			"event partially ignored",
			slog.String("kind", string(event.Kind())),
			slog.String("reason", effect.Reason),
		)
	case EffectRunCompleted:
		r.logRunCompleted()
	default:
		if r.cfg.Verbose {
			r.logEvent(event)
		}
	}
	return effect
}

// logEvent emits one per-event debug record in verbose mode.
// Params: event decoded event.
// Returns: none.
func (r *Relay) logEvent(event restic.Event) {
	switch ev := event.(type) {
	case restic.Status:
		var files uint64
		if ev.FilesDone != nil {
			files = *ev.FilesDone
		}
		r.logger.Debug(
			"status",
			slog.String("done", humanize.IBytes(ev.BytesDone)),
			slog.Float64("percent", round2(ev.PercentDone*100)),
			slog.Uint64("files", files),
		)
	case restic.Error:
		r.logger.Debug(
			"backup error",
			slog.String("item", ev.Item),
			slog.String("during", ev.During),
		)
	case restic.VerboseStatus:
		r.logger.Debug(
			"file",
			slog.String("action", ev.Action),
			slog.String("item", ev.Item),
			slog.String("size", humanize.IBytes(ev.Size)),
		)
	case restic.Unrecognized:
		r.logger.Debug("unrecognized event", slog.String("message_type", ev.MessageType))
	}
}

// logRunCompleted emits the end-of-run info record.
// Params: none.
// Returns: none.
func (r *Relay) logRunCompleted() {
	state := r.aggregator.State()
	if state.Summary == nil {
		return
	}
	r.logger.Info(
		"run completed",
		slog.String("snapshot", state.Summary.SnapshotID),
		slog.String("processed", humanize.IBytes(state.Summary.TotalBytesProcessed)),
		slog.String("added", humanize.IBytes(state.Summary.DataAdded)),
		slog.Float64("seconds", round2(state.Summary.TotalDuration)),
	)
}

// readLines feeds input lines into the bounded channel until EOF, a read
// error, or cancellation. Lines have no maximum length.
// Params: ctx unblocks a full channel on shutdown; input line stream;
// lines destination channel, closed on return; readFailure receives a
// terminal non-EOF error.
// Returns: none.
func readLines(ctx context.Context, input io.Reader, lines chan<- string, readFailure chan<- error) {
	defer close(lines)

	reader := bufio.NewReader(input)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readFailure <- err
			}
			return
		}
	}
}
