package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Sink consumes flush batches.
// Params: context and one point batch.
// Returns: error when the batch cannot be written.
type Sink interface {
	WriteBatch(ctx context.Context, batch Batch) error
}

// PrintSink serializes points as line protocol to a writer. It backs
// dry-run mode and never touches the network.
// Params: destination writer.
// Returns: discard/print sink implementation.
type PrintSink struct {
	out io.Writer
}

// NewPrintSink creates a dry-run print sink.
// Params: out destination writer, typically stdout.
// Returns: print sink instance.
func NewPrintSink(out io.Writer) *PrintSink {
	return &PrintSink{out: out}
}

// WriteBatch prints each point as one line-protocol line.
// Params: ctx is unused; batch points to print.
// Returns: encode or write error.
func (s *PrintSink) WriteBatch(_ context.Context, batch Batch) error {
	for _, point := range batch {
		line, err := EncodeLine(point)
		if err != nil {
			return fmt.Errorf("encode point %s: %w", point.Measurement, err)
		}
		if _, err := fmt.Fprintln(s.out, line); err != nil {
			return fmt.Errorf("print point: %w", err)
		}
	}
	return nil
}

// LogSink writes batches into debug logs.
// Params: logger used for output.
// Returns: debug sink instance.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a debug sink.
// Params: logger instance.
// Returns: batch sink implementation.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// WriteBatch logs each point as its line-protocol form.
// Params: ctx gates the level check; batch points to log.
// Returns: encode error when a point cannot be serialized.
func (s *LogSink) WriteBatch(ctx context.Context, batch Batch) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.logger.Enabled(ctx, slog.LevelDebug) {
		return nil
	}

	for _, point := range batch {
		line, err := EncodeLine(point)
		if err != nil {
			return fmt.Errorf("encode point %s: %w", point.Measurement, err)
		}
		s.logger.Debug(
			"metric point",
			slog.String("measurement", point.Measurement),
			slog.String("line", line),
		)
	}

	return nil
}

// MultiSink dispatches one batch to multiple sink implementations.
// Params: sink list.
// Returns: composite sink.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds a composite sink from a sink list.
// Params: sinks fan-out targets; nils are skipped.
// Returns: composite sink instance.
func NewMultiSink(sinks ...Sink) *MultiSink {
	out := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return &MultiSink{sinks: out}
}

// WriteBatch writes the batch to every sink sequentially.
// Params: ctx write context; batch points to write.
// Returns: first sink error; remaining sinks still receive the batch.
func (s *MultiSink) WriteBatch(ctx context.Context, batch Batch) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.WriteBatch(ctx, batch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
