package pipeline

import (
	"fmt"
	"time"

	"resticflux/internal/match"
	"resticflux/internal/restic"
)

// EffectKind classifies the outcome of applying one event.
// Params: none.
// Returns: enum value consumed by the relay's flush decisions.
type EffectKind uint8

const (
	// EffectUpdated means state changed normally.
	EffectUpdated EffectKind = iota
	// EffectIgnored means the event produced no state change.
	EffectIgnored
	// EffectWarning means part of the event violated an invariant and was skipped.
	EffectWarning
	// EffectRunCompleted means a summary event closed the current run.
	EffectRunCompleted
)

// String renders the effect kind for logging.
// Params: none.
// Returns: lowercase effect name.
func (k EffectKind) String() string {
	switch k {
	case EffectUpdated:
		return "updated"
	case EffectIgnored:
		return "ignored"
	case EffectWarning:
		return "warning"
	case EffectRunCompleted:
		return "run_completed"
	default:
		return "unknown"
	}
}

// Effect is the non-fatal outcome of one Apply call.
// Params: kind classification and optional warning reason.
// Returns: effect value.
type Effect struct {
	Kind   EffectKind
	Reason string
}

// ErrorRecord is one retained per-item backup error.
// Params: publish sequence number, error details, receipt time.
// Returns: retained error entity.
type ErrorRecord struct {
	Seq     uint64
	Item    string
	During  string
	Message string
	At      time.Time
}

// AggregatorConfig controls error retention and run-boundary behavior.
// Params: retention cap, item drop patterns, cumulative multi-run counters.
// Returns: aggregator runtime configuration.
type AggregatorConfig struct {
	MaxRecentErrors int
	DropItems       []match.Pattern
	Cumulative      bool
}

// State is the single mutable aggregation record. It is owned exclusively
// by the relay goroutine; the point builder reads it and never mutates it.
// Params: none.
// Returns: current aggregation snapshot source.
type State struct {
	PercentDone      float64
	BytesDone        uint64
	TotalBytes       uint64
	FilesDone        uint64
	TotalFiles       uint64
	SecondsElapsed   float64
	SecondsRemaining float64
	ErrorCount       uint64
	CurrentFiles     []string
	FilesNew         uint64
	FilesChanged     uint64
	FilesUnmodified  uint64
	Completed        bool
	Summary          *restic.Summary
	RunsCompleted    uint64
	LastEventAt      time.Time

	// Base offsets carry counters across runs in cumulative mode.
	bytesBase uint64
	filesBase uint64
	errorBase uint64

	errors   []ErrorRecord
	errorSeq uint64
}

// RecentErrors returns retained errors newer than the given sequence.
// Params: after publish cursor; zero returns everything retained.
// Returns: retained error records in arrival order.
func (s *State) RecentErrors(after uint64) []ErrorRecord {
	out := make([]ErrorRecord, 0, len(s.errors))
	for _, record := range s.errors {
		if record.Seq > after {
			out = append(out, record)
		}
	}
	return out
}

// Aggregator folds decoded events into the current run state.
// Params: retention/run-boundary configuration.
// Returns: stateful aggregation component.
type Aggregator struct {
	cfg   AggregatorConfig
	state State
}

// NewAggregator creates an empty aggregator.
// Params: cfg retention and run-boundary options.
// Returns: aggregator instance.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.MaxRecentErrors < 0 {
		cfg.MaxRecentErrors = 0
	}
	return &Aggregator{cfg: cfg}
}

// State exposes the aggregation record for snapshotting. Callers must
// treat it as read-only.
// Params: none.
// Returns: pointer to the owned state record.
func (a *Aggregator) State() *State {
	return &a.state
}

// Apply folds one event into state. No event is fatal here: degradation
// is expressed through the returned effect, never through an error.
// Params: ev decoded event; now receipt time.
// Returns: effect describing what changed.
func (a *Aggregator) Apply(ev restic.Event, now time.Time) Effect {
	switch event := ev.(type) {
	case restic.Status:
		return a.applyStatus(event, now)
	case restic.Summary:
		return a.applySummary(event, now)
	case restic.Error:
		return a.applyError(event, now)
	case restic.VerboseStatus:
		return a.applyVerbose(event, now)
	case restic.Unrecognized:
		return Effect{Kind: EffectIgnored}
	default:
		return Effect{Kind: EffectIgnored}
	}
}

// applyStatus updates progress counters with monotonic guards. Counters
// the line did not report (nil pointers) are left untouched; only a
// reported smaller value counts as a regression.
// Params: ev status event; now receipt time.
// Returns: Updated, or Warning when a reported counter regressed.
func (a *Aggregator) applyStatus(ev restic.Status, now time.Time) Effect {
	s := &a.state
	s.LastEventAt = now

	reason := ""
	if candidate := s.bytesBase + ev.BytesDone; candidate >= s.BytesDone {
		s.BytesDone = candidate
	} else {
		reason = fmt.Sprintf("bytes_done regressed from %d to %d", s.BytesDone, candidate)
	}
	if ev.FilesDone != nil {
		if candidate := s.filesBase + *ev.FilesDone; candidate >= s.FilesDone {
			s.FilesDone = candidate
		} else if reason == "" {
			reason = fmt.Sprintf("files_done regressed from %d to %d", s.FilesDone, candidate)
		}
	}
	if ev.ErrorCount != nil {
		if candidate := s.errorBase + *ev.ErrorCount; candidate >= s.ErrorCount {
			s.ErrorCount = candidate
		} else if reason == "" {
			reason = fmt.Sprintf("error_count regressed from %d to %d", s.ErrorCount, candidate)
		}
	}

	s.PercentDone = clampUnit(ev.PercentDone)
	s.SecondsElapsed = ev.SecondsElapsed
	s.SecondsRemaining = ev.SecondsRemaining
	if ev.TotalBytes > 0 {
		s.TotalBytes = s.bytesBase + ev.TotalBytes
	}
	if ev.TotalFiles > 0 {
		s.TotalFiles = s.filesBase + ev.TotalFiles
	}
	if ev.CurrentFiles != nil {
		s.CurrentFiles = ev.CurrentFiles
	}

	if reason != "" {
		return Effect{Kind: EffectWarning, Reason: reason}
	}
	return Effect{Kind: EffectUpdated}
}

// applySummary freezes final counters and closes the run.
// Params: ev summary event; now receipt time.
// Returns: RunCompleted.
func (a *Aggregator) applySummary(ev restic.Summary, now time.Time) Effect {
	s := &a.state
	s.LastEventAt = now

	summary := ev
	s.Summary = &summary
	s.Completed = true
	s.PercentDone = 1
	s.SecondsElapsed = ev.TotalDuration
	s.SecondsRemaining = 0
	s.CurrentFiles = nil
	s.RunsCompleted++

	if candidate := s.bytesBase + ev.TotalBytesProcessed; candidate > s.BytesDone {
		s.BytesDone = candidate
	}
	if candidate := s.filesBase + ev.TotalFilesProcessed; candidate > s.FilesDone {
		s.FilesDone = candidate
	}
	if s.TotalBytes < s.BytesDone {
		s.TotalBytes = s.BytesDone
	}
	if s.TotalFiles < s.FilesDone {
		s.TotalFiles = s.FilesDone
	}

	return Effect{Kind: EffectRunCompleted}
}

// applyError counts one per-item error and retains it within the cap.
// Params: ev error event; now receipt time.
// Returns: Updated.
func (a *Aggregator) applyError(ev restic.Error, now time.Time) Effect {
	s := &a.state
	s.LastEventAt = now
	s.ErrorCount++

	// Items matching a drop pattern are counted but not retained, so
	// known-noisy paths do not crowd out real failures in error points.
	if a.cfg.MaxRecentErrors == 0 || match.Any(a.cfg.DropItems, ev.Item) {
		return Effect{Kind: EffectUpdated}
	}

	s.errorSeq++
	s.errors = append(s.errors, ErrorRecord{
		Seq:     s.errorSeq,
		Item:    ev.Item,
		During:  ev.During,
		Message: ev.Message,
		At:      now,
	})
	if len(s.errors) > a.cfg.MaxRecentErrors {
		overflow := len(s.errors) - a.cfg.MaxRecentErrors
		s.errors = append(s.errors[:0], s.errors[overflow:]...)
	}

	return Effect{Kind: EffectUpdated}
}

// applyVerbose counts one per-file action report.
// Params: ev verbose status event; now receipt time.
// Returns: Updated, or Ignored for unknown actions.
func (a *Aggregator) applyVerbose(ev restic.VerboseStatus, now time.Time) Effect {
	s := &a.state
	s.LastEventAt = now

	switch ev.Action {
	case "new":
		s.FilesNew++
	case "changed", "modified":
		s.FilesChanged++
	case "unchanged", "unmodified":
		s.FilesUnmodified++
	default:
		return Effect{Kind: EffectIgnored}
	}
	return Effect{Kind: EffectUpdated}
}

// ResetRun clears per-run state at a run boundary. In cumulative mode the
// counters carry over as base offsets for the next run; otherwise they
// start from zero. The error sequence keeps growing either way so publish
// cursors held by the point builder stay valid.
// Params: none.
// Returns: none.
func (a *Aggregator) ResetRun() {
	s := &a.state

	if a.cfg.Cumulative {
		s.bytesBase = s.BytesDone
		s.filesBase = s.FilesDone
		s.errorBase = s.ErrorCount
	} else {
		s.bytesBase, s.filesBase, s.errorBase = 0, 0, 0
		s.BytesDone, s.FilesDone, s.ErrorCount = 0, 0, 0
		s.TotalBytes, s.TotalFiles = 0, 0
		s.FilesNew, s.FilesChanged, s.FilesUnmodified = 0, 0, 0
	}

	s.PercentDone = 0
	s.SecondsElapsed = 0
	s.SecondsRemaining = 0
	s.CurrentFiles = nil
	s.Completed = false
	s.Summary = nil
	s.errors = nil
}

// clampUnit bounds a ratio into [0, 1].
// Params: v raw ratio.
// Returns: clamped ratio.
func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
