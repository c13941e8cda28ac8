package pipeline

import (
	"math"
	"strings"
	"time"
)

// Measurement names match the original restic-to-influx forwarder so
// existing dashboards keep working.
const (
	measurementStatus  = "status_message"
	measurementSummary = "summary_message"
	measurementError   = "error_message"
)

// PointBuilderConfig carries tags attached to every built point.
// Params: host tag value and optional extra tags.
// Returns: point builder configuration.
type PointBuilderConfig struct {
	Host string
	Tags map[string]string
}

// PointBuilder converts aggregator state into timestamped points. It
// keeps a cursor (rate window start, last published error sequence) that
// only Commit advances, so repeated Snapshot calls without a Commit are
// idempotent apart from the timestamp.
// Params: tag configuration.
// Returns: snapshot component used by the relay on every flush.
type PointBuilder struct {
	cfg PointBuilderConfig

	rateCommitted bool
	rateBytes     uint64
	rateAt        time.Time
	errorCursor   uint64
}

// NewPointBuilder creates a point builder with a fresh cursor.
// Params: cfg tag configuration.
// Returns: point builder instance.
func NewPointBuilder(cfg PointBuilderConfig) *PointBuilder {
	return &PointBuilder{cfg: cfg}
}

// Snapshot renders the current state as a flush batch. It always emits a
// status point, even when nothing changed since the previous flush, so
// input gaps show up as flat series instead of missing data.
// Params: st aggregation state (read-only); now flush wall-clock time.
// Returns: batch with one status point, a summary point once the run
// completed, and one point per unpublished retained error.
func (b *PointBuilder) Snapshot(st *State, now time.Time) Batch {
	batch := make(Batch, 0, 2)

	fields := map[string]any{
		"percent_done":      round2(st.PercentDone * 100),
		"bytes_done":        int64(st.BytesDone),
		"total_bytes":       int64(st.TotalBytes),
		"files_done":        int64(st.FilesDone),
		"total_files":       int64(st.TotalFiles),
		"seconds_elapsed":   st.SecondsElapsed,
		"seconds_remaining": st.SecondsRemaining,
		"error_count":       int64(st.ErrorCount),
		"current_files":     strings.Join(st.CurrentFiles, ","),
		"completed":         st.Completed,
	}
	if st.FilesNew+st.FilesChanged+st.FilesUnmodified > 0 {
		fields["files_new"] = int64(st.FilesNew)
		fields["files_changed"] = int64(st.FilesChanged)
		fields["files_unmodified"] = int64(st.FilesUnmodified)
	}
	if rate, ok := b.rate(st, now); ok {
		fields["bytes_per_sec"] = round2(rate)
	}
	batch = append(batch, Point{
		Measurement: measurementStatus,
		Tags:        b.tags(nil),
		Fields:      fields,
		Time:        now,
	})

	if st.Completed && st.Summary != nil {
		summary := st.Summary
		batch = append(batch, Point{
			Measurement: measurementSummary,
			Tags:        b.tags(map[string]string{"snapshot_id": summary.SnapshotID}),
			Fields: map[string]any{
				"total_files_processed": int64(summary.TotalFilesProcessed),
				"total_bytes_processed": int64(summary.TotalBytesProcessed),
				"total_duration":        summary.TotalDuration,
				"data_added":            int64(summary.DataAdded),
				"data_blobs":            int64(summary.DataBlobs),
				"tree_blobs":            int64(summary.TreeBlobs),
				"files_new":             int64(summary.FilesNew),
				"files_changed":         int64(summary.FilesChanged),
				"files_unmodified":      int64(summary.FilesUnmodified),
				"dirs_new":              int64(summary.DirsNew),
				"dirs_changed":          int64(summary.DirsChanged),
				"dirs_unmodified":       int64(summary.DirsUnmodified),
			},
			Time: now,
		})
	}

	for _, record := range st.RecentErrors(b.errorCursor) {
		batch = append(batch, Point{
			Measurement: measurementError,
			Tags:        b.tags(nil),
			Fields: map[string]any{
				"item":    record.Item,
				"during":  record.During,
				"message": record.Message,
			},
			Time: record.At,
		})
	}

	return batch
}

// Commit advances the rate window and error publish cursor after a flush
// reached the sink. Failed flushes are not committed, so the next
// snapshot supersedes them.
// Params: st state the committed snapshot was built from; now flush time.
// Returns: none.
func (b *PointBuilder) Commit(st *State, now time.Time) {
	b.rateCommitted = true
	b.rateBytes = st.BytesDone
	b.rateAt = now
	b.errorCursor = st.errorSeq
}

// rate derives bytes/sec from the delta since the last committed flush.
// Params: st current state; now flush time.
// Returns: rate and true, or false when no valid window exists (first
// flush, zero/negative elapsed, or a counter reset).
func (b *PointBuilder) rate(st *State, now time.Time) (float64, bool) {
	if !b.rateCommitted {
		return 0, false
	}
	elapsed := now.Sub(b.rateAt).Seconds()
	if elapsed <= 0 {
		return 0, false
	}
	if st.BytesDone < b.rateBytes {
		return 0, false
	}
	return float64(st.BytesDone-b.rateBytes) / elapsed, true
}

// tags merges configured global tags with per-point extras.
// Params: extra optional per-point tags, may be nil.
// Returns: fresh tag map owned by the point.
func (b *PointBuilder) tags(extra map[string]string) map[string]string {
	out := make(map[string]string, 1+len(b.cfg.Tags)+len(extra))
	out["host"] = b.cfg.Host
	for key, value := range b.cfg.Tags {
		out[key] = value
	}
	for key, value := range extra {
		out[key] = value
	}
	return out
}

// round2 rounds to two decimals for percent and rate fields.
// Params: v raw value.
// Returns: rounded value.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
