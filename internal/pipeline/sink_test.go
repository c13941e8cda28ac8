package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testPoint(at time.Time) Point {
	return Point{
		Measurement: measurementStatus,
		Tags:        map[string]string{"host": "backup01"},
		Fields: map[string]any{
			"percent_done": 25.0,
			"bytes_done":   int64(2500),
			"completed":    false,
		},
		Time: at,
	}
}

// TestEncodeLine verifies line-protocol rendering of field types.
// Params: testing.T for assertions.
// Returns: none.
func TestEncodeLine(t *testing.T) {
	at := time.Unix(1700000000, 0).UTC()
	line, err := EncodeLine(Point{
		Measurement: measurementError,
		Tags:        map[string]string{"host": "backup01"},
		Fields:      map[string]any{"item": "/etc/shadow", "count": int64(3)},
		Time:        at,
	})
	if err != nil {
		t.Fatalf("EncodeLine: %v", err)
	}

	if !strings.HasPrefix(line, "error_message,host=backup01 ") {
		t.Fatalf("unexpected series key: %q", line)
	}
	if !strings.Contains(line, `item="/etc/shadow"`) {
		t.Fatalf("string field must be quoted: %q", line)
	}
	if !strings.Contains(line, "count=3i") {
		t.Fatalf("integer field must carry the i suffix: %q", line)
	}
	if !strings.HasSuffix(line, " 1700000000000000000") {
		t.Fatalf("timestamp must be nanoseconds: %q", line)
	}
}

// TestPrintSink verifies dry-run output is one line-protocol line per point.
// Params: testing.T for assertions.
// Returns: none.
func TestPrintSink(t *testing.T) {
	var out bytes.Buffer
	sink := NewPrintSink(&out)
	at := time.Unix(1700000000, 0).UTC()

	batch := Batch{testPoint(at), testPoint(at.Add(time.Second))}
	if err := sink.WriteBatch(context.Background(), batch); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), out.String())
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "status_message,host=backup01 ") {
			t.Fatalf("unexpected line: %q", line)
		}
		if !strings.Contains(line, "bytes_done=2500i") {
			t.Fatalf("unexpected fields: %q", line)
		}
	}
}

// TestLogSink verifies debug gating and line rendering.
// Params: testing.T for assertions.
// Returns: none.
func TestLogSink(t *testing.T) {
	var quiet bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&quiet, nil)))
	if err := sink.WriteBatch(context.Background(), Batch{testPoint(time.Now())}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if quiet.Len() != 0 {
		t.Fatalf("info-level logger must suppress output: %q", quiet.String())
	}

	var verbose bytes.Buffer
	sink = NewLogSink(slog.New(slog.NewTextHandler(&verbose, &slog.HandlerOptions{Level: slog.LevelDebug})))
	if err := sink.WriteBatch(context.Background(), Batch{testPoint(time.Now())}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if !strings.Contains(verbose.String(), "status_message") {
		t.Fatalf("debug logger must emit the point: %q", verbose.String())
	}
}

// TestMultiSink verifies fan-out and first-error semantics.
// Params: testing.T for assertions.
// Returns: none.
func TestMultiSink(t *testing.T) {
	first := &recordingSink{err: errors.New("first down")}
	second := &recordingSink{}
	sink := NewMultiSink(first, nil, second)

	err := sink.WriteBatch(context.Background(), Batch{testPoint(time.Now())})
	if err == nil || err.Error() != "first down" {
		t.Fatalf("expected first sink error, got %v", err)
	}
	if first.count() != 1 || second.count() != 1 {
		t.Fatalf("all sinks must receive the batch: %d/%d", first.count(), second.count())
	}
}

// TestInfluxSink_Write verifies the HTTP write request against a stub server.
// Params: testing.T for assertions.
// Returns: none.
func TestInfluxSink_Write(t *testing.T) {
	type capture struct {
		path string
		db   string
		rp   string
		user string
		pass string
		body string
	}
	captured := make(chan capture, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			w.Header().Set("X-Influxdb-Version", "1.8")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		body, _ := io.ReadAll(r.Body)
		user, pass, _ := r.BasicAuth()
		captured <- capture{
			path: r.URL.Path,
			db:   r.URL.Query().Get("db"),
			rp:   r.URL.Query().Get("rp"),
			user: user,
			pass: pass,
			body: string(body),
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink, err := NewInfluxSink(InfluxSinkConfig{
		URL:             server.URL,
		Username:        "metrics",
		Password:        "secret",
		Database:        "restic",
		RetentionPolicy: "autogen",
		Timeout:         2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewInfluxSink: %v", err)
	}
	defer sink.Close()

	at := time.Unix(1700000000, 0).UTC()
	if err := sink.WriteBatch(context.Background(), Batch{testPoint(at)}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	var got capture
	select {
	case got = <-captured:
	case <-time.After(5 * time.Second):
		t.Fatalf("write request never arrived")
	}

	if got.path != "/write" {
		t.Fatalf("unexpected path %q", got.path)
	}
	if got.db != "restic" || got.rp != "autogen" {
		t.Fatalf("unexpected target %q/%q", got.db, got.rp)
	}
	if got.user != "metrics" || got.pass != "secret" {
		t.Fatalf("unexpected credentials %q/%q", got.user, got.pass)
	}
	if !strings.Contains(got.body, "status_message,host=backup01 ") ||
		!strings.Contains(got.body, "bytes_done=2500i") {
		t.Fatalf("unexpected body: %q", got.body)
	}
}

// TestInfluxSink_EmptyBatchSkipsWrite verifies no request for empty batches.
// Params: testing.T for assertions.
// Returns: none.
func TestInfluxSink_EmptyBatchSkipsWrite(t *testing.T) {
	writes := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/write" {
			writes++
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink, err := NewInfluxSink(InfluxSinkConfig{URL: server.URL, Database: "restic", Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewInfluxSink: %v", err)
	}
	defer sink.Close()

	if err := sink.WriteBatch(context.Background(), nil); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if writes != 0 {
		t.Fatalf("empty batch must not hit the server")
	}
}

// TestInfluxSink_UnreachableFailsConstruction verifies the startup ping.
// Params: testing.T for assertions.
// Returns: none.
func TestInfluxSink_UnreachableFailsConstruction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	if _, err := NewInfluxSink(InfluxSinkConfig{URL: url, Database: "restic", Timeout: time.Second}); err == nil {
		t.Fatalf("expected construction to fail against a closed server")
	}
}

// TestInfluxSink_CanceledContext verifies writes honor prior cancellation.
// Params: testing.T for assertions.
// Returns: none.
func TestInfluxSink_CanceledContext(t *testing.T) {
	writes := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/write" {
			writes++
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink, err := NewInfluxSink(InfluxSinkConfig{URL: server.URL, Database: "restic", Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewInfluxSink: %v", err)
	}
	defer sink.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.WriteBatch(ctx, Batch{testPoint(time.Now())}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if writes != 0 {
		t.Fatalf("canceled write must not hit the server")
	}
}
