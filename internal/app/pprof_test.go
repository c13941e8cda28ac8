package app

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"testing"
	"time"

	"resticflux/internal/config"
)

// TestStartPprofServer_Disabled verifies the no-op path.
// Params: testing.T for assertions.
// Returns: none.
func TestStartPprofServer_Disabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	stop, err := startPprofServer(context.Background(), config.PprofConfig{}, logger)
	if err != nil {
		t.Fatalf("disabled pprof must not fail: %v", err)
	}
	stop()
	stop()
}

// TestStartPprofServer_ServesAndStops verifies the endpoint comes up on
// the bound address and shuts down cleanly.
// Params: testing.T for assertions.
// Returns: none.
func TestStartPprofServer_ServesAndStops(t *testing.T) {
	var logged bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logged, nil))

	stop, err := startPprofServer(context.Background(), config.PprofConfig{
		Enabled: true,
		Listen:  "127.0.0.1:0",
	}, logger)
	if err != nil {
		t.Fatalf("startPprofServer: %v", err)
	}
	defer stop()

	match := regexp.MustCompile(`addr=(\S+)`).FindStringSubmatch(logged.String())
	if match == nil {
		t.Fatalf("bound address not logged: %q", logged.String())
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + match[1] + "/debug/pprof/cmdline")
	if err != nil {
		t.Fatalf("pprof endpoint unreachable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	stop()
	stop()

	if _, err := client.Get("http://" + match[1] + "/debug/pprof/cmdline"); err == nil {
		t.Fatalf("endpoint must be down after stop")
	}
}
