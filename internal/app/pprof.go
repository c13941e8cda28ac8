package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	pprofhttp "net/http/pprof"
	"sync"
	"time"

	"resticflux/internal/config"
)

const (
	pprofStopGrace         = 3 * time.Second
	pprofReadHeaderTimeout = 2 * time.Second
)

// startPprofServer exposes the runtime profiling endpoint when enabled.
// The relay is long-lived with one hot goroutine, so this endpoint is the
// window into a stuck flush or a filling line queue.
// Params: ctx ends the server together with the relay; cfg enables and
// addresses the listener; logger reports lifecycle events.
// Returns: idempotent stop function and bind error.
func startPprofServer(ctx context.Context, cfg config.PprofConfig, logger *slog.Logger) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("bind pprof listener on %q: %w", cfg.Listen, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprofhttp.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprofhttp.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprofhttp.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprofhttp.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprofhttp.Trace)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: pprofReadHeaderTimeout,
	}

	addr := listener.Addr().String()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), pprofStopGrace)
			defer cancel()
			if err := server.Shutdown(stopCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("pprof stop", slog.String("error", err.Error()))
			}
		})
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("pprof serve", slog.String("addr", addr), slog.String("error", err.Error()))
		}
	}()

	logger.Info("pprof listening", slog.String("addr", addr))
	return stop, nil
}
