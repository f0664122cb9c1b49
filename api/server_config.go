package api

import (
	"log/slog"
	"time"
)

// HTTPServerConfig configures the listeners of the stub key server.
type HTTPServerConfig struct {
	// ListenAddr serves the key server endpoints.
	ListenAddr string

	// MetricsAddr serves /metrics. Empty disables the metrics listener.
	MetricsAddr string

	// EnablePprof mounts /debug/pprof on the API listener.
	EnablePprof bool

	Log *slog.Logger

	// DrainDuration is how long /drain keeps reporting not ready before
	// the drain is logged as complete.
	DrainDuration time.Duration

	// GracefulShutdownDuration bounds the wait for in-flight requests on shutdown.
	GracefulShutdownDuration time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}
