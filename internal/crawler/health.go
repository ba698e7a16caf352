package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lueurxax/incident-crawler/internal/core/domain"
)

const (
	healthCheckTimeoutShort = 5 * time.Second
	healthCheckTimeoutLong  = 10 * time.Second
)

// statusSource is what the health server reports on. *Crawler implements it.
type statusSource interface {
	Progress() map[domain.Category]Status
	Ping(ctx context.Context) error
}

var _ statusSource = (*Crawler)(nil)

// HealthServer provides health check endpoints for the crawler.
type HealthServer struct {
	source statusSource
	port   int
	ready  atomic.Bool
	server *http.Server
}

// NewHealthServer creates a new HealthServer.
func NewHealthServer(source statusSource, port int) *HealthServer {
	hs := &HealthServer{
		source: source,
		port:   port,
	}
	hs.ready.Store(false)

	return hs
}

// SetReady marks the server as ready.
func (hs *HealthServer) SetReady(ready bool) {
	hs.ready.Store(ready)
}

func (hs *HealthServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", hs.handleHealthz)
	mux.HandleFunc("/readyz", hs.handleReadyz)
	mux.HandleFunc("/stats", hs.handleStats)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// Start starts the health server.
func (hs *HealthServer) Start(ctx context.Context) error {
	hs.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", hs.port),
		Handler:           hs.handler(),
		ReadHeaderTimeout: healthCheckTimeoutShort,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), healthCheckTimeoutShort)
		defer cancel()

		_ = hs.server.Shutdown(shutdownCtx) //nolint:errcheck,contextcheck // Best-effort shutdown, must use new context
	}()

	if err := hs.server.ListenAndServe(); err != nil {
		return fmt.Errorf("start health server: %w", err)
	}

	return nil
}

// handleHealthz handles liveness probes.
func (hs *HealthServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte("ok")) //nolint:errcheck // Best-effort write
}

// handleReadyz handles readiness probes.
func (hs *HealthServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !hs.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeoutShort)
	defer cancel()

	if err := hs.source.Ping(ctx); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte("ok")) //nolint:errcheck // Best-effort write
}

// handleStats returns the run progress of every bound category.
func (hs *HealthServer) handleStats(w http.ResponseWriter, r *http.Request) {
	done := make(chan map[domain.Category]Status, 1)

	go func() { done <- hs.source.Progress() }()

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeoutLong)
	defer cancel()

	select {
	case <-ctx.Done():
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
	case stats := <-done:
		w.Header().Set("Content-Type", "application/json")

		_ = json.NewEncoder(w).Encode(stats) //nolint:errcheck,errchkjson // Best-effort encode
	}
}
