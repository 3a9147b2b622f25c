// Package httpapi serves the operator-facing HTTP surface: a health probe,
// a JSON status snapshot, and a Prometheus /metrics endpoint. Grounded on
// carlosrabelo-karoo/core/internal/proxy.Proxy.HttpServe's shape (register
// handlers on a mux, run an *http.Server, Shutdown on context
// cancellation), retargeted at rps's session/upstream metrics instead of
// mining share counters.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carlosrabelo/rps/internal/metrics"
	"github.com/carlosrabelo/rps/internal/ratelimit"
	"github.com/carlosrabelo/rps/internal/upstream"
	"github.com/carlosrabelo/rps/pkg/logger"
)

// Server is the operator HTTP endpoint: /healthz, /status, /metrics.
type Server struct {
	Listen   string
	Metrics  *metrics.Collector
	Registry *upstream.Registry
	Limiter  *ratelimit.Limiter
}

// Serve registers the handlers and runs an *http.Server until ctx is
// cancelled, matching HttpServe's own Shutdown-on-ctx-Done behavior.
func (s *Server) Serve(ctx context.Context) {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]interface{}{
			"metrics": s.Metrics.Snapshot(),
		}
		if s.Limiter != nil {
			out["ratelimit"] = s.Limiter.GetGlobalStats()
		}
		if s.Registry != nil {
			pools := make([]map[string]interface{}, 0, len(s.Registry.Pools))
			for _, p := range s.Registry.Pools {
				pools = append(pools, map[string]interface{}{
					"proto":   p.Proto,
					"entries": p.Len(),
				})
			}
			out["pools"] = pools
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})

	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: s.Listen, Handler: mux}

	go func() {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Notice("http: listening on %s", s.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("http: %v", err)
	}
}
