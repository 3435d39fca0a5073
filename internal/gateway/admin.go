package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/signagehub/edge/internal/health"
	"github.com/signagehub/edge/internal/proxy"
	"github.com/signagehub/edge/internal/registry"
)

// adminHandler serves operator endpoints. It is bound to the admin address
// only and never exposed on the public listener.
func (g *Gateway) adminHandler() http.Handler {
	mux := http.NewServeMux()

	metricsPath := g.config.Admin.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	mux.Handle(metricsPath, g.metrics.Handler())
	mux.HandleFunc("/healthz", g.handleAdminHealth)
	mux.HandleFunc("/connections", g.handleConnections)
	mux.HandleFunc("/breakers", g.handleBreakers)
	mux.HandleFunc("/upstreams", g.handleUpstreams)
	mux.HandleFunc("/tracing", g.handleTracing)

	if g.config.Admin.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// handleAdminHealth checks dependencies; the relay is the only one.
func (g *Gateway) handleAdminHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]any)
	healthy := true

	if g.relay != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := g.relay.Ping(ctx); err != nil {
			healthy = false
			checks["relay"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			checks["relay"] = map[string]any{"status": "ok"}
		}
	}
	if g.health != nil {
		unhealthy := g.health.Unhealthy()
		if len(unhealthy) > 0 {
			healthy = false
		}
		checks["upstreams"] = map[string]any{
			"total":     len(g.health.Services()),
			"unhealthy": unhealthy,
		}
	}
	if g.proxy.Breakers() != nil {
		open := 0
		for _, snap := range g.proxy.Breakers().Snapshot() {
			if snap.State == "open" {
				open++
			}
		}
		checks["circuit_breakers"] = map[string]any{"open": open}
	}

	status := http.StatusOK
	statusStr := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		statusStr = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":    statusStr,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(g.startTime).String(),
		"checks":    checks,
	})
}

type connectionsResponse struct {
	Devices map[string]registry.Info `json:"devices"`
	Players map[string]registry.Info `json:"players"`
	Logs    map[string]int           `json:"log_subscribers"`
}

func (g *Gateway) handleConnections(w http.ResponseWriter, r *http.Request) {
	snap := g.registry.Snapshot()
	writeJSON(w, http.StatusOK, connectionsResponse{
		Devices: snap.Devices,
		Players: snap.Players,
		Logs:    g.fanout.Tenants(),
	})
}

func (g *Gateway) handleBreakers(w http.ResponseWriter, r *http.Request) {
	breakers := g.proxy.Breakers()
	if breakers == nil {
		writeJSON(w, http.StatusOK, map[string]proxy.BreakerSnapshot{})
		return
	}
	writeJSON(w, http.StatusOK, breakers.Snapshot())
}

func (g *Gateway) handleUpstreams(w http.ResponseWriter, r *http.Request) {
	if g.health == nil {
		writeJSON(w, http.StatusOK, map[string]health.Result{})
		return
	}
	writeJSON(w, http.StatusOK, g.health.Results())
}

func (g *Gateway) handleTracing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.tracer.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
