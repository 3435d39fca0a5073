// Package gateway assembles the edge: public HTTP/WebSocket surface, internal
// notification endpoints, admin listener and the optional cluster relay.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/signagehub/edge/internal/config"
	"github.com/signagehub/edge/internal/events"
	"github.com/signagehub/edge/internal/health"
	"github.com/signagehub/edge/internal/logfanout"
	"github.com/signagehub/edge/internal/logging"
	"github.com/signagehub/edge/internal/metrics"
	"github.com/signagehub/edge/internal/middleware"
	"github.com/signagehub/edge/internal/middleware/ratelimit"
	"github.com/signagehub/edge/internal/middleware/securityheaders"
	"github.com/signagehub/edge/internal/notify"
	"github.com/signagehub/edge/internal/origin"
	"github.com/signagehub/edge/internal/proxy"
	"github.com/signagehub/edge/internal/registry"
	"github.com/signagehub/edge/internal/relay"
	"github.com/signagehub/edge/internal/routes"
	"github.com/signagehub/edge/internal/tracing"
	"github.com/signagehub/edge/internal/websocket"
)

// Gateway is the edge request pipeline and its in-memory state.
type Gateway struct {
	config     *config.Config
	metrics    *metrics.Collector
	tracer     *tracing.Tracer
	origin     *origin.Holder
	table      *routes.Table
	registry   *registry.Registry
	dispatcher *registry.Dispatcher
	fanout     *logfanout.Fanout
	events     *events.Bus
	proxy      *proxy.Router
	ws         *websocket.Handler
	notify     *notify.Handler
	relay      *relay.Relay
	limiter    *ratelimit.Limiter
	health     *health.Checker // nil when probing is disabled

	handler   http.Handler
	startTime time.Time
}

// New builds a gateway from cfg. Nothing listens until the Server runs it.
func New(cfg *config.Config) (*Gateway, error) {
	g := &Gateway{
		config:    cfg,
		metrics:   metrics.NewCollector(),
		events:    events.NewBus(),
		registry:  registry.New(),
		startTime: time.Now(),
	}

	var err error
	if g.tracer, err = tracing.New(cfg.Tracing); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if g.origin, err = origin.NewHolder(cfg.CORS); err != nil {
		return nil, fmt.Errorf("failed to initialize origin policy: %w", err)
	}

	routeCfgs := cfg.Routes
	if len(routeCfgs) == 0 {
		routeCfgs = routes.Defaults()
	}
	if g.table, err = routes.NewTable(routeCfgs, cfg.Services); err != nil {
		return nil, fmt.Errorf("failed to build route table: %w", err)
	}

	g.dispatcher = registry.NewDispatcher(g.registry, cfg.Proxy.CommandPushDelay, registry.WithObserver(g.metrics))
	g.fanout = logfanout.New(g.metrics)
	g.events.SubscribeCommands(g.dispatcher.OnCommandIssued)

	if err := g.initProxy(); err != nil {
		return nil, err
	}

	if cfg.Proxy.HealthCheck.Enabled {
		g.health = health.NewChecker(cfg.Proxy.HealthCheck, cfg.Services, g.proxy.Transports().Get(""), g.metrics)
	}

	g.ws = websocket.NewHandler(cfg.WebSocket, g.dispatcher, g.fanout, g.origin, g.metrics)

	if g.notify, err = notify.New(cfg.Internal, g.dispatcher, g.fanout); err != nil {
		return nil, fmt.Errorf("failed to initialize internal api: %w", err)
	}

	if cfg.Relay.Enabled {
		if err := g.initRelay(); err != nil {
			return nil, err
		}
	}

	g.metrics.RegisterConnectionCounts(g.registry.Counts, func() int { return len(g.fanout.Tenants()) })
	g.handler = g.buildHandler()
	return g, nil
}

func (g *Gateway) initProxy() error {
	services := make([]string, 0, len(g.config.Services))
	for name := range g.config.Services {
		services = append(services, name)
	}
	sort.Strings(services)

	transports, err := proxy.NewTransportPool(g.config.Proxy.Transport, services)
	if err != nil {
		return fmt.Errorf("failed to initialize upstream transports: %w", err)
	}

	g.proxy = proxy.New(proxy.Config{
		Table:         g.table,
		Origin:        g.origin,
		Transports:    transports,
		Breakers:      proxy.NewBreakers(g.config.Proxy.CircuitBreaker, services, g.metrics),
		Tracer:        g.tracer,
		Events:        g.events,
		Observer:      g.metrics,
		Timeout:       g.config.Proxy.Timeout,
		MaxBodyBytes:  g.config.Proxy.MaxBodyBytes,
		FlushInterval: g.config.Proxy.FlushInterval,
	})
	return nil
}

func (g *Gateway) initRelay() error {
	client, err := relay.ClientFromConfig(g.config.Relay)
	if err != nil {
		return fmt.Errorf("failed to initialize relay: %w", err)
	}
	g.relay = relay.New(client, g.config.Relay.Channel, relay.Options{
		Receiver: g.dispatcher,
		Linker:   g.registry,
		Logs:     g.fanout,
		Observer: g.metrics,
	})
	g.dispatcher.SetForwarder(g.relay)
	g.notify.SetLogPublisher(g.relay)
	logging.Info("cluster relay enabled",
		zap.String("channel", g.config.Relay.Channel),
		zap.String("origin", g.relay.Origin()),
	)
	return nil
}

// buildHandler assembles the router and the middleware chain around it.
func (g *Gateway) buildHandler() http.Handler {
	router := httprouter.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	// every method falls through to the proxy, which answers 405 per route
	router.HandleMethodNotAllowed = false
	router.HandleOPTIONS = false

	router.HandlerFunc(http.MethodGet, "/health", g.handleHealth)
	router.Handler(http.MethodGet, g.wsPath(), g.ws)
	g.notify.Mount(router)
	router.NotFound = g.proxy

	chain := middleware.NewChain(
		middleware.Recovery(),
		middleware.RequestID(),
		g.tracer.Middleware(),
		middleware.AccessLog(middleware.AccessLogConfig{
			Enabled:   g.config.Logging.AccessLog,
			SkipPaths: g.config.Logging.SkipPaths,
			Observer:  g.metrics,
		}),
	)
	chain = chain.AppendIf(g.config.SecurityHeaders.Enabled, securityheaders.New(g.config.SecurityHeaders).Middleware())
	chain = chain.Append(g.origin.Middleware())
	if g.config.RateLimit.Enabled {
		g.limiter = ratelimit.New(g.config.RateLimit)
		g.limiter.OnReject = g.metrics.RateLimited
		chain = chain.Append(g.limiter.Middleware())
	}
	return chain.Then(router)
}

func (g *Gateway) wsPath() string {
	if g.config.WebSocket.Path != "" {
		return g.config.WebSocket.Path
	}
	return "/ws"
}

// Handler returns the public HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// handleHealth reports liveness and connection counts.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	middleware.Info(r).Route = "health"
	devices, players := g.registry.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"connections": map[string]int{
			"devices": devices,
			"players": players,
		},
	})
}

// ApplyConfig applies the hot-reloadable part of cfg. Only the origin policy
// changes at runtime; listeners, routes and services need a restart.
func (g *Gateway) ApplyConfig(cfg *config.Config) error {
	if err := g.origin.Reload(cfg.CORS); err != nil {
		return fmt.Errorf("origin policy reload: %w", err)
	}
	logging.Info("origin policy reloaded",
		zap.Int("allow_origins", len(cfg.CORS.AllowOrigins)),
		zap.Int("trusted_suffixes", len(cfg.CORS.TrustedSuffixes)),
	)
	return nil
}

// Close releases upstream connections, the relay client and flushes spans.
func (g *Gateway) Close(ctx context.Context) error {
	g.proxy.Transports().CloseIdleConnections()
	var firstErr error
	if g.relay != nil {
		if err := g.relay.Close(); err != nil {
			firstErr = err
		}
	}
	if err := g.tracer.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Registry returns the connection registry.
func (g *Gateway) Registry() *registry.Registry { return g.registry }

// Dispatcher returns the command dispatcher.
func (g *Gateway) Dispatcher() *registry.Dispatcher { return g.dispatcher }

// Fanout returns the log fan-out.
func (g *Gateway) Fanout() *logfanout.Fanout { return g.fanout }

// Metrics returns the metrics collector.
func (g *Gateway) Metrics() *metrics.Collector { return g.metrics }

// Relay returns the cluster relay, nil when disabled.
func (g *Gateway) Relay() *relay.Relay { return g.relay }

// Health returns the upstream health checker, nil when disabled.
func (g *Gateway) Health() *health.Checker { return g.health }

// Origin returns the origin policy holder.
func (g *Gateway) Origin() *origin.Holder { return g.origin }
