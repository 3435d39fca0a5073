// Package health probes the backend services' health endpoints so operators
// can see which upstream is down before requests start failing.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/signagehub/edge/internal/config"
	"github.com/signagehub/edge/internal/logging"
)

// Status represents health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Observer is told about status transitions, may be nil.
type Observer interface {
	SetUpstreamUp(service string, up bool)
}

// Result is the latest probe outcome for one service.
type Result struct {
	Service   string        `json:"service"`
	URL       string        `json:"url"`
	Status    Status        `json:"status"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

type serviceState struct {
	url             string
	status          Status
	lastCheck       time.Time
	lastError       error
	latency         time.Duration
	consecutivePass int
	consecutiveFail int
}

// Checker probes every configured service on a fixed interval. A service
// changes status only after HealthyAfter passes or UnhealthyAfter failures
// in a row.
type Checker struct {
	client   *http.Client
	cfg      config.HealthCheckConfig
	observer Observer

	mu       sync.RWMutex
	services map[string]*serviceState
}

func withDefaults(cfg config.HealthCheckConfig) config.HealthCheckConfig {
	if cfg.Path == "" {
		cfg.Path = "/health"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.HealthyAfter <= 0 {
		cfg.HealthyAfter = 1
	}
	if cfg.UnhealthyAfter <= 0 {
		cfg.UnhealthyAfter = 2
	}
	return cfg
}

// NewChecker creates a checker for services (name -> base URL). transport
// may be nil to use http.DefaultTransport.
func NewChecker(cfg config.HealthCheckConfig, services map[string]string, transport http.RoundTripper, observer Observer) *Checker {
	cfg = withDefaults(cfg)
	if transport == nil {
		transport = http.DefaultTransport
	}
	c := &Checker{
		client:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
		cfg:      cfg,
		observer: observer,
		services: make(map[string]*serviceState, len(services)),
	}
	for name, u := range services {
		c.services[name] = &serviceState{url: strings.TrimRight(u, "/"), status: StatusUnknown}
	}
	return c
}

// Run probes every service until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range c.Services() {
		g.Go(func() error {
			c.checkLoop(gctx, name)
			return nil
		})
	}
	return g.Wait()
}

func (c *Checker) checkLoop(ctx context.Context, service string) {
	c.Check(ctx, service)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx, service)
		}
	}
}

// Check probes one service now and returns its updated result.
func (c *Checker) Check(ctx context.Context, service string) Result {
	c.mu.RLock()
	state, ok := c.services[service]
	var target string
	if ok {
		target = state.url + c.cfg.Path
	}
	c.mu.RUnlock()
	if !ok {
		return Result{Service: service, Status: StatusUnknown, CheckedAt: time.Now()}
	}

	start := time.Now()
	healthy, err := c.probe(ctx, target)
	c.update(service, healthy, time.Since(start), err)

	res, _ := c.Result(service)
	return res
}

func (c *Checker) probe(ctx context.Context, target string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 399 {
		return false, fmt.Errorf("unhealthy status code: %d", resp.StatusCode)
	}
	return true, nil
}

// update applies the pass/fail thresholds.
func (c *Checker) update(service string, healthy bool, latency time.Duration, err error) {
	c.mu.Lock()
	state, ok := c.services[service]
	if !ok {
		c.mu.Unlock()
		return
	}
	state.lastCheck = time.Now()
	state.lastError = err
	state.latency = latency

	old := state.status
	if healthy {
		state.consecutiveFail = 0
		state.consecutivePass++
		if state.consecutivePass >= c.cfg.HealthyAfter {
			state.status = StatusHealthy
		}
	} else {
		state.consecutivePass = 0
		state.consecutiveFail++
		if state.consecutiveFail >= c.cfg.UnhealthyAfter {
			state.status = StatusUnhealthy
		}
	}
	current := state.status
	c.mu.Unlock()

	if old == current {
		return
	}
	if current == StatusUnhealthy {
		logging.Warn("upstream unhealthy", zap.String("service", service), zap.Error(err))
	} else {
		logging.Info("upstream status changed", zap.String("service", service), zap.String("status", string(current)))
	}
	if c.observer != nil {
		c.observer.SetUpstreamUp(service, current == StatusHealthy)
	}
}

// Result returns the latest result for service.
func (c *Checker) Result(service string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.services[service]
	if !ok {
		return Result{}, false
	}
	return toResult(service, state), true
}

// Results returns the latest result for every service.
func (c *Checker) Results() map[string]Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Result, len(c.services))
	for name, state := range c.services {
		out[name] = toResult(name, state)
	}
	return out
}

// Unhealthy returns the services currently marked unhealthy, sorted.
func (c *Checker) Unhealthy() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for name, state := range c.services {
		if state.status == StatusUnhealthy {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Services returns the probed service names, sorted.
func (c *Checker) Services() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.services))
	for name := range c.services {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func toResult(service string, s *serviceState) Result {
	r := Result{
		Service:   service,
		URL:       s.url,
		Status:    s.status,
		Latency:   s.latency,
		CheckedAt: s.lastCheck,
	}
	if s.lastError != nil {
		r.Error = s.lastError.Error()
	}
	return r
}
