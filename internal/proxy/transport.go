package proxy

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/signagehub/edge/internal/config"
)

// DefaultTransportConfig fills in zero fields of the configured transport.
var DefaultTransportConfig = config.TransportConfig{
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 20,
	IdleConnTimeout:     90 * time.Second,
	DialTimeout:         30 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
}

func withTransportDefaults(cfg config.TransportConfig) config.TransportConfig {
	d := DefaultTransportConfig
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = d.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = d.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = d.IdleConnTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = d.DialTimeout
	}
	if cfg.TLSHandshakeTimeout <= 0 {
		cfg.TLSHandshakeTimeout = d.TLSHandshakeTimeout
	}
	return cfg
}

// NewTransport creates an HTTP transport for one backend service.
func NewTransport(cfg config.TransportConfig) (*http.Transport, error) {
	cfg = withTransportDefaults(cfg)

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading ca_file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("ca_file %s contains no certificates", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       tlsConfig,
		ForceAttemptHTTP2:     true,
	}, nil
}

// TransportPool keeps one transport per backend service so a slow service
// cannot exhaust the idle pool of the others. The pool is built once and is
// read-only afterwards.
type TransportPool struct {
	defaultTransport http.RoundTripper
	transports       map[string]http.RoundTripper
}

// NewTransportPool creates a transport for every named service.
func NewTransportPool(cfg config.TransportConfig, services []string) (*TransportPool, error) {
	def, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	tp := &TransportPool{
		defaultTransport: def,
		transports:       make(map[string]http.RoundTripper, len(services)),
	}
	for _, name := range services {
		t, err := NewTransport(cfg)
		if err != nil {
			return nil, err
		}
		tp.transports[name] = t
	}
	return tp, nil
}

// NewTransportPoolWith wraps a single round tripper shared by all services.
func NewTransportPoolWith(rt http.RoundTripper) *TransportPool {
	return &TransportPool{
		defaultTransport: rt,
		transports:       make(map[string]http.RoundTripper),
	}
}

// Get returns the transport for service, or the default one.
func (tp *TransportPool) Get(service string) http.RoundTripper {
	if t, ok := tp.transports[service]; ok {
		return t
	}
	return tp.defaultTransport
}

// Names returns the services with their own transport.
func (tp *TransportPool) Names() []string {
	names := make([]string, 0, len(tp.transports))
	for name := range tp.transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseIdleConnections closes idle connections on all transports
func (tp *TransportPool) CloseIdleConnections() {
	type idleCloser interface{ CloseIdleConnections() }
	if c, ok := tp.defaultTransport.(idleCloser); ok {
		c.CloseIdleConnections()
	}
	for _, t := range tp.transports {
		if c, ok := t.(idleCloser); ok {
			c.CloseIdleConnections()
		}
	}
}
