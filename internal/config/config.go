package config

import (
	"time"
)

// Config represents the complete edge configuration
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Admin           AdminConfig           `yaml:"admin"`
	Logging         LoggingConfig         `yaml:"logging"`
	Services        map[string]string     `yaml:"services"` // service name -> base URL
	Routes          []RouteConfig         `yaml:"routes"`   // empty = built-in route table
	Proxy           ProxyConfig           `yaml:"proxy"`
	CORS            CORSConfig            `yaml:"cors"`
	RateLimit       RateLimitConfig       `yaml:"rate_limit"`
	SecurityHeaders SecurityHeadersConfig `yaml:"security_headers"`
	WebSocket       WebSocketConfig       `yaml:"websocket"`
	Internal        InternalConfig        `yaml:"internal"`
	Relay           RelayConfig           `yaml:"relay"`
	Tracing         TracingConfig         `yaml:"tracing"`
}

// Well-known backend service names.
const (
	ServiceAuth       = "auth"
	ServiceContent    = "content"
	ServiceTemplate   = "template"
	ServiceScheduling = "scheduling"
	ServiceDevice     = "device"
)

// ServerConfig defines the public HTTP/WebSocket listener
type ServerConfig struct {
	Address           string        `yaml:"address"` // e.g. "0.0.0.0:3000"
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"` // 0 = none; uploads and media streams can be long
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// AdminConfig defines the operator listener (metrics, registry snapshots)
type AdminConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Address     string `yaml:"address"`
	MetricsPath string `yaml:"metrics_path"`
	Pprof       bool   `yaml:"pprof"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level     string            `yaml:"level"`
	Format    string            `yaml:"format"` // json (default) or console
	Output    string            `yaml:"output"` // stdout, stderr or file path
	AccessLog bool              `yaml:"access_log"`
	SkipPaths []string          `yaml:"skip_paths"`
	Rotation  LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // max megabytes before rotation (default 100)
	MaxBackups int  `yaml:"max_backups"` // old rotated files to keep (default 3)
	MaxAge     int  `yaml:"max_age"`     // days to retain old files (default 28)
	Compress   bool `yaml:"compress"`    // gzip rotated files (default true)
	LocalTime  bool `yaml:"local_time"`  // use local time in backup filenames (default false)
}

// RouteConfig maps a path prefix to a backend service.
type RouteConfig struct {
	Name    string              `yaml:"name"`
	Prefix  string              `yaml:"prefix"`
	Service string              `yaml:"service"`
	Methods []string            `yaml:"methods"` // empty = any method
	Rewrite []RewriteRuleConfig `yaml:"rewrite"` // ordered; first match wins
}

// RewriteRuleConfig replaces a leading path prefix.
type RewriteRuleConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// ProxyConfig defines upstream forwarding behaviour
type ProxyConfig struct {
	Timeout          time.Duration        `yaml:"timeout"` // upstream inactivity budget, header wait included
	MaxBodyBytes     int64                `yaml:"max_body_bytes"`     // limit for buffered JSON/form bodies
	CommandPushDelay time.Duration        `yaml:"command_push_delay"` // delay before pushing a proxied command over WebSocket
	FlushInterval    time.Duration        `yaml:"flush_interval"`     // <=0 disables periodic flushing
	CircuitBreaker   CircuitBreakerConfig `yaml:"circuit_breaker"`
	HealthCheck      HealthCheckConfig    `yaml:"health_check"`
	Transport        TransportConfig      `yaml:"transport"`
}

// HealthCheckConfig defines active probing of the backend services
type HealthCheckConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Path           string        `yaml:"path"` // appended to each service URL
	Interval       time.Duration `yaml:"interval"`
	Timeout        time.Duration `yaml:"timeout"`
	HealthyAfter   int           `yaml:"healthy_after"`   // consecutive passes to mark healthy
	UnhealthyAfter int           `yaml:"unhealthy_after"` // consecutive failures to mark unhealthy
}

// CircuitBreakerConfig defines per-service circuit breaking
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"` // consecutive failures before opening
	Interval    time.Duration `yaml:"interval"`     // closed-state counter reset period
	OpenTimeout time.Duration `yaml:"open_timeout"` // time in open state before half-open
}

// TransportConfig defines upstream connection pool settings
type TransportConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost       int           `yaml:"max_conns_per_host"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	InsecureSkipVerify    bool          `yaml:"insecure_skip_verify"`
	CAFile                string        `yaml:"ca_file"`
}

// CORSConfig defines the origin policy
type CORSConfig struct {
	AllowOrigins        []string `yaml:"allow_origins"`         // exact origins, "*" or "*.example.com"
	AllowOriginPatterns []string `yaml:"allow_origin_patterns"` // regular expressions
	TrustedSuffixes     []string `yaml:"trusted_suffixes"`      // hostname suffixes, e.g. ".up.railway.app"
	AllowPrivateNetwork bool     `yaml:"allow_private_network"` // localhost, loopback and LAN origins
	AllowMethods        []string `yaml:"allow_methods"`
	AllowHeaders        []string `yaml:"allow_headers"`
	ExposeHeaders       []string `yaml:"expose_headers"`
	MaxAge              int      `yaml:"max_age"` // seconds
}

// RateLimitConfig defines per-client request limits on the public API
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Requests          int           `yaml:"requests"` // requests per period
	Period            time.Duration `yaml:"period"`
	Burst             int           `yaml:"burst"`
	PathPrefix        string        `yaml:"path_prefix"`
	ExemptPrefixes    []string      `yaml:"exempt_prefixes"`
	MaxClients        int           `yaml:"max_clients"` // tracked client limiters
	TrustForwardedFor bool          `yaml:"trust_forwarded_for"`
}

// SecurityHeadersConfig defines response security headers
type SecurityHeadersConfig struct {
	Enabled                   bool              `yaml:"enabled"`
	StrictTransportSecurity   string            `yaml:"strict_transport_security"`
	ContentSecurityPolicy     string            `yaml:"content_security_policy"`
	XContentTypeOptions       string            `yaml:"x_content_type_options"`
	XFrameOptions             string            `yaml:"x_frame_options"`
	ReferrerPolicy            string            `yaml:"referrer_policy"`
	CrossOriginOpenerPolicy   string            `yaml:"cross_origin_opener_policy"`
	CrossOriginResourcePolicy string            `yaml:"cross_origin_resource_policy"`
	CustomHeaders             map[string]string `yaml:"custom_headers"`
}

// WebSocketConfig defines the device/player socket endpoint
type WebSocketConfig struct {
	Path              string        `yaml:"path"`
	ReadLimit         int64         `yaml:"read_limit"`
	ReadBufferSize    int           `yaml:"read_buffer_size"`
	WriteBufferSize   int           `yaml:"write_buffer_size"`
	WriteWait         time.Duration `yaml:"write_wait"`
	PongWait          time.Duration `yaml:"pong_wait"`
	SendBuffer        int           `yaml:"send_buffer"` // queued outbound frames per connection
	EnableCompression bool          `yaml:"enable_compression"`
}

// InternalConfig guards the backend-only notification endpoints
type InternalConfig struct {
	TrustedNetworks []string `yaml:"trusted_networks"` // CIDRs
	Token           string   `yaml:"token"`            // optional X-Internal-Token value
}

// RelayConfig defines the optional Redis relay between edge replicas
type RelayConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"` // redis://... takes precedence over address
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// TracingConfig defines OpenTelemetry export
type TracingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	ServiceName string            `yaml:"service_name"`
	SampleRate  float64           `yaml:"sample_rate"`
	Headers     map[string]string `yaml:"headers"`
}

// DefaultPrivateNetworks are the CIDRs trusted for internal endpoints by default.
var DefaultPrivateNetworks = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fc00::/7",
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           "0.0.0.0:3000",
			ReadTimeout:       0,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
			ShutdownTimeout:   30 * time.Second,
		},
		Admin: AdminConfig{
			Enabled:     true,
			Address:     "127.0.0.1:9090",
			MetricsPath: "/metrics",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Output:    "stdout",
			AccessLog: true,
			SkipPaths: []string{"/health"},
			Rotation: LogRotationConfig{
				MaxSize:    100,
				MaxBackups: 3,
				MaxAge:     28,
				Compress:   true,
			},
		},
		Services: map[string]string{
			ServiceAuth:       "http://localhost:3001",
			ServiceContent:    "http://localhost:3002",
			ServiceTemplate:   "http://localhost:3003",
			ServiceScheduling: "http://localhost:3004",
			ServiceDevice:     "http://localhost:3005",
		},
		Proxy: ProxyConfig{
			Timeout:          30 * time.Second,
			MaxBodyBytes:     200 << 20,
			CommandPushDelay: 100 * time.Millisecond,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Interval:    60 * time.Second,
				OpenTimeout: 10 * time.Second,
			},
			HealthCheck: HealthCheckConfig{
				Enabled:        true,
				Path:           "/health",
				Interval:       15 * time.Second,
				Timeout:        3 * time.Second,
				HealthyAfter:   1,
				UnhealthyAfter: 2,
			},
			Transport: TransportConfig{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
				DialTimeout:         10 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		CORS: CORSConfig{
			AllowOrigins:        []string{"http://localhost:5173"},
			AllowPrivateNetwork: true,
			AllowMethods:        []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE"},
			AllowHeaders:        []string{"Content-Type", "Authorization", "X-Requested-With"},
			MaxAge:              86400,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			Requests:       10000,
			Period:         15 * time.Minute,
			PathPrefix:     "/api/",
			ExemptPrefixes: []string{"/api/internal/"},
			MaxClients:     100000,
		},
		SecurityHeaders: SecurityHeadersConfig{
			Enabled:                   true,
			XContentTypeOptions:       "nosniff",
			XFrameOptions:             "SAMEORIGIN",
			ReferrerPolicy:            "no-referrer",
			CrossOriginOpenerPolicy:   "same-origin",
			CrossOriginResourcePolicy: "cross-origin",
			StrictTransportSecurity:   "max-age=15552000; includeSubDomains",
		},
		WebSocket: WebSocketConfig{
			Path:            "/ws",
			ReadLimit:       512 * 1024,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			SendBuffer:      64,
		},
		Internal: InternalConfig{
			TrustedNetworks: append([]string(nil), DefaultPrivateNetworks...),
		},
		Relay: RelayConfig{
			Address: "localhost:6379",
			Channel: "signage:edge:relay",
		},
		Tracing: TracingConfig{
			ServiceName: "signage-edge",
			SampleRate:  1.0,
		},
	}
}
