package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

// validHTTPMethods contains all valid HTTP method names.
var validHTTPMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"DELETE": true, "PATCH": true, "OPTIONS": true,
}

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
		lookupEnv:  os.LookupEnv,
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	fillDefaultServices(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv builds a configuration from defaults and the process environment.
// It is used when no config file is given.
func (l *Loader) LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	l.applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := l.lookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

func (l *Loader) env(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := l.lookupEnv(k); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func (l *Loader) applyEnv(cfg *Config) {
	if port, ok := l.env("PORT", "API_GATEWAY_PORT"); ok {
		cfg.Server.Address = net.JoinHostPort("0.0.0.0", port)
	}
	if v, ok := l.env("ADMIN_ADDRESS"); ok {
		cfg.Admin.Address = v
	}
	if v, ok := l.env("CORS_ORIGIN"); ok {
		cfg.CORS.AllowOrigins = splitList(v)
	}
	if v, ok := l.env("CORS_TRUSTED_SUFFIXES"); ok {
		cfg.CORS.TrustedSuffixes = splitList(v)
	}

	for name, key := range map[string]string{
		ServiceAuth:       "AUTH_SERVICE_URL",
		ServiceContent:    "CONTENT_SERVICE_URL",
		ServiceTemplate:   "TEMPLATE_SERVICE_URL",
		ServiceScheduling: "SCHEDULING_SERVICE_URL",
		ServiceDevice:     "DEVICE_SERVICE_URL",
	} {
		if v, ok := l.env(key); ok {
			cfg.Services[name] = v
		}
	}

	if v, ok := l.env("LOG_LEVEL"); ok {
		cfg.Logging.Level = strings.ToLower(v)
	} else if v, ok := l.env("NODE_ENV", "APP_ENV"); ok && v == "development" {
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "console"
	}
	if v, ok := l.env("LOG_FORMAT"); ok {
		cfg.Logging.Format = strings.ToLower(v)
	}

	if v, ok := l.env("REDIS_URL"); ok {
		cfg.Relay.Enabled = true
		cfg.Relay.URL = v
	}
	if v, ok := l.env("INTERNAL_TOKEN"); ok {
		cfg.Internal.Token = v
	}
	if v, ok := l.env("INTERNAL_TRUSTED_NETWORKS"); ok {
		cfg.Internal.TrustedNetworks = splitList(v)
	}
	if v, ok := l.env("RATE_LIMIT_MAX"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Requests = n
		}
	}
	if v, ok := l.env("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Endpoint = v
	}
}

// fillDefaultServices restores built-in service URLs a partial services: block left out.
func fillDefaultServices(cfg *Config) {
	if cfg.Services == nil {
		cfg.Services = make(map[string]string)
	}
	for name, u := range DefaultConfig().Services {
		if _, ok := cfg.Services[name]; !ok {
			cfg.Services[name] = u
		}
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks configuration for errors
func Validate(cfg *Config) error {
	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if _, _, err := net.SplitHostPort(cfg.Server.Address); err != nil {
		return fmt.Errorf("server.address: %w", err)
	}
	if cfg.Admin.Enabled && cfg.Admin.Address == "" {
		return fmt.Errorf("admin.address is required when admin is enabled")
	}
	switch cfg.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", cfg.Logging.Format)
	}

	for name, raw := range cfg.Services {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("service %s: invalid url: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("service %s: url scheme must be http or https, got %q", name, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("service %s: url has no host", name)
		}
	}

	names := make(map[string]bool)
	for i, r := range cfg.Routes {
		if r.Name == "" {
			return fmt.Errorf("route %d: name is required", i)
		}
		if names[r.Name] {
			return fmt.Errorf("duplicate route name: %s", r.Name)
		}
		names[r.Name] = true

		if !strings.HasPrefix(r.Prefix, "/") {
			return fmt.Errorf("route %s: prefix must start with /", r.Name)
		}
		if _, ok := cfg.Services[r.Service]; !ok {
			return fmt.Errorf("route %s: unknown service %q", r.Name, r.Service)
		}
		for _, m := range r.Methods {
			if !validHTTPMethods[strings.ToUpper(m)] {
				return fmt.Errorf("route %s: invalid method %q", r.Name, m)
			}
		}
		for j, rule := range r.Rewrite {
			if !strings.HasPrefix(rule.From, "/") {
				return fmt.Errorf("route %s: rewrite %d: from must start with /", r.Name, j)
			}
			if rule.To != "" && !strings.HasPrefix(rule.To, "/") {
				return fmt.Errorf("route %s: rewrite %d: to must be empty or start with /", r.Name, j)
			}
		}
	}

	if cfg.Proxy.MaxBodyBytes <= 0 {
		return fmt.Errorf("proxy.max_body_bytes must be > 0")
	}
	if cfg.Proxy.CommandPushDelay < 0 {
		return fmt.Errorf("proxy.command_push_delay must be >= 0")
	}

	for _, p := range cfg.CORS.AllowOriginPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("cors.allow_origin_patterns: invalid pattern %q: %w", p, err)
		}
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.Requests <= 0 {
			return fmt.Errorf("rate_limit.requests must be > 0")
		}
		if cfg.RateLimit.Period <= 0 {
			return fmt.Errorf("rate_limit.period must be > 0")
		}
	}

	if !strings.HasPrefix(cfg.WebSocket.Path, "/") {
		return fmt.Errorf("websocket.path must start with /")
	}
	if cfg.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket.send_buffer must be > 0")
	}
	if cfg.WebSocket.PongWait <= 0 {
		return fmt.Errorf("websocket.pong_wait must be > 0")
	}

	for _, cidr := range cfg.Internal.TrustedNetworks {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("internal.trusted_networks: %w", err)
		}
	}

	if cfg.Relay.Enabled {
		if cfg.Relay.URL == "" && cfg.Relay.Address == "" {
			return fmt.Errorf("relay: url or address is required when enabled")
		}
		if cfg.Relay.Channel == "" {
			return fmt.Errorf("relay.channel is required when enabled")
		}
	}

	if cfg.Tracing.Enabled {
		if cfg.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
		}
		if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
		}
	}

	return nil
}
