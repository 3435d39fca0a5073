package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fakeEnv(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestLoaderParse(t *testing.T) {
	yaml := `
server:
  address: "0.0.0.0:8080"
  read_header_timeout: 5s

services:
  device: http://device:3005

proxy:
  timeout: 20s
  command_push_delay: 250ms

routes:
  - name: devices
    prefix: /api/devices
    service: device
    rewrite:
      - from: /api/devices
        to: /devices
`

	cfg, err := NewLoader().Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Address != "0.0.0.0:8080" {
		t.Errorf("expected address 0.0.0.0:8080, got %s", cfg.Server.Address)
	}
	if cfg.Server.ReadHeaderTimeout != 5*time.Second {
		t.Errorf("expected read_header_timeout 5s, got %v", cfg.Server.ReadHeaderTimeout)
	}
	if cfg.Proxy.Timeout != 20*time.Second {
		t.Errorf("expected proxy timeout 20s, got %v", cfg.Proxy.Timeout)
	}
	if cfg.Proxy.CommandPushDelay != 250*time.Millisecond {
		t.Errorf("expected command_push_delay 250ms, got %v", cfg.Proxy.CommandPushDelay)
	}
	if cfg.Services[ServiceDevice] != "http://device:3005" {
		t.Errorf("device service = %s", cfg.Services[ServiceDevice])
	}
	if cfg.Services[ServiceAuth] != "http://localhost:3001" {
		t.Errorf("default auth service lost: %q", cfg.Services[ServiceAuth])
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].Rewrite[0].To != "/devices" {
		t.Errorf("unexpected routes %+v", cfg.Routes)
	}
}

func TestLoaderDefaults(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Address != "0.0.0.0:3000" {
		t.Errorf("default address = %s", cfg.Server.Address)
	}
	if cfg.Proxy.MaxBodyBytes != 200<<20 {
		t.Errorf("default max body = %d", cfg.Proxy.MaxBodyBytes)
	}
	if cfg.Proxy.CommandPushDelay != 100*time.Millisecond {
		t.Errorf("default push delay = %v", cfg.Proxy.CommandPushDelay)
	}
	if cfg.RateLimit.Requests != 10000 || cfg.RateLimit.Period != 15*time.Minute {
		t.Errorf("default rate limit = %d/%v", cfg.RateLimit.Requests, cfg.RateLimit.Period)
	}
	if cfg.WebSocket.ReadLimit != 512*1024 {
		t.Errorf("default read limit = %d", cfg.WebSocket.ReadLimit)
	}
	if !cfg.CORS.AllowPrivateNetwork {
		t.Error("private network origins should be allowed by default")
	}
}

func TestLoaderEnvExpansion(t *testing.T) {
	l := NewLoader()
	l.lookupEnv = fakeEnv(map[string]string{
		"EDGE_DEVICE_URL": "http://device.internal:3005",
		"EDGE_TOKEN":      "s3cret",
	})

	yaml := `
services:
  device: ${EDGE_DEVICE_URL}
internal:
  token: ${EDGE_TOKEN}
relay:
  password: ${UNSET_VAR}
`
	cfg, err := l.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Services[ServiceDevice] != "http://device.internal:3005" {
		t.Errorf("device = %s", cfg.Services[ServiceDevice])
	}
	if cfg.Internal.Token != "s3cret" {
		t.Errorf("token = %s", cfg.Internal.Token)
	}
	if cfg.Relay.Password != "${UNSET_VAR}" {
		t.Errorf("unset variable should be kept, got %q", cfg.Relay.Password)
	}
}

func TestLoaderValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "unknown service",
			yaml: `
routes:
  - name: x
    prefix: /api/x
    service: billing
`,
			wantErr: "unknown service",
		},
		{
			name: "relative prefix",
			yaml: `
routes:
  - name: x
    prefix: api/x
    service: auth
`,
			wantErr: "prefix must start with /",
		},
		{
			name: "duplicate route",
			yaml: `
routes:
  - name: x
    prefix: /a
    service: auth
  - name: x
    prefix: /b
    service: auth
`,
			wantErr: "duplicate route name",
		},
		{
			name: "bad method",
			yaml: `
routes:
  - name: x
    prefix: /a
    service: auth
    methods: [FETCH]
`,
			wantErr: "invalid method",
		},
		{
			name:    "bad service url",
			yaml:    "services:\n  auth: ftp://auth\n",
			wantErr: "scheme must be http or https",
		},
		{
			name:    "bad origin pattern",
			yaml:    "cors:\n  allow_origin_patterns: ['(']\n",
			wantErr: "invalid pattern",
		},
		{
			name:    "bad trusted network",
			yaml:    "internal:\n  trusted_networks: ['10.0.0.0']\n",
			wantErr: "trusted_networks",
		},
		{
			name:    "relay without channel",
			yaml:    "relay:\n  enabled: true\n  channel: ''\n",
			wantErr: "relay.channel",
		},
		{
			name:    "unknown log format",
			yaml:    "logging:\n  format: xml\n",
			wantErr: "logging.format",
		},
		{
			name:    "tracing without endpoint",
			yaml:    "tracing:\n  enabled: true\n",
			wantErr: "tracing.endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	l := NewLoader()
	l.lookupEnv = fakeEnv(map[string]string{
		"API_GATEWAY_PORT":      "4000",
		"CORS_ORIGIN":           "https://app.example.com, https://admin.example.com",
		"CORS_TRUSTED_SUFFIXES": ".up.railway.app",
		"DEVICE_SERVICE_URL":    "http://device-service:3005",
		"LOG_LEVEL":             "DEBUG",
		"REDIS_URL":             "redis://redis:6379/0",
	})

	cfg, err := l.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}

	if cfg.Server.Address != "0.0.0.0:4000" {
		t.Errorf("address = %s", cfg.Server.Address)
	}
	if len(cfg.CORS.AllowOrigins) != 2 || cfg.CORS.AllowOrigins[1] != "https://admin.example.com" {
		t.Errorf("origins = %v", cfg.CORS.AllowOrigins)
	}
	if cfg.CORS.TrustedSuffixes[0] != ".up.railway.app" {
		t.Errorf("suffixes = %v", cfg.CORS.TrustedSuffixes)
	}
	if cfg.Services[ServiceDevice] != "http://device-service:3005" {
		t.Errorf("device = %s", cfg.Services[ServiceDevice])
	}
	if cfg.Services[ServiceContent] != "http://localhost:3002" {
		t.Errorf("content default = %s", cfg.Services[ServiceContent])
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %s", cfg.Logging.Level)
	}
	if !cfg.Relay.Enabled || cfg.Relay.URL != "redis://redis:6379/0" {
		t.Errorf("relay = %+v", cfg.Relay)
	}
}

func TestLoadFromEnvPortPrecedence(t *testing.T) {
	l := NewLoader()
	l.lookupEnv = fakeEnv(map[string]string{"PORT": "8080", "API_GATEWAY_PORT": "4000"})

	cfg, err := l.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.Server.Address != "0.0.0.0:8080" {
		t.Errorf("PORT should win, got %s", cfg.Server.Address)
	}
}

func TestLoaderLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edge.yaml")
	if err := os.WriteFile(path, []byte("server:\n  address: \"127.0.0.1:3999\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Address != "127.0.0.1:3999" {
		t.Errorf("address = %s", cfg.Server.Address)
	}

	if _, err := NewLoader().Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
