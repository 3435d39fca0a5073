package routes

import (
	"testing"

	"github.com/signagehub/edge/internal/config"
)

func defaultTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable(nil, config.DefaultConfig().Services)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tbl
}

func TestDefaultTableRouting(t *testing.T) {
	tbl := defaultTable(t)

	tests := []struct {
		path    string
		service string
		target  string
		rewrite string
	}{
		{"/api/auth/login", "auth", "localhost:3001", "/login"},
		{"/api/auth", "auth", "localhost:3001", "/"},
		{"/api/content/media/upload", "content", "localhost:3002", "/media/upload"},
		{"/api/templates/42", "template", "localhost:3003", "/templates/42"},
		{"/api/settings/widgets", "template", "localhost:3003", "/settings/widgets"},
		{"/api/schedules/playlists/7", "scheduling", "localhost:3004", "/playlists/7"},
		{"/api/schedules/player/abc/content", "scheduling", "localhost:3004", "/player/abc/content"},
		{"/api/schedules/devices/d1", "scheduling", "localhost:3004", "/devices/d1"},
		{"/api/schedules/schedules/9", "scheduling", "localhost:3004", "/schedules/9"},
		{"/api/schedules", "scheduling", "localhost:3004", "/schedules"},
		{"/api/schedules/9", "scheduling", "localhost:3004", "/schedules/9"},
		{"/api/devices/devices/d1/commands", "device", "localhost:3005", "/devices/d1/commands"},
		{"/api/devices/properties", "device", "localhost:3005", "/properties"},
		{"/api/devices/all-zones", "device", "localhost:3005", "/all-zones"},
		{"/api/devices/zones/3", "device", "localhost:3005", "/zones/3"},
		{"/api/devices/pairing/claim", "device", "localhost:3005", "/pairing/claim"},
		{"/api/devices/d1/commands", "device", "localhost:3005", "/devices/d1/commands"},
		{"/api/device/heartbeat", "device", "localhost:3005", "/device/heartbeat"},
		{"/api/analytics/dashboard-stats", "device", "localhost:3005", "/analytics/dashboard-stats"},
		{"/api/analytics/activity/recent", "auth", "localhost:3001", "/analytics/activity/recent"},
		{"/api/analytics/other", "device", "localhost:3005", "/analytics/other"},
		{"/uploads/t1/video.mp4", "content", "localhost:3002", "/uploads/t1/video.mp4"},
		{"/admin/run-migrations", "device", "localhost:3005", "/admin/run-migrations"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e, ok := tbl.Match(tt.path)
			if !ok {
				t.Fatalf("no route for %s", tt.path)
			}
			if e.Service != tt.service {
				t.Errorf("service = %s, want %s", e.Service, tt.service)
			}
			if e.Target.Host != tt.target {
				t.Errorf("target = %s, want %s", e.Target.Host, tt.target)
			}
			if got := e.Rewrite(tt.path); got != tt.rewrite {
				t.Errorf("Rewrite(%s) = %s, want %s", tt.path, got, tt.rewrite)
			}
		})
	}
}

func TestMatchSegmentBoundary(t *testing.T) {
	tbl := defaultTable(t)

	for _, path := range []string{"/api/authx", "/api/contentful", "/uploadsx/a", "/", "/api", "/health"} {
		if e, ok := tbl.Match(path); ok {
			t.Errorf("%s unexpectedly matched %s", path, e.Name)
		}
	}

	// /api/devicesx must not fall into /api/devices or /api/device
	if _, ok := tbl.Match("/api/devicesx"); ok {
		t.Error("/api/devicesx should not match")
	}
}

func TestMethods(t *testing.T) {
	tbl := defaultTable(t)

	e, _ := tbl.Match("/uploads/a.png")
	if !e.AllowsMethod("GET") || !e.AllowsMethod("HEAD") || e.AllowsMethod("POST") {
		t.Error("uploads should only allow GET and HEAD")
	}
	if got := e.AllowedMethods(); len(got) != 2 || got[0] != "GET" || got[1] != "HEAD" {
		t.Errorf("AllowedMethods = %v", got)
	}

	e, _ = tbl.Match("/admin/run-migrations")
	if e.AllowsMethod("GET") || !e.AllowsMethod("POST") {
		t.Error("migrations should only allow POST")
	}

	e, _ = tbl.Match("/api/auth/login")
	if !e.AllowsMethod("DELETE") {
		t.Error("routes without methods accept any method")
	}
}

func TestRewriteRuleOrder(t *testing.T) {
	e := &Entry{Rules: []Rule{
		{From: "/a/b", To: "/x"},
		{From: "/a", To: "/y"},
	}}

	tests := map[string]string{
		"/a/b/c": "/x/c",
		"/a/bc":  "/y/bc",
		"/a":     "/y",
		"/z":     "/z",
	}
	for in, want := range tests {
		if got := e.Rewrite(in); got != want {
			t.Errorf("Rewrite(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestCustomRoutes(t *testing.T) {
	services := map[string]string{"device": "http://device:3005"}
	tbl, err := NewTable([]config.RouteConfig{
		{Name: "d", Prefix: "/v2/devices/", Service: "device", Methods: []string{"get"}},
	}, services)
	if err != nil {
		t.Fatal(err)
	}

	e, ok := tbl.Match("/v2/devices/1")
	if !ok || e.Prefix != "/v2/devices" {
		t.Fatalf("match = %+v %v", e, ok)
	}
	if !e.AllowsMethod("GET") {
		t.Error("methods should be normalized to upper case")
	}

	if _, err := NewTable([]config.RouteConfig{{Name: "x", Prefix: "/x", Service: "nope"}}, services); err == nil {
		t.Error("expected error for unknown service")
	}
}
