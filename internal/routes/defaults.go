package routes

import "github.com/signagehub/edge/internal/config"

func rule(from, to string) config.RewriteRuleConfig {
	return config.RewriteRuleConfig{From: from, To: to}
}

// Defaults returns the built-in route table served when the config has no routes.
func Defaults() []config.RouteConfig {
	return []config.RouteConfig{
		{
			Name: "auth", Prefix: "/api/auth", Service: config.ServiceAuth,
			Rewrite: []config.RewriteRuleConfig{rule("/api/auth", "")},
		},
		{
			Name: "content", Prefix: "/api/content", Service: config.ServiceContent,
			Rewrite: []config.RewriteRuleConfig{rule("/api/content", "")},
		},
		{
			Name: "templates", Prefix: "/api/templates", Service: config.ServiceTemplate,
			Rewrite: []config.RewriteRuleConfig{rule("/api/templates", "/templates")},
		},
		{
			Name: "settings", Prefix: "/api/settings", Service: config.ServiceTemplate,
			Rewrite: []config.RewriteRuleConfig{rule("/api/settings", "/settings")},
		},
		{
			Name: "schedules", Prefix: "/api/schedules", Service: config.ServiceScheduling,
			Rewrite: []config.RewriteRuleConfig{
				rule("/api/schedules/playlists", "/playlists"),
				rule("/api/schedules/player", "/player"),
				rule("/api/schedules/devices", "/devices"),
				rule("/api/schedules/schedules", "/schedules"),
				rule("/api/schedules", "/schedules"),
			},
		},
		{
			Name: "devices", Prefix: "/api/devices", Service: config.ServiceDevice,
			Rewrite: []config.RewriteRuleConfig{
				rule("/api/devices/devices", "/devices"),
				rule("/api/devices/properties", "/properties"),
				rule("/api/devices/all-zones", "/all-zones"),
				rule("/api/devices/zones", "/zones"),
				rule("/api/devices/pairing", "/pairing"),
				rule("/api/devices", "/devices"),
			},
		},
		{
			Name: "device", Prefix: "/api/device", Service: config.ServiceDevice,
			Rewrite: []config.RewriteRuleConfig{rule("/api/device", "/device")},
		},
		{
			Name: "analytics-dashboard", Prefix: "/api/analytics/dashboard-stats", Service: config.ServiceDevice,
			Rewrite: []config.RewriteRuleConfig{rule("/api/analytics", "/analytics")},
		},
		{
			Name: "analytics-activity", Prefix: "/api/analytics/activity", Service: config.ServiceAuth,
			Rewrite: []config.RewriteRuleConfig{rule("/api/analytics", "/analytics")},
		},
		{
			Name: "analytics", Prefix: "/api/analytics", Service: config.ServiceDevice,
			Rewrite: []config.RewriteRuleConfig{rule("/api/analytics", "/analytics")},
		},
		{
			Name: "uploads", Prefix: "/uploads", Service: config.ServiceContent,
			Methods: []string{"GET", "HEAD"},
		},
		{
			Name: "migrations", Prefix: "/admin/run-migrations", Service: config.ServiceDevice,
			Methods: []string{"POST"},
		},
	}
}
