// Package routes maps public path prefixes to backend services and rewrites
// paths into the backend's own namespace.
package routes

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/signagehub/edge/internal/config"
)

// Rule replaces a leading From prefix with To.
type Rule struct {
	From string
	To   string
}

// Entry is one immutable route.
type Entry struct {
	Name    string
	Prefix  string
	Service string
	Target  *url.URL
	Methods map[string]bool // nil = any method
	Rules   []Rule
}

// AllowsMethod reports whether the entry accepts method.
func (e *Entry) AllowsMethod(method string) bool {
	if e.Methods == nil {
		return true
	}
	return e.Methods[method]
}

// AllowedMethods returns the accepted methods sorted, for the Allow header.
func (e *Entry) AllowedMethods() []string {
	out := make([]string, 0, len(e.Methods))
	for m := range e.Methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Rewrite applies the first rule whose From matches path. A rewrite that
// consumes the whole path yields "/". Paths no rule matches are returned as is.
func (e *Entry) Rewrite(path string) string {
	for _, r := range e.Rules {
		if hasSegmentPrefix(path, r.From) {
			out := r.To + path[len(r.From):]
			if out == "" {
				return "/"
			}
			if !strings.HasPrefix(out, "/") {
				out = "/" + out
			}
			return out
		}
	}
	return path
}

// Table is the immutable route table.
type Table struct {
	entries []*Entry // longest prefix first
}

// NewTable builds a table from route configs and service base URLs.
// An empty route list selects the built-in routes.
func NewTable(cfgs []config.RouteConfig, services map[string]string) (*Table, error) {
	if len(cfgs) == 0 {
		cfgs = Defaults()
	}

	t := &Table{entries: make([]*Entry, 0, len(cfgs))}
	for _, rc := range cfgs {
		raw, ok := services[rc.Service]
		if !ok {
			return nil, fmt.Errorf("route %s: unknown service %q", rc.Name, rc.Service)
		}
		target, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("route %s: invalid service url: %w", rc.Name, err)
		}

		e := &Entry{
			Name:    rc.Name,
			Prefix:  strings.TrimSuffix(rc.Prefix, "/"),
			Service: rc.Service,
			Target:  target,
		}
		if e.Prefix == "" {
			e.Prefix = "/"
		}
		if len(rc.Methods) > 0 {
			e.Methods = make(map[string]bool, len(rc.Methods))
			for _, m := range rc.Methods {
				e.Methods[strings.ToUpper(m)] = true
			}
		}
		for _, r := range rc.Rewrite {
			e.Rules = append(e.Rules, Rule{From: r.From, To: r.To})
		}
		t.entries = append(t.entries, e)
	}

	sort.SliceStable(t.entries, func(i, j int) bool {
		return len(t.entries[i].Prefix) > len(t.entries[j].Prefix)
	})
	return t, nil
}

// Match returns the entry with the longest prefix matching path on a segment boundary.
func (t *Table) Match(path string) (*Entry, bool) {
	for _, e := range t.entries {
		if hasSegmentPrefix(path, e.Prefix) {
			return e, true
		}
	}
	return nil, false
}

// Entries returns the routes, longest prefix first.
func (t *Table) Entries() []*Entry {
	return t.entries
}

// hasSegmentPrefix matches "/api/auth" against "/api/auth" and "/api/auth/x"
// but not "/api/authx".
func hasSegmentPrefix(path, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
