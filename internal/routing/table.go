package routing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"timeoutproxy/internal/config"
)

// Route maps a path prefix to a cluster.
type Route struct {
	ID          string
	Prefix      string
	ClusterID   string
	Timeout     time.Duration
	StripPrefix bool
	// Order is the position of the route in the configuration file.
	Order int
}

// Matches reports whether path falls under the route prefix. Matching is
// segment aware and case-insensitive: "/route1" matches "/route1" and
// "/Route1/x" but not "/route10".
func (r *Route) Matches(path string) bool {
	if r.Prefix == "/" {
		return true
	}
	if len(path) < len(r.Prefix) || !strings.EqualFold(path[:len(r.Prefix)], r.Prefix) {
		return false
	}
	return len(path) == len(r.Prefix) || path[len(r.Prefix)] == '/'
}

// UpstreamPath returns the path to send upstream for an inbound path that
// matched this route.
func (r *Route) UpstreamPath(path string) string {
	if !r.StripPrefix || r.Prefix == "/" {
		return path
	}
	rest := path[len(r.Prefix):]
	if rest == "" {
		return "/"
	}
	return rest
}

// RouteTable matches request paths to routes.
type RouteTable struct {
	ordered []*Route // configuration order
	byMatch []*Route // longest prefix first, ties in configuration order
}

// NewRouteTable builds the table from cfg.Routes. Every route must reference
// a cluster known to clusters; a dangling reference fails the load.
func NewRouteTable(cfg *config.Config, clusters *ClusterRegistry) (*RouteTable, error) {
	t := &RouteTable{}
	seen := make(map[string]bool, len(cfg.Routes))

	for i, rc := range cfg.Routes {
		if rc.ID == "" {
			return nil, fmt.Errorf("route #%d: missing id", i)
		}
		if seen[rc.ID] {
			return nil, fmt.Errorf("route %q: duplicate id", rc.ID)
		}
		seen[rc.ID] = true

		if strings.TrimSpace(rc.Path) == "" {
			return nil, fmt.Errorf("route %q: empty path", rc.ID)
		}
		if _, err := clusters.Resolve(rc.Cluster); err != nil {
			return nil, fmt.Errorf("route %q: %w", rc.ID, err)
		}
		if rc.Timeout < 0 {
			return nil, fmt.Errorf("route %q: negative timeout", rc.ID)
		}

		t.ordered = append(t.ordered, &Route{
			ID:          rc.ID,
			Prefix:      NormalizePrefix(rc.Path),
			ClusterID:   rc.Cluster,
			Timeout:     rc.Timeout.Std(),
			StripPrefix: rc.StripPrefix,
			Order:       i,
		})
	}

	t.byMatch = make([]*Route, len(t.ordered))
	copy(t.byMatch, t.ordered)
	sort.SliceStable(t.byMatch, func(i, j int) bool {
		return len(t.byMatch[i].Prefix) > len(t.byMatch[j].Prefix)
	})

	return t, nil
}

// Match returns the route for path, preferring the longest prefix.
func (t *RouteTable) Match(path string) (*Route, error) {
	if path == "" {
		path = "/"
	}
	for _, r := range t.byMatch {
		if r.Matches(path) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, path)
}

// Routes returns the routes in configuration order.
func (t *RouteTable) Routes() []*Route {
	out := make([]*Route, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// NormalizePrefix turns a configured path pattern into a bare prefix.
// "route1/*", "/route1/{**catch-all}" and "/route1/" all become "/route1";
// "*" and "/" become "/".
func NormalizePrefix(pattern string) string {
	p := strings.TrimSpace(pattern)
	if i := strings.IndexByte(p, '{'); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimRight(p, "*")
	p = strings.TrimRight(p, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
