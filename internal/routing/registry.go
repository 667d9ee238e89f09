// Package routing holds the read-only route table and cluster registry built
// from configuration at startup. Both are safe for concurrent use without
// locking because they are never mutated after construction.
package routing

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"timeoutproxy/internal/config"
)

var (
	// ErrRouteNotFound is returned when no route prefix matches a path.
	ErrRouteNotFound = errors.New("no matching route found")
	// ErrClusterNotFound is returned when a cluster id is not registered.
	ErrClusterNotFound = errors.New("cluster not found")
)

// Cluster is a named upstream destination.
type Cluster struct {
	ID              string
	BaseURL         *url.URL
	ActivityTimeout time.Duration
}

// ClusterRegistry resolves cluster ids to upstream destinations.
type ClusterRegistry struct {
	clusters map[string]*Cluster
	ordered  []*Cluster
}

// NewClusterRegistry builds the registry from cfg.Clusters.
func NewClusterRegistry(cfg *config.Config) (*ClusterRegistry, error) {
	reg := &ClusterRegistry{clusters: make(map[string]*Cluster, len(cfg.Clusters))}

	for _, id := range cfg.ClusterIDs() {
		cc := cfg.Clusters[id]
		u, err := url.Parse(cc.Address)
		if err != nil {
			return nil, fmt.Errorf("cluster %q: parse address: %w", id, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("cluster %q: address %q must be an absolute http(s) URL", id, cc.Address)
		}
		if cc.ActivityTimeout < 0 {
			return nil, fmt.Errorf("cluster %q: negative activity timeout", id)
		}

		cl := &Cluster{
			ID:              id,
			BaseURL:         u,
			ActivityTimeout: cc.ActivityTimeout.Std(),
		}
		reg.clusters[id] = cl
		reg.ordered = append(reg.ordered, cl)
	}

	return reg, nil
}

// Resolve returns the cluster registered under id.
func (r *ClusterRegistry) Resolve(id string) (*Cluster, error) {
	cl, ok := r.clusters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrClusterNotFound, id)
	}
	return cl, nil
}

// Clusters returns all clusters sorted by id.
func (r *ClusterRegistry) Clusters() []*Cluster {
	out := make([]*Cluster, len(r.ordered))
	copy(out, r.ordered)
	return out
}
