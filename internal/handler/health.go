// Package handler contains the echo handlers for the proxy and its admin endpoints.
package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"timeoutproxy/internal/routing"
	"timeoutproxy/internal/timeout"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	routes   *routing.RouteTable
	clusters *routing.ClusterRegistry
	version  Version
}

type routeStatus struct {
	ID          string `json:"id"`
	Prefix      string `json:"prefix"`
	Cluster     string `json:"cluster"`
	StripPrefix bool   `json:"strip_prefix"`
	Timeout     string `json:"timeout,omitempty"`
	Policy      string `json:"policy"`
}

type clusterStatus struct {
	ID              string `json:"id"`
	Address         string `json:"address"`
	ActivityTimeout string `json:"activity_timeout,omitempty"`
}

type statusResponse struct {
	Status   string          `json:"status"`
	Version  string          `json:"version"`
	Routes   []routeStatus   `json:"routes"`
	Clusters []clusterStatus `json:"clusters"`
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(routes *routing.RouteTable, clusters *routing.ClusterRegistry, v Version) *HealthHandler {
	return &HealthHandler{routes: routes, clusters: clusters, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the loaded route table, clusters and the effective timeout
// policy of each route.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := statusResponse{
		Status:  "ok",
		Version: string(h.version),
	}

	for _, cl := range h.clusters.Clusters() {
		cs := clusterStatus{ID: cl.ID, Address: cl.BaseURL.String()}
		if cl.ActivityTimeout > 0 {
			cs.ActivityTimeout = cl.ActivityTimeout.String()
		}
		resp.Clusters = append(resp.Clusters, cs)
	}

	for _, r := range h.routes.Routes() {
		rs := routeStatus{
			ID:          r.ID,
			Prefix:      r.Prefix,
			Cluster:     r.ClusterID,
			StripPrefix: r.StripPrefix,
		}
		if r.Timeout > 0 {
			rs.Timeout = r.Timeout.String()
		}
		var activity time.Duration
		if cl, err := h.clusters.Resolve(r.ClusterID); err == nil {
			activity = cl.ActivityTimeout
		}
		rs.Policy = timeout.Resolve(r.Timeout, activity).String()
		resp.Routes = append(resp.Routes, rs)
	}

	return c.JSON(http.StatusOK, resp)
}
