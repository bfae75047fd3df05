package mcpclient

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Well-known server names. The planner keys investigation branches off
// which of these are healthy.
const (
	ServerGrafana    = "grafana"
	ServerLoki       = "loki"
	ServerPrometheus = "prometheus"
)

const healthProbeTimeout = 5 * time.Second

// healthEndpoints maps each server to its probe path. The Grafana MCP
// server exposes a dedicated /healthz; the others answer on their SSE
// endpoint.
var healthEndpoints = map[string]string{
	ServerGrafana:    "/healthz",
	ServerLoki:       "/sse",
	ServerPrometheus: "/sse",
}

// Registry tracks the configured MCP servers and their last observed
// health. Health flips only inside HealthCheck; readers get a consistent
// view through Snapshot.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	healthy map[string]bool

	// checkMu serializes whole refresh passes: without it a slow pass
	// could commit stale flags over a fresher one.
	checkMu sync.Mutex
	probe   *http.Client
	logger  *zap.Logger
}

// NewRegistry builds a registry from named server clients. Nil clients
// (unconfigured servers) are skipped.
func NewRegistry(logger *zap.Logger, clients map[string]*Client) *Registry {
	r := &Registry{
		clients: make(map[string]*Client),
		healthy: make(map[string]bool),
		probe:   &http.Client{Timeout: healthProbeTimeout},
		logger:  logger,
	}
	for name, c := range clients {
		if c == nil {
			continue
		}
		r.clients[name] = c
		r.healthy[name] = false
	}
	return r
}

// HealthCheck probes every configured server with a lightweight HTTP GET
// against its health endpoint and records the results.
func (r *Registry) HealthCheck(ctx context.Context) map[string]bool {
	r.checkMu.Lock()
	defer r.checkMu.Unlock()

	r.mu.RLock()
	clients := make(map[string]*Client, len(r.clients))
	for name, c := range r.clients {
		clients[name] = c
	}
	r.mu.RUnlock()

	results := make(map[string]bool, len(clients))
	for name, c := range clients {
		results[name] = r.probeOne(ctx, name, c)
	}

	r.mu.Lock()
	for name, ok := range results {
		r.healthy[name] = ok
	}
	r.mu.Unlock()

	return results
}

func (r *Registry) probeOne(ctx context.Context, name string, c *Client) bool {
	base := c.BaseURL()
	if base == "" {
		return false
	}
	endpoint, ok := healthEndpoints[name]
	if !ok {
		endpoint = "/healthz"
	}

	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, strings.TrimRight(base, "/")+endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := r.probe.Do(req)
	if err != nil {
		r.logger.Warn("MCP server unreachable",
			zap.String("server", name),
			zap.Error(err),
		)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("MCP server unhealthy",
			zap.String("server", name),
			zap.Int("status", resp.StatusCode),
		)
		return false
	}
	return true
}

// MarkHealthy overrides a server's health flag. Tests use it to simulate
// outages without a network.
func (r *Registry) MarkHealthy(name string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[name]; exists {
		r.healthy[name] = ok
	}
}

// Status returns the current health of all configured servers.
func (r *Registry) Status() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.healthy))
	for name, ok := range r.healthy {
		out[name] = ok
	}
	return out
}

// AnyHealthy reports whether at least one server is reachable.
func (r *Registry) AnyHealthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ok := range r.healthy {
		if ok {
			return true
		}
	}
	return false
}

// Snapshot is a point-in-time view of the registry. An investigation takes
// one snapshot when it starts and keeps it for its whole run, so a health
// refresh mid-flight affects only investigations started afterwards.
type Snapshot struct {
	Grafana    *Client // nil when unconfigured or unhealthy
	Loki       *Client
	Prometheus *Client
}

// Snapshot captures the clients of currently healthy servers.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{}
	if r.healthy[ServerGrafana] {
		snap.Grafana = r.clients[ServerGrafana]
	}
	if r.healthy[ServerLoki] {
		snap.Loki = r.clients[ServerLoki]
	}
	if r.healthy[ServerPrometheus] {
		snap.Prometheus = r.clients[ServerPrometheus]
	}
	return snap
}
