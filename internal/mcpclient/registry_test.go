package mcpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHealthCheckProbesPerServerEndpoints(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	paths := make(map[string]bool)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths[r.URL.Path] = true
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	opts := DefaultOptions()
	r := NewRegistry(zap.NewNop(), map[string]*Client{
		ServerGrafana:    New("grafana", ts.URL, zap.NewNop(), opts),
		ServerLoki:       New("loki", ts.URL, zap.NewNop(), opts),
		ServerPrometheus: New("prometheus", ts.URL, zap.NewNop(), opts),
	})

	// Nothing probed yet, everything reads unhealthy.
	assert.False(t, r.AnyHealthy())
	assert.Nil(t, r.Snapshot().Grafana)

	results := r.HealthCheck(ctx)
	assert.True(t, results[ServerGrafana])
	assert.True(t, results[ServerLoki])
	assert.True(t, results[ServerPrometheus])
	assert.True(t, r.AnyHealthy())

	snap := r.Snapshot()
	assert.NotNil(t, snap.Grafana)
	assert.NotNil(t, snap.Loki)
	assert.NotNil(t, snap.Prometheus)

	// Grafana gets its dedicated health endpoint, the others their SSE
	// endpoint.
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, paths["/healthz"])
	assert.True(t, paths["/sse"])
}

func TestHealthCheckMarksUnreachableServer(t *testing.T) {
	ctx := context.Background()

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	down.Close() // nothing listens anymore

	opts := DefaultOptions()
	r := NewRegistry(zap.NewNop(), map[string]*Client{
		ServerPrometheus: New("prometheus", up.URL, zap.NewNop(), opts),
		ServerLoki:       New("loki", down.URL, zap.NewNop(), opts),
		ServerGrafana:    nil, // unconfigured
	})

	results := r.HealthCheck(ctx)
	assert.True(t, results[ServerPrometheus])
	assert.False(t, results[ServerLoki])
	assert.NotContains(t, results, ServerGrafana)

	snap := r.Snapshot()
	assert.NotNil(t, snap.Prometheus)
	assert.Nil(t, snap.Loki)
	assert.Nil(t, snap.Grafana)
}

func TestHealthCheckRejectsNonOKStatus(t *testing.T) {
	ctx := context.Background()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	r := NewRegistry(zap.NewNop(), map[string]*Client{
		ServerGrafana: New("grafana", ts.URL, zap.NewNop(), DefaultOptions()),
	})

	assert.False(t, r.HealthCheck(ctx)[ServerGrafana])
}

func TestHealthCheckPassesDoNotInterleave(t *testing.T) {
	ctx := context.Background()
	const delay = 50 * time.Millisecond

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(delay)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	r := NewRegistry(zap.NewNop(), map[string]*Client{
		ServerPrometheus: New("prometheus", ts.URL, zap.NewNop(), DefaultOptions()),
	})

	// Two concurrent refreshes must run one after the other; interleaved
	// passes could commit stale flags over fresher ones.
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.HealthCheck(ctx)
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), 2*delay)
	assert.True(t, r.AnyHealthy())
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	prom := newFakeClient(t, ctx, "prometheus")

	r := NewRegistry(zap.NewNop(), map[string]*Client{ServerPrometheus: prom})
	r.MarkHealthy(ServerPrometheus, true)

	before := r.Snapshot()
	require.NotNil(t, before.Prometheus)

	// Flipping health after a snapshot must not mutate it.
	r.MarkHealthy(ServerPrometheus, false)
	assert.NotNil(t, before.Prometheus)
	assert.Nil(t, r.Snapshot().Prometheus)
}
