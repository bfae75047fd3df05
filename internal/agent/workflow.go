package agent

import (
	"github.com/tareqmamari/rca-agent/internal/mcpclient"
)

// Workflow describes which gathering branches an investigation can
// build, derived from a registry health snapshot. Construction is pure
// so branch selection is testable without live backends.
type Workflow struct {
	// Discovery is true when the Grafana MCP server is reachable and
	// environment discovery can run.
	Discovery bool

	// Metrics and Logs mark which gathering branches exist.
	Metrics bool
	Logs    bool

	// MetricsViaGrafana and LogsViaGrafana are set when the dedicated
	// backend is down but Grafana can proxy the queries.
	MetricsViaGrafana bool
	LogsViaGrafana    bool
}

// BuildWorkflow compiles the branch set for one investigation from the
// registry snapshot taken at its start. A backend that flips health
// after this point does not affect the running investigation.
func BuildWorkflow(snap mcpclient.Snapshot) Workflow {
	w := Workflow{Discovery: snap.Grafana != nil}

	switch {
	case snap.Prometheus != nil:
		w.Metrics = true
	case snap.Grafana != nil:
		w.Metrics = true
		w.MetricsViaGrafana = true
	}

	switch {
	case snap.Loki != nil:
		w.Logs = true
	case snap.Grafana != nil:
		w.Logs = true
		w.LogsViaGrafana = true
	}

	return w
}

// HasBranches reports whether any gathering branch exists. Without
// branches the workflow skips straight from time range resolution to
// evaluation.
func (w Workflow) HasBranches() bool {
	return w.Metrics || w.Logs
}
