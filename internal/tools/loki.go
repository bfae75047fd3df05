package tools

import (
	"context"
	"time"

	"github.com/tareqmamari/rca-agent/internal/mcpclient"
)

// Loki runs LogQL through the Loki MCP server.
type Loki struct {
	client *mcpclient.Client
}

// NewLoki wraps a connected client.
func NewLoki(client *mcpclient.Client) *Loki {
	return &Loki{client: client}
}

// QueryLogs runs a LogQL log query. limit caps the returned lines.
func (l *Loki) QueryLogs(ctx context.Context, query string, start, end time.Time, limit int) (string, error) {
	if limit <= 0 {
		limit = 100
	}
	args := map[string]any{"query": query, "limit": limit}
	if !start.IsZero() {
		args["start"] = start.Format(time.RFC3339)
	}
	if !end.IsZero() {
		args["end"] = end.Format(time.RFC3339)
	}
	res, err := l.client.Invoke(ctx, nil, "query_loki", args)
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

// QueryMetrics runs a LogQL metric query (rate, count_over_time, ...).
func (l *Loki) QueryMetrics(ctx context.Context, query string, start, end time.Time, step string) (string, error) {
	if step == "" {
		step = "1m"
	}
	args := map[string]any{"query": query, "step": step}
	if !start.IsZero() {
		args["start"] = start.Format(time.RFC3339)
	}
	if !end.IsZero() {
		args["end"] = end.Format(time.RFC3339)
	}
	res, err := l.client.Invoke(ctx, nil, "query_loki_metrics", args)
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

// FindErrorPatterns asks the server to cluster error lines for a service.
func (l *Loki) FindErrorPatterns(ctx context.Context, service string, start, end time.Time) (string, error) {
	args := map[string]any{"service": service}
	if !start.IsZero() {
		args["start"] = start.Format(time.RFC3339)
	}
	if !end.IsZero() {
		args["end"] = end.Format(time.RFC3339)
	}
	res, err := l.client.Invoke(ctx, nil, "find_error_patterns", args)
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}
