// Package tools wraps the MCP servers behind typed facades and exposes
// them to the sub-agents as LLM-callable toolsets.
package tools

import (
	"context"
	"time"

	"github.com/tareqmamari/rca-agent/internal/mcpclient"
)

// Prometheus runs PromQL through the Prometheus MCP server.
type Prometheus struct {
	client *mcpclient.Client
}

// NewPrometheus wraps a connected client.
func NewPrometheus(client *mcpclient.Client) *Prometheus {
	return &Prometheus{client: client}
}

// InstantQuery evaluates a PromQL expression at a single point in time.
func (p *Prometheus) InstantQuery(ctx context.Context, query string, at time.Time) (string, error) {
	args := map[string]any{"query": query}
	if !at.IsZero() {
		args["time"] = at.Format(time.RFC3339)
	}
	res, err := p.client.Invoke(ctx, nil, "query_prometheus", args)
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

// RangeQuery evaluates a PromQL expression over a time range.
func (p *Prometheus) RangeQuery(ctx context.Context, query string, start, end time.Time, step string) (string, error) {
	if step == "" {
		step = "1m"
	}
	args := map[string]any{
		"query": query,
		"type":  "range",
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
		"step":  step,
	}
	res, err := p.client.Invoke(ctx, nil, "query_prometheus", args)
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

// MetricMetadata returns the metadata recorded for one metric.
func (p *Prometheus) MetricMetadata(ctx context.Context, metric string) (string, error) {
	res, err := p.client.Invoke(ctx, nil, "get_metric_metadata", map[string]any{"metric": metric})
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

// LabelValues lists the values seen for a label.
func (p *Prometheus) LabelValues(ctx context.Context, label string) (string, error) {
	res, err := p.client.Invoke(ctx, nil, "get_label_values", map[string]any{"label": label})
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}
