package tools

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tareqmamari/rca-agent/internal/llm"
	"github.com/tareqmamari/rca-agent/internal/mcpclient"
	"github.com/tareqmamari/rca-agent/internal/metrics"
	"github.com/tareqmamari/rca-agent/internal/tracing"
)

// Handler executes one tool call on behalf of the model.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Toolset binds tool specs to handlers for one sub-agent. Execution
// failures never abort the agent loop: both tool errors and transport
// errors are rendered as text and fed back to the model, which decides
// how to proceed.
type Toolset struct {
	specs    []llm.ToolSpec
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewToolset creates an empty toolset.
func NewToolset(logger *zap.Logger) *Toolset {
	return &Toolset{handlers: make(map[string]Handler), logger: logger}
}

// Register adds one tool.
func (t *Toolset) Register(spec llm.ToolSpec, h Handler) {
	t.specs = append(t.specs, spec)
	t.handlers[spec.Name] = h
}

// Merge adds every tool of other into t.
func (t *Toolset) Merge(other *Toolset) {
	if other == nil {
		return
	}
	for _, spec := range other.specs {
		t.Register(spec, other.handlers[spec.Name])
	}
}

// Specs returns the tool specs for LLM binding.
func (t *Toolset) Specs() []llm.ToolSpec { return t.specs }

// Execute runs one tool call and returns the text the model will see.
func (t *Toolset) Execute(ctx context.Context, call llm.ToolCall) string {
	h, ok := t.handlers[call.Name]
	if !ok {
		t.logger.Warn("Model called unknown tool", zap.String("tool", call.Name))
		metrics.RecordToolCall(call.Name, "unknown")
		return "error: unknown tool '" + call.Name + "'"
	}

	ctx, span := tracing.ToolSpan(ctx, "agent", call.Name)
	defer span.End()

	out, err := h(ctx, call.Arguments)
	tracing.RecordError(span, err)
	if err != nil {
		var toolErr *mcpclient.ToolError
		if errors.As(err, &toolErr) {
			t.logger.Warn("Tool reported an error",
				zap.String("tool", call.Name),
				zap.String("detail", toolErr.Text),
			)
			metrics.RecordToolCall(call.Name, "tool_error")
			return "tool error: " + toolErr.Text
		}

		t.logger.Error("Tool call failed",
			zap.String("tool", call.Name),
			zap.Error(err),
		)
		metrics.RecordToolCall(call.Name, "transport_error")
		return "error: " + err.Error()
	}

	metrics.RecordToolCall(call.Name, "ok")
	return out
}

// Argument extraction helpers. The model's JSON is best-effort typed.

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func argTime(args map[string]any, key string) time.Time {
	s := argString(args, key)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func schema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

// PrometheusToolset exposes direct PromQL execution.
func PrometheusToolset(p *Prometheus, logger *zap.Logger) *Toolset {
	t := NewToolset(logger)

	t.Register(llm.ToolSpec{
		Name:        "query_prometheus_instant",
		Description: "Run a PromQL instant query. Evaluates the expression at a single point in time.",
		Parameters: schema(map[string]any{
			"query": strProp("PromQL expression"),
			"time":  strProp("evaluation time, RFC 3339 (optional, defaults to now)"),
		}, "query"),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return p.InstantQuery(ctx, argString(args, "query"), argTime(args, "time"))
	})

	t.Register(llm.ToolSpec{
		Name:        "query_prometheus_range",
		Description: "Run a PromQL range query between start and end, RFC 3339 timestamps.",
		Parameters: schema(map[string]any{
			"query": strProp("PromQL expression"),
			"start": strProp("start time, RFC 3339"),
			"end":   strProp("end time, RFC 3339"),
			"step":  strProp("resolution step such as '1m' (optional)"),
		}, "query", "start", "end"),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return p.RangeQuery(ctx,
			argString(args, "query"),
			argTime(args, "start"),
			argTime(args, "end"),
			argString(args, "step"),
		)
	})

	t.Register(llm.ToolSpec{
		Name:        "get_metric_metadata",
		Description: "Look up the type, help text and unit of one Prometheus metric.",
		Parameters: schema(map[string]any{
			"metric": strProp("metric name"),
		}, "metric"),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return p.MetricMetadata(ctx, argString(args, "metric"))
	})

	t.Register(llm.ToolSpec{
		Name:        "get_label_values",
		Description: "List the values of one Prometheus label, such as the instances behind a job.",
		Parameters: schema(map[string]any{
			"label": strProp("label name"),
		}, "label"),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return p.LabelValues(ctx, argString(args, "label"))
	})

	return t
}

// LokiToolset exposes direct LogQL execution.
func LokiToolset(l *Loki, logger *zap.Logger) *Toolset {
	t := NewToolset(logger)

	t.Register(llm.ToolSpec{
		Name:        "query_loki_logs",
		Description: "Search logs with a LogQL query. start/end are RFC 3339 timestamps.",
		Parameters: schema(map[string]any{
			"query": strProp("LogQL query, must start with a {label=\"value\"} selector"),
			"start": strProp("start time, RFC 3339 (optional)"),
			"end":   strProp("end time, RFC 3339 (optional)"),
			"limit": intProp("maximum log lines to return (optional, default 100)"),
		}, "query"),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return l.QueryLogs(ctx,
			argString(args, "query"),
			argTime(args, "start"),
			argTime(args, "end"),
			argInt(args, "limit", 100),
		)
	})

	t.Register(llm.ToolSpec{
		Name:        "find_service_errors",
		Description: "Automatically detect error patterns in the logs of one service.",
		Parameters: schema(map[string]any{
			"service": strProp("service name"),
			"start":   strProp("start time, RFC 3339 (optional)"),
			"end":     strProp("end time, RFC 3339 (optional)"),
		}, "service"),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return l.FindErrorPatterns(ctx,
			argString(args, "service"),
			argTime(args, "start"),
			argTime(args, "end"),
		)
	})

	t.Register(llm.ToolSpec{
		Name:        "query_loki_metrics",
		Description: "Run a LogQL metric query such as rate({job=\"x\"} |= \"error\" [5m]) and return time series.",
		Parameters: schema(map[string]any{
			"query": strProp("LogQL metric query"),
			"start": strProp("start time, RFC 3339 (optional)"),
			"end":   strProp("end time, RFC 3339 (optional)"),
			"step":  strProp("resolution step such as '1m' (optional)"),
		}, "query"),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return l.QueryMetrics(ctx,
			argString(args, "query"),
			argTime(args, "start"),
			argTime(args, "end"),
			argString(args, "step"),
		)
	})

	return t
}

// GrafanaToolset exposes query execution through Grafana datasources.
// promUID and lokiUID are the discovered datasource UIDs; the model may
// override them per call but rarely needs to.
func GrafanaToolset(g *Grafana, promUID, lokiUID string, logger *zap.Logger) *Toolset {
	t := NewToolset(logger)

	t.Register(llm.ToolSpec{
		Name:        "grafana_query_prometheus",
		Description: "Run a PromQL range query through a Grafana Prometheus datasource.",
		Parameters: schema(map[string]any{
			"expr":           strProp("PromQL expression"),
			"start":          strProp("start time, RFC 3339"),
			"end":            strProp("end time, RFC 3339"),
			"datasource_uid": strProp("datasource UID (optional, discovered UID is used by default)"),
		}, "expr", "start"),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		uid := argString(args, "datasource_uid")
		if uid == "" {
			uid = promUID
		}
		return g.QueryPrometheus(ctx, nil, uid,
			argString(args, "expr"),
			argTime(args, "start"),
			argTime(args, "end"),
			argInt(args, "step_seconds", 60),
			"range",
		)
	})

	t.Register(llm.ToolSpec{
		Name:        "grafana_query_loki",
		Description: "Run a LogQL query through a Grafana Loki datasource. Returns at most 100 lines.",
		Parameters: schema(map[string]any{
			"logql":          strProp("LogQL query, must start with a {label=\"value\"} selector"),
			"start":          strProp("start time, RFC 3339 (optional)"),
			"end":            strProp("end time, RFC 3339 (optional)"),
			"limit":          intProp("maximum log lines (optional, capped at 100)"),
			"datasource_uid": strProp("datasource UID (optional, discovered UID is used by default)"),
		}, "logql"),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		uid := argString(args, "datasource_uid")
		if uid == "" {
			uid = lokiUID
		}
		return g.QueryLoki(ctx, nil, uid,
			argString(args, "logql"),
			argTime(args, "start"),
			argTime(args, "end"),
			argInt(args, "limit", 100),
		)
	})

	t.Register(llm.ToolSpec{
		Name:        "grafana_search_dashboards",
		Description: "Search Grafana dashboards by keyword.",
		Parameters: schema(map[string]any{
			"query": strProp("search keywords"),
		}, "query"),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return g.SearchDashboards(ctx, nil, argString(args, "query"))
	})

	t.Register(llm.ToolSpec{
		Name:        "grafana_list_dashboards",
		Description: "List all Grafana dashboards.",
		Parameters:  schema(map[string]any{}),
	}, func(ctx context.Context, _ map[string]any) (string, error) {
		return g.ListDashboards(ctx, nil)
	})

	t.Register(llm.ToolSpec{
		Name:        "grafana_get_dashboard_panels",
		Description: "Get the panels of one dashboard, including their queries.",
		Parameters: schema(map[string]any{
			"uid": strProp("dashboard UID"),
		}, "uid"),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return g.GetDashboardPanels(ctx, nil, argString(args, "uid"))
	})

	t.Register(llm.ToolSpec{
		Name:        "grafana_list_loki_label_values",
		Description: "List the values of one Loki label through a Grafana Loki datasource.",
		Parameters: schema(map[string]any{
			"label":          strProp("label name"),
			"datasource_uid": strProp("datasource UID (optional, discovered UID is used by default)"),
		}, "label"),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		uid := argString(args, "datasource_uid")
		if uid == "" {
			uid = lokiUID
		}
		return g.ListLokiLabelValues(ctx, nil, uid, argString(args, "label"))
	})

	t.Register(llm.ToolSpec{
		Name:        "grafana_get_firing_alerts",
		Description: "List the alerts currently firing in Grafana.",
		Parameters:  schema(map[string]any{}),
	}, func(ctx context.Context, _ map[string]any) (string, error) {
		return g.GetFiringAlerts(ctx, nil)
	})

	return t
}
