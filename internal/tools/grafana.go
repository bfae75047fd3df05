package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tareqmamari/rca-agent/internal/mcpclient"
)

// Grafana drives the Grafana MCP server. All methods accept an optional
// session; environment discovery issues a dozen calls in a row and reuses
// one session for the whole pass, everything else passes nil.
type Grafana struct {
	client     *mcpclient.Client
	renderBase string // Grafana base URL for the image render API
	httpClient *http.Client
}

// NewGrafana wraps a connected client. renderBase may be empty, in which
// case panel rendering is unavailable.
func NewGrafana(client *mcpclient.Client, renderBase string, timeout time.Duration) *Grafana {
	return &Grafana{
		client:     client,
		renderBase: strings.TrimRight(renderBase, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// OpenSession opens a reusable MCP session.
func (g *Grafana) OpenSession(ctx context.Context) (*mcpclient.Session, error) {
	return g.client.OpenSession(ctx)
}

func (g *Grafana) call(ctx context.Context, sess *mcpclient.Session, tool string, args map[string]any) (string, error) {
	res, err := g.client.Invoke(ctx, sess, tool, args)
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

// ListDatasources lists datasources, optionally filtered by type
// ("prometheus", "loki").
func (g *Grafana) ListDatasources(ctx context.Context, sess *mcpclient.Session, dsType string) (string, error) {
	args := map[string]any{}
	if dsType != "" {
		args["type"] = dsType
	}
	return g.call(ctx, sess, "list_datasources", args)
}

// ListDashboards lists all dashboards.
func (g *Grafana) ListDashboards(ctx context.Context, sess *mcpclient.Session) (string, error) {
	return g.call(ctx, sess, "list_dashboards", map[string]any{})
}

// SearchDashboards searches dashboards by keyword.
func (g *Grafana) SearchDashboards(ctx context.Context, sess *mcpclient.Session, query string) (string, error) {
	return g.call(ctx, sess, "search_dashboards", map[string]any{"query": query})
}

// GetDashboardPanels returns the panel list of a dashboard.
func (g *Grafana) GetDashboardPanels(ctx context.Context, sess *mcpclient.Session, uid string) (string, error) {
	return g.call(ctx, sess, "get_dashboard_panels", map[string]any{"uid": uid})
}

// GetDashboardPanelQueries returns the queries behind each panel.
func (g *Grafana) GetDashboardPanelQueries(ctx context.Context, sess *mcpclient.Session, uid string) (string, error) {
	return g.call(ctx, sess, "get_dashboard_panel_queries", map[string]any{"uid": uid})
}

// ListPrometheusMetricNames lists metric names known to a Prometheus
// datasource.
func (g *Grafana) ListPrometheusMetricNames(ctx context.Context, sess *mcpclient.Session, datasourceUID string, limit int) (string, error) {
	args := map[string]any{"datasourceUid": datasourceUID}
	if limit > 0 {
		args["limit"] = limit
	}
	return g.call(ctx, sess, "list_prometheus_metric_names", args)
}

// ListPrometheusLabelNames lists label names of a Prometheus datasource.
func (g *Grafana) ListPrometheusLabelNames(ctx context.Context, sess *mcpclient.Session, datasourceUID string) (string, error) {
	return g.call(ctx, sess, "list_prometheus_label_names", map[string]any{"datasourceUid": datasourceUID})
}

// ListPrometheusLabelValues lists the values of one label.
func (g *Grafana) ListPrometheusLabelValues(ctx context.Context, sess *mcpclient.Session, datasourceUID, label string) (string, error) {
	return g.call(ctx, sess, "list_prometheus_label_values", map[string]any{
		"datasourceUid": datasourceUID,
		"labelName":     label,
	})
}

// ListLokiLabelNames lists label names of a Loki datasource.
func (g *Grafana) ListLokiLabelNames(ctx context.Context, sess *mcpclient.Session, datasourceUID string) (string, error) {
	return g.call(ctx, sess, "list_loki_label_names", map[string]any{"datasourceUid": datasourceUID})
}

// ListLokiLabelValues lists the values of one Loki label.
func (g *Grafana) ListLokiLabelValues(ctx context.Context, sess *mcpclient.Session, datasourceUID, label string) (string, error) {
	return g.call(ctx, sess, "list_loki_label_values", map[string]any{
		"datasourceUid": datasourceUID,
		"labelName":     label,
	})
}

// GetFiringAlerts returns the currently firing alerts.
func (g *Grafana) GetFiringAlerts(ctx context.Context, sess *mcpclient.Session) (string, error) {
	return g.call(ctx, sess, "get_firing_alerts", map[string]any{})
}

// QueryPrometheus runs PromQL through a Grafana datasource.
func (g *Grafana) QueryPrometheus(ctx context.Context, sess *mcpclient.Session, datasourceUID, expr string, start, end time.Time, stepSeconds int, queryType string) (string, error) {
	if start.IsZero() {
		start = time.Now()
	}
	if queryType == "" {
		queryType = "range"
	}
	args := map[string]any{
		"datasourceUid": datasourceUID,
		"expr":          expr,
		"startTime":     start.Format(time.RFC3339),
		"queryType":     queryType,
	}
	if !end.IsZero() {
		args["endTime"] = end.Format(time.RFC3339)
	}
	if queryType == "range" {
		if stepSeconds <= 0 {
			stepSeconds = 60
		}
		args["stepSeconds"] = stepSeconds
	}
	return g.call(ctx, sess, "query_prometheus", args)
}

// QueryLoki runs LogQL through a Grafana datasource. The server caps the
// line limit at 100.
func (g *Grafana) QueryLoki(ctx context.Context, sess *mcpclient.Session, datasourceUID, logql string, start, end time.Time, limit int) (string, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	args := map[string]any{
		"datasourceUid": datasourceUID,
		"logql":         logql,
		"limit":         limit,
		"direction":     "backward",
	}
	if !start.IsZero() {
		args["startRfc3339"] = start.Format(time.RFC3339)
	}
	if !end.IsZero() {
		args["endRfc3339"] = end.Format(time.RFC3339)
	}
	return g.call(ctx, sess, "query_loki_logs", args)
}

// RenderPanelImage fetches a PNG of one panel through the Grafana render
// API. This goes straight to Grafana, not through MCP.
func (g *Grafana) RenderPanelImage(ctx context.Context, dashboardUID string, panelID int, start, end time.Time, width, height int) ([]byte, error) {
	if g.renderBase == "" {
		return nil, fmt.Errorf("panel rendering unavailable: no Grafana base URL configured")
	}
	if width <= 0 {
		width = 800
	}
	if height <= 0 {
		height = 400
	}

	params := url.Values{}
	params.Set("panelId", strconv.Itoa(panelID))
	params.Set("width", strconv.Itoa(width))
	params.Set("height", strconv.Itoa(height))
	if !start.IsZero() {
		params.Set("from", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		params.Set("to", strconv.FormatInt(end.UnixMilli(), 10))
	}

	renderURL := fmt.Sprintf("%s/render/d-solo/%s?%s", g.renderBase, url.PathEscape(dashboardUID), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, renderURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create render request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render API returned HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
