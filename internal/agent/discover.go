package agent

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tareqmamari/rca-agent/internal/rag"
)

const (
	maxDashboardsExplored = 5
	maxMetricNames        = 200
	maxDiscoveryKeywords  = 8
)

// discoverEnvironment builds the environment snapshot through the
// Grafana MCP server. Every step is best effort: failures degrade to a
// partial or empty snapshot and never abort the investigation.
func (e *Engine) discoverEnvironment(ctx context.Context, inv *Investigation) {
	if !e.workflow.Discovery || e.grafana == nil {
		e.logger.Info("environment discovery skipped, grafana unreachable",
			zap.String("id", inv.ID))
		return
	}

	sess, err := e.grafana.OpenSession(ctx)
	if err != nil {
		e.logger.Warn("discovery session failed", zap.String("id", inv.ID), zap.Error(err))
		return
	}
	defer sess.Close()

	env := &inv.Env

	if text, err := e.grafana.ListDatasources(ctx, sess, ""); err == nil {
		env.Datasources = parseDatasources(text)
		for _, ds := range env.Datasources {
			switch strings.ToLower(ds.Type) {
			case "prometheus":
				if env.PrometheusDatasourceUID == "" {
					env.PrometheusDatasourceUID = ds.UID
				}
			case "loki":
				if env.LokiDatasourceUID == "" {
					env.LokiDatasourceUID = ds.UID
				}
			}
		}
	} else {
		e.logger.Warn("datasource discovery failed", zap.Error(err))
	}

	if uid := env.PrometheusDatasourceUID; uid != "" {
		if text, err := e.grafana.ListPrometheusMetricNames(ctx, sess, uid, maxMetricNames); err == nil {
			env.MetricNames = parseStringList(text)
		}
		if text, err := e.grafana.ListPrometheusLabelNames(ctx, sess, uid); err == nil {
			env.LabelNames = parseStringList(text)
		}
		if text, err := e.grafana.ListPrometheusLabelValues(ctx, sess, uid, "instance"); err == nil {
			env.Instances = parseStringList(text)
		}
	}

	if uid := env.LokiDatasourceUID; uid != "" {
		if text, err := e.grafana.ListLokiLabelNames(ctx, sess, uid); err == nil {
			env.LokiLabels = parseStringList(text)
		}
	}

	keywords := extractKeywords(inv.TriggerText())
	if len(keywords) == 0 {
		return
	}

	text, err := e.grafana.SearchDashboards(ctx, sess, strings.Join(keywords, " "))
	if err != nil {
		e.logger.Warn("dashboard search failed", zap.Error(err))
		return
	}
	ranked := rankDashboards(parseDashboards(text), keywords)
	if len(ranked) > maxDashboardsExplored {
		ranked = ranked[:maxDashboardsExplored]
	}
	env.ExploredDashboards = ranked

	for _, d := range ranked {
		queriesText, err := e.grafana.GetDashboardPanelQueries(ctx, sess, d.UID)
		if err != nil {
			continue
		}
		for _, q := range parseStringList(queriesText) {
			if strings.HasPrefix(strings.TrimSpace(q), "{") {
				env.LogQLExamples = append(env.LogQLExamples, q)
			} else {
				env.PromQLExamples = append(env.PromQLExamples, q)
			}
		}
	}

	e.logger.Info("environment discovered",
		zap.String("id", inv.ID),
		zap.Int("datasources", len(env.Datasources)),
		zap.Int("metrics", len(env.MetricNames)),
		zap.Int("dashboards", len(env.ExploredDashboards)),
		zap.Int("example_queries", len(env.PromQLExamples)+len(env.LogQLExamples)))
}

// extractKeywords pulls investigation keywords from the trigger text.
func extractKeywords(text string) []string {
	seen := make(map[string]bool)
	var keywords []string
	for _, tok := range rag.Tokenize(text) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		keywords = append(keywords, tok)
		if len(keywords) >= maxDiscoveryKeywords {
			break
		}
	}
	return keywords
}

var uidPattern = regexp.MustCompile(`"uid"\s*:\s*"([^"]+)"`)

// parseDatasources decodes a datasource listing. MCP tools return
// JSON-as-text; anything undecodable yields an empty list.
func parseDatasources(text string) []Datasource {
	var list []Datasource
	if err := json.Unmarshal([]byte(text), &list); err == nil {
		return list
	}
	var wrapped struct {
		Datasources []Datasource `json:"datasources"`
	}
	if err := json.Unmarshal([]byte(text), &wrapped); err == nil && len(wrapped.Datasources) > 0 {
		return wrapped.Datasources
	}
	// Last resort: at least recover the UIDs.
	for _, m := range uidPattern.FindAllStringSubmatch(text, -1) {
		list = append(list, Datasource{UID: m[1]})
	}
	return list
}

type dashboardHit struct {
	UID   string   `json:"uid"`
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func parseDashboards(text string) []dashboardHit {
	var hits []dashboardHit
	if err := json.Unmarshal([]byte(text), &hits); err == nil {
		return hits
	}
	var wrapped struct {
		Dashboards []dashboardHit `json:"dashboards"`
	}
	if err := json.Unmarshal([]byte(text), &wrapped); err == nil {
		return wrapped.Dashboards
	}
	return nil
}

// rankDashboards scores dashboards by keyword relevance. A keyword in
// the title weighs twice one in a tag; scores are normalized to [0,1].
func rankDashboards(hits []dashboardHit, keywords []string) []DashboardRef {
	if len(hits) == 0 {
		return nil
	}
	var refs []DashboardRef
	maxScore := 0.0
	for _, h := range hits {
		score := 0.0
		title := strings.ToLower(h.Title)
		for _, kw := range keywords {
			if strings.Contains(title, kw) {
				score += 2.0
			}
			for _, tag := range h.Tags {
				if strings.Contains(strings.ToLower(tag), kw) {
					score += 1.0
				}
			}
		}
		if score > maxScore {
			maxScore = score
		}
		refs = append(refs, DashboardRef{UID: h.UID, Title: h.Title, Score: score})
	}
	if maxScore > 0 {
		for i := range refs {
			refs[i].Score /= maxScore
		}
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Score > refs[j].Score })
	return refs
}

// parseStringList decodes a list of names from tool output, accepting
// a JSON string array, a JSON object with a single array field, or
// plain newline separated text.
func parseStringList(text string) []string {
	var list []string
	if err := json.Unmarshal([]byte(text), &list); err == nil {
		return list
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &wrapped); err == nil {
		for _, raw := range wrapped {
			if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
				return list
			}
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), ",-"))
		if line != "" && !strings.HasPrefix(line, "[") && !strings.HasPrefix(line, "]") {
			list = append(list, strings.Trim(line, `"`))
		}
	}
	return list
}
