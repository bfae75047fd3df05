package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tareqmamari/rca-agent/internal/rag"
	"github.com/tareqmamari/rca-agent/internal/report"
)

const (
	maxLogExcerptLines = 20
	maxPanelSnapshots  = 3
)

// reportPayload is the JSON shape the model must produce at the
// finishing stage.
type reportPayload struct {
	Title       string             `json:"title"`
	Summary     string             `json:"summary"`
	RootCauses  []report.RootCause `json:"root_causes"`
	Timeline    []string           `json:"timeline"`
	Remediation []string           `json:"remediation"`
}

// generateRCA correlates the accumulated evidence into the final
// report, attaches best-effort enrichments, and persists the rendered
// text. Report parsing is lenient: a malformed completion becomes a
// low-confidence report rather than a failed investigation.
func (e *Engine) generateRCA(ctx context.Context, inv *Investigation) error {
	text, err := e.complete(ctx, inv, buildReportPrompt(inv))
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}

	rep := buildReport(inv, text)

	if panels, ok := e.capturePanelSnapshots(ctx, inv); ok {
		rep.Panels = panels
	}
	rep.LogExcerpts = collectLogExcerpts(inv)
	rep.FinishedAt = time.Now()

	path, err := rep.Save(e.cfg.ReportDir)
	if err != nil {
		// The report still exists in memory; losing the file copy is
		// not worth failing the whole investigation.
		e.logger.Warn("report persist failed", zap.String("id", inv.ID), zap.Error(err))
	} else {
		inv.ReportPath = path
	}

	inv.Report = rep
	return nil
}

// buildReport parses the completion into a structured report. When
// parsing fails the raw text becomes the summary with a single
// half-confidence cause, so the investigation still yields output.
func buildReport(inv *Investigation, text string) *report.Report {
	rep := &report.Report{
		InvestigationID: inv.ID,
		Trigger:         string(inv.Trigger),
		StartedAt:       inv.StartedAt,
		Iterations:      inv.IterationCount,
	}
	if tr := inv.Plan.TimeRange; tr != nil {
		rep.TimeRangeFrom = tr.Start
		rep.TimeRangeTo = tr.End
	}
	if len(inv.MetricsResults) > 0 {
		rep.MetricsSummary = inv.MetricsResults[len(inv.MetricsResults)-1].Summary
	}
	if len(inv.LogsResults) > 0 {
		rep.LogsSummary = inv.LogsResults[len(inv.LogsResults)-1].Summary
	}

	raw := extractJSON(text)
	var p reportPayload
	if raw != "" && json.Unmarshal([]byte(raw), &p) == nil && (p.Summary != "" || len(p.RootCauses) > 0) {
		rep.Title = p.Title
		rep.Summary = p.Summary
		rep.RootCauses = p.RootCauses
		rep.Timeline = p.Timeline
		rep.Remediation = p.Remediation
		for i := range rep.RootCauses {
			if rep.RootCauses[i].Confidence < 0 {
				rep.RootCauses[i].Confidence = 0
			}
			if rep.RootCauses[i].Confidence > 1 {
				rep.RootCauses[i].Confidence = 1
			}
		}
		return rep
	}

	trimmed := strings.TrimSpace(text)
	rep.Summary = trimmed
	desc := trimmed
	if idx := strings.IndexByte(desc, '\n'); idx >= 0 {
		desc = desc[:idx]
	}
	if desc != "" {
		rep.RootCauses = []report.RootCause{{Description: desc, Confidence: 0.5}}
	}
	return rep
}

// capturePanelSnapshots renders dashboard panels related to the
// executed metrics queries. Strictly best effort: any failure returns
// ok=false and is only logged.
func (e *Engine) capturePanelSnapshots(ctx context.Context, inv *Investigation) ([]report.PanelSnapshot, bool) {
	if e.grafana == nil || inv.Plan.TimeRange == nil {
		return nil, false
	}

	sess, err := e.grafana.OpenSession(ctx)
	if err != nil {
		e.logger.Debug("panel snapshot session failed", zap.Error(err))
		return nil, false
	}
	defer sess.Close()

	tr := inv.Plan.TimeRange
	var snapshots []report.PanelSnapshot
	seen := make(map[string]bool)

	for _, result := range inv.MetricsResults {
		for _, query := range result.Queries {
			if len(snapshots) >= maxPanelSnapshots {
				return snapshots, len(snapshots) > 0
			}
			tokens := rag.Tokenize(query)
			if len(tokens) == 0 {
				continue
			}
			text, err := e.grafana.SearchDashboards(ctx, sess, tokens[0])
			if err != nil {
				continue
			}
			hits := parseDashboards(text)
			if len(hits) == 0 || seen[hits[0].UID] {
				continue
			}
			seen[hits[0].UID] = true

			img, err := e.grafana.RenderPanelImage(ctx, hits[0].UID, 1, tr.Start, tr.End, 0, 0)
			if err != nil {
				e.logger.Debug("panel render failed",
					zap.String("dashboard", hits[0].UID), zap.Error(err))
				continue
			}
			name := fmt.Sprintf("panel_%s_%s.png", inv.ID, hits[0].UID)
			path := filepath.Join(e.cfg.ReportDir, name)
			if err := os.WriteFile(path, img, 0o600); err != nil {
				continue
			}
			snapshots = append(snapshots, report.PanelSnapshot{
				DashboardUID: hits[0].UID,
				PanelID:      1,
				Title:        hits[0].Title,
				Path:         path,
			})
		}
	}
	return snapshots, len(snapshots) > 0
}

// collectLogExcerpts quotes up to 20 raw log lines per logs result.
func collectLogExcerpts(inv *Investigation) []report.LogExcerpt {
	var excerpts []report.LogExcerpt
	for _, r := range inv.LogsResults {
		if r.Raw == "" {
			continue
		}
		var lines []string
		for _, line := range strings.Split(r.Raw, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			lines = append(lines, line)
			if len(lines) >= maxLogExcerptLines {
				break
			}
		}
		if len(lines) == 0 {
			continue
		}
		query := ""
		if len(r.Queries) > 0 {
			query = r.Queries[0]
		}
		excerpts = append(excerpts, report.LogExcerpt{Query: query, Lines: lines})
	}
	return excerpts
}
