// Package report renders and persists investigation reports.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RootCause is one suspected cause with supporting evidence.
type RootCause struct {
	Description string   `json:"description"`
	Component   string   `json:"component,omitempty"`
	Evidence    []string `json:"evidence,omitempty"`
	Confidence  float64  `json:"confidence"`
}

// PanelSnapshot is a rendered dashboard panel attached to the report.
type PanelSnapshot struct {
	DashboardUID string `json:"dashboard_uid"`
	PanelID      int    `json:"panel_id"`
	Title        string `json:"title,omitempty"`
	Path         string `json:"path"`
}

// LogExcerpt is a short quoted run of log lines supporting a finding.
type LogExcerpt struct {
	Query string   `json:"query"`
	Lines []string `json:"lines"`
}

// Report is the final output of an investigation.
type Report struct {
	InvestigationID string          `json:"investigation_id"`
	Title           string          `json:"title"`
	Trigger         string          `json:"trigger"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	TimeRangeFrom   time.Time       `json:"time_range_from"`
	TimeRangeTo     time.Time       `json:"time_range_to"`
	Summary         string          `json:"summary"`
	RootCauses      []RootCause     `json:"root_causes"`
	Timeline        []string        `json:"timeline,omitempty"`
	Remediation     []string        `json:"remediation,omitempty"`
	MetricsSummary  string          `json:"metrics_summary,omitempty"`
	LogsSummary     string          `json:"logs_summary,omitempty"`
	LogExcerpts     []LogExcerpt    `json:"log_excerpts,omitempty"`
	Panels          []PanelSnapshot `json:"panels,omitempty"`
	Iterations      int             `json:"iterations"`
}

// Markdown renders the report as a markdown document.
func (r *Report) Markdown() string {
	var b strings.Builder

	title := r.Title
	if title == "" {
		title = "Incident Investigation Report"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- **Investigation ID**: %s\n", r.InvestigationID)
	fmt.Fprintf(&b, "- **Trigger**: %s\n", r.Trigger)
	if !r.StartedAt.IsZero() {
		fmt.Fprintf(&b, "- **Started**: %s\n", r.StartedAt.UTC().Format(time.RFC3339))
	}
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "- **Finished**: %s\n", r.FinishedAt.UTC().Format(time.RFC3339))
	}
	if !r.TimeRangeFrom.IsZero() && !r.TimeRangeTo.IsZero() {
		fmt.Fprintf(&b, "- **Analyzed window**: %s to %s\n",
			r.TimeRangeFrom.UTC().Format(time.RFC3339),
			r.TimeRangeTo.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "- **Iterations**: %d\n", r.Iterations)
	b.WriteString("\n")

	if r.Summary != "" {
		b.WriteString("## Summary\n\n")
		b.WriteString(strings.TrimSpace(r.Summary))
		b.WriteString("\n\n")
	}

	if len(r.RootCauses) > 0 {
		b.WriteString("## Root Causes\n\n")
		for i, rc := range r.RootCauses {
			fmt.Fprintf(&b, "### %d. %s\n\n", i+1, rc.Description)
			if rc.Component != "" {
				fmt.Fprintf(&b, "- **Component**: %s\n", rc.Component)
			}
			fmt.Fprintf(&b, "- **Confidence**: %.0f%%\n", rc.Confidence*100)
			if len(rc.Evidence) > 0 {
				b.WriteString("- **Evidence**:\n")
				for _, ev := range rc.Evidence {
					fmt.Fprintf(&b, "  - %s\n", ev)
				}
			}
			b.WriteString("\n")
		}
	}

	if len(r.Timeline) > 0 {
		b.WriteString("## Timeline\n\n")
		for _, entry := range r.Timeline {
			fmt.Fprintf(&b, "- %s\n", entry)
		}
		b.WriteString("\n")
	}

	if r.MetricsSummary != "" {
		b.WriteString("## Metrics Findings\n\n")
		b.WriteString(strings.TrimSpace(r.MetricsSummary))
		b.WriteString("\n\n")
	}

	if r.LogsSummary != "" {
		b.WriteString("## Log Findings\n\n")
		b.WriteString(strings.TrimSpace(r.LogsSummary))
		b.WriteString("\n\n")
	}

	if len(r.LogExcerpts) > 0 {
		b.WriteString("## Log Excerpts\n\n")
		for _, ex := range r.LogExcerpts {
			fmt.Fprintf(&b, "Query: `%s`\n\n```\n", ex.Query)
			for _, line := range ex.Lines {
				b.WriteString(line)
				b.WriteString("\n")
			}
			b.WriteString("```\n\n")
		}
	}

	if len(r.Panels) > 0 {
		b.WriteString("## Dashboard Panels\n\n")
		for _, p := range r.Panels {
			title := p.Title
			if title == "" {
				title = fmt.Sprintf("%s panel %d", p.DashboardUID, p.PanelID)
			}
			fmt.Fprintf(&b, "![%s](%s)\n", title, p.Path)
		}
		b.WriteString("\n")
	}

	if len(r.Remediation) > 0 {
		b.WriteString("## Recommended Actions\n\n")
		for _, step := range r.Remediation {
			fmt.Fprintf(&b, "- %s\n", step)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// Save writes the markdown rendering to dir and returns the file path.
func (r *Report) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	stamp := r.FinishedAt
	if stamp.IsZero() {
		stamp = time.Now()
	}
	name := fmt.Sprintf("rca_%s_%s.md", stamp.UTC().Format("20060102T150405"), r.InvestigationID)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(r.Markdown()), 0o600); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
