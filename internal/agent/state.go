// Package agent implements the investigation engine: a staged workflow
// that discovers the monitored environment, plans and validates queries,
// gathers metrics and log evidence through MCP backends, evaluates
// sufficiency, and produces a root cause report.
package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/tareqmamari/rca-agent/internal/llm"
	"github.com/tareqmamari/rca-agent/internal/report"
)

// TriggerType identifies what started an investigation.
type TriggerType string

const (
	TriggerAlert     TriggerType = "alert"
	TriggerUserQuery TriggerType = "user_query"
)

// Stage is a workflow state label.
type Stage string

const (
	StageDiscover    Stage = "discover_environment"
	StageAnalyze     Stage = "analyze_input"
	StagePlan        Stage = "plan_investigation"
	StageValidate    Stage = "validate_queries"
	StageTimeRange   Stage = "resolve_time_range"
	StageInvestigate Stage = "investigate"
	StageEvaluate    Stage = "evaluate_results"
	StageReport      Stage = "generate_rca"
	StageDone        Stage = "done"
)

// Status is the externally visible investigation state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Alert is an alerting webhook payload. Immutable once received.
type Alert struct {
	Name        string    `json:"name"`
	Severity    string    `json:"severity"`
	Instance    string    `json:"instance"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at,omitempty"`
}

// UserQuery is a free text investigation request. Immutable.
type UserQuery struct {
	Text           string    `json:"text"`
	TimeRangeStart time.Time `json:"time_range_start,omitempty"`
	TimeRangeEnd   time.Time `json:"time_range_end,omitempty"`
}

// TimeRange is the resolved analysis window. Start is always before End.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Datasource is one discovered Grafana datasource.
type Datasource struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// DashboardRef is a keyword-ranked dashboard the discovery pass explored.
type DashboardRef struct {
	UID   string  `json:"uid"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// EnvironmentSnapshot holds metadata discovered once at investigation
// start. Read-only after discovery.
type EnvironmentSnapshot struct {
	PrometheusDatasourceUID string         `json:"prometheus_datasource_uid,omitempty"`
	LokiDatasourceUID       string         `json:"loki_datasource_uid,omitempty"`
	Datasources             []Datasource   `json:"datasources,omitempty"`
	MetricNames             []string       `json:"metric_names,omitempty"`
	LabelNames              []string       `json:"label_names,omitempty"`
	Instances               []string       `json:"instances,omitempty"`
	LokiLabels              []string       `json:"loki_labels,omitempty"`
	PromQLExamples          []string       `json:"promql_examples,omitempty"`
	LogQLExamples           []string       `json:"logql_examples,omitempty"`
	ExploredDashboards      []DashboardRef `json:"explored_dashboards,omitempty"`
}

// Plan is what the engine intends to execute. Mutated only during the
// planning, validation, and time range stages.
type Plan struct {
	PromQLQueries           []string   `json:"promql_queries"`
	LogQLQueries            []string   `json:"logql_queries"`
	TargetInstances         []string   `json:"target_instances,omitempty"`
	TimeRange               *TimeRange `json:"time_range,omitempty"`
	PrometheusDatasourceUID string     `json:"prometheus_datasource_uid,omitempty"`
	LokiDatasourceUID       string     `json:"loki_datasource_uid,omitempty"`
}

// EvaluationFeedback steers the next planning pass after an
// insufficient verdict. Consumed once, then discarded.
type EvaluationFeedback struct {
	MissingInformation  []string `json:"missing_information,omitempty"`
	InvestigationPoints []string `json:"additional_investigation_points,omitempty"`
	AttemptedQueries    []string `json:"attempted_queries,omitempty"`
	Reasoning           string   `json:"reasoning,omitempty"`
}

// MetricsResult is the outcome of one metrics gathering pass.
type MetricsResult struct {
	Queries   []string `json:"queries"`
	Summary   string   `json:"summary"`
	Anomalies []string `json:"anomalies,omitempty"`
	Raw       string   `json:"raw,omitempty"`
}

// LogsResult is the outcome of one logs gathering pass.
type LogsResult struct {
	Queries       []string `json:"queries"`
	Summary       string   `json:"summary"`
	ErrorPatterns []string `json:"error_patterns,omitempty"`
	Raw           string   `json:"raw,omitempty"`
}

// Investigation is the full state of one run. The engine owns it for
// the duration of the run; result lists are append-only across
// iterations.
type Investigation struct {
	ID             string              `json:"id"`
	Trigger        TriggerType         `json:"trigger"`
	Alert          *Alert              `json:"alert,omitempty"`
	Query          *UserQuery          `json:"query,omitempty"`
	Stage          Stage               `json:"stage"`
	Status         Status              `json:"status"`
	IterationCount int                 `json:"iteration_count"`
	MaxIterations  int                 `json:"max_iterations"`
	Env            EnvironmentSnapshot `json:"environment"`
	Plan           Plan                `json:"plan"`
	Feedback       *EvaluationFeedback `json:"feedback,omitempty"`
	MetricsResults []MetricsResult     `json:"metrics_results"`
	LogsResults    []LogsResult        `json:"logs_results"`
	Analysis       string              `json:"analysis,omitempty"`
	Report         *report.Report      `json:"report,omitempty"`
	ReportPath     string              `json:"report_path,omitempty"`

	// Messages is the accumulated planning conversation, persisted so a
	// suspended investigation resumes with its full context.
	Messages []llm.Message `json:"messages,omitempty"`

	// PendingQuestion is set while the workflow is suspended waiting
	// for operator input.
	PendingQuestion string `json:"pending_question,omitempty"`

	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// NewAlertInvestigation creates an investigation triggered by an alert.
func NewAlertInvestigation(a Alert, maxIterations int) *Investigation {
	return &Investigation{
		ID:            uuid.NewString(),
		Trigger:       TriggerAlert,
		Alert:         &a,
		Stage:         StageDiscover,
		Status:        StatusPending,
		MaxIterations: maxIterations,
		StartedAt:     time.Now(),
	}
}

// NewQueryInvestigation creates an investigation triggered by a user
// question.
func NewQueryInvestigation(q UserQuery, maxIterations int) *Investigation {
	return &Investigation{
		ID:            uuid.NewString(),
		Trigger:       TriggerUserQuery,
		Query:         &q,
		Stage:         StageDiscover,
		Status:        StatusPending,
		MaxIterations: maxIterations,
		StartedAt:     time.Now(),
	}
}

// TriggerText renders the trigger as text for keyword extraction and
// prompting.
func (inv *Investigation) TriggerText() string {
	if inv.Alert != nil {
		text := inv.Alert.Name
		if inv.Alert.Summary != "" {
			text += ": " + inv.Alert.Summary
		}
		if inv.Alert.Description != "" {
			text += " " + inv.Alert.Description
		}
		if inv.Alert.Instance != "" {
			text += " instance=" + inv.Alert.Instance
		}
		return text
	}
	if inv.Query != nil {
		return inv.Query.Text
	}
	return ""
}
