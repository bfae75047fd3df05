package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tareqmamari/rca-agent/internal/llm"
	"github.com/tareqmamari/rca-agent/internal/metrics"
	"github.com/tareqmamari/rca-agent/internal/queryval"
	"github.com/tareqmamari/rca-agent/internal/sanitize"
)

const (
	maxValidationRevisions = 3
	ragContextBudget       = 2000
)

// analyzeInput asks the model to interpret the trigger given the
// environment snapshot and reference material. Advisory only.
func (e *Engine) analyzeInput(ctx context.Context, inv *Investigation) error {
	sanitized := ""
	if inv.Query != nil {
		sanitized = sanitize.UserInput(inv.Query.Text, e.logger)
	}

	ragContext := ""
	if e.retriever != nil {
		ragContext = e.retriever.Context(inv.TriggerText(), ragContextBudget)
	}

	analysis, err := e.complete(ctx, inv, buildAnalyzePrompt(inv, sanitized, ragContext))
	if err != nil {
		return fmt.Errorf("analyze input: %w", err)
	}
	inv.Analysis = analysis
	return nil
}

// planPayload is the JSON shape the model must produce at the
// planning stage.
type planPayload struct {
	PromQLQueries   []string `json:"promql_queries"`
	LogQLQueries    []string `json:"logql_queries"`
	TargetInstances []string `json:"target_instances"`
	TimeRange       *struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"time_range"`
	PrometheusDatasourceUID string `json:"prometheus_datasource_uid"`
	LokiDatasourceUID       string `json:"loki_datasource_uid"`
}

// planInvestigation asks for a structured plan and increments the
// iteration counter. A plan that cannot be parsed is a hard error; the
// engine never substitutes a default plan.
func (e *Engine) planInvestigation(ctx context.Context, inv *Investigation) error {
	inv.IterationCount++

	text, err := e.complete(ctx, inv, buildPlanPrompt(inv))
	if err != nil {
		return fmt.Errorf("plan investigation: %w", err)
	}

	raw := extractJSON(text)
	if raw == "" {
		return fmt.Errorf("plan investigation: response contains no JSON object")
	}
	var p planPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return fmt.Errorf("plan investigation: parse plan: %w", err)
	}

	inv.Plan.PromQLQueries = p.PromQLQueries
	inv.Plan.LogQLQueries = p.LogQLQueries
	inv.Plan.TargetInstances = p.TargetInstances
	if p.PrometheusDatasourceUID != "" {
		inv.Plan.PrometheusDatasourceUID = p.PrometheusDatasourceUID
	}
	if p.LokiDatasourceUID != "" {
		inv.Plan.LokiDatasourceUID = p.LokiDatasourceUID
	}
	if p.TimeRange != nil {
		start, errStart := time.Parse(time.RFC3339, p.TimeRange.Start)
		end, errEnd := time.Parse(time.RFC3339, p.TimeRange.End)
		if errStart == nil && errEnd == nil && start.Before(end) {
			inv.Plan.TimeRange = &TimeRange{Start: start, End: end}
		}
	}

	// Feedback steers exactly one planning pass.
	inv.Feedback = nil

	e.logger.Info("plan produced",
		zap.String("id", inv.ID),
		zap.Int("iteration", inv.IterationCount),
		zap.Int("promql", len(inv.Plan.PromQLQueries)),
		zap.Int("logql", len(inv.Plan.LogQLQueries)))
	return nil
}

// validateQueries checks and repairs the plan's query lists, repairs
// datasource identifiers against the environment snapshot, and runs
// the bounded revise loop when no query survives. It never fails the
// investigation: exhausting revisions degrades to empty lists.
func (e *Engine) validateQueries(ctx context.Context, inv *Investigation) {
	if !e.validator.IsValidDatasourceUID(inv.Plan.PrometheusDatasourceUID) {
		inv.Plan.PrometheusDatasourceUID = inv.Env.PrometheusDatasourceUID
	}
	if !e.validator.IsValidDatasourceUID(inv.Plan.LokiDatasourceUID) {
		inv.Plan.LokiDatasourceUID = inv.Env.LokiDatasourceUID
	}

	promQueries := inv.Plan.PromQLQueries
	logQueries := inv.Plan.LogQLQueries

	for attempt := 0; ; attempt++ {
		validProm, promFailures := e.validateBatch(promQueries, queryval.TypePromQL)
		validLog, logFailures := e.validateBatch(logQueries, queryval.TypeLogQL)

		if len(validProm) > 0 || len(validLog) > 0 {
			inv.Plan.PromQLQueries = validProm
			inv.Plan.LogQLQueries = validLog
			return
		}
		if len(promQueries) == 0 && len(logQueries) == 0 {
			return
		}
		if attempt >= maxValidationRevisions {
			e.logger.Warn("query validation exhausted, proceeding without queries",
				zap.String("id", inv.ID))
			inv.Plan.PromQLQueries = nil
			inv.Plan.LogQLQueries = nil
			return
		}

		revised, err := e.reviseQueries(ctx, append(promFailures, logFailures...))
		if err != nil {
			e.logger.Warn("query revision failed", zap.String("id", inv.ID), zap.Error(err))
			inv.Plan.PromQLQueries = nil
			inv.Plan.LogQLQueries = nil
			return
		}
		promQueries = revised.PromQLQueries
		logQueries = revised.LogQLQueries
	}
}

// validateBatch sanitizes and validates one query list, keeping valid
// entries (post-correction). Queries holding unresolvable template
// variables are skipped with a warning rather than executed.
func (e *Engine) validateBatch(queries []string, qt queryval.QueryType) (valid, failures []string) {
	for _, q := range queries {
		sanitized, warnings := e.validator.SanitizeQuery(q, qt)
		for _, w := range warnings {
			e.logger.Debug("query sanitized", zap.String("query", q), zap.String("warning", w))
		}
		if e.validator.ContainsGrafanaVariables(sanitized) {
			e.logger.Warn("query skipped, contains template variables", zap.String("query", q))
			continue
		}
		fixed, res := e.validator.ValidateAndFix(sanitized, qt)
		if res.Valid {
			valid = append(valid, fixed)
			continue
		}
		metrics.RecordQueryValidationFailure(string(qt))
		msg := fixed
		if len(res.Errors) > 0 {
			msg = fmt.Sprintf("%s: %s", fixed, res.Errors[0])
		}
		failures = append(failures, msg)
	}
	return valid, failures
}

type revisedQueries struct {
	PromQLQueries []string `json:"promql_queries"`
	LogQLQueries  []string `json:"logql_queries"`
}

// reviseQueries asks the model to fix a batch of rejected queries,
// showing the validation errors and fewshot examples.
func (e *Engine) reviseQueries(ctx context.Context, failures []string) (revisedQueries, error) {
	var out revisedQueries
	prompt := buildRevisePrompt(failures) + "\n\n" + queryval.AllFewshotExamples()
	resp, err := e.llm.Complete(ctx, []llm.Message{
		llm.SystemMessage(orchestratorSystemPrompt),
		llm.UserMessage(prompt),
	})
	if err != nil {
		return out, err
	}
	raw := extractJSON(resp.Content)
	if raw == "" {
		return out, fmt.Errorf("revision response contains no JSON object")
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("parse revised queries: %w", err)
	}
	return out, nil
}
