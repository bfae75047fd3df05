package agent

import (
	"fmt"
	"strings"
	"time"
)

const orchestratorSystemPrompt = `You are an SRE assistant that performs root cause analysis of
infrastructure incidents. You investigate using Prometheus metrics and Loki logs.
Be precise and evidence driven. Only state conclusions supported by query results.`

const planFormatInstructions = `Respond with a single JSON object and nothing else:
{
  "promql_queries": ["<PromQL query>", ...],
  "logql_queries": ["<LogQL query>", ...],
  "target_instances": ["<instance or pod name>", ...],
  "time_range": {"start": "<RFC3339>", "end": "<RFC3339>"} or null,
  "prometheus_datasource_uid": "<uid or empty>",
  "loki_datasource_uid": "<uid or empty>"
}
Rules:
- PromQL queries must be valid PromQL. Never use SQL keywords such as SELECT or AND.
- LogQL queries must start with a label selector in braces, for example {job="myapp"}.
- Never embed time conditions inside queries. The time range is passed separately.
- Never use Grafana template variables such as $var or [[var]].
- Propose at most 5 queries per language, focused on the most likely causes.`

const metricsAgentSystemPrompt = `You are a metrics investigation agent. You query Prometheus to find
anomalies relevant to an incident. Use the provided tools to run queries.
Inspect the results, then decide whether further queries would add evidence.
Stop calling tools once you have enough data to summarize.`

const logsAgentSystemPrompt = `You are a log investigation agent. You query Loki to find error
patterns relevant to an incident. Use the provided tools to run queries.
Inspect the results, then decide whether further queries would add evidence.
Stop calling tools once you have enough data to summarize.`

const sufficientToken = "SUFFICIENT"

const evaluateFormatInstructions = `If the accumulated evidence is enough to identify the root cause,
reply with a message whose first line begins with the word SUFFICIENT.
Otherwise respond with a single JSON object and nothing else:
{
  "missing_information": ["<what evidence is still missing>", ...],
  "additional_investigation_points": ["<angle to investigate next>", ...],
  "reasoning": "<why the current evidence is not enough>"
}`

const reportFormatInstructions = `Respond with a single JSON object and nothing else:
{
  "title": "<short incident title>",
  "summary": "<2-4 sentence summary of what happened and why>",
  "root_causes": [
    {
      "description": "<cause>",
      "component": "<affected component>",
      "evidence": ["<supporting observation>", ...],
      "confidence": <0.0-1.0>
    }
  ],
  "timeline": ["<timestamped event>", ...],
  "remediation": ["<recommended action>", ...]
}`

const timeRangeQuestion = `Which time window should be analyzed? ` +
	`Reply with something like "last 2 hours" or "2025-06-01 09:00 to 11:00".`

const timeParseInstructions = `Convert the operator's time description to absolute bounds.
Respond with a single JSON object and nothing else:
{"start": "<RFC3339>", "end": "<RFC3339>"}
The current time is %s.`

func buildAnalyzePrompt(inv *Investigation, sanitizedText, ragContext string) string {
	var b strings.Builder
	b.WriteString("Interpret the following incident trigger and describe, in a short paragraph,\n")
	b.WriteString("what likely happened and which systems should be investigated.\n\n")

	if inv.Alert != nil {
		a := inv.Alert
		fmt.Fprintf(&b, "Alert: %s\nSeverity: %s\nInstance: %s\nSummary: %s\nDescription: %s\nStarted: %s\n",
			a.Name, a.Severity, a.Instance, a.Summary, a.Description, a.StartsAt.Format(time.RFC3339))
		if !a.EndsAt.IsZero() {
			fmt.Fprintf(&b, "Ended: %s\n", a.EndsAt.Format(time.RFC3339))
		}
	} else {
		fmt.Fprintf(&b, "Operator question:\n%s\n", sanitizedText)
	}

	if env := summarizeEnvironment(&inv.Env); env != "" {
		b.WriteString("\nDiscovered environment:\n")
		b.WriteString(env)
	}
	if ragContext != "" {
		b.WriteString("\n")
		b.WriteString(ragContext)
		b.WriteString("\n")
	}
	return b.String()
}

func buildPlanPrompt(inv *Investigation) string {
	var b strings.Builder
	b.WriteString("Plan the next investigation pass. Propose PromQL and LogQL queries that\n")
	b.WriteString("will produce evidence about the incident.\n\n")

	if env := summarizeEnvironment(&inv.Env); env != "" {
		b.WriteString("Discovered environment:\n")
		b.WriteString(env)
		b.WriteString("\n")
	}

	if fb := inv.Feedback; fb != nil {
		b.WriteString("Feedback from the previous evaluation:\n")
		if fb.Reasoning != "" {
			fmt.Fprintf(&b, "Reasoning: %s\n", fb.Reasoning)
		}
		for _, m := range fb.MissingInformation {
			fmt.Fprintf(&b, "- Missing: %s\n", m)
		}
		for _, p := range fb.InvestigationPoints {
			fmt.Fprintf(&b, "- Investigate: %s\n", p)
		}
		if len(fb.AttemptedQueries) > 0 {
			b.WriteString("Do not repeat these already attempted queries:\n")
			for _, q := range fb.AttemptedQueries {
				fmt.Fprintf(&b, "- %s\n", q)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString(planFormatInstructions)
	return b.String()
}

func buildRevisePrompt(failures []string) string {
	var b strings.Builder
	b.WriteString("None of the proposed queries passed validation. Fix them.\n\nValidation errors:\n")
	for _, f := range failures {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	b.WriteString("\nRespond with a single JSON object and nothing else:\n")
	b.WriteString(`{"promql_queries": [...], "logql_queries": [...]}`)
	return b.String()
}

func buildSubAgentTask(kind string, inv *Investigation, queries []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident under investigation:\n%s\n\n", inv.TriggerText())
	if inv.Analysis != "" {
		fmt.Fprintf(&b, "Initial analysis:\n%s\n\n", inv.Analysis)
	}
	if tr := inv.Plan.TimeRange; tr != nil {
		fmt.Fprintf(&b, "Analysis window: %s to %s\n\n",
			tr.Start.Format(time.RFC3339), tr.End.Format(time.RFC3339))
	}
	if len(inv.Plan.TargetInstances) > 0 {
		fmt.Fprintf(&b, "Target instances: %s\n\n", strings.Join(inv.Plan.TargetInstances, ", "))
	}
	if len(queries) > 0 {
		fmt.Fprintf(&b, "Planned %s queries to start from:\n", kind)
		for _, q := range queries {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	} else {
		fmt.Fprintf(&b, "No pre-validated %s queries are available. Propose your own.\n", kind)
	}
	return b.String()
}

func buildEvaluatePrompt(inv *Investigation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident under investigation:\n%s\n\n", inv.TriggerText())
	fmt.Fprintf(&b, "Iteration %d of %d.\n\n", inv.IterationCount, inv.MaxIterations)

	if len(inv.MetricsResults) == 0 && len(inv.LogsResults) == 0 {
		b.WriteString("No evidence was gathered. No metrics or logs backends were reachable.\n\n")
	}
	for i, r := range inv.MetricsResults {
		fmt.Fprintf(&b, "Metrics findings (pass %d):\n%s\n\n", i+1, r.Summary)
	}
	for i, r := range inv.LogsResults {
		fmt.Fprintf(&b, "Log findings (pass %d):\n%s\n\n", i+1, r.Summary)
	}

	b.WriteString("Judge whether this evidence is sufficient to identify the root cause.\n\n")
	b.WriteString(evaluateFormatInstructions)
	return b.String()
}

func buildReportPrompt(inv *Investigation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Produce the final root cause report for this incident:\n%s\n\n", inv.TriggerText())
	if inv.Analysis != "" {
		fmt.Fprintf(&b, "Initial analysis:\n%s\n\n", inv.Analysis)
	}
	for i, r := range inv.MetricsResults {
		fmt.Fprintf(&b, "Metrics findings (pass %d):\n%s\n\n", i+1, r.Summary)
	}
	for i, r := range inv.LogsResults {
		fmt.Fprintf(&b, "Log findings (pass %d):\n%s\n\n", i+1, r.Summary)
	}
	b.WriteString(reportFormatInstructions)
	return b.String()
}

// summarizeEnvironment renders a compact snapshot description for
// prompts, truncating long name lists.
func summarizeEnvironment(env *EnvironmentSnapshot) string {
	var b strings.Builder
	if env.PrometheusDatasourceUID != "" {
		fmt.Fprintf(&b, "- Prometheus datasource UID: %s\n", env.PrometheusDatasourceUID)
	}
	if env.LokiDatasourceUID != "" {
		fmt.Fprintf(&b, "- Loki datasource UID: %s\n", env.LokiDatasourceUID)
	}
	if len(env.MetricNames) > 0 {
		fmt.Fprintf(&b, "- Metrics available (%d): %s\n", len(env.MetricNames), joinCapped(env.MetricNames, 30))
	}
	if len(env.LabelNames) > 0 {
		fmt.Fprintf(&b, "- Prometheus labels: %s\n", joinCapped(env.LabelNames, 20))
	}
	if len(env.Instances) > 0 {
		fmt.Fprintf(&b, "- Instances: %s\n", joinCapped(env.Instances, 20))
	}
	if len(env.LokiLabels) > 0 {
		fmt.Fprintf(&b, "- Loki labels: %s\n", joinCapped(env.LokiLabels, 20))
	}
	if len(env.PromQLExamples) > 0 {
		b.WriteString("- PromQL examples from dashboards:\n")
		for _, q := range capStrings(env.PromQLExamples, 10) {
			fmt.Fprintf(&b, "    %s\n", q)
		}
	}
	if len(env.LogQLExamples) > 0 {
		b.WriteString("- LogQL examples from dashboards:\n")
		for _, q := range capStrings(env.LogQLExamples, 10) {
			fmt.Fprintf(&b, "    %s\n", q)
		}
	}
	return b.String()
}

func capStrings(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}

func joinCapped(values []string, n int) string {
	capped := capStrings(values, n)
	s := strings.Join(capped, ", ")
	if len(values) > n {
		s += fmt.Sprintf(", ... (%d more)", len(values)-n)
	}
	return s
}
