package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tareqmamari/rca-agent/internal/llm"
	"github.com/tareqmamari/rca-agent/internal/tools"
)

// investigate fans out the built gathering branches and waits for all
// of them. Metrics and logs append to disjoint result lists, so the
// branches share no mutable state.
func (e *Engine) investigate(ctx context.Context, inv *Investigation) error {
	g, ctx := errgroup.WithContext(ctx)

	var metricsResult *MetricsResult
	var logsResult *LogsResult

	if e.workflow.Metrics {
		g.Go(func() error {
			res, err := e.runMetricsBranch(ctx, inv)
			if err != nil {
				return fmt.Errorf("metrics branch: %w", err)
			}
			metricsResult = res
			return nil
		})
	}
	if e.workflow.Logs {
		g.Go(func() error {
			res, err := e.runLogsBranch(ctx, inv)
			if err != nil {
				return fmt.Errorf("logs branch: %w", err)
			}
			logsResult = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if metricsResult != nil {
		inv.MetricsResults = append(inv.MetricsResults, *metricsResult)
	}
	if logsResult != nil {
		inv.LogsResults = append(inv.LogsResults, *logsResult)
	}
	return nil
}

func (e *Engine) runMetricsBranch(ctx context.Context, inv *Investigation) (*MetricsResult, error) {
	var ts *tools.Toolset
	if e.workflow.MetricsViaGrafana {
		ts = tools.GrafanaToolset(e.grafana, inv.Plan.PrometheusDatasourceUID, inv.Plan.LokiDatasourceUID, e.logger)
	} else {
		ts = tools.PrometheusToolset(e.prom, e.logger)
	}

	task := buildSubAgentTask("PromQL", inv, inv.Plan.PromQLQueries)
	run, err := e.runSubAgent(ctx, metricsAgentSystemPrompt, task, ts,
		"Summarize the metric anomalies you found and what they suggest about the root cause.")
	if err != nil {
		return nil, err
	}
	return &MetricsResult{
		Queries: run.queries,
		Summary: run.summary,
		Raw:     run.transcript,
	}, nil
}

func (e *Engine) runLogsBranch(ctx context.Context, inv *Investigation) (*LogsResult, error) {
	var ts *tools.Toolset
	if e.workflow.LogsViaGrafana {
		ts = tools.GrafanaToolset(e.grafana, inv.Plan.PrometheusDatasourceUID, inv.Plan.LokiDatasourceUID, e.logger)
	} else {
		ts = tools.LokiToolset(e.loki, e.logger)
	}

	task := buildSubAgentTask("LogQL", inv, inv.Plan.LogQLQueries)
	run, err := e.runSubAgent(ctx, logsAgentSystemPrompt, task, ts,
		"Summarize the error patterns you found in the logs and what they suggest about the root cause.")
	if err != nil {
		return nil, err
	}
	return &LogsResult{
		Queries: run.queries,
		Summary: run.summary,
		Raw:     run.transcript,
	}, nil
}

// subAgentRun is the outcome of one bounded ReAct pass.
type subAgentRun struct {
	summary    string
	transcript string
	queries    []string
}

// runSubAgent drives one tool-calling loop: the model reasons, may
// request tool calls, sees their output, and repeats until it stops
// requesting tools or the step ceiling is hit. Tool failures are fed
// back as text so the model can adjust; only completion failures
// abort the branch.
func (e *Engine) runSubAgent(ctx context.Context, systemPrompt, task string, ts *tools.Toolset, summaryPrompt string) (*subAgentRun, error) {
	bound := e.llm.WithTools(ts.Specs())
	msgs := []llm.Message{
		llm.SystemMessage(systemPrompt),
		llm.UserMessage(task),
	}

	run := &subAgentRun{}
	var transcript strings.Builder

	for step := 0; step < e.cfg.MaxToolSteps; step++ {
		resp, err := bound.Complete(ctx, msgs)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, resp)
		if len(resp.ToolCalls) == 0 {
			break
		}
		for _, call := range resp.ToolCalls {
			if q := queryArg(call); q != "" {
				run.queries = append(run.queries, q)
			}
			out := ts.Execute(ctx, call)
			fmt.Fprintf(&transcript, "%s\n%s\n\n", call.String(), out)
			msgs = append(msgs, llm.ToolMessage(call, out))
			e.logger.Debug("sub-agent tool call",
				zap.String("tool", call.Name),
				zap.Int("step", step))
		}
	}

	msgs = append(msgs, llm.UserMessage(summaryPrompt))
	final, err := e.llm.Complete(ctx, msgs)
	if err != nil {
		return nil, err
	}
	run.summary = final.Content
	run.transcript = transcript.String()
	return run, nil
}

// queryArg extracts the query string from a tool call, whatever
// argument name the tool uses for it.
func queryArg(call llm.ToolCall) string {
	for _, key := range []string{"query", "logql", "expr"} {
		if v, ok := call.Arguments[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
