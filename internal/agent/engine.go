package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tareqmamari/rca-agent/internal/config"
	"github.com/tareqmamari/rca-agent/internal/llm"
	"github.com/tareqmamari/rca-agent/internal/mcpclient"
	"github.com/tareqmamari/rca-agent/internal/metrics"
	"github.com/tareqmamari/rca-agent/internal/queryval"
	"github.com/tareqmamari/rca-agent/internal/rag"
	"github.com/tareqmamari/rca-agent/internal/tools"
	"github.com/tareqmamari/rca-agent/internal/tracing"
)

// ProgressFunc receives stage change notifications. The engine calls it
// synchronously between stages, so the callback may read the record but
// must not hold on to it. It never affects control flow.
type ProgressFunc func(inv *Investigation)

// SuspendError is returned by Run when the workflow needs operator
// input before it can continue. Resume continues the run.
type SuspendError struct {
	Question string
}

func (e *SuspendError) Error() string {
	return "investigation suspended: " + e.Question
}

// Engine drives one investigation through the workflow. It is built
// from a registry snapshot taken at investigation start and keeps that
// snapshot for the whole run.
type Engine struct {
	cfg       *config.Config
	llm       llm.Client
	validator *queryval.Validator
	retriever rag.Retriever
	snap      mcpclient.Snapshot
	workflow  Workflow

	grafana *tools.Grafana
	prom    *tools.Prometheus
	loki    *tools.Loki

	onStage ProgressFunc
	logger  *zap.Logger
}

// New builds an engine for one investigation run. retriever and
// onStage may be nil.
func New(cfg *config.Config, client llm.Client, retriever rag.Retriever, snap mcpclient.Snapshot, onStage ProgressFunc, logger *zap.Logger) *Engine {
	e := &Engine{
		cfg:       cfg,
		llm:       client,
		validator: queryval.New(),
		retriever: retriever,
		snap:      snap,
		workflow:  BuildWorkflow(snap),
		onStage:   onStage,
		logger:    logger,
	}
	if snap.Grafana != nil {
		e.grafana = tools.NewGrafana(snap.Grafana, cfg.GrafanaURL, cfg.Timeout)
	}
	if snap.Prometheus != nil {
		e.prom = tools.NewPrometheus(snap.Prometheus)
	}
	if snap.Loki != nil {
		e.loki = tools.NewLoki(snap.Loki)
	}
	return e
}

// Workflow exposes the compiled branch set, mainly for status
// reporting and tests.
func (e *Engine) Workflow() Workflow { return e.workflow }

// Run executes the investigation to completion, suspension, or
// failure. A *SuspendError return means the investigation is waiting
// for operator input and can be continued with Resume; any other error
// is terminal.
func (e *Engine) Run(ctx context.Context, inv *Investigation) error {
	metrics.RecordInvestigationStarted()
	inv.Status = StatusRunning

	ctx, span := tracing.InvestigationSpan(ctx, inv.ID, string(inv.Trigger))
	defer span.End()

	err := e.loop(ctx, inv)
	e.finish(inv, err)
	return err
}

// Resume continues a suspended investigation with the operator's
// reply. The reply is converted to absolute time bounds; if conversion
// fails the last hour ending now is used rather than blocking again.
func (e *Engine) Resume(ctx context.Context, inv *Investigation, reply string) error {
	if inv.Status != StatusSuspended {
		return fmt.Errorf("investigation %s is not suspended (status %s)", inv.ID, inv.Status)
	}

	tr := e.parseTimeReply(ctx, reply)
	inv.Plan.TimeRange = &tr
	inv.PendingQuestion = ""
	inv.Status = StatusRunning
	if e.workflow.HasBranches() {
		inv.Stage = StageInvestigate
	} else {
		inv.Stage = StageEvaluate
	}

	ctx, span := tracing.InvestigationSpan(ctx, inv.ID, string(inv.Trigger))
	defer span.End()

	err := e.loop(ctx, inv)
	e.finish(inv, err)
	return err
}

func (e *Engine) finish(inv *Investigation, err error) {
	elapsed := time.Since(inv.StartedAt)

	var suspend *SuspendError
	switch {
	case err == nil:
		inv.Status = StatusCompleted
		inv.FinishedAt = time.Now()
		metrics.RecordInvestigationCompleted(elapsed)
		e.logger.Info("investigation completed",
			zap.String("id", inv.ID),
			zap.Int("iterations", inv.IterationCount),
			zap.Duration("elapsed", elapsed))
	case errors.As(err, &suspend):
		inv.Status = StatusSuspended
		inv.PendingQuestion = suspend.Question
		metrics.RecordInvestigationSuspended()
		e.logger.Info("investigation suspended",
			zap.String("id", inv.ID),
			zap.String("question", suspend.Question))
	default:
		inv.Status = StatusFailed
		inv.Error = userFacingError(err)
		inv.FinishedAt = time.Now()
		metrics.RecordInvestigationFailed(elapsed)
		e.logger.Error("investigation failed",
			zap.String("id", inv.ID),
			zap.String("stage", string(inv.Stage)),
			zap.Error(err))
	}
}

// loop runs the state machine from the investigation's current stage.
func (e *Engine) loop(ctx context.Context, inv *Investigation) error {
	for inv.Stage != StageDone {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("investigation timed out at stage %s: %w", inv.Stage, err)
		}

		stage := inv.Stage
		e.notifyStage(inv)
		stageCtx, span := tracing.StageSpan(ctx, string(stage), inv.IterationCount)
		start := time.Now()

		next, err := e.step(stageCtx, inv)

		metrics.RecordStageDuration(string(stage), time.Since(start))
		if err != nil {
			tracing.RecordError(span, err)
			span.End()
			return err
		}
		span.End()
		inv.Stage = next
	}
	e.notifyStage(inv)
	return nil
}

// step executes one stage and returns the next one.
func (e *Engine) step(ctx context.Context, inv *Investigation) (Stage, error) {
	switch inv.Stage {
	case StageDiscover:
		e.discoverEnvironment(ctx, inv)
		return StageAnalyze, nil

	case StageAnalyze:
		if err := e.analyzeInput(ctx, inv); err != nil {
			return inv.Stage, err
		}
		return StagePlan, nil

	case StagePlan:
		if err := e.planInvestigation(ctx, inv); err != nil {
			return inv.Stage, err
		}
		return StageValidate, nil

	case StageValidate:
		e.validateQueries(ctx, inv)
		return StageTimeRange, nil

	case StageTimeRange:
		if err := e.resolveTimeRange(inv); err != nil {
			return inv.Stage, err
		}
		if !e.workflow.HasBranches() {
			return StageEvaluate, nil
		}
		return StageInvestigate, nil

	case StageInvestigate:
		if err := e.investigate(ctx, inv); err != nil {
			return inv.Stage, err
		}
		return StageEvaluate, nil

	case StageEvaluate:
		sufficient, err := e.evaluateResults(ctx, inv)
		if err != nil {
			return inv.Stage, err
		}
		if sufficient || inv.IterationCount >= inv.MaxIterations {
			return StageReport, nil
		}
		return StagePlan, nil

	case StageReport:
		if err := e.generateRCA(ctx, inv); err != nil {
			return inv.Stage, err
		}
		return StageDone, nil

	default:
		return inv.Stage, fmt.Errorf("unknown stage %q", inv.Stage)
	}
}

func (e *Engine) notifyStage(inv *Investigation) {
	if e.onStage != nil {
		e.onStage(inv)
	}
	e.logger.Debug("stage change",
		zap.String("id", inv.ID),
		zap.String("stage", string(inv.Stage)),
		zap.Int("iteration", inv.IterationCount))
}

// complete sends a one-shot prompt on top of the investigation's
// conversation and appends both sides to the history.
func (e *Engine) complete(ctx context.Context, inv *Investigation, prompt string) (string, error) {
	if len(inv.Messages) == 0 {
		inv.Messages = append(inv.Messages, llm.SystemMessage(orchestratorSystemPrompt))
	}
	inv.Messages = append(inv.Messages, llm.UserMessage(prompt))

	ctx, span := tracing.LLMSpan(ctx, string(inv.Stage))
	defer span.End()

	resp, err := e.llm.Complete(ctx, inv.Messages)
	if err != nil {
		tracing.RecordError(span, err)
		return "", err
	}
	inv.Messages = append(inv.Messages, resp)
	return resp.Content, nil
}

func userFacingError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "investigation timed out"
	}
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

var jsonFence = regexp.MustCompile("```(?:json)?\\s*\\n?")

// extractJSON pulls the first JSON object out of a completion, coping
// with markdown code fences and surrounding prose.
func extractJSON(text string) string {
	text = jsonFence.ReplaceAllString(text, "")
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
