package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tareqmamari/rca-agent/internal/llm"
)

const (
	alertWindowPadding = 30 * time.Minute
	defaultQueryWindow = time.Hour
)

// resolveTimeRange fills the plan's analysis window. Alert triggers
// derive it from the alert timestamps, user queries from any
// pre-parsed bounds; without either the workflow suspends and asks
// the operator.
func (e *Engine) resolveTimeRange(inv *Investigation) error {
	if tr := inv.Plan.TimeRange; tr != nil && tr.Start.Before(tr.End) {
		return nil
	}

	if a := inv.Alert; a != nil {
		start := a.StartsAt.Add(-alertWindowPadding)
		end := a.EndsAt
		if end.IsZero() {
			end = a.StartsAt.Add(alertWindowPadding)
		}
		inv.Plan.TimeRange = &TimeRange{Start: start, End: end}
		return nil
	}

	if q := inv.Query; q != nil && !q.TimeRangeStart.IsZero() {
		end := q.TimeRangeEnd
		if end.IsZero() {
			end = q.TimeRangeStart.Add(defaultQueryWindow)
		}
		inv.Plan.TimeRange = &TimeRange{Start: q.TimeRangeStart, End: end}
		return nil
	}

	return &SuspendError{Question: timeRangeQuestion}
}

// parseTimeReply converts the operator's free text reply to absolute
// bounds through the model. Parse failure falls back to the last hour
// ending now rather than suspending again.
func (e *Engine) parseTimeReply(ctx context.Context, reply string) TimeRange {
	now := time.Now()
	fallback := TimeRange{Start: now.Add(-time.Hour), End: now}

	prompt := fmt.Sprintf(timeParseInstructions, now.Format(time.RFC3339)) +
		"\n\nOperator reply:\n" + reply
	resp, err := e.llm.Complete(ctx, []llm.Message{
		llm.SystemMessage(orchestratorSystemPrompt),
		llm.UserMessage(prompt),
	})
	if err != nil {
		e.logger.Warn("time reply completion failed, using last hour", zap.Error(err))
		return fallback
	}

	var bounds struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	raw := extractJSON(resp.Content)
	if raw == "" {
		e.logger.Warn("time reply contains no JSON, using last hour",
			zap.String("reply", reply))
		return fallback
	}
	if err := json.Unmarshal([]byte(raw), &bounds); err != nil {
		e.logger.Warn("time reply parse failed, using last hour", zap.Error(err))
		return fallback
	}

	start, errStart := time.Parse(time.RFC3339, bounds.Start)
	end, errEnd := time.Parse(time.RFC3339, bounds.End)
	if errStart != nil || errEnd != nil || !start.Before(end) {
		e.logger.Warn("time reply bounds invalid, using last hour",
			zap.String("start", bounds.Start), zap.String("end", bounds.End))
		return fallback
	}
	return TimeRange{Start: start, End: end}
}
