package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// evaluateResults asks the model whether the accumulated evidence is
// sufficient. A verdict counts as sufficient only when the first line
// of the response begins with the SUFFICIENT token; anything else is
// parsed as structured feedback for the next planning pass.
func (e *Engine) evaluateResults(ctx context.Context, inv *Investigation) (bool, error) {
	text, err := e.complete(ctx, inv, buildEvaluatePrompt(inv))
	if err != nil {
		return false, fmt.Errorf("evaluate results: %w", err)
	}

	firstLine := text
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	if strings.HasPrefix(strings.TrimSpace(firstLine), sufficientToken) {
		e.logger.Info("evidence judged sufficient",
			zap.String("id", inv.ID),
			zap.Int("iteration", inv.IterationCount))
		return true, nil
	}

	fb := parseFeedback(text)
	fb.AttemptedQueries = attemptedQueries(inv)
	inv.Feedback = fb

	e.logger.Info("evidence judged insufficient",
		zap.String("id", inv.ID),
		zap.Int("iteration", inv.IterationCount),
		zap.Int("missing", len(fb.MissingInformation)))
	return false, nil
}

// parseFeedback extracts structured feedback from an insufficiency
// verdict, falling back to the raw text as reasoning when the
// response is not well formed JSON.
func parseFeedback(text string) *EvaluationFeedback {
	raw := extractJSON(text)
	if raw != "" {
		var fb EvaluationFeedback
		if err := json.Unmarshal([]byte(raw), &fb); err == nil {
			if fb.Reasoning == "" && len(fb.MissingInformation) == 0 && len(fb.InvestigationPoints) == 0 {
				fb.Reasoning = strings.TrimSpace(text)
			}
			return &fb
		}
	}
	return &EvaluationFeedback{Reasoning: strings.TrimSpace(text)}
}

// attemptedQueries collects every query executed so far, so the next
// plan is steered away from repeating them.
func attemptedQueries(inv *Investigation) []string {
	seen := make(map[string]bool)
	var queries []string
	add := func(qs []string) {
		for _, q := range qs {
			if q != "" && !seen[q] {
				seen[q] = true
				queries = append(queries, q)
			}
		}
	}
	for _, r := range inv.MetricsResults {
		add(r.Queries)
	}
	for _, r := range inv.LogsResults {
		add(r.Queries)
	}
	add(inv.Plan.PromQLQueries)
	add(inv.Plan.LogQLQueries)
	return queries
}
