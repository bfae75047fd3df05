package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tareqmamari/rca-agent/internal/llm"
	"github.com/tareqmamari/rca-agent/internal/mcpclient"
	"github.com/tareqmamari/rca-agent/internal/tools"
)

// msgScriptLLM replays full messages, tool calls included.
type msgScriptLLM struct {
	mu        sync.Mutex
	responses []llm.Message
	calls     int
}

func (s *msgScriptLLM) Complete(_ context.Context, _ []llm.Message) (llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.responses) {
		return llm.Message{Role: llm.RoleAssistant, Content: "done"}, nil
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func (s *msgScriptLLM) WithTools(_ []llm.ToolSpec) llm.Client { return s }

func echoToolset(t *testing.T) *tools.Toolset {
	t.Helper()
	ts := tools.NewToolset(zap.NewNop())
	ts.Register(llm.ToolSpec{Name: "query_test", Description: "test query"},
		func(_ context.Context, args map[string]any) (string, error) {
			q, _ := args["query"].(string)
			return "result for " + q, nil
		})
	return ts
}

func toolCallMsg(name string, args map[string]any) llm.Message {
	return llm.Message{
		Role: llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: name, Arguments: args},
		},
	}
}

func TestRunSubAgentToolLoop(t *testing.T) {
	cfg := testEngineConfig(t)
	script := &msgScriptLLM{responses: []llm.Message{
		toolCallMsg("query_test", map[string]any{"query": "up"}),
		{Role: llm.RoleAssistant, Content: "I have enough data."},
		{Role: llm.RoleAssistant, Content: "CPU is saturated."},
	}}
	eng := newTestEngine(cfg, script, mcpclient.Snapshot{}, nil)

	run, err := eng.runSubAgent(context.Background(), metricsAgentSystemPrompt,
		"investigate", echoToolset(t), "summarize")
	require.NoError(t, err)

	assert.Equal(t, "CPU is saturated.", run.summary)
	assert.Equal(t, []string{"up"}, run.queries)
	assert.Contains(t, run.transcript, "result for up")
	assert.Equal(t, 3, script.calls)
}

func TestRunSubAgentStepCeiling(t *testing.T) {
	cfg := testEngineConfig(t)
	cfg.MaxToolSteps = 2

	// The model keeps asking for tools; the loop must stop anyway.
	script := &msgScriptLLM{responses: []llm.Message{
		toolCallMsg("query_test", map[string]any{"query": "a"}),
		toolCallMsg("query_test", map[string]any{"query": "b"}),
		toolCallMsg("query_test", map[string]any{"query": "c"}),
		{Role: llm.RoleAssistant, Content: "summary"},
	}}
	eng := newTestEngine(cfg, script, mcpclient.Snapshot{}, nil)

	run, err := eng.runSubAgent(context.Background(), metricsAgentSystemPrompt,
		"investigate", echoToolset(t), "summarize")
	require.NoError(t, err)

	// Two tool steps plus the final summary call. The third tool
	// request is never executed.
	assert.Equal(t, 3, script.calls)
	assert.Equal(t, []string{"a", "b"}, run.queries)
	assert.NotContains(t, run.transcript, "result for c")
}

func TestRunSubAgentUnknownToolFedBack(t *testing.T) {
	cfg := testEngineConfig(t)
	script := &msgScriptLLM{responses: []llm.Message{
		toolCallMsg("no_such_tool", map[string]any{"query": "up"}),
		{Role: llm.RoleAssistant, Content: "adjusting"},
		{Role: llm.RoleAssistant, Content: "summary"},
	}}
	eng := newTestEngine(cfg, script, mcpclient.Snapshot{}, nil)

	run, err := eng.runSubAgent(context.Background(), metricsAgentSystemPrompt,
		"investigate", echoToolset(t), "summarize")
	require.NoError(t, err)
	assert.Contains(t, run.transcript, "unknown tool")
}

func TestInvestigateAppendsDisjointResults(t *testing.T) {
	cfg := testEngineConfig(t)
	// Both branches run concurrently against the same scripted client;
	// every completion is a terminal answer so each branch does one
	// reasoning call and one summary call.
	script := &msgScriptLLM{}
	eng := newTestEngine(cfg, script, mcpclient.Snapshot{}, nil)
	eng.workflow = Workflow{Metrics: true, Logs: true}

	inv := NewAlertInvestigation(Alert{Name: "A", StartsAt: time.Now()}, 3)
	require.NoError(t, eng.investigate(context.Background(), inv))

	assert.Len(t, inv.MetricsResults, 1)
	assert.Len(t, inv.LogsResults, 1)
}
