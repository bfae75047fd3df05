package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tareqmamari/rca-agent/internal/agent"
	"github.com/tareqmamari/rca-agent/internal/config"
	"github.com/tareqmamari/rca-agent/internal/mcpclient"
	"github.com/tareqmamari/rca-agent/internal/report"
	"github.com/tareqmamari/rca-agent/internal/store"
)

// fakeEngine lets tests script the engine outcome and observe calls.
type fakeEngine struct {
	runErr    error
	resumeErr error
	done      chan string // receives "run" or "resume"
}

func (f *fakeEngine) Run(_ context.Context, inv *agent.Investigation) error {
	defer func() { f.done <- "run" }()
	switch err := f.runErr.(type) {
	case nil:
		inv.Status = agent.StatusCompleted
		inv.Stage = agent.StageDone
		inv.Report = &report.Report{InvestigationID: inv.ID, Summary: "all good"}
		inv.FinishedAt = time.Now()
		return nil
	case *agent.SuspendError:
		inv.Status = agent.StatusSuspended
		inv.PendingQuestion = err.Question
		return err
	default:
		inv.Status = agent.StatusFailed
		inv.Error = err.Error()
		return err
	}
}

func (f *fakeEngine) Resume(_ context.Context, inv *agent.Investigation, _ string) error {
	defer func() { f.done <- "resume" }()
	if f.resumeErr != nil {
		inv.Status = agent.StatusFailed
		inv.Error = f.resumeErr.Error()
		return f.resumeErr
	}
	inv.Status = agent.StatusCompleted
	inv.Report = &report.Report{InvestigationID: inv.ID, Summary: "resumed"}
	return nil
}

func newTestServer(t *testing.T, eng Engine) *Server {
	t.Helper()
	cfg := &config.Config{
		MaxIterations:        3,
		InvestigationTimeout: 5 * time.Second,
		MetricsEndpoint:      true,
		ListenAddr:           ":0",
	}
	registry := mcpclient.NewRegistry(zap.NewNop(), nil)
	factory := func(_ mcpclient.Snapshot) Engine { return eng }
	return New(cfg, registry, store.New(zap.NewNop()), factory, zap.NewNop())
}

func wait(t *testing.T, eng *fakeEngine) string {
	t.Helper()
	select {
	case op := <-eng.done:
		return op
	case <-time.After(2 * time.Second):
		t.Fatal("engine was never invoked")
		return ""
	}
}

// awaitStatus polls until the published snapshot reaches the wanted
// status. The run goroutine publishes after the engine returns, so the
// done signal alone does not guarantee visibility.
func awaitStatus(t *testing.T, h http.Handler, id string, want agent.Status) map[string]any {
	t.Helper()
	var resp map[string]any
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/investigations/"+id, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		if json.Unmarshal(rec.Body.Bytes(), &resp) != nil {
			return false
		}
		return resp["status"] == string(want)
	}, 2*time.Second, 5*time.Millisecond)
	return resp
}

const webhookBody = `{
	"alerts": [{
		"labels": {"alertname": "HighCPU", "severity": "critical", "instance": "node-1"},
		"annotations": {"summary": "CPU above 90%"},
		"startsAt": "2025-06-01T12:00:00Z"
	}]
}`

func TestAlertWebhookCreatesInvestigation(t *testing.T) {
	eng := &fakeEngine{done: make(chan string, 1)}
	srv := newTestServer(t, eng)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/webhook", strings.NewReader(webhookBody)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id, _ := resp["id"].(string)
	require.NotEmpty(t, id)

	assert.Equal(t, "run", wait(t, eng))

	// Status reflects the completed run once it is published.
	awaitStatus(t, h, id, agent.StatusCompleted)
}

func TestAlertWebhookRejectsEmpty(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{done: make(chan string, 1)})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/webhook", strings.NewReader(`{"alerts": []}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/webhook", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateQueryInvestigation(t *testing.T) {
	eng := &fakeEngine{done: make(chan string, 1)}
	srv := newTestServer(t, eng)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/investigations",
		strings.NewReader(`{"query": "why is checkout slow"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	wait(t, eng)
}

func TestCreateQueryRequiresText(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{done: make(chan string, 1)})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/investigations",
		strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusUnknownInvestigation(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{done: make(chan string, 1)})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/investigations/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportRetrieval(t *testing.T) {
	eng := &fakeEngine{done: make(chan string, 1)}
	srv := newTestServer(t, eng)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/webhook", strings.NewReader(webhookBody)))
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id := resp["id"].(string)
	wait(t, eng)
	awaitStatus(t, h, id, agent.StatusCompleted)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/investigations/"+id+"/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "markdown")
	assert.Contains(t, rec.Body.String(), "all good")
}

func TestReportUnavailableWhileRunning(t *testing.T) {
	eng := &fakeEngine{done: make(chan string, 1), runErr: &agent.SuspendError{Question: "when?"}}
	srv := newTestServer(t, eng)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/webhook", strings.NewReader(webhookBody)))
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id := resp["id"].(string)
	wait(t, eng)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/investigations/"+id+"/report", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResumeSuspendedInvestigation(t *testing.T) {
	eng := &fakeEngine{done: make(chan string, 2), runErr: &agent.SuspendError{Question: "which window?"}}
	srv := newTestServer(t, eng)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/investigations",
		strings.NewReader(`{"query": "why is checkout slow"}`)))
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id := resp["id"].(string)
	require.Equal(t, "run", wait(t, eng))

	// Suspended investigations expose the pending question.
	resp = awaitStatus(t, h, id, agent.StatusSuspended)
	assert.Equal(t, "which window?", resp["pending_question"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/investigations/"+id+"/resume",
		strings.NewReader(`{"reply": "last 2 hours"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "resume", wait(t, eng))
	awaitStatus(t, h, id, agent.StatusCompleted)
}

func TestResumeRejectsRunningInvestigation(t *testing.T) {
	eng := &fakeEngine{done: make(chan string, 1)}
	srv := newTestServer(t, eng)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/webhook", strings.NewReader(webhookBody)))
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id := resp["id"].(string)
	wait(t, eng)
	awaitStatus(t, h, id, agent.StatusCompleted)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/investigations/"+id+"/resume",
		strings.NewReader(`{"reply": "now"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListInvestigations(t *testing.T) {
	eng := &fakeEngine{done: make(chan string, 2)}
	srv := newTestServer(t, eng)
	h := srv.Handler()

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/webhook", strings.NewReader(webhookBody)))
		require.Equal(t, http.StatusAccepted, rec.Code)
		wait(t, eng)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/investigations", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Investigations []map[string]any `json:"investigations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Investigations, 2)
}

// churnEngine hammers the live record the way a real run does, so the
// status poll below exercises reader/writer separation.
type churnEngine struct {
	done chan struct{}
}

func (c *churnEngine) Run(_ context.Context, inv *agent.Investigation) error {
	for i := 0; i < 2000; i++ {
		inv.IterationCount++
		inv.Stage = agent.StageInvestigate
		inv.Analysis = strings.Repeat("x", i%13)
		inv.MetricsResults = append(inv.MetricsResults, agent.MetricsResult{Summary: "tick"})
	}
	inv.Status = agent.StatusCompleted
	inv.Stage = agent.StageDone
	close(c.done)
	return nil
}

func (c *churnEngine) Resume(context.Context, *agent.Investigation, string) error {
	return nil
}

func TestStatusPollDuringRun(t *testing.T) {
	eng := &churnEngine{done: make(chan struct{})}
	srv := newTestServer(t, eng)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/alerts/webhook", strings.NewReader(webhookBody)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id := resp["id"].(string)

	// Poll while the engine is mutating the live record. Handlers must
	// only ever see published snapshots.
	for i := 0; i < 200; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/investigations/"+id, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var polled map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &polled))
		require.Equal(t, id, polled["id"])
	}

	select {
	case <-eng.done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never finished")
	}
	awaitStatus(t, h, id, agent.StatusCompleted)
}

func TestResumeFailureReleasesEngine(t *testing.T) {
	eng := &fakeEngine{
		done:      make(chan string, 2),
		runErr:    &agent.SuspendError{Question: "when?"},
		resumeErr: context.DeadlineExceeded,
	}
	srv := newTestServer(t, eng)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/investigations",
		strings.NewReader(`{"query": "why is checkout slow"}`)))
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id := resp["id"].(string)
	require.Equal(t, "run", wait(t, eng))
	awaitStatus(t, h, id, agent.StatusSuspended)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/investigations/"+id+"/resume",
		strings.NewReader(`{"reply": "yesterday"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "resume", wait(t, eng))

	// A terminal resume failure must release the engine, not leak it.
	awaitStatus(t, h, id, agent.StatusFailed)
	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.runs) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestProbeEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{done: make(chan string, 1)})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Not ready until Start flips the flag.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	srv.ready.Store(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
