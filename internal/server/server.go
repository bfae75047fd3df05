// Package server exposes the HTTP front door of the RCA agent:
// investigation creation from alert webhooks or free text questions,
// status polling, report retrieval, resumption of suspended
// investigations, and health/metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tareqmamari/rca-agent/internal/agent"
	"github.com/tareqmamari/rca-agent/internal/config"
	"github.com/tareqmamari/rca-agent/internal/mcpclient"
	"github.com/tareqmamari/rca-agent/internal/store"
)

// Engine is the part of the investigation engine the server drives.
type Engine interface {
	Run(ctx context.Context, inv *agent.Investigation) error
	Resume(ctx context.Context, inv *agent.Investigation, reply string) error
}

// EngineFactory builds one engine per investigation from the registry
// snapshot taken at its start.
type EngineFactory func(snap mcpclient.Snapshot) Engine

// Server is the HTTP API server.
type Server struct {
	cfg       *config.Config
	registry  *mcpclient.Registry
	store     *store.Store
	newEngine EngineFactory
	logger    *zap.Logger

	httpServer *http.Server
	ready      atomic.Bool

	// runs keeps the live investigation record and its engine together.
	// The record is owned by the goroutine running it; handlers read the
	// snapshots the run publishes into the store. Keeping the engine
	// alive lets a suspended investigation resume on the same snapshot
	// it started with.
	mu   sync.Mutex
	runs map[string]*liveRun
}

type liveRun struct {
	eng      Engine
	inv      *agent.Investigation
	resuming bool
}

// New creates the API server.
func New(cfg *config.Config, registry *mcpclient.Registry, st *store.Store, factory EngineFactory, logger *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		registry:  registry,
		store:     st,
		newEngine: factory,
		logger:    logger,
		runs:      make(map[string]*liveRun),
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}
	return s
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/alerts/webhook", s.handleAlertWebhook)
	mux.HandleFunc("POST /api/v1/investigations", s.handleCreateQuery)
	mux.HandleFunc("GET /api/v1/investigations", s.handleList)
	mux.HandleFunc("GET /api/v1/investigations/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/v1/investigations/{id}/report", s.handleReport)
	mux.HandleFunc("POST /api/v1/investigations/{id}/resume", s.handleResume)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /live", s.handleLive)
	if s.cfg.MetricsEndpoint {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return mux
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("addr", s.cfg.ListenAddr))
	s.ready.Store(true)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// webhookPayload is the Alertmanager webhook shape, reduced to the
// fields the engine uses.
type webhookPayload struct {
	Alerts []struct {
		Labels      map[string]string `json:"labels"`
		Annotations map[string]string `json:"annotations"`
		StartsAt    time.Time         `json:"startsAt"`
		EndsAt      time.Time         `json:"endsAt"`
	} `json:"alerts"`
}

func (s *Server) handleAlertWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}
	if len(payload.Alerts) == 0 {
		s.writeError(w, http.StatusBadRequest, "webhook contains no alerts")
		return
	}

	// One investigation per webhook: grouped alerts share a cause far
	// more often than not.
	first := payload.Alerts[0]
	alert := agent.Alert{
		Name:        first.Labels["alertname"],
		Severity:    first.Labels["severity"],
		Instance:    first.Labels["instance"],
		Summary:     first.Annotations["summary"],
		Description: first.Annotations["description"],
		StartsAt:    first.StartsAt,
		EndsAt:      first.EndsAt,
	}
	if alert.Name == "" {
		s.writeError(w, http.StatusBadRequest, "alert has no alertname label")
		return
	}
	if alert.StartsAt.IsZero() {
		alert.StartsAt = time.Now()
	}

	inv := agent.NewAlertInvestigation(alert, s.cfg.MaxIterations)
	// Snapshot the response before the engine goroutine starts mutating
	// the record.
	resp := statusResponse(inv)
	s.launch(inv)
	s.writeJSON(w, http.StatusAccepted, resp)
}

type createQueryRequest struct {
	Query          string     `json:"query"`
	TimeRangeStart *time.Time `json:"time_range_start,omitempty"`
	TimeRangeEnd   *time.Time `json:"time_range_end,omitempty"`
}

func (s *Server) handleCreateQuery(w http.ResponseWriter, r *http.Request) {
	var req createQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	q := agent.UserQuery{Text: req.Query}
	if req.TimeRangeStart != nil {
		q.TimeRangeStart = *req.TimeRangeStart
	}
	if req.TimeRangeEnd != nil {
		q.TimeRangeEnd = *req.TimeRangeEnd
	}

	inv := agent.NewQueryInvestigation(q, s.cfg.MaxIterations)
	resp := statusResponse(inv)
	s.launch(inv)
	s.writeJSON(w, http.StatusAccepted, resp)
}

// launch registers the investigation, compiles an engine against a
// fresh registry snapshot, and runs it in the background under the
// investigation timeout.
func (s *Server) launch(inv *agent.Investigation) {
	s.store.Put(inv)

	probeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	s.registry.HealthCheck(probeCtx)
	cancel()

	eng := s.newEngine(s.registry.Snapshot())
	s.mu.Lock()
	s.runs[inv.ID] = &liveRun{eng: eng, inv: inv}
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.InvestigationTimeout)
		defer cancel()

		err := eng.Run(ctx, inv)
		s.store.Put(inv)

		var suspend *agent.SuspendError
		if !errors.As(err, &suspend) {
			s.dropRun(inv.ID)
		}
	}()
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Reply string `json:"reply"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reply == "" {
		s.writeError(w, http.StatusBadRequest, "reply is required")
		return
	}
	if inv.Status != agent.StatusSuspended {
		s.writeError(w, http.StatusConflict,
			fmt.Sprintf("investigation is %s, not suspended", inv.Status))
		return
	}

	s.mu.Lock()
	run, ok := s.runs[inv.ID]
	if ok {
		if run.resuming {
			s.mu.Unlock()
			s.writeError(w, http.StatusConflict, "resume already in progress")
			return
		}
		run.resuming = true
	}
	s.mu.Unlock()
	if !ok {
		s.writeError(w, http.StatusGone, "investigation state was lost, start a new one")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.InvestigationTimeout)
		defer cancel()

		err := run.eng.Resume(ctx, run.inv, req.Reply)
		s.store.Put(run.inv)

		var suspend *agent.SuspendError
		if errors.As(err, &suspend) {
			s.mu.Lock()
			run.resuming = false
			s.mu.Unlock()
		} else {
			s.dropRun(run.inv.ID)
		}
	}()

	s.writeJSON(w, http.StatusAccepted, statusResponse(inv))
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	list := s.store.List()
	out := make([]map[string]any, 0, len(list))
	for _, inv := range list {
		out = append(out, statusResponse(inv))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"investigations": out})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse(inv))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if inv.Status != agent.StatusCompleted || inv.Report == nil {
		s.writeError(w, http.StatusConflict,
			fmt.Sprintf("no report available, investigation is %s", inv.Status))
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(inv.Report.Markdown()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	backends := s.registry.HealthCheck(ctx)
	anyUp := false
	for _, ok := range backends {
		anyUp = anyUp || ok
	}

	status := http.StatusOK
	overall := "healthy"
	if !anyUp {
		// Degraded, not down: investigations still run, they just
		// gather no evidence.
		overall = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    overall,
		"timestamp": time.Now().UTC(),
		"backends":  backends,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_ready"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"alive"}`))
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*agent.Investigation, bool) {
	inv, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "investigation not found")
		return nil, false
	}
	return inv, true
}

func (s *Server) dropRun(id string) {
	s.mu.Lock()
	delete(s.runs, id)
	s.mu.Unlock()
}

func statusResponse(inv *agent.Investigation) map[string]any {
	resp := map[string]any{
		"id":             inv.ID,
		"trigger":        inv.Trigger,
		"status":         inv.Status,
		"stage":          inv.Stage,
		"iteration":      inv.IterationCount,
		"max_iterations": inv.MaxIterations,
		"started_at":     inv.StartedAt,
	}
	if inv.PendingQuestion != "" {
		resp["pending_question"] = inv.PendingQuestion
	}
	if inv.Error != "" {
		resp["error"] = inv.Error
	}
	if !inv.FinishedAt.IsZero() {
		resp["finished_at"] = inv.FinishedAt
	}
	if inv.ReportPath != "" {
		resp["report_path"] = inv.ReportPath
	}
	return resp
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
