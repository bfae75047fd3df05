// Package main implements the RCA agent: an automated root cause
// analysis service for infrastructure incidents.
//
// The agent accepts alert webhooks or free text questions over HTTP,
// plans PromQL and LogQL queries with an LLM, executes them through
// Grafana, Prometheus, and Loki MCP servers, iterates until the
// evidence is sufficient, and produces a markdown report.
//
// Configuration is provided through environment variables:
//   - GRAFANA_MCP_URL / LOKI_MCP_URL / PROMETHEUS_MCP_URL: MCP server endpoints
//   - LLM_ENDPOINT: OpenAI-compatible completions endpoint (required)
//   - LLM_MODEL: model name
//   - LLM_API_KEY: bearer token for the LLM endpoint (optional)
//   - RCA_LISTEN_ADDR: HTTP listen address (default :8088)
//   - ENVIRONMENT: set to "production" for production logging
//
// Example usage:
//
//	export LLM_ENDPOINT="http://localhost:8000/v1"
//	export GRAFANA_MCP_URL="http://localhost:8080"
//	./rca-agent
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tareqmamari/rca-agent/internal/agent"
	"github.com/tareqmamari/rca-agent/internal/config"
	"github.com/tareqmamari/rca-agent/internal/llm"
	"github.com/tareqmamari/rca-agent/internal/mcpclient"
	"github.com/tareqmamari/rca-agent/internal/rag"
	"github.com/tareqmamari/rca-agent/internal/server"
	"github.com/tareqmamari/rca-agent/internal/store"
	"github.com/tareqmamari/rca-agent/internal/tracing"
)

// Build information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Load .env file if it exists (optional, for development)
	_ = godotenv.Load()

	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting RCA agent",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("llm_endpoint", cfg.LLMEndpoint),
		zap.String("llm_model", cfg.LLMModel),
		zap.String("listen_addr", cfg.ListenAddr))

	shutdownTracing, err := tracing.InitOTel(tracing.OTelConfig{
		ServiceName:    "rca-agent",
		ServiceVersion: version,
		Environment:    os.Getenv("ENVIRONMENT"),
		Enabled:        cfg.EnableTracing,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	// One MCP client per backend; the registry tracks their health.
	opts := mcpclient.Options{
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
		RetryWaitMin: cfg.RetryWaitMin,
		RetryWaitMax: cfg.RetryWaitMax,
	}
	registry := mcpclient.NewRegistry(logger, map[string]*mcpclient.Client{
		mcpclient.ServerGrafana:    mcpclient.New(mcpclient.ServerGrafana, cfg.GrafanaMCPURL, logger, opts),
		mcpclient.ServerLoki:       mcpclient.New(mcpclient.ServerLoki, cfg.LokiMCPURL, logger, opts),
		mcpclient.ServerPrometheus: mcpclient.New(mcpclient.ServerPrometheus, cfg.PrometheusMCPURL, logger, opts),
	})

	probeCtx, probeCancel := context.WithTimeout(context.Background(), 15*time.Second)
	status := registry.HealthCheck(probeCtx)
	probeCancel()
	for name, healthy := range status {
		logger.Info("backend probed", zap.String("server", name), zap.Bool("healthy", healthy))
	}
	if !registry.AnyHealthy() {
		logger.Warn("no MCP backend is reachable, investigations will gather no evidence")
	}

	llmClient := llm.NewRetryClient(llm.NewHTTPClient(cfg, logger), logger)
	retriever := rag.LoadDir(cfg.DocsDir, logger)
	investigations := store.New(logger)

	factory := func(snap mcpclient.Snapshot) server.Engine {
		return agent.New(cfg, llmClient, retriever, snap, investigations.OnStageChange, logger)
	}
	apiServer := server.New(cfg, registry, investigations, factory, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start()
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown failed", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown failed", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

// initLogger creates a production logger when ENVIRONMENT=production,
// otherwise a development logger with more verbose output.
func initLogger() (*zap.Logger, error) {
	if os.Getenv("ENVIRONMENT") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
