// Package config provides configuration management for the RCA agent.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all configuration for the RCA agent
type Config struct {
	// MCP Server Endpoints
	GrafanaMCPURL    string `json:"grafana_mcp_url"`
	LokiMCPURL       string `json:"loki_mcp_url"`
	PrometheusMCPURL string `json:"prometheus_mcp_url"`
	GrafanaURL       string `json:"grafana_url"` // Base Grafana URL for panel image rendering

	// LLM Configuration
	LLMEndpoint string  `json:"llm_endpoint"`
	LLMModel    string  `json:"llm_model"`
	LLMAPIKey   string  `json:"llm_api_key,omitempty"` // Not stored in files, from env only
	Temperature float64 `json:"temperature"`

	// Investigation Behavior
	MaxIterations        int           `json:"max_iterations"`        // Ceiling on plan/evaluate cycles (default: 5)
	MaxToolSteps         int           `json:"max_tool_steps"`        // Ceiling on tool-call rounds per sub-agent (default: 6)
	InvestigationTimeout time.Duration `json:"investigation_timeout"` // Wall-clock bound for one investigation (default: 120s)
	ReportDir            string        `json:"report_dir"`
	DocsDir              string        `json:"docs_dir"` // Local PromQL/LogQL reference docs for query retrieval

	// HTTP Client Configuration
	Timeout      time.Duration `json:"timeout"`
	MaxRetries   int           `json:"max_retries"`
	RetryWaitMin time.Duration `json:"retry_wait_min"`
	RetryWaitMax time.Duration `json:"retry_wait_max"`

	// Rate Limiting (outbound LLM calls)
	RateLimit       int  `json:"rate_limit"`       // requests per second
	RateLimitBurst  int  `json:"rate_limit_burst"` // burst size
	EnableRateLimit bool `json:"enable_rate_limit"`

	// HTTP Server
	ListenAddr string `json:"listen_addr"`

	// Observability
	EnableTracing   bool `json:"enable_tracing"`   // Enable distributed tracing (default: true)
	MetricsEndpoint bool `json:"metrics_endpoint"` // Enable Prometheus metrics endpoint (default: true)

	// Logging
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"` // json or console
}

// Load configuration from environment variables and config file
func Load() (*Config, error) {
	cfg := &Config{
		// Defaults
		GrafanaMCPURL:    "http://localhost:8080",
		LokiMCPURL:       "http://localhost:8081",
		PrometheusMCPURL: "http://localhost:8082",
		GrafanaURL:       "http://localhost:3000",
		LLMEndpoint:      "http://localhost:8000/v1",
		LLMModel:         "llama-3.1-8b-instruct",
		Temperature:      0.1,
		// Investigation behavior
		MaxIterations:        5,
		MaxToolSteps:         6,
		InvestigationTimeout: 120 * time.Second,
		ReportDir:            "/tmp/rca_reports",
		DocsDir:              "docs/query_reference",
		// HTTP client
		Timeout:      30 * time.Second,
		MaxRetries:   3,
		RetryWaitMin: 1 * time.Second,
		RetryWaitMax: 30 * time.Second,
		// Rate limiting
		RateLimit:       10,
		RateLimitBurst:  5,
		EnableRateLimit: true,
		// Server
		ListenAddr: ":8088",
		// Observability defaults
		EnableTracing:   true,
		MetricsEndpoint: true,
		LogLevel:        "info",
		LogFormat:       "json",
	}

	// Try to load from config file if specified
	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables (these take precedence)
	loadFromEnv(cfg)

	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	cleanPath := filepath.Clean(path)

	// Prevent path traversal by checking for ".." components
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid file path: path traversal detected")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 -- path is validated above
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return json.Unmarshal(data, cfg)
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("GRAFANA_MCP_URL"); v != "" {
		cfg.GrafanaMCPURL = v
	}
	if v := os.Getenv("LOKI_MCP_URL"); v != "" {
		cfg.LokiMCPURL = v
	}
	if v := os.Getenv("PROMETHEUS_MCP_URL"); v != "" {
		cfg.PrometheusMCPURL = v
	}
	if v := os.Getenv("GRAFANA_URL"); v != "" {
		cfg.GrafanaURL = v
	}
	if v := os.Getenv("LLM_ENDPOINT"); v != "" {
		cfg.LLMEndpoint = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		var t float64
		if _, err := fmt.Sscanf(v, "%f", &t); err == nil {
			cfg.Temperature = t
		}
	}
	if v := os.Getenv("RCA_MAX_ITERATIONS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.MaxIterations = n
		}
	}
	if v := os.Getenv("RCA_MAX_TOOL_STEPS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.MaxToolSteps = n
		}
	}
	if v := os.Getenv("RCA_INVESTIGATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.InvestigationTimeout = d
		}
	}
	if v := os.Getenv("RCA_REPORT_DIR"); v != "" {
		cfg.ReportDir = v
	}
	if v := os.Getenv("RCA_DOCS_DIR"); v != "" {
		cfg.DocsDir = v
	}
	if v := os.Getenv("RCA_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}
	if v := os.Getenv("RCA_MAX_RETRIES"); v != "" {
		var retries int
		if _, err := fmt.Sscanf(v, "%d", &retries); err == nil {
			cfg.MaxRetries = retries
		}
	}
	if v := os.Getenv("RCA_RATE_LIMIT"); v != "" {
		var limit int
		if _, err := fmt.Sscanf(v, "%d", &limit); err == nil {
			cfg.RateLimit = limit
		}
	}
	if v := os.Getenv("RCA_RATE_LIMIT_BURST"); v != "" {
		var burst int
		if _, err := fmt.Sscanf(v, "%d", &burst); err == nil {
			cfg.RateLimitBurst = burst
		}
	}
	if v := os.Getenv("RCA_ENABLE_RATE_LIMIT"); v != "" {
		cfg.EnableRateLimit = v == "true" || v == "1"
	}
	if v := os.Getenv("RCA_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("RCA_ENABLE_TRACING"); v != "" {
		cfg.EnableTracing = v == "true" || v == "1"
	}
	if v := os.Getenv("RCA_METRICS_ENDPOINT"); v != "" {
		cfg.MetricsEndpoint = v == "true" || v == "1"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.LLMEndpoint == "" {
		return errors.New("LLM_ENDPOINT is required")
	}
	if c.LLMModel == "" {
		return errors.New("LLM_MODEL is required")
	}
	if c.GrafanaMCPURL == "" && c.LokiMCPURL == "" && c.PrometheusMCPURL == "" {
		return errors.New("at least one MCP server URL is required")
	}
	if c.MaxIterations <= 0 {
		return errors.New("max_iterations must be positive")
	}
	if c.MaxToolSteps <= 0 {
		return errors.New("max_tool_steps must be positive")
	}
	if c.InvestigationTimeout <= 0 {
		return errors.New("investigation_timeout must be positive")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries must be non-negative")
	}
	if c.RateLimit <= 0 && c.EnableRateLimit {
		return errors.New("rate_limit must be positive when rate limiting is enabled")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	return nil
}

// Redact returns a copy of the config with sensitive data removed
func (c *Config) Redact() *Config {
	redacted := *c
	if redacted.LLMAPIKey != "" {
		redacted.LLMAPIKey = MaskAPIKey(redacted.LLMAPIKey)
	}
	return &redacted
}

// MaskAPIKey returns a masked version of an API key for safe logging
func MaskAPIKey(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "..." + apiKey[len(apiKey)-4:]
}
