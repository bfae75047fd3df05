// Package mcpclient provides the remote tool layer of the RCA agent. It
// connects to Grafana, Loki and Prometheus MCP servers over SSE, invokes
// tools with transport-level retry, and tracks server health through a
// capability registry.
package mcpclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/tareqmamari/rca-agent/internal/metrics"
)

const clientVersion = "1.0.0"

// Options control connection and retry behavior.
type Options struct {
	Timeout      time.Duration // per-connection HTTP timeout
	MaxRetries   int           // retries after the first attempt, transport errors only
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultOptions returns the retry policy used in production.
func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		MaxRetries:   3,
		RetryWaitMin: 1 * time.Second,
		RetryWaitMax: 10 * time.Second,
	}
}

// Client talks to a single MCP server.
type Client struct {
	name    string
	baseURL string
	dial    func() mcp.Transport
	opts    Options
	logger  *zap.Logger
}

// New creates a client for an MCP server reachable at baseURL via SSE.
func New(name, baseURL string, logger *zap.Logger, opts Options) *Client {
	httpClient := &http.Client{Timeout: opts.Timeout}
	endpoint := strings.TrimRight(baseURL, "/") + "/sse"
	return &Client{
		name:    name,
		baseURL: baseURL,
		dial: func() mcp.Transport {
			return &mcp.SSEClientTransport{Endpoint: endpoint, HTTPClient: httpClient}
		},
		opts:   opts,
		logger: logger,
	}
}

// NewWithTransport creates a client with a custom transport factory.
// Used by tests to connect over in-memory transports.
func NewWithTransport(name string, dial func() mcp.Transport, logger *zap.Logger, opts Options) *Client {
	return &Client{name: name, dial: dial, opts: opts, logger: logger}
}

// Name returns the server name this client was created for.
func (c *Client) Name() string { return c.name }

// BaseURL returns the server's base URL, empty for custom transports.
func (c *Client) BaseURL() string { return c.baseURL }

// Session is an open MCP session. Callers that issue many tool calls in a
// row (environment discovery does) hold one session instead of paying the
// handshake per call.
type Session struct {
	c  *Client
	cs *mcp.ClientSession
}

// Close terminates the session.
func (s *Session) Close() error {
	if s == nil || s.cs == nil {
		return nil
	}
	return s.cs.Close()
}

// reconnect replaces a dropped connection behind the same handle, so a
// caller holding the session keeps working after a transport retry.
func (s *Session) reconnect(ctx context.Context) error {
	_ = s.cs.Close()
	cs, err := s.c.connect(ctx)
	if err != nil {
		return err
	}
	s.cs = cs
	return nil
}

func (c *Client) connect(ctx context.Context) (*mcp.ClientSession, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "rca-agent", Version: clientVersion}, nil)
	cs, err := client.Connect(ctx, c.dial(), nil)
	if err != nil {
		return nil, &TransportError{Server: c.name, Op: "connect", Err: err}
	}
	return cs, nil
}

// OpenSession connects to the server and completes the MCP handshake.
func (c *Client) OpenSession(ctx context.Context) (*Session, error) {
	cs, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{c: c, cs: cs}, nil
}

// ListTools returns the names of the tools the server advertises.
func (c *Client) ListTools(ctx context.Context, sess *Session) ([]string, error) {
	owned := false
	if sess == nil {
		var err error
		sess, err = c.OpenSession(ctx)
		if err != nil {
			return nil, err
		}
		owned = true
	}
	if owned {
		defer func() { _ = sess.Close() }()
	}

	res, err := sess.cs.ListTools(ctx, nil)
	if err != nil {
		return nil, &TransportError{Server: c.name, Op: "tools/list", Err: err}
	}
	names := make([]string, 0, len(res.Tools))
	for _, t := range res.Tools {
		names = append(names, t.Name)
	}
	return names, nil
}

// Result is the normalized outcome of a tool invocation.
type Result struct {
	Content []ContentPart
	IsError bool
}

// ContentPart is one element of a tool result.
type ContentPart struct {
	Type     string // text, image or resource
	Text     string
	MIMEType string
	Data     []byte
	URI      string
}

// Text concatenates all text parts of the result.
func (r *Result) Text() string {
	var parts []string
	for _, p := range r.Content {
		if p.Type == "text" && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Invoke calls a tool on the server. Transport failures are retried with
// exponential backoff; results the tool itself flagged as errors are
// returned as a *ToolError without retrying, since re-running a bad query
// cannot fix it.
//
// When sess is nil a fresh session is opened and closed per attempt.
func (c *Client) Invoke(ctx context.Context, sess *Session, tool string, args map[string]any) (*Result, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.RecordTransportRetry(c.name)
			shift := min(attempt-1, 30)
			waitTime := c.opts.RetryWaitMin * time.Duration(1<<shift)
			if waitTime > c.opts.RetryWaitMax {
				waitTime = c.opts.RetryWaitMax
			}

			c.logger.Debug("Retrying tool call",
				zap.String("server", c.name),
				zap.String("tool", tool),
				zap.Int("attempt", attempt),
				zap.Duration("wait", waitTime),
			)

			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		res, err := c.callOnce(ctx, sess, tool, args)
		if err != nil {
			lastErr = err
			if IsTransportError(err) && isTransient(err) {
				// A held session may itself be the dead transport;
				// reopen it before the next attempt.
				if sess != nil {
					if rerr := sess.reconnect(ctx); rerr != nil {
						lastErr = rerr
					}
				}
				continue
			}
			return nil, err
		}

		if res.IsError {
			return res, &ToolError{Server: c.name, Tool: tool, Text: res.Text()}
		}
		return res, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) callOnce(ctx context.Context, sess *Session, tool string, args map[string]any) (*Result, error) {
	owned := false
	if sess == nil {
		var err error
		sess, err = c.OpenSession(ctx)
		if err != nil {
			return nil, err
		}
		owned = true
	}
	if owned {
		defer func() { _ = sess.Close() }()
	}

	startTime := time.Now()
	res, err := sess.cs.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("Tool call failed",
			zap.String("server", c.name),
			zap.String("tool", tool),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, &TransportError{Server: c.name, Op: "tools/call " + tool, Err: err}
	}

	c.logger.Debug("Tool call completed",
		zap.String("server", c.name),
		zap.String("tool", tool),
		zap.Duration("duration", duration),
		zap.Bool("is_error", res.IsError),
	)

	return normalize(res), nil
}

// normalize flattens the SDK content union into ContentParts.
func normalize(res *mcp.CallToolResult) *Result {
	out := &Result{IsError: res.IsError}
	for _, content := range res.Content {
		switch c := content.(type) {
		case *mcp.TextContent:
			out.Content = append(out.Content, ContentPart{Type: "text", Text: c.Text})
		case *mcp.ImageContent:
			out.Content = append(out.Content, ContentPart{Type: "image", MIMEType: c.MIMEType, Data: c.Data})
		case *mcp.EmbeddedResource:
			part := ContentPart{Type: "resource"}
			if c.Resource != nil {
				part.URI = c.Resource.URI
				part.MIMEType = c.Resource.MIMEType
				part.Text = c.Resource.Text
				part.Data = c.Resource.Blob
			}
			out.Content = append(out.Content, part)
		}
	}
	return out
}
