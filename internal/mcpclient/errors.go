package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TransportError marks a failure to reach or talk to an MCP server.
// These are the only errors the client retries.
type TransportError struct {
	Server string
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mcp transport error: server=%s op=%s: %v", e.Server, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ToolError marks a tool invocation that the server executed but the tool
// itself reported as failed. Never retried; the text is surfaced to the
// caller so the LLM can react to it.
type ToolError struct {
	Server string
	Tool   string
	Text   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed on %s: %s", e.Tool, e.Server, e.Text)
}

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// isTransient determines if an error is a retryable transient network failure
func isTransient(err error) bool {
	if err == nil {
		return false
	}

	// Context cancellation is not retryable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// The SDK tags calls issued on a dropped connection; a retry can
	// reopen the session.
	if errors.Is(err, mcp.ErrConnectionClosed) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) ||
			errors.Is(opErr.Err, syscall.ECONNRESET) ||
			errors.Is(opErr.Err, syscall.ENETUNREACH) ||
			errors.Is(opErr.Err, syscall.EHOSTUNREACH) ||
			errors.Is(opErr.Err, syscall.ETIMEDOUT) {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset",
		"connection refused",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"tls handshake timeout",
		"eof",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
