// Package llm provides the chat-completion client used by every agent in
// the investigation pipeline. The wire format is the OpenAI chat API,
// which both vLLM and llama.cpp style local servers speak.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall // assistant messages only
	ToolCallID string     // tool messages only
	Name       string     // tool name for tool messages
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolSpec describes one tool the model may call. Parameters is a JSON
// schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Client is the completion interface the agents program against.
type Client interface {
	// Complete sends the conversation and returns the next assistant
	// message.
	Complete(ctx context.Context, msgs []Message) (Message, error)
	// WithTools returns a client that advertises the given tools on every
	// completion.
	WithTools(tools []ToolSpec) Client
}

// RateLimitError reports a 429 from the LLM endpoint. The retry wrapper
// keys off this type; nothing else in the pipeline retries completions.
type RateLimitError struct {
	RetryAfter float64 // seconds, 0 when the server did not say
	Body       string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("llm rate limited, retry after %.0fs", e.RetryAfter)
	}
	return "llm rate limited"
}

// SystemMessage is shorthand for a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage is shorthand for a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ToolMessage builds the tool-result turn answering one tool call.
func ToolMessage(call ToolCall, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: call.ID, Name: call.Name}
}

// String renders arguments for logging.
func (tc ToolCall) String() string {
	args, err := json.Marshal(tc.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	return fmt.Sprintf("%s(%s)", tc.Name, string(args))
}
