package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Veraticus/dompet/internal/model"
)

// Client defines the interface for LLM providers.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// Role is the speaker of a chat message.
type Role string

// Chat roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the running conversation sent to the model.
// Tool messages carry the result of the call named by ToolCallID.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []model.ToolCall
	ToolCallID string
	ToolName   string
}

// Schema is the subset of JSON Schema used to describe tool parameters.
type Schema struct {
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Format      string             `json:"format,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// Tool describes one function the model may call.
type Tool struct {
	Parameters  *Schema
	Name        string
	Description string
}

// ChatRequest is a complete model invocation.
type ChatRequest struct {
	System   string
	Messages []Message
	Tools    []Tool
}

// ChatResponse is either a reply, a set of tool calls, or both.
type ChatResponse struct {
	Content    string
	StopReason string
	ToolCalls  []model.ToolCall
}

// Config holds provider settings.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	APIVersion  string
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	RateLimit   int
	Temperature float64
	MaxTokens   int
}

func argumentsOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
