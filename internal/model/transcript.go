package model

import (
	"encoding/json"
	"time"
)

// Author is who produced a transcript event.
type Author string

// Event authors.
const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
	AuthorTool      Author = "tool"
)

// EventKind classifies a transcript event.
type EventKind string

// Event kinds.
const (
	EventMessage    EventKind = "message"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventError      EventKind = "error"
)

// ToolCall is a request by the oracle to run one permitted tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Session is a persisted conversation of one tenant.
type Session struct {
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	ID         string    `json:"id"`
	AppName    string    `json:"app_name"`
	TenantID   int64     `json:"tenant_id"`
	EventCount int       `json:"event_count"`
}

// Event is one entry of a session transcript.
type Event struct {
	CreatedAt  time.Time  `json:"timestamp"`
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Author     Author     `json:"author"`
	Kind       EventKind  `json:"kind"`
	Content    string     `json:"content,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Seq        int        `json:"seq"`
	Final      bool       `json:"final,omitempty"`
}
