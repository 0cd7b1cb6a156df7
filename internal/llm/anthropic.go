package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-haiku-latest"
	anthropicVersion        = "2023-06-01"
)

// anthropicClient implements the Client interface for the Anthropic messages API.
type anthropicClient struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
}

// newAnthropicClient creates a new Anthropic API client.
func newAnthropicClient(cfg Config) (*anthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic API key is required", common.ErrMissingConfig)
	}

	c := &anthropicClient{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  newHTTPClient(cfg.Timeout),
	}
	if c.model == "" {
		c.model = defaultAnthropicModel
	}
	if c.baseURL == "" {
		c.baseURL = defaultAnthropicBaseURL
	}
	if c.temperature == 0 {
		c.temperature = defaultTemperature
	}
	if c.maxTokens == 0 {
		c.maxTokens = defaultMaxTokens
	}
	return c, nil
}

type anthropicBlock struct {
	Input     json.RawMessage `json:"input,omitempty"`
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicTool struct {
	InputSchema *Schema `json:"input_schema"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	StopReason string           `json:"stop_reason"`
	Content    []anthropicBlock `json:"content"`
}

var emptyObjectSchema = &Schema{Type: "object", Properties: map[string]*Schema{}}

func (c *anthropicClient) buildRequest(req ChatRequest) anthropicRequest {
	body := anthropicRequest{
		Model:       c.model,
		System:      req.System,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	// Tool results travel as user turns; consecutive ones share a message.
	appendBlock := func(role string, block anthropicBlock) {
		if n := len(body.Messages); n > 0 && body.Messages[n-1].Role == role && role == "user" && block.Type == "tool_result" {
			last := &body.Messages[n-1]
			if len(last.Content) > 0 && last.Content[len(last.Content)-1].Type == "tool_result" {
				last.Content = append(last.Content, block)
				return
			}
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: role, Content: []anthropicBlock{block}})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleTool:
			appendBlock("user", anthropicBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content})
		case RoleAssistant:
			msg := anthropicMessage{Role: "assistant"}
			if m.Content != "" {
				msg.Content = append(msg.Content, anthropicBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				msg.Content = append(msg.Content, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: argumentsOrEmpty(tc.Arguments),
				})
			}
			if len(msg.Content) == 0 {
				continue
			}
			body.Messages = append(body.Messages, msg)
		default:
			appendBlock("user", anthropicBlock{Type: "text", Text: m.Content})
		}
	}

	for _, t := range req.Tools {
		schema := t.Parameters
		if schema == nil {
			schema = emptyObjectSchema
		}
		body.Tools = append(body.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return body
}

// Chat sends the conversation to the messages endpoint.
func (c *anthropicClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}

	var response anthropicResponse
	if err := postJSON(ctx, c.httpClient, c.baseURL+"/v1/messages", headers, c.buildRequest(req), &response); err != nil {
		return ChatResponse{}, err
	}
	if len(response.Content) == 0 {
		return ChatResponse{}, fmt.Errorf("%w: no content in response", common.ErrOracle)
	}

	out := ChatResponse{StopReason: response.StopReason}
	var text []string
	for _, block := range response.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: argumentsOrEmpty(block.Input),
			})
		}
	}
	out.Content = strings.Join(text, "\n")
	return out, nil
}
