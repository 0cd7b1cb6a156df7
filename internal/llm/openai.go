package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
)

const (
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultAzureAPIVersion  = "2024-10-21"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultTemperature      = 0.2
	defaultMaxTokens        = 1024
	openAIToolType          = "function"
	openAIContentFilterStop = "content_filter"
)

// openAIClient implements Client for the OpenAI chat completions API.
// With azure set it talks to an Azure OpenAI deployment instead.
type openAIClient struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	apiVersion  string
	temperature float64
	maxTokens   int
	azure       bool
}

// newOpenAIClient creates a new OpenAI API client.
func newOpenAIClient(cfg Config) (*openAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key is required", common.ErrMissingConfig)
	}

	c := &openAIClient{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  newHTTPClient(cfg.Timeout),
	}
	if c.model == "" {
		c.model = defaultOpenAIModel
	}
	if c.baseURL == "" {
		c.baseURL = defaultOpenAIBaseURL
	}
	if c.temperature == 0 {
		c.temperature = defaultTemperature
	}
	if c.maxTokens == 0 {
		c.maxTokens = defaultMaxTokens
	}
	return c, nil
}

// newAzureOpenAIClient creates a client for an Azure OpenAI deployment.
// cfg.Model is the deployment name and cfg.BaseURL the resource endpoint.
func newAzureOpenAIClient(cfg Config) (*openAIClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: Azure OpenAI endpoint (llm.base_url) is required", common.ErrMissingConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: Azure OpenAI deployment (llm.model) is required", common.ErrMissingConfig)
	}
	c, err := newOpenAIClient(cfg)
	if err != nil {
		return nil, err
	}
	c.azure = true
	c.apiVersion = cfg.APIVersion
	if c.apiVersion == "" {
		c.apiVersion = defaultAzureAPIVersion
	}
	return c, nil
}

type openAIFunction struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Parameters  *Schema `json:"parameters,omitempty"`
}

type openAITool struct {
	Function openAIFunction `json:"function"`
	Type     string         `json:"type"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIMessage struct {
	Content    *string          `json:"content"`
	Role       string           `json:"role"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIRequest struct {
	Model       string          `json:"model,omitempty"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

// openAIResponse represents the OpenAI API response structure.
type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
		Index        int           `json:"index"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func strPtr(s string) *string { return &s }

func (c *openAIClient) endpoint() string {
	if c.azure {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiVersion))
	}
	return c.baseURL + "/chat/completions"
}

func (c *openAIClient) headers() map[string]string {
	if c.azure {
		return map[string]string{"api-key": c.apiKey}
	}
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

func (c *openAIClient) buildRequest(req ChatRequest) openAIRequest {
	body := openAIRequest{
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if !c.azure {
		body.Model = c.model
	}
	if req.System != "" {
		body.Messages = append(body.Messages, openAIMessage{Role: "system", Content: strPtr(req.System)})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleTool:
			body.Messages = append(body.Messages, openAIMessage{Role: "tool", ToolCallID: m.ToolCallID, Content: strPtr(m.Content)})
		case RoleAssistant:
			msg := openAIMessage{Role: "assistant"}
			if m.Content != "" || len(m.ToolCalls) == 0 {
				msg.Content = strPtr(m.Content)
			}
			for _, tc := range m.ToolCalls {
				call := openAIToolCall{ID: tc.ID, Type: openAIToolType}
				call.Function.Name = tc.Name
				call.Function.Arguments = string(argumentsOrEmpty(tc.Arguments))
				msg.ToolCalls = append(msg.ToolCalls, call)
			}
			body.Messages = append(body.Messages, msg)
		default:
			body.Messages = append(body.Messages, openAIMessage{Role: "user", Content: strPtr(m.Content)})
		}
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, openAITool{
			Type:     openAIToolType,
			Function: openAIFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	return body
}

// Chat sends the conversation to the chat completions endpoint.
func (c *openAIClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var response openAIResponse
	if err := postJSON(ctx, c.httpClient, c.endpoint(), c.headers(), c.buildRequest(req), &response); err != nil {
		return ChatResponse{}, err
	}

	if len(response.Choices) == 0 {
		return ChatResponse{}, fmt.Errorf("%w: no completion choices returned", common.ErrOracle)
	}
	choice := response.Choices[0]
	if choice.FinishReason == openAIContentFilterStop {
		return ChatResponse{}, fmt.Errorf("%w: response was filtered", common.ErrOracle)
	}

	out := ChatResponse{StopReason: choice.FinishReason}
	if choice.Message.Content != nil {
		out.Content = *choice.Message.Content
	}
	for _, tc := range choice.Message.ToolCalls {
		args := argumentsOrEmpty(json.RawMessage(tc.Function.Arguments))
		if !json.Valid(args) {
			return ChatResponse{}, fmt.Errorf("%w: tool call %s has malformed arguments", common.ErrOracle, tc.Function.Name)
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}
