package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
)

const defaultGeminiModel = "gemini-2.0-flash"

// geminiClient implements Client on the Google Gen AI SDK.
type geminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

// newGeminiClient creates a Gemini client. Without an API key the SDK falls
// back to its environment configuration (GOOGLE_API_KEY or Vertex AI).
func newGeminiClient(ctx context.Context, cfg Config) (*geminiClient, error) {
	cc := &genai.ClientConfig{
		APIKey: cfg.APIKey,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    cfg.BaseURL,
			APIVersion: cfg.APIVersion,
		},
	}
	if cfg.APIKey != "" {
		cc.Backend = genai.BackendGeminiAPI
	}
	if cfg.Timeout > 0 {
		cc.HTTPClient = newHTTPClient(cfg.Timeout)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create genai client: %w", common.ErrMissingConfig, err)
	}

	c := &geminiClient{
		client:      client,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
	}
	if c.model == "" {
		c.model = defaultGeminiModel
	}
	if c.temperature == 0 {
		c.temperature = defaultTemperature
	}
	if c.maxTokens == 0 {
		c.maxTokens = defaultMaxTokens
	}
	return c, nil
}

func toGenaiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(s.Type)),
		Description: s.Description,
		Format:      s.Format,
		Enum:        s.Enum,
		Required:    s.Required,
		Items:       toGenaiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
	}
	return out
}

func decodeObject(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		// Non-object payloads are wrapped so the model still sees them.
		return map[string]any{"output": string(raw)}
	}
	return out
}

func (c *geminiClient) buildContents(req ChatRequest) []*genai.Content {
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case RoleTool:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       m.ToolCallID,
						Name:     m.ToolName,
						Response: decodeObject(json.RawMessage(m.Content)),
					},
				}},
			})
		case RoleAssistant:
			content := &genai.Content{Role: "model"}
			if m.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: decodeObject(tc.Arguments)},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return contents
}

func (c *geminiClient) buildConfig(req ChatRequest) *genai.GenerateContentConfig {
	temperature := c.temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: c.maxTokens,
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGenaiSchema(t.Parameters),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

// Chat calls GenerateContent with the conversation and function declarations.
func (c *geminiClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, c.buildContents(req), c.buildConfig(req))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return ChatResponse{}, err
		}
		// The SDK does not separate transient from permanent failures reliably.
		return ChatResponse{}, &common.RetryableError{
			Err:       fmt.Errorf("%w: failed to generate content: %w", common.ErrOracle, err),
			Retryable: true,
		}
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ChatResponse{}, fmt.Errorf("%w: no candidates returned", common.ErrOracle)
	}

	candidate := resp.Candidates[0]
	out := ChatResponse{StopReason: string(candidate.FinishReason)}
	var text []string
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return ChatResponse{}, fmt.Errorf("%w: failed to encode function call arguments: %w", common.ErrOracle, err)
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = uuid.NewString()
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: id, Name: part.FunctionCall.Name, Arguments: argumentsOrEmpty(args)})
			continue
		}
		if part.Text != "" {
			text = append(text, part.Text)
		}
	}
	out.Content = strings.Join(text, "")
	return out, nil
}
