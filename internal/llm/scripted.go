package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
)

// ScriptStep produces one response from the request it answers.
type ScriptStep func(req ChatRequest) (ChatResponse, error)

// ScriptedClient replays a fixed sequence of responses and records every
// request. It stands in for a real provider in tests and offline demos.
type ScriptedClient struct {
	steps    []ScriptStep
	requests []ChatRequest
	mu       sync.Mutex
}

// NewScriptedClient creates a client that answers with steps in order.
func NewScriptedClient(steps ...ScriptStep) *ScriptedClient {
	return &ScriptedClient{steps: steps}
}

// Then appends more steps.
func (s *ScriptedClient) Then(steps ...ScriptStep) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
	return s
}

// Chat returns the next scripted response.
func (s *ScriptedClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return ChatResponse{}, err
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		s.mu.Unlock()
		return ChatResponse{}, fmt.Errorf("%w: script exhausted", common.ErrOracle)
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	return step(req)
}

// Requests returns a copy of every request received so far.
func (s *ScriptedClient) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatRequest(nil), s.requests...)
}

// Remaining reports how many steps are left.
func (s *ScriptedClient) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

// Reply answers with plain text.
func Reply(text string) ScriptStep {
	return func(ChatRequest) (ChatResponse, error) {
		return ChatResponse{Content: text, StopReason: "stop"}, nil
	}
}

// CallTool answers with a single tool call whose arguments are args encoded as JSON.
func CallTool(id, name string, args any) ScriptStep {
	return func(ChatRequest) (ChatResponse, error) {
		raw, err := json.Marshal(args)
		if err != nil {
			return ChatResponse{}, fmt.Errorf("%w: %w", common.ErrOracle, err)
		}
		return ChatResponse{
			ToolCalls:  []model.ToolCall{{ID: id, Name: name, Arguments: raw}},
			StopReason: "tool_calls",
		}, nil
	}
}

// Fail answers with err.
func Fail(err error) ScriptStep {
	return func(ChatRequest) (ChatResponse, error) {
		return ChatResponse{}, err
	}
}
