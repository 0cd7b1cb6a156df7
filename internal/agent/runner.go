package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/llm"
	"github.com/Veraticus/dompet/internal/model"
	"github.com/Veraticus/dompet/internal/resolver"
	"github.com/Veraticus/dompet/internal/service"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultAppName      = "dompet"
	DefaultMaxSteps     = 6
	DefaultCurrency     = "IDR"
	DefaultHistoryLimit = 60
)

// Config tunes the turn runner.
type Config struct {
	AppName         string
	Currency        string
	UTCOffsetHours  int
	MaxSteps        int
	HistoryLimit    int
	SearchLimit     int
	AmountTolerance float64
	WriteTimeout    time.Duration
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Oracle      llm.Client
	Ledger      service.Ledger
	Transcripts service.TranscriptStore
	Memory      service.SessionMemory
	Logger      *slog.Logger
}

// Turn is one user message in one tenant session.
type Turn struct {
	Message string
	Scope   model.Scope
}

// EmitFunc receives every event of a turn as soon as it is recorded.
type EmitFunc func(model.Event)

// Runner processes conversational turns.
type Runner struct {
	deps       Deps
	dispatcher *Dispatcher
	prompt     *PromptBuilder
	locks      *sessionLocks
	logger     *slog.Logger
	now        func() time.Time
	cfg        Config
}

// NewRunner wires a Runner from its collaborators.
func NewRunner(deps Deps, cfg Config) (*Runner, error) {
	if deps.Oracle == nil || deps.Ledger == nil || deps.Transcripts == nil || deps.Memory == nil {
		return nil, fmt.Errorf("%w: runner needs an oracle, a ledger, a transcript store and a memory store", common.ErrMissingConfig)
	}
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.UTCOffsetHours == 0 {
		cfg.UTCOffsetHours = model.DefaultUTCOffsetHours
	}

	prompt, err := NewPromptBuilder()
	if err != nil {
		return nil, err
	}

	logger := common.OrDefault(deps.Logger)
	r := &Runner{
		deps:   deps,
		prompt: prompt,
		locks:  newSessionLocks(),
		logger: logger,
		now:    time.Now,
		cfg:    cfg,
	}
	res := resolver.New(deps.Ledger, resolver.Config{
		AmountTolerance: cfg.AmountTolerance,
		SearchLimit:     cfg.SearchLimit,
	}, logger)
	r.dispatcher = NewDispatcher(deps.Ledger, res, r.today, cfg.WriteTimeout, logger)
	return r, nil
}

func (r *Runner) zoneNow() time.Time {
	zone := time.FixedZone(fmt.Sprintf("UTC%+d", r.cfg.UTCOffsetHours), r.cfg.UTCOffsetHours*3600)
	return r.now().In(zone)
}

func (r *Runner) today() model.Date {
	return model.TodayAt(r.now(), r.cfg.UTCOffsetHours)
}

// Run processes one turn. Turns of the same session run one at a time.
// Failures of the oracle or of a tool become an apology event; the returned
// error covers invalid input, cancellation and transcript failures.
func (r *Runner) Run(ctx context.Context, turn Turn, emit EmitFunc) ([]model.Event, error) {
	if err := turn.Scope.ValidateSession(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(turn.Message) == "" {
		return nil, &common.ValidationError{Fields: []common.FieldError{{Field: "message", Message: "must not be empty"}}}
	}
	if emit == nil {
		emit = func(model.Event) {}
	}

	release, err := r.locks.acquire(ctx, turn.Scope.Key())
	if err != nil {
		return nil, err
	}
	defer release()

	scope := turn.Scope
	if _, err := r.deps.Transcripts.EnsureSession(ctx, scope, r.cfg.AppName); err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	history, err := r.deps.Transcripts.ListEvents(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	mem, err := r.deps.Memory.Get(ctx, scope)
	if err != nil {
		r.logger.Warn("Session memory unavailable, starting empty",
			"tenant_id", scope.TenantID,
			"session_id", scope.SessionID,
			"error", err)
		mem = model.Memory{}
	}

	system, err := r.prompt.Build(PromptData{
		Now:      r.zoneNow(),
		Currency: r.cfg.Currency,
		Tools:    ToolNames(),
		TenantID: scope.TenantID,
	})
	if err != nil {
		return nil, err
	}

	t := &turnState{runner: r, scope: scope, emit: emit}
	if err := t.record(ctx, model.Event{
		Author:  model.AuthorUser,
		Kind:    model.EventMessage,
		Content: turn.Message,
	}); err != nil {
		return nil, err
	}

	req := llm.ChatRequest{
		System:   system,
		Messages: append(toMessages(history, r.cfg.HistoryLimit), llm.Message{Role: llm.RoleUser, Content: turn.Message}),
		Tools:    Manifest(),
	}

	var calledTool, touched bool
	runErr := func() error {
		for step := 0; step < r.cfg.MaxSteps; step++ {
			resp, err := r.deps.Oracle.Chat(ctx, req)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Error("Oracle call failed",
					"tenant_id", scope.TenantID,
					"session_id", scope.SessionID,
					"error", err)
				return t.apologize(ctx, err)
			}

			if len(resp.ToolCalls) == 0 {
				return t.record(ctx, model.Event{
					Author:  model.AuthorAssistant,
					Kind:    model.EventMessage,
					Content: resp.Content,
					Final:   true,
				})
			}

			if err := t.record(ctx, model.Event{
				Author:    model.AuthorAssistant,
				Kind:      model.EventToolCall,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			}); err != nil {
				return err
			}
			req.Messages = append(req.Messages, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})

			for _, call := range resp.ToolCalls {
				calledTool = true
				res, _ := r.dispatcher.Dispatch(ctx, scope, &mem, call)
				touched = touched || res.Touched
				if err := t.record(ctx, model.Event{
					Author:     model.AuthorTool,
					Kind:       model.EventToolResult,
					Content:    string(res.Content),
					ToolName:   call.Name,
					ToolCallID: call.ID,
				}); err != nil {
					return err
				}
				req.Messages = append(req.Messages, llm.Message{
					Role:       llm.RoleTool,
					Content:    string(res.Content),
					ToolCallID: call.ID,
					ToolName:   call.Name,
				})
			}
		}

		r.logger.Warn("Turn hit the step limit",
			"tenant_id", scope.TenantID,
			"session_id", scope.SessionID,
			"max_steps", r.cfg.MaxSteps)
		return t.apologize(ctx, common.NewUserError(
			"Sorry, that took more steps than I can handle at once. Could you break it into smaller requests?", nil))
	}()

	settleMemory(&mem, calledTool, touched)
	if err := r.deps.Memory.Put(context.WithoutCancel(ctx), scope, mem); err != nil {
		r.logger.Warn("Failed to save session memory",
			"tenant_id", scope.TenantID,
			"session_id", scope.SessionID,
			"error", err)
	}

	return t.events, runErr
}

// settleMemory applies the end-of-turn lifecycle of the pending list.
func settleMemory(mem *model.Memory, calledTool, touched bool) {
	if !mem.HasPending() {
		mem.IdleTurns = 0
		return
	}
	switch {
	case touched:
	case calledTool:
		mem.ClearPending()
	default:
		mem.IdleTurns++
		if mem.IdleTurns >= model.PendingMaxIdleTurns {
			mem.ClearPending()
		}
	}
}

// turnState accumulates the events of one turn.
type turnState struct {
	runner *Runner
	emit   EmitFunc
	scope  model.Scope
	events []model.Event
}

// record persists ev and hands it to the caller. Persisting survives client
// cancellation so the transcript matches what was applied.
func (t *turnState) record(ctx context.Context, ev model.Event) error {
	if err := t.runner.deps.Transcripts.AppendEvent(context.WithoutCancel(ctx), t.scope, &ev); err != nil {
		return fmt.Errorf("failed to record %s event: %w", ev.Kind, err)
	}
	t.events = append(t.events, ev)
	t.emit(ev)
	return nil
}

func (t *turnState) apologize(ctx context.Context, cause error) error {
	return t.record(ctx, model.Event{
		Author:  model.AuthorAssistant,
		Kind:    model.EventError,
		Content: common.UserMessage(cause),
		Final:   true,
	})
}

// toMessages rebuilds the oracle conversation from a stored transcript,
// keeping at most limit events and starting at a user message.
// Tool calls without a recorded result are dropped.
func toMessages(events []model.Event, limit int) []llm.Message {
	if len(events) > limit {
		events = events[len(events)-limit:]
		for len(events) > 0 && !(events[0].Author == model.AuthorUser && events[0].Kind == model.EventMessage) {
			events = events[1:]
		}
	}

	answered := make(map[string]bool)
	for _, ev := range events {
		if ev.Kind == model.EventToolResult {
			answered[ev.ToolCallID] = true
		}
	}

	messages := make([]llm.Message, 0, len(events))
	for _, ev := range events {
		switch ev.Kind {
		case model.EventMessage, model.EventError:
			role := llm.RoleAssistant
			if ev.Author == model.AuthorUser {
				role = llm.RoleUser
			}
			if ev.Content == "" {
				continue
			}
			messages = append(messages, llm.Message{Role: role, Content: ev.Content})
		case model.EventToolCall:
			var calls []model.ToolCall
			for _, c := range ev.ToolCalls {
				if answered[c.ID] {
					calls = append(calls, c)
				}
			}
			if len(calls) == 0 && ev.Content == "" {
				continue
			}
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: ev.Content, ToolCalls: calls})
		case model.EventToolResult:
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    ev.Content,
				ToolCallID: ev.ToolCallID,
				ToolName:   ev.ToolName,
			})
		}
	}
	return messages
}
