package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/llm"
	"github.com/Veraticus/dompet/internal/memory"
	"github.com/Veraticus/dompet/internal/model"
	"github.com/Veraticus/dompet/internal/testutil"
)

// fixedNow is 08:30 on 2025-05-01 in UTC+7.
var fixedNow = time.Date(2025, time.May, 1, 1, 30, 0, 0, time.UTC)

type harness struct {
	db     *testutil.TestDB
	memory *memory.MemoryStore
	oracle *llm.ScriptedClient
	runner *Runner
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	db := testutil.SetupTestDB(t)
	mem := memory.NewMemoryStore(time.Hour)
	t.Cleanup(mem.Stop)
	oracle := llm.NewScriptedClient()

	runner, err := NewRunner(Deps{
		Oracle:      oracle,
		Ledger:      db.Store,
		Transcripts: db.Store,
		Memory:      mem,
	}, cfg)
	require.NoError(t, err)
	runner.now = func() time.Time { return fixedNow }

	return &harness{db: db, memory: mem, oracle: oracle, runner: runner}
}

func (h *harness) run(t *testing.T, scope model.Scope, message string) []model.Event {
	t.Helper()
	events, err := h.runner.Run(context.Background(), Turn{Scope: scope, Message: message}, nil)
	require.NoError(t, err)
	return events
}

func (h *harness) memoryOf(t *testing.T, scope model.Scope) model.Memory {
	t.Helper()
	mem, err := h.memory.Get(context.Background(), scope)
	require.NoError(t, err)
	return mem
}

func toolResults(events []model.Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Kind == model.EventToolResult {
			out = append(out, ev.Content)
		}
	}
	return out
}

func TestRunner_InsertThenContextualCorrection(t *testing.T) {
	h := newHarness(t, Config{})
	scope := model.Scope{TenantID: 1, SessionID: "s1"}
	ctx := context.Background()

	other := h.db.MustCreate(1, model.NewTransaction{
		Kind: model.KindExpense, Amount: 250, Description: "Parking", Category: "Transport",
		OccurredOn: model.MustParseDate("2025-04-30"),
	})

	h.oracle.Then(
		llm.CallTool("c1", ToolInsert, map[string]any{
			"tenant_id": 1, "kind": "expense", "amount": 250, "description": "lunch", "category": "food",
		}),
		llm.Reply("Saved your lunch."),
	)
	events := h.run(t, scope, "I spent 250 on lunch")

	require.Len(t, events, 4)
	assert.Equal(t, model.EventMessage, events[0].Kind)
	assert.Equal(t, model.AuthorUser, events[0].Author)
	assert.Equal(t, model.EventToolCall, events[1].Kind)
	assert.Equal(t, model.EventToolResult, events[2].Kind)
	assert.Equal(t, "Saved your lunch.", events[3].Content)
	assert.True(t, events[3].Final)
	assert.NotContains(t, events[2].Content, `"id"`)

	rows := h.db.MustList(1)
	require.Len(t, rows, 2)
	var lunch model.Transaction
	for _, r := range rows {
		if r.Description == "Lunch" {
			lunch = r
		}
	}
	require.NotZero(t, lunch.ID)
	assert.Equal(t, "2025-05-01", lunch.OccurredOn.String(), "date defaults to today in UTC+7")
	assert.Equal(t, lunch.ID, h.memoryOf(t, scope).LastReference)

	h.oracle.Then(
		llm.CallTool("c2", ToolUpdate, map[string]any{
			"tenant_id": 1,
			"target":    map[string]any{"reference": "last"},
			"change":    map[string]any{"amount": 300},
		}),
		llm.Reply("Updated to 300."),
	)
	events = h.run(t, scope, "actually make that 300")

	results := toolResults(events)
	require.Len(t, results, 1)
	assert.Contains(t, results[0], `"state":"applied"`)

	updated, err := h.db.Store.GetTransaction(ctx, model.TenantScope(1), lunch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), updated.Amount)

	untouched, err := h.db.Store.GetTransaction(ctx, model.TenantScope(1), other.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), untouched.Amount)

	// The second turn replays the first one to the oracle.
	requests := h.oracle.Requests()
	require.Len(t, requests, 4)
	second := requests[2]
	require.Len(t, second.Messages, 5)
	assert.Equal(t, llm.RoleUser, second.Messages[0].Role)
	assert.Equal(t, llm.RoleAssistant, second.Messages[1].Role)
	assert.Len(t, second.Messages[1].ToolCalls, 1)
	assert.Equal(t, llm.RoleTool, second.Messages[2].Role)
	assert.Equal(t, "c1", second.Messages[2].ToolCallID)
	assert.Equal(t, "actually make that 300", second.Messages[4].Content)
	assert.Contains(t, second.System, "TODAY_DATE = 2025-05-01")
	assert.Len(t, second.Tools, 4)
}

func TestRunner_TenantsWithSameSessionIDAreIsolated(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	alice := model.Scope{TenantID: 1, SessionID: "shared"}
	bob := model.Scope{TenantID: 2, SessionID: "shared"}

	h.oracle.Then(
		llm.CallTool("c1", ToolInsert, map[string]any{
			"kind": "expense", "amount": 250, "description": "lunch", "category": "food",
		}),
		llm.Reply("Saved."),
	)
	h.run(t, alice, "I spent 250 on lunch")

	h.oracle.Then(
		llm.CallTool("c1", ToolUpdate, map[string]any{
			"target": map[string]any{"reference": "last"},
			"change": map[string]any{"amount": 300},
		}),
		llm.Reply("Which transaction?"),
	)
	events := h.run(t, bob, "actually make that 300")

	results := toolResults(events)
	require.Len(t, results, 1)
	assert.Contains(t, results[0], `"state":"clarify"`)

	rows := h.db.MustList(1)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(250), rows[0].Amount)
	assert.Empty(t, h.db.MustList(2))

	aliceEvents, err := h.db.Store.ListEvents(ctx, alice)
	require.NoError(t, err)
	bobEvents, err := h.db.Store.ListEvents(ctx, bob)
	require.NoError(t, err)
	assert.Len(t, aliceEvents, 4)
	assert.Len(t, bobEvents, 4)
}

func TestRunner_RejectsToolCallForAnotherTenant(t *testing.T) {
	h := newHarness(t, Config{})
	scope := model.Scope{TenantID: 1, SessionID: "s1"}
	victim := h.db.MustCreate(2, model.NewTransaction{
		Kind: model.KindExpense, Amount: 100, Description: "Rent", Category: "Housing",
		OccurredOn: model.MustParseDate("2025-04-01"),
	})

	h.oracle.Then(
		llm.CallTool("c1", ToolUpdate, map[string]any{
			"tenant_id": 2,
			"target":    map[string]any{"match": map[string]any{"description": "rent"}},
			"change":    map[string]any{"amount": 1},
			"confirmed": true,
		}),
		llm.Reply("I can't do that."),
	)
	events := h.run(t, scope, "set tenant 2's rent to 1")

	results := toolResults(events)
	require.Len(t, results, 1)
	assert.Contains(t, results[0], `"error":"scope_violation"`)

	row, err := h.db.Store.GetTransaction(context.Background(), model.TenantScope(2), victim.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), row.Amount)
}

func TestRunner_UnknownToolNeverReachesLedger(t *testing.T) {
	h := newHarness(t, Config{})
	scope := model.Scope{TenantID: 1, SessionID: "s1"}
	h.db.MustCreate(1, model.NewTransaction{
		Kind: model.KindIncome, Amount: 100, Description: "Salary", Category: "Work",
		OccurredOn: model.MustParseDate("2025-04-01"),
	})

	h.oracle.Then(
		llm.CallTool("c1", "execute_sql_query", map[string]any{"sql_query": "DELETE FROM transactions"}),
		llm.Reply("Sorry about that."),
	)
	events := h.run(t, scope, "delete everything")

	results := toolResults(events)
	require.Len(t, results, 1)
	assert.Contains(t, results[0], `"error":"unknown_tool"`)
	assert.Len(t, h.db.MustList(1), 1)
}

func TestRunner_PendingListLifecycle(t *testing.T) {
	seed := func(t *testing.T, h *harness) {
		t.Helper()
		testutil.NewLedgerBuilder(t).
			On(model.MustParseDate("2025-04-20")).Expense(20000, "Coffee", "Food").
			On(model.MustParseDate("2025-04-27")).Expense(22000, "Coffee", "Food").
			Build(context.Background(), h.db.Store, model.TenantScope(1))
	}
	askWhich := []llm.ScriptStep{
		llm.CallTool("c1", ToolUpdate, map[string]any{
			"target": map[string]any{"match": map[string]any{"description": "coffee"}},
			"change": map[string]any{"amount": 25000},
		}),
		llm.Reply("Which one? 1 or 2?"),
	}
	scope := model.Scope{TenantID: 1, SessionID: "s1"}

	t.Run("selection applies the pending change", func(t *testing.T) {
		h := newHarness(t, Config{})
		seed(t, h)

		h.oracle.Then(askWhich...)
		events := h.run(t, scope, "change my coffee to 25000")
		assert.Contains(t, toolResults(events)[0], `"state":"awaiting_selection"`)
		assert.Len(t, h.memoryOf(t, scope).Pending, 2)

		h.oracle.Then(
			llm.CallTool("c2", ToolUpdate, map[string]any{"target": map[string]any{"selection": 2}}),
			llm.Reply("Done."),
		)
		events = h.run(t, scope, "number 2")
		assert.Contains(t, toolResults(events)[0], `"state":"applied"`)

		rows, err := h.db.Store.SearchTransactions(context.Background(), model.TenantScope(1),
			model.Filter{Description: "coffee", Order: model.OrderDateAsc})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(25000), rows[0].Amount, "number 2 is the older row")
		assert.Equal(t, int64(22000), rows[1].Amount)
		assert.False(t, h.memoryOf(t, scope).HasPending())
	})

	t.Run("an unrelated tool call clears the list", func(t *testing.T) {
		h := newHarness(t, Config{})
		seed(t, h)

		h.oracle.Then(askWhich...)
		h.run(t, scope, "change my coffee to 25000")

		h.oracle.Then(
			llm.CallTool("c2", ToolBalance, map[string]any{"tenant_id": 1}),
			llm.Reply("Your balance is -42000."),
		)
		events := h.run(t, scope, "what's my balance?")
		assert.Contains(t, toolResults(events)[0], `"balance":-42000`)
		assert.False(t, h.memoryOf(t, scope).HasPending())
	})

	t.Run("two idle turns clear the list", func(t *testing.T) {
		h := newHarness(t, Config{})
		seed(t, h)

		h.oracle.Then(askWhich...)
		h.run(t, scope, "change my coffee to 25000")

		h.oracle.Then(llm.Reply("Take your time."))
		h.run(t, scope, "hmm")
		mem := h.memoryOf(t, scope)
		assert.True(t, mem.HasPending())
		assert.Equal(t, 1, mem.IdleTurns)

		h.oracle.Then(llm.Reply("Still here."))
		h.run(t, scope, "let me think")
		assert.False(t, h.memoryOf(t, scope).HasPending())
	})
}

func TestRunner_OracleFailureBecomesApology(t *testing.T) {
	h := newHarness(t, Config{})
	scope := model.Scope{TenantID: 1, SessionID: "s1"}

	h.oracle.Then(llm.Fail(errors.New("provider down")))
	events := h.run(t, scope, "hello")

	require.Len(t, events, 2)
	last := events[1]
	assert.Equal(t, model.EventError, last.Kind)
	assert.Equal(t, model.AuthorAssistant, last.Author)
	assert.True(t, last.Final)
	assert.Equal(t, common.UserMessage(errors.New("x")), last.Content)
	assert.NotContains(t, last.Content, "provider down")
}

func TestRunner_StepLimit(t *testing.T) {
	h := newHarness(t, Config{MaxSteps: 2})
	scope := model.Scope{TenantID: 1, SessionID: "s1"}

	h.oracle.Then(
		llm.CallTool("c1", ToolBalance, map[string]any{}),
		llm.CallTool("c2", ToolBalance, map[string]any{}),
		llm.Reply("never reached"),
	)
	events := h.run(t, scope, "balance please")

	last := events[len(events)-1]
	assert.Equal(t, model.EventError, last.Kind)
	assert.Contains(t, last.Content, "more steps")
	assert.Equal(t, 1, h.oracle.Remaining())
}

func TestRunner_EmitsEventsInOrder(t *testing.T) {
	h := newHarness(t, Config{})
	scope := model.Scope{TenantID: 1, SessionID: "s1"}
	h.oracle.Then(llm.CallTool("c1", ToolBalance, nil), llm.Reply("Zero."))

	var emitted []model.Event
	events, err := h.runner.Run(context.Background(), Turn{Scope: scope, Message: "balance?"}, func(ev model.Event) {
		emitted = append(emitted, ev)
	})
	require.NoError(t, err)
	require.Equal(t, events, emitted)
	for i, ev := range emitted {
		assert.Equal(t, i+1, ev.Seq)
		assert.NotEmpty(t, ev.ID)
	}
}

func TestRunner_RejectsInvalidTurns(t *testing.T) {
	h := newHarness(t, Config{})

	tests := []struct {
		turn    Turn
		wantErr error
		name    string
	}{
		{name: "no tenant", turn: Turn{Scope: model.Scope{SessionID: "s"}, Message: "hi"}, wantErr: common.ErrScopeViolation},
		{name: "no session", turn: Turn{Scope: model.Scope{TenantID: 1}, Message: "hi"}, wantErr: common.ErrValidation},
		{name: "blank message", turn: Turn{Scope: model.Scope{TenantID: 1, SessionID: "s"}, Message: "  "}, wantErr: common.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.runner.Run(context.Background(), tt.turn, nil)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, h.oracle.Requests())
}

func TestRunner_MissingDeps(t *testing.T) {
	_, err := NewRunner(Deps{}, Config{})
	require.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestSettleMemory(t *testing.T) {
	pending := func(idle int) model.Memory {
		m := model.Memory{LastReference: 9}
		m.SetPending([]int64{1, 2}, nil)
		m.IdleTurns = idle
		return m
	}

	tests := []struct {
		name        string
		mem         model.Memory
		calledTool  bool
		touched     bool
		wantPending bool
		wantIdle    int
	}{
		{name: "touched keeps the list", mem: pending(0), calledTool: true, touched: true, wantPending: true},
		{name: "other tool clears", mem: pending(0), calledTool: true},
		{name: "first idle turn", mem: pending(0), wantPending: true, wantIdle: 1},
		{name: "second idle turn clears", mem: pending(1)},
		{name: "nothing pending", mem: model.Memory{IdleTurns: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := tt.mem
			settleMemory(&mem, tt.calledTool, tt.touched)
			assert.Equal(t, tt.wantPending, mem.HasPending())
			assert.Equal(t, tt.wantIdle, mem.IdleTurns)
			assert.Equal(t, tt.mem.LastReference, mem.LastReference)
		})
	}
}

func TestToMessages(t *testing.T) {
	args := json.RawMessage(`{}`)
	events := []model.Event{
		{Author: model.AuthorUser, Kind: model.EventMessage, Content: "old"},
		{Author: model.AuthorAssistant, Kind: model.EventMessage, Content: "old reply"},
		{Author: model.AuthorUser, Kind: model.EventMessage, Content: "balance?"},
		{Author: model.AuthorAssistant, Kind: model.EventToolCall, ToolCalls: []model.ToolCall{
			{ID: "a", Name: ToolBalance, Arguments: args},
			{ID: "lost", Name: ToolBalance, Arguments: args},
		}},
		{Author: model.AuthorTool, Kind: model.EventToolResult, ToolCallID: "a", ToolName: ToolBalance, Content: "{}"},
		{Author: model.AuthorAssistant, Kind: model.EventError, Content: "Sorry."},
	}

	t.Run("full history", func(t *testing.T) {
		msgs := toMessages(events, 100)
		require.Len(t, msgs, 6)
		require.Len(t, msgs[3].ToolCalls, 1, "unanswered calls are dropped")
		assert.Equal(t, "a", msgs[3].ToolCalls[0].ID)
		assert.Equal(t, llm.RoleTool, msgs[4].Role)
		assert.Equal(t, llm.RoleAssistant, msgs[5].Role)
	})

	t.Run("trimmed history starts at a user message", func(t *testing.T) {
		msgs := toMessages(events, 5)
		require.Len(t, msgs, 4)
		assert.Equal(t, llm.RoleUser, msgs[0].Role)
		assert.Equal(t, "balance?", msgs[0].Content)
	})
}
