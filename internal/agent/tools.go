package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/llm"
	"github.com/Veraticus/dompet/internal/model"
	"github.com/Veraticus/dompet/internal/resolver"
	"github.com/Veraticus/dompet/internal/service"
)

// Permitted tool names. Nothing outside this set reaches the ledger.
const (
	ToolSearch  = "search_transactions"
	ToolInsert  = "insert_transaction"
	ToolUpdate  = "update_transaction"
	ToolBalance = "get_balance"
)

// DefaultWriteTimeout bounds a mutating tool call once it has started.
const DefaultWriteTimeout = 10 * time.Second

// Result is the outcome of one dispatched tool call.
// Content is the JSON sent back to the oracle and never contains row ids.
type Result struct {
	Content json.RawMessage
	// Touched is set when the call consumed, replaced or re-showed the pending list.
	Touched bool
	Mutated bool
}

// Dispatcher validates tool calls from the oracle and runs them against the ledger.
type Dispatcher struct {
	ledger       service.Ledger
	resolver     *resolver.Resolver
	logger       *slog.Logger
	today        func() model.Date
	writeTimeout time.Duration
}

// NewDispatcher creates a Dispatcher. today supplies the default date for inserts.
func NewDispatcher(ledger service.Ledger, res *resolver.Resolver, today func() model.Date, writeTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Dispatcher{
		ledger:       ledger,
		resolver:     res,
		logger:       common.OrDefault(logger),
		today:        today,
		writeTimeout: writeTimeout,
	}
}

// Dispatch runs one tool call for scope. On failure the returned Result still
// carries a JSON error body fit for the oracle.
func (d *Dispatcher) Dispatch(ctx context.Context, scope model.Scope, mem *model.Memory, call model.ToolCall) (Result, error) {
	res, err := d.dispatch(ctx, scope, mem, call)
	if err != nil {
		d.logger.Warn("Tool call rejected",
			"tenant_id", scope.TenantID,
			"session_id", scope.SessionID,
			"tool", call.Name,
			"error", err)
		res.Content = errorContent(err)
		return res, err
	}
	d.logger.Debug("Tool call completed",
		"tenant_id", scope.TenantID,
		"session_id", scope.SessionID,
		"tool", call.Name,
		"mutated", res.Mutated)
	return res, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, scope model.Scope, mem *model.Memory, call model.ToolCall) (Result, error) {
	if err := scope.ValidateSession(); err != nil {
		return Result{}, err
	}
	if mem == nil {
		return Result{}, fmt.Errorf("%w: memory is required", common.ErrValidation)
	}

	switch call.Name {
	case ToolSearch:
		var args searchArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return Result{}, err
		}
		if err := checkTenant(args.TenantID, scope); err != nil {
			return Result{}, err
		}
		return d.search(ctx, scope, mem, args)

	case ToolInsert:
		var args insertArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return Result{}, err
		}
		if err := checkTenant(args.TenantID, scope); err != nil {
			return Result{}, err
		}
		wctx, cancel := d.writeContext(ctx)
		defer cancel()
		return d.insert(wctx, scope, mem, args)

	case ToolUpdate:
		var args updateArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return Result{}, err
		}
		if err := checkTenant(args.TenantID, scope); err != nil {
			return Result{}, err
		}
		wctx, cancel := d.writeContext(ctx)
		defer cancel()
		return d.update(wctx, scope, mem, args)

	case ToolBalance:
		var args balanceArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return Result{}, err
		}
		if err := checkTenant(args.TenantID, scope); err != nil {
			return Result{}, err
		}
		return d.balance(ctx, scope)

	default:
		return Result{}, fmt.Errorf("%w: %q", common.ErrUnknownTool, call.Name)
	}
}

// writeContext detaches a mutation from client cancellation but keeps it bounded.
func (d *Dispatcher) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d.writeTimeout)
}

type searchArgs struct {
	TenantID    *int64        `json:"tenant_id"`
	Amount      *int64        `json:"amount"`
	AmountMin   *int64        `json:"amount_min"`
	AmountMax   *int64        `json:"amount_max"`
	Date        *model.Date   `json:"date"`
	DateFrom    *model.Date   `json:"date_from"`
	DateTo      *model.Date   `json:"date_to"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	Kind        string        `json:"kind"`
	Order       model.Order   `json:"order"`
	GroupBy     model.GroupBy `json:"group_by"`
	Limit       int           `json:"limit"`
}

type insertArgs struct {
	TenantID    *int64      `json:"tenant_id"`
	Amount      *int64      `json:"amount"`
	Date        *model.Date `json:"date"`
	Kind        string      `json:"kind"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
}

type updateArgs struct {
	TenantID  *int64          `json:"tenant_id"`
	Target    resolver.Target `json:"target"`
	Change    model.Patch     `json:"change"`
	Confirmed bool            `json:"confirmed"`
}

type balanceArgs struct {
	TenantID *int64 `json:"tenant_id"`
}

func (d *Dispatcher) search(ctx context.Context, scope model.Scope, mem *model.Memory, args searchArgs) (Result, error) {
	filter := model.Filter{
		Description: args.Description,
		Category:    args.Category,
		Amount:      args.Amount,
		AmountMin:   args.AmountMin,
		AmountMax:   args.AmountMax,
		Date:        args.Date,
		DateFrom:    args.DateFrom,
		DateTo:      args.DateTo,
		Order:       args.Order,
		GroupBy:     args.GroupBy,
		Limit:       args.Limit,
	}
	if args.Kind != "" {
		kind, err := model.ParseKind(args.Kind)
		if err != nil {
			return Result{}, err
		}
		filter.Kind = kind
	}

	if filter.GroupBy != "" {
		groups, err := d.ledger.GroupTransactions(ctx, scope, filter)
		if err != nil {
			return Result{}, err
		}
		return encodeResult(Result{}, map[string]any{
			"group_by": filter.GroupBy,
			"groups":   groups,
		})
	}

	rows, err := d.ledger.SearchTransactions(ctx, scope, filter)
	if err != nil {
		return Result{}, err
	}

	res := Result{}
	views := make([]resolver.Candidate, len(rows))
	switch len(rows) {
	case 0:
	case 1:
		mem.ClearPending()
		mem.Remember(rows[0].ID)
		views[0] = resolver.CandidateOf(rows[0], 1)
		res.Touched = true
	default:
		ids := make([]int64, len(rows))
		for i, row := range rows {
			ids[i] = row.ID
			views[i] = resolver.CandidateOf(row, i+1)
		}
		mem.SetPending(ids, nil)
		res.Touched = true
	}

	return encodeResult(res, map[string]any{
		"count":        len(rows),
		"transactions": views,
	})
}

func (d *Dispatcher) insert(ctx context.Context, scope model.Scope, mem *model.Memory, args insertArgs) (Result, error) {
	verr := &common.ValidationError{}
	kind, err := model.ParseKind(args.Kind)
	if err != nil {
		verr.Add("kind", "must be income or expense")
	}
	if args.Amount == nil {
		verr.Add("amount", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return Result{}, err
	}

	date := d.today()
	if args.Date != nil && !args.Date.IsZero() {
		date = *args.Date
	}

	txn, err := d.ledger.CreateTransaction(ctx, scope, model.NewTransaction{
		Kind:        kind,
		Amount:      *args.Amount,
		Description: args.Description,
		Category:    args.Category,
		OccurredOn:  date,
	})
	if err != nil {
		return Result{}, err
	}
	mem.Remember(txn.ID)

	return encodeResult(Result{Mutated: true}, map[string]any{
		"status":      "created",
		"transaction": resolver.CandidateOf(*txn, 0),
	})
}

func (d *Dispatcher) update(ctx context.Context, scope model.Scope, mem *model.Memory, args updateArgs) (Result, error) {
	change, err := normalizePatch(args.Change)
	if err != nil {
		return Result{}, err
	}
	target := args.Target
	if target.Match != nil {
		match := *target.Match
		if match.Kind != "" {
			kind, err := model.ParseKind(string(match.Kind))
			if err != nil {
				return Result{}, err
			}
			match.Kind = kind
		}
		target.Match = &match
	}
	if target.Reference != "" && target.Reference != resolver.ReferenceLast {
		return Result{}, &common.ValidationError{Fields: []common.FieldError{{Field: "target.reference", Message: `must be "last"`}}}
	}

	out, err := d.resolver.Resolve(ctx, scope, mem, resolver.EditRequest{
		Change:    change,
		Target:    target,
		Confirmed: args.Confirmed,
	})
	if err != nil {
		return Result{}, err
	}

	body := struct {
		Message string `json:"message,omitempty"`
		resolver.Outcome
	}{Outcome: out}
	if out.Err != nil {
		body.Message = common.UserMessage(out.Err)
	}
	return encodeResult(Result{Touched: true, Mutated: out.Mutated()}, body)
}

func (d *Dispatcher) balance(ctx context.Context, scope model.Scope) (Result, error) {
	b, err := d.ledger.Balance(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	return encodeResult(Result{}, b)
}

// normalizePatch accepts kinds in any case.
func normalizePatch(p model.Patch) (model.Patch, error) {
	if p.Kind != nil {
		kind, err := model.ParseKind(string(*p.Kind))
		if err != nil {
			return model.Patch{}, err
		}
		p.Kind = &kind
	}
	return p, nil
}

// decodeArgs decodes raw strictly: unknown fields and trailing data are rejected.
func decodeArgs(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, common.ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: invalid tool arguments: %w", common.ErrValidation, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid tool arguments: trailing data", common.ErrValidation)
	}
	return nil
}

// checkTenant rejects a call that names a tenant other than the turn's.
// A call that omits the tenant runs under the turn's scope.
func checkTenant(tenantID *int64, scope model.Scope) error {
	if tenantID != nil && *tenantID != scope.TenantID {
		return fmt.Errorf("%w: tool call names tenant %d but the turn belongs to tenant %d",
			common.ErrScopeViolation, *tenantID, scope.TenantID)
	}
	return nil
}

func encodeResult(res Result, body any) (Result, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode tool result: %w", err)
	}
	res.Content = raw
	return res, nil
}

// errorContent renders err for the oracle without internal detail.
func errorContent(err error) json.RawMessage {
	body := struct {
		Code    string              `json:"error"`
		Message string              `json:"message"`
		Fields  []common.FieldError `json:"fields,omitempty"`
	}{
		Code:    errorCode(err),
		Message: common.UserMessage(err),
	}
	var verr *common.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}
	if errors.Is(err, common.ErrUnknownTool) {
		body.Message = "That tool does not exist. Use only " + strings.Join(ToolNames(), ", ") + "."
	}
	raw, _ := json.Marshal(body)
	return raw
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, common.ErrUnknownTool):
		return "unknown_tool"
	case errors.Is(err, common.ErrScopeViolation):
		return "scope_violation"
	case errors.Is(err, common.ErrValidation):
		return "validation_failed"
	case errors.Is(err, common.ErrNotFound):
		return "not_found"
	case errors.Is(err, common.ErrStorage), errors.Is(err, context.DeadlineExceeded):
		return "storage_error"
	default:
		return "internal_error"
	}
}

// ToolNames lists the permitted tools.
func ToolNames() []string {
	return []string{ToolSearch, ToolInsert, ToolUpdate, ToolBalance}
}

// Manifest describes the permitted tools to the oracle.
func Manifest() []llm.Tool {
	str := func(desc string) *llm.Schema { return &llm.Schema{Type: "string", Description: desc} }
	integer := func(desc string) *llm.Schema { return &llm.Schema{Type: "integer", Description: desc} }
	date := func(desc string) *llm.Schema { return &llm.Schema{Type: "string", Format: "date", Description: desc} }
	kind := &llm.Schema{Type: "string", Enum: []string{string(model.KindIncome), string(model.KindExpense)}}
	tenant := integer("The current user's tenant id.")

	criteria := &llm.Schema{
		Type:        "object",
		Description: "What the user said about the transaction. Use only details the user gave.",
		Properties: map[string]*llm.Schema{
			"description": str("Part of the description, matched case-insensitively."),
			"category":    str("Part of the category."),
			"kind":        kind,
			"amount":      integer("Approximate amount; nearby amounts also match."),
			"date":        date("Exact date, YYYY-MM-DD."),
			"date_from":   date("Earliest date, YYYY-MM-DD."),
			"date_to":     date("Latest date, YYYY-MM-DD."),
		},
	}
	change := &llm.Schema{
		Type:        "object",
		Description: "New values. Leave out fields that do not change.",
		Properties: map[string]*llm.Schema{
			"kind":        kind,
			"amount":      integer("New amount in the smallest currency unit."),
			"description": str("New description."),
			"category":    str("New category."),
			"date":        date("New date, YYYY-MM-DD."),
		},
	}

	return []llm.Tool{
		{
			Name:        ToolSearch,
			Description: "Find the user's transactions, or total them by category, kind or month when group_by is set. Results are numbered.",
			Parameters: &llm.Schema{
				Type: "object",
				Properties: map[string]*llm.Schema{
					"tenant_id":   tenant,
					"description": str("Part of the description, matched case-insensitively."),
					"category":    str("Part of the category."),
					"kind":        kind,
					"amount":      integer("Exact amount."),
					"amount_min":  integer("Smallest amount."),
					"amount_max":  integer("Largest amount."),
					"date":        date("Exact date, YYYY-MM-DD."),
					"date_from":   date("Earliest date, YYYY-MM-DD."),
					"date_to":     date("Latest date, YYYY-MM-DD."),
					"order": {Type: "string", Enum: []string{
						string(model.OrderDateDesc), string(model.OrderDateAsc),
						string(model.OrderAmountDesc), string(model.OrderAmountAsc),
					}},
					"group_by": {Type: "string", Enum: []string{
						string(model.GroupByCategory), string(model.GroupByKind), string(model.GroupByMonth),
					}},
					"limit": integer("Maximum number of rows."),
				},
			},
		},
		{
			Name:        ToolInsert,
			Description: "Record a new income or expense. The date defaults to today.",
			Parameters: &llm.Schema{
				Type: "object",
				Properties: map[string]*llm.Schema{
					"tenant_id":   tenant,
					"kind":        kind,
					"amount":      integer("Amount in the smallest currency unit."),
					"description": str("What the money was for."),
					"category":    str("A short category label."),
					"date":        date("Date, YYYY-MM-DD."),
				},
				Required: []string{"kind", "amount", "description", "category"},
			},
		},
		{
			Name: ToolUpdate,
			Description: "Change an existing transaction the user refers to. Name it with target.reference \"last\" for the one just discussed, " +
				"target.selection for a number from the last list, target.affirm when the user said yes, or target.match with details. " +
				"Follow the returned state and hint.",
			Parameters: &llm.Schema{
				Type: "object",
				Properties: map[string]*llm.Schema{
					"tenant_id": tenant,
					"target": {
						Type: "object",
						Properties: map[string]*llm.Schema{
							"reference": {Type: "string", Enum: []string{resolver.ReferenceLast}},
							"selection": integer("Number the user picked from the last list."),
							"affirm":    {Type: "boolean", Description: "The user confirmed the single shown transaction."},
							"match":     criteria,
						},
					},
					"change":    change,
					"confirmed": {Type: "boolean", Description: "The user's message already confirmed the change."},
				},
				Required: []string{"target"},
			},
		},
		{
			Name:        ToolBalance,
			Description: "Get the user's balance, total income and total expense.",
			Parameters: &llm.Schema{
				Type:       "object",
				Properties: map[string]*llm.Schema{"tenant_id": tenant},
			},
		},
	}
}
