// Package resolver maps an edit or reference intent onto at most one ledger
// row. It asks for a selection or confirmation rather than guess, and it
// never exposes row ids to the caller's user-facing output.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
	"github.com/Veraticus/dompet/internal/service"
)

// State is the terminal state of one resolution.
type State string

// Resolution states.
const (
	StateApplied              State = "applied"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateAwaitingSelection    State = "awaiting_selection"
	StateSelected             State = "selected"
	StateNotFound             State = "not_found"
	StateReprompt             State = "reprompt"
	StateClarify              State = "clarify"
)

// ReferenceLast points at the most recently discussed transaction ("it", "that").
const ReferenceLast = "last"

// Defaults used when Config leaves a field zero.
const (
	DefaultAmountTolerance = 0.05
	DefaultSearchLimit     = 5
)

// Criteria describes a transaction the user named without an id.
type Criteria struct {
	Amount      *int64      `json:"amount,omitempty"`
	Date        *model.Date `json:"date,omitempty"`
	DateFrom    *model.Date `json:"date_from,omitempty"`
	DateTo      *model.Date `json:"date_to,omitempty"`
	Description string      `json:"description,omitempty"`
	Category    string      `json:"category,omitempty"`
	Kind        model.Kind  `json:"kind,omitempty"`
}

// IsEmpty reports whether no criterion is set.
func (c Criteria) IsEmpty() bool {
	return c.Amount == nil && c.Date == nil && c.DateFrom == nil && c.DateTo == nil &&
		strings.TrimSpace(c.Description) == "" && strings.TrimSpace(c.Category) == "" && c.Kind == ""
}

// Specific reports whether description, amount and date are all given.
func (c Criteria) Specific() bool {
	return strings.TrimSpace(c.Description) != "" && c.Amount != nil && c.Date != nil
}

// Target says which row the user means.
type Target struct {
	Match     *Criteria `json:"match,omitempty"`
	Reference string    `json:"reference,omitempty"`
	Selection int       `json:"selection,omitempty"`
	Affirm    bool      `json:"affirm,omitempty"`
}

// EditRequest is one edit or reference intent.
type EditRequest struct {
	Change    model.Patch `json:"change"`
	Target    Target      `json:"target"`
	Confirmed bool        `json:"confirmed,omitempty"`
}

// Candidate is a transaction as shown to the user: numbered, without its id.
type Candidate struct {
	Date        model.Date `json:"date"`
	Kind        model.Kind `json:"kind"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Number      int        `json:"number,omitempty"`
	Amount      int64      `json:"amount"`
}

// CandidateOf renders txn for display under number (0 for none).
func CandidateOf(txn model.Transaction, number int) Candidate {
	return Candidate{
		Number:      number,
		Kind:        txn.Kind,
		Amount:      txn.Amount,
		Description: txn.Description,
		Category:    txn.Category,
		Date:        txn.OccurredOn,
	}
}

// Outcome is the result of one resolution.
type Outcome struct {
	Err         error       `json:"-"`
	Transaction *Candidate  `json:"transaction,omitempty"`
	State       State       `json:"state"`
	Hint        string      `json:"hint"`
	Candidates  []Candidate `json:"candidates,omitempty"`
	rowID       int64
}

// RowID is the id of the applied or selected row, for operator logs only.
func (o Outcome) RowID() int64 {
	return o.rowID
}

// Mutated reports whether the ledger was written.
func (o Outcome) Mutated() bool {
	return o.State == StateApplied
}

// Config tunes matching.
type Config struct {
	AmountTolerance float64
	SearchLimit     int
}

// Resolver runs the disambiguation state machine against a ledger.
type Resolver struct {
	ledger    service.Ledger
	logger    *slog.Logger
	tolerance float64
	limit     int
}

// New creates a Resolver.
func New(ledger service.Ledger, cfg Config, logger *slog.Logger) *Resolver {
	if cfg.AmountTolerance <= 0 {
		cfg.AmountTolerance = DefaultAmountTolerance
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}
	return &Resolver{
		ledger:    ledger,
		logger:    common.OrDefault(logger),
		tolerance: cfg.AmountTolerance,
		limit:     cfg.SearchLimit,
	}
}

// Resolve advances mem by one turn for req. Ambiguity is reported through
// the outcome's state; the returned error means the ledger call itself failed
// or the request was invalid, and in that case no row was changed.
func (r *Resolver) Resolve(ctx context.Context, scope model.Scope, mem *model.Memory, req EditRequest) (Outcome, error) {
	if err := scope.Validate(); err != nil {
		return Outcome{}, err
	}
	if mem == nil {
		return Outcome{}, fmt.Errorf("%w: memory is required", common.ErrValidation)
	}
	if !req.Change.IsEmpty() {
		if err := req.Change.Validate(); err != nil {
			return Outcome{}, err
		}
	}

	out, err := r.resolve(ctx, scope, mem, req)
	if err != nil {
		return Outcome{}, err
	}
	r.logger.Debug("Resolved edit intent",
		"tenant_id", scope.TenantID,
		"session_id", scope.SessionID,
		"state", out.State,
		"row_id", out.rowID)
	return out, nil
}

func (r *Resolver) resolve(ctx context.Context, scope model.Scope, mem *model.Memory, req EditRequest) (Outcome, error) {
	target := req.Target

	// Awaiting selection: an index pick or a bare "yes".
	if mem.HasPending() && (target.Selection > 0 || target.Affirm) {
		return r.pick(ctx, scope, mem, req)
	}
	if target.Selection > 0 {
		return Outcome{
			State: StateClarify,
			Hint:  "There is no numbered list to choose from. Ask the user which transaction they mean.",
		}, nil
	}

	if target.Match != nil && !target.Match.IsEmpty() {
		return r.search(ctx, scope, mem, req)
	}

	if mem.HasPending() {
		if !req.Change.IsEmpty() {
			merged := pendingChange(mem).Merge(req.Change)
			mem.PendingChange = &merged
		}
		return r.reprompt(ctx, scope, mem)
	}

	if mem.LastReference != 0 {
		txn, err := r.ledger.GetTransaction(ctx, scope, mem.LastReference)
		switch {
		case err == nil:
			return r.act(ctx, scope, mem, *txn, req.Change)
		case errors.Is(err, common.ErrNotFound):
			r.logger.Debug("Last reference no longer exists", "tenant_id", scope.TenantID, "row_id", mem.LastReference)
			mem.Forget()
		default:
			return Outcome{}, err
		}
	}

	return Outcome{
		State: StateClarify,
		Hint:  "It is not clear which transaction is meant. Ask for its description, amount or date.",
	}, nil
}

// pick consumes the pending list with the user's selection.
func (r *Resolver) pick(ctx context.Context, scope model.Scope, mem *model.Memory, req EditRequest) (Outcome, error) {
	var id int64
	var ok bool
	if req.Target.Selection > 0 {
		id, ok = mem.Pick(req.Target.Selection)
	} else if len(mem.Pending) == 1 {
		id, ok = mem.Pending[0].ID, true
	}
	if !ok {
		return r.reprompt(ctx, scope, mem)
	}

	change := pendingChange(mem).Merge(req.Change)
	txn, err := r.ledger.GetTransaction(ctx, scope, id)
	if errors.Is(err, common.ErrNotFound) {
		mem.ClearPending()
		if mem.LastReference == id {
			mem.Forget()
		}
		return Outcome{
			State: StateNotFound,
			Hint:  "That transaction no longer exists. Ask the user to describe it again.",
		}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	out, err := r.act(ctx, scope, mem, *txn, change)
	if err != nil {
		return Outcome{}, err
	}
	mem.ClearPending()
	return out, nil
}

// search looks rows up by criteria and decides whether it may act on them.
func (r *Resolver) search(ctx context.Context, scope model.Scope, mem *model.Memory, req EditRequest) (Outcome, error) {
	criteria := *req.Target.Match
	hits, err := r.ledger.SearchTransactions(ctx, scope, r.filterFor(criteria))
	if err != nil {
		return Outcome{}, err
	}

	change := req.Change
	confirmed := req.Confirmed
	if mem.HasPending() {
		if narrowed := keepPending(hits, mem.Pending); len(narrowed) > 0 {
			// A clarifying answer to the open list.
			hits = narrowed
			change = pendingChange(mem).Merge(req.Change)
			confirmed = confirmed || len(narrowed) == 1
		}
	}

	if len(hits) == 0 {
		mem.ClearPending()
		return Outcome{
			State: StateNotFound,
			Hint:  "No matching transaction was found. Ask for more detail such as the date or amount.",
		}, nil
	}

	if req.Target.Reference == ReferenceLast && mem.LastReference != 0 {
		for _, h := range hits {
			if h.ID == mem.LastReference {
				mem.ClearPending()
				return r.act(ctx, scope, mem, h, change)
			}
		}
	}

	if len(hits) > 1 && criteria.Specific() {
		if exact := exactMatches(hits, criteria); len(exact) == 1 {
			hits = exact
			confirmed = true
		}
	}

	if len(hits) == 1 {
		hit := hits[0]
		if change.IsEmpty() || confirmed || (criteria.Specific() && len(exactMatches(hits, criteria)) == 1) {
			mem.ClearPending()
			return r.act(ctx, scope, mem, hit, change)
		}
		mem.SetPending([]int64{hit.ID}, &change)
		mem.Remember(hit.ID)
		c := CandidateOf(hit, 1)
		return Outcome{
			State:       StateAwaitingConfirmation,
			Transaction: &c,
			Candidates:  []Candidate{c},
			Hint:        "Show this transaction and ask the user to confirm before changing it.",
			rowID:       hit.ID,
		}, nil
	}

	ids := make([]int64, len(hits))
	candidates := make([]Candidate, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		candidates[i] = CandidateOf(h, i+1)
	}
	var pending *model.Patch
	if !change.IsEmpty() {
		pending = &change
	}
	mem.SetPending(ids, pending)
	return Outcome{
		State:      StateAwaitingSelection,
		Candidates: candidates,
		Hint:       "Several transactions match. Show the numbered list and ask which one.",
	}, nil
}

// act applies change to txn, or only surfaces it when there is no change.
func (r *Resolver) act(ctx context.Context, scope model.Scope, mem *model.Memory, txn model.Transaction, change model.Patch) (Outcome, error) {
	if change.IsEmpty() {
		mem.Remember(txn.ID)
		c := CandidateOf(txn, 0)
		return Outcome{
			State:       StateSelected,
			Transaction: &c,
			Hint:        "This is the transaction being discussed. Ask what should change if that is unclear.",
			rowID:       txn.ID,
		}, nil
	}

	updated, err := r.ledger.UpdateTransaction(ctx, scope, txn.ID, change)
	if errors.Is(err, common.ErrNotFound) {
		if mem.LastReference == txn.ID {
			mem.Forget()
		}
		return Outcome{
			State: StateNotFound,
			Hint:  "That transaction no longer exists. Ask the user to describe it again.",
		}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	mem.Remember(updated.ID)
	c := CandidateOf(*updated, 0)
	return Outcome{
		State:       StateApplied,
		Transaction: &c,
		Hint:        "The change was saved. Confirm it to the user.",
		rowID:       updated.ID,
	}, nil
}

// reprompt re-shows the open list without changing anything.
func (r *Resolver) reprompt(ctx context.Context, scope model.Scope, mem *model.Memory) (Outcome, error) {
	candidates := make([]Candidate, 0, len(mem.Pending))
	for _, p := range mem.Pending {
		txn, err := r.ledger.GetTransaction(ctx, scope, p.ID)
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			return Outcome{}, err
		}
		candidates = append(candidates, CandidateOf(*txn, p.Index))
	}
	return Outcome{
		State:      StateReprompt,
		Candidates: candidates,
		Hint:       "The choice did not match the list. Show the numbered list again and ask the user to pick one.",
		Err:        common.ErrAmbiguityUnresolved,
	}, nil
}

func (r *Resolver) filterFor(c Criteria) model.Filter {
	f := model.Filter{
		Description: c.Description,
		Category:    c.Category,
		Kind:        c.Kind,
		Date:        c.Date,
		DateFrom:    c.DateFrom,
		DateTo:      c.DateTo,
		Limit:       r.limit,
	}
	if c.Amount != nil {
		lo, hi := amountRange(*c.Amount, r.tolerance)
		f.AmountMin, f.AmountMax = &lo, &hi
	}
	return f
}

// amountRange widens amount by tolerance in both directions, saturating at the int64 limits.
func amountRange(amount int64, tolerance float64) (int64, int64) {
	spread := math.Round(math.Abs(float64(amount)) * tolerance)
	if spread >= math.MaxInt64 {
		return math.MinInt64, math.MaxInt64
	}
	delta := int64(spread)
	lo, hi := amount-delta, amount+delta
	if lo > amount {
		lo = math.MinInt64
	}
	if hi < amount {
		hi = math.MaxInt64
	}
	return lo, hi
}

func exactMatches(hits []model.Transaction, c Criteria) []model.Transaction {
	want := strings.Join(strings.Fields(c.Description), " ")
	var out []model.Transaction
	for _, h := range hits {
		if h.Amount == *c.Amount && h.OccurredOn.Equal(*c.Date) && strings.EqualFold(h.Description, want) {
			out = append(out, h)
		}
	}
	return out
}

func keepPending(hits []model.Transaction, pending []model.Candidate) []model.Transaction {
	open := make(map[int64]bool, len(pending))
	for _, p := range pending {
		open[p.ID] = true
	}
	var out []model.Transaction
	for _, h := range hits {
		if open[h.ID] {
			out = append(out, h)
		}
	}
	return out
}

func pendingChange(mem *model.Memory) model.Patch {
	if mem.PendingChange == nil {
		return model.Patch{}
	}
	return *mem.PendingChange
}
