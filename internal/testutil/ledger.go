package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Veraticus/dompet/internal/model"
	"github.com/Veraticus/dompet/internal/storage"
)

// DefaultDate is the occurred_on used by builder rows without an explicit date.
var DefaultDate = model.NewDate(2025, 5, 1)

// LedgerBuilder accumulates rows to insert for a single tenant.
type LedgerBuilder struct {
	t    *testing.T
	date model.Date
	rows []model.NewTransaction
}

// NewLedgerBuilder starts an empty builder dated DefaultDate.
func NewLedgerBuilder(t *testing.T) *LedgerBuilder {
	t.Helper()
	return &LedgerBuilder{t: t, date: DefaultDate}
}

// On sets the date used by rows added after it.
func (b *LedgerBuilder) On(date model.Date) *LedgerBuilder {
	b.date = date
	return b
}

// Income adds an income row.
func (b *LedgerBuilder) Income(amount int64, description, category string) *LedgerBuilder {
	return b.add(model.KindIncome, amount, description, category)
}

// Expense adds an expense row.
func (b *LedgerBuilder) Expense(amount int64, description, category string) *LedgerBuilder {
	return b.add(model.KindExpense, amount, description, category)
}

func (b *LedgerBuilder) add(kind model.Kind, amount int64, description, category string) *LedgerBuilder {
	b.rows = append(b.rows, model.NewTransaction{
		Kind:        kind,
		Amount:      amount,
		Description: description,
		Category:    category,
		OccurredOn:  b.date,
	})
	return b
}

// Rows returns the accumulated rows without storing them.
func (b *LedgerBuilder) Rows() []model.NewTransaction {
	return append([]model.NewTransaction(nil), b.rows...)
}

// Build inserts the rows in order and returns them as stored.
func (b *LedgerBuilder) Build(ctx context.Context, store *storage.Store, scope model.Scope) []model.Transaction {
	b.t.Helper()
	created, err := store.CreateTransactions(ctx, scope, b.rows)
	require.NoError(b.t, err, "failed to build ledger")
	return created
}
