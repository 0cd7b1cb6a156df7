package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
	"github.com/Veraticus/dompet/internal/storage"
	"github.com/Veraticus/dompet/internal/testutil"
)

func TestStore_Balance(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	empty, err := db.Store.Balance(ctx, model.TenantScope(1))
	require.NoError(t, err)
	assert.Equal(t, model.Balance{}, empty)

	testutil.NewLedgerBuilder(t).
		Income(100, "Salary", "Gaji").
		Expense(40, "Groceries", "Food").
		Build(ctx, db.Store, model.TenantScope(1))
	testutil.NewLedgerBuilder(t).
		Income(7, "Other", "Other").
		Build(ctx, db.Store, model.TenantScope(2))

	got, err := db.Store.Balance(ctx, model.TenantScope(1))
	require.NoError(t, err)
	assert.Equal(t, model.Balance{Balance: 60, TotalIncome: 100, TotalExpense: 40}, got)

	_, err = db.Store.Balance(ctx, model.TenantScope(0))
	require.ErrorIs(t, err, common.ErrScopeViolation)
}

func TestStore_CategorySummary(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	scope := model.TenantScope(1)

	testutil.NewLedgerBuilder(t).
		On(model.NewDate(2025, 5, 1)).Income(5000, "Salary", "Gaji").
		On(model.NewDate(2025, 5, 2)).Expense(200, "Lunch", "Food").
		On(model.NewDate(2025, 5, 4)).Expense(300, "Dinner", "Food").
		On(model.NewDate(2025, 5, 5)).Expense(1200, "Rent", "Housing").
		On(model.NewDate(2025, 6, 1)).Expense(999, "Later", "Food").
		Build(ctx, db.Store, scope)

	from, to := model.NewDate(2025, 5, 1), model.NewDate(2025, 5, 31)
	got, err := db.Store.CategorySummary(ctx, scope, &from, &to)
	require.NoError(t, err)
	assert.Equal(t, []model.CategoryTotal{
		{Category: "Gaji", Kind: model.KindIncome, Total: 5000, Count: 1},
		{Category: "Housing", Kind: model.KindExpense, Total: 1200, Count: 1},
		{Category: "Food", Kind: model.KindExpense, Total: 500, Count: 2},
	}, got)

	all, err := db.Store.CategorySummary(ctx, scope, nil, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = db.Store.CategorySummary(ctx, scope, &to, &from)
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestSampleTransactions(t *testing.T) {
	rows := storage.SampleTransactions(model.NewDate(2025, 2, 14), 1000)
	require.NotEmpty(t, rows)
	for _, r := range rows {
		require.NoError(t, r.Validate())
		assert.Equal(t, 2025, r.OccurredOn.Time().Year())
		assert.Equal(t, 2, int(r.OccurredOn.Time().Month()))
	}
	assert.Equal(t, int64(5000000), rows[0].Amount)
}
