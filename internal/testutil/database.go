// Package testutil provides test utilities for the dompet project: an
// isolated in-memory ledger per test and a fluent builder for seed rows.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Veraticus/dompet/internal/model"
	"github.com/Veraticus/dompet/internal/storage"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Store *storage.Store
	t     *testing.T
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup    func(context.Context, *storage.Store) error
	QueryTimeout   time.Duration
	SkipMigrations bool
}

// SetupTestDB creates a new migrated in-memory SQLite database.
// It is closed automatically when the test ends.
//
// Example:
//
//	db := testutil.SetupTestDB(t)
//	rows := testutil.NewLedgerBuilder(t).
//		Income(100, "Salary", "Gaji").
//		Expense(40, "Groceries", "Food").
//		Build(ctx, db.Store, model.TenantScope(1))
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{})
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.Open(storage.DriverSQLite, ":memory:", opts.QueryTimeout)
	require.NoError(t, err, "failed to create test database")

	ctx := context.Background()
	if !opts.SkipMigrations {
		require.NoError(t, store.Migrate(ctx), "failed to run migrations")
	}

	if opts.CustomSetup != nil {
		require.NoError(t, opts.CustomSetup(ctx, store), "custom setup failed")
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Store: store, t: t}
}

// MustCreate inserts txn for tenantID or fails the test.
func (db *TestDB) MustCreate(tenantID int64, txn model.NewTransaction) *model.Transaction {
	db.t.Helper()
	created, err := db.Store.CreateTransaction(context.Background(), model.TenantScope(tenantID), txn)
	require.NoError(db.t, err)
	return created
}

// MustList returns every row of tenantID or fails the test.
func (db *TestDB) MustList(tenantID int64) []model.Transaction {
	db.t.Helper()
	rows, err := db.Store.ListTransactions(context.Background(), model.TenantScope(tenantID))
	require.NoError(db.t, err)
	return rows
}
