// Package service defines the interfaces for all application services.
package service

import (
	"context"

	"github.com/Veraticus/dompet/internal/model"
)

// Ledger defines the contract for the tenant-scoped transaction store.
// Every method fails with common.ErrScopeViolation when scope has no tenant.
type Ledger interface {
	CreateTransaction(ctx context.Context, scope model.Scope, txn model.NewTransaction) (*model.Transaction, error)
	CreateTransactions(ctx context.Context, scope model.Scope, txns []model.NewTransaction) ([]model.Transaction, error)
	GetTransaction(ctx context.Context, scope model.Scope, id int64) (*model.Transaction, error)
	ListTransactions(ctx context.Context, scope model.Scope) ([]model.Transaction, error)
	SearchTransactions(ctx context.Context, scope model.Scope, filter model.Filter) ([]model.Transaction, error)
	GroupTransactions(ctx context.Context, scope model.Scope, filter model.Filter) ([]model.Group, error)
	UpdateTransaction(ctx context.Context, scope model.Scope, id int64, patch model.Patch) (*model.Transaction, error)
	DeleteTransaction(ctx context.Context, scope model.Scope, id int64) error

	// Aggregates
	Balance(ctx context.Context, scope model.Scope) (model.Balance, error)
	CategorySummary(ctx context.Context, scope model.Scope, from, to *model.Date) ([]model.CategoryTotal, error)
}

// TranscriptStore persists conversation transcripts per tenant.
type TranscriptStore interface {
	EnsureSession(ctx context.Context, scope model.Scope, appName string) (*model.Session, error)
	GetSession(ctx context.Context, scope model.Scope) (*model.Session, error)
	ListSessions(ctx context.Context, tenantID int64) ([]model.Session, error)
	AppendEvent(ctx context.Context, scope model.Scope, event *model.Event) error
	ListEvents(ctx context.Context, scope model.Scope) ([]model.Event, error)
}

// SessionMemory holds the volatile short-term memory of each conversation.
// A missing entry reads as an empty Memory, never as an error.
type SessionMemory interface {
	Get(ctx context.Context, scope model.Scope) (model.Memory, error)
	Put(ctx context.Context, scope model.Scope, memory model.Memory) error
	Delete(ctx context.Context, scope model.Scope) error
}
