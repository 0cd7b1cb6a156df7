package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/dompet/internal/common"
)

// Kind distinguishes money coming in from money going out.
type Kind string

// Transaction kinds.
const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

// ParseKind accepts "income" or "expense" in any case.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindIncome:
		return KindIncome, nil
	case KindExpense:
		return KindExpense, nil
	default:
		return "", fmt.Errorf("%w: kind must be income or expense, got %q", common.ErrValidation, s)
	}
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindIncome || k == KindExpense
}

// Transaction is a single ledger row owned by one tenant.
// ID is an internal handle and is never shown to end users.
type Transaction struct {
	CreatedAt   time.Time `json:"created_at"`
	OccurredOn  Date      `json:"date"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Kind        Kind      `json:"kind"`
	ID          int64     `json:"id"`
	TenantID    int64     `json:"tenant_id"`
	Amount      int64     `json:"amount"`
}

// NewTransaction holds the caller-supplied fields of a row to insert.
type NewTransaction struct {
	OccurredOn  Date
	Description string
	Category    string
	Kind        Kind
	Amount      int64
}

// Validate checks the fields the store requires.
func (n NewTransaction) Validate() error {
	verr := &common.ValidationError{}
	if !n.Kind.Valid() {
		verr.Add("kind", "must be income or expense")
	}
	if strings.TrimSpace(n.Description) == "" {
		verr.Add("description", "must not be empty")
	}
	if strings.TrimSpace(n.Category) == "" {
		verr.Add("category", "must not be empty")
	}
	if n.OccurredOn.IsZero() {
		verr.Add("date", "is required")
	}
	return verr.OrNil()
}

// Patch carries optional replacement values for an existing row.
type Patch struct {
	Kind        *Kind   `json:"kind,omitempty"`
	Amount      *int64  `json:"amount,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
	OccurredOn  *Date   `json:"date,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Kind == nil && p.Amount == nil && p.Description == nil && p.Category == nil && p.OccurredOn == nil
}

// Merge returns p with any field set in other taking precedence.
func (p Patch) Merge(other Patch) Patch {
	if other.Kind != nil {
		p.Kind = other.Kind
	}
	if other.Amount != nil {
		p.Amount = other.Amount
	}
	if other.Description != nil {
		p.Description = other.Description
	}
	if other.Category != nil {
		p.Category = other.Category
	}
	if other.OccurredOn != nil {
		p.OccurredOn = other.OccurredOn
	}
	return p
}

// Validate checks the values a patch would write.
func (p Patch) Validate() error {
	verr := &common.ValidationError{}
	if p.Kind != nil && !p.Kind.Valid() {
		verr.Add("kind", "must be income or expense")
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		verr.Add("description", "must not be empty")
	}
	if p.Category != nil && strings.TrimSpace(*p.Category) == "" {
		verr.Add("category", "must not be empty")
	}
	if p.OccurredOn != nil && p.OccurredOn.IsZero() {
		verr.Add("date", "must be a valid date")
	}
	return verr.OrNil()
}

// Apply returns a copy of t with the patch applied.
func (p Patch) Apply(t Transaction) Transaction {
	if p.Kind != nil {
		t.Kind = *p.Kind
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.OccurredOn != nil {
		t.OccurredOn = *p.OccurredOn
	}
	return t
}

// Balance is the derived net position of a tenant.
type Balance struct {
	Balance      int64 `json:"balance"`
	TotalIncome  int64 `json:"total_income"`
	TotalExpense int64 `json:"total_expense"`
}

// CategoryTotal is one row of a per-category summary.
type CategoryTotal struct {
	Category string `json:"category"`
	Kind     Kind   `json:"kind"`
	Total    int64  `json:"total"`
	Count    int    `json:"count"`
}
