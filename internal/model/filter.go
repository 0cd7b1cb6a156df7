package model

import (
	"fmt"

	"github.com/Veraticus/dompet/internal/common"
)

// Order selects how search results are sorted.
type Order string

// Supported orders. Ties are broken by insertion order.
const (
	OrderDateDesc   Order = "date_desc"
	OrderDateAsc    Order = "date_asc"
	OrderAmountDesc Order = "amount_desc"
	OrderAmountAsc  Order = "amount_asc"
)

// GroupBy selects the aggregation key for grouped reads.
type GroupBy string

// Supported groupings.
const (
	GroupByCategory GroupBy = "category"
	GroupByKind     GroupBy = "kind"
	GroupByMonth    GroupBy = "month"
)

// MaxLimit caps how many rows a single read may return.
const MaxLimit = 200

// Filter narrows a ledger read. Zero values mean "no constraint".
type Filter struct {
	AmountMin   *int64
	AmountMax   *int64
	Amount      *int64
	Date        *Date
	DateFrom    *Date
	DateTo      *Date
	Kind        Kind
	Description string
	Category    string
	Order       Order
	GroupBy     GroupBy
	Limit       int
}

// Validate rejects contradictory or unknown options.
func (f Filter) Validate() error {
	verr := &common.ValidationError{}
	if f.Kind != "" && !f.Kind.Valid() {
		verr.Add("kind", "must be income or expense")
	}
	switch f.Order {
	case "", OrderDateDesc, OrderDateAsc, OrderAmountDesc, OrderAmountAsc:
	default:
		verr.Add("order", fmt.Sprintf("unknown order %q", f.Order))
	}
	switch f.GroupBy {
	case "", GroupByCategory, GroupByKind, GroupByMonth:
	default:
		verr.Add("group_by", fmt.Sprintf("unknown grouping %q", f.GroupBy))
	}
	if f.Limit < 0 {
		verr.Add("limit", "must not be negative")
	}
	if f.AmountMin != nil && f.AmountMax != nil && *f.AmountMin > *f.AmountMax {
		verr.Add("amount", "minimum is greater than maximum")
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateTo.Before(*f.DateFrom) {
		verr.Add("date", "end date is before start date")
	}
	return verr.OrNil()
}

// EffectiveLimit clamps the limit into (0, MaxLimit].
func (f Filter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > MaxLimit {
		return MaxLimit
	}
	return f.Limit
}

// Group is one bucket of a grouped read.
type Group struct {
	Key   string `json:"key"`
	Total int64  `json:"total"`
	Count int    `json:"count"`
}
