package storage

import (
	"context"
	"fmt"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
)

// Balance computes income minus expense for the tenant. No rows means all zeros.
func (s *Store) Balance(ctx context.Context, scope model.Scope) (model.Balance, error) {
	if err := scope.Validate(); err != nil {
		return model.Balance{}, err
	}

	var b model.Balance
	err := s.read(ctx, func(ctx context.Context) error {
		st := newStatement(selectStatement, "transactions").
			selecting(
				"COALESCE(SUM(CASE WHEN kind = 'income' THEN amount ELSE 0 END), 0)",
				"COALESCE(SUM(CASE WHEN kind = 'expense' THEN amount ELSE 0 END), 0)",
			).
			scopeTo(scope)
		row, err := s.queryRow(ctx, s.db, st)
		if err != nil {
			return err
		}
		if err := row.Scan(&b.TotalIncome, &b.TotalExpense); err != nil {
			return fmt.Errorf("failed to compute balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Balance{}, err
	}

	b.Balance = b.TotalIncome - b.TotalExpense
	return b, nil
}

// CategorySummary totals the tenant's rows per category and kind, optionally
// restricted to [from, to]. Expense categories come after income ones,
// largest totals first.
func (s *Store) CategorySummary(ctx context.Context, scope model.Scope, from, to *model.Date) ([]model.CategoryTotal, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, fmt.Errorf("%w: end date is before start date", common.ErrValidation)
	}

	var out []model.CategoryTotal
	err := s.read(ctx, func(ctx context.Context) error {
		out = nil
		st := newStatement(selectStatement, "transactions").
			selecting("category", "kind", "COALESCE(SUM(amount), 0) AS total", "COUNT(*)").
			scopeTo(scope)
		applyFilter(st, model.Filter{DateFrom: from, DateTo: to})
		st.group("category, kind").order("kind DESC, total DESC, category ASC")

		rows, err := s.query(ctx, s.db, st)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var ct model.CategoryTotal
			var kind string
			if err := rows.Scan(&ct.Category, &kind, &ct.Total, &ct.Count); err != nil {
				return fmt.Errorf("failed to scan category total: %w", err)
			}
			ct.Kind = model.Kind(kind)
			out = append(out, ct)
		}
		return rows.Err()
	})
	return out, err
}
