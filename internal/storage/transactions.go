package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
)

const transactionColumns = "id, tenant_id, kind, amount, description, category, occurred_on, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (model.Transaction, error) {
	var txn model.Transaction
	var kind, occurredOn string
	if err := row.Scan(&txn.ID, &txn.TenantID, &kind, &txn.Amount, &txn.Description, &txn.Category, &occurredOn, &txn.CreatedAt); err != nil {
		return model.Transaction{}, err
	}
	date, err := model.ParseDate(occurredOn)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("%w: corrupt occurred_on %q for transaction %d", common.ErrStorage, occurredOn, txn.ID)
	}
	txn.Kind = model.Kind(kind)
	txn.OccurredOn = date
	txn.CreatedAt = txn.CreatedAt.UTC()
	return txn, nil
}

func scanTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	defer func() { _ = rows.Close() }()

	var out []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return out, nil
}

// CreateTransaction inserts one row for the scope's tenant.
func (s *Store) CreateTransaction(ctx context.Context, scope model.Scope, txn model.NewTransaction) (*model.Transaction, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := txn.Validate(); err != nil {
		return nil, err
	}

	var created model.Transaction
	err := s.write(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.insertTransaction(ctx, s.db, scope, txn)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("Created transaction", "tenant_id", scope.TenantID, "id", created.ID)
	return &created, nil
}

// CreateTransactions inserts rows atomically: either all are stored or none.
func (s *Store) CreateTransactions(ctx context.Context, scope model.Scope, txns []model.NewTransaction) ([]model.Transaction, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	for i, txn := range txns {
		if err := txn.Validate(); err != nil {
			return nil, fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	if len(txns) == 0 {
		return nil, nil
	}

	created := make([]model.Transaction, 0, len(txns))
	err := s.write(ctx, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			for _, txn := range txns {
				row, err := s.insertTransaction(ctx, tx, scope, txn)
				if err != nil {
					return err
				}
				created = append(created, row)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) insertTransaction(ctx context.Context, q queryable, scope model.Scope, txn model.NewTransaction) (model.Transaction, error) {
	row := model.Transaction{
		TenantID:    scope.TenantID,
		Kind:        txn.Kind,
		Amount:      txn.Amount,
		Description: NormalizeText(txn.Description),
		Category:    NormalizeText(txn.Category),
		OccurredOn:  txn.OccurredOn,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}

	st := newStatement(insertStatement, "transactions").
		value("kind", string(row.Kind)).
		value("amount", row.Amount).
		value("description", row.Description).
		value("category", row.Category).
		value("occurred_on", row.OccurredOn.String()).
		value("created_at", row.CreatedAt).
		scopeTo(scope).
		returningColumns("id")

	r, err := s.queryRow(ctx, q, st)
	if err != nil {
		return model.Transaction{}, err
	}
	if err := r.Scan(&row.ID); err != nil {
		return model.Transaction{}, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return row, nil
}

// GetTransaction returns one of the tenant's rows or ErrNotFound.
func (s *Store) GetTransaction(ctx context.Context, scope model.Scope, id int64) (*model.Transaction, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}

	var txn model.Transaction
	err := s.read(ctx, func(ctx context.Context) error {
		var err error
		txn, err = s.getTransaction(ctx, s.db, scope, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (s *Store) getTransaction(ctx context.Context, q queryable, scope model.Scope, id int64) (model.Transaction, error) {
	st := newStatement(selectStatement, "transactions").
		selecting(transactionColumns).
		scopeTo(scope).
		whereRow("id", id)
	row, err := s.queryRow(ctx, q, st)
	if err != nil {
		return model.Transaction{}, err
	}
	txn, err := scanTransaction(row)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("transaction %d: %w", id, err)
	}
	return txn, nil
}

// ListTransactions returns every row of the tenant, newest first.
func (s *Store) ListTransactions(ctx context.Context, scope model.Scope) ([]model.Transaction, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var out []model.Transaction
	err := s.read(ctx, func(ctx context.Context) error {
		st := newStatement(selectStatement, "transactions").
			selecting(transactionColumns).
			scopeTo(scope).
			order(orderClause(model.OrderDateDesc))
		rows, err := s.query(ctx, s.db, st)
		if err != nil {
			return err
		}
		out, err = scanTransactions(rows)
		return err
	})
	return out, err
}

// SearchTransactions returns rows matching filter, capped at its effective limit.
// Description and category match case-insensitively on substrings.
func (s *Store) SearchTransactions(ctx context.Context, scope model.Scope, filter model.Filter) ([]model.Transaction, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	var out []model.Transaction
	err := s.read(ctx, func(ctx context.Context) error {
		st := newStatement(selectStatement, "transactions").
			selecting(transactionColumns).
			scopeTo(scope)
		applyFilter(st, filter)
		st.order(orderClause(filter.Order)).limitTo(filter.EffectiveLimit())

		rows, err := s.query(ctx, s.db, st)
		if err != nil {
			return err
		}
		out, err = scanTransactions(rows)
		return err
	})
	return out, err
}

// GroupTransactions aggregates matching rows by filter.GroupBy.
func (s *Store) GroupTransactions(ctx context.Context, scope model.Scope, filter model.Filter) ([]model.Group, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	key, err := groupExpression(filter.GroupBy)
	if err != nil {
		return nil, err
	}

	var out []model.Group
	err = s.read(ctx, func(ctx context.Context) error {
		out = nil
		st := newStatement(selectStatement, "transactions").
			selecting(key+" AS group_key", "COALESCE(SUM(amount), 0)", "COUNT(*)").
			scopeTo(scope)
		applyFilter(st, filter)
		st.group(key).order("group_key").limitTo(filter.EffectiveLimit())

		rows, err := s.query(ctx, s.db, st)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var g model.Group
			if err := rows.Scan(&g.Key, &g.Total, &g.Count); err != nil {
				return fmt.Errorf("failed to scan group: %w", err)
			}
			out = append(out, g)
		}
		return rows.Err()
	})
	return out, err
}

// UpdateTransaction applies patch to one row in a single statement.
// It fails with ErrNotFound when the row does not belong to the tenant.
func (s *Store) UpdateTransaction(ctx context.Context, scope model.Scope, id int64, patch model.Patch) (*model.Transaction, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := validateID(id); err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return nil, fmt.Errorf("%w: nothing to change", common.ErrValidation)
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	st := newStatement(updateStatement, "transactions")
	if patch.Kind != nil {
		st.set("kind", string(*patch.Kind))
	}
	if patch.Amount != nil {
		st.set("amount", *patch.Amount)
	}
	if patch.Description != nil {
		st.set("description", NormalizeText(*patch.Description))
	}
	if patch.Category != nil {
		st.set("category", NormalizeText(*patch.Category))
	}
	if patch.OccurredOn != nil {
		st.set("occurred_on", patch.OccurredOn.String())
	}
	st.scopeTo(scope).whereRow("id", id)

	var updated model.Transaction
	err := s.write(ctx, func(ctx context.Context) error {
		return s.inTx(ctx, func(tx *sql.Tx) error {
			res, err := s.exec(ctx, tx, st)
			if err != nil {
				return err
			}
			if err := requireAffected(res, id); err != nil {
				return err
			}
			updated, err = s.getTransaction(ctx, tx, scope, id)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("Updated transaction", "tenant_id", scope.TenantID, "id", id)
	return &updated, nil
}

// DeleteTransaction removes one row. Deleting another tenant's row is ErrNotFound.
func (s *Store) DeleteTransaction(ctx context.Context, scope model.Scope, id int64) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if err := validateID(id); err != nil {
		return err
	}

	return s.write(ctx, func(ctx context.Context) error {
		st := newStatement(deleteStatement, "transactions").scopeTo(scope).whereRow("id", id)
		res, err := s.exec(ctx, s.db, st)
		if err != nil {
			return err
		}
		return requireAffected(res, id)
	})
}

func requireAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: transaction %d", common.ErrNotFound, id)
	}
	return nil
}

func applyFilter(st *statement, f model.Filter) {
	if f.Description != "" {
		st.whereClause(`LOWER(description) LIKE ? ESCAPE '\'`, likePattern(f.Description))
	}
	if f.Category != "" {
		st.whereClause(`LOWER(category) LIKE ? ESCAPE '\'`, likePattern(f.Category))
	}
	if f.Kind != "" {
		st.whereClause("kind = ?", string(f.Kind))
	}
	if f.Amount != nil {
		st.whereClause("amount = ?", *f.Amount)
	}
	if f.AmountMin != nil {
		st.whereClause("amount >= ?", *f.AmountMin)
	}
	if f.AmountMax != nil {
		st.whereClause("amount <= ?", *f.AmountMax)
	}
	if f.Date != nil {
		st.whereClause("occurred_on = ?", f.Date.String())
	}
	if f.DateFrom != nil {
		st.whereClause("occurred_on >= ?", f.DateFrom.String())
	}
	if f.DateTo != nil {
		st.whereClause("occurred_on <= ?", f.DateTo.String())
	}
}

// orderClause always ends with id so equal keys keep insertion order.
func orderClause(o model.Order) string {
	switch o {
	case model.OrderDateAsc:
		return "occurred_on ASC, id ASC"
	case model.OrderAmountDesc:
		return "amount DESC, id ASC"
	case model.OrderAmountAsc:
		return "amount ASC, id ASC"
	default:
		return "occurred_on DESC, id ASC"
	}
}

func groupExpression(g model.GroupBy) (string, error) {
	switch g {
	case model.GroupByCategory:
		return "category", nil
	case model.GroupByKind:
		return "kind", nil
	case model.GroupByMonth:
		return "SUBSTR(occurred_on, 1, 7)", nil
	default:
		return "", fmt.Errorf("%w: group_by is required", common.ErrValidation)
	}
}
