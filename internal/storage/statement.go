package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
)

type statementKind int

const (
	selectStatement statementKind = iota
	insertStatement
	updateStatement
	deleteStatement
)

func (k statementKind) String() string {
	switch k {
	case selectStatement:
		return "SELECT"
	case insertStatement:
		return "INSERT"
	case updateStatement:
		return "UPDATE"
	case deleteStatement:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

type predicate struct {
	sql   string
	args  []any
	scope bool
	row   bool
}

type assignment struct {
	value  any
	column string
}

// statement renders one SQL statement and refuses to do so unless it is
// scoped to a tenant. UPDATE and DELETE additionally need a row predicate.
type statement struct {
	err       error
	table     string
	groupBy   string
	orderBy   string
	returning string
	columns   []string
	values    []any
	sets      []assignment
	where     []predicate
	kind      statementKind
	limit     int
}

func newStatement(kind statementKind, table string) *statement {
	return &statement{kind: kind, table: table}
}

// scopeTo adds the tenant predicate (or, for INSERT, the tenant column).
func (s *statement) scopeTo(scope model.Scope) *statement {
	if err := scope.Validate(); err != nil {
		s.err = err
		return s
	}
	if s.kind == insertStatement {
		s.columns = append([]string{"tenant_id"}, s.columns...)
		s.values = append([]any{scope.TenantID}, s.values...)
		return s
	}
	s.where = append(s.where, predicate{sql: "tenant_id = ?", args: []any{scope.TenantID}, scope: true})
	return s
}

func (s *statement) selecting(columns ...string) *statement {
	s.columns = append(s.columns, columns...)
	return s
}

func (s *statement) value(column string, v any) *statement {
	s.columns = append(s.columns, column)
	s.values = append(s.values, v)
	return s
}

func (s *statement) set(column string, v any) *statement {
	s.sets = append(s.sets, assignment{column: column, value: v})
	return s
}

func (s *statement) whereClause(sql string, args ...any) *statement {
	s.where = append(s.where, predicate{sql: sql, args: args})
	return s
}

// whereRow pins the statement to a single row.
func (s *statement) whereRow(column string, v any) *statement {
	s.where = append(s.where, predicate{sql: column + " = ?", args: []any{v}, row: true})
	return s
}

func (s *statement) group(expr string) *statement {
	s.groupBy = expr
	return s
}

func (s *statement) order(expr string) *statement {
	s.orderBy = expr
	return s
}

func (s *statement) limitTo(n int) *statement {
	s.limit = n
	return s
}

func (s *statement) returningColumns(cols string) *statement {
	s.returning = cols
	return s
}

func (s *statement) hasScope() bool {
	if s.kind == insertStatement {
		return len(s.columns) > 0 && s.columns[0] == "tenant_id"
	}
	for _, p := range s.where {
		if p.scope {
			return true
		}
	}
	return false
}

func (s *statement) hasRow() bool {
	for _, p := range s.where {
		if p.row {
			return true
		}
	}
	return false
}

// check enforces the scoping rules without rendering.
func (s *statement) check() error {
	if s.err != nil {
		return s.err
	}
	if !s.hasScope() {
		return fmt.Errorf("%w: %s on %s has no tenant predicate", common.ErrScopeViolation, s.kind, s.table)
	}
	switch s.kind {
	case updateStatement:
		if !s.hasRow() {
			return fmt.Errorf("%w: UPDATE on %s has no row predicate", common.ErrScopeViolation, s.table)
		}
		if len(s.sets) == 0 {
			return fmt.Errorf("%w: UPDATE on %s sets nothing", common.ErrValidation, s.table)
		}
	case deleteStatement:
		if !s.hasRow() {
			return fmt.Errorf("%w: DELETE on %s has no row predicate", common.ErrScopeViolation, s.table)
		}
	case insertStatement:
		if len(s.columns) != len(s.values) {
			return fmt.Errorf("%w: INSERT on %s has %d columns and %d values", common.ErrValidation, s.table, len(s.columns), len(s.values))
		}
	}
	return nil
}

// build renders the statement for dialect d.
func (s *statement) build(d dialect) (string, []any, error) {
	if err := s.check(); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	var args []any

	switch s.kind {
	case selectStatement:
		cols := "*"
		if len(s.columns) > 0 {
			cols = strings.Join(s.columns, ", ")
		}
		fmt.Fprintf(&b, "SELECT %s FROM %s", cols, s.table)
	case insertStatement:
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(s.values)), ", ")
		fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)", s.table, strings.Join(s.columns, ", "), placeholders)
		args = append(args, s.values...)
	case updateStatement:
		fmt.Fprintf(&b, "UPDATE %s SET ", s.table)
		for i, a := range s.sets {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(a.column + " = ?")
			args = append(args, a.value)
		}
	case deleteStatement:
		fmt.Fprintf(&b, "DELETE FROM %s", s.table)
	}

	if s.kind != insertStatement && len(s.where) > 0 {
		b.WriteString(" WHERE ")
		for i, p := range s.where {
			if i > 0 {
				b.WriteString(" AND ")
			}
			b.WriteString("(" + p.sql + ")")
			args = append(args, p.args...)
		}
	}
	if s.groupBy != "" {
		b.WriteString(" GROUP BY " + s.groupBy)
	}
	if s.orderBy != "" {
		b.WriteString(" ORDER BY " + s.orderBy)
	}
	if s.limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(s.limit))
	}
	if s.returning != "" {
		b.WriteString(" RETURNING " + s.returning)
	}

	return d.rebind(b.String()), args, nil
}
