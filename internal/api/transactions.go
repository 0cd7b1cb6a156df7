package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/model"
)

// createTransactionRequest accepts "type" as an alias of "kind".
type createTransactionRequest struct {
	TenantID    *int64      `json:"tenant_id"`
	Amount      *int64      `json:"amount"`
	Date        *model.Date `json:"date"`
	Kind        string      `json:"kind"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
}

func (s *Server) createTransaction(c *gin.Context) {
	var req createTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, bindError(err))
		return
	}

	var scope model.Scope
	if req.TenantID != nil {
		scope = model.TenantScope(*req.TenantID)
	}
	if err := scope.Validate(); err != nil {
		s.respondError(c, err)
		return
	}

	txn, err := s.newTransaction(req)
	if err != nil {
		s.respondError(c, err)
		return
	}

	created, err := s.deps.Ledger.CreateTransaction(c.Request.Context(), scope, txn)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, created)
}

func (s *Server) newTransaction(req createTransactionRequest) (model.NewTransaction, error) {
	verr := &common.ValidationError{}

	rawKind := req.Kind
	if rawKind == "" {
		rawKind = req.Type
	}
	kind, err := model.ParseKind(rawKind)
	if err != nil {
		verr.Add("kind", "must be income or expense")
	}
	if req.Amount == nil {
		verr.Add("amount", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return model.NewTransaction{}, err
	}

	date := s.deps.Today()
	if req.Date != nil && !req.Date.IsZero() {
		date = *req.Date
	}
	txn := model.NewTransaction{
		Kind:        kind,
		Amount:      *req.Amount,
		Description: req.Description,
		Category:    req.Category,
		OccurredOn:  date,
	}
	return txn, txn.Validate()
}

func (s *Server) listTransactions(c *gin.Context) {
	scope, err := tenantScope(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	rows, err := s.deps.Ledger.ListTransactions(c.Request.Context(), scope)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if len(rows) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no transactions found"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) deleteTransaction(c *gin.Context) {
	scope, err := tenantScope(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		s.respondError(c, &common.ValidationError{Fields: []common.FieldError{{Field: "id", Message: "must be an integer"}}})
		return
	}
	if id <= 0 {
		s.respondError(c, fmt.Errorf("%w: transaction %d", common.ErrNotFound, id))
		return
	}

	if err := s.deps.Ledger.DeleteTransaction(c.Request.Context(), scope, id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction deleted", "id": id})
}

func (s *Server) balance(c *gin.Context) {
	scope, err := tenantScope(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	b, err := s.deps.Ledger.Balance(c.Request.Context(), scope)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) summary(c *gin.Context) {
	scope, err := tenantScope(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	verr := &common.ValidationError{}
	from := optionalDate(c.Query("from"), "from", verr)
	to := optionalDate(c.Query("to"), "to", verr)
	if err := verr.OrNil(); err != nil {
		s.respondError(c, err)
		return
	}

	totals, err := s.deps.Ledger.CategorySummary(c.Request.Context(), scope, from, to)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if totals == nil {
		totals = []model.CategoryTotal{}
	}
	c.JSON(http.StatusOK, totals)
}

func optionalDate(raw, field string, verr *common.ValidationError) *model.Date {
	if raw == "" {
		return nil
	}
	d, err := model.ParseDate(raw)
	if err != nil {
		verr.Add(field, "must be YYYY-MM-DD")
		return nil
	}
	return &d
}

// bindError turns a JSON binding failure into a validation error.
func bindError(err error) error {
	if errors.Is(err, common.ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: malformed request body: %w", common.ErrValidation, err)
}
